package httputils

import (
	"net/http"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
)

type rateLimitedRoundTripper struct {
	rateLimiter ratelimit.Limiter
	proxied     http.RoundTripper
}

func (rlrt rateLimitedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rlrt.rateLimiter.Take()
	return rlrt.proxied.RoundTrip(req)
}

// NewRetryableHttpClient returns a standard http client that retries
// transient failures and, when rl is given, throttles request dispatch.
func NewRetryableHttpClient(timeout time.Duration, rl ratelimit.Limiter, log *logrus.Entry) *http.Client {
	retryableClient := retryablehttp.NewClient()
	retryableClient.RetryMax = 5
	retryableClient.Logger = log

	httpClient := retryableClient.StandardClient()
	httpClient.Timeout = timeout

	if rl != nil {
		httpClient.Transport = rateLimitedRoundTripper{
			rateLimiter: rl,
			proxied:     httpClient.Transport,
		}
	}

	return httpClient
}
