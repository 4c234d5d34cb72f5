package regex

import (
	"fmt"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
)

const matchTimeout = 5 * time.Second

type Pattern struct {
	Expression *regexp2.Regexp
}

var (
	mu       sync.RWMutex
	compiled = make(map[string]*Pattern)
)

// Compile returns a compiled pattern, serving repeat lookups from a
// process-wide cache.
func Compile(pattern string) (*Pattern, error) {
	mu.RLock()
	p, ok := compiled[pattern]
	mu.RUnlock()
	if ok {
		return p, nil
	}

	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	re.MatchTimeout = matchTimeout

	p = &Pattern{Expression: re}

	mu.Lock()
	compiled[pattern] = p
	mu.Unlock()

	return p, nil
}

func Check(subject string, p *Pattern) (bool, error) {
	return p.Expression.MatchString(subject)
}

// CheckAny reports whether subject matches at least one of the patterns.
func CheckAny(subject string, patterns []*Pattern) (bool, error) {
	for _, p := range patterns {
		match, err := Check(subject, p)
		if err != nil {
			return false, err
		}
		if match {
			return true, nil
		}
	}

	return false, nil
}
