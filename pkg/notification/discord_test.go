package notification

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmerge/fmerge/pkg/config"
	"github.com/fmerge/fmerge/pkg/logger"
)

// webhookRecorder captures webhook posts for inspection
type webhookRecorder struct {
	mu     sync.Mutex
	bodies [][]byte
	status int
}

func (w *webhookRecorder) handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		w.mu.Lock()
		w.bodies = append(w.bodies, body)
		w.mu.Unlock()

		status := w.status
		if status == 0 {
			status = http.StatusNoContent
		}
		rw.WriteHeader(status)
	}
}

func (w *webhookRecorder) calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.bodies)
}

func (w *webhookRecorder) message(t *testing.T, i int) DiscordMessage {
	t.Helper()

	w.mu.Lock()
	defer w.mu.Unlock()

	var msg DiscordMessage
	require.NoError(t, json.Unmarshal(w.bodies[i], &msg))
	return msg
}

func newTestSender(cfg config.NotificationsConfig) Sender {
	return NewDiscordSender(logger.GetLogger("test"), cfg)
}

func TestDiscordSender_CanSend(t *testing.T) {
	withHook := newTestSender(config.NotificationsConfig{
		Service: config.NotificationService{Discord: "https://discord.test/webhook"},
	})
	assert.True(t, withHook.CanSend())
	assert.Equal(t, "discord", withHook.Name())

	without := newTestSender(config.NotificationsConfig{})
	assert.False(t, without.CanSend())
}

func TestDiscordSender_Send_SkipsEmptyRun(t *testing.T) {
	rec := &webhookRecorder{}
	server := httptest.NewServer(rec.handler())
	defer server.Close()

	sender := newTestSender(config.NotificationsConfig{
		SkipEmptyRun: true,
		Service:      config.NotificationService{Discord: server.URL},
	})

	require.NoError(t, sender.Send("Merge", "nothing to do", time.Second, nil, false))
	assert.Equal(t, 0, rec.calls())
}

func TestDiscordSender_Send_Summary(t *testing.T) {
	rec := &webhookRecorder{}
	server := httptest.NewServer(rec.handler())
	defer server.Close()

	sender := newTestSender(config.NotificationsConfig{
		Service: config.NotificationService{Discord: server.URL},
	})

	fields := []Field{
		sender.BuildField(ActionMerge, BuildOptions{Base: "/data/a.txt", Size: 2048, Relinked: 2, Reclaimed: 4096}),
		sender.BuildField(ActionMerge, BuildOptions{Base: "/data/b.txt", Size: 1024, Relinked: 1, Reclaimed: 1024}),
	}

	err := sender.Send("Merge", "Merged **3** duplicate files", 90*time.Second, fields, false)
	require.NoError(t, err)

	require.Equal(t, 1, rec.calls())
	msg := rec.message(t, 0)

	// without detailed mode everything collapses into one summary embed
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, "Merge", msg.Embeds[0].Title)
	assert.Equal(t, "Merged **3** duplicate files", msg.Embeds[0].Description)
	assert.Contains(t, msg.Embeds[0].Footer.Text, "Started: 1m30s ago")
}

func TestDiscordSender_Send_Detailed(t *testing.T) {
	rec := &webhookRecorder{}
	server := httptest.NewServer(rec.handler())
	defer server.Close()

	sender := newTestSender(config.NotificationsConfig{
		Detailed: true,
		Service:  config.NotificationService{Discord: server.URL},
	})

	fields := []Field{
		sender.BuildField(ActionMerge, BuildOptions{Base: "/data/a.txt", Size: 2048, Relinked: 2, Reclaimed: 4096}),
		sender.BuildField(ActionBatch, BuildOptions{Directory: "17", Files: 120, Merged: 30, Reclaimed: 1 << 20}),
	}

	err := sender.Send("Batch", "run summary", time.Second, fields, false)
	require.NoError(t, err)

	require.Equal(t, 1, rec.calls())
	msg := rec.message(t, 0)

	// one embed per field plus the trailing summary embed
	require.Len(t, msg.Embeds, 3)
	assert.Contains(t, msg.Embeds[0].Description, "/data/a.txt")
	assert.NotEmpty(t, msg.Embeds[0].Fields)
	assert.Contains(t, msg.Embeds[1].Description, "17")
	assert.Equal(t, "Batch - Summary", msg.Embeds[2].Title)
}

func TestDiscordSender_Send_DryRun(t *testing.T) {
	rec := &webhookRecorder{}
	server := httptest.NewServer(rec.handler())
	defer server.Close()

	sender := newTestSender(config.NotificationsConfig{
		Service: config.NotificationService{Discord: server.URL},
	})

	fields := []Field{
		sender.BuildField(ActionMerge, BuildOptions{Base: "/data/a.txt", Size: 10, Relinked: 1, Reclaimed: 10}),
	}

	require.NoError(t, sender.Send("Merge", "dry", time.Second, fields, true))

	require.Equal(t, 1, rec.calls())
	msg := rec.message(t, 0)
	require.Len(t, msg.Embeds, 1)
	assert.True(t, strings.HasSuffix(msg.Embeds[0].Title, "(Dry Run)"), "title %q", msg.Embeds[0].Title)
}

func TestDiscordSender_Send_UnexpectedStatus(t *testing.T) {
	rec := &webhookRecorder{status: http.StatusBadRequest}
	server := httptest.NewServer(rec.handler())
	defer server.Close()

	sender := newTestSender(config.NotificationsConfig{
		Service: config.NotificationService{Discord: server.URL},
	})

	fields := []Field{
		sender.BuildField(ActionMerge, BuildOptions{Base: "/data/a.txt", Size: 10, Relinked: 1, Reclaimed: 10}),
	}

	err := sender.Send("Merge", "bad hook", time.Second, fields, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}

func TestDiscordSender_BuildField_Merge(t *testing.T) {
	sender := newTestSender(config.NotificationsConfig{})

	field := sender.BuildField(ActionMerge, BuildOptions{
		Base:      "/data/movie.mkv",
		Size:      10240,
		Relinked:  3,
		Reclaimed: 30720,
	})

	assert.Equal(t, "/data/movie.mkv (10 KiB)", field.Name)

	var inline []DiscordEmbedsField
	require.NoError(t, json.Unmarshal([]byte(field.Value), &inline))

	names := make([]string, 0, len(inline))
	for _, f := range inline {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Relinked", "Reclaimed"}, names)

	// failures only show up when there are any
	field = sender.BuildField(ActionMerge, BuildOptions{Base: "/data/movie.mkv", Relinked: 1, Failed: 2})
	require.NoError(t, json.Unmarshal([]byte(field.Value), &inline))

	names = names[:0]
	for _, f := range inline {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Relinked", "Failed", "Reclaimed"}, names)
}

func TestDiscordSender_BuildField_Segment(t *testing.T) {
	sender := newTestSender(config.NotificationsConfig{})

	field := sender.BuildField(ActionBatch, BuildOptions{
		Directory: "42",
		Files:     500,
		Merged:    80,
		Reclaimed: 1 << 30,
	})

	assert.Equal(t, "42", field.Name)

	var inline []DiscordEmbedsField
	require.NoError(t, json.Unmarshal([]byte(field.Value), &inline))
	require.Len(t, inline, 3)
	assert.Equal(t, "Files", inline[0].Name)
	assert.Equal(t, "500", inline[0].Value)
	assert.Equal(t, "Merged", inline[1].Name)
	assert.Equal(t, "Reclaimed", inline[2].Name)
	assert.Equal(t, "1.0 GiB", inline[2].Value)
}
