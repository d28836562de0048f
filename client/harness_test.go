package client

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"supportchat/config"
	"supportchat/server"
	"supportchat/tools/security"
)

// startBackend runs the reference backend inside httptest and returns a
// config pointed at it, with timings tightened for tests.
func startBackend(t *testing.T) (*server.Server, *config.Config) {
	t.Helper()

	cfg := config.Default()
	srv := server.NewServer(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cfg.BaseURL = ts.URL
	cfg.RealtimeURL = "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	tightenTimings(cfg)
	return srv, cfg
}

func tightenTimings(cfg *config.Config) {
	cfg.ReconnectAttempts = 2
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.ReconnectDelayMax = 50 * time.Millisecond
	cfg.ConnectTimeout = 2 * time.Second
	cfg.PollInterval = 50 * time.Millisecond
	cfg.PollRequestTimeout = time.Second
	cfg.PollRetryCount = 0
	cfg.FailureThreshold = 2
	cfg.TypingTimeout = 100 * time.Millisecond
}

func mintToken(t *testing.T, cfg *config.Config, userID, role string) string {
	t.Helper()
	token, _, err := security.Generate(
		security.Options{Secret: []byte(cfg.JWTSecret)}, userID, role)
	require.NoError(t, err)
	return token
}

// drainUntil pulls events off a channel until the predicate matches or the
// deadline passes.
func drainUntil(t *testing.T, events <-chan Event, timeout time.Duration, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event did not arrive within %v", timeout)
			return Event{}
		}
	}
}
