package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportchat/config"
	"supportchat/model"
)

// flakyBackend serves the customer messages endpoint successfully until
// failAfter fetches have happened, then answers 500 forever.
type flakyBackend struct {
	fetches   atomic.Int64
	sends     atomic.Int64
	failAfter int64

	mu   sync.Mutex
	msgs []model.ChatMessage
}

func (f *flakyBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/sessions/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/messages"):
			n := f.fetches.Add(1)
			if f.failAfter > 0 && n > f.failAfter {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			f.mu.Lock()
			out := make([]model.ChatMessage, len(f.msgs))
			copy(out, f.msgs)
			f.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(out)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/messages"):
			f.sends.Add(1)
			msg := model.ChatMessage{ID: "m_new", SessionID: "s1", Sender: model.RoleUser, CreatedAt: time.Now()}
			f.mu.Lock()
			f.msgs = append(f.msgs, msg)
			f.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(msg)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	return mux
}

func pollingFixture(t *testing.T, f *flakyBackend) (*PollingChannel, *config.Config) {
	t.Helper()
	ts := httptest.NewServer(f.handler())
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.BaseURL = ts.URL
	tightenTimings(cfg)
	return NewPollingChannel(cfg, "tok", false, NewSignalHub()), cfg
}

func TestPollingNeverReportsDisconnectedAfterFirstSuccess(t *testing.T) {
	f := &flakyBackend{failAfter: 1, msgs: []model.ChatMessage{
		{ID: "m1", SessionID: "s1", CreatedAt: time.Now()},
	}}
	p, _ := pollingFixture(t, f)
	defer p.Close()

	p.Open(context.Background(), "s1")

	require.Eventually(t, func() bool { return p.Status() == StatusConnected },
		time.Second, 10*time.Millisecond)

	// Wait until fetches started failing, then confirm status held.
	require.Eventually(t, func() bool { return f.fetches.Load() > 2 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusConnected, p.Status(),
		"a request failure must not demote the fallback of last resort")
	assert.Error(t, p.LastError())
}

func TestPollingEmitsBatches(t *testing.T) {
	f := &flakyBackend{msgs: []model.ChatMessage{
		{ID: "m1", SessionID: "s1", CreatedAt: time.Now()},
		{ID: "m2", SessionID: "s1", CreatedAt: time.Now().Add(time.Second)},
	}}
	p, _ := pollingFixture(t, f)
	defer p.Close()

	p.Open(context.Background(), "s1")
	ev := drainUntil(t, p.Events(), 2*time.Second, func(ev Event) bool { return ev.Kind == EventBatch })
	assert.Len(t, ev.Batch, 2)
}

func TestPollingSendTriggersImmediateRefetch(t *testing.T) {
	f := &flakyBackend{msgs: nil}
	p, _ := pollingFixture(t, f)
	defer p.Close()

	p.Open(context.Background(), "s1")
	require.Eventually(t, func() bool { return p.Status() == StatusConnected },
		time.Second, 10*time.Millisecond)

	before := f.fetches.Load()
	p.Send("s1", "hola")

	assert.EqualValues(t, 1, f.sends.Load())
	assert.GreaterOrEqual(t, f.fetches.Load(), before+1,
		"send must refetch instead of inserting optimistically")
}

func TestPollingSetTypingIsNoOp(t *testing.T) {
	f := &flakyBackend{}
	p, _ := pollingFixture(t, f)
	defer p.Close()

	// Must not panic or issue any request; there is no channel to carry it.
	p.SetTyping("s1", true)
	assert.Zero(t, f.sends.Load())
}
