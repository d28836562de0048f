package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportchat/model"
)

func TestBinderDeliversOverRealtime(t *testing.T) {
	srv, cfg := startBackend(t)
	sess := srv.Store().CreateSession("customer-1")

	b := NewBinder(cfg, mintToken(t, cfg, "customer-1", "user"), false, NewSignalHub())
	defer b.Close()
	b.Bind(context.Background(), sess.ID)

	require.Eventually(t, func() bool { return b.Status() == StatusConnected },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, ModeRealtime, b.Mode())

	b.Send("hola")
	require.Eventually(t, func() bool { return len(b.Messages()) == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "hola", b.Messages()[0].Body)

	require.Eventually(t, func() bool { return b.Session() != nil },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, sess.ID, b.Session().ID)
}

func TestBinderFallsBackToPollingWhenRealtimeUnreachable(t *testing.T) {
	srv, cfg := startBackend(t)
	cfg.RealtimeURL = "ws://127.0.0.1:1/ws"
	sess := srv.Store().CreateSession("customer-1")
	_, err := srv.Store().AppendMessage(sess.ID, model.RoleSupport, "seguimos por aquí")
	require.NoError(t, err)

	b := NewBinder(cfg, mintToken(t, cfg, "customer-1", "user"), false, NewSignalHub())
	defer b.Close()
	b.Bind(context.Background(), sess.ID)

	require.Eventually(t, func() bool { return b.Mode() == ModeFallback },
		3*time.Second, 10*time.Millisecond)

	// The polling channel must take over transparently: same session, full
	// history re-fetched, status connected.
	require.Eventually(t, func() bool { return b.Status() == StatusConnected },
		2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(b.Messages()) == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "seguimos por aquí", b.Messages()[0].Body)
}

func TestBinderNeverFallsBackWhenNotPermitted(t *testing.T) {
	srv, cfg := startBackend(t)
	cfg.RealtimeURL = "ws://127.0.0.1:1/ws"
	sess := srv.Store().CreateSession("customer-1")

	b := NewBinder(cfg, mintToken(t, cfg, "customer-1", "user"), false, NewSignalHub(),
		WithFallbackAllowed(false))
	defer b.Close()
	b.Bind(context.Background(), sess.ID)

	require.Eventually(t, func() bool { return b.Status() == StatusDisconnected },
		3*time.Second, 10*time.Millisecond)
	assert.Equal(t, ModeRealtime, b.Mode())
}

func TestBinderRetryWebSocketGoesBackToRealtime(t *testing.T) {
	srv, cfg := startBackend(t)
	badRealtime := "ws://127.0.0.1:1/ws"
	goodRealtime := cfg.RealtimeURL
	cfg.RealtimeURL = badRealtime
	sess := srv.Store().CreateSession("customer-1")

	b := NewBinder(cfg, mintToken(t, cfg, "customer-1", "user"), false, NewSignalHub())
	defer b.Close()
	b.Bind(context.Background(), sess.ID)

	require.Eventually(t, func() bool { return b.Mode() == ModeFallback },
		3*time.Second, 10*time.Millisecond)

	// The network recovered; an explicit retry must promote back.
	cfg.RealtimeURL = goodRealtime
	b.RetryWebSocket()

	assert.Equal(t, ModeRealtime, b.Mode())
	require.Eventually(t, func() bool {
		return b.Mode() == ModeRealtime && b.Status() == StatusConnected
	}, 3*time.Second, 10*time.Millisecond)
}

func TestBinderRebindResetsAssembledStream(t *testing.T) {
	srv, cfg := startBackend(t)
	first := srv.Store().CreateSession("customer-1")
	second := srv.Store().CreateSession("customer-1")
	_, err := srv.Store().AppendMessage(first.ID, model.RoleUser, "vieja conversación")
	require.NoError(t, err)
	_, err = srv.Store().AppendMessage(second.ID, model.RoleUser, "nueva conversación")
	require.NoError(t, err)

	b := NewBinder(cfg, mintToken(t, cfg, "customer-1", "user"), false, NewSignalHub())
	defer b.Close()

	b.Bind(context.Background(), first.ID)
	require.Eventually(t, func() bool { return len(b.Messages()) == 1 },
		2*time.Second, 10*time.Millisecond)

	b.Bind(context.Background(), second.ID)
	require.Eventually(t, func() bool {
		msgs := b.Messages()
		return len(msgs) == 1 && msgs[0].Body == "nueva conversación"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBinderTypingIndicatorExpires(t *testing.T) {
	_, cfg := startBackend(t)

	b := NewBinder(cfg, "tok", false, NewSignalHub())
	defer b.Close()

	b.setTypingState(model.TypingIndicator{IsTyping: true, Actor: model.RoleSupport})
	assert.True(t, b.Typing().IsTyping)

	// No refresh arrives; the indicator clears on its own.
	require.Eventually(t, func() bool { return !b.Typing().IsTyping },
		time.Second, 10*time.Millisecond)
}

func TestBinderAgentViewReceivesBoardState(t *testing.T) {
	srv, cfg := startBackend(t)
	pending := srv.Store().CreateSession("customer-1")

	b := NewBinder(cfg, mintToken(t, cfg, "agent-ana", "support"), true, NewSignalHub())
	defer b.Close()
	b.Bind(context.Background(), pending.ID)

	require.Eventually(t, func() bool { return len(b.PendingSessions()) == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, pending.ID, b.PendingSessions()[0].ID)

	require.Eventually(t, func() bool { return b.Stats() != nil },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, b.Stats().PendingSessions)
}
