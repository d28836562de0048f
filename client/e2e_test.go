package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportchat/model"
	"supportchat/tools/errs"
)

// TestSupportConversationEndToEnd walks the whole flow a shopper and an
// agent go through: session created over REST, both sides bound over the
// websocket, claim, a two-way exchange, typing, and the close broadcast.
func TestSupportConversationEndToEnd(t *testing.T) {
	_, cfg := startBackend(t)
	ctx := context.Background()

	userToken := mintToken(t, cfg, "customer-7", "user")
	agentToken := mintToken(t, cfg, "agent-ana", "support")

	// Customer opens a conversation.
	userAPI := newRESTAPI(cfg, userToken, NewSignalHub())
	sess, err := userAPI.CreateSession(ctx)
	require.NoError(t, err)

	customer := NewBinder(cfg, userToken, false, NewSignalHub())
	defer customer.Close()
	customer.Bind(ctx, sess.ID)
	require.Eventually(t, func() bool { return customer.Status() == StatusConnected },
		2*time.Second, 10*time.Millisecond)

	customer.Send("mi pedido no ha llegado")
	require.Eventually(t, func() bool { return len(customer.Messages()) == 1 },
		2*time.Second, 10*time.Millisecond)

	// Agent finds the pending session on the board and claims it.
	ana := NewClaimCoordinator(cfg, agentToken, errs.Actor{ID: "agent-ana", Name: "Ana"}, NewSignalHub())
	board, err := ana.Sessions(ctx, model.SessionPending)
	require.NoError(t, err)
	require.Len(t, board, 1)
	require.Equal(t, sess.ID, board[0].ID)

	claimed, err := ana.Claim(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, claimed.Status)

	// Customer sees the status flip without any refetch.
	require.Eventually(t, func() bool {
		s := customer.Session()
		return s != nil && s.Status == model.SessionActive
	}, 2*time.Second, 10*time.Millisecond)

	// Agent binds the same session and gets the backlog.
	agent := NewBinder(cfg, agentToken, true, NewSignalHub())
	defer agent.Close()
	agent.Bind(ctx, sess.ID)
	require.Eventually(t, func() bool { return len(agent.Messages()) == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "mi pedido no ha llegado", agent.Messages()[0].Body)

	// Typing flows agent → customer but never echoes back to the sender.
	agent.SetTyping(true)
	require.Eventually(t, func() bool { return customer.Typing().IsTyping },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, model.RoleSupport, customer.Typing().Actor)
	assert.False(t, agent.Typing().IsTyping)

	agent.Send("lo reviso ahora mismo")
	require.Eventually(t, func() bool { return len(customer.Messages()) == 2 },
		2*time.Second, 10*time.Millisecond)

	// Both sides converge on the same ordered stream.
	want := []string{"mi pedido no ha llegado", "lo reviso ahora mismo"}
	require.Eventually(t, func() bool { return len(agent.Messages()) == 2 },
		2*time.Second, 10*time.Millisecond)
	for i, side := range []*Binder{customer, agent} {
		msgs := side.Messages()
		for j, body := range want {
			assert.Equalf(t, body, msgs[j].Body, "side %d message %d", i, j)
			assert.Equal(t, sess.ID, msgs[j].SessionID)
		}
	}
	assert.Equal(t, model.RoleUser, customer.Messages()[0].Sender)
	assert.Equal(t, model.RoleSupport, customer.Messages()[1].Sender)

	// Agent closes; the customer is told in-band.
	require.NoError(t, ana.Close(ctx, sess.ID))
	require.Eventually(t, func() bool {
		s := customer.Session()
		return s != nil && s.Status == model.SessionClosed
	}, 2*time.Second, 10*time.Millisecond)
}

// TestMessagesSentOverRESTReachRealtimeSubscribers covers the mixed-mode
// case: one side degraded to polling still shows up instantly for the side
// that kept its websocket.
func TestMessagesSentOverRESTReachRealtimeSubscribers(t *testing.T) {
	srv, cfg := startBackend(t)
	ctx := context.Background()
	sess := srv.Store().CreateSession("customer-7")

	userToken := mintToken(t, cfg, "customer-7", "user")
	agentToken := mintToken(t, cfg, "agent-ana", "support")

	agent := NewBinder(cfg, agentToken, true, NewSignalHub())
	defer agent.Close()
	agent.Bind(ctx, sess.ID)
	require.Eventually(t, func() bool { return agent.Status() == StatusConnected },
		2*time.Second, 10*time.Millisecond)

	// Customer stuck on polling posts via REST.
	userAPI := newRESTAPI(cfg, userToken, NewSignalHub())
	_, err := userAPI.SendMessage(ctx, sess.ID, "sigo aquí", false)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(agent.Messages()) == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "sigo aquí", agent.Messages()[0].Body)
}
