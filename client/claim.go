package client

import (
	"context"

	"supportchat/config"
	"supportchat/logger"
	"supportchat/model"
	"supportchat/tools/errs"
)

// ClaimCoordinator arbitrates concurrent attempts by agents to attend the
// same pending session. The server response is the single source of truth:
// nothing is claimed optimistically, and a lost race comes back as a
// terminal, non-retryable errs.CodeAlreadyAttended carrying the attending
// agent's attribution when the backend knows it.
type ClaimCoordinator struct {
	api *restAPI
	me  errs.Actor
}

func NewClaimCoordinator(cfg *config.Config, token string, me errs.Actor, signals *SignalHub) *ClaimCoordinator {
	if signals == nil {
		signals = AuthSignals
	}
	return &ClaimCoordinator{api: newRESTAPI(cfg, token, signals), me: me}
}

// Claim requests exclusive attendance of a session.
//
// Re-entering a session this agent already holds is a no-op success. A
// structurally inconsistent assigned-agent reference is treated as
// unclaimed: the claim is attempted anyway instead of leaving the session
// permanently locked. That recovery is a stopgap for a backend data bug, so
// it logs loudly when it fires.
func (c *ClaimCoordinator) Claim(ctx context.Context, sessionID string) (*model.ChatSession, error) {
	sess, err := c.api.GetSession(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.SessionClosed {
		return nil, errs.New(errs.CodeSessionClosed, "session is closed")
	}
	if sess.AgentCorrupted() {
		logger.Warnf("[claim] session %s has corrupted agent ref %+v, treating as unclaimed",
			sessionID, sess.AssignedAgent)
	}
	return c.api.ClaimSession(ctx, sessionID, &c.me)
}

// Release returns a session this agent holds to pending. Fails loudly with
// errs.CodeNotHolder when the caller does not hold it.
func (c *ClaimCoordinator) Release(ctx context.Context, sessionID string) error {
	return c.api.ReleaseSession(ctx, sessionID)
}

// Close terminates a session; only the current holder may do this.
func (c *ClaimCoordinator) Close(ctx context.Context, sessionID string) error {
	return c.api.CloseSession(ctx, sessionID, true)
}

// Sessions lists sessions, optionally filtered by status, for the console's
// pending queue.
func (c *ClaimCoordinator) Sessions(ctx context.Context, status model.SessionStatus) ([]model.ChatSession, error) {
	return c.api.ListSessions(ctx, status)
}
