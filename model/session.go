package model

import "time"

type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionActive  SessionStatus = "active"
	SessionClosed  SessionStatus = "closed"
)

// AgentRef identifies the agent attending a session. Name/Email are carried
// so a losing claim attempt can be attributed in the UI.
type AgentRef struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// ChatSession is one logical customer-support conversation.
//
// Invariants: at most one agent holds an active session; a pending session
// has no assigned agent.
type ChatSession struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Status        SessionStatus `json:"status"`
	AssignedAgent *AgentRef     `json:"assigned_agent,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	LastMessageAt time.Time     `json:"last_message_at,omitempty"`
}

// AgentCorrupted reports whether the assigned-agent reference is structurally
// inconsistent: the claim coordinator treats such a session as unclaimed
// instead of letting it lock up permanently. The known backend bug writes the
// session id into the agent id slot.
func (s *ChatSession) AgentCorrupted() bool {
	if s.AssignedAgent == nil {
		return false
	}
	if s.AssignedAgent.ID == "" {
		return true
	}
	return s.AssignedAgent.ID == s.ID
}
