package model

import "time"

type SenderRole string

const (
	RoleUser    SenderRole = "user"
	RoleSupport SenderRole = "support"
)

// ChatMessage is immutable once created. Within a session messages are
// totally ordered by timestamp; the stream assembler enforces that order
// and drops duplicate ids regardless of which transport delivered them.
type ChatMessage struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Sender    SenderRole `json:"sender"`
	Body      string     `json:"body"`
	CreatedAt time.Time  `json:"created_at"`
}

// TypingIndicator is transient per-session state. It is never part of the
// message stream and expires locally when no refresh arrives in time.
type TypingIndicator struct {
	IsTyping bool       `json:"is_typing"`
	Actor    SenderRole `json:"actor"`
}
