// Package client implements the transport core of the support chat: a
// realtime websocket channel, a polling fallback channel, the arbiter that
// decides which of the two is authoritative, the session binder tying a
// chat session to the active channel, the stream assembler producing one
// ordered de-duplicated message list, and the agent-side claim coordinator.
package client

import (
	"context"

	"supportchat/model"
)

type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// TransportMode is client-local and owned exclusively by the arbiter.
type TransportMode string

const (
	ModeRealtime TransportMode = "websocket"
	ModeFallback TransportMode = "fallback"
)

type EventKind int

const (
	EventMessage EventKind = iota + 1 // single pushed message
	EventBatch                        // backlog or poll refetch
	EventSession                      // session status changed / joined / closed
	EventTyping
	EventPending // agent-only pending session list
	EventStats
)

// Event is the uniform shape both channels emit; the binder does not branch
// on transport type.
type Event struct {
	Kind    EventKind
	Message *model.ChatMessage
	Batch   []model.ChatMessage
	Session *model.ChatSession
	Typing  *model.TypingIndicator
	Pending []model.ChatSession
	Stats   *model.StatsPayload
}

// Channel is the capability set shared by the realtime and polling
// transports. Connectivity problems never surface as returned errors:
// callers observe Status and react. Send/SetTyping/MarkRead are best-effort
// and log instead of failing when the channel is not usable.
type Channel interface {
	// Open binds the channel to a session and starts delivering events.
	// Idempotent per session id; a different id tears the previous binding
	// down first.
	Open(ctx context.Context, sessionID string)
	Send(sessionID, text string)
	SetTyping(sessionID string, isTyping bool)
	MarkRead(sessionID string)
	Status() ConnectionStatus
	Events() <-chan Event
	Close()
}
