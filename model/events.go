package model

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Wire event names on the realtime channel. Client-to-server first, then
// server-to-client.
const (
	EventJoinSession = "join-session"
	EventSendMessage = "send-message"
	EventTyping      = "typing"
	EventMarkRead    = "mark-read"

	EventNewMessage           = "new-message"
	EventSessionJoined        = "session-joined"
	EventSessionClosed        = "session-closed"
	EventSessionStatusChanged = "session-status-changed"
	EventUserTyping           = "user-typing"
	EventNewPendingSession    = "new-pending-session" // agent-only
	EventPendingSessions      = "pending-sessions"    // agent-only
	EventStatsUpdate          = "stats-update"
	EventTokenExpired         = "token-expired"
	EventAuthError            = "auth-error"
)

// Frame is the envelope every realtime event travels in. Data stays untyped
// until the receiver knows which payload struct the event name maps to.
type Frame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

func ParseFrame(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errors.Wrap(err, "unmarshal frame")
	}
	if f.Event == "" {
		return nil, errors.New("frame without event name")
	}
	return f, nil
}

func NewFrame(event string, payload any) (*Frame, error) {
	f := &Frame{Event: event}
	if payload == nil {
		return f, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s payload", event)
	}
	if err := json.Unmarshal(raw, &f.Data); err != nil {
		return nil, errors.Wrapf(err, "remarshal %s payload", event)
	}
	return f, nil
}

func (f *Frame) Encode() ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal frame %s", f.Event)
	}
	return raw, nil
}

// DecodePayload maps a frame's loose data onto a typed payload struct.
// RFC3339 strings are converted to time.Time so payloads can reuse the
// json-tagged model structs directly.
func DecodePayload[T any](data map[string]any) (*T, error) {
	out := new(T)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     out,
		TagName:    "json",
		DecodeHook: stringToTimeHook,
	})
	if err != nil {
		return nil, errors.Wrap(err, "build payload decoder")
	}
	if err := dec.Decode(data); err != nil {
		return nil, errors.Wrap(err, "decode payload")
	}
	return out, nil
}

func stringToTimeHook(from reflect.Type, to reflect.Type, v any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
		return v, nil
	}
	return time.Parse(time.RFC3339Nano, v.(string))
}

// Payloads.

type JoinSessionPayload struct {
	SessionID string `json:"session_id"`
}

type SendMessagePayload struct {
	SessionID string `json:"session_id"`
	Body      string `json:"body"`
}

type TypingPayload struct {
	SessionID string     `json:"session_id"`
	IsTyping  bool       `json:"is_typing"`
	Actor     SenderRole `json:"actor,omitempty"`
}

type MarkReadPayload struct {
	SessionID string `json:"session_id"`
}

type NewMessagePayload struct {
	Message ChatMessage `json:"message"`
}

// SessionJoinedPayload carries the full backlog so a freshly joined (or
// re-joined) connection never starts from a gap.
type SessionJoinedPayload struct {
	Session  ChatSession   `json:"session"`
	Messages []ChatMessage `json:"messages"`
}

type SessionStatusPayload struct {
	Session ChatSession `json:"session"`
}

type PendingSessionsPayload struct {
	Sessions []ChatSession `json:"sessions"`
}

type StatsPayload struct {
	PendingSessions int `json:"pending_sessions"`
	ActiveSessions  int `json:"active_sessions"`
	OnlineAgents    int `json:"online_agents"`
}

type AuthErrorPayload struct {
	Reason string `json:"reason,omitempty"`
}
