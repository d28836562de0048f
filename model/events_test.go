package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundtripWithTypedPayload(t *testing.T) {
	sent := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	f, err := NewFrame(EventNewMessage, NewMessagePayload{Message: ChatMessage{
		ID:        "m1",
		SessionID: "sess_1",
		Sender:    RoleSupport,
		Body:      "buenas",
		CreatedAt: sent,
	}})
	require.NoError(t, err)

	raw, err := f.Encode()
	require.NoError(t, err)

	parsed, err := ParseFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, EventNewMessage, parsed.Event)

	p, err := DecodePayload[NewMessagePayload](parsed.Data)
	require.NoError(t, err)
	assert.Equal(t, "m1", p.Message.ID)
	assert.Equal(t, RoleSupport, p.Message.Sender)
	assert.True(t, p.Message.CreatedAt.Equal(sent), "timestamps survive the string hop")
}

func TestParseFrameRejectsGarbage(t *testing.T) {
	_, err := ParseFrame([]byte("not json"))
	assert.Error(t, err)

	_, err = ParseFrame([]byte(`{"data":{}}`))
	assert.Error(t, err, "a frame needs an event name")
}

func TestNewFrameWithoutPayload(t *testing.T) {
	f, err := NewFrame(EventTokenExpired, nil)
	require.NoError(t, err)
	assert.Nil(t, f.Data)
}

func TestDecodePayloadIgnoresUnknownFields(t *testing.T) {
	p, err := DecodePayload[JoinSessionPayload](map[string]any{
		"session_id": "sess_1",
		"extra":      "from a newer server",
	})
	require.NoError(t, err)
	assert.Equal(t, "sess_1", p.SessionID)
}
