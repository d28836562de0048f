package client

import (
	"sync"

	"supportchat/model"
)

// StreamAssembler merges whatever the active transport delivers, single
// pushed messages or whole refetched batches, into one ordered list per
// session. Redelivery is expected (reconnect replays history, polling
// overlaps a mode switch); correctness rests on id-based de-duplication,
// not on transport exclusion.
type StreamAssembler struct {
	mu    sync.Mutex
	msgs  []model.ChatMessage
	index map[string]int // message id -> position in msgs
}

func NewStreamAssembler() *StreamAssembler {
	return &StreamAssembler{index: make(map[string]int)}
}

// Apply inserts one message. A repeated id replaces the stored version in
// place (most recently received wins) without moving it; a new id is
// inserted so the list stays ascending by timestamp with ties kept in
// arrival order.
func (a *StreamAssembler) Apply(m model.ChatMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applyLocked(m)
}

// ApplyBatch inserts a refetched or backlog batch in delivery order.
func (a *StreamAssembler) ApplyBatch(batch []model.ChatMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range batch {
		a.applyLocked(m)
	}
}

func (a *StreamAssembler) applyLocked(m model.ChatMessage) {
	if pos, ok := a.index[m.ID]; ok {
		a.msgs[pos] = m
		return
	}

	// Walk back from the tail: most inserts are appends. Stopping at the
	// first entry not after m keeps equal timestamps in arrival order.
	pos := len(a.msgs)
	for pos > 0 && a.msgs[pos-1].CreatedAt.After(m.CreatedAt) {
		pos--
	}

	a.msgs = append(a.msgs, model.ChatMessage{})
	copy(a.msgs[pos+1:], a.msgs[pos:])
	a.msgs[pos] = m

	a.index[m.ID] = pos
	for i := pos + 1; i < len(a.msgs); i++ {
		a.index[a.msgs[i].ID] = i
	}
}

// Snapshot returns a copy of the assembled stream; entries already handed
// out are never mutated.
func (a *StreamAssembler) Snapshot() []model.ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.ChatMessage, len(a.msgs))
	copy(out, a.msgs)
	return out
}

func (a *StreamAssembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.msgs)
}

// Reset drops all state; called when the binder switches to a different
// session id.
func (a *StreamAssembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = nil
	a.index = make(map[string]int)
}
