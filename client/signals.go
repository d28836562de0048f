package client

import (
	"sync"

	"supportchat/logger"
)

type AuthSignalKind string

const (
	AuthExpired  AuthSignalKind = "token-expired"
	AuthRejected AuthSignalKind = "auth-error"
)

// AuthSignal is re-emitted process-wide when the backend rejects our
// credentials. Session management outside this core reacts (forced logout);
// the transport itself only stops retrying.
type AuthSignal struct {
	Kind   AuthSignalKind
	Reason string
}

// SignalHub fans auth signals out to any number of subscribers. Publishing
// never blocks: a subscriber that stopped draining loses signals rather than
// stalling the transport.
type SignalHub struct {
	mu   sync.Mutex
	subs []chan AuthSignal
}

func NewSignalHub() *SignalHub { return &SignalHub{} }

func (h *SignalHub) Subscribe() <-chan AuthSignal {
	ch := make(chan AuthSignal, 4)
	h.mu.Lock()
	h.subs = append(h.subs, ch)
	h.mu.Unlock()
	return ch
}

func (h *SignalHub) Publish(s AuthSignal) {
	h.mu.Lock()
	subs := make([]chan AuthSignal, len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- s:
		default:
			logger.Warnf("[signals] subscriber full, dropping %s", s.Kind)
		}
	}
}

// AuthSignals is the process-wide hub. Binder and coordinator constructors
// default to it; tests inject their own.
var AuthSignals = NewSignalHub()
