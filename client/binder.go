package client

import (
	"context"
	"sync"
	"time"

	"supportchat/config"
	"supportchat/logger"
	"supportchat/model"
	"supportchat/tools/safe"
)

// Binder ties one logical chat session to whichever transport the arbiter
// currently trusts. Channels are per-binding resources with explicit
// teardown, nothing socket-shaped lives at package scope, and every
// subscription gets fresh forwarding closures torn down on rebind.
//
// Exactly one channel is bound at a time (realtime XOR polling): the old
// channel is closed before the next is opened, and the freshly activated
// channel re-fetches or rejoins before it is trusted, so a mode switch
// loses no messages and duplicate redelivery is absorbed by the assembler.
type Binder struct {
	cfg       *config.Config
	token     string
	agentView bool
	signals   *SignalHub

	arbiter   *Arbiter
	assembler *StreamAssembler

	mu          sync.Mutex
	ctx         context.Context
	sessionID   string
	active      Channel
	stopForward chan struct{}
	session     *model.ChatSession
	typing      model.TypingIndicator
	typingTimer *time.Timer
	pending     []model.ChatSession
	stats       *model.StatsPayload
	onUpdate    func()
}

// BinderOption tweaks per-consumer behavior; the widget and the console use
// different failure thresholds.
type BinderOption func(*binderOpts)

type binderOpts struct {
	threshold     int
	allowFallback bool
	onUpdate      func()
}

func WithFailureThreshold(n int) BinderOption {
	return func(o *binderOpts) { o.threshold = n }
}

func WithFallbackAllowed(allowed bool) BinderOption {
	return func(o *binderOpts) { o.allowFallback = allowed }
}

// WithUpdateHook registers a callback nudged after every state change so a
// UI can re-render without polling.
func WithUpdateHook(f func()) BinderOption {
	return func(o *binderOpts) { o.onUpdate = f }
}

func NewBinder(cfg *config.Config, token string, agentView bool, signals *SignalHub, opts ...BinderOption) *Binder {
	if signals == nil {
		signals = AuthSignals
	}
	o := binderOpts{threshold: cfg.FailureThreshold, allowFallback: cfg.AllowFallback}
	for _, opt := range opts {
		opt(&o)
	}
	b := &Binder{
		cfg:       cfg,
		token:     token,
		agentView: agentView,
		signals:   signals,
		arbiter:   NewArbiter(o.threshold, o.allowFallback),
		assembler: NewStreamAssembler(),
		onUpdate:  o.onUpdate,
	}
	b.arbiter.SetOnSwitch(func(m TransportMode) {
		// Hook fires on the arbiter's goroutine; reactivation must not
		// deadlock against the observation path.
		safe.Go(func() { b.activate(m) })
	})
	return b
}

// Bind attaches the binder to a session. Binding the same id again is a
// no-op; a different id tears the previous binding down, resets the
// assembled stream and starts over on the arbiter's current mode.
func (b *Binder) Bind(ctx context.Context, sessionID string) {
	b.mu.Lock()
	if b.sessionID == sessionID {
		b.mu.Unlock()
		return
	}
	b.teardownLocked()
	b.sessionID = sessionID
	b.ctx = ctx
	b.assembler.Reset()
	b.session = nil
	b.typing = model.TypingIndicator{}
	b.mu.Unlock()

	b.activate(b.arbiter.Mode())
}

// activate tears down the currently bound channel, builds a fresh one for
// the requested mode and opens it.
func (b *Binder) activate(mode TransportMode) {
	b.mu.Lock()
	sessionID := b.sessionID
	ctx := b.ctx
	if sessionID == "" {
		b.mu.Unlock()
		return
	}
	b.closeChannelLocked()

	var ch Channel
	if mode == ModeRealtime {
		rt := NewRealtimeChannel(b.cfg, b.token, b.signals)
		rt.SetStatusListener(func(s ConnectionStatus) {
			b.arbiter.Observe(s)
			b.nudge()
		})
		ch = rt
	} else {
		ch = NewPollingChannel(b.cfg, b.token, b.agentView, b.signals)
	}
	b.active = ch
	stop := make(chan struct{})
	b.stopForward = stop
	b.mu.Unlock()

	logger.Infof("[binder] session=%s activating %s channel", sessionID, mode)
	safe.Go(func() { b.forward(ch, stop) })
	ch.Open(ctx, sessionID)
}

// forward drains the channel's events into local state. One goroutine per
// binding; replaced wholesale on rebind or mode switch.
func (b *Binder) forward(ch Channel, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev := <-ch.Events():
			b.apply(ev)
		}
	}
}

func (b *Binder) apply(ev Event) {
	switch ev.Kind {
	case EventMessage:
		if ev.Message != nil {
			b.assembler.Apply(*ev.Message)
		}
	case EventBatch:
		b.assembler.ApplyBatch(ev.Batch)
	case EventSession:
		b.mu.Lock()
		b.session = ev.Session
		b.mu.Unlock()
	case EventTyping:
		if ev.Typing != nil {
			b.setTypingState(*ev.Typing)
		}
	case EventPending:
		b.mu.Lock()
		b.pending = ev.Pending
		b.mu.Unlock()
	case EventStats:
		b.mu.Lock()
		b.stats = ev.Stats
		b.mu.Unlock()
	}
	b.nudge()
}

// setTypingState records the indicator and (re)arms the expiry timer; a
// stale indicator clears itself when no refresh arrives in time.
func (b *Binder) setTypingState(t model.TypingIndicator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.typing = t
	if b.typingTimer != nil {
		b.typingTimer.Stop()
		b.typingTimer = nil
	}
	if t.IsTyping {
		b.typingTimer = time.AfterFunc(b.cfg.TypingTimeout, func() {
			b.mu.Lock()
			b.typing = model.TypingIndicator{}
			b.mu.Unlock()
			b.nudge()
		})
	}
}

// Send routes through the active channel; the polling channel refetches
// after the request, the realtime channel waits for the server echo.
func (b *Binder) Send(text string) {
	if ch, sid := b.channel(); ch != nil {
		ch.Send(sid, text)
	}
}

func (b *Binder) SetTyping(isTyping bool) {
	if ch, sid := b.channel(); ch != nil {
		ch.SetTyping(sid, isTyping)
	}
}

func (b *Binder) MarkRead() {
	if ch, sid := b.channel(); ch != nil {
		ch.MarkRead(sid)
	}
}

// RetryWebSocket resets the failure budget and forces realtime back; the
// arbiter's switch hook rebuilds the channel binding.
func (b *Binder) RetryWebSocket() { b.arbiter.RetryWebSocket() }

// ForceFallback demotes to polling immediately.
func (b *Binder) ForceFallback() { b.arbiter.ForceFallback() }

func (b *Binder) Mode() TransportMode { return b.arbiter.Mode() }

// Messages returns the assembled, ordered, de-duplicated stream.
func (b *Binder) Messages() []model.ChatMessage { return b.assembler.Snapshot() }

func (b *Binder) Status() ConnectionStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == nil {
		return StatusDisconnected
	}
	return b.active.Status()
}

func (b *Binder) Session() *model.ChatSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

func (b *Binder) Typing() model.TypingIndicator {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.typing
}

func (b *Binder) PendingSessions() []model.ChatSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.ChatSession, len(b.pending))
	copy(out, b.pending)
	return out
}

func (b *Binder) Stats() *model.StatsPayload {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Close tears the binding down entirely.
func (b *Binder) Close() {
	b.mu.Lock()
	b.teardownLocked()
	b.sessionID = ""
	b.mu.Unlock()
}

func (b *Binder) teardownLocked() {
	b.closeChannelLocked()
	if b.typingTimer != nil {
		b.typingTimer.Stop()
		b.typingTimer = nil
	}
}

func (b *Binder) closeChannelLocked() {
	if b.stopForward != nil {
		close(b.stopForward)
		b.stopForward = nil
	}
	if b.active != nil {
		b.active.Close()
		b.active = nil
	}
}

func (b *Binder) channel() (Channel, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active, b.sessionID
}

func (b *Binder) nudge() {
	if b.onUpdate != nil {
		b.onUpdate()
	}
}
