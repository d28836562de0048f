package client

import (
	"sync"

	"supportchat/logger"
)

// Arbiter is the single source of truth for which channel is authoritative
// for one binder instance. Bounding failures before falling back avoids a
// user-visible hang on an unreachable socket; the counter resets only on a
// confirmed connect so the mode does not flap on every transient drop.
type Arbiter struct {
	mu            sync.Mutex
	mode          TransportMode
	failures      int
	threshold     int
	allowFallback bool
	onSwitch      func(TransportMode)
}

func NewArbiter(threshold int, allowFallback bool) *Arbiter {
	if threshold <= 0 {
		threshold = 2
	}
	return &Arbiter{mode: ModeRealtime, threshold: threshold, allowFallback: allowFallback}
}

// SetOnSwitch registers the binder's mode-change hook. Called without the
// lock held so the hook may call back into the arbiter.
func (a *Arbiter) SetOnSwitch(f func(TransportMode)) {
	a.mu.Lock()
	a.onSwitch = f
	a.mu.Unlock()
}

// Observe feeds one realtime-channel status observation in. Connected
// resets the counter; anything else increments it while realtime is still
// the authoritative mode. Reaching the threshold demotes to fallback when
// permitted and stops counting.
func (a *Arbiter) Observe(s ConnectionStatus) {
	a.mu.Lock()
	if a.mode != ModeRealtime {
		a.mu.Unlock()
		return
	}
	if s == StatusConnected {
		a.failures = 0
		a.mu.Unlock()
		return
	}
	a.failures++
	if a.failures < a.threshold || !a.allowFallback {
		a.mu.Unlock()
		return
	}
	logger.Warnf("[arbiter] %d consecutive websocket failures, falling back to polling", a.failures)
	hook := a.switchLocked(ModeFallback)
	a.mu.Unlock()
	if hook != nil {
		hook(ModeFallback)
	}
}

// RetryWebSocket resets the failure counter and forces realtime back as the
// authoritative mode. The caller re-subscribes to the fresh channel.
func (a *Arbiter) RetryWebSocket() {
	a.mu.Lock()
	a.failures = 0
	hook := a.switchLocked(ModeRealtime)
	a.mu.Unlock()
	if hook != nil {
		hook(ModeRealtime)
	}
}

// ForceFallback switches to polling immediately, regardless of the counter.
func (a *Arbiter) ForceFallback() {
	a.mu.Lock()
	hook := a.switchLocked(ModeFallback)
	a.mu.Unlock()
	if hook != nil {
		hook(ModeFallback)
	}
}

func (a *Arbiter) switchLocked(m TransportMode) func(TransportMode) {
	if a.mode == m {
		return nil
	}
	a.mode = m
	return a.onSwitch
}

func (a *Arbiter) Mode() TransportMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *Arbiter) Failures() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failures
}
