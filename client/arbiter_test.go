package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArbiterDemotesAtThreshold(t *testing.T) {
	a := NewArbiter(2, true)

	a.Observe(StatusDisconnected)
	assert.Equal(t, ModeRealtime, a.Mode(), "one failure must not demote")

	a.Observe(StatusDisconnected)
	assert.Equal(t, ModeFallback, a.Mode(), "two consecutive failures must demote")
}

func TestArbiterConnectedResetsCounter(t *testing.T) {
	a := NewArbiter(2, true)

	a.Observe(StatusDisconnected)
	a.Observe(StatusConnected)
	a.Observe(StatusDisconnected)

	assert.Equal(t, ModeRealtime, a.Mode(), "intervening connect must restart the count")
	assert.Equal(t, 1, a.Failures())
}

func TestArbiterStopsCountingAfterDemotion(t *testing.T) {
	a := NewArbiter(2, true)
	a.Observe(StatusDisconnected)
	a.Observe(StatusDisconnected)
	a.Observe(StatusDisconnected)
	a.Observe(StatusDisconnected)

	assert.Equal(t, ModeFallback, a.Mode())
	assert.Equal(t, 2, a.Failures(), "counter freezes once fallback is authoritative")
}

func TestArbiterRespectsFallbackNotPermitted(t *testing.T) {
	a := NewArbiter(2, false)
	for i := 0; i < 5; i++ {
		a.Observe(StatusDisconnected)
	}
	assert.Equal(t, ModeRealtime, a.Mode(), "demotion requires fallback permission")
}

func TestArbiterRetryWebSocketResets(t *testing.T) {
	a := NewArbiter(2, true)
	a.Observe(StatusDisconnected)
	a.Observe(StatusDisconnected)
	assert.Equal(t, ModeFallback, a.Mode())

	a.RetryWebSocket()
	assert.Equal(t, ModeRealtime, a.Mode())
	assert.Zero(t, a.Failures())
}

func TestArbiterForceFallback(t *testing.T) {
	a := NewArbiter(3, true)
	a.ForceFallback()
	assert.Equal(t, ModeFallback, a.Mode())
}

func TestArbiterSwitchHookFiresOncePerTransition(t *testing.T) {
	a := NewArbiter(2, true)
	var switches []TransportMode
	a.SetOnSwitch(func(m TransportMode) { switches = append(switches, m) })

	a.Observe(StatusDisconnected)
	a.Observe(StatusDisconnected)
	a.ForceFallback() // already fallback, no second hook
	a.RetryWebSocket()

	assert.Equal(t, []TransportMode{ModeFallback, ModeRealtime}, switches)
}
