package client

import (
	"context"
	"sync"
	"time"

	"supportchat/config"
	"supportchat/logger"
	"supportchat/tools/safe"
)

// PollingChannel is the degraded but functionally complete substitute used
// when the websocket cannot be sustained. It pulls the session's message
// list on a fixed interval. Polling has no notion of a broken duplex link:
// once the first fetch succeeds the channel reports connected forever, and
// individual request failures are retried within the REST client's budget
// without ever demoting the status.
type PollingChannel struct {
	cfg       *config.Config
	api       *restAPI
	agentView bool

	mu        sync.Mutex
	status    ConnectionStatus
	sessionID string
	lastErr   error
	stop      chan struct{}
	events    chan Event
}

func NewPollingChannel(cfg *config.Config, token string, agentView bool, signals *SignalHub) *PollingChannel {
	return &PollingChannel{
		cfg:       cfg,
		api:       newRESTAPI(cfg, token, signals),
		agentView: agentView,
		status:    StatusDisconnected,
		events:    make(chan Event, 64),
	}
}

func (p *PollingChannel) Open(ctx context.Context, sessionID string) {
	p.mu.Lock()
	if p.sessionID == sessionID && p.stop != nil {
		p.mu.Unlock()
		return
	}
	if p.stop != nil {
		close(p.stop)
	}
	stop := make(chan struct{})
	p.stop = stop
	p.sessionID = sessionID
	p.status = StatusConnecting
	p.mu.Unlock()

	safe.Go(func() { p.loop(ctx, sessionID, stop) })
}

func (p *PollingChannel) loop(ctx context.Context, sessionID string, stop chan struct{}) {
	p.fetch(ctx, sessionID)

	t := time.NewTicker(p.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			p.fetch(ctx, sessionID)
		}
	}
}

// fetch pulls the message list and emits it as a batch. The assembler
// downstream makes the repeated full list cheap to absorb.
func (p *PollingChannel) fetch(ctx context.Context, sessionID string) {
	msgs, err := p.api.ListMessages(ctx, sessionID, p.agentView)
	p.mu.Lock()
	if err != nil {
		// Beyond the retry budget the caller decides what to do with stale
		// data; the mode never changes on our account.
		p.lastErr = err
		p.mu.Unlock()
		logger.Warnf("[polling] fetch failed session=%s err=%v", sessionID, err)
		return
	}
	p.lastErr = nil
	p.status = StatusConnected
	p.mu.Unlock()

	p.emit(Event{Kind: EventBatch, Batch: msgs})
}

// Send issues the request/response call and on success triggers an
// immediate refetch instead of an optimistic local insert, so the
// authoritative order always comes from the server.
func (p *PollingChannel) Send(sessionID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PollRequestTimeout)
	defer cancel()
	if _, err := p.api.SendMessage(ctx, sessionID, text, p.agentView); err != nil {
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		logger.Warnf("[polling] send failed session=%s err=%v", sessionID, err)
		return
	}
	p.fetch(context.Background(), sessionID)
}

// SetTyping is deliberately a no-op: there is no low-latency channel to
// carry the indicator in fallback mode.
func (p *PollingChannel) SetTyping(string, bool) {}

func (p *PollingChannel) MarkRead(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PollRequestTimeout)
	defer cancel()
	if err := p.api.MarkRead(ctx, sessionID, p.agentView); err != nil {
		logger.Debugf("[polling] mark read failed session=%s err=%v", sessionID, err)
	}
}

func (p *PollingChannel) Status() ConnectionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// LastError exposes the most recent request failure so a caller can decide
// between presenting stale data and surfacing an error.
func (p *PollingChannel) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *PollingChannel) Events() <-chan Event { return p.events }

func (p *PollingChannel) Close() {
	p.mu.Lock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	p.sessionID = ""
	p.status = StatusDisconnected
	p.mu.Unlock()
}

func (p *PollingChannel) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		logger.Warnf("[polling] event buffer full, dropping batch")
	}
}
