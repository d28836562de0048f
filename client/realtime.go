package client

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"supportchat/config"
	"supportchat/logger"
	"supportchat/model"
	"supportchat/tools/safe"
)

const (
	writeDeadline = 5 * time.Second
	readDeadline  = 60 * time.Second
	pingEvery     = 30 * time.Second
)

// RealtimeChannel owns one authenticated duplex connection per bound
// session. Connection lifecycle is exposed through Status and an optional
// status listener; dial failures settle into observable state instead of
// returned errors because the arbiter polls, it does not catch.
//
// Reconnection is bounded: up to cfg.ReconnectAttempts consecutive failed
// or dropped connections with capped exponential backoff, then the channel
// parks itself in disconnected. Authentication rejections are never retried
// as connectivity; they are re-emitted on the signal hub and end the loop.
type RealtimeChannel struct {
	cfg     *config.Config
	token   string
	signals *SignalHub
	dialer  *websocket.Dialer

	mu        sync.Mutex
	status    ConnectionStatus
	sessionID string
	stop      chan struct{}
	conn      *websocket.Conn
	onStatus  func(ConnectionStatus)

	sendCh chan *model.Frame
	events chan Event
}

func NewRealtimeChannel(cfg *config.Config, token string, signals *SignalHub) *RealtimeChannel {
	return &RealtimeChannel{
		cfg:     cfg,
		token:   token,
		signals: signals,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
		status:  StatusDisconnected,
		sendCh:  make(chan *model.Frame, 64),
		events:  make(chan Event, 256),
	}
}

// SetStatusListener injects the binder's observation hook. A fresh closure
// is installed per binding; the listener fires on every failed dial, every
// confirmed connect and every drop.
func (r *RealtimeChannel) SetStatusListener(f func(ConnectionStatus)) {
	r.mu.Lock()
	r.onStatus = f
	r.mu.Unlock()
}

func (r *RealtimeChannel) Open(ctx context.Context, sessionID string) {
	r.mu.Lock()
	if r.sessionID == sessionID && r.stop != nil {
		r.mu.Unlock()
		return
	}
	if r.stop != nil {
		close(r.stop)
		if r.conn != nil {
			_ = r.conn.Close()
			r.conn = nil
		}
	}
	stop := make(chan struct{})
	r.stop = stop
	r.sessionID = sessionID
	r.status = StatusConnecting
	r.mu.Unlock()

	safe.Go(func() { r.run(ctx, sessionID, stop) })
}

func (r *RealtimeChannel) run(ctx context.Context, sessionID string, stop chan struct{}) {
	attempts := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.ReconnectDelay
	bo.MaxInterval = r.cfg.ReconnectDelayMax
	bo.MaxElapsedTime = 0 // the attempt cap bounds the loop, not wall time

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			r.setStatus(StatusDisconnected)
			return
		default:
		}

		conn, fatal := r.dial(ctx)
		if fatal {
			r.setStatus(StatusDisconnected)
			r.notify(StatusDisconnected)
			return
		}
		if conn == nil {
			attempts++
			r.notify(StatusDisconnected)
			if attempts >= r.cfg.ReconnectAttempts {
				logger.Warnf("[realtime] reconnect budget exhausted after %d attempts", attempts)
				r.setStatus(StatusDisconnected)
				return
			}
			if !r.sleep(ctx, stop, bo.NextBackOff()) {
				return
			}
			continue
		}

		// Confirmed connect: reset the budget and rejoin so the server
		// replays the backlog before this channel is trusted as sole source.
		attempts = 0
		bo.Reset()
		r.setConn(conn)
		r.setStatus(StatusConnected)
		r.notify(StatusConnected)
		r.enqueue(mustFrame(model.EventJoinSession, model.JoinSessionPayload{SessionID: sessionID}))

		writerStop := make(chan struct{})
		safe.Go(func() { r.writer(conn, writerStop) })
		authFatal := r.readLoop(conn)
		close(writerStop)
		_ = conn.Close()
		r.setConn(nil)
		r.notify(StatusDisconnected)

		select {
		case <-stop:
			r.setStatus(StatusDisconnected)
			return
		default:
		}
		if authFatal {
			r.setStatus(StatusDisconnected)
			return
		}

		attempts++
		if attempts >= r.cfg.ReconnectAttempts {
			logger.Warnf("[realtime] reconnect budget exhausted after drop")
			r.setStatus(StatusDisconnected)
			return
		}
		r.setStatus(StatusConnecting)
		if !r.sleep(ctx, stop, bo.NextBackOff()) {
			return
		}
	}
}

// dial returns (nil, true) on an authentication rejection, which must not
// be retried, and (nil, false) on a transient failure.
func (r *RealtimeChannel) dial(ctx context.Context) (*websocket.Conn, bool) {
	header := http.Header{"Authorization": []string{"Bearer " + r.token}}
	conn, resp, err := r.dialer.DialContext(ctx, r.cfg.RealtimeURL+"?token="+r.token, header)
	if err == nil {
		return conn, false
	}
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		logger.Warnf("[realtime] handshake rejected: %v", err)
		r.signals.Publish(AuthSignal{Kind: AuthRejected, Reason: "websocket handshake rejected"})
		return nil, true
	}
	logger.Infof("[realtime] dial failed: %v", err)
	return nil, false
}

func (r *RealtimeChannel) writer(conn *websocket.Conn, stop chan struct{}) {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	for {
		select {
		case <-stop:
			return
		case f := <-r.sendCh:
			raw, err := f.Encode()
			if err != nil {
				logger.Errorf("[realtime] encode %s: %v", f.Event, err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				logger.Infof("[realtime] write %s failed: %v", f.Event, err)
				return
			}
		case <-ping.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeDeadline))
		}
	}
}

// readLoop blocks until the connection dies. It returns true when the
// server told us our credentials are bad, which ends reconnection for good.
func (r *RealtimeChannel) readLoop(conn *websocket.Conn) bool {
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[realtime] peer closed: %v", err)
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Infof("[realtime] read timeout: %v", err)
			} else {
				logger.Infof("[realtime] read error: %v", err)
			}
			return false
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := model.ParseFrame(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Warnf("[realtime] bad frame err=%v sample=%q", perr, sample)
			continue
		}

		if done := r.handleFrame(frame); done {
			return true
		}
	}
}

func (r *RealtimeChannel) handleFrame(frame *model.Frame) bool {
	switch frame.Event {
	case model.EventTokenExpired:
		r.signals.Publish(AuthSignal{Kind: AuthExpired, Reason: "session token expired"})
		return true
	case model.EventAuthError:
		p, _ := model.DecodePayload[model.AuthErrorPayload](frame.Data)
		reason := "authentication rejected"
		if p != nil && p.Reason != "" {
			reason = p.Reason
		}
		r.signals.Publish(AuthSignal{Kind: AuthRejected, Reason: reason})
		return true

	case model.EventNewMessage:
		p, err := model.DecodePayload[model.NewMessagePayload](frame.Data)
		if err != nil {
			logger.Warnf("[realtime] decode new-message: %v", err)
			return false
		}
		r.emit(Event{Kind: EventMessage, Message: &p.Message})

	case model.EventSessionJoined:
		p, err := model.DecodePayload[model.SessionJoinedPayload](frame.Data)
		if err != nil {
			logger.Warnf("[realtime] decode session-joined: %v", err)
			return false
		}
		r.emit(Event{Kind: EventSession, Session: &p.Session})
		r.emit(Event{Kind: EventBatch, Batch: p.Messages})

	case model.EventSessionClosed, model.EventSessionStatusChanged:
		p, err := model.DecodePayload[model.SessionStatusPayload](frame.Data)
		if err != nil {
			logger.Warnf("[realtime] decode %s: %v", frame.Event, err)
			return false
		}
		r.emit(Event{Kind: EventSession, Session: &p.Session})

	case model.EventUserTyping:
		p, err := model.DecodePayload[model.TypingPayload](frame.Data)
		if err != nil {
			return false
		}
		r.emit(Event{Kind: EventTyping, Typing: &model.TypingIndicator{IsTyping: p.IsTyping, Actor: p.Actor}})

	case model.EventNewPendingSession:
		p, err := model.DecodePayload[model.SessionStatusPayload](frame.Data)
		if err != nil {
			return false
		}
		r.emit(Event{Kind: EventPending, Pending: []model.ChatSession{p.Session}})

	case model.EventPendingSessions:
		p, err := model.DecodePayload[model.PendingSessionsPayload](frame.Data)
		if err != nil {
			return false
		}
		r.emit(Event{Kind: EventPending, Pending: p.Sessions})

	case model.EventStatsUpdate:
		p, err := model.DecodePayload[model.StatsPayload](frame.Data)
		if err != nil {
			return false
		}
		r.emit(Event{Kind: EventStats, Stats: p})

	default:
		logger.Debugf("[realtime] ignoring event %q", frame.Event)
	}
	return false
}

// Send emits a message-send intent: at most one transmission per call, no
// delivery acknowledgement beyond the server echoing the message back. A
// no-op (with a log line) when not connected.
func (r *RealtimeChannel) Send(sessionID, text string) {
	if !r.ready("send") {
		return
	}
	r.enqueue(mustFrame(model.EventSendMessage, model.SendMessagePayload{SessionID: sessionID, Body: text}))
}

// SetTyping is best-effort and unordered with respect to sends; the server
// expires the indicator on its own clock.
func (r *RealtimeChannel) SetTyping(sessionID string, isTyping bool) {
	if !r.ready("typing") {
		return
	}
	r.enqueue(mustFrame(model.EventTyping, model.TypingPayload{SessionID: sessionID, IsTyping: isTyping}))
}

// MarkRead is best-effort, no retry.
func (r *RealtimeChannel) MarkRead(sessionID string) {
	if !r.ready("mark-read") {
		return
	}
	r.enqueue(mustFrame(model.EventMarkRead, model.MarkReadPayload{SessionID: sessionID}))
}

func (r *RealtimeChannel) ready(op string) bool {
	if r.Status() != StatusConnected {
		logger.Infof("[realtime] %s skipped, not connected", op)
		return false
	}
	return true
}

func (r *RealtimeChannel) Status() ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *RealtimeChannel) Events() <-chan Event { return r.events }

func (r *RealtimeChannel) Close() {
	r.mu.Lock()
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
	r.sessionID = ""
	r.status = StatusDisconnected
	r.mu.Unlock()
}

func (r *RealtimeChannel) setStatus(s ConnectionStatus) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *RealtimeChannel) setConn(c *websocket.Conn) {
	r.mu.Lock()
	r.conn = c
	r.mu.Unlock()
}

func (r *RealtimeChannel) notify(s ConnectionStatus) {
	r.mu.Lock()
	f := r.onStatus
	r.mu.Unlock()
	if f != nil {
		f(s)
	}
}

func (r *RealtimeChannel) sleep(ctx context.Context, stop chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-ctx.Done():
		r.setStatus(StatusDisconnected)
		return false
	case <-t.C:
		return true
	}
}

func (r *RealtimeChannel) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		logger.Warnf("[realtime] event buffer full, dropping kind=%d", ev.Kind)
	}
}

func (r *RealtimeChannel) enqueue(f *model.Frame) {
	select {
	case r.sendCh <- f:
	default:
		logger.Warnf("[realtime] send queue full, dropping %s", f.Event)
	}
}

func mustFrame(event string, payload any) *model.Frame {
	f, err := model.NewFrame(event, payload)
	if err != nil {
		logger.Errorf("[realtime] build frame %s: %v", event, err)
		return &model.Frame{Event: event}
	}
	return f
}
