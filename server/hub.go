package server

import (
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"supportchat/logger"
	"supportchat/model"
	"supportchat/tools/safe"
)

const (
	sendQueueSize    = 64
	hubWriteDeadline = 5 * time.Second
	hubPingEvery     = 30 * time.Second
)

// subscriber is one websocket connection known to the hub. Outbound frames
// go through a buffered queue consumed by a single writer goroutine.
type subscriber struct {
	id      string
	userID  string
	role    string // "user" | "support"
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	doneMu  sync.Once
	session string // joined session id, empty until join-session
}

func (c *subscriber) close() {
	c.doneMu.Do(func() { close(c.done) })
}

// Hub indexes live connections by session and keeps a side index of agent
// connections for pending-queue broadcasts. Dead connections are dropped on
// write or read failure rather than swept by TTL; a chat widget reconnects,
// it does not idle for hours.
type Hub struct {
	mu        sync.RWMutex
	bySession map[string]map[string]*subscriber
	agents    map[string]*subscriber
	all       map[string]*subscriber
	nextID    int64
}

func NewHub() *Hub {
	return &Hub{
		bySession: make(map[string]map[string]*subscriber),
		agents:    make(map[string]*subscriber),
		all:       make(map[string]*subscriber),
	}
}

func (h *Hub) register(userID, role string, conn *websocket.Conn) *subscriber {
	h.mu.Lock()
	h.nextID++
	sub := &subscriber{
		id:     "conn_" + strconv.FormatInt(h.nextID, 10),
		userID: userID,
		role:   role,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
	h.all[sub.id] = sub
	if role == "support" {
		h.agents[sub.id] = sub
	}
	h.mu.Unlock()

	safe.Go(func() { h.writer(sub) })
	return sub
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	delete(h.all, sub.id)
	delete(h.agents, sub.id)
	if sub.session != "" {
		if mm := h.bySession[sub.session]; mm != nil {
			delete(mm, sub.id)
			if len(mm) == 0 {
				delete(h.bySession, sub.session)
			}
		}
	}
	h.mu.Unlock()
	sub.close()
	_ = sub.conn.Close()
}

// joinSession moves the subscriber onto a session's delivery list; a
// subscriber follows one session at a time.
func (h *Hub) joinSession(sub *subscriber, sessionID string) {
	h.mu.Lock()
	if sub.session != "" {
		if mm := h.bySession[sub.session]; mm != nil {
			delete(mm, sub.id)
			if len(mm) == 0 {
				delete(h.bySession, sub.session)
			}
		}
	}
	sub.session = sessionID
	if h.bySession[sessionID] == nil {
		h.bySession[sessionID] = make(map[string]*subscriber)
	}
	h.bySession[sessionID][sub.id] = sub
	h.mu.Unlock()
}

// BroadcastSession fans a frame out to every connection joined to the
// session, optionally skipping the originator.
func (h *Hub) BroadcastSession(sessionID string, frame *model.Frame, except *subscriber) {
	raw, err := frame.Encode()
	if err != nil {
		logger.Errorf("[hub] encode %s: %v", frame.Event, err)
		return
	}
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.bySession[sessionID]))
	for _, sub := range h.bySession[sessionID] {
		if except != nil && sub.id == except.id {
			continue
		}
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		h.push(sub, frame.Event, raw)
	}
}

// BroadcastAgents delivers agent-only events (pending queue, stats) to
// every connected console.
func (h *Hub) BroadcastAgents(frame *model.Frame) {
	raw, err := frame.Encode()
	if err != nil {
		logger.Errorf("[hub] encode %s: %v", frame.Event, err)
		return
	}
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.agents))
	for _, sub := range h.agents {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		h.push(sub, frame.Event, raw)
	}
}

// SendTo queues a frame for one subscriber.
func (h *Hub) SendTo(sub *subscriber, frame *model.Frame) {
	raw, err := frame.Encode()
	if err != nil {
		logger.Errorf("[hub] encode %s: %v", frame.Event, err)
		return
	}
	h.push(sub, frame.Event, raw)
}

func (h *Hub) push(sub *subscriber, event string, raw []byte) {
	select {
	case sub.send <- raw:
	default:
		logger.Warnf("[hub] send queue full conn=%s, dropping %s", sub.id, event)
	}
}

func (h *Hub) writer(sub *subscriber) {
	ping := time.NewTicker(hubPingEvery)
	defer ping.Stop()
	for {
		select {
		case <-sub.done:
			return
		case raw := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(hubWriteDeadline))
			if err := sub.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				logger.Infof("[hub] write failed conn=%s: %v", sub.id, err)
				h.unregister(sub)
				return
			}
		case <-ping.C:
			_ = sub.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(hubWriteDeadline))
		}
	}
}
