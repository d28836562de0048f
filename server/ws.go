package server

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"supportchat/logger"
	"supportchat/model"
	"supportchat/tools/security"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsHandler is the event dispatch entry for one client connection. An
// expired token is reported in-band as token-expired so the client can
// raise its dedicated signal; any other bad token never gets upgraded.
func (s *Server) wsHandler(c *gin.Context) {
	token := security.FromHeader(c.GetHeader("Authorization"))
	if token == "" {
		token = c.Query("token")
	}
	claims, verr := security.Verify(security.Options{Secret: []byte(s.cfg.JWTSecret)}, token)
	if verr != nil && !errors.Is(verr, security.ErrExpired) {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed: %v", err)
		return
	}

	if verr != nil {
		f, _ := model.NewFrame(model.EventTokenExpired, nil)
		raw, _ := f.Encode()
		_ = conn.WriteMessage(websocket.TextMessage, raw)
		_ = conn.Close()
		return
	}

	sub := s.hub.register(claims.UserID, claims.Role, conn)
	logger.Infof("[ws] connected conn=%s user=%s role=%s", sub.id, sub.userID, sub.role)

	if sub.role == "support" {
		s.hub.SendTo(sub, mustFrame(model.EventPendingSessions,
			model.PendingSessionsPayload{Sessions: s.store.ListSessions(model.SessionPending)}))
		s.hub.SendTo(sub, mustFrame(model.EventStatsUpdate, s.store.Stats()))
	}

	s.readLoop(sub)
	s.hub.unregister(sub)
	logger.Infof("[ws] disconnected conn=%s", sub.id)
}

func (s *Server) readLoop(sub *subscriber) {
	conn := sub.conn
	conn.SetReadLimit(1 << 20)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed conn=%s", sub.id)
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout conn=%s", sub.id)
			} else {
				logger.Infof("[ws] read error conn=%s: %v", sub.id, err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := model.ParseFrame(data)
		if perr != nil {
			logger.Warnf("[ws] bad frame conn=%s: %v", sub.id, perr)
			continue
		}

		switch frame.Event {
		case model.EventJoinSession:
			s.handleJoin(sub, frame)
		case model.EventSendMessage:
			s.handleSend(sub, frame)
		case model.EventTyping:
			s.handleTyping(sub, frame)
		case model.EventMarkRead:
			// read receipts are best-effort and not tracked server-side yet
		default:
			logger.Debugf("[ws] ignoring event %q conn=%s", frame.Event, sub.id)
		}
	}
}

func (s *Server) handleJoin(sub *subscriber, frame *model.Frame) {
	p, err := model.DecodePayload[model.JoinSessionPayload](frame.Data)
	if err != nil || p.SessionID == "" {
		logger.Warnf("[ws] bad join-session conn=%s: %v", sub.id, err)
		return
	}
	sess, err := s.store.Get(p.SessionID)
	if err != nil {
		logger.Warnf("[ws] join unknown session=%s conn=%s", p.SessionID, sub.id)
		return
	}
	if sub.role != "support" && sess.UserID != sub.userID {
		logger.Warnf("[ws] join denied session=%s conn=%s", p.SessionID, sub.id)
		return
	}

	s.hub.joinSession(sub, p.SessionID)
	msgs, _ := s.store.Messages(p.SessionID)
	s.hub.SendTo(sub, mustFrame(model.EventSessionJoined,
		model.SessionJoinedPayload{Session: *sess, Messages: msgs}))
}

func (s *Server) handleSend(sub *subscriber, frame *model.Frame) {
	p, err := model.DecodePayload[model.SendMessagePayload](frame.Data)
	if err != nil || p.SessionID == "" || p.Body == "" {
		logger.Warnf("[ws] bad send-message conn=%s: %v", sub.id, err)
		return
	}
	sender := model.RoleUser
	if sub.role == "support" {
		sender = model.RoleSupport
	}
	msg, err := s.store.AppendMessage(p.SessionID, sender, p.Body)
	if err != nil {
		logger.Warnf("[ws] send rejected session=%s conn=%s: %v", p.SessionID, sub.id, err)
		return
	}
	// The echo back to the sender is its only delivery acknowledgement.
	s.hub.BroadcastSession(p.SessionID, mustFrame(model.EventNewMessage,
		model.NewMessagePayload{Message: *msg}), nil)
}

func (s *Server) handleTyping(sub *subscriber, frame *model.Frame) {
	p, err := model.DecodePayload[model.TypingPayload](frame.Data)
	if err != nil || p.SessionID == "" {
		return
	}
	actor := model.RoleUser
	if sub.role == "support" {
		actor = model.RoleSupport
	}
	s.hub.BroadcastSession(p.SessionID, mustFrame(model.EventUserTyping,
		model.TypingPayload{SessionID: p.SessionID, IsTyping: p.IsTyping, Actor: actor}), sub)
}

func mustFrame(event string, payload any) *model.Frame {
	f, err := model.NewFrame(event, payload)
	if err != nil {
		logger.Errorf("[ws] build frame %s: %v", event, err)
		return &model.Frame{Event: event}
	}
	return f
}
