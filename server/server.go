package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"supportchat/config"
	"supportchat/logger"
	"supportchat/middleware"
	"supportchat/model"
	"supportchat/tools/errs"
	"supportchat/tools/security"
)

// Server wires the REST surface and the websocket hub over one store.
type Server struct {
	cfg    *config.Config
	store  *Store
	hub    *Hub
	engine *gin.Engine
}

func NewServer(cfg *config.Config) *Server {
	s := &Server{
		cfg:   cfg,
		store: NewStore(),
		hub:   NewHub(),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/api/login", s.login)
	r.GET("/ws", s.wsHandler)

	auth := middleware.Auth(security.Options{Secret: []byte(cfg.JWTSecret)})

	chat := r.Group("/api/chat", auth)
	{
		chat.POST("/session", s.createSession)
		chat.GET("/session", s.activeSession)
		chat.GET("/sessions/:id", s.getSession)
		chat.GET("/sessions/:id/messages", s.listMessages)
		chat.POST("/sessions/:id/messages", s.sendMessage)
		chat.POST("/sessions/:id/read", s.markRead)
		chat.POST("/sessions/:id/close", s.closeByUser)
	}

	agent := r.Group("/api/agent", auth, middleware.RequireRole("support"))
	{
		agent.GET("/sessions", s.listSessions)
		agent.GET("/sessions/:id", s.getSession)
		agent.GET("/sessions/:id/messages", s.listMessages)
		agent.POST("/sessions/:id/messages", s.sendMessage)
		agent.POST("/sessions/:id/read", s.markRead)
		agent.POST("/sessions/:id/claim", s.claimSession)
		agent.POST("/sessions/:id/release", s.releaseSession)
		agent.POST("/sessions/:id/close", s.closeByAgent)
		agent.POST("/sessions/:id/assign", s.assignSession)
	}

	s.engine = r
	return s
}

// Store exposes the backing store for test hooks.
func (s *Server) Store() *Store { return s.store }

// Handler returns the http handler; tests mount it in httptest.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Run() error {
	logger.Infof("[server] listening on :%s", s.cfg.Port)
	return s.engine.Run(":" + s.cfg.Port)
}

// login mints a development token; production fronts this with the shop's
// own auth service.
func (s *Server) login(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
		Role   string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, errs.New(errs.CodeBadRequest, "user_id is required"))
		return
	}
	if req.Role == "" {
		req.Role = "user"
	}
	token, exp, err := security.Generate(
		security.Options{Secret: []byte(s.cfg.JWTSecret), TTL: 2 * time.Hour},
		req.UserID, req.Role)
	if err != nil {
		abortErr(c, errs.New(errs.CodeInternal, "token generation failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": exp})
}

func (s *Server) createSession(c *gin.Context) {
	sess := s.store.CreateSession(c.GetString(middleware.CtxUserIDKey))
	s.hub.BroadcastAgents(mustFrame(model.EventNewPendingSession, model.SessionStatusPayload{Session: *sess}))
	s.broadcastStats()
	c.JSON(http.StatusOK, sess)
}

func (s *Server) activeSession(c *gin.Context) {
	sess, err := s.store.ActiveSessionFor(c.GetString(middleware.CtxUserIDKey))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.store.Get(c.Param("id"))
	if err != nil {
		abortErr(c, err)
		return
	}
	if !s.mayAccess(c, sess) {
		abortErr(c, errs.New(errs.CodeNotHolder, "not your session"))
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) listMessages(c *gin.Context) {
	sess, err := s.store.Get(c.Param("id"))
	if err != nil {
		abortErr(c, err)
		return
	}
	if !s.mayAccess(c, sess) {
		abortErr(c, errs.New(errs.CodeNotHolder, "not your session"))
		return
	}
	msgs, err := s.store.Messages(sess.ID)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) sendMessage(c *gin.Context) {
	var req struct {
		Body string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, errs.New(errs.CodeBadRequest, "body is required"))
		return
	}
	sess, err := s.store.Get(c.Param("id"))
	if err != nil {
		abortErr(c, err)
		return
	}
	if !s.mayAccess(c, sess) {
		abortErr(c, errs.New(errs.CodeNotHolder, "not your session"))
		return
	}
	sender := model.RoleUser
	if c.GetString(middleware.CtxRoleKey) == "support" {
		sender = model.RoleSupport
	}
	msg, err := s.store.AppendMessage(sess.ID, sender, req.Body)
	if err != nil {
		abortErr(c, err)
		return
	}
	// Realtime subscribers on the other side see REST-sent messages too.
	s.hub.BroadcastSession(sess.ID, mustFrame(model.EventNewMessage, model.NewMessagePayload{Message: *msg}), nil)
	c.JSON(http.StatusOK, msg)
}

func (s *Server) markRead(c *gin.Context) {
	// Best-effort; no per-message read tracking yet.
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) closeByUser(c *gin.Context) {
	sess, err := s.store.CloseByUser(c.Param("id"), c.GetString(middleware.CtxUserIDKey))
	if err != nil {
		abortErr(c, err)
		return
	}
	s.announceStatus(sess, model.EventSessionClosed)
	c.JSON(http.StatusOK, sess)
}

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.ListSessions(model.SessionStatus(c.Query("status"))))
}

func (s *Server) claimSession(c *gin.Context) {
	agent := model.AgentRef{ID: c.GetString(middleware.CtxUserIDKey)}
	var attrib struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&attrib); err == nil {
		agent.Name, agent.Email = attrib.Name, attrib.Email
	}
	sess, err := s.store.Claim(c.Param("id"), agent)
	if err != nil {
		abortErr(c, err)
		return
	}
	s.announceStatus(sess, model.EventSessionStatusChanged)
	c.JSON(http.StatusOK, sess)
}

func (s *Server) releaseSession(c *gin.Context) {
	sess, err := s.store.Release(c.Param("id"), c.GetString(middleware.CtxUserIDKey))
	if err != nil {
		abortErr(c, err)
		return
	}
	s.announceStatus(sess, model.EventSessionStatusChanged)
	s.hub.BroadcastAgents(mustFrame(model.EventNewPendingSession, model.SessionStatusPayload{Session: *sess}))
	c.JSON(http.StatusOK, sess)
}

func (s *Server) closeByAgent(c *gin.Context) {
	sess, err := s.store.CloseByAgent(c.Param("id"), c.GetString(middleware.CtxUserIDKey))
	if err != nil {
		abortErr(c, err)
		return
	}
	s.announceStatus(sess, model.EventSessionClosed)
	c.JSON(http.StatusOK, sess)
}

func (s *Server) assignSession(c *gin.Context) {
	var req struct {
		ID    string `json:"id" binding:"required"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, errs.New(errs.CodeBadRequest, "agent id is required"))
		return
	}
	sess, err := s.store.Assign(c.Param("id"), model.AgentRef{ID: req.ID, Name: req.Name, Email: req.Email})
	if err != nil {
		abortErr(c, err)
		return
	}
	s.announceStatus(sess, model.EventSessionStatusChanged)
	c.JSON(http.StatusOK, sess)
}

// mayAccess: customers touch only their own sessions, agents touch any.
func (s *Server) mayAccess(c *gin.Context, sess *model.ChatSession) bool {
	if c.GetString(middleware.CtxRoleKey) == "support" {
		return true
	}
	return sess.UserID == c.GetString(middleware.CtxUserIDKey)
}

func (s *Server) announceStatus(sess *model.ChatSession, event string) {
	s.hub.BroadcastSession(sess.ID, mustFrame(event, model.SessionStatusPayload{Session: *sess}), nil)
	s.broadcastStats()
}

func (s *Server) broadcastStats() {
	s.hub.BroadcastAgents(mustFrame(model.EventStatsUpdate, s.store.Stats()))
}

func abortErr(c *gin.Context, err error) {
	ce, ok := err.(*errs.CodeError)
	if !ok {
		ce = errs.New(errs.CodeInternal, err.Error())
	}
	c.AbortWithStatusJSON(httpStatus(ce.Code), ce)
}

func httpStatus(code int) int {
	switch code {
	case errs.CodeAlreadyAttended:
		return http.StatusConflict
	case errs.CodeNotHolder:
		return http.StatusForbidden
	case errs.CodeSessionClosed:
		return http.StatusGone
	case errs.CodeSessionNotFound:
		return http.StatusNotFound
	case errs.CodeAuthExpired, errs.CodeAuthRejected:
		return http.StatusUnauthorized
	case errs.CodeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
