// Package server is the in-memory reference backend for the chat transport:
// the REST surface the polling channel and claim coordinator consume, and
// the websocket hub the realtime channel connects to. The demo binary runs
// it standalone; the end-to-end tests run it inside httptest.
package server

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"supportchat/model"
	"supportchat/tools/errs"
	"supportchat/tools/ids"
)

// Store keeps sessions and messages in memory and enforces the session
// state machine: pending → active via claim, active → pending via release,
// active/pending → closed. At most one agent holds a session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*model.ChatSession
	messages map[string][]model.ChatMessage
	clock    func() time.Time // injectable for tests
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*model.ChatSession),
		messages: make(map[string][]model.ChatMessage),
		clock:    time.Now,
	}
}

// SetClock overrides the timestamp source in tests.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	s.clock = clock
	s.mu.Unlock()
}

func (s *Store) CreateSession(userID string) *model.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &model.ChatSession{
		ID:        "sess_" + uuid.NewString(),
		UserID:    userID,
		Status:    model.SessionPending,
		CreatedAt: s.clock(),
	}
	s.sessions[sess.ID] = sess
	return snapshot(sess)
}

// ActiveSessionFor returns the caller's most recent non-closed session.
func (s *Store) ActiveSessionFor(userID string) (*model.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *model.ChatSession
	for _, sess := range s.sessions {
		if sess.UserID != userID || sess.Status == model.SessionClosed {
			continue
		}
		if best == nil || sess.CreatedAt.After(best.CreatedAt) {
			best = sess
		}
	}
	if best == nil {
		return nil, errs.New(errs.CodeSessionNotFound, "no active session")
	}
	return snapshot(best), nil
}

func (s *Store) Get(sessionID string) (*model.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, errs.New(errs.CodeSessionNotFound, "session not found")
	}
	return snapshot(sess), nil
}

func (s *Store) ListSessions(status model.SessionStatus) []model.ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ChatSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if status != "" && sess.Status != status {
			continue
		}
		out = append(out, *snapshot(sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// AppendMessage stores one immutable message with a server-side id and
// timestamp and returns it.
func (s *Store) AppendMessage(sessionID string, sender model.SenderRole, body string) (*model.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, errs.New(errs.CodeSessionNotFound, "session not found")
	}
	if sess.Status == model.SessionClosed {
		return nil, errs.New(errs.CodeSessionClosed, "session is closed")
	}
	msg := model.ChatMessage{
		ID:        ids.GenerateString(),
		SessionID: sessionID,
		Sender:    sender,
		Body:      body,
		CreatedAt: s.clock(),
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	sess.LastMessageAt = msg.CreatedAt
	return &msg, nil
}

func (s *Store) Messages(sessionID string) ([]model.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, errs.New(errs.CodeSessionNotFound, "session not found")
	}
	src := s.messages[sessionID]
	out := make([]model.ChatMessage, len(src))
	copy(out, src)
	return out, nil
}

// Claim grants exclusive attendance. Pending sessions and sessions whose
// assigned-agent reference is corrupted are claimable; re-claiming a held
// session by its holder is an idempotent success; anyone else gets a 409
// with attribution.
func (s *Store) Claim(sessionID string, agent model.AgentRef) (*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, errs.New(errs.CodeSessionNotFound, "session not found")
	}
	switch sess.Status {
	case model.SessionClosed:
		return nil, errs.New(errs.CodeSessionClosed, "session is closed")
	case model.SessionActive:
		if sess.AssignedAgent != nil && sess.AssignedAgent.ID == agent.ID {
			return snapshot(sess), nil
		}
		if !sess.AgentCorrupted() {
			holder := sess.AssignedAgent
			return nil, errs.New(errs.CodeAlreadyAttended, "session already attended").
				WithAgent(&errs.Actor{ID: holder.ID, Name: holder.Name, Email: holder.Email})
		}
		// Corrupted holder: recover by allowing the takeover.
	}
	sess.Status = model.SessionActive
	sess.AssignedAgent = &model.AgentRef{ID: agent.ID, Name: agent.Name, Email: agent.Email}
	return snapshot(sess), nil
}

// Release returns a held session to pending.
func (s *Store) Release(sessionID, agentID string) (*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, errs.New(errs.CodeSessionNotFound, "session not found")
	}
	if sess.Status != model.SessionActive || sess.AssignedAgent == nil || sess.AssignedAgent.ID != agentID {
		return nil, errs.New(errs.CodeNotHolder, "caller does not hold this session")
	}
	sess.Status = model.SessionPending
	sess.AssignedAgent = nil
	return snapshot(sess), nil
}

// CloseByAgent terminates a session; only the holder may.
func (s *Store) CloseByAgent(sessionID, agentID string) (*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, errs.New(errs.CodeSessionNotFound, "session not found")
	}
	if sess.AssignedAgent == nil || sess.AssignedAgent.ID != agentID {
		return nil, errs.New(errs.CodeNotHolder, "caller does not hold this session")
	}
	sess.Status = model.SessionClosed
	return snapshot(sess), nil
}

// CloseByUser lets the owning customer end their own session.
func (s *Store) CloseByUser(sessionID, userID string) (*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, errs.New(errs.CodeSessionNotFound, "session not found")
	}
	if sess.UserID != userID {
		return nil, errs.New(errs.CodeNotHolder, "not your session")
	}
	sess.Status = model.SessionClosed
	return snapshot(sess), nil
}

// Assign forces a session onto an agent (administrative path).
func (s *Store) Assign(sessionID string, agent model.AgentRef) (*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, errs.New(errs.CodeSessionNotFound, "session not found")
	}
	if sess.Status == model.SessionClosed {
		return nil, errs.New(errs.CodeSessionClosed, "session is closed")
	}
	sess.Status = model.SessionActive
	sess.AssignedAgent = &model.AgentRef{ID: agent.ID, Name: agent.Name, Email: agent.Email}
	return snapshot(sess), nil
}

// Stats summarizes the board for the agent console.
func (s *Store) Stats() model.StatsPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out model.StatsPayload
	for _, sess := range s.sessions {
		switch sess.Status {
		case model.SessionPending:
			out.PendingSessions++
		case model.SessionActive:
			out.ActiveSessions++
		}
	}
	return out
}

// CorruptAssignment writes the session id into the assigned-agent slot,
// reproducing the backend inconsistency the claim coordinator has to
// recover from. Test hook only.
func (s *Store) CorruptAssignment(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.Status = model.SessionActive
		sess.AssignedAgent = &model.AgentRef{ID: sessionID}
	}
}

func snapshot(sess *model.ChatSession) *model.ChatSession {
	cp := *sess
	if sess.AssignedAgent != nil {
		agent := *sess.AssignedAgent
		cp.AssignedAgent = &agent
	}
	return &cp
}
