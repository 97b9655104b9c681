package store

import (
	"sync"
	"time"

	"helpdesk-chat-client/internal/types"
)

// ChatStore keeps the ordered conversation log for every live session.
// Operations are total: updates and removals against an unknown session or
// message id are no-ops reported through the bool return.
type ChatStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionLog
	// OAuth state mapping per session (CSRF protection for the agent login)
	oauthStateBySession map[string]string
	sessionByOAuthState map[string]string
	// Agent name associated with a session after auth
	agentBySession map[string]string
}

type sessionLog struct {
	messages []types.Message
	lastID   int64
}

func NewChatStore() *ChatStore {
	return &ChatStore{
		sessions:            make(map[string]*sessionLog),
		oauthStateBySession: make(map[string]string),
		sessionByOAuthState: make(map[string]string),
		agentBySession:      make(map[string]string),
	}
}

// Append adds a message to the end of the session log and returns it with
// its allocated id and timestamp. IDs are time-derived and strictly
// increasing within a session, so an id is never reused even when two
// appends land on the same millisecond.
func (s *ChatStore) Append(sessionID, role, content string, revealing bool) types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[sessionID]
	if sess == nil {
		sess = &sessionLog{}
		s.sessions[sessionID] = sess
	}
	id := time.Now().UnixMilli()
	if id <= sess.lastID {
		id = sess.lastID + 1
	}
	sess.lastID = id
	msg := types.Message{
		ID:        id,
		Role:      role,
		Content:   content,
		Revealing: revealing,
		Timestamp: time.Now(),
	}
	sess.messages = append(sess.messages, msg)
	return msg
}

// UpdateContent rewrites the content of one message in place. Returns false
// when the message no longer exists.
func (s *ChatStore) UpdateContent(sessionID string, id int64, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.findLocked(sessionID, id); m != nil {
		m.Content = content
		return true
	}
	return false
}

// SetRevealing flips the reveal-ownership flag on one message.
func (s *ChatStore) SetRevealing(sessionID string, id int64, revealing bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.findLocked(sessionID, id); m != nil {
		m.Revealing = revealing
		return true
	}
	return false
}

// Remove deletes one message from the log, preserving the order of the rest.
func (s *ChatStore) Remove(sessionID string, id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[sessionID]
	if sess == nil {
		return false
	}
	for i := range sess.messages {
		if sess.messages[i].ID == id {
			sess.messages = append(sess.messages[:i], sess.messages[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the session log in insertion order.
func (s *ChatStore) Snapshot(sessionID string) []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess := s.sessions[sessionID]
	if sess == nil {
		return nil
	}
	out := make([]types.Message, len(sess.messages))
	copy(out, sess.messages)
	return out
}

// Drop forgets a session entirely, including its OAuth state and agent
// identity.
func (s *ChatStore) Drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	if st, ok := s.oauthStateBySession[sessionID]; ok {
		delete(s.sessionByOAuthState, st)
		delete(s.oauthStateBySession, sessionID)
	}
	delete(s.agentBySession, sessionID)
}

func (s *ChatStore) findLocked(sessionID string, id int64) *types.Message {
	sess := s.sessions[sessionID]
	if sess == nil {
		return nil
	}
	for i := range sess.messages {
		if sess.messages[i].ID == id {
			return &sess.messages[i]
		}
	}
	return nil
}

// OAuth helpers

func (s *ChatStore) SetOAuthState(sessionID, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oauthStateBySession[sessionID] = state
	s.sessionByOAuthState[state] = sessionID
}

func (s *ChatStore) GetSessionByOAuthState(state string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionByOAuthState[state]
}

func (s *ChatStore) ClearOAuthState(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.oauthStateBySession[sessionID]; ok {
		delete(s.sessionByOAuthState, st)
		delete(s.oauthStateBySession, sessionID)
	}
}

func (s *ChatStore) SetAgent(sessionID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentBySession[sessionID] = name
}

func (s *ChatStore) GetAgent(sessionID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentBySession[sessionID]
}
