package session

import "sync"

// Manager keeps the live sessions, creating them on first use through the
// supplied factory.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	factory  func(id string) *Session
}

func NewManager(factory func(id string) *Session) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		factory:  factory,
	}
}

func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		s = m.factory(id)
		m.sessions[id] = s
	}
	return s
}

// Drop removes a session from the registry and returns it (nil when
// unknown) so the caller can archive its transcript.
func (m *Manager) Drop(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	delete(m.sessions, id)
	return s
}
