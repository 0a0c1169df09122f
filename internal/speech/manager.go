package speech

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Manager owns the live sessions, keyed by generated ID.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	counter  uint64

	newSession func(id string) *Session
}

// NewManager creates a session manager. The factory is invoked for
// every created session so each one gets its own recognizer.
func NewManager(factory func(id string) *Session) *Manager {
	return &Manager{
		sessions:   make(map[string]*Session),
		newSession: factory,
	}
}

// Create instantiates and registers a new session.
func (m *Manager) Create() *Session {
	n := atomic.AddUint64(&m.counter, 1)
	id := fmt.Sprintf("session-%d", n)

	s := m.newSession(id)
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove closes and forgets a session.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown session %s", id)
	}
	return s.Close()
}

// CloseAll shuts down every live session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
}
