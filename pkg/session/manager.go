package session

import (
	"sync"
	"time"

	"github.com/cbodonnell/gserver/pkg/repositories/models"
	"github.com/google/uuid"
)

// Manager tracks the live sessions of the host.
type Manager struct {
	sessions     map[string]*Session
	sessionsLock sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session for identity, which may be nil.
func (m *Manager) Create(identity *models.Identity) *Session {
	m.sessionsLock.Lock()
	defer m.sessionsLock.Unlock()

	s := NewSession(uuid.NewString(), identity)
	m.sessions[s.ID] = s
	return s
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.sessionsLock.RLock()
	defer m.sessionsLock.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove closes the session, stops its worker and forgets it.
func (m *Manager) Remove(id string) {
	m.sessionsLock.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.sessionsLock.Unlock()

	if ok {
		s.Close()
		s.Stop()
	}
}

// GetSessions returns a snapshot of the live sessions.
func (m *Manager) GetSessions() []*Session {
	m.sessionsLock.RLock()
	defer m.sessionsLock.RUnlock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// RemoveIdle removes sessions that have neither a game frame nor an open host view and
// were inactive since before cutoff. It returns the ids of the removed sessions.
func (m *Manager) RemoveIdle(cutoff time.Time) []string {
	m.sessionsLock.Lock()
	expired := make([]*Session, 0)
	for id, s := range m.sessions {
		if s.expireIfIdle(cutoff) {
			delete(m.sessions, id)
			expired = append(expired, s)
		}
	}
	m.sessionsLock.Unlock()

	removed := make([]string, 0, len(expired))
	for _, s := range expired {
		s.Stop()
		removed = append(removed, s.ID)
	}
	return removed
}
