package mirror

import (
	"fmt"
	"log/slog"
	"sync"
)

// Manager tracks the lifecycle of active mirror sessions by device key.
// Each session owns its controller outright; nothing is shared between
// devices.
type Manager struct {
	log      *slog.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. If log is nil, slog.Default()
// is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log.With("component", "session-manager"),
		sessions: make(map[string]*Session),
	}
}

// Create builds a controller from cfg and registers a new session for
// key. The caller is responsible for running the returned session.
// Fails if a session with this key already exists.
func (m *Manager) Create(key string, source SourceFunc, cfg Config) (*Session, error) {
	ctrl, err := New(cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[key]; ok {
		ctrl.Close()
		m.log.Warn("session already exists, rejecting duplicate", "key", key)
		return nil, fmt.Errorf("session %q already exists", key)
	}

	s := NewSession(key, source, ctrl, m.log)
	m.sessions[key] = s
	m.log.Info("session created", "key", key)
	return s, nil
}

// Get returns the session for key, if any.
func (m *Manager) Get(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Remove deregisters a session and signals its Run loop to stop.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		m.log.Info("session removed", "key", key)
	}
}

// List returns all active sessions.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
