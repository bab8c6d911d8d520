package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Manager tracks active sessions in memory and enforces single-owner access:
// at most one caller drives a given session at a time.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	busy     map[string]context.CancelFunc
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		busy:     make(map[string]context.CancelFunc),
	}
}

// Put registers a session. Existing entries are not replaced.
func (m *Manager) Put(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID()]; ok {
		return fmt.Errorf("session %s already registered", s.ID())
	}
	m.sessions[s.ID()] = s
	return nil
}

// Get returns the session with the given id, if present.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Acquire marks a session busy for the duration of one message exchange,
// keeping hold of the exchange's cancel func so Interrupt can abort it.
// A second concurrent acquire for the same session fails rather than queue,
// so callers get an immediate busy signal.
func (m *Manager) Acquire(id string, cancel context.CancelFunc) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if _, inFlight := m.busy[id]; inFlight {
		return nil, fmt.Errorf("session %s has a message in flight", id)
	}
	if cancel == nil {
		cancel = func() {}
	}
	m.busy[id] = cancel
	return s, nil
}

// Release clears the busy mark set by Acquire.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.busy, id)
}

// Interrupt cancels the in-flight exchange for a session, if any. The busy
// mark stays until the interrupted handler releases it.
func (m *Manager) Interrupt(id string) bool {
	m.mu.Lock()
	cancel, ok := m.busy[id]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Remove drops a session from the active set.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.busy, id)
}

// IdleBefore returns ids of active sessions whose last activity predates
// cutoff and that are not currently busy. The janitor archives these.
func (m *Manager) IdleBefore(cutoff time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, s := range m.sessions {
		if _, inFlight := m.busy[id]; inFlight {
			continue
		}
		if s.UpdatedAt().Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}
