package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// IdleTTL is how long a session without subscribers survives without
	// activity. Zero means 30 minutes.
	IdleTTL time.Duration

	// MaxSessions caps live sessions. Zero means 10000.
	MaxSessions int

	// SweepInterval is how often expired sessions are collected.
	// Zero derives it from IdleTTL.
	SweepInterval time.Duration

	// Session is applied to every session the manager creates.
	Session Options
}

// Manager owns the live sessions and expires idle ones in the background.
type Manager struct {
	cfg    ManagerConfig
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stopSweep chan struct{}
	sweepDone chan struct{}
	stopOnce  sync.Once
}

// NewManager creates a manager and starts its sweep loop.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10000
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = min(cfg.IdleTTL/2, time.Minute)
	}
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = zap.NewNop()
	}
	if cfg.Session.Observer == nil {
		cfg.Session.Observer = nopObserver{}
	}

	m := &Manager{
		cfg:       cfg,
		logger:    cfg.Session.Logger.Named("session"),
		sessions:  make(map[string]*Session),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Create starts a new session with a fresh id.
func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrLimit, m.cfg.MaxSessions)
	}
	id := uuid.NewString()
	opts := m.cfg.Session
	opts.Logger = m.logger
	s := New(id, opts)
	m.sessions[id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.cfg.Session.Observer.SessionsChanged(n)
	m.logger.Debug("session created", zap.String("session", id), zap.Int("live", n))
	return s, nil
}

// Get returns the live session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// GetOrCreate returns the session with id, creating a new one when id is
// empty or unknown. created reports whether a new session was made.
func (m *Manager) GetOrCreate(id string) (s *Session, created bool, err error) {
	if id != "" {
		if s, err := m.Get(id); err == nil {
			return s, false, nil
		}
	}
	s, err = m.Create()
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Remove closes and forgets a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return
	}
	s.Close()
	m.cfg.Session.Observer.SessionsChanged(n)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stop ends the sweep loop and closes every session.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopSweep)
		<-m.sweepDone

		m.mu.Lock()
		sessions := m.sessions
		m.sessions = make(map[string]*Session)
		m.mu.Unlock()

		for _, s := range sessions {
			s.Close()
		}
		m.cfg.Session.Observer.SessionsChanged(0)
	})
}

func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(time.Now())
		case <-m.stopSweep:
			return
		}
	}
}

// sweep closes sessions idle since before now-IdleTTL that have no
// subscribers.
func (m *Manager) sweep(now time.Time) int {
	cutoff := now.Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.Subscribers() == 0 && s.LastActive().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}
	for _, s := range expired {
		s.Close()
	}
	m.cfg.Session.Observer.SessionsChanged(n)
	m.logger.Info("expired idle sessions", zap.Int("expired", len(expired)), zap.Int("live", n))
	return len(expired)
}
