package browser

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config controls the session manager.
type Config struct {
	// MaxSessions caps concurrently open browsers.
	MaxSessions int
	// Headless runs Chrome without a display.
	Headless bool
	// Timeout bounds session startup and individual page operations.
	Timeout time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// SessionGauge receives the open-session count whenever it changes.
// Satisfied by metrics.Collector.
type SessionGauge interface {
	SetActiveSessions(n int)
}

// Manager hands out browser sessions under a hard concurrency cap. The
// cap is a buffered-channel semaphore: Lease blocks until a slot frees
// or the context expires, and Release always returns the slot even
// when session teardown fails.
type Manager struct {
	cfg    Config
	sem    chan struct{}
	logger *zap.Logger

	mu     sync.Mutex
	active int
	gauge  SessionGauge

	// newSession is swapped out by tests.
	newSession func(ctx context.Context, cfg sessionConfig, logger *zap.Logger) (*Session, error)
}

// NewManager creates a session manager.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.MaxSessions),
		logger:     logger,
		newSession: newChromeSession,
	}
}

// Lease opens a new session routed through proxyURL (empty for a
// direct connection). It blocks while the cap is reached.
func (m *Manager) Lease(ctx context.Context, proxyURL string) (*Session, error) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	session, err := m.newSession(ctx, sessionConfig{
		headless: m.cfg.Headless,
		timeout:  m.cfg.Timeout,
		proxyURL: proxyURL,
	}, m.logger)
	if err != nil {
		<-m.sem
		return nil, err
	}

	m.mu.Lock()
	m.active++
	active, gauge := m.active, m.gauge
	m.mu.Unlock()
	if gauge != nil {
		gauge.SetActiveSessions(active)
	}
	return session, nil
}

// Release closes the session and frees its slot. Safe to call more
// than once; only the first call frees the slot.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	released := false
	s.closeOnce.Do(func() {
		s.cancelCtx()
		s.cancelAlloc()
		released = true
	})
	if !released {
		return
	}

	<-m.sem
	m.mu.Lock()
	m.active--
	active, gauge := m.active, m.gauge
	m.mu.Unlock()
	if gauge != nil {
		gauge.SetActiveSessions(active)
	}
	m.logger.Debug("browser session released",
		zap.String("session", s.ID),
		zap.Duration("lifetime", time.Since(s.CreatedAt)))
}

// SetSessionGauge wires a metrics sink for the open-session count.
func (m *Manager) SetSessionGauge(g SessionGauge) {
	m.mu.Lock()
	m.gauge = g
	active := m.active
	m.mu.Unlock()
	if g != nil {
		g.SetActiveSessions(active)
	}
}

// Active reports currently open sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// MaxSessions reports the configured cap.
func (m *Manager) MaxSessions() int {
	return m.cfg.MaxSessions
}
