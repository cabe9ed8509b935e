package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Retio-ai/pagemap/internal/browser"
	"github.com/Retio-ai/pagemap/internal/pagemaperr"
	"github.com/Retio-ai/pagemap/internal/telemetry"
)

// Session lifecycle defaults.
const (
	DefaultSessionTTL      = 30 * time.Minute
	DefaultMaxNavigations  = 500
	DefaultMaxSessionAge   = 15 * time.Minute
	DefaultMaxTabs         = 10
	DefaultToolLockTimeout = 5 * time.Second
)

// Pool is the slice of the browser pool the manager needs. Satisfied
// by *browser.Pool.
type Pool interface {
	Acquire(ctx context.Context, sessionID string) (browser.Session, error)
	Release(sessionID string)
}

// toolLock is a mutex whose Acquire gives up after a deadline instead
// of blocking a tool call forever.
type toolLock struct {
	ch chan struct{}
}

func newToolLock() *toolLock {
	l := &toolLock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

// Acquire takes the lock, waiting at most timeout. Returns ErrToolBusy
// when another tool call still holds it.
func (l *toolLock) Acquire(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-l.ch:
		return nil
	case <-timer.C:
		return pagemaperr.ErrToolBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *toolLock) Release() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// Entry is the mutable state of one session.
type Entry struct {
	ID    string
	Cache *PageMapCache

	toolLock *toolLock

	mu                sync.Mutex
	sess              browser.Session
	createdAt         time.Time
	lastUsedAt        time.Time
	navigationCount   int
	browserAcquiredAt time.Time
}

// NavigationCount reports how many browser operations this session has
// performed since the last recycle.
func (e *Entry) NavigationCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.navigationCount
}

// Config tunes the session manager; zero values select the defaults.
type Config struct {
	SessionTTL      time.Duration
	MaxNavigations  int
	MaxSessionAge   time.Duration
	MaxTabs         int
	ToolLockTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.MaxNavigations <= 0 {
		c.MaxNavigations = DefaultMaxNavigations
	}
	if c.MaxSessionAge <= 0 {
		c.MaxSessionAge = DefaultMaxSessionAge
	}
	if c.MaxTabs <= 0 {
		c.MaxTabs = DefaultMaxTabs
	}
	if c.ToolLockTimeout <= 0 {
		c.ToolLockTimeout = DefaultToolLockTimeout
	}
	return c
}

// Manager owns every session entry. Browser contexts are acquired
// lazily: a cache-only read never touches the pool.
type Manager struct {
	cfg         Config
	pool        Pool
	templates   *TemplateCache
	validateURL func(string) error
	logger      *zap.Logger
	collector   *telemetry.Collector

	mu       sync.Mutex
	sessions map[string]*Entry
}

// NewManager builds a session manager. validateURL, when non-nil, is
// installed as the SSRF route guard on every acquired browser context.
func NewManager(cfg Config, pool Pool, templates *TemplateCache, validateURL func(string) error, logger *zap.Logger, collector *telemetry.Collector) *Manager {
	if templates == nil {
		templates = NewTemplateCache(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:         cfg.withDefaults(),
		pool:        pool,
		templates:   templates,
		validateURL: validateURL,
		logger:      logger,
		collector:   collector,
		sessions:    make(map[string]*Entry),
	}
}

// Templates returns the shared template cache.
func (m *Manager) Templates() *TemplateCache { return m.templates }

// GetContext returns the entry for sessionID, creating it on first
// use. Expired entries (created_at + TTL in the past) are swept here;
// no separate timer runs.
func (m *Manager) GetContext(sessionID string) *Entry {
	now := time.Now()

	m.mu.Lock()
	var expired []*Entry
	for id, e := range m.sessions {
		e.mu.Lock()
		old := now.Sub(e.createdAt) > m.cfg.SessionTTL
		e.mu.Unlock()
		if old {
			expired = append(expired, e)
			delete(m.sessions, id)
		}
	}
	entry, ok := m.sessions[sessionID]
	if !ok {
		entry = &Entry{
			ID:        sessionID,
			Cache:     NewPageMapCache(0, 0),
			toolLock:  newToolLock(),
			createdAt: now,
		}
		m.sessions[sessionID] = entry
		m.logger.Info("session created", zap.String("session_id", sessionID))
	}
	entry.mu.Lock()
	entry.lastUsedAt = now
	entry.mu.Unlock()
	m.mu.Unlock()

	for _, e := range expired {
		m.cleanup(e)
		m.logger.Info("session TTL expired", zap.String("session_id", e.ID))
	}
	return entry
}

// AcquireToolLock serializes tool calls within a session. The caller
// must Release the returned lock in a deferred scope.
func (m *Manager) AcquireToolLock(ctx context.Context, entry *Entry) (func(), error) {
	if err := entry.toolLock.Acquire(ctx, m.cfg.ToolLockTimeout); err != nil {
		return nil, err
	}
	return entry.toolLock.Release, nil
}

// GetSession returns the entry's live browser session, acquiring or
// recycling one as needed. Every call counts as a navigation for
// recycle accounting.
func (m *Manager) GetSession(ctx context.Context, entry *Entry) (browser.Session, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.sess != nil {
		if !entry.sess.IsAlive(ctx) {
			m.logger.Warn("browser session dead, recovering",
				zap.String("session_id", entry.ID))
			m.recycleLocked(entry, "dead")
		} else if reason := m.recycleReasonLocked(entry); reason != "" {
			m.logger.Info("recycling browser session",
				zap.String("session_id", entry.ID), zap.String("reason", reason))
			m.recycleLocked(entry, reason)
		} else if entry.sess.TabCount() >= m.cfg.MaxTabs {
			// A runaway tab count is a hard rejection, not a silent
			// context reset: recycling here would destroy tabs the
			// agent may still need.
			return nil, &pagemaperr.ResourceExhaustionError{
				Resource: "tabs",
				Limit:    m.cfg.MaxTabs,
			}
		} else {
			entry.navigationCount++
			return entry.sess, nil
		}
	}

	sess, err := m.pool.Acquire(ctx, entry.ID)
	if err != nil {
		return nil, err
	}
	if m.validateURL != nil {
		if err := sess.InstallRouteGuard(m.validateURL); err != nil {
			m.pool.Release(entry.ID)
			return nil, err
		}
	}
	entry.sess = sess
	entry.browserAcquiredAt = time.Now()
	entry.navigationCount++
	return sess, nil
}

func (m *Manager) recycleReasonLocked(entry *Entry) string {
	if entry.navigationCount >= m.cfg.MaxNavigations {
		return "navigation_count"
	}
	if !entry.browserAcquiredAt.IsZero() &&
		time.Since(entry.browserAcquiredAt) >= m.cfg.MaxSessionAge {
		return "session_age"
	}
	return ""
}

// recycleLocked releases the browser, clears the page-map cache (the
// template cache survives), and resets counters. Caller holds entry.mu.
func (m *Manager) recycleLocked(entry *Entry, reason string) {
	entry.Cache.InvalidateAll()
	m.pool.Release(entry.ID)
	entry.sess = nil
	entry.navigationCount = 0
	entry.browserAcquiredAt = time.Time{}
	m.collector.Emit(telemetry.BrowserDead{
		SessionID: entry.ID,
		Error:     "recycled (" + reason + ")",
	}, "")
}

func (m *Manager) cleanup(entry *Entry) {
	entry.mu.Lock()
	hadSession := entry.sess != nil
	entry.sess = nil
	entry.mu.Unlock()
	entry.Cache.InvalidateAll()
	if hadSession {
		m.pool.Release(entry.ID)
	}
}

// RemoveSession destroys one session's entry and releases its browser.
func (m *Manager) RemoveSession(sessionID string) {
	m.mu.Lock()
	entry, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.cleanup(entry)
	m.logger.Info("session removed", zap.String("session_id", sessionID))
}

// Shutdown destroys every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Entry)
	m.mu.Unlock()
	for _, entry := range sessions {
		m.cleanup(entry)
	}
}

// ActiveSessions reports the live entry count.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
