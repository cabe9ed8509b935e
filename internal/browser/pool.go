package browser

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Retio-ai/pagemap/internal/pagemaperr"
)

const (
	// DefaultMaxContexts bounds concurrent incognito contexts on the
	// shared browser process.
	DefaultMaxContexts = 5

	acquireTimeout     = 30 * time.Second
	defaultIdleTimeout = 30 * time.Minute
	reaperInterval     = time.Minute
)

// PoolHealth is an immutable snapshot for monitoring endpoints.
type PoolHealth struct {
	Active           int  `json:"active"`
	MaxContexts      int  `json:"max_contexts"`
	Waiting          int  `json:"waiting"`
	BrowserConnected bool `json:"browser_connected"`
}

type pooledContext struct {
	sessionID string
	session   Session
	createdAt time.Time
	lastUsed  time.Time
}

// Pool shares one browser process across sessions, each isolated in its
// own incognito context. Capacity is a FIFO-fair weighted semaphore.
type Pool struct {
	cfg         Config
	maxContexts int
	idleTimeout time.Duration
	logger      *zap.Logger

	sem     *semaphore.Weighted
	waiting atomic.Int32

	mu       sync.Mutex
	browser  *rod.Browser
	launch   *launcher.Launcher
	contexts map[string]*pooledContext
	started  bool

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewPool builds an unstarted pool. maxContexts <= 0 selects the
// default; idleTimeout <= 0 selects 30 minutes.
func NewPool(cfg Config, maxContexts int, idleTimeout time.Duration, logger *zap.Logger) *Pool {
	if maxContexts <= 0 {
		maxContexts = DefaultMaxContexts
	}
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:         cfg,
		maxContexts: maxContexts,
		idleTimeout: idleTimeout,
		logger:      logger,
		sem:         semaphore.NewWeighted(int64(maxContexts)),
		contexts:    make(map[string]*pooledContext),
		done:        make(chan struct{}),
	}
}

// Start launches the browser process and the idle reaper.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	launch := launcher.New().Headless(p.cfg.Headless)
	controlURL, err := launch.Launch()
	if err != nil {
		return &pagemaperr.BrowserDeadError{Cause: err}
	}
	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		launch.Cleanup()
		return &pagemaperr.BrowserDeadError{Cause: err}
	}

	p.browser = b
	p.launch = launch
	p.started = true

	p.wg.Add(1)
	go p.reaperLoop()

	p.logger.Info("browser pool started",
		zap.Int("max_contexts", p.maxContexts),
		zap.Duration("idle_timeout", p.idleTimeout))
	return nil
}

// Acquire returns the session for sessionID, creating one if needed.
// Each live session holds one semaphore slot until Release. Blocks up
// to the acquire timeout when the pool is at capacity.
func (p *Pool) Acquire(ctx context.Context, sessionID string) (Session, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil, &pagemaperr.BrowserDeadError{Cause: context.Canceled}
	}
	if entry, ok := p.contexts[sessionID]; ok {
		entry.lastUsed = time.Now()
		sess := entry.session
		p.mu.Unlock()
		return sess, nil
	}
	browser := p.browser
	p.mu.Unlock()

	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()
	p.waiting.Add(1)
	err := p.sem.Acquire(acquireCtx, 1)
	p.waiting.Add(-1)
	if err != nil {
		return nil, &pagemaperr.ResourceExhaustionError{
			Resource: "browser_contexts",
			Limit:    p.maxContexts,
		}
	}

	sess, err := newSession(browser, p.cfg)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}

	p.mu.Lock()
	// A concurrent Acquire for the same session may have won the race.
	if existing, ok := p.contexts[sessionID]; ok {
		p.mu.Unlock()
		_ = sess.Stop()
		p.sem.Release(1)
		return existing.session, nil
	}
	now := time.Now()
	p.contexts[sessionID] = &pooledContext{
		sessionID: sessionID,
		session:   sess,
		createdAt: now,
		lastUsed:  now,
	}
	active := len(p.contexts)
	p.mu.Unlock()

	p.logger.Info("pool created session",
		zap.String("session_id", sessionID), zap.Int("active", active))
	return sess, nil
}

// Release closes a session's context (never the browser) and frees its
// slot. Releasing an unknown session is a no-op.
func (p *Pool) Release(sessionID string) {
	p.mu.Lock()
	entry, ok := p.contexts[sessionID]
	if ok {
		delete(p.contexts, sessionID)
	}
	p.mu.Unlock()
	if !ok {
		p.logger.Warn("pool release of unknown session", zap.String("session_id", sessionID))
		return
	}
	_ = entry.session.Stop()
	p.sem.Release(1)
	p.logger.Info("pool released session", zap.String("session_id", sessionID))
}

// Health returns a snapshot of pool state.
func (p *Pool) Health() PoolHealth {
	p.mu.Lock()
	active := len(p.contexts)
	browser := p.browser
	started := p.started
	max := p.maxContexts
	p.mu.Unlock()

	connected := false
	if started && browser != nil {
		_, err := browser.Version()
		connected = err == nil
	}
	return PoolHealth{
		Active:           active,
		MaxContexts:      max,
		Waiting:          int(p.waiting.Load()),
		BrowserConnected: connected,
	}
}

func (p *Pool) reaperLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapIdle()
		case <-p.done:
			return
		}
	}
}

func (p *Pool) reapIdle() {
	now := time.Now()
	var evict []*pooledContext
	p.mu.Lock()
	for id, entry := range p.contexts {
		if now.Sub(entry.lastUsed) > p.idleTimeout {
			evict = append(evict, entry)
			delete(p.contexts, id)
		}
	}
	p.mu.Unlock()

	for _, entry := range evict {
		_ = entry.session.Stop()
		p.sem.Release(1)
		p.logger.Info("reaper evicted idle session", zap.String("session_id", entry.sessionID))
	}
}

// Shutdown stops the reaper, closes every session, then the browser.
func (p *Pool) Shutdown() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()

	p.mu.Lock()
	contexts := p.contexts
	p.contexts = make(map[string]*pooledContext)
	browser := p.browser
	launch := p.launch
	p.browser = nil
	p.launch = nil
	p.started = false
	p.mu.Unlock()

	for _, entry := range contexts {
		_ = entry.session.Stop()
	}
	if browser != nil {
		_ = browser.Close()
	}
	if launch != nil {
		launch.Cleanup()
	}
	p.logger.Info("browser pool shut down")
}
