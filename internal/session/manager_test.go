package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Retio-ai/pagemap/internal/browser"
	"github.com/Retio-ai/pagemap/internal/pagemap"
	"github.com/Retio-ai/pagemap/internal/pagemaperr"
)

type recordingPool struct {
	mu       sync.Mutex
	acquired []string
	released []string
	current  map[string]*browser.FakeSession
	err      error
}

func newRecordingPool() *recordingPool {
	return &recordingPool{current: make(map[string]*browser.FakeSession)}
}

func (p *recordingPool) Acquire(_ context.Context, id string) (browser.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	sess := &browser.FakeSession{}
	p.current[id] = sess
	p.acquired = append(p.acquired, id)
	return sess, nil
}

func (p *recordingPool) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, id)
	delete(p.current, id)
}

func (p *recordingPool) acquireCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.acquired)
}

func (p *recordingPool) releaseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.released)
}

func newTestManager(cfg Config, pool Pool) *Manager {
	return NewManager(cfg, pool, nil, nil, zap.NewNop(), nil)
}

func TestGetContextCreatesAndReuses(t *testing.T) {
	m := newTestManager(Config{}, newRecordingPool())

	a := m.GetContext("alpha")
	require.NotNil(t, a)
	assert.Equal(t, "alpha", a.ID)
	assert.NotNil(t, a.Cache)

	assert.Same(t, a, m.GetContext("alpha"))

	b := m.GetContext("beta")
	assert.NotSame(t, a, b)
	assert.NotSame(t, a.Cache, b.Cache)
	assert.NotSame(t, a.toolLock, b.toolLock)
	assert.Equal(t, 2, m.ActiveSessions())
}

func TestGetContextSweepsExpired(t *testing.T) {
	pool := newRecordingPool()
	m := newTestManager(Config{SessionTTL: time.Minute}, pool)

	stale := m.GetContext("stale")
	_, err := m.GetSession(context.Background(), stale)
	require.NoError(t, err)
	stale.mu.Lock()
	stale.createdAt = time.Now().Add(-time.Hour)
	stale.mu.Unlock()

	fresh := m.GetContext("fresh")
	require.NotNil(t, fresh)

	assert.Equal(t, 1, m.ActiveSessions())
	assert.Equal(t, []string{"stale"}, pool.released)

	// The swept id comes back as a brand new entry.
	assert.NotSame(t, stale, m.GetContext("stale"))
}

func TestGetSessionAcquiresOnceAndInstallsGuard(t *testing.T) {
	pool := newRecordingPool()
	guard := func(string) error { return nil }
	m := NewManager(Config{}, pool, nil, guard, zap.NewNop(), nil)
	entry := m.GetContext("s")

	first, err := m.GetSession(context.Background(), entry)
	require.NoError(t, err)
	second, err := m.GetSession(context.Background(), entry)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, pool.acquireCount())
	assert.Equal(t, 2, entry.NavigationCount())
	assert.NotNil(t, pool.current["s"].GuardFunc)
}

func TestGetSessionRecyclesDeadBrowser(t *testing.T) {
	pool := newRecordingPool()
	m := newTestManager(Config{}, pool)
	entry := m.GetContext("s")

	first, err := m.GetSession(context.Background(), entry)
	require.NoError(t, err)
	entry.Cache.Store(&pagemap.PageMap{URL: "http://203.0.113.10/a"}, nil, 0)

	first.(*browser.FakeSession).Dead = true

	second, err := m.GetSession(context.Background(), entry)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, pool.acquireCount())
	assert.Equal(t, 1, pool.releaseCount())
	assert.Nil(t, entry.Cache.Active(), "recycle clears the page map cache")
}

func TestGetSessionRecyclesAtNavigationLimit(t *testing.T) {
	pool := newRecordingPool()
	m := newTestManager(Config{MaxNavigations: 2}, pool)
	entry := m.GetContext("s")

	for i := 0; i < 2; i++ {
		_, err := m.GetSession(context.Background(), entry)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, pool.acquireCount())

	// Third use crosses the limit and swaps the browser context.
	_, err := m.GetSession(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.acquireCount())
	assert.Equal(t, 1, entry.NavigationCount())
}

func TestGetSessionRecyclesOldBrowser(t *testing.T) {
	pool := newRecordingPool()
	m := newTestManager(Config{MaxSessionAge: time.Minute}, pool)
	entry := m.GetContext("s")

	_, err := m.GetSession(context.Background(), entry)
	require.NoError(t, err)
	entry.mu.Lock()
	entry.browserAcquiredAt = time.Now().Add(-time.Hour)
	entry.mu.Unlock()

	_, err = m.GetSession(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.acquireCount())
}

func TestGetSessionRejectsTabFlood(t *testing.T) {
	pool := newRecordingPool()
	m := newTestManager(Config{MaxTabs: 3}, pool)
	entry := m.GetContext("s")

	sess, err := m.GetSession(context.Background(), entry)
	require.NoError(t, err)
	sess.(*browser.FakeSession).Tabs = 3

	_, err = m.GetSession(context.Background(), entry)
	var rex *pagemaperr.ResourceExhaustionError
	require.ErrorAs(t, err, &rex)
	assert.Equal(t, "tabs", rex.Resource)
	assert.Equal(t, 3, rex.Limit)

	// Hard rejection: the session keeps its tabs instead of being reset.
	assert.Zero(t, pool.releaseCount())
}

func TestGetSessionPoolError(t *testing.T) {
	pool := newRecordingPool()
	pool.err = errors.New("pool exhausted")
	m := newTestManager(Config{}, pool)

	_, err := m.GetSession(context.Background(), m.GetContext("s"))
	assert.ErrorContains(t, err, "pool exhausted")
}

func TestAcquireToolLockSerializes(t *testing.T) {
	m := newTestManager(Config{ToolLockTimeout: 30 * time.Millisecond}, newRecordingPool())
	entry := m.GetContext("s")

	release, err := m.AcquireToolLock(context.Background(), entry)
	require.NoError(t, err)

	_, err = m.AcquireToolLock(context.Background(), entry)
	assert.ErrorIs(t, err, pagemaperr.ErrToolBusy)

	release()
	release2, err := m.AcquireToolLock(context.Background(), entry)
	require.NoError(t, err)
	release2()
}

func TestAcquireToolLockHonorsContext(t *testing.T) {
	m := newTestManager(Config{ToolLockTimeout: time.Minute}, newRecordingPool())
	entry := m.GetContext("s")

	release, err := m.AcquireToolLock(context.Background(), entry)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.AcquireToolLock(ctx, entry)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRemoveSession(t *testing.T) {
	pool := newRecordingPool()
	m := newTestManager(Config{}, pool)
	entry := m.GetContext("s")
	_, err := m.GetSession(context.Background(), entry)
	require.NoError(t, err)

	m.RemoveSession("s")
	assert.Zero(t, m.ActiveSessions())
	assert.Equal(t, []string{"s"}, pool.released)

	// Removing an unknown id is a no-op.
	m.RemoveSession("ghost")
	assert.Equal(t, 1, pool.releaseCount())
}

func TestShutdownReleasesEverything(t *testing.T) {
	pool := newRecordingPool()
	m := newTestManager(Config{}, pool)
	for _, id := range []string{"a", "b"} {
		_, err := m.GetSession(context.Background(), m.GetContext(id))
		require.NoError(t, err)
	}

	m.Shutdown()
	assert.Zero(t, m.ActiveSessions())
	assert.Equal(t, 2, pool.releaseCount())
}
