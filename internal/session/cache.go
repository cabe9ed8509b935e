// Package session maps session ids to per-session state: a page-map
// cache, a tool lock, navigation counters, and a lazily acquired
// browser context. Sessions share nothing but the browser process and
// the template cache.
package session

import (
	"container/list"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Retio-ai/pagemap/internal/pagemap"
)

// InvalidationReason explains why a cached page map was dropped. Hard
// reasons also evict the URL LRU entry; soft reasons only clear the
// active slot.
type InvalidationReason string

const (
	InvalidateNavigation  InvalidationReason = "navigation"
	InvalidateNewTab      InvalidationReason = "new_tab"
	InvalidateSSRFBlocked InvalidationReason = "ssrf_blocked"
	InvalidateBrowserDead InvalidationReason = "browser_dead"
	InvalidateTimeout     InvalidationReason = "timeout"
	InvalidateScroll      InvalidationReason = "scroll"
	InvalidateDOMMajor    InvalidationReason = "dom_major"
	InvalidateDOMContent  InvalidationReason = "dom_content"
	InvalidateWaitFor     InvalidationReason = "wait_for"
	InvalidateFillForm    InvalidationReason = "fill_form"
)

var hardReasons = map[InvalidationReason]bool{
	InvalidateNavigation:  true,
	InvalidateNewTab:      true,
	InvalidateSSRFBlocked: true,
	InvalidateBrowserDead: true,
	InvalidateTimeout:     true,
}

const (
	defaultCacheEntries = 20
	defaultCacheTTL     = 90 * time.Second
)

// NormalizeCacheURL canonicalizes a URL for cache keying: lowercase
// scheme and host, sorted query, no fragment. Path case and trailing
// slash are preserved.
func NormalizeCacheURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.RawQuery != "" {
		pairs := strings.Split(u.RawQuery, "&")
		sort.Strings(pairs)
		u.RawQuery = strings.Join(pairs, "&")
	}
	return u.String()
}

// CacheEntry is a cached PageMap with the fingerprint captured at build
// time.
type CacheEntry struct {
	PageMap      *pagemap.PageMap
	Fingerprint  *DomFingerprint
	CreatedAt    time.Time
	GenerationID string
	ScrollY      int
}

func (e *CacheEntry) expired(ttl time.Duration) bool {
	return time.Since(e.CreatedAt) > ttl
}

// CacheStats counts cache behaviour for logging and meta output.
type CacheStats struct {
	Hits                  int
	Misses                int
	ContentRefreshes      int
	FingerprintMismatches int
	TTLExpirations        int
	HardInvalidations     int
	SoftInvalidations     int
	Evictions             int
}

// HitRate reports hits over total lookups, 0 when unused.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type lruItem struct {
	key   string
	entry *CacheEntry
}

// PageMapCache is two layers: an active slot holding the current
// page's map (ref validation for execute_action) and a URL LRU for
// fast revisits. The TTL is a safety net; freshness is verified by
// fingerprint comparison at the call site.
type PageMapCache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	active     *CacheEntry
	order      *list.List
	index      map[string]*list.Element
	stats      CacheStats
}

// NewPageMapCache builds a cache with the given bounds; zero values
// select the defaults (20 entries, 90 s TTL).
func NewPageMapCache(maxEntries int, ttl time.Duration) *PageMapCache {
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &PageMapCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		order:      list.New(),
		index:      make(map[string]*list.Element),
	}
}

// Active returns the current page's cached map, or nil.
func (c *PageMapCache) Active() *pagemap.PageMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	return c.active.PageMap
}

// ActiveEntry returns the full active entry, or nil.
func (c *PageMapCache) ActiveEntry() *CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Store saves a map as the active entry and inserts it into the LRU.
// Returns the generation id assigned to the entry.
func (c *PageMapCache) Store(pm *pagemap.PageMap, fp *DomFingerprint, scrollY int) string {
	entry := &CacheEntry{
		PageMap:      pm,
		Fingerprint:  fp,
		CreatedAt:    time.Now(),
		GenerationID: strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		ScrollY:      scrollY,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = entry
	c.insertLocked(entry)
	return entry.GenerationID
}

// StoreInLRUOnly inserts a map into the LRU without touching the
// active slot. Used by batch builds, which must never hijack the
// agent's current refs.
func (c *PageMapCache) StoreInLRUOnly(pm *pagemap.PageMap, fp *DomFingerprint) {
	entry := &CacheEntry{
		PageMap:      pm,
		Fingerprint:  fp,
		CreatedAt:    time.Now(),
		GenerationID: strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(entry)
}

func (c *PageMapCache) insertLocked(entry *CacheEntry) {
	key := NormalizeCacheURL(entry.PageMap.URL)
	if el, ok := c.index[key]; ok {
		el.Value.(*lruItem).entry = entry
		c.order.MoveToBack(el)
	} else {
		c.index[key] = c.order.PushBack(&lruItem{key: key, entry: entry})
	}
	for c.order.Len() > c.maxEntries {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*lruItem).key)
		c.stats.Evictions++
	}
}

// Lookup finds a URL in the LRU, nil when missing or TTL-expired.
func (c *PageMapCache) Lookup(rawURL string) *CacheEntry {
	key := NormalizeCacheURL(rawURL)
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return nil
	}
	item := el.Value.(*lruItem)
	if item.entry.expired(c.ttl) {
		c.order.Remove(el)
		delete(c.index, key)
		c.stats.TTLExpirations++
		return nil
	}
	c.order.MoveToBack(el)
	return item.entry
}

// Invalidate clears the active entry. Hard reasons also evict the
// active URL from the LRU.
func (c *PageMapCache) Invalidate(reason InvalidationReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hardReasons[reason] {
		c.stats.HardInvalidations++
		if c.active != nil {
			key := NormalizeCacheURL(c.active.PageMap.URL)
			if el, ok := c.index[key]; ok {
				c.order.Remove(el)
				delete(c.index, key)
			}
		}
	} else {
		c.stats.SoftInvalidations++
	}
	c.active = nil
}

// InvalidateAll clears everything (browser crash, session recycle).
func (c *PageMapCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = nil
	c.order.Init()
	c.index = make(map[string]*list.Element)
	c.stats.HardInvalidations++
}

// Stats returns a copy of the counters.
func (c *PageMapCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// RecordHit increments the hit counter.
func (c *PageMapCache) RecordHit() {
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
}

// RecordMiss increments the miss counter.
func (c *PageMapCache) RecordMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}

// RecordContentRefresh increments the refresh counter.
func (c *PageMapCache) RecordContentRefresh() {
	c.mu.Lock()
	c.stats.ContentRefreshes++
	c.mu.Unlock()
}

// RecordFingerprintMismatch increments the mismatch counter.
func (c *PageMapCache) RecordFingerprintMismatch() {
	c.mu.Lock()
	c.stats.FingerprintMismatches++
	c.mu.Unlock()
}

// LRUSize reports the number of LRU entries.
func (c *PageMapCache) LRUSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
