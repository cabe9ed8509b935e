// Package robots answers "may this user agent fetch this URL" with a
// per-origin cache of parsed robots.txt rules.
//
// Fetch-outcome policy follows the REP as search engines apply it: 2xx is
// parsed; 401/403 means the whole origin is off limits; any other 4xx
// means no robots.txt exists and everything is allowed; 5xx and network
// errors fail open with a short TTL so a flaky origin is not hammered.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const (
	// DefaultTTL is how long parsed rules are cached per origin.
	DefaultTTL = time.Hour
	// FailOpenTTL is the cache window after a 5xx or network error.
	FailOpenTTL = 5 * time.Minute
	// MinCacheTTL floors any Cache-Control max-age an origin sends.
	MinCacheTTL = time.Minute
	// FetchTimeout bounds the robots.txt request.
	FetchTimeout = 10 * time.Second
	// MaxBodySize caps how much robots.txt is read.
	MaxBodySize = 512 * 1024
)

type cacheEntry struct {
	data      *robotstxt.RobotsData // nil means allow-all
	denyAll   bool
	expiresAt time.Time
}

// Checker caches robots.txt verdicts per origin. Safe for concurrent use.
type Checker struct {
	UserAgent string

	client *http.Client
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time
}

// NewChecker builds a checker fetching with the given user agent.
func NewChecker(userAgent string, logger *zap.Logger) *Checker {
	return &Checker{
		UserAgent: userAgent,
		client:    &http.Client{Timeout: FetchTimeout},
		logger:    logger,
		cache:     make(map[string]cacheEntry),
		now:       time.Now,
	}
}

// IsAllowed reports whether rawURL may be fetched by the checker's user
// agent. The first call per origin fetches and caches robots.txt.
func (c *Checker) IsAllowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return true
	}
	origin := normalizeOrigin(u)

	c.mu.Lock()
	entry, ok := c.cache[origin]
	c.mu.Unlock()

	if !ok || c.now().After(entry.expiresAt) {
		entry = c.fetch(ctx, origin)
		c.mu.Lock()
		c.cache[origin] = entry
		c.mu.Unlock()
	}

	if entry.denyAll {
		return false
	}
	if entry.data == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return entry.data.TestAgent(path, c.UserAgent)
}

func (c *Checker) fetch(ctx context.Context, origin string) cacheEntry {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return cacheEntry{expiresAt: c.now().Add(FailOpenTTL)}
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("robots.txt fetch failed, allowing", zap.String("origin", origin), zap.Error(err))
		return cacheEntry{expiresAt: c.now().Add(FailOpenTTL)}
	}
	defer resp.Body.Close()

	ttl := cacheTTL(resp.Header.Get("Cache-Control"))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
		if err != nil {
			return cacheEntry{expiresAt: c.now().Add(FailOpenTTL)}
		}
		data, err := robotstxt.FromBytes(body)
		if err != nil {
			c.logger.Debug("robots.txt unparsable, allowing", zap.String("origin", origin), zap.Error(err))
			return cacheEntry{expiresAt: c.now().Add(ttl)}
		}
		return cacheEntry{data: data, expiresAt: c.now().Add(ttl)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return cacheEntry{denyAll: true, expiresAt: c.now().Add(ttl)}
	case resp.StatusCode >= 500:
		return cacheEntry{expiresAt: c.now().Add(FailOpenTTL)}
	default: // other 4xx: no robots.txt, everything allowed
		return cacheEntry{expiresAt: c.now().Add(ttl)}
	}
}

// cacheTTL honors Cache-Control max-age within [MinCacheTTL, DefaultTTL*24].
func cacheTTL(cacheControl string) time.Duration {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if v, ok := strings.CutPrefix(part, "max-age="); ok {
			secs, err := strconv.Atoi(v)
			if err != nil {
				break
			}
			ttl := time.Duration(secs) * time.Second
			if ttl < MinCacheTTL {
				return MinCacheTTL
			}
			if ttl > 24*DefaultTTL {
				return 24 * DefaultTTL
			}
			return ttl
		}
	}
	return DefaultTTL
}

// normalizeOrigin lowercases the scheme and host and strips default ports.
func normalizeOrigin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = fmt.Sprintf("%s:%s", host, port)
	}
	return scheme + "://" + host
}
