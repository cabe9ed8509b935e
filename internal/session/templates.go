package session

import (
	"container/list"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Retio-ai/pagemap/internal/prune"
)

// Template cache bounds. Templates hold site-level structure, not user
// data, so one cache is shared by every session.
const (
	defaultMaxTemplates    = 50
	defaultTemplateTTL     = 24 * time.Hour
	maxConsecutiveFailures = 3
)

// ExtractTemplateDomain normalizes a URL's host for template keying:
// lowercased, no port, no www prefix. Empty for unparseable URLs.
func ExtractTemplateDomain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// TemplateKey identifies structural knowledge by (domain, page type).
type TemplateKey struct {
	Domain   string
	PageType string
}

// TemplateData is the immutable structure learned from the first build
// of a (domain, page_type) pair. Later builds on the same pair use it
// as hints and validate it against what they actually see.
type TemplateData struct {
	SchemaName          string
	HasMain             bool
	HasJSONLD           bool
	MetadataSource      string
	MetadataFieldsFound map[string]bool
	CardStrategy        string
	HasPagination       bool
	PaginationParam     string
	AOMRemovalRatio     float64
	ChunkSelectionRatio float64
}

// PageTemplate wraps TemplateData with cache bookkeeping.
type PageTemplate struct {
	Data                TemplateData
	Key                 TemplateKey
	HitCount            int
	ConsecutiveFailures int
	CreatedAt           time.Time
	LastUsedAt          time.Time
	SourceURL           string
}

// ValidationResult reports whether a template still matches reality.
type ValidationResult struct {
	Passed     bool
	Mismatches []string
}

const (
	aomRatioTolerance   = 0.3
	chunkRatioTolerance = 0.3
)

func absDiffFloat(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// ValidateTemplate checks a cached template's structural invariants
// against an actual build.
func ValidateTemplate(t *PageTemplate, hasMain bool, metadataSource string, aomRatio, chunkRatio float64) ValidationResult {
	var mismatches []string
	d := t.Data
	if d.HasMain != hasMain {
		mismatches = append(mismatches, "has_main mismatch")
	}
	if d.MetadataSource != "" && metadataSource != "" && d.MetadataSource != metadataSource {
		mismatches = append(mismatches, "metadata_source mismatch")
	}
	if absDiffFloat(d.AOMRemovalRatio, aomRatio) > aomRatioTolerance {
		mismatches = append(mismatches, "aom_removal_ratio drift")
	}
	if absDiffFloat(d.ChunkSelectionRatio, chunkRatio) > chunkRatioTolerance {
		mismatches = append(mismatches, "chunk_selection_ratio drift")
	}
	return ValidationResult{Passed: len(mismatches) == 0, Mismatches: mismatches}
}

// TemplateCacheStats counts template cache behaviour.
type TemplateCacheStats struct {
	Hits              int
	Misses            int
	TemplatesCreated  int
	ValidationsPassed int
	ValidationsFailed int
	Invalidations     int
	Evictions         int
}

type templateItem struct {
	key      TemplateKey
	template *PageTemplate
}

// TemplateCache is an LRU of PageTemplates keyed by (domain,
// page_type), safe for concurrent readers and writers.
type TemplateCache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	order      *list.List
	index      map[TemplateKey]*list.Element
	stats      TemplateCacheStats
}

// NewTemplateCache builds a cache; zero values select the defaults
// (50 entries, 24 h TTL).
func NewTemplateCache(maxEntries int, ttl time.Duration) *TemplateCache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxTemplates
	}
	if ttl <= 0 {
		ttl = defaultTemplateTTL
	}
	return &TemplateCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		order:      list.New(),
		index:      make(map[TemplateKey]*list.Element),
	}
}

// Lookup returns the template for key, nil when missing or expired.
func (c *TemplateCache) Lookup(key TemplateKey) *PageTemplate {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		c.stats.Misses++
		return nil
	}
	t := el.Value.(*templateItem).template
	if time.Since(t.CreatedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.index, key)
		c.stats.Misses++
		return nil
	}
	c.order.MoveToBack(el)
	t.HitCount++
	t.LastUsedAt = time.Now()
	c.stats.Hits++
	return t
}

// Store inserts or overwrites a template, evicting the LRU entry when
// over capacity.
func (c *TemplateCache) Store(t *PageTemplate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[t.Key]; ok {
		el.Value.(*templateItem).template = t
		c.order.MoveToBack(el)
	} else {
		c.index[t.Key] = c.order.PushBack(&templateItem{key: t.Key, template: t})
		c.stats.TemplatesCreated++
	}
	for c.order.Len() > c.maxEntries {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*templateItem).key)
		c.stats.Evictions++
	}
}

// Invalidate removes one template; reports whether it existed.
func (c *TemplateCache) Invalidate(key TemplateKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidateLocked(key)
}

func (c *TemplateCache) invalidateLocked(key TemplateKey) bool {
	el, ok := c.index[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.index, key)
	c.stats.Invalidations++
	return true
}

// InvalidateDomain removes every template for a domain; returns the
// count removed.
func (c *TemplateCache) InvalidateDomain(domain string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []TemplateKey
	for k := range c.index {
		if k.Domain == domain {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		c.invalidateLocked(k)
	}
	return len(keys)
}

// RecordValidationPass resets the failure streak for key.
func (c *TemplateCache) RecordValidationPass(key TemplateKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		el.Value.(*templateItem).template.ConsecutiveFailures = 0
		c.stats.ValidationsPassed++
	}
}

// RecordValidationFailure counts a failed validation; three in a row
// auto-invalidates the template.
func (c *TemplateCache) RecordValidationFailure(key TemplateKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return
	}
	t := el.Value.(*templateItem).template
	t.ConsecutiveFailures++
	c.stats.ValidationsFailed++
	if t.ConsecutiveFailures >= maxConsecutiveFailures {
		c.invalidateLocked(key)
	}
}

// Stats returns a copy of the counters.
func (c *TemplateCache) Stats() TemplateCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Size reports the entry count.
func (c *TemplateCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// paginationParams are common page-number query parameters, most
// frequent first.
var paginationParams = []string{"page", "p", "pg", "pn", "pageNo", "pageNum", "currentPage"}

func inferPaginationParam(rawHTML string) string {
	for _, param := range paginationParams {
		re := regexp.MustCompile(`(?i)(?:href|action)=["'][^"']*[?&]` + regexp.QuoteMeta(param) + `=\d+`)
		if re.MatchString(rawHTML) {
			return param
		}
	}
	return ""
}

func inferCardStrategy(metadata map[string]any) string {
	switch items := metadata["items"].(type) {
	case []map[string]string:
		if len(items) > 0 {
			return "json_ld_itemlist"
		}
	case []any:
		if len(items) > 0 {
			return "json_ld_itemlist"
		}
	}
	return ""
}

// ObserveBuild feeds one completed build into the cache. A first build
// on a (domain, page_type) pair learns a template; later builds
// validate the stored one, and three consecutive failures evict it.
// The returned status is one of learned, validated, drifted,
// invalidated, or skipped.
func (c *TemplateCache) ObserveBuild(key TemplateKey, schemaName string, pr prune.Result, metadata map[string]any, sourceURL, rawHTML string) string {
	if c == nil || key.Domain == "" || key.PageType == "" {
		return "skipped"
	}

	hasMain := false
	for _, ch := range pr.SelectedChunks {
		if ch.InMain {
			hasMain = true
			break
		}
	}
	aomRatio := 0.0
	if pr.FilterStats.TotalNodes > 0 {
		aomRatio = float64(pr.FilterStats.RemovedNodes) / float64(pr.FilterStats.TotalNodes)
	}
	chunkRatio := 0.0
	if pr.ChunkCountTotal > 0 {
		chunkRatio = float64(pr.ChunkCountKept) / float64(pr.ChunkCountTotal)
	}

	if t := c.Lookup(key); t != nil {
		res := ValidateTemplate(t, hasMain, "", aomRatio, chunkRatio)
		if res.Passed {
			c.RecordValidationPass(key)
			return "validated"
		}
		c.RecordValidationFailure(key)
		if c.Lookup(key) == nil {
			return "invalidated"
		}
		return "drifted"
	}
	c.Store(LearnTemplate(key, schemaName, pr, metadata, sourceURL, rawHTML))
	return "learned"
}

// LearnTemplate extracts structural knowledge from a completed page
// build without re-running any pipeline stage.
func LearnTemplate(key TemplateKey, schemaName string, pr prune.Result, metadata map[string]any, sourceURL, rawHTML string) *PageTemplate {
	hasMain := false
	for _, c := range pr.SelectedChunks {
		if c.InMain {
			hasMain = true
			break
		}
	}
	hasJSONLD := false
	for _, c := range pr.MetaChunks {
		if c.Attrs["type"] == "application/ld+json" {
			hasJSONLD = true
			break
		}
	}

	fields := make(map[string]bool, len(metadata))
	for k := range metadata {
		if k != "items" {
			fields[k] = true
		}
	}

	aomRatio := 0.0
	if pr.FilterStats.TotalNodes > 0 {
		aomRatio = float64(pr.FilterStats.RemovedNodes) / float64(pr.FilterStats.TotalNodes)
	}
	chunkRatio := 0.0
	if pr.ChunkCountTotal > 0 {
		chunkRatio = float64(pr.ChunkCountKept) / float64(pr.ChunkCountTotal)
	}

	paginationParam := ""
	if rawHTML != "" && (key.PageType == "listing" || key.PageType == "search_results") {
		paginationParam = inferPaginationParam(rawHTML)
	}

	return &PageTemplate{
		Data: TemplateData{
			SchemaName:          schemaName,
			HasMain:             hasMain,
			HasJSONLD:           hasJSONLD,
			MetadataFieldsFound: fields,
			CardStrategy:        inferCardStrategy(metadata),
			HasPagination:       paginationParam != "",
			PaginationParam:     paginationParam,
			AOMRemovalRatio:     aomRatio,
			ChunkSelectionRatio: chunkRatio,
		},
		Key:       key,
		CreatedAt: time.Now(),
		SourceURL: sourceURL,
	}
}
