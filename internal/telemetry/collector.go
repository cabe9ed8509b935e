package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config is the immutable telemetry configuration.
type Config struct {
	Enabled          bool
	ExportPath       string
	FlushInterval    time.Duration
	MaxQueueSize     int
	MaxFileSizeMB    int
	MaxRetentionDays int
	MaxTotalSizeMB   int
	HashURLPaths     bool
}

// DefaultConfig returns the disabled-by-default configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Enabled:          false,
		ExportPath:       filepath.Join(home, ".pagemap", "telemetry"),
		FlushInterval:    30 * time.Second,
		MaxQueueSize:     10_000,
		MaxFileSizeMB:    50,
		MaxRetentionDays: 7,
		MaxTotalSizeMB:   500,
	}
}

var serviceVersion atomic.Value

// SetVersion records the build version reported in resource attributes.
func SetVersion(v string) { serviceVersion.Store(v) }

func versionString() string {
	if v, ok := serviceVersion.Load().(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// MetaSnapshot is a point-in-time view of the collector counters.
type MetaSnapshot struct {
	Emitted  uint64 `json:"emitted"`
	Dropped  uint64 `json:"dropped"`
	Exported uint64 `json:"exported"`
}

// OTLP LogsData envelope types, JSON field names per the OTLP spec.

type AttrValue struct {
	StringValue *string  `json:"stringValue,omitempty"`
	IntValue    *string  `json:"intValue,omitempty"`
	DoubleValue *float64 `json:"doubleValue,omitempty"`
	BoolValue   *bool    `json:"boolValue,omitempty"`
}

type Attribute struct {
	Key   string    `json:"key"`
	Value AttrValue `json:"value"`
}

type LogRecord struct {
	TimeUnixNano   string      `json:"timeUnixNano"`
	SeverityNumber int         `json:"severityNumber"`
	SeverityText   string      `json:"severityText"`
	Body           AttrValue   `json:"body"`
	Attributes     []Attribute `json:"attributes"`
	TraceID        string      `json:"traceId"`
	SpanID         string      `json:"spanId"`
}

type Scope struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type ScopeLogs struct {
	Scope      Scope       `json:"scope"`
	LogRecords []LogRecord `json:"logRecords"`
}

type Resource struct {
	Attributes []Attribute `json:"attributes"`
}

type ResourceLogs struct {
	Resource  Resource    `json:"resource"`
	ScopeLogs []ScopeLogs `json:"scopeLogs"`
}

// Envelope is one complete resourceLogs document carrying a single log
// record.
type Envelope struct {
	ResourceLogs []ResourceLogs `json:"resourceLogs"`
}

func strAttr(key, value string) Attribute {
	return Attribute{Key: key, Value: AttrValue{StringValue: &value}}
}

var (
	resourceOnce  sync.Once
	resourceAttrs []Attribute
)

func buildResourceAttrs() []Attribute {
	resourceOnce.Do(func() {
		resourceAttrs = []Attribute{
			strAttr("service.name", "pagemap"),
			strAttr("service.version", versionString()),
			strAttr("os.type", runtime.GOOS),
			strAttr("installation.id", InstallationID()),
		}
	})
	return append([]Attribute(nil), resourceAttrs...)
}

// payloadToAttributes flattens a payload struct into sorted OTLP
// attributes, applying the privacy scrub on the way.
func payloadToAttributes(p Payload, hashURLPaths bool) []Attribute {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil
	}
	fields = sanitizePayload(fields)
	if u, ok := fields["url"].(string); ok {
		fields["url"] = SanitizeURL(u, hashURLPaths)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]Attribute, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, Attribute{Key: k, Value: toAttrValue(fields[k])})
	}
	return attrs
}

func toAttrValue(v any) AttrValue {
	switch t := v.(type) {
	case bool:
		return AttrValue{BoolValue: &t}
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			return AttrValue{IntValue: &s}
		}
		if f, err := t.Float64(); err == nil {
			return AttrValue{DoubleValue: &f}
		}
		return AttrValue{StringValue: &s}
	case string:
		return AttrValue{StringValue: &t}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		s := "null"
		return AttrValue{StringValue: &s}
	}
	s := string(raw)
	return AttrValue{StringValue: &s}
}

// wrapOTLP builds the envelope for one event.
func wrapOTLP(p Payload, traceID string, hashURLPaths bool) Envelope {
	otlpTraceID := traceID
	if len(otlpTraceID) > 32 {
		otlpTraceID = otlpTraceID[:32]
	}
	otlpTraceID = otlpTraceID + strings.Repeat("0", 32-len(otlpTraceID))
	body := p.EventType()

	record := LogRecord{
		TimeUnixNano:   strconv.FormatInt(time.Now().UnixNano(), 10),
		SeverityNumber: 9,
		SeverityText:   "INFO",
		Body:           AttrValue{StringValue: &body},
		Attributes:     payloadToAttributes(p, hashURLPaths),
		TraceID:        otlpTraceID,
		SpanID:         otlpTraceID[:16],
	}
	return Envelope{ResourceLogs: []ResourceLogs{{
		Resource: Resource{Attributes: buildResourceAttrs()},
		ScopeLogs: []ScopeLogs{{
			Scope:      Scope{Name: "pagemap.telemetry", Version: "1"},
			LogRecords: []LogRecord{record},
		}},
	}}}
}

// Collector queues events and flushes them to a writer on an interval.
// Emit never blocks: a full queue drops the event and bumps a counter.
// A nil *Collector is valid and ignores everything, so call sites never
// need an enabled check.
type Collector struct {
	cfg    Config
	writer Writer

	queue chan Envelope
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	emitted  atomic.Uint64
	dropped  atomic.Uint64
	exported atomic.Uint64
}

// NewCollector starts a collector. A nil writer selects FileWriter when
// enabled and NullWriter otherwise.
func NewCollector(cfg Config, writer Writer) *Collector {
	if writer == nil {
		if cfg.Enabled {
			writer = NewFileWriter(cfg)
		} else {
			writer = NullWriter{}
		}
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultConfig().MaxQueueSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	c := &Collector{
		cfg:    cfg,
		writer: writer,
		queue:  make(chan Envelope, cfg.MaxQueueSize),
		done:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.flushLoop()
	return c
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Flush()
		case <-c.done:
			return
		}
	}
}

// Emit enqueues one event. Safe from any goroutine, never blocks.
func (c *Collector) Emit(p Payload, traceID string) {
	if c == nil {
		return
	}
	envelope := wrapOTLP(p, traceID, c.cfg.HashURLPaths)
	select {
	case c.queue <- envelope:
		c.emitted.Add(1)
	default:
		c.dropped.Add(1)
	}
}

// Flush drains the queue and hands the batch to the writer.
func (c *Collector) Flush() {
	if c == nil {
		return
	}
	var batch []Envelope
	for {
		select {
		case envelope := <-c.queue:
			batch = append(batch, envelope)
		default:
			if len(batch) > 0 {
				c.writer.WriteBatch(batch)
				c.exported.Add(uint64(len(batch)))
			}
			return
		}
	}
}

// Shutdown stops the flush loop and performs a final flush.
func (c *Collector) Shutdown() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
	c.Flush()
}

// Meta returns the current counter snapshot.
func (c *Collector) Meta() MetaSnapshot {
	if c == nil {
		return MetaSnapshot{}
	}
	return MetaSnapshot{
		Emitted:  c.emitted.Load(),
		Dropped:  c.dropped.Load(),
		Exported: c.exported.Load(),
	}
}
