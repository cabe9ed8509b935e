package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// Every collector in this package must join its flush goroutine on
// Shutdown.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSanitizeURLStripsQueryAndFragment(t *testing.T) {
	out := SanitizeURL("https://shop.example.com/item/42?token=secret#frag", false)
	assert.Equal(t, "https://shop.example.com/item/42", out)
}

func TestSanitizeURLHashesPathSegments(t *testing.T) {
	out := SanitizeURL("https://shop.example.com/item/42", true)
	assert.Contains(t, out, "shop.example.com")
	assert.NotContains(t, out, "item")
	assert.NotContains(t, out, "42")
}

func TestSanitizePayloadRemovesContentFields(t *testing.T) {
	payload := map[string]any{
		"raw_html": "<html>secret</html>",
		"tier":     "live",
		"nested":   map[string]any{"text": "secret", "count": 3},
	}
	out := sanitizePayload(payload)
	assert.NotContains(t, out, "raw_html")
	assert.Equal(t, "live", out["tier"])
	nested := out["nested"].(map[string]any)
	assert.NotContains(t, nested, "text")
	assert.Contains(t, nested, "count")
}

func TestWrapOTLPEnvelopeShape(t *testing.T) {
	env := wrapOTLP(ActionStart{Ref: 3, Action: "click", Role: "button", Affordance: "clickable"}, "abc123", false)

	require.Len(t, env.ResourceLogs, 1)
	require.Len(t, env.ResourceLogs[0].ScopeLogs, 1)
	require.Len(t, env.ResourceLogs[0].ScopeLogs[0].LogRecords, 1)
	record := env.ResourceLogs[0].ScopeLogs[0].LogRecords[0]

	require.NotNil(t, record.Body.StringValue)
	assert.Equal(t, EventActionStart, *record.Body.StringValue)
	assert.Len(t, record.TraceID, 32)
	assert.Len(t, record.SpanID, 16)

	byKey := map[string]AttrValue{}
	for _, a := range record.Attributes {
		byKey[a.Key] = a.Value
	}
	require.NotNil(t, byKey["ref"].IntValue)
	assert.Equal(t, "3", *byKey["ref"].IntValue)
	require.NotNil(t, byKey["action"].StringValue)
	assert.Equal(t, "click", *byKey["action"].StringValue)
}

func TestWrapOTLPSanitizesURLField(t *testing.T) {
	env := wrapOTLP(NavigationStart{URL: "https://example.com/a?session=1"}, "", false)
	record := env.ResourceLogs[0].ScopeLogs[0].LogRecords[0]
	require.Len(t, record.Attributes, 1)
	require.NotNil(t, record.Attributes[0].Value.StringValue)
	assert.Equal(t, "https://example.com/a", *record.Attributes[0].Value.StringValue)
}

func TestCollectorEmitAndFlush(t *testing.T) {
	writer := &ListWriter{}
	c := NewCollector(Config{Enabled: true, MaxQueueSize: 16, FlushInterval: time.Hour}, writer)
	defer c.Shutdown()

	c.Emit(CacheHit{Tier: "active"}, "")
	c.Emit(CacheHit{Tier: "lru"}, "")
	c.Flush()

	events := writer.Snapshot()
	require.Len(t, events, 2)
	meta := c.Meta()
	assert.Equal(t, uint64(2), meta.Emitted)
	assert.Equal(t, uint64(2), meta.Exported)
	assert.Equal(t, uint64(0), meta.Dropped)
}

func TestCollectorDropsWhenQueueFull(t *testing.T) {
	writer := &ListWriter{}
	c := NewCollector(Config{Enabled: true, MaxQueueSize: 1, FlushInterval: time.Hour}, writer)
	defer c.Shutdown()

	c.Emit(CacheHit{Tier: "active"}, "")
	c.Emit(CacheHit{Tier: "active"}, "")

	meta := c.Meta()
	assert.Equal(t, uint64(1), meta.Emitted)
	assert.Equal(t, uint64(1), meta.Dropped)
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.Emit(CacheHit{Tier: "active"}, "")
	c.Flush()
	c.Shutdown()
	assert.Equal(t, MetaSnapshot{}, c.Meta())
}

func TestFileWriterWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(Config{ExportPath: dir, MaxFileSizeMB: 1, MaxRetentionDays: 7, MaxTotalSizeMB: 10})

	w.WriteBatch([]Envelope{
		wrapOTLP(CacheHit{Tier: "active"}, "", false),
		wrapOTLP(CacheHit{Tier: "lru"}, "", false),
	})

	matches, err := filepath.Glob(filepath.Join(dir, "events-*.jsonl"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	lines := 0
	for _, line := range splitLines(string(data)) {
		var env Envelope
		require.NoError(t, json.Unmarshal([]byte(line), &env))
		lines++
	}
	assert.Equal(t, 2, lines)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
