package server

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrustedProxies(t *testing.T) {
	g, err := parseTrustedProxies([]string{"10.0.0.1", "192.168.0.0/16", " ", "[::1]"})
	require.NoError(t, err)

	assert.True(t, g.isTrusted(netip.MustParseAddr("10.0.0.1")))
	assert.True(t, g.isTrusted(netip.MustParseAddr("192.168.44.9")))
	assert.True(t, g.isTrusted(netip.MustParseAddr("::1")))
	assert.False(t, g.isTrusted(netip.MustParseAddr("203.0.113.7")))
	assert.False(t, g.trustAll)
}

func TestParseTrustedProxiesCloudflare(t *testing.T) {
	g, err := parseTrustedProxies([]string{"cloudflare"})
	require.NoError(t, err)

	assert.Len(t, g.networks, len(cloudflareCIDRs))
	assert.True(t, g.isTrusted(netip.MustParseAddr("104.16.1.1")))
	assert.True(t, g.isTrusted(netip.MustParseAddr("2606:4700::1")))
	assert.False(t, g.isTrusted(netip.MustParseAddr("8.8.8.8")))
}

func TestParseTrustedProxiesStar(t *testing.T) {
	g, err := parseTrustedProxies([]string{"*"})
	require.NoError(t, err)
	assert.True(t, g.trustAll)
	assert.True(t, g.isTrusted(netip.MustParseAddr("203.0.113.7")))
}

func TestParseTrustedProxiesInvalid(t *testing.T) {
	_, err := parseTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)

	_, err = parseTrustedProxies([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}

func TestNormalizeIPString(t *testing.T) {
	assert.Equal(t, "::1", normalizeIPString("[::1]"))
	assert.Equal(t, "fe80::1", normalizeIPString("fe80::1%eth0"))
	assert.Equal(t, "10.0.0.1", normalizeIPString("  10.0.0.1 "))
}

func TestExtractClientIP(t *testing.T) {
	g, err := parseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	// Rightmost untrusted hop wins.
	got := extractClientIP("203.0.113.7, 10.0.0.2, 10.0.0.3", g, "10.0.0.1")
	assert.Equal(t, "203.0.113.7", got)

	// Every hop trusted: leftmost entry is the client.
	got = extractClientIP("10.0.0.9, 10.0.0.2", g, "10.0.0.1")
	assert.Equal(t, "10.0.0.9", got)

	// An unparseable hop stops the walk; spoofers cannot skip past it.
	got = extractClientIP("203.0.113.7, garbage, 10.0.0.2", g, "10.0.0.1")
	assert.Equal(t, "garbage", got)

	// Empty header falls back to the peer.
	got = extractClientIP("", g, "10.0.0.1")
	assert.Equal(t, "10.0.0.1", got)
}

func TestParseForwarded(t *testing.T) {
	hops := parseForwarded(`for=192.0.2.60;proto=http;by=203.0.113.43, for="[2001:db8::1]"`)
	assert.Equal(t, []string{"192.0.2.60", "[2001:db8::1]"}, hops)

	assert.Empty(t, parseForwarded("proto=https"))
}

func TestSanitizeRequestID(t *testing.T) {
	assert.Equal(t, "req-1.2_3", sanitizeRequestID("req-1.2_3"))

	// Hostile values are replaced, not echoed.
	got := sanitizeRequestID("evil\nheader")
	assert.NotContains(t, got, "\n")
	assert.Len(t, got, 32)

	assert.Len(t, sanitizeRequestID(""), 32)
}

func gatewayProbe(t *testing.T, trusted []string, remoteAddr string, hdr map[string]string) (clientID, requestID string) {
	t.Helper()
	g, err := parseTrustedProxies(trusted)
	require.NoError(t, err)

	var gotClient string
	h := gateway(g, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClient = r.Header.Get("X-Client-Id")
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return gotClient, rec.Header().Get("X-Request-Id")
}

func TestGatewayTrustedPeer(t *testing.T) {
	clientID, requestID := gatewayProbe(t, []string{"127.0.0.1"}, "127.0.0.1:54321", map[string]string{
		"X-Forwarded-For": "203.0.113.7",
		"X-Request-Id":    "trace-42",
	})
	assert.Equal(t, "203.0.113.7", clientID)
	assert.Equal(t, "trace-42", requestID)
}

func TestGatewayUntrustedPeerIgnoresForwardHeaders(t *testing.T) {
	clientID, _ := gatewayProbe(t, nil, "198.51.100.9:1234", map[string]string{
		"X-Forwarded-For": "203.0.113.7",
	})
	assert.Equal(t, "198.51.100.9", clientID)
}

func TestGatewayForwardedHeader(t *testing.T) {
	clientID, _ := gatewayProbe(t, []string{"127.0.0.1"}, "127.0.0.1:1234", map[string]string{
		"Forwarded": `for=203.0.113.7;proto=https`,
	})
	assert.Equal(t, "203.0.113.7", clientID)
}

func TestGatewayOverwritesClientIDHeader(t *testing.T) {
	clientID, _ := gatewayProbe(t, nil, "198.51.100.9:1234", map[string]string{
		"X-Client-Id": "spoofed",
	})
	assert.Equal(t, "198.51.100.9", clientID)
}
