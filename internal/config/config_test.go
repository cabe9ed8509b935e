package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreUsable(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "stdio", cfg.Transport)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 60*time.Second, cfg.PipelineTimeout())
	assert.Equal(t, 15*time.Second, cfg.ScreenshotTimeout())
	assert.Equal(t, 30*time.Second, cfg.NavigateBackTimeout())
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "stdio", cfg.Transport)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagemap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"transport: http\nport: 9000\ncors_origins:\n  - https://app.retio.ai\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Transport)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, []string{"https://app.retio.ai"}, cfg.CORSOrigins)
}

func TestEnvBeatsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagemap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\n"), 0o644))
	t.Setenv("PAGEMAP_PORT", "7001")
	t.Setenv("PAGEMAP_ALLOW_LOCAL", "true")
	t.Setenv("PAGEMAP_TRUSTED_PROXIES", "10.0.0.1, cloudflare")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Port)
	assert.True(t, cfg.AllowLocal)
	assert.Equal(t, []string{"10.0.0.1", "cloudflare"}, cfg.TrustedProxies)
}

func TestValidateRejectsWildcardCORS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CORSOrigins = []string{"*"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cors origin '*'")
}

func TestValidateWildcardProxyNeedsLoopback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrustedProxies = []string{"*"}
	assert.NoError(t, cfg.Validate(), "loopback bind allows trust-all")

	cfg.Host = "0.0.0.0"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trusted proxy '*'")

	cfg.Host = "localhost"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownTransport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport = "websocket"
	assert.Error(t, cfg.Validate())
}

func TestUserAgentSelection(t *testing.T) {
	cfg := DefaultConfig()
	assert.Empty(t, cfg.UserAgent())
	cfg.BotUA = true
	assert.Equal(t, "PageMapBot/"+Version+" (+https://github.com/Retio-ai/pagemap)", cfg.UserAgent())
}
