// Package config resolves server configuration. Precedence: CLI flags
// (applied by cmd) > PAGEMAP_* environment variables > optional YAML
// file > defaults.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Version is the released semver, stamped into the bot user agent and
// the serve banner.
const Version = "0.9.0"

// BotUserAgent is the crawler-identifying UA selected by --bot-ua.
const BotUserAgent = "PageMapBot/" + Version + " (+https://github.com/Retio-ai/pagemap)"

// Config holds every tunable of the pagemap server and CLI.
type Config struct {
	Transport string `yaml:"transport"` // stdio | http
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`

	CORSOrigins    []string `yaml:"cors_origins"`
	TrustedProxies []string `yaml:"trusted_proxies"`
	RequireTLS     bool     `yaml:"require_tls"`

	AllowLocal   bool   `yaml:"allow_local"`
	IgnoreRobots bool   `yaml:"ignore_robots"`
	BotUA        bool   `yaml:"bot_ua"`
	Telemetry    bool   `yaml:"telemetry"`
	TelemetryDir string `yaml:"telemetry_dir"`

	Headless bool   `yaml:"headless"`
	Locale   string `yaml:"locale"`

	MaxContexts        int `yaml:"max_contexts"`
	MaxNavigations     int `yaml:"max_navigations"`
	MaxSessionAgeSecs  int `yaml:"max_session_age_seconds"`
	MaxTabsPerSession  int `yaml:"max_tabs_per_session"`
	SessionTTLSecs     int `yaml:"session_ttl_seconds"`
	ToolLockTimeoutSec int `yaml:"tool_lock_timeout_seconds"`

	MaxPrunedTokens    int `yaml:"max_pruned_tokens"`
	TotalTokenBudget   int `yaml:"total_token_budget"`
	MaxResponseBytes   int `yaml:"max_response_bytes"`
	MaxScreenshotBytes int `yaml:"max_screenshot_bytes"`

	RateClientCapacity int `yaml:"rate_client_capacity"`
	RateGlobalCapacity int `yaml:"rate_global_capacity"`

	PipelineTimeoutSecs     int `yaml:"pipeline_timeout_seconds"`
	ScreenshotTimeoutSecs   int `yaml:"screenshot_timeout_seconds"`
	NavigateBackTimeoutSecs int `yaml:"navigate_back_timeout_seconds"`
	DrainTimeoutSecs        int `yaml:"drain_timeout_seconds"`

	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns the built-in defaults: stdio transport bound to
// loopback, headless browser, robots honored, telemetry off.
func DefaultConfig() *Config {
	return &Config{
		Transport: "stdio",
		Host:      "127.0.0.1",
		Port:      8321,

		Headless: true,
		Locale:   "ko-KR",

		MaxContexts: 5,

		PipelineTimeoutSecs:     60,
		ScreenshotTimeoutSecs:   15,
		NavigateBackTimeoutSecs: 30,
		DrainTimeoutSecs:        20,
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. A missing file is not an error; flags are
// layered on top by the cmd package.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides layers PAGEMAP_* variables over the file values.
func (c *Config) applyEnvOverrides() {
	envString("PAGEMAP_TRANSPORT", &c.Transport)
	envString("PAGEMAP_HOST", &c.Host)
	envInt("PAGEMAP_PORT", &c.Port)
	envList("PAGEMAP_CORS_ORIGIN", &c.CORSOrigins)
	envList("PAGEMAP_TRUSTED_PROXIES", &c.TrustedProxies)
	envBool("PAGEMAP_REQUIRE_TLS", &c.RequireTLS)
	envBool("PAGEMAP_ALLOW_LOCAL", &c.AllowLocal)
	envBool("PAGEMAP_IGNORE_ROBOTS", &c.IgnoreRobots)
	envBool("PAGEMAP_BOT_UA", &c.BotUA)
	envBool("PAGEMAP_TELEMETRY", &c.Telemetry)
	envString("PAGEMAP_TELEMETRY_DIR", &c.TelemetryDir)
	envInt("PAGEMAP_MAX_CONTEXTS", &c.MaxContexts)
	envInt("PAGEMAP_MAX_NAVIGATIONS", &c.MaxNavigations)
	envInt("PAGEMAP_MAX_SESSION_AGE", &c.MaxSessionAgeSecs)
	envInt("PAGEMAP_MAX_TABS", &c.MaxTabsPerSession)
	envInt("PAGEMAP_MAX_PRUNED_TOKENS", &c.MaxPrunedTokens)
	envInt("PAGEMAP_TOTAL_TOKEN_BUDGET", &c.TotalTokenBudget)
	envInt("PAGEMAP_MAX_RESPONSE_BYTES", &c.MaxResponseBytes)
	envInt("PAGEMAP_MAX_SCREENSHOT_BYTES", &c.MaxScreenshotBytes)
	envInt("PAGEMAP_RATE_CLIENT_CAPACITY", &c.RateClientCapacity)
	envInt("PAGEMAP_RATE_GLOBAL_CAPACITY", &c.RateGlobalCapacity)
	envInt("PAGEMAP_PIPELINE_TIMEOUT", &c.PipelineTimeoutSecs)
	envInt("PAGEMAP_SCREENSHOT_TIMEOUT", &c.ScreenshotTimeoutSecs)
	envInt("PAGEMAP_NAVIGATE_BACK_TIMEOUT", &c.NavigateBackTimeoutSecs)
	envInt("PAGEMAP_DRAIN_TIMEOUT", &c.DrainTimeoutSecs)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envList(key string, dst *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

// Validate enforces the startup guardrails. It runs after flags are
// applied so it sees the final values.
func (c *Config) Validate() error {
	switch c.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("unknown transport %q (want stdio or http)", c.Transport)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	for _, origin := range c.CORSOrigins {
		if origin == "*" {
			return fmt.Errorf("cors origin '*' is not allowed; list explicit origins")
		}
	}
	for _, proxy := range c.TrustedProxies {
		if proxy == "*" && !c.loopbackHost() {
			return fmt.Errorf("trusted proxy '*' requires binding to loopback, not %s", c.Host)
		}
	}
	return nil
}

func (c *Config) loopbackHost() bool {
	if c.Host == "localhost" {
		return true
	}
	ip := net.ParseIP(c.Host)
	return ip != nil && ip.IsLoopback()
}

// UserAgent returns the browser UA to present: the bot UA when
// --bot-ua is set, otherwise empty so the browser layer keeps its
// default Chrome string.
func (c *Config) UserAgent() string {
	if c.BotUA {
		return BotUserAgent
	}
	return ""
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func secondsOr(secs, fallback int) time.Duration {
	if secs <= 0 {
		secs = fallback
	}
	return time.Duration(secs) * time.Second
}

// PipelineTimeout bounds one get_page_map build.
func (c *Config) PipelineTimeout() time.Duration {
	return secondsOr(c.PipelineTimeoutSecs, 60)
}

// ScreenshotTimeout bounds one take_screenshot capture.
func (c *Config) ScreenshotTimeout() time.Duration {
	return secondsOr(c.ScreenshotTimeoutSecs, 15)
}

// NavigateBackTimeout bounds one navigate_back round trip.
func (c *Config) NavigateBackTimeout() time.Duration {
	return secondsOr(c.NavigateBackTimeoutSecs, 30)
}

// DrainTimeout is how long shutdown waits for in-flight tool calls.
func (c *Config) DrainTimeout() time.Duration {
	return secondsOr(c.DrainTimeoutSecs, 20)
}

// SessionTTL converts the session idle TTL override.
func (c *Config) SessionTTL() time.Duration {
	if c.SessionTTLSecs <= 0 {
		return 0
	}
	return time.Duration(c.SessionTTLSecs) * time.Second
}

// MaxSessionAge converts the session age override.
func (c *Config) MaxSessionAge() time.Duration {
	if c.MaxSessionAgeSecs <= 0 {
		return 0
	}
	return time.Duration(c.MaxSessionAgeSecs) * time.Second
}

// ToolLockTimeout converts the tool lock override.
func (c *Config) ToolLockTimeout() time.Duration {
	if c.ToolLockTimeoutSec <= 0 {
		return 0
	}
	return time.Duration(c.ToolLockTimeoutSec) * time.Second
}
