package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Retio-ai/pagemap/internal/config"
	"github.com/Retio-ai/pagemap/internal/server"
	"github.com/Retio-ai/pagemap/internal/telemetry"
)

// serveCmd runs the JSON-RPC tool server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the PageMap tool server over stdio or HTTP",
	Long: `Starts the JSON-RPC 2.0 tool server.

The stdio transport reads line-delimited requests on stdin and writes
responses to stdout; all logging goes to stderr. The HTTP transport
exposes POST /mcp plus health probes (/health, /livez, /ready,
/readyz, /startupz).

Examples:
  pagemap serve
  pagemap serve --transport http --host 0.0.0.0 --port 8321 \
    --trusted-proxy cloudflare --cors-origin https://app.example.com`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("transport", "", "Transport: stdio or http (default stdio)")
	f.String("host", "", "HTTP bind host (default 127.0.0.1)")
	f.Int("port", 0, "HTTP bind port (default 8321)")
	f.StringSlice("cors-origin", nil, "Allowed CORS origin, repeatable ('*' is rejected)")
	f.StringSlice("trusted-proxy", nil, "Trusted proxy IP, CIDR, or 'cloudflare', repeatable")
	f.Bool("require-tls", false, "Redirect plain HTTP to HTTPS and send HSTS")
	f.Bool("allow-local", false, "Allow navigation to loopback and private addresses")
	f.Bool("ignore-robots", false, "Skip robots.txt checks")
	f.Bool("bot-ua", false, "Identify as PageMapBot instead of a Chrome UA")
	f.Bool("telemetry", false, "Write OTLP-shaped telemetry batches to disk")
	f.String("telemetry-dir", "", "Telemetry export directory (default ~/.pagemap/telemetry)")
	f.Int("max-contexts", 0, "Browser context pool size (default 5)")
	f.Int("drain-timeout", 0, "Seconds to wait for in-flight tools on shutdown (default 20)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	telemetry.SetVersion(config.Version)
	var collector *telemetry.Collector
	if cfg.Telemetry {
		tcfg := telemetry.DefaultConfig()
		tcfg.Enabled = true
		if cfg.TelemetryDir != "" {
			tcfg.ExportPath = cfg.TelemetryDir
		}
		collector = telemetry.NewCollector(tcfg, telemetry.NewFileWriter(tcfg))
	}

	srv := server.New(cfg, logger, server.Deps{Collector: collector})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return internalErr(fmt.Errorf("start browser pool: %w", err))
	}
	defer srv.Shutdown()

	logger.Info("pagemap server starting",
		zap.String("version", config.Version),
		zap.String("transport", cfg.Transport),
		zap.Bool("allow_local", cfg.AllowLocal),
		zap.Bool("telemetry", cfg.Telemetry))

	switch cfg.Transport {
	case "http":
		err = srv.RunHTTP(ctx)
	default:
		err = srv.RunStdio(ctx)
	}
	if err != nil {
		return internalErr(err)
	}
	return nil
}

// applyServeFlags layers explicitly-set flags over file and env
// values. Unset flags leave the loaded config untouched.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("transport") {
		cfg.Transport, _ = f.GetString("transport")
	}
	if f.Changed("host") {
		cfg.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		cfg.Port, _ = f.GetInt("port")
	}
	if f.Changed("cors-origin") {
		cfg.CORSOrigins, _ = f.GetStringSlice("cors-origin")
	}
	if f.Changed("trusted-proxy") {
		cfg.TrustedProxies, _ = f.GetStringSlice("trusted-proxy")
	}
	if f.Changed("require-tls") {
		cfg.RequireTLS, _ = f.GetBool("require-tls")
	}
	if f.Changed("allow-local") {
		cfg.AllowLocal, _ = f.GetBool("allow-local")
	}
	if f.Changed("ignore-robots") {
		cfg.IgnoreRobots, _ = f.GetBool("ignore-robots")
	}
	if f.Changed("bot-ua") {
		cfg.BotUA, _ = f.GetBool("bot-ua")
	}
	if f.Changed("telemetry") {
		cfg.Telemetry, _ = f.GetBool("telemetry")
	}
	if f.Changed("telemetry-dir") {
		cfg.TelemetryDir, _ = f.GetString("telemetry-dir")
	}
	if f.Changed("max-contexts") {
		cfg.MaxContexts, _ = f.GetInt("max-contexts")
	}
	if f.Changed("drain-timeout") {
		cfg.DrainTimeoutSecs, _ = f.GetInt("drain-timeout")
	}
}
