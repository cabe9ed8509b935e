package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Retio-ai/pagemap/internal/browser"
	"github.com/Retio-ai/pagemap/internal/config"
	"github.com/Retio-ai/pagemap/internal/pagemap"
	"github.com/Retio-ai/pagemap/internal/urlcheck"
)

// buildCmd builds one page map and prints or saves it.
var buildCmd = &cobra.Command{
	Use:   "build [html-file]",
	Short: "Build a page map once and print or save it",
	Long: `Builds a single page map.

Live mode launches a headless browser, navigates to --url, and runs
the full pipeline. Offline mode (--offline) parses a local HTML file
instead (positional argument, or stdin when omitted or "-"); it
detects no interactables because there is no accessibility tree.

Examples:
  pagemap build --url https://shop.example.com/products/123
  pagemap build --url https://shop.example.com --format markdown -o page.md
  curl -s https://example.com | pagemap build --offline --url https://example.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func init() {
	f := buildCmd.Flags()
	f.String("url", "", "Page URL to build (live), or the source URL stamped on offline builds")
	f.String("format", "json", "Output format: json, text, or markdown")
	f.StringP("output", "o", "", "Write the page map to a file instead of stdout")
	f.Bool("offline", false, "Build from local HTML without a browser")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	f := cmd.Flags()
	url, _ := f.GetString("url")
	format, _ := f.GetString("format")
	outPath, _ := f.GetString("output")
	offline, _ := f.GetBool("offline")

	switch format {
	case "json", "text", "markdown":
	default:
		return fmt.Errorf("unknown format %q (want json, text, or markdown)", format)
	}

	opts := pagemap.BuildOptions{
		MaxPrunedTokens: cfg.MaxPrunedTokens,
		TotalBudget:     cfg.TotalTokenBudget,
		Logger:          logger,
	}

	var pm *pagemap.PageMap
	if offline {
		raw, err := readHTMLInput(args)
		if err != nil {
			return err
		}
		pm = pagemap.BuildOffline(string(raw), url, opts)
	} else {
		if url == "" {
			return fmt.Errorf("--url is required for a live build (or pass --offline with an HTML file)")
		}
		if err := urlcheck.New(cfg.AllowLocal).Validate(url); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		pm, err = buildLive(ctx, cfg, url, opts)
		if err != nil {
			return err
		}
	}

	out, err := renderBuild(pm, format)
	if err != nil {
		return internalErr(fmt.Errorf("render page map: %w", err))
	}

	if outPath != "" {
		if err := os.WriteFile(outPath, out, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", outPath, err)
		}
		fmt.Printf("Page map saved to %s\n", outPath)
		fmt.Printf("Interactables: %d\n", len(pm.Interactables))
		fmt.Printf("Pruned tokens: %d\n", pm.PrunedTokens)
		fmt.Printf("Generation: %.0fms\n", pm.GenerationMS)
		return nil
	}

	os.Stdout.Write(out)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

// buildLive runs the full pipeline against a fresh single-context
// browser pool.
func buildLive(ctx context.Context, cfg *config.Config, url string, opts pagemap.BuildOptions) (*pagemap.PageMap, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.PipelineTimeout())
	defer cancel()

	pool := browser.NewPool(browser.Config{
		Headless:  cfg.Headless,
		Locale:    cfg.Locale,
		UserAgent: cfg.UserAgent(),
	}, 1, 0, logger)
	if err := pool.Start(ctx); err != nil {
		return nil, internalErr(fmt.Errorf("launch browser: %w", err))
	}
	defer pool.Shutdown()

	sess, err := pool.Acquire(ctx, "cli-build")
	if err != nil {
		return nil, internalErr(fmt.Errorf("acquire browser context: %w", err))
	}
	defer pool.Release("cli-build")

	pm, err := pagemap.BuildLive(ctx, sess, url, opts)
	if err != nil {
		return nil, internalErr(err)
	}
	return pm, nil
}

// readHTMLInput resolves offline input: a file path argument, or stdin
// when the argument is absent or "-".
func readHTMLInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		if len(strings.TrimSpace(string(raw))) == 0 {
			return nil, fmt.Errorf("no HTML on stdin (pass a file path or pipe a document)")
		}
		return raw, nil
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args[0], err)
	}
	return raw, nil
}

func renderBuild(pm *pagemap.PageMap, format string) ([]byte, error) {
	switch format {
	case "text":
		return []byte(pagemap.AgentPrompt(pm, true)), nil
	case "markdown":
		return []byte(pagemap.ToMarkdown(pm)), nil
	default:
		return pagemap.ToJSON(pm, true)
	}
}
