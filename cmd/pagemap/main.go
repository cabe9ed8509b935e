// Command pagemap turns live web pages into ref-addressed
// interactables plus token-budgeted pruned context. It runs either as
// a one-shot builder (pagemap build) or as a JSON-RPC tool server over
// stdio or HTTP (pagemap serve).
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Retio-ai/pagemap/internal/config"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pagemap",
	Short: "PageMap - web pages as numbered actions plus pruned context",
	Long: `PageMap renders a live web page into two things an LLM agent can use:
a list of interactable elements addressed by stable integer refs, and
a token-budgeted pruned text context.

Run "pagemap serve" to expose the pipeline as JSON-RPC tools over
stdio or HTTP, or "pagemap build" for a one-shot page map.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		// stdout belongs to the stdio transport; logs stay on stderr.
		zcfg.OutputPaths = []string{"stderr"}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// internalError marks failures inside the browser or server stack, as
// opposed to input mistakes. main exits 2 for these and 1 otherwise.
type internalError struct{ err error }

func (e internalError) Error() string { return e.err.Error() }
func (e internalError) Unwrap() error { return e.err }

func internalErr(err error) error {
	if err == nil {
		return nil
	}
	return internalError{err: err}
}

// loadConfig layers the optional YAML file and PAGEMAP_* env over the
// defaults. Flag overrides happen per command because precedence needs
// Flags().Changed.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Verbose = cfg.Verbose || verbose
	return cfg, nil
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (flags and PAGEMAP_* env take precedence)")

	// Add commands to root
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(buildCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ie internalError
		if errors.As(err, &ie) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
