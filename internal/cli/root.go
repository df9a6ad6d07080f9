// Package cli implements the council command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/council/internal/config"
)

var (
	configPath string
	jsonOutput bool
	verbose    bool
)

// IsJSONOutput reports whether --json was passed globally.
func IsJSONOutput() bool {
	return jsonOutput
}

// NewRootCmd builds the council command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "council",
		Short: "Multi-model consensus over OpenRouter",
		Long: `council queries a configurable set of language models in parallel,
has them anonymously review each other's answers, aggregates the
reviews into a consensus ranking, and synthesizes one final answer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default council.toml)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Force JSON output")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging to stderr")

	root.AddCommand(newAskCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads and validates the config file named by --config.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}
