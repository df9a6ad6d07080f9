package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/council/internal/audit"
	"github.com/Dicklesworthstone/council/internal/config"
	"github.com/Dicklesworthstone/council/internal/council"
	"github.com/Dicklesworthstone/council/internal/invoker"
	"github.com/Dicklesworthstone/council/internal/output"
)

func newAskCmd() *cobra.Command {
	var (
		format string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the council a question",
		Long: `Run one full council session: parallel member answers, anonymous
peer review, consensus ranking, and chairman synthesis.

Formats:
  --format=table (default)
  --format=json
  --format=yaml`,
		Example: `  council ask "What are the tradeoffs of event sourcing?"
  council ask --format=json "Summarize the CAP theorem"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				if IsJSONOutput() {
					_ = output.WriteJSON(cmd.OutOrStdout(), output.NewError(err.Error()), true)
				}
				return err
			}

			query := strings.Join(args, " ")
			return runAsk(cmd.OutOrStdout(), cfg, query, format, dryRun)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json, yaml")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Use canned answers instead of calling OpenRouter")
	return cmd
}

// buildInvoker selects the member invoker. Dry runs use a scripted fake
// so the whole pipeline can be exercised without an API key.
func buildInvoker(cfg config.Config, dryRun bool) (invoker.Invoker, error) {
	if dryRun {
		answers := make(map[string]string, len(cfg.Council.CouncilModels)+1)
		for i, m := range cfg.Council.CouncilModels {
			answers[m] = fmt.Sprintf("Dry-run answer %d from %s.", i+1, m)
		}
		answers[cfg.Council.ChairmanModel] = "Dry-run synthesis from the chairman."
		return &invoker.Scripted{Answers: answers}, nil
	}

	key := cfg.OpenRouter.APIKey()
	if key == "" {
		env := cfg.OpenRouter.APIKeyEnv
		if env == "" {
			env = "OPENROUTER_API_KEY"
		}
		return nil, fmt.Errorf("no API key found: set %s or use --dry-run", env)
	}
	return &invoker.OpenRouterClient{
		BaseURL: cfg.OpenRouter.BaseURL,
		APIKey:  key,
	}, nil
}

// buildSink assembles the audit sinks from config. The returned closer
// flushes the JSONL log and sqlite store.
func buildSink(cfg config.Config) (council.AuditSink, func(), error) {
	if !cfg.Audit.Enabled {
		return council.NopSink{}, func() {}, nil
	}

	logger, err := audit.NewLogger(audit.LoggerOptions{Path: cfg.Audit.LogPath, Enabled: true})
	if err != nil {
		return nil, nil, err
	}
	store, err := audit.NewStore(cfg.Audit.DBPath)
	if err != nil {
		_ = logger.Close()
		return nil, nil, err
	}
	closer := func() {
		_ = logger.Close()
		_ = store.Close()
	}
	return audit.Multi{logger, store}, closer, nil
}

func runAsk(w io.Writer, cfg config.Config, query, format string, dryRun bool) error {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "table"
	}
	if jsonOutput {
		format = "json"
	}

	inv, err := buildInvoker(cfg, dryRun)
	if err != nil {
		return err
	}
	sink, closeSink, err := buildSink(cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	engine, err := council.New(cfg.EngineConfig(), inv, council.WithSink(sink))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var result *council.Result
	if cfg.Council.Enabled {
		result, err = engine.Run(ctx, query)
	} else {
		result, err = engine.Direct(ctx, query)
	}
	if err != nil {
		if format == "json" {
			_ = output.WriteJSON(w, output.NewErrorWithCode(council.ErrorCode(err), err.Error()), true)
		}
		return err
	}

	return renderAsk(w, output.NewAskResponse(result), format)
}

var (
	askHeadingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	askFaintStyle   = lipgloss.NewStyle().Faint(true)
)

func renderAsk(w io.Writer, payload output.AskResponse, format string) error {
	switch format {
	case "json":
		return output.WriteJSON(w, payload, true)
	case "yaml", "yml":
		return output.WriteYAML(w, payload)
	case "table", "text":
		color := output.ColorEnabled(w)
		heading := func(s string) string {
			if color {
				return askHeadingStyle.Render(s)
			}
			return s
		}
		faint := func(s string) string {
			if color {
				return askFaintStyle.Render(s)
			}
			return s
		}

		fmt.Fprintln(w, heading("Final Answer"))
		fmt.Fprintln(w, payload.FinalResponse)
		fmt.Fprintln(w)

		if payload.Reasoning != "" {
			fmt.Fprintln(w, heading("Synthesis Reasoning"))
			fmt.Fprintln(w, payload.Reasoning)
			fmt.Fprintln(w)
		}

		if len(payload.Ranking) > 0 {
			fmt.Fprintln(w, heading("Consensus Ranking"))
			table := output.NewTable(w, "#", "MEMBER", "SCORE", "CONFIDENCE", "REVIEWS")
			for _, row := range payload.Ranking {
				score := fmt.Sprintf("%.2f", row.Score)
				conf := fmt.Sprintf("%.2f", row.AvgConfidence)
				if row.Unranked {
					score = "-"
					conf = "-"
				}
				table.AddRow(fmt.Sprintf("%d", row.Position), row.Member, score, conf, fmt.Sprintf("%d", row.Reviews))
			}
			table.Render()
			fmt.Fprintln(w)
		}

		status := fmt.Sprintf("session %s  confidence %.2f  elapsed %s",
			payload.SessionID, payload.Confidence,
			(time.Duration(payload.ElapsedMS) * time.Millisecond).Round(time.Millisecond))
		if payload.FromFallback {
			status += "  (fallback: top-ranked answer, chairman unavailable)"
		}
		fmt.Fprintln(w, faint(status))
		return nil
	default:
		return fmt.Errorf("invalid format %q (expected table, json, yaml)", format)
	}
}
