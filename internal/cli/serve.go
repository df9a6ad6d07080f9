package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/council/internal/audit"
	"github.com/Dicklesworthstone/council/internal/council"
	"github.com/Dicklesworthstone/council/internal/serve"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the council REST API",
		Long: `Serve the council over HTTP: query submission, session history,
and a websocket stream of session events.`,
		Example: `  council serve
  council serve --addr 0.0.0.0:7700`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Serve.Addr = addr
			}

			inv, err := buildInvoker(cfg, false)
			if err != nil {
				return err
			}

			hub := serve.NewHub()
			sinks := audit.Multi{hub}

			var store *audit.Store
			if cfg.Audit.Enabled {
				logger, err := audit.NewLogger(audit.LoggerOptions{Path: cfg.Audit.LogPath, Enabled: true})
				if err != nil {
					return err
				}
				defer logger.Close()

				store, err = audit.NewStore(cfg.Audit.DBPath)
				if err != nil {
					return err
				}
				defer store.Close()

				sinks = append(sinks, logger, store)
			}

			engine, err := council.New(cfg.EngineConfig(), inv, council.WithSink(sinks))
			if err != nil {
				return err
			}

			var sessions serve.SessionReader
			if store != nil {
				sessions = store
			}
			server := serve.NewServer(engine, sessions, hub, nil)
			server.Direct = !cfg.Council.Enabled

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Serving council API on %s\n", cfg.Serve.Addr)
			return server.ListenAndServe(ctx, cfg.Serve.Addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}
