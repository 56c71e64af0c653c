package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"idea-tracker/internal/app"
	"idea-tracker/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = ":" + cfg.Port
			}

			logger := observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runtime, err := app.Build(ctx, app.Options{Config: cfg, Logger: logger})
			if err != nil {
				logger.Error("bootstrap_failed", map[string]any{"error": err.Error()})
				return err
			}
			defer func() {
				if err := runtime.Close(); err != nil {
					logger.Error("shutdown_close_failed", map[string]any{"error": err.Error()})
				}
			}()

			server := &http.Server{
				Addr:              addr,
				Handler:           runtime.Handler,
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       60 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("server_start", map[string]any{"addr": addr})
				serveErr <- server.ListenAndServe()
			}()

			select {
			case err := <-serveErr:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				logger.Error("server_failed", map[string]any{"error": err.Error()})
				return err
			case <-ctx.Done():
			}

			logger.Info("server_shutdown", map[string]any{"timeout_seconds": int(shutdownTimeout / time.Second)})
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default :$PORT)")
	return cmd
}
