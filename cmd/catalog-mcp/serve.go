package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/catalog-mcp/internal/mcp"
)

var metricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the catalog tools over MCP on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Set up graceful shutdown
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Error().Err(err).Msg("shutdown incomplete")
			}
		}()

		server, err := mcp.NewServer(mcp.Deps{
			Engine:   a.engine,
			Feedback: a.feedback,
			Storage:  a.store,
			Indexer:  a.indexer,
			Embedder: a.emb,
			Logger:   logger,
		})
		if err != nil {
			return err
		}

		addr := cfg.Observability.MetricsAddr
		if metricsAddr != "" {
			addr = metricsAddr
		}
		if addr != "" {
			srv := &http.Server{
				Addr:              addr,
				Handler:           a.metrics.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				logger.Info().Str("addr", addr).Msg("metrics listener started")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error().Err(err).Msg("metrics listener failed")
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		err = server.Serve(ctx)
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("received shutdown signal, server stopped")
			return nil
		}
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address for the Prometheus /metrics listener (overrides config)")
}
