package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fepforge/fepforge/internal/config"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	httpapi "github.com/fepforge/fepforge/internal/interfaces/http"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API with an embedded worker pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, err := logging.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			logging.SetDefault(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p, err := buildPipeline(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer p.close()

			go p.svc.Run(ctx)

			server := httpapi.NewServer(cfg.Server, p.svc, p.metrics, p.healthCheckers(), log)
			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownTimeout := cfg.Server.ShutdownTimeout
			if shutdownTimeout <= 0 {
				shutdownTimeout = 30 * time.Second
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Stop(shutdownCtx)
		},
	}
}
