package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fepforge/fepforge/internal/application/prep"
	"github.com/fepforge/fepforge/internal/config"
	"github.com/fepforge/fepforge/internal/infrastructure/messaging/kafka"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
)

func newWorkerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a headless worker consuming batch submissions from Kafka",
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

			consumer := kafka.NewSubmitConsumer(cfg.Kafka, submitAdapter{svc: p.svc}, log)
			defer consumer.Close()

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				p.svc.Run(ctx)
			}()
			errCh := make(chan error, 1)
			go func() {
				defer wg.Done()
				errCh <- consumer.Run(ctx)
			}()

			// Probe endpoint for liveness and scrape.
			if cfg.Worker.HealthPort > 0 {
				mux := http.NewServeMux()
				mux.Handle("/metrics", p.metrics.Handler())
				mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusOK)
					_, _ = w.Write([]byte("ok"))
				})
				go func() {
					addr := fmt.Sprintf(":%d", cfg.Worker.HealthPort)
					if err := http.ListenAndServe(addr, mux); err != nil {
						log.Error("health endpoint failed", logging.Err(err))
					}
				}()
			}

			<-ctx.Done()
			wg.Wait()
			select {
			case err := <-errCh:
				return err
			default:
				return nil
			}
		},
	}
}

// submitAdapter feeds Kafka submissions into the pipeline service.
type submitAdapter struct {
	svc *prep.Service
}

func (a submitAdapter) HandleBatchSubmission(ctx context.Context, sub kafka.BatchSubmission) error {
	req := prep.BatchRequest{Name: sub.Name, Protein: []byte(sub.Protein)}
	for _, p := range sub.Pairs {
		req.Pairs = append(req.Pairs, prep.LigandPair{
			Name:    p.Name,
			Protein: []byte(p.Protein),
			LigandA: []byte(p.LigandA),
			LigandB: []byte(p.LigandB),
		})
	}
	_, err := a.svc.SubmitBatch(ctx, req)
	return err
}
