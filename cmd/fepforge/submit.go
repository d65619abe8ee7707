package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fepforge/fepforge/internal/config"
	"github.com/fepforge/fepforge/internal/infrastructure/messaging/kafka"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
)

// newSubmitCmd builds the batch submission command: parse a manifest, read
// the ligand files, and publish the batch to the intake topic for a worker
// to pick up.
func newSubmitCmd(configPath *string) *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a batch manifest to the preparation pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, err := logging.NewLogger(cfg.Log)
			if err != nil {
				return err
			}

			req, err := loadManifest(manifestPath)
			if err != nil {
				return err
			}

			sub := kafka.BatchSubmission{Name: req.Name, Protein: string(req.Protein)}
			for _, p := range req.Pairs {
				sub.Pairs = append(sub.Pairs, kafka.LigandPairSpec{
					Name:    p.Name,
					Protein: string(p.Protein),
					LigandA: string(p.LigandA),
					LigandB: string(p.LigandB),
				})
			}

			producer := kafka.NewSubmitProducer(cfg.Kafka, log)
			defer producer.Close()
			if err := producer.PublishSubmission(cmd.Context(), sub); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted batch %q with %d pairs\n",
				sub.Name, len(sub.Pairs))
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", "batch.yaml",
		"batch manifest to submit")
	return cmd
}
