package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/fepforge/fepforge/internal/application/prep"
	"github.com/fepforge/fepforge/internal/domain/job"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
	"github.com/fepforge/fepforge/pkg/types/common"
)

// newStatusCmd builds the batch poll command.  It talks to a running serve
// node over its REST API.
func newStatusCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show the state of a submitted batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := fetchBatchStatus(cmd, server, args[0])
			if err != nil {
				return err
			}
			printBatchStatus(cmd, status)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080",
		"base URL of a fepforge serve node")
	return cmd
}

func fetchBatchStatus(cmd *cobra.Command, server, batchID string) (*prep.BatchStatus, error) {
	url := fmt.Sprintf("%s/api/v1/batches/%s", server, batchID)
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidParam, "build status request")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeServiceUnavailable, "reach serve node")
	}
	defer resp.Body.Close()

	var envelope common.APIResponse[*prep.BatchStatus]
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSerialization, "decode status response")
	}
	if !envelope.Success {
		if envelope.Error != nil {
			return nil, apperrors.Newf(apperrors.ErrorCode(envelope.Error.Code),
				"%s", envelope.Error.Message)
		}
		return nil, apperrors.Newf(apperrors.CodeUnknown, "serve node returned HTTP %d", resp.StatusCode)
	}
	return envelope.Data, nil
}

func printBatchStatus(cmd *cobra.Command, status *prep.BatchStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "batch %s (%s)\n", status.Batch.ID, status.Batch.Name)
	c := status.Counts
	fmt.Fprintf(out, "jobs: %d total, %d pending, %d running, %d succeeded, %d failed, %d skipped\n",
		c.Total(), c.Pending, c.Running, c.Succeeded, c.Failed, c.Skipped)

	for _, j := range status.Jobs {
		switch j.Status {
		case job.StatusSucceeded:
			fmt.Fprintf(out, "  %-24s %-10s %s\n", j.Name, j.Status, j.BundleLocation)
		case job.StatusFailed:
			fmt.Fprintf(out, "  %-24s %-10s %s: %s\n", j.Name, j.Status, j.FailureCode, j.FailureMessage)
		case job.StatusSkipped:
			fmt.Fprintf(out, "  %-24s %-10s %s\n", j.Name, j.Status, j.SkipReason)
		default:
			fmt.Fprintf(out, "  %-24s %-10s retries=%d\n", j.Name, j.Status, j.Retries)
		}
	}
	if status.Drained() {
		fmt.Fprintln(out, "batch is complete")
	}
}
