package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/fepforge/fepforge/internal/application/prep"
	"github.com/fepforge/fepforge/internal/config"
	"github.com/fepforge/fepforge/internal/domain/job"
	"github.com/fepforge/fepforge/internal/domain/mapping"
	"github.com/fepforge/fepforge/internal/domain/topology"
	"github.com/fepforge/fepforge/internal/infrastructure/chem/normalize"
	"github.com/fepforge/fepforge/internal/infrastructure/chem/param"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
	"github.com/fepforge/fepforge/pkg/types/common"
)

// newRunCmd builds the local synchronous command: process one manifest with
// no database, broker, or object store, writing bundles to a directory.
func newRunCmd(configPath *string) *cobra.Command {
	var (
		manifestPath string
		outDir       string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a batch manifest locally and write bundles to disk",
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			normalizer := normalize.New(normalize.Options{
				PH:                      cfg.Chem.ProtonationPH,
				ForceDefaultProtonation: cfg.Chem.ForceDefaultProtonation,
			}, log)
			backend := param.NewAmberBackend(param.AmberConfig{Timeout: cfg.Chem.ToolTimeout}, log)
			params := param.NewCached(backend, nil, nil, log)
			mapper := mapping.NewBuilder(mapOptions(cfg.Chem), log)
			merger, err := topology.NewMerger(cfg.Chem.DummyBondScale, log)
			if err != nil {
				return err
			}

			repo := newLocalRepo()
			sink := &dirBundleSink{root: outDir}
			svc := prep.NewService(cfg.Worker, cfg.Chem, repo, nil, sink,
				normalizer, params, mapper, merger, nil, log)

			runCtx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			done := make(chan struct{})
			go func() { svc.Run(runCtx); close(done) }()

			b, err := svc.SubmitBatch(cmd.Context(), req)
			if err != nil {
				return err
			}
			svc.WaitIdle()
			cancel()
			<-done

			status, err := svc.BatchStatus(cmd.Context(), b.ID)
			if err != nil {
				return err
			}
			printBatchStatus(cmd, status)
			if n := status.Counts.Failed + status.Counts.Skipped; n > 0 {
				return fmt.Errorf("%d of %d jobs did not produce a bundle", n, status.Counts.Total())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", "batch.yaml",
		"batch manifest to process")
	cmd.Flags().StringVarP(&outDir, "out", "o", "bundles",
		"directory to write bundles into")
	return cmd
}

// localRepo keeps batches, jobs, and audit records in memory for the
// lifetime of one run.
type localRepo struct {
	mu      sync.Mutex
	batches map[common.ID]*job.Batch
	jobs    map[common.ID]*job.PipelineJob
	audit   map[common.ID][]job.AuditRecord
}

func newLocalRepo() *localRepo {
	return &localRepo{
		batches: make(map[common.ID]*job.Batch),
		jobs:    make(map[common.ID]*job.PipelineJob),
		audit:   make(map[common.ID][]job.AuditRecord),
	}
}

func (r *localRepo) SaveBatch(_ context.Context, b *job.Batch, jobs []*job.PipelineJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[b.ID] = b
	for _, j := range jobs {
		cp := *j
		r.jobs[j.ID] = &cp
	}
	return nil
}

func (r *localRepo) UpdateJob(_ context.Context, j *job.PipelineJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.ID]; !ok {
		return apperrors.Newf(apperrors.CodeJobNotFound, "job %s not found", j.ID)
	}
	cp := *j
	r.jobs[j.ID] = &cp
	return nil
}

func (r *localRepo) GetJob(_ context.Context, id common.ID) (*job.PipelineJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeJobNotFound, "job %s not found", id)
	}
	cp := *j
	return &cp, nil
}

func (r *localRepo) GetBatch(_ context.Context, id common.ID) (*job.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeBatchNotFound, "batch %s not found", id)
	}
	return b, nil
}

func (r *localRepo) ListByBatch(_ context.Context, batchID common.ID) ([]*job.PipelineJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeBatchNotFound, "batch %s not found", batchID)
	}
	jobs := make([]*job.PipelineJob, 0, len(b.JobIDs))
	for _, id := range b.JobIDs {
		if j, ok := r.jobs[id]; ok {
			cp := *j
			jobs = append(jobs, &cp)
		}
	}
	return jobs, nil
}

func (r *localRepo) SaveAudit(_ context.Context, rec job.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit[rec.JobID] = append(r.audit[rec.JobID], rec)
	return nil
}

func (r *localRepo) ListAudit(_ context.Context, jobID common.ID) ([]job.AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]job.AuditRecord(nil), r.audit[jobID]...), nil
}

// dirBundleSink writes bundle files under root/<batch>/<job>/ instead of
// object storage.
type dirBundleSink struct {
	root string
}

func (s *dirBundleSink) UploadBundle(_ context.Context, batchID, jobID common.ID, files map[string][]byte) (string, error) {
	dir := filepath.Join(s.root, string(batchID), string(jobID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.Wrapf(err, apperrors.CodeStorageError, "create bundle dir %s", dir)
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return "", apperrors.Wrapf(err, apperrors.CodeStorageError, "write %s", name)
		}
	}
	return dir, nil
}
