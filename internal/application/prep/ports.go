// Package prep is the pipeline orchestrator: it drives ligand pairs through
// normalization, parameterization, atom mapping, and topology merging on a
// bounded worker pool, retries transient failures with backoff, and isolates
// permanent failures so one bad ligand sinks only the jobs that need it.
package prep

import (
	"context"
	"time"

	"github.com/fepforge/fepforge/internal/domain/job"
	"github.com/fepforge/fepforge/internal/domain/mapping"
	"github.com/fepforge/fepforge/internal/domain/molecule"
	"github.com/fepforge/fepforge/internal/domain/topology"
	"github.com/fepforge/fepforge/internal/infrastructure/chem/param"
	"github.com/fepforge/fepforge/pkg/types/chem"
	"github.com/fepforge/fepforge/pkg/types/common"
)

// Repository persists batches, jobs, and audit records.  The PostgreSQL
// implementation lives in infrastructure/database/postgres.
type Repository interface {
	SaveBatch(ctx context.Context, b *job.Batch, jobs []*job.PipelineJob) error
	UpdateJob(ctx context.Context, j *job.PipelineJob) error
	GetJob(ctx context.Context, id common.ID) (*job.PipelineJob, error)
	GetBatch(ctx context.Context, id common.ID) (*job.Batch, error)
	ListByBatch(ctx context.Context, batchID common.ID) ([]*job.PipelineJob, error)
	SaveAudit(ctx context.Context, rec job.AuditRecord) error
	ListAudit(ctx context.Context, jobID common.ID) ([]job.AuditRecord, error)
}

// AuditSink publishes transition records to the audit stream.  Publishing is
// best effort: a broker outage must never fail a job.
type AuditSink interface {
	PublishAudit(ctx context.Context, rec job.AuditRecord) error
}

// BundleSink uploads a finished simulation-input bundle and returns its
// location URI.
type BundleSink interface {
	UploadBundle(ctx context.Context, batchID, jobID common.ID, files map[string][]byte) (string, error)
}

// Normalizer turns raw structure text into validated molecules: ligands and
// the receptor they bind.
type Normalizer interface {
	NormalizeLigand(ctx context.Context, name string, raw []byte) (*molecule.Molecule, error)
	NormalizeProtein(ctx context.Context, name string, raw []byte) (*molecule.Molecule, error)
}

// Parameterizer produces a force-field parameter set for a molecule.  In
// production this is the cached AMBER backend.
type Parameterizer interface {
	Parameterize(ctx context.Context, req param.Request) (*chem.ParameterSet, error)
}

// Mapper finds the common core between two ligands.
type Mapper interface {
	Build(molA, molB *molecule.Molecule) (*mapping.AtomMapping, error)
}

// TopologyMerger builds the hybrid topology from two parameterized ligands
// and their mapping.
type TopologyMerger interface {
	Merge(molA, molB *molecule.Molecule, paramsA, paramsB *chem.ParameterSet,
		amap *mapping.AtomMapping, schedule *topology.LambdaSchedule) (*topology.HybridTopology, error)
}

// Metrics receives pipeline events.  The Prometheus implementation lives in
// infrastructure/monitoring/prometheus.
type Metrics interface {
	BatchAccepted(jobs int)
	SetQueueDepth(n int)
	AddActiveWorkers(delta int)
	ObserveStage(stage string, d time.Duration)
	JobRetried()
	JobFinished(status, code string)
	BundleEmitted()
}

type nopMetrics struct{}

func (nopMetrics) BatchAccepted(int)                  {}
func (nopMetrics) SetQueueDepth(int)                  {}
func (nopMetrics) AddActiveWorkers(int)               {}
func (nopMetrics) ObserveStage(string, time.Duration) {}
func (nopMetrics) JobRetried()                        {}
func (nopMetrics) JobFinished(string, string)         {}
func (nopMetrics) BundleEmitted()                     {}
