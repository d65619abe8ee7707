// Package job models one ligand-pair preparation job and its batch: the
// status machine the orchestrator drives, retry accounting, and the audit
// records emitted on every transition.
package job

import (
	"time"

	apperrors "github.com/fepforge/fepforge/pkg/errors"
	"github.com/fepforge/fepforge/pkg/types/common"
)

// Status is the lifecycle state of a pipeline job.  The four working states
// double as stage markers so that a status value alone places a job in the
// pipeline.
type Status string

const (
	StatusPending        Status = "pending"
	StatusNormalizing    Status = "normalizing"
	StatusParameterizing Status = "parameterizing"
	StatusMapping        Status = "mapping"
	StatusMerging        Status = "merging"
	StatusRetrying       Status = "retrying"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	StatusSkipped        Status = "skipped"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// IsWorking reports whether the status is an in-flight pipeline stage.
func (s Status) IsWorking() bool {
	switch s {
	case StatusNormalizing, StatusParameterizing, StatusMapping, StatusMerging, StatusRetrying:
		return true
	}
	return false
}

// legalTransitions encodes the status machine.  Retrying re-enters the stage
// that was interrupted, so it fans back out to every working state.
var legalTransitions = map[Status][]Status{
	StatusPending:     {StatusNormalizing, StatusSkipped, StatusFailed},
	StatusNormalizing: {StatusParameterizing, StatusRetrying, StatusFailed, StatusSkipped},
	// Parameterization-only jobs finish without mapping or merging.
	StatusParameterizing: {StatusMapping, StatusSucceeded, StatusRetrying, StatusFailed, StatusSkipped},
	StatusMapping:        {StatusMerging, StatusRetrying, StatusFailed, StatusSkipped},
	StatusMerging:        {StatusSucceeded, StatusRetrying, StatusFailed, StatusSkipped},
	StatusRetrying:       {StatusNormalizing, StatusParameterizing, StatusMapping, StatusMerging, StatusFailed},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PipelineJob is one ligand-pair preparation unit inside a batch.  It tracks
// status, retry budget, failure attribution, and the artifacts produced on
// the way through the pipeline.
type PipelineJob struct {
	common.BaseEntity

	BatchID common.ID `json:"batch_id"`
	Name    string    `json:"name"`

	Status     Status `json:"status"`
	Retries    int    `json:"retries"`
	MaxRetries int    `json:"max_retries"`

	// Canonical identities of the two ligands and the receptor, filled in
	// after normalization; the skip-propagation logic keys on the ligands.
	LigandIdentityA string `json:"ligand_identity_a,omitempty"`
	LigandIdentityB string `json:"ligand_identity_b,omitempty"`
	ProteinIdentity string `json:"protein_identity,omitempty"`

	FailureCode    apperrors.ErrorCode `json:"failure_code,omitempty"`
	FailureMessage string              `json:"failure_message,omitempty"`
	SkipReason     string              `json:"skip_reason,omitempty"`

	// BundleLocation is the storage URI of the emitted simulation bundle,
	// set on success.
	BundleLocation string `json:"bundle_location,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// New creates a pending job inside the given batch.
func New(batchID common.ID, name string, maxRetries int) *PipelineJob {
	now := time.Now().UTC()
	return &PipelineJob{
		BaseEntity: common.BaseEntity{ID: common.NewID(), CreatedAt: now, UpdatedAt: now},
		BatchID:    batchID,
		Name:       name,
		Status:     StatusPending,
		MaxRetries: maxRetries,
	}
}

// transition moves the job to a new status or fails with
// CodeIllegalTransition.
func (j *PipelineJob) transition(to Status) error {
	if !CanTransition(j.Status, to) {
		return apperrors.Newf(apperrors.CodeIllegalTransition,
			"job %s cannot move %s → %s", j.ID, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Start moves the job into a working stage.  The first start stamps
// StartedAt.
func (j *PipelineJob) Start(stage Status) error {
	if !stage.IsWorking() || stage == StatusRetrying {
		return apperrors.Newf(apperrors.CodeIllegalTransition,
			"%s is not a startable stage", stage)
	}
	if err := j.transition(stage); err != nil {
		return err
	}
	if j.StartedAt == nil {
		now := time.Now().UTC()
		j.StartedAt = &now
	}
	return nil
}

// RetryAllowed reports whether the job still has retry budget.
func (j *PipelineJob) RetryAllowed() bool {
	return j.Retries < j.MaxRetries
}

// MarkRetrying records a transient failure and parks the job for re-entry
// into the stage it left.  The caller must have checked RetryAllowed;
// exceeding the budget is an illegal transition at this level.
func (j *PipelineJob) MarkRetrying(cause error) error {
	if !j.RetryAllowed() {
		return apperrors.Wrap(cause, apperrors.CodeRetryExhausted,
			"retry budget exhausted")
	}
	if err := j.transition(StatusRetrying); err != nil {
		return err
	}
	j.Retries++
	j.FailureCode = apperrors.GetCode(cause)
	j.FailureMessage = cause.Error()
	return nil
}

// Succeed finishes the job with its bundle location.
func (j *PipelineJob) Succeed(bundleLocation string) error {
	if err := j.transition(StatusSucceeded); err != nil {
		return err
	}
	j.BundleLocation = bundleLocation
	j.FailureCode = ""
	j.FailureMessage = ""
	now := time.Now().UTC()
	j.FinishedAt = &now
	return nil
}

// Fail finishes the job permanently with the cause's error code.
func (j *PipelineJob) Fail(cause error) error {
	if err := j.transition(StatusFailed); err != nil {
		return err
	}
	j.FailureCode = apperrors.GetCode(cause)
	j.FailureMessage = cause.Error()
	now := time.Now().UTC()
	j.FinishedAt = &now
	return nil
}

// Skip finishes the job without running it, recording why.  Used when a
// shared prerequisite (typically a ligand another job already failed to
// parameterize) makes running pointless.
func (j *PipelineJob) Skip(reason string) error {
	if err := j.transition(StatusSkipped); err != nil {
		return err
	}
	j.SkipReason = reason
	j.FailureCode = apperrors.CodePrerequisiteFailed
	now := time.Now().UTC()
	j.FinishedAt = &now
	return nil
}

// Batch groups jobs submitted together.  Batch-level status is always
// derived from the member jobs, never stored.
type Batch struct {
	common.BaseEntity

	Name   string      `json:"name"`
	JobIDs []common.ID `json:"job_ids"`
}

// NewBatch creates an empty batch.
func NewBatch(name string) *Batch {
	now := time.Now().UTC()
	return &Batch{
		BaseEntity: common.BaseEntity{ID: common.NewID(), CreatedAt: now, UpdatedAt: now},
		Name:       name,
	}
}

// CountStatuses folds job statuses into the coarse batch counters.
func CountStatuses(jobs []*PipelineJob) common.StatusCounts {
	var c common.StatusCounts
	for _, j := range jobs {
		switch {
		case j.Status == StatusPending:
			c.Pending++
		case j.Status.IsWorking():
			c.Running++
		case j.Status == StatusSucceeded:
			c.Succeeded++
		case j.Status == StatusFailed:
			c.Failed++
		case j.Status == StatusSkipped:
			c.Skipped++
		}
	}
	return c
}

// AuditRecord is one immutable status-transition event, published to the
// audit topic and kept for provenance.
type AuditRecord struct {
	JobID   common.ID `json:"job_id"`
	BatchID common.ID `json:"batch_id"`
	JobName string    `json:"job_name"`

	From Status `json:"from"`
	To   Status `json:"to"`

	Retries   int       `json:"retries"`
	ErrorCode string    `json:"error_code,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// NewAuditRecord snapshots a transition that already happened on j.
func NewAuditRecord(j *PipelineJob, from Status) AuditRecord {
	rec := AuditRecord{
		JobID:   j.ID,
		BatchID: j.BatchID,
		JobName: j.Name,
		From:    from,
		To:      j.Status,
		Retries: j.Retries,
		At:      time.Now().UTC(),
	}
	if j.FailureCode != "" && j.FailureCode != apperrors.CodeOK {
		rec.ErrorCode = j.FailureCode.String()
		rec.Message = j.FailureMessage
	}
	if j.SkipReason != "" {
		rec.Message = j.SkipReason
	}
	return rec
}
