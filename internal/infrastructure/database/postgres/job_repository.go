package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fepforge/fepforge/internal/domain/job"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
	"github.com/fepforge/fepforge/pkg/types/common"
)

// JobRepository persists batches, jobs, and their audit trail.
type JobRepository struct {
	db  *sql.DB
	log logging.Logger
}

// NewJobRepository creates a repository over an open connection.
func NewJobRepository(conn *Connection, log logging.Logger) *JobRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &JobRepository{db: conn.DB(), log: log.Named("jobrepo")}
}

// SaveBatch inserts a batch and its jobs in one transaction.
func (r *JobRepository) SaveBatch(ctx context.Context, b *job.Batch, jobs []*job.PipelineJob) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "begin batch insert")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batches (id, name, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		string(b.ID), b.Name, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "insert batch")
	}

	for _, j := range jobs {
		if err := insertJob(ctx, tx, j); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "commit batch insert")
	}
	return nil
}

func insertJob(ctx context.Context, tx *sql.Tx, j *job.PipelineJob) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (
			id, batch_id, name, status, retries, max_retries,
			ligand_identity_a, ligand_identity_b, protein_identity,
			failure_code, failure_message, skip_reason, bundle_location,
			started_at, finished_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		string(j.ID), string(j.BatchID), j.Name, string(j.Status), j.Retries, j.MaxRetries,
		j.LigandIdentityA, j.LigandIdentityB, j.ProteinIdentity,
		string(j.FailureCode), j.FailureMessage, j.SkipReason, j.BundleLocation,
		nullTime(j.StartedAt), nullTime(j.FinishedAt), j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "insert job")
	}
	return nil
}

// UpdateJob writes the mutable columns of a job back to the store.
func (r *JobRepository) UpdateJob(ctx context.Context, j *job.PipelineJob) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET
			status = $2, retries = $3,
			ligand_identity_a = $4, ligand_identity_b = $5, protein_identity = $6,
			failure_code = $7, failure_message = $8, skip_reason = $9,
			bundle_location = $10, started_at = $11, finished_at = $12,
			updated_at = $13
		WHERE id = $1`,
		string(j.ID), string(j.Status), j.Retries,
		j.LigandIdentityA, j.LigandIdentityB, j.ProteinIdentity,
		string(j.FailureCode), j.FailureMessage, j.SkipReason,
		j.BundleLocation, nullTime(j.StartedAt), nullTime(j.FinishedAt),
		time.Now().UTC())
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "update job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.CodeJobNotFound, "job %s not found", j.ID)
	}
	return nil
}

// GetJob fetches one job by ID.
func (r *JobRepository) GetJob(ctx context.Context, id common.ID) (*job.PipelineJob, error) {
	row := r.db.QueryRowContext(ctx, selectJobColumns+` WHERE id = $1`, string(id))
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.CodeJobNotFound, "job %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "get job")
	}
	return j, nil
}

// GetBatch fetches one batch with its job IDs.
func (r *JobRepository) GetBatch(ctx context.Context, id common.ID) (*job.Batch, error) {
	b := &job.Batch{}
	var bid string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM batches WHERE id = $1`,
		string(id)).Scan(&bid, &b.Name, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.CodeBatchNotFound, "batch %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "get batch")
	}
	b.ID = common.ID(bid)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM jobs WHERE batch_id = $1 ORDER BY created_at, id`, string(id))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "list batch job ids")
	}
	defer rows.Close()
	for rows.Next() {
		var jid string
		if err := rows.Scan(&jid); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "scan batch job id")
		}
		b.JobIDs = append(b.JobIDs, common.ID(jid))
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "iterate batch job ids")
	}
	return b, nil
}

// ListByBatch returns all jobs of a batch in submission order.
func (r *JobRepository) ListByBatch(ctx context.Context, batchID common.ID) ([]*job.PipelineJob, error) {
	rows, err := r.db.QueryContext(ctx,
		selectJobColumns+` WHERE batch_id = $1 ORDER BY created_at, id`, string(batchID))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "list jobs")
	}
	defer rows.Close()

	var jobs []*job.PipelineJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "scan job")
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "iterate jobs")
	}
	return jobs, nil
}

// CountByBatch aggregates job statuses for batch progress reporting.
func (r *JobRepository) CountByBatch(ctx context.Context, batchID common.ID) (common.StatusCounts, error) {
	jobs, err := r.ListByBatch(ctx, batchID)
	if err != nil {
		return common.StatusCounts{}, err
	}
	return job.CountStatuses(jobs), nil
}

// SaveAudit appends one transition record.  Audit rows are insert-only.
func (r *JobRepository) SaveAudit(ctx context.Context, rec job.AuditRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO job_audit (
			job_id, batch_id, job_name, from_status, to_status,
			retries, error_code, message, at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		string(rec.JobID), string(rec.BatchID), rec.JobName,
		string(rec.From), string(rec.To),
		rec.Retries, rec.ErrorCode, rec.Message, rec.At)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "insert audit record")
	}
	return nil
}

// ListAudit returns the transition history of a job, oldest first.
func (r *JobRepository) ListAudit(ctx context.Context, jobID common.ID) ([]job.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT job_id, batch_id, job_name, from_status, to_status,
			retries, error_code, message, at
		FROM job_audit WHERE job_id = $1 ORDER BY at, id`, string(jobID))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "list audit records")
	}
	defer rows.Close()

	var recs []job.AuditRecord
	for rows.Next() {
		var rec job.AuditRecord
		var jid, bid, from, to string
		if err := rows.Scan(&jid, &bid, &rec.JobName, &from, &to,
			&rec.Retries, &rec.ErrorCode, &rec.Message, &rec.At); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "scan audit record")
		}
		rec.JobID = common.ID(jid)
		rec.BatchID = common.ID(bid)
		rec.From = job.Status(from)
		rec.To = job.Status(to)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "iterate audit records")
	}
	return recs, nil
}

const selectJobColumns = `SELECT
	id, batch_id, name, status, retries, max_retries,
	ligand_identity_a, ligand_identity_b, protein_identity,
	failure_code, failure_message, skip_reason, bundle_location,
	started_at, finished_at, created_at, updated_at
FROM jobs`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*job.PipelineJob, error) {
	j := &job.PipelineJob{}
	var id, batchID, status, failureCode string
	var started, finished sql.NullTime
	err := row.Scan(
		&id, &batchID, &j.Name, &status, &j.Retries, &j.MaxRetries,
		&j.LigandIdentityA, &j.LigandIdentityB, &j.ProteinIdentity,
		&failureCode, &j.FailureMessage, &j.SkipReason, &j.BundleLocation,
		&started, &finished, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.ID = common.ID(id)
	j.BatchID = common.ID(batchID)
	j.Status = job.Status(status)
	j.FailureCode = apperrors.ErrorCode(failureCode)
	if started.Valid {
		t := started.Time
		j.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		j.FinishedAt = &t
	}
	return j, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
