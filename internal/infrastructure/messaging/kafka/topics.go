// Package kafka carries the pipeline's two message flows: batch submissions
// in, job-transition audit records out.
package kafka

// Topic names.  Audit records are partitioned by job ID so per-job history
// stays ordered; submissions are partitioned by batch name.
const (
	TopicJobAudit    = "rbfe.job.audit"
	TopicBatchSubmit = "rbfe.batch.submit"
)
