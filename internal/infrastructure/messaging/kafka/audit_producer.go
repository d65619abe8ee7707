package kafka

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fepforge/fepforge/internal/config"
	"github.com/fepforge/fepforge/internal/domain/job"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
)

// writerAPI abstracts kafka.Writer for testing.
type writerAPI interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AuditProducer publishes job status transitions to the audit topic.
type AuditProducer struct {
	writer writerAPI
	log    logging.Logger
	closed atomic.Bool
}

// NewAuditProducer builds a producer over the configured brokers.  Messages
// are hash-partitioned on job ID so each job's transition history stays in
// order on its partition.
func NewAuditProducer(cfg config.KafkaConfig, log logging.Logger) *AuditProducer {
	if log == nil {
		log = logging.NewNopLogger()
	}
	topic := cfg.AuditTopic
	if topic == "" {
		topic = TopicJobAudit
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	maxAttempts := cfg.ProducerRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 3
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  maxAttempts,
		BatchTimeout: batchTimeout,
	}
	return &AuditProducer{writer: writer, log: log.Named("auditproducer")}
}

// PublishAudit sends one transition record.  Failures are classified as
// transient so the orchestrator can keep working while the broker recovers.
func (p *AuditProducer) PublishAudit(ctx context.Context, rec job.AuditRecord) error {
	if p.closed.Load() {
		return apperrors.New(apperrors.CodeMessageQueueError, "audit producer is closed")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeSerialization, "encode audit record")
	}
	msg := kafka.Message{
		Key:   []byte(rec.JobID),
		Value: payload,
		Time:  rec.At,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return apperrors.Wrap(err, apperrors.CodeMessageQueueError, "publish audit record")
	}
	return nil
}

// Close flushes and shuts the writer down.
func (p *AuditProducer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}
