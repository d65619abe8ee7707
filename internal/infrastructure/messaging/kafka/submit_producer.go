package kafka

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fepforge/fepforge/internal/config"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
)

// SubmitProducer publishes batch submissions to the intake topic.  The CLI
// uses it to hand batches to whichever worker picks them up.
type SubmitProducer struct {
	writer writerAPI
	log    logging.Logger
	closed atomic.Bool
}

// NewSubmitProducer builds a producer on the submit topic, keyed on batch
// name so resubmissions of the same batch land on the same partition.
func NewSubmitProducer(cfg config.KafkaConfig, log logging.Logger) *SubmitProducer {
	if log == nil {
		log = logging.NewNopLogger()
	}
	topic := cfg.SubmitTopic
	if topic == "" {
		topic = TopicBatchSubmit
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
	return &SubmitProducer{writer: writer, log: log.Named("submitproducer")}
}

// PublishSubmission sends one batch to the intake topic.
func (p *SubmitProducer) PublishSubmission(ctx context.Context, sub BatchSubmission) error {
	if p.closed.Load() {
		return apperrors.New(apperrors.CodeMessageQueueError, "submit producer is closed")
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeSerialization, "encode batch submission")
	}
	msg := kafka.Message{
		Key:   []byte(sub.Name),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return apperrors.Wrap(err, apperrors.CodeMessageQueueError, "publish batch submission")
	}
	p.log.Info("batch submitted",
		logging.String("batch", sub.Name),
		logging.Int("pairs", len(sub.Pairs)))
	return nil
}

// Close flushes and shuts the writer down.
func (p *SubmitProducer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}
