package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/segmentio/kafka-go"

	"github.com/fepforge/fepforge/internal/config"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
)

// LigandPairSpec names one preparation unit and carries the raw PDB text of
// its structures.  LigandB is absent for parameterization-only jobs;
// Protein overrides the batch-level receptor.
type LigandPairSpec struct {
	Name    string `json:"name"`
	Protein string `json:"protein,omitempty"`
	LigandA string `json:"ligand_a"`
	LigandB string `json:"ligand_b,omitempty"`
}

// BatchSubmission is the message body on the batch-submit topic.  Protein
// is the shared receptor of the batch.
type BatchSubmission struct {
	Name    string           `json:"name"`
	Protein string           `json:"protein,omitempty"`
	Pairs   []LigandPairSpec `json:"pairs"`
}

// BatchHandler receives decoded submissions.  The pipeline service satisfies
// this through a thin adapter in cmd/worker.
type BatchHandler interface {
	HandleBatchSubmission(ctx context.Context, sub BatchSubmission) error
}

// readerAPI abstracts kafka.Reader for testing.
type readerAPI interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SubmitConsumer pulls batch submissions off the intake topic and hands them
// to the pipeline.
type SubmitConsumer struct {
	reader  readerAPI
	handler BatchHandler
	log     logging.Logger
}

// NewSubmitConsumer builds a consumer-group reader on the submit topic.
func NewSubmitConsumer(cfg config.KafkaConfig, handler BatchHandler, log logging.Logger) *SubmitConsumer {
	if log == nil {
		log = logging.NewNopLogger()
	}
	topic := cfg.SubmitTopic
	if topic == "" {
		topic = TopicBatchSubmit
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   topic,
	})
	return &SubmitConsumer{reader: reader, handler: handler, log: log.Named("submitconsumer")}
}

// Run consumes until ctx is cancelled.  Undecodable messages are committed
// and dropped so one malformed submission cannot wedge the partition;
// handler failures leave the message uncommitted for redelivery.
func (c *SubmitConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return apperrors.Wrap(err, apperrors.CodeMessageQueueError, "fetch submission")
		}

		var sub BatchSubmission
		if err := json.Unmarshal(msg.Value, &sub); err != nil {
			c.log.Error("dropping malformed batch submission",
				logging.Int64("offset", msg.Offset), logging.Err(err))
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				return apperrors.Wrap(err, apperrors.CodeMessageQueueError, "commit malformed submission")
			}
			continue
		}

		if err := c.handler.HandleBatchSubmission(ctx, sub); err != nil {
			c.log.Error("batch submission failed, leaving uncommitted",
				logging.String("batch", sub.Name), logging.Err(err))
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return apperrors.Wrap(err, apperrors.CodeMessageQueueError, "commit submission")
		}
	}
}

// Close shuts the reader down.
func (c *SubmitConsumer) Close() error {
	return c.reader.Close()
}
