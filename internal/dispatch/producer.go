// Package dispatch talks to the external processing service over Kafka:
// job descriptions and cancel commands go out, status reports come back.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/config"
	"github.com/tvoe/cliphub/internal/domain"
)

// CommandKind distinguishes messages on the jobs topic
type CommandKind string

const (
	CommandProcess CommandKind = "process"
	CommandCancel  CommandKind = "cancel"
)

// JobCommand is the job description sent to the processing service
type JobCommand struct {
	Command      CommandKind    `json:"command"`
	JobID        uuid.UUID      `json:"job_id"`
	ClipID       uuid.UUID      `json:"clip_id"`
	JobType      domain.JobType `json:"job_type,omitempty"`
	Attempt      int            `json:"attempt,omitempty"`
	Bucket       string         `json:"bucket,omitempty"`
	SourceKey    string         `json:"source_key,omitempty"`
	OutputPrefix string         `json:"output_prefix,omitempty"`
	RequestedAt  time.Time      `json:"requested_at"`
}

// Writer is the subset of *kafka.Writer used by the producer
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates a writer for the jobs topic
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.JobsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// Producer sends commands to the processing service
type Producer struct {
	writer Writer
	bucket string
	logger *zap.Logger
	now    func() time.Time
}

// NewProducer creates a producer. bucket is where source objects live.
func NewProducer(w Writer, bucket string, logger *zap.Logger) *Producer {
	return &Producer{
		writer: w,
		bucket: bucket,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Submit asks the processing service to run a job. Messages are keyed by clip
// so the commands for one clip stay ordered.
func (p *Producer) Submit(ctx context.Context, job *domain.ProcessingJob) error {
	cmd := JobCommand{
		Command:      CommandProcess,
		JobID:        job.ID,
		ClipID:       job.ClipID,
		JobType:      job.JobType,
		Attempt:      job.Attempt,
		Bucket:       p.bucket,
		SourceKey:    job.SourceKey,
		OutputPrefix: OutputPrefix(job),
		RequestedAt:  p.now(),
	}
	if err := p.write(ctx, cmd); err != nil {
		return err
	}
	p.logger.Info("job submitted",
		zap.String("jobId", job.ID.String()),
		zap.String("clipId", job.ClipID.String()),
		zap.String("jobType", string(job.JobType)),
		zap.Int("attempt", job.Attempt),
	)
	return nil
}

// Cancel asks the processing service to stop a job
func (p *Producer) Cancel(ctx context.Context, jobID, clipID uuid.UUID) error {
	return p.write(ctx, JobCommand{
		Command:     CommandCancel,
		JobID:       jobID,
		ClipID:      clipID,
		RequestedAt: p.now(),
	})
}

// HandleEvent forwards job cancellations to the processing service
func (p *Producer) HandleEvent(ctx context.Context, e domain.Event) error {
	cancelled, ok := e.(domain.JobCancelled)
	if !ok {
		return nil
	}
	return p.Cancel(ctx, cancelled.JobID, cancelled.ClipID)
}

// Close closes the underlying writer
func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) write(ctx context.Context, cmd JobCommand) error {
	value, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode %s command: %w", cmd.Command, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(cmd.ClipID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "command", Value: []byte(cmd.Command)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write %s command for job %s: %w", cmd.Command, cmd.JobID, err)
	}
	return nil
}

// OutputPrefix is where the processing service writes a job's artifacts:
// processed/{clip}/{job type}/{attempt}/
func OutputPrefix(job *domain.ProcessingJob) string {
	return fmt.Sprintf("%s%s/%d/", domain.ProcessedPrefix(job.ClipID), job.JobType, job.Attempt)
}
