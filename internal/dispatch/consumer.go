package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/config"
	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/intake"
	"github.com/tvoe/cliphub/internal/jobs"
	"github.com/tvoe/cliphub/internal/store"
)

// ReportSource labels reports that arrive over Kafka
const ReportSource = "kafka"

const (
	defaultApplyRetries = 5
	fetchErrorPause     = time.Second
	stalledReportPause  = 10 * time.Second
)

// Reader is the subset of *kafka.Reader used by the consumer
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Reporter applies status reports to the job state machine
type Reporter interface {
	ApplyReport(ctx context.Context, r jobs.StatusReport, source string) (*domain.ProcessingJob, error)
}

// NewKafkaReader creates a consumer-group reader for the status topic
func NewKafkaReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.StatusTopic,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	})
}

// Consumer feeds status reports from the processing service into the job service.
// Offsets are committed only after a report is applied or found to be unusable,
// so delivery into the state machine is at-least-once. A report that keeps
// failing with a transient error holds its partition until it goes through or
// the consumer stops; the group redelivers it after a restart.
type Consumer struct {
	reader   Reader
	reporter Reporter
	validate *validator.Validate
	logger   *zap.Logger
	retries  uint64
	backoff  func() backoff.BackOff
	stall    time.Duration
}

// ConsumerOption customizes a Consumer
type ConsumerOption func(*Consumer)

// WithApplyRetries sets how many transient failures in a row are retried before
// the consumer reports the partition as stalled and pauses
func WithApplyRetries(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.retries = uint64(n)
		}
	}
}

// NewConsumer creates a status report consumer
func NewConsumer(r Reader, reporter Reporter, logger *zap.Logger, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader:   r,
		reporter: reporter,
		validate: intake.NewValidator(),
		logger:   logger,
		retries:  defaultApplyRetries,
		stall:    stalledReportPause,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes until ctx is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("status consumer started")
	defer c.logger.Info("status consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to fetch status report", zap.Error(err))
			select {
			case <-time.After(fetchErrorPause):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	log := c.logger.With(
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	report, err := c.decode(msg.Value)
	if err != nil {
		log.Error("dropping malformed status report", zap.Error(err))
		return c.commit(ctx, msg)
	}
	log = log.With(zap.String("jobId", report.JobID.String()), zap.String("report", string(report.Status)))

	op := func() error {
		_, err := c.reporter.ApplyReport(ctx, report, ReportSource)
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("retrying status report", zap.Duration("backoff", wait), zap.Error(err))
	}

	for round := 1; ; round++ {
		b := backoff.WithContext(backoff.WithMaxRetries(c.backoff(), c.retries), ctx)
		err := backoff.RetryNotify(op, b, notify)
		switch {
		case err == nil:
			return c.commit(ctx, msg)
		case ctx.Err() != nil:
			return ctx.Err()
		case permanent(err):
			log.Warn("status report rejected", zap.Error(err))
			return c.commit(ctx, msg)
		}

		log.Error("status report still failing, holding offset",
			zap.Int("round", round),
			zap.Duration("pause", c.stall),
			zap.Error(err),
		)
		select {
		case <-time.After(c.stall):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Consumer) decode(value []byte) (jobs.StatusReport, error) {
	var report jobs.StatusReport
	if err := json.Unmarshal(value, &report); err != nil {
		return report, fmt.Errorf("invalid json: %w", err)
	}
	if err := c.validate.Struct(report); err != nil {
		return report, intake.ToValidationError(err)
	}
	return report, nil
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

// Close closes the underlying reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// permanent reports errors that retrying cannot fix
func permanent(err error) bool {
	var (
		vErr *domain.ValidationError
		tErr *domain.StateTransitionError
	)
	return errors.Is(err, store.ErrNotFound) || errors.As(err, &vErr) || errors.As(err, &tErr)
}
