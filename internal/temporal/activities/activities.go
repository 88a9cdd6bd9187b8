package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/jobs"
	"github.com/tvoe/cliphub/internal/metrics"
	"github.com/tvoe/cliphub/internal/store"
)

// Activity names as registered on the worker
const (
	DispatchJobName = "DispatchJob"
	ExpireJobName   = "ExpireJob"
)

// Dispatcher hands a job to the external processing service
type Dispatcher interface {
	Submit(ctx context.Context, job *domain.ProcessingJob) error
}

// Activities holds all activity implementations
type Activities struct {
	jobs       *jobs.Service
	dispatcher Dispatcher
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewActivities creates a new activities instance
func NewActivities(js *jobs.Service, d Dispatcher, logger *zap.Logger, m *metrics.Metrics) *Activities {
	return &Activities{
		jobs:       js,
		dispatcher: d,
		logger:     logger,
		metrics:    m,
	}
}

// JobInput identifies the job an activity works on
type JobInput struct {
	JobID uuid.UUID `json:"jobId"`
}

// DispatchOutput holds dispatch output
type DispatchOutput struct {
	Status     domain.JobStatus `json:"status"`
	Dispatched bool             `json:"dispatched"`
}

// DispatchJob submits a queued job to the processing service. Jobs that
// already left queued are not resubmitted, so activity retries are safe.
func (a *Activities) DispatchJob(ctx context.Context, input JobInput) (*DispatchOutput, error) {
	logger := a.logger.With(zap.String("jobId", input.JobID.String()), zap.String("activity", DispatchJobName))
	startTime := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration(DispatchJobName, time.Since(startTime).Seconds())
	}()

	job, err := a.jobs.Get(ctx, input.JobID)
	if err != nil {
		return nil, nonRetryableIfMissing(err)
	}
	if job.Status != domain.JobStatusQueued {
		logger.Info("job already past queued, not dispatching", zap.String("status", string(job.Status)))
		return &DispatchOutput{Status: job.Status}, nil
	}

	activity.RecordHeartbeat(ctx, "submitting")
	if err := a.dispatcher.Submit(ctx, job); err != nil {
		logger.Error("failed to submit job", zap.Error(err))
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}

	logger.Info("job dispatched",
		zap.String("clipId", job.ClipID.String()),
		zap.String("jobType", string(job.JobType)),
	)
	return &DispatchOutput{Status: job.Status, Dispatched: true}, nil
}

// ExpireOutput holds the job status after the deadline was enforced
type ExpireOutput struct {
	Status domain.JobStatus `json:"status"`
}

// ExpireJob enforces the processing deadline on a job that never reported a
// terminal status.
func (a *Activities) ExpireJob(ctx context.Context, input JobInput) (*ExpireOutput, error) {
	logger := a.logger.With(zap.String("jobId", input.JobID.String()), zap.String("activity", ExpireJobName))
	startTime := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration(ExpireJobName, time.Since(startTime).Seconds())
	}()

	job, err := a.jobs.Expire(ctx, input.JobID)
	if err != nil {
		logger.Error("failed to expire job", zap.Error(err))
		return nil, nonRetryableIfMissing(err)
	}

	logger.Warn("processing deadline reached", zap.String("status", string(job.Status)))
	return &ExpireOutput{Status: job.Status}, nil
}

func nonRetryableIfMissing(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return temporal.NewNonRetryableApplicationError("job not found", "JobNotFound", err)
	}
	return err
}
