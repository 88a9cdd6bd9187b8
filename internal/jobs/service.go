// Package jobs owns the processing job state machine and keeps each clip's
// aggregate processing status in step with its jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/events"
	"github.com/tvoe/cliphub/internal/metrics"
	"github.com/tvoe/cliphub/internal/store"
)

// DeadlineExceededMessage is recorded on jobs failed by the processing deadline
const DeadlineExceededMessage = "processing deadline exceeded"

const defaultMaxAttempts = 3

// Starter kicks off asynchronous execution of a queued job
type Starter interface {
	StartJob(ctx context.Context, job *domain.ProcessingJob) error
}

// Service applies job transitions
type Service struct {
	store       store.Store
	publisher   events.Publisher
	required    domain.RequiredSet
	logger      *zap.Logger
	metrics     *metrics.Metrics
	maxAttempts int
	service     string
	now         func() time.Time
}

// Option customizes a Service
type Option func(*Service)

// WithMaxAttempts bounds re-reads after a lost compare-and-swap
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithDefaultService names the processing service for reports that omit it
func WithDefaultService(name string) Option {
	return func(s *Service) { s.service = name }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new job service
func NewService(st store.Store, pub events.Publisher, required domain.RequiredSet, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Service {
	s := &Service{
		store:       st,
		publisher:   pub,
		required:    required,
		logger:      logger,
		metrics:     m,
		maxAttempts: defaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Required returns the publication requirements the service computes status against
func (s *Service) Required() domain.RequiredSet {
	return s.required
}

// Get returns a job
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.ProcessingJob, error) {
	return s.store.GetJob(ctx, id)
}

// Status returns the watchable view of a job
func (s *Service) Status(ctx context.Context, id uuid.UUID) (domain.JobStatusView, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return domain.JobStatusView{}, err
	}
	return job.View(), nil
}

// ListByClip returns every job of a clip
func (s *Service) ListByClip(ctx context.Context, clipID uuid.UUID) ([]*domain.ProcessingJob, error) {
	if _, err := s.store.GetClip(ctx, clipID); err != nil {
		return nil, err
	}
	return s.store.ListJobsByClip(ctx, clipID)
}

// EnsureJob returns the latest job of jobType for the clip, creating a queued
// one only when none exists. created reports whether this call inserted it.
func (s *Service) EnsureJob(ctx context.Context, clipID uuid.UUID, jobType domain.JobType, sourceKey string) (job *domain.ProcessingJob, created bool, err error) {
	if !jobType.Valid() {
		return nil, false, &domain.ValidationError{Field: "job_type", Reason: "is unknown"}
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		existing, err := s.store.ListJobsByClip(ctx, clipID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to list jobs: %w", err)
		}
		if latest, ok := domain.LatestByType(existing)[jobType]; ok {
			return latest, false, nil
		}

		job = domain.NewProcessingJob(clipID, jobType, sourceKey, 1)
		job.CreatedAt, job.UpdatedAt = s.now(), s.now()
		err = s.store.CreateJob(ctx, job)
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, false, err
		}

		s.metrics.RecordJobTransition(string(jobType), string(domain.JobStatusQueued))
		s.logger.Info("job created",
			zap.String("jobId", job.ID.String()),
			zap.String("clipId", clipID.String()),
			zap.String("jobType", string(jobType)),
		)
		s.syncClip(ctx, clipID)
		return job, true, nil
	}
	return nil, false, store.ErrConflict
}

// Retry creates a fresh job when the latest job of jobType failed or was cancelled.
// The terminal job is left untouched.
func (s *Service) Retry(ctx context.Context, clipID uuid.UUID, jobType domain.JobType) (*domain.ProcessingJob, error) {
	if !jobType.Valid() {
		return nil, &domain.ValidationError{Field: "job_type", Reason: "is unknown"}
	}
	existing, err := s.ListByClip(ctx, clipID)
	if err != nil {
		return nil, err
	}
	latest, ok := domain.LatestByType(existing)[jobType]
	if !ok {
		return nil, store.ErrNotFound
	}
	if latest.Status != domain.JobStatusFailed && latest.Status != domain.JobStatusCancelled {
		return nil, &domain.StateTransitionError{JobID: latest.ID, From: latest.Status, To: domain.JobStatusQueued}
	}

	job := domain.NewProcessingJob(clipID, jobType, latest.SourceKey, latest.Attempt+1)
	job.CreatedAt, job.UpdatedAt = s.now(), s.now()
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.metrics.RecordJobTransition(string(jobType), string(domain.JobStatusQueued))
	s.logger.Info("job retried",
		zap.String("jobId", job.ID.String()),
		zap.String("previousJobId", latest.ID.String()),
		zap.Int("attempt", job.Attempt),
	)
	s.syncClip(ctx, clipID)
	return job, nil
}

// Start moves a queued job to running
func (s *Service) Start(ctx context.Context, id uuid.UUID, externalJobID, service string) (*domain.ProcessingJob, error) {
	return s.transition(ctx, id, domain.JobStatusRunning, func(j *domain.ProcessingJob) (bool, error) {
		if j.Status != domain.JobStatusQueued {
			return false, &domain.StateTransitionError{JobID: j.ID, From: j.Status, To: domain.JobStatusRunning}
		}
		now := s.now()
		j.StartedAt = &now
		if externalJobID != "" {
			j.ExternalJobID = &externalJobID
		}
		if service != "" {
			j.ProcessingService = &service
		}
		return true, nil
	})
}

// UpdateProgress records progress on a running job. Progress never decreases:
// a lower value is ignored without a write.
func (s *Service) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, eta *time.Time) (*domain.ProcessingJob, error) {
	if progress < 0 || progress > 100 {
		return nil, &domain.ValidationError{Field: "progress", Reason: "must be between 0 and 100"}
	}
	return s.transition(ctx, id, domain.JobStatusRunning, func(j *domain.ProcessingJob) (bool, error) {
		if j.Status != domain.JobStatusRunning {
			return false, &domain.StateTransitionError{JobID: j.ID, From: j.Status, To: domain.JobStatusRunning}
		}
		if progress < j.ProgressPercentage {
			return false, nil
		}
		if progress == j.ProgressPercentage && eta == nil {
			return false, nil
		}
		j.ProgressPercentage = progress
		if eta != nil {
			e := eta.UTC()
			j.EstimatedCompletion = &e
		}
		return true, nil
	})
}

// Complete marks a running job completed and records its outputs
func (s *Service) Complete(ctx context.Context, id uuid.UUID, outputs *domain.JobOutputs) (*domain.ProcessingJob, error) {
	if outputs != nil && outputs.Transcript != nil {
		for _, seg := range outputs.Transcript.Segments {
			if err := seg.Validate("outputs.transcript.segments"); err != nil {
				return nil, err
			}
		}
	}
	return s.transition(ctx, id, domain.JobStatusCompleted, func(j *domain.ProcessingJob) (bool, error) {
		now := s.now()
		j.ProgressPercentage = 100
		j.CompletedAt = &now
		j.ErrorMessage = nil
		j.Outputs = outputs.Clone()
		return true, nil
	})
}

// Fail marks a running job failed with message
func (s *Service) Fail(ctx context.Context, id uuid.UUID, message string) (*domain.ProcessingJob, error) {
	if message == "" {
		message = "processing failed"
	}
	return s.transition(ctx, id, domain.JobStatusFailed, func(j *domain.ProcessingJob) (bool, error) {
		now := s.now()
		j.CompletedAt = &now
		j.ErrorMessage = &message
		return true, nil
	})
}

// Cancel cancels a queued or running job
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.ProcessingJob, error) {
	return s.transition(ctx, id, domain.JobStatusCancelled, func(j *domain.ProcessingJob) (bool, error) {
		now := s.now()
		j.CompletedAt = &now
		return true, nil
	})
}

// Expire enforces the processing deadline: a running job fails, a queued job
// is cancelled and a terminal job is returned unchanged.
func (s *Service) Expire(ctx context.Context, id uuid.UUID) (*domain.ProcessingJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case domain.JobStatusRunning:
		job, err = s.Fail(ctx, id, DeadlineExceededMessage)
	case domain.JobStatusQueued:
		job, err = s.Cancel(ctx, id)
	default:
		return job, nil
	}

	var transErr *domain.StateTransitionError
	if errors.As(err, &transErr) {
		// Reached a terminal state concurrently.
		return s.store.GetJob(ctx, id)
	}
	return job, err
}

// transition reads the job, validates from -> to, applies mutate and writes
// with a compare-and-swap on the status read. A lost race re-reads up to
// maxAttempts times. mutate returning false skips the write.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to domain.JobStatus, mutate func(*domain.ProcessingJob) (bool, error)) (*domain.ProcessingJob, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		job, err := s.store.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}

		from := job.Status
		if !domain.CanTransition(from, to) {
			return nil, &domain.StateTransitionError{JobID: id, From: from, To: to}
		}

		write, err := mutate(job)
		if err != nil {
			return nil, err
		}
		if !write {
			return job, nil
		}

		job.Status = to
		err = s.store.UpdateJob(ctx, job, from)
		if errors.Is(err, store.ErrConflict) {
			s.logger.Debug("job write lost race, re-reading",
				zap.String("jobId", id.String()),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update job: %w", err)
		}

		s.afterTransition(ctx, job, from)
		return job, nil
	}
	return nil, store.ErrConflict
}

func (s *Service) afterTransition(ctx context.Context, job *domain.ProcessingJob, from domain.JobStatus) {
	log := s.logger.With(
		zap.String("jobId", job.ID.String()),
		zap.String("clipId", job.ClipID.String()),
		zap.String("jobType", string(job.JobType)),
	)

	if from != job.Status {
		s.metrics.RecordJobTransition(string(job.JobType), string(job.Status))
		log.Info("job transitioned", zap.String("from", string(from)), zap.String("to", string(job.Status)))
	}
	if from == domain.JobStatusQueued && job.Status == domain.JobStatusRunning {
		s.metrics.IncrementJobsActive()
	}
	if from == domain.JobStatusRunning && job.Status.IsTerminal() {
		s.metrics.DecrementJobsActive()
		if job.StartedAt != nil {
			s.metrics.RecordJobDuration(string(job.JobType), string(job.Status), s.now().Sub(*job.StartedAt).Seconds())
		}
	}

	if job.Status == domain.JobStatusCompleted && job.JobType == domain.JobTypeTranscription &&
		job.Outputs != nil && job.Outputs.Transcript != nil {
		if err := s.saveTranscript(ctx, job); err != nil {
			log.Error("failed to store transcript", zap.Error(err))
		}
	}

	ready := s.syncClip(ctx, job.ClipID)

	s.publisher.Publish(ctx, jobEvent(job, from, s.now()))
	if ready {
		s.publisher.Publish(ctx, domain.ClipReady{ClipID: job.ClipID})
	}
}

func (s *Service) saveTranscript(ctx context.Context, job *domain.ProcessingJob) error {
	t, err := domain.NewTranscript(job.ClipID, job.ID, *job.Outputs.Transcript)
	if err != nil {
		return err
	}
	return s.store.SaveTranscript(ctx, t)
}

// syncClip recomputes the clip's processing status and derived media from its
// full job set. It reports whether the clip just became fully processed.
func (s *Service) syncClip(ctx context.Context, clipID uuid.UUID) bool {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		clip, err := s.store.GetClip(ctx, clipID)
		if err != nil {
			s.logger.Error("failed to load clip for status sync", zap.String("clipId", clipID.String()), zap.Error(err))
			return false
		}
		jobs, err := s.store.ListJobsByClip(ctx, clipID)
		if err != nil {
			s.logger.Error("failed to list jobs for status sync", zap.String("clipId", clipID.String()), zap.Error(err))
			return false
		}

		prev := clip.ProcessingStatus
		before := clip.Clone()
		clip.ProcessingStatus = domain.ComputeProcessingStatus(jobs, s.required)
		domain.DeriveMedia(jobs).Apply(clip)
		if !clipChanged(before, clip) {
			return false
		}

		err = s.store.UpdateClip(ctx, clip)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			s.logger.Error("failed to sync clip status", zap.String("clipId", clipID.String()), zap.Error(err))
			return false
		}
		return prev != domain.ProcessingCompleted && clip.ProcessingStatus == domain.ProcessingCompleted
	}
	s.logger.Warn("clip status sync gave up after repeated conflicts", zap.String("clipId", clipID.String()))
	return false
}

func clipChanged(a, b *domain.Clip) bool {
	return a.ProcessingStatus != b.ProcessingStatus ||
		!eqString(a.MP4Path, b.MP4Path) ||
		!eqString(a.HLSPlaylistPath, b.HLSPlaylistPath) ||
		!eqString(a.ThumbnailPath, b.ThumbnailPath) ||
		!eqInt(a.ResolutionWidth, b.ResolutionWidth) ||
		!eqInt(a.ResolutionHeight, b.ResolutionHeight) ||
		!eqInt64(a.Bitrate, b.Bitrate)
}

func eqString(a, b *string) bool {
	return (a == nil && b == nil) || (a != nil && b != nil && *a == *b)
}

func eqInt(a, b *int) bool {
	return (a == nil && b == nil) || (a != nil && b != nil && *a == *b)
}

func eqInt64(a, b *int64) bool {
	return (a == nil && b == nil) || (a != nil && b != nil && *a == *b)
}

func jobEvent(job *domain.ProcessingJob, from domain.JobStatus, now time.Time) domain.Event {
	switch job.Status {
	case domain.JobStatusRunning:
		if from == domain.JobStatusQueued {
			started := now
			if job.StartedAt != nil {
				started = *job.StartedAt
			}
			return domain.JobStarted{JobID: job.ID, ClipID: job.ClipID, JobType: job.JobType, StartedAt: started}
		}
		return domain.JobProgressed{JobID: job.ID, ClipID: job.ClipID, JobType: job.JobType, Progress: job.ProgressPercentage}
	case domain.JobStatusCompleted:
		return domain.JobCompleted{JobID: job.ID, ClipID: job.ClipID, JobType: job.JobType, Outputs: job.Outputs.Clone()}
	case domain.JobStatusFailed:
		msg := ""
		if job.ErrorMessage != nil {
			msg = *job.ErrorMessage
		}
		return domain.JobFailed{JobID: job.ID, ClipID: job.ClipID, JobType: job.JobType, Error: msg}
	default:
		return domain.JobCancelled{JobID: job.ID, ClipID: job.ClipID, JobType: job.JobType}
	}
}
