package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/domain"
)

// ReportKind is the status an external worker reports for a job
type ReportKind string

const (
	ReportAccepted  ReportKind = "accepted"
	ReportProgress  ReportKind = "progress"
	ReportCompleted ReportKind = "completed"
	ReportFailed    ReportKind = "failed"
	ReportCancelled ReportKind = "cancelled"
)

// StatusReport is one message from the processing service about a job
type StatusReport struct {
	JobID               uuid.UUID          `json:"job_id"`
	Status              ReportKind         `json:"status" validate:"required,oneof=accepted progress completed failed cancelled"`
	ExternalJobID       string             `json:"external_job_id,omitempty"`
	ProcessingService   string             `json:"processing_service,omitempty"`
	Progress            *int               `json:"progress,omitempty" validate:"omitempty,min=0,max=100"`
	EstimatedCompletion *time.Time         `json:"estimated_completion,omitempty"`
	Error               string             `json:"error,omitempty"`
	Outputs             *domain.JobOutputs `json:"outputs,omitempty"`
}

func (k ReportKind) target() (domain.JobStatus, bool) {
	switch k {
	case ReportAccepted, ReportProgress:
		return domain.JobStatusRunning, true
	case ReportCompleted:
		return domain.JobStatusCompleted, true
	case ReportFailed:
		return domain.JobStatusFailed, true
	case ReportCancelled:
		return domain.JobStatusCancelled, true
	}
	return "", false
}

// ApplyReport folds a status report into the job state machine.
// Delivery is at-least-once and may be reordered, so:
//   - a report for a queued job implicitly starts it first
//   - a duplicate of the job's current status is a no-op
//   - a progress report for a terminal job is dropped
//
// Conflicting terminal reports still return StateTransitionError.
func (s *Service) ApplyReport(ctx context.Context, r StatusReport, source string) (*domain.ProcessingJob, error) {
	target, ok := r.Status.target()
	if !ok {
		s.metrics.RecordReport(source, "invalid")
		return nil, &domain.ValidationError{Field: "status", Reason: "is unknown"}
	}

	job, err := s.store.GetJob(ctx, r.JobID)
	if err != nil {
		s.metrics.RecordReport(source, "error")
		return nil, err
	}

	log := s.logger.With(
		zap.String("jobId", r.JobID.String()),
		zap.String("report", string(r.Status)),
		zap.String("source", source),
	)

	if job.Status.IsTerminal() {
		if job.Status == target || r.Status == ReportProgress || r.Status == ReportAccepted {
			log.Debug("ignoring stale report", zap.String("status", string(job.Status)))
			s.metrics.RecordReport(source, "stale")
			return job, nil
		}
		s.metrics.RecordReport(source, "rejected")
		return nil, &domain.StateTransitionError{JobID: job.ID, From: job.Status, To: target}
	}

	if job.Status == domain.JobStatusQueued && r.Status != ReportCancelled {
		service := r.ProcessingService
		if service == "" {
			service = s.service
		}
		job, err = s.Start(ctx, r.JobID, r.ExternalJobID, service)
		if err != nil && !isAlreadyRunning(err) {
			s.metrics.RecordReport(source, "error")
			return nil, err
		}
	}

	switch r.Status {
	case ReportAccepted:
		if job == nil {
			job, err = s.store.GetJob(ctx, r.JobID)
		}
	case ReportProgress:
		progress := 0
		if r.Progress != nil {
			progress = *r.Progress
		}
		job, err = s.UpdateProgress(ctx, r.JobID, progress, r.EstimatedCompletion)
	case ReportCompleted:
		job, err = s.Complete(ctx, r.JobID, r.Outputs)
	case ReportFailed:
		job, err = s.Fail(ctx, r.JobID, r.Error)
	case ReportCancelled:
		job, err = s.Cancel(ctx, r.JobID)
	}
	if err != nil {
		s.metrics.RecordReport(source, "error")
		log.Warn("failed to apply report", zap.Error(err))
		return nil, err
	}

	s.metrics.RecordReport(source, "applied")
	return job, nil
}

func isAlreadyRunning(err error) bool {
	var transErr *domain.StateTransitionError
	return errors.As(err, &transErr) && transErr.From == domain.JobStatusRunning
}
