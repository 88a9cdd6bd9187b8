package jobs

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/domain"
)

// Pipeline fans out follow-up jobs once a clip's transcode completes
type Pipeline struct {
	jobs    *Service
	starter Starter
	logger  *zap.Logger
}

// FollowUpJobTypes run after transcode, in this order
var FollowUpJobTypes = []domain.JobType{
	domain.JobTypeThumbnail,
	domain.JobTypeTranscription,
	domain.JobTypeHLSGeneration,
}

// NewPipeline creates a pipeline
func NewPipeline(jobs *Service, starter Starter, logger *zap.Logger) *Pipeline {
	return &Pipeline{jobs: jobs, starter: starter, logger: logger}
}

// HandleEvent is a bus handler
func (p *Pipeline) HandleEvent(ctx context.Context, e domain.Event) error {
	done, ok := e.(domain.JobCompleted)
	if !ok || done.JobType != domain.JobTypeTranscode {
		return nil
	}

	transcode, err := p.jobs.Get(ctx, done.JobID)
	if err != nil {
		return err
	}

	var errs []error
	for _, t := range FollowUpJobTypes {
		job, created, err := p.jobs.EnsureJob(ctx, done.ClipID, t, transcode.SourceKey)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		// a queued follow-up may have missed its start on an earlier delivery;
		// starting is idempotent per job
		if job.Status != domain.JobStatusQueued {
			continue
		}
		if !created {
			p.logger.Debug("restarting queued follow-up job", zap.String("jobId", job.ID.String()))
		}
		if err := p.starter.StartJob(ctx, job); err != nil {
			p.logger.Error("failed to start follow-up job",
				zap.String("jobId", job.ID.String()),
				zap.String("jobType", string(t)),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
