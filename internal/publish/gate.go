// Package publish gates clip lifecycle changes on processing readiness.
package publish

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

const maxWriteAttempts = 3

// Readiness is a clip's publication eligibility computed from all of its jobs
type Readiness struct {
	ClipID           uuid.UUID                 `json:"clip_id"`
	ProcessingStatus domain.ProcessingStatus   `json:"processing_status"`
	Ready            bool                      `json:"ready"`
	Unmet            []domain.UnmetRequirement `json:"unmet,omitempty"`
}

// Gate evaluates readiness and applies lifecycle transitions
type Gate struct {
	store     store.Store
	required  domain.RequiredSet
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewGate creates a publication gate
func NewGate(st store.Store, required domain.RequiredSet, pub events.Publisher, logger *zap.Logger, m *metrics.Metrics) *Gate {
	return &Gate{
		store:     st,
		required:  required,
		publisher: pub,
		logger:    logger,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate recomputes readiness from the clip's full job set
func (g *Gate) Evaluate(ctx context.Context, clipID uuid.UUID) (*Readiness, error) {
	if _, err := g.store.GetClip(ctx, clipID); err != nil {
		return nil, err
	}
	jobs, err := g.store.ListJobsByClip(ctx, clipID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	unmet := domain.UnmetRequirements(jobs, g.required)
	return &Readiness{
		ClipID:           clipID,
		ProcessingStatus: domain.ComputeProcessingStatus(jobs, g.required),
		Ready:            len(unmet) == 0,
		Unmet:            unmet,
	}, nil
}

// Publish moves a fully processed clip to published
func (g *Gate) Publish(ctx context.Context, clipID uuid.UUID) (*domain.Clip, error) {
	return g.Transition(ctx, clipID, domain.LifecyclePublished)
}

// Transition moves a clip to another lifecycle status. Entering published
// requires every required job to be completed; otherwise NotReadyError is
// returned and nothing is written. published_at is stamped on first publish
// only and survives later archive/draft moves.
func (g *Gate) Transition(ctx context.Context, clipID uuid.UUID, to domain.LifecycleStatus) (*domain.Clip, error) {
	if !to.Valid() {
		return nil, &domain.ValidationError{Field: "status", Reason: "is unknown"}
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		clip, err := g.store.GetClip(ctx, clipID)
		if err != nil {
			return nil, err
		}
		if clip.Status == to {
			return clip, nil
		}
		if !domain.CanTransitionLifecycle(clip.Status, to) {
			return nil, &domain.LifecycleTransitionError{ClipID: clipID, From: clip.Status, To: to}
		}

		firstPublish := false
		if to == domain.LifecyclePublished {
			jobs, err := g.store.ListJobsByClip(ctx, clipID)
			if err != nil {
				return nil, fmt.Errorf("failed to list jobs: %w", err)
			}
			if unmet := domain.UnmetRequirements(jobs, g.required); len(unmet) > 0 {
				g.metrics.RecordPublishAttempt("not_ready")
				return nil, &domain.NotReadyError{ClipID: clipID, Unmet: unmet}
			}
			clip.ProcessingStatus = domain.ComputeProcessingStatus(jobs, g.required)
			if clip.PublishedAt == nil {
				now := g.now()
				clip.PublishedAt = &now
				firstPublish = true
			}
		}

		from := clip.Status
		clip.Status = to
		err = g.store.UpdateClip(ctx, clip)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update clip: %w", err)
		}

		g.logger.Info("clip lifecycle changed",
			zap.String("clipId", clipID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		if to == domain.LifecyclePublished {
			g.metrics.RecordPublishAttempt("published")
			g.publisher.Publish(ctx, domain.ClipPublished{ClipID: clipID, PublishedAt: *clip.PublishedAt})
			if firstPublish {
				g.logger.Info("clip published for the first time", zap.String("clipId", clipID.String()))
			}
		}
		return clip, nil
	}
	return nil, store.ErrConflict
}
