// Package store defines the persistence contract shared by the Postgres
// repositories and the in-memory implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tvoe/cliphub/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write loses a race
	ErrConflict = errors.New("concurrent modification")
	// ErrDuplicate is returned when a non-terminal job of the same type already exists for a clip
	ErrDuplicate = errors.New("duplicate active job")
)

// ClipFilter narrows clip listings. Zero values mean no filter.
type ClipFilter struct {
	OwnerID          *uuid.UUID
	Status           *domain.LifecycleStatus
	ProcessingStatus *domain.ProcessingStatus
	Tag              string
	Limit            int
	// Cursor position: rows strictly older than (CreatedAt, ID) in DESC order.
	AfterCreatedAt *time.Time
	AfterID        *uuid.UUID
}

// ClipStore persists clips
type ClipStore interface {
	CreateClip(ctx context.Context, clip *domain.Clip) error
	GetClip(ctx context.Context, id uuid.UUID) (*domain.Clip, error)
	// UpdateClip writes mutable fields when the stored lock version matches.
	// Counters are not written; use IncrementCounter.
	UpdateClip(ctx context.Context, clip *domain.Clip) error
	ListClips(ctx context.Context, filter ClipFilter) ([]*domain.Clip, error)
	// DeleteClip removes the clip with its jobs, transcripts, annotations and bookmarks.
	DeleteClip(ctx context.Context, id uuid.UUID) error
	IncrementCounter(ctx context.Context, id uuid.UUID, counter domain.Counter, delta int64) (int64, error)
}

// JobStore persists processing jobs
type JobStore interface {
	// CreateJob returns ErrDuplicate when a queued or running job of the same type exists.
	CreateJob(ctx context.Context, job *domain.ProcessingJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*domain.ProcessingJob, error)
	ListJobsByClip(ctx context.Context, clipID uuid.UUID) ([]*domain.ProcessingJob, error)
	// UpdateJob writes job when the stored status equals expected and the lock
	// version matches, otherwise ErrConflict.
	UpdateJob(ctx context.Context, job *domain.ProcessingJob, expected domain.JobStatus) error
	CountJobsByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
}

// TranscriptStore persists transcripts and their segments
type TranscriptStore interface {
	SaveTranscript(ctx context.Context, t *domain.Transcript) error
	GetTranscriptByClip(ctx context.Context, clipID uuid.UUID) (*domain.Transcript, error)
	UpdateSegment(ctx context.Context, seg *domain.TranscriptSegment) error
}

// AnnotationStore persists annotations and bookmarks
type AnnotationStore interface {
	CreateAnnotation(ctx context.Context, a *domain.Annotation) error
	ListAnnotations(ctx context.Context, clipID uuid.UUID) ([]*domain.Annotation, error)
	CreateBookmark(ctx context.Context, b *domain.Bookmark) error
	ListBookmarks(ctx context.Context, clipID uuid.UUID) ([]*domain.Bookmark, error)
}

// Store aggregates every repository
type Store interface {
	ClipStore
	JobStore
	TranscriptStore
	AnnotationStore
}
