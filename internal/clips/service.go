// Package clips serves the clip library: reads, listing, deletion, counters,
// transcripts and annotations.
package clips

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/store"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ObjectCleaner removes stored objects under a prefix
type ObjectCleaner interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Service implements clip library operations
type Service struct {
	store   store.Store
	cleaner ObjectCleaner
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a clip library service. cleaner may be nil.
func NewService(st store.Store, cleaner ObjectCleaner, logger *zap.Logger) *Service {
	return &Service{
		store:   st,
		cleaner: cleaner,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ListParams filters a clip listing
type ListParams struct {
	OwnerID          *uuid.UUID
	Status           *domain.LifecycleStatus
	ProcessingStatus *domain.ProcessingStatus
	Tag              string
	Limit            int
	Cursor           string
}

// ListResult is one page of clips, newest first
type ListResult struct {
	Clips      []*domain.Clip `json:"clips"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// Get returns a clip
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Clip, error) {
	return s.store.GetClip(ctx, id)
}

// List returns a page of clips
func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.Status != nil && !params.Status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Reason: "is unknown"}
	}
	if params.ProcessingStatus != nil && !params.ProcessingStatus.Valid() {
		return nil, &domain.ValidationError{Field: "processing_status", Reason: "is unknown"}
	}

	limit := params.Limit
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	filter := store.ClipFilter{
		OwnerID:          params.OwnerID,
		Status:           params.Status,
		ProcessingStatus: params.ProcessingStatus,
		Tag:              params.Tag,
		Limit:            limit + 1,
	}
	if params.Cursor != "" {
		createdAt, id, err := parseCursor(params.Cursor)
		if err != nil {
			return nil, &domain.ValidationError{Field: "cursor", Reason: err.Error()}
		}
		filter.AfterCreatedAt = &createdAt
		filter.AfterID = &id
	}

	clips, err := s.store.ListClips(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list clips: %w", err)
	}

	result := &ListResult{Clips: clips}
	if len(clips) > limit {
		result.Clips = clips[:limit]
		result.NextCursor = encodeCursor(result.Clips[limit-1])
	}
	return result, nil
}

func encodeCursor(c *domain.Clip) string {
	payload := fmt.Sprintf("%s|%s", c.CreatedAt.UTC().Format(time.RFC3339Nano), c.ID.String())
	return base64.URLEncoding.EncodeToString([]byte(payload))
}

func parseCursor(value string) (time.Time, uuid.UUID, error) {
	decoded, err := base64.URLEncoding.DecodeString(value)
	if err != nil {
		return time.Time{}, uuid.Nil, errors.New("is not valid base64")
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, uuid.Nil, errors.New("has an invalid format")
	}
	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, uuid.Nil, errors.New("has an invalid timestamp")
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return time.Time{}, uuid.Nil, errors.New("has an invalid id")
	}
	return t, id, nil
}

// Delete removes a clip with everything attached to it. Stored objects are
// removed afterwards on a best-effort basis.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	clip, err := s.store.GetClip(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteClip(ctx, id); err != nil {
		return fmt.Errorf("failed to delete clip: %w", err)
	}

	log := s.logger.With(zap.String("clipId", id.String()))
	log.Info("clip deleted")

	if s.cleaner == nil {
		return nil
	}
	for _, prefix := range []string{domain.UploadPrefix(clip.OwnerID, clip.ID), domain.ProcessedPrefix(clip.ID)} {
		n, err := s.cleaner.DeletePrefix(ctx, prefix)
		if err != nil {
			log.Warn("failed to remove clip objects", zap.String("prefix", prefix), zap.Error(err))
			continue
		}
		log.Debug("removed clip objects", zap.String("prefix", prefix), zap.Int("count", n))
	}
	return nil
}

// Increment bumps a view or download counter and returns the new value
func (s *Service) Increment(ctx context.Context, id uuid.UUID, counter domain.Counter) (int64, error) {
	if counter != domain.CounterViews && counter != domain.CounterDownloads {
		return 0, &domain.ValidationError{Field: "counter", Reason: "must be view_count or download_count"}
	}
	return s.store.IncrementCounter(ctx, id, counter, 1)
}

// Transcript returns the clip's transcript
func (s *Service) Transcript(ctx context.Context, clipID uuid.UUID) (*domain.Transcript, error) {
	return s.store.GetTranscriptByClip(ctx, clipID)
}

// EditSegment replaces one transcript segment's text, times and confidence
func (s *Service) EditSegment(ctx context.Context, clipID, segmentID uuid.UUID, in domain.SegmentInput) (*domain.TranscriptSegment, error) {
	if err := in.Validate("segment"); err != nil {
		return nil, err
	}
	t, err := s.store.GetTranscriptByClip(ctx, clipID)
	if err != nil {
		return nil, err
	}

	for _, seg := range t.Segments {
		if seg.ID != segmentID {
			continue
		}
		seg.StartSeconds = in.StartSeconds
		seg.EndSeconds = in.EndSeconds
		seg.Text = in.Text
		seg.Confidence = in.Confidence
		seg.Edited = true
		seg.UpdatedAt = s.now()
		if err := s.store.UpdateSegment(ctx, &seg); err != nil {
			return nil, fmt.Errorf("failed to update segment: %w", err)
		}
		return &seg, nil
	}
	return nil, store.ErrNotFound
}

// AddAnnotation attaches a time-ranged note that must fit inside the clip
func (s *Service) AddAnnotation(ctx context.Context, clipID, authorID uuid.UUID, start, end float64, body string) (*domain.Annotation, error) {
	clip, err := s.store.GetClip(ctx, clipID)
	if err != nil {
		return nil, err
	}
	a, err := domain.NewAnnotation(clipID, authorID, start, end, strings.TrimSpace(body))
	if err != nil {
		return nil, err
	}
	if end > clip.DurationSeconds {
		return nil, &domain.ValidationError{Field: "end_seconds", Reason: "is past the end of the clip"}
	}
	if err := s.store.CreateAnnotation(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create annotation: %w", err)
	}
	return a, nil
}

// Annotations lists a clip's annotations
func (s *Service) Annotations(ctx context.Context, clipID uuid.UUID) ([]*domain.Annotation, error) {
	if _, err := s.store.GetClip(ctx, clipID); err != nil {
		return nil, err
	}
	return s.store.ListAnnotations(ctx, clipID)
}

// AddBookmark saves a bookmark and bumps the clip's bookmark_count
func (s *Service) AddBookmark(ctx context.Context, clipID, userID uuid.UUID, ts *float64, note *string) (*domain.Bookmark, error) {
	clip, err := s.store.GetClip(ctx, clipID)
	if err != nil {
		return nil, err
	}
	b, err := domain.NewBookmark(clipID, userID, ts, note)
	if err != nil {
		return nil, err
	}
	if ts != nil && *ts > clip.DurationSeconds {
		return nil, &domain.ValidationError{Field: "timestamp_seconds", Reason: "is past the end of the clip"}
	}
	if err := s.store.CreateBookmark(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to create bookmark: %w", err)
	}
	if _, err := s.store.IncrementCounter(ctx, clipID, domain.CounterBookmarks, 1); err != nil {
		s.logger.Warn("failed to bump bookmark count", zap.String("clipId", clipID.String()), zap.Error(err))
	}
	return b, nil
}

// Bookmarks lists a clip's bookmarks
func (s *Service) Bookmarks(ctx context.Context, clipID uuid.UUID) ([]*domain.Bookmark, error) {
	if _, err := s.store.GetClip(ctx, clipID); err != nil {
		return nil, err
	}
	return s.store.ListBookmarks(ctx, clipID)
}
