// Package memory is a mutex-guarded in-process implementation of store.Store.
// Records are deep-copied on the way in and out so callers never share state.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/store"
)

// Store keeps every record in maps
type Store struct {
	mu          sync.RWMutex
	clips       map[uuid.UUID]*domain.Clip
	jobs        map[uuid.UUID]*domain.ProcessingJob
	transcripts map[uuid.UUID]*domain.Transcript // keyed by clip
	annotations map[uuid.UUID][]*domain.Annotation
	bookmarks   map[uuid.UUID][]*domain.Bookmark
	now         func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		clips:       make(map[uuid.UUID]*domain.Clip),
		jobs:        make(map[uuid.UUID]*domain.ProcessingJob),
		transcripts: make(map[uuid.UUID]*domain.Transcript),
		annotations: make(map[uuid.UUID][]*domain.Annotation),
		bookmarks:   make(map[uuid.UUID][]*domain.Bookmark),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateClip stores a new clip
func (s *Store) CreateClip(ctx context.Context, clip *domain.Clip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clips[clip.ID]; ok {
		return store.ErrConflict
	}
	s.clips[clip.ID] = clip.Clone()
	return nil
}

// GetClip returns a copy of a clip
func (s *Store) GetClip(ctx context.Context, id uuid.UUID) (*domain.Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clips[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c.Clone(), nil
}

// UpdateClip replaces mutable clip fields under optimistic locking
func (s *Store) UpdateClip(ctx context.Context, clip *domain.Clip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.clips[clip.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.LockVersion != clip.LockVersion {
		return store.ErrConflict
	}

	next := clip.Clone()
	next.CreatedAt = cur.CreatedAt
	next.ViewCount = cur.ViewCount
	next.DownloadCount = cur.DownloadCount
	next.BookmarkCount = cur.BookmarkCount
	if cur.PublishedAt != nil {
		next.PublishedAt = cur.PublishedAt
	}
	next.UpdatedAt = s.now()
	next.LockVersion = cur.LockVersion + 1
	s.clips[clip.ID] = next

	clip.UpdatedAt = next.UpdatedAt
	clip.LockVersion = next.LockVersion
	clip.ViewCount, clip.DownloadCount, clip.BookmarkCount = cur.ViewCount, cur.DownloadCount, cur.BookmarkCount
	clip.PublishedAt = cloneTime(next.PublishedAt)
	return nil
}

// ListClips returns clips newest first, honouring filters and cursor
func (s *Store) ListClips(ctx context.Context, f store.ClipFilter) ([]*domain.Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Clip
	for _, c := range s.clips {
		if f.OwnerID != nil && c.OwnerID != *f.OwnerID {
			continue
		}
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		if f.ProcessingStatus != nil && c.ProcessingStatus != *f.ProcessingStatus {
			continue
		}
		if f.Tag != "" && !c.HasTag(f.Tag) {
			continue
		}
		if f.AfterCreatedAt != nil && f.AfterID != nil && !before(c, *f.AfterCreatedAt, *f.AfterID) {
			continue
		}
		out = append(out, c.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// before reports whether c sorts after the cursor in (created_at, id) DESC order.
func before(c *domain.Clip, at time.Time, id uuid.UUID) bool {
	if c.CreatedAt.Equal(at) {
		return c.ID.String() < id.String()
	}
	return c.CreatedAt.Before(at)
}

// DeleteClip removes a clip and everything that references it
func (s *Store) DeleteClip(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clips[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.clips, id)
	for jid, j := range s.jobs {
		if j.ClipID == id {
			delete(s.jobs, jid)
		}
	}
	delete(s.transcripts, id)
	delete(s.annotations, id)
	delete(s.bookmarks, id)
	return nil
}

// IncrementCounter atomically adds delta to a counter and returns the new value
func (s *Store) IncrementCounter(ctx context.Context, id uuid.UUID, counter domain.Counter, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clips[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	var v *int64
	switch counter {
	case domain.CounterViews:
		v = &c.ViewCount
	case domain.CounterDownloads:
		v = &c.DownloadCount
	case domain.CounterBookmarks:
		v = &c.BookmarkCount
	default:
		return 0, &domain.ValidationError{Field: "counter", Reason: "is unknown"}
	}
	*v += delta
	c.UpdatedAt = s.now()
	return *v, nil
}

// CreateJob stores a job, rejecting a second active job of the same type for a clip
func (s *Store) CreateJob(ctx context.Context, job *domain.ProcessingJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clips[job.ClipID]; !ok {
		return store.ErrNotFound
	}
	for _, j := range s.jobs {
		if j.ClipID == job.ClipID && j.JobType == job.JobType && !j.Status.IsTerminal() {
			return store.ErrDuplicate
		}
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob returns a copy of a job
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*domain.ProcessingJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return j.Clone(), nil
}

// ListJobsByClip returns every job of a clip ordered by creation
func (s *Store) ListJobsByClip(ctx context.Context, clipID uuid.UUID) ([]*domain.ProcessingJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.ProcessingJob
	for _, j := range s.jobs {
		if j.ClipID == clipID {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

// UpdateJob performs the status + lock version compare-and-swap
func (s *Store) UpdateJob(ctx context.Context, job *domain.ProcessingJob, expected domain.JobStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[job.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Status != expected || cur.LockVersion != job.LockVersion {
		return store.ErrConflict
	}

	next := job.Clone()
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = s.now()
	next.LockVersion = cur.LockVersion + 1
	s.jobs[job.ID] = next

	job.UpdatedAt = next.UpdatedAt
	job.LockVersion = next.LockVersion
	return nil
}

// CountJobsByStatus counts jobs grouped by status
func (s *Store) CountJobsByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.JobStatus]int)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

// SaveTranscript stores the transcript for a clip, replacing any earlier one
func (s *Store) SaveTranscript(ctx context.Context, t *domain.Transcript) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clips[t.ClipID]; !ok {
		return store.ErrNotFound
	}
	s.transcripts[t.ClipID] = cloneTranscript(t)
	return nil
}

// GetTranscriptByClip returns the clip's transcript
func (s *Store) GetTranscriptByClip(ctx context.Context, clipID uuid.UUID) (*domain.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transcripts[clipID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTranscript(t), nil
}

// UpdateSegment replaces a segment's editable fields
func (s *Store) UpdateSegment(ctx context.Context, seg *domain.TranscriptSegment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.transcripts {
		if t.ID != seg.TranscriptID {
			continue
		}
		for i := range t.Segments {
			if t.Segments[i].ID == seg.ID {
				cp := *seg
				cp.Confidence = cloneFloat(seg.Confidence)
				cp.Position = t.Segments[i].Position
				t.Segments[i] = cp
				t.UpdatedAt = s.now()
				return nil
			}
		}
	}
	return store.ErrNotFound
}

// CreateAnnotation stores an annotation
func (s *Store) CreateAnnotation(ctx context.Context, a *domain.Annotation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clips[a.ClipID]; !ok {
		return store.ErrNotFound
	}
	cp := *a
	s.annotations[a.ClipID] = append(s.annotations[a.ClipID], &cp)
	return nil
}

// ListAnnotations returns a clip's annotations ordered by start time
func (s *Store) ListAnnotations(ctx context.Context, clipID uuid.UUID) ([]*domain.Annotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Annotation, 0, len(s.annotations[clipID]))
	for _, a := range s.annotations[clipID] {
		cp := *a
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].StartSeconds < out[k].StartSeconds })
	return out, nil
}

// CreateBookmark stores a bookmark
func (s *Store) CreateBookmark(ctx context.Context, b *domain.Bookmark) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clips[b.ClipID]; !ok {
		return store.ErrNotFound
	}
	cp := *b
	cp.TimestampSeconds = cloneFloat(b.TimestampSeconds)
	s.bookmarks[b.ClipID] = append(s.bookmarks[b.ClipID], &cp)
	return nil
}

// ListBookmarks returns a clip's bookmarks in creation order
func (s *Store) ListBookmarks(ctx context.Context, clipID uuid.UUID) ([]*domain.Bookmark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Bookmark, 0, len(s.bookmarks[clipID]))
	for _, b := range s.bookmarks[clipID] {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func cloneTranscript(t *domain.Transcript) *domain.Transcript {
	cp := *t
	cp.Segments = make([]domain.TranscriptSegment, len(t.Segments))
	for i, seg := range t.Segments {
		seg.Confidence = cloneFloat(seg.Confidence)
		cp.Segments[i] = seg
	}
	return &cp
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
