package clips

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/store"
	"github.com/tvoe/cliphub/internal/store/memory"
)

type fakeCleaner struct {
	prefixes []string
	err      error
}

func (c *fakeCleaner) DeletePrefix(_ context.Context, prefix string) (int, error) {
	c.prefixes = append(c.prefixes, prefix)
	return 2, c.err
}

func seedClip(t *testing.T, st *memory.Store, owner uuid.UUID, createdAt time.Time, tags ...string) *domain.Clip {
	t.Helper()
	clip := &domain.Clip{
		ID:               uuid.New(),
		OwnerID:          owner,
		Title:            "chamfer",
		DurationSeconds:  20,
		Tags:             tags,
		OriginalFilename: "c.mp4",
		FileSizeBytes:    1,
		MimeType:         "video/mp4",
		Status:           domain.LifecycleDraft,
		ProcessingStatus: domain.ProcessingPending,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
	require.NoError(t, st.CreateClip(context.Background(), clip))
	return clip
}

func TestListPaginates(t *testing.T) {
	st := memory.New()
	svc := NewService(st, nil, zap.NewNop())
	ctx := context.Background()
	owner := uuid.New()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	var want []uuid.UUID
	for i := 0; i < 5; i++ {
		c := seedClip(t, st, owner, base.Add(time.Duration(i)*time.Minute), "lathe")
		want = append([]uuid.UUID{c.ID}, want...)
	}
	seedClip(t, st, uuid.New(), base, "lathe")

	var got []uuid.UUID
	cursor := ""
	pages := 0
	for {
		res, err := svc.List(ctx, ListParams{OwnerID: &owner, Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		for _, c := range res.Clips {
			got = append(got, c.ID)
		}
		pages++
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 3, pages)
}

func TestListRejectsBadInput(t *testing.T) {
	svc := NewService(memory.New(), nil, zap.NewNop())
	ctx := context.Background()
	var vErr *domain.ValidationError

	_, err := svc.List(ctx, ListParams{Cursor: "%%%"})
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "cursor", vErr.Field)

	bad := domain.LifecycleStatus("deleted")
	_, err = svc.List(ctx, ListParams{Status: &bad})
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "status", vErr.Field)
}

func TestDeleteCleansObjects(t *testing.T) {
	st := memory.New()
	cleaner := &fakeCleaner{err: errors.New("s3 timeout")}
	svc := NewService(st, cleaner, zap.NewNop())
	ctx := context.Background()
	clip := seedClip(t, st, uuid.New(), time.Now())

	require.NoError(t, svc.Delete(ctx, clip.ID))
	_, err := st.GetClip(ctx, clip.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, []string{
		domain.UploadPrefix(clip.OwnerID, clip.ID),
		domain.ProcessedPrefix(clip.ID),
	}, cleaner.prefixes)

	assert.ErrorIs(t, svc.Delete(ctx, clip.ID), store.ErrNotFound)
}

func TestIncrement(t *testing.T) {
	st := memory.New()
	svc := NewService(st, nil, zap.NewNop())
	ctx := context.Background()
	clip := seedClip(t, st, uuid.New(), time.Now())

	n, err := svc.Increment(ctx, clip.ID, domain.CounterViews)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = svc.Increment(ctx, clip.ID, domain.CounterViews)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = svc.Increment(ctx, clip.ID, domain.CounterBookmarks)
	var vErr *domain.ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestEditSegment(t *testing.T) {
	st := memory.New()
	svc := NewService(st, nil, zap.NewNop())
	ctx := context.Background()
	clip := seedClip(t, st, uuid.New(), time.Now())

	tr, err := domain.NewTranscript(clip.ID, uuid.New(), domain.TranscriptOutput{
		Language: "en",
		FullText: "set the fence. lock it.",
		Segments: []domain.SegmentInput{
			{StartSeconds: 0, EndSeconds: 2, Text: "set the fence."},
			{StartSeconds: 2, EndSeconds: 4, Text: "lock it."},
		},
	})
	require.NoError(t, err)
	require.NoError(t, st.SaveTranscript(ctx, tr))

	conf := 0.9
	seg, err := svc.EditSegment(ctx, clip.ID, tr.Segments[1].ID, domain.SegmentInput{
		StartSeconds: 2, EndSeconds: 4.5, Text: "lock it down.", Confidence: &conf,
	})
	require.NoError(t, err)
	assert.True(t, seg.Edited)

	got, err := svc.Transcript(ctx, clip.ID)
	require.NoError(t, err)
	assert.Equal(t, "lock it down.", got.Segments[1].Text)
	assert.Equal(t, 4.5, got.Segments[1].EndSeconds)
	assert.Equal(t, 1, got.Segments[1].Position)

	_, err = svc.EditSegment(ctx, clip.ID, tr.Segments[0].ID, domain.SegmentInput{StartSeconds: 3, EndSeconds: 1, Text: "x"})
	var vErr *domain.ValidationError
	assert.True(t, errors.As(err, &vErr))

	_, err = svc.EditSegment(ctx, clip.ID, uuid.New(), domain.SegmentInput{StartSeconds: 0, EndSeconds: 1, Text: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAnnotationsAndBookmarks(t *testing.T) {
	st := memory.New()
	svc := NewService(st, nil, zap.NewNop())
	ctx := context.Background()
	clip := seedClip(t, st, uuid.New(), time.Now())
	user := uuid.New()

	_, err := svc.AddAnnotation(ctx, clip.ID, user, 5, 25, "too long")
	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "end_seconds", vErr.Field)

	a, err := svc.AddAnnotation(ctx, clip.ID, user, 5, 8, "watch the chip load")
	require.NoError(t, err)
	list, err := svc.Annotations(ctx, clip.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	ts := 3.5
	_, err = svc.AddBookmark(ctx, clip.ID, user, &ts, nil)
	require.NoError(t, err)
	_, err = svc.AddBookmark(ctx, clip.ID, uuid.New(), nil, nil)
	require.NoError(t, err)

	marks, err := svc.Bookmarks(ctx, clip.ID)
	require.NoError(t, err)
	assert.Len(t, marks, 2)

	got, err := svc.Get(ctx, clip.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.BookmarkCount)

	_, err = svc.Annotations(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
