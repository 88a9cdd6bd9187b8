package jobs

import (
	"context"
	"errors"
	"sync"
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

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventName())
	}
	return out
}

type fixture struct {
	store *memory.Store
	svc   *Service
	rec   *recorder
	clip  *domain.Clip
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	rec := &recorder{}
	now := time.Now().UTC()
	clip := &domain.Clip{
		ID:               uuid.New(),
		OwnerID:          uuid.New(),
		Title:            "deburring",
		DurationSeconds:  10,
		OriginalFilename: "d.mp4",
		FileSizeBytes:    10,
		MimeType:         "video/mp4",
		Status:           domain.LifecycleDraft,
		ProcessingStatus: domain.ProcessingPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, st.CreateClip(context.Background(), clip))
	return &fixture{
		store: st,
		svc:   NewService(st, rec, domain.DefaultRequiredSet(), zap.NewNop(), nil),
		rec:   rec,
		clip:  clip,
	}
}

func (f *fixture) ensure(t *testing.T, jt domain.JobType) *domain.ProcessingJob {
	t.Helper()
	job, created, err := f.svc.EnsureJob(context.Background(), f.clip.ID, jt, "uploads/d.mp4")
	require.NoError(t, err)
	require.True(t, created)
	return job
}

func (f *fixture) complete(t *testing.T, jt domain.JobType, out *domain.JobOutputs) *domain.ProcessingJob {
	t.Helper()
	ctx := context.Background()
	job := f.ensure(t, jt)
	_, err := f.svc.Start(ctx, job.ID, "", "")
	require.NoError(t, err)
	done, err := f.svc.Complete(ctx, job.ID, out)
	require.NoError(t, err)
	return done
}

func (f *fixture) clipStatus(t *testing.T) domain.ProcessingStatus {
	t.Helper()
	c, err := f.store.GetClip(context.Background(), f.clip.ID)
	require.NoError(t, err)
	return c.ProcessingStatus
}

func TestEnsureJobIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.svc.EnsureJob(ctx, f.clip.ID, domain.JobTypeTranscode, "k")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := f.svc.EnsureJob(ctx, f.clip.ID, domain.JobTypeTranscode, "k")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	jobs, err := f.store.ListJobsByClip(ctx, f.clip.ID)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestEnsureJobConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, _, err := f.svc.EnsureJob(ctx, f.clip.ID, domain.JobTypeTranscode, "k")
			if err == nil {
				ids <- job.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uuid.UUID]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
}

func TestLifecycleEmitsEventsAndSyncsClip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.ensure(t, domain.JobTypeTranscode)

	_, err := f.svc.Start(ctx, job.ID, "ext-1", "media-worker")
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingInProgress, f.clipStatus(t))

	_, err = f.svc.UpdateProgress(ctx, job.ID, 40, nil)
	require.NoError(t, err)

	mp4 := "processed/d.mp4"
	w, h := 1280, 720
	done, err := f.svc.Complete(ctx, job.ID, &domain.JobOutputs{MP4Path: &mp4, Width: &w, Height: &h})
	require.NoError(t, err)
	assert.Equal(t, 100, done.ProgressPercentage)
	require.NotNil(t, done.CompletedAt)

	assert.Equal(t, []string{"job.started", "job.progressed", "job.completed"}, f.rec.names())

	clip, err := f.store.GetClip(ctx, f.clip.ID)
	require.NoError(t, err)
	require.NotNil(t, clip.MP4Path)
	assert.Equal(t, mp4, *clip.MP4Path)
	assert.Equal(t, 720, *clip.ResolutionHeight)
	assert.Nil(t, clip.HLSPlaylistPath)
}

func TestProgressNeverDecreases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.ensure(t, domain.JobTypeThumbnail)
	_, err := f.svc.Start(ctx, job.ID, "", "")
	require.NoError(t, err)

	_, err = f.svc.UpdateProgress(ctx, job.ID, 60, nil)
	require.NoError(t, err)
	got, err := f.svc.UpdateProgress(ctx, job.ID, 30, nil)
	require.NoError(t, err)
	assert.Equal(t, 60, got.ProgressPercentage)

	_, err = f.svc.UpdateProgress(ctx, job.ID, 101, nil)
	var vErr *domain.ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestTerminalStatesAreFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.ensure(t, domain.JobTypeTranscode)
	_, err := f.svc.Start(ctx, job.ID, "", "")
	require.NoError(t, err)
	_, err = f.svc.Fail(ctx, job.ID, "decoder crashed")
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, job.ID, nil)
	var tErr *domain.StateTransitionError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, domain.JobStatusFailed, tErr.From)
	assert.Equal(t, domain.JobStatusCompleted, tErr.To)

	got, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "decoder crashed", *got.ErrorMessage)
	assert.Equal(t, domain.ProcessingFailed, f.clipStatus(t))
}

func TestQueuedCannotComplete(t *testing.T) {
	f := newFixture(t)
	job := f.ensure(t, domain.JobTypeTranscode)

	_, err := f.svc.Complete(context.Background(), job.ID, nil)
	var tErr *domain.StateTransitionError
	assert.True(t, errors.As(err, &tErr))
}

func TestConcurrentCompleteAndFailSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.ensure(t, domain.JobTypeTranscode)
	_, err := f.svc.Start(ctx, job.ID, "", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.svc.Complete(ctx, job.ID, nil)
		results <- err
	}()
	go func() {
		defer wg.Done()
		_, err := f.svc.Fail(ctx, job.ID, "boom")
		results <- err
	}()
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		var tErr *domain.StateTransitionError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &tErr):
			rejected++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
}

func TestRetryCreatesNewAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.ensure(t, domain.JobTypeTranscode)

	_, err := f.svc.Retry(ctx, f.clip.ID, domain.JobTypeTranscode)
	var tErr *domain.StateTransitionError
	require.True(t, errors.As(err, &tErr))

	_, err = f.svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingCancelled, f.clipStatus(t))

	retry, err := f.svc.Retry(ctx, f.clip.ID, domain.JobTypeTranscode)
	require.NoError(t, err)
	assert.Equal(t, 2, retry.Attempt)
	assert.Equal(t, "uploads/d.mp4", retry.SourceKey)
	assert.Equal(t, domain.ProcessingPending, f.clipStatus(t))

	old, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, old.Status)

	_, err = f.svc.Retry(ctx, f.clip.ID, domain.JobTypeThumbnail)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClipReadyEmittedOnce(t *testing.T) {
	f := newFixture(t)
	f.complete(t, domain.JobTypeTranscode, nil)
	f.complete(t, domain.JobTypeThumbnail, nil)
	f.complete(t, domain.JobTypeHLSGeneration, nil)
	assert.Equal(t, domain.ProcessingCompleted, f.clipStatus(t))

	f.complete(t, domain.JobTypeTranscription, nil)

	ready := 0
	for _, n := range f.rec.names() {
		if n == "clip.ready" {
			ready++
		}
	}
	assert.Equal(t, 1, ready)
}

func TestTranscriptionStoresTranscript(t *testing.T) {
	f := newFixture(t)
	f.complete(t, domain.JobTypeTranscription, &domain.JobOutputs{
		Transcript: &domain.TranscriptOutput{
			Language: "en",
			FullText: "hello world",
			Segments: []domain.SegmentInput{{StartSeconds: 0, EndSeconds: 1, Text: "hello world"}},
		},
	})

	tr, err := f.store.GetTranscriptByClip(context.Background(), f.clip.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", tr.FullText)
	assert.Len(t, tr.Segments, 1)
}

func TestExpire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queued := f.ensure(t, domain.JobTypeThumbnail)
	got, err := f.svc.Expire(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)

	running := f.ensure(t, domain.JobTypeTranscode)
	_, err = f.svc.Start(ctx, running.ID, "", "")
	require.NoError(t, err)
	got, err = f.svc.Expire(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, DeadlineExceededMessage, *got.ErrorMessage)

	again, err := f.svc.Expire(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, again.Status)
}
