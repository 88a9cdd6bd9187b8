package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/jobs"
	"github.com/tvoe/cliphub/internal/store"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestSubmit(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(w, "clips", zap.NewNop())
	job := domain.NewProcessingJob(uuid.New(), domain.JobTypeThumbnail, "uploads/o/c/a.mp4", 2)

	require.NoError(t, p.Submit(context.Background(), job))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, job.ClipID.String(), string(w.msgs[0].Key))

	var cmd JobCommand
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &cmd))
	assert.Equal(t, CommandProcess, cmd.Command)
	assert.Equal(t, job.ID, cmd.JobID)
	assert.Equal(t, domain.JobTypeThumbnail, cmd.JobType)
	assert.Equal(t, "clips", cmd.Bucket)
	assert.Equal(t, "uploads/o/c/a.mp4", cmd.SourceKey)
	assert.Equal(t, "processed/"+job.ClipID.String()+"/thumbnail/2/", cmd.OutputPrefix)
}

func TestSubmitWriteError(t *testing.T) {
	p := NewProducer(&fakeWriter{err: errors.New("broker down")}, "clips", zap.NewNop())
	err := p.Submit(context.Background(), domain.NewProcessingJob(uuid.New(), domain.JobTypeTranscode, "k", 1))
	assert.ErrorContains(t, err, "broker down")
}

func TestCancelledEventSendsCancel(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(w, "clips", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, p.HandleEvent(ctx, domain.JobStarted{JobID: uuid.New()}))
	assert.Empty(t, w.msgs)

	jobID := uuid.New()
	require.NoError(t, p.HandleEvent(ctx, domain.JobCancelled{JobID: jobID, ClipID: uuid.New()}))
	require.Len(t, w.msgs, 1)
	var cmd JobCommand
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &cmd))
	assert.Equal(t, CommandCancel, cmd.Command)
	assert.Equal(t, jobID, cmd.JobID)
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func (r *fakeReader) Close() error { return nil }

type fakeReporter struct {
	mu      sync.Mutex
	applied []jobs.StatusReport
	errs    []error
	calls   int
}

func (f *fakeReporter) ApplyReport(_ context.Context, r jobs.StatusReport, source string) (*domain.ProcessingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if source != ReportSource {
		return nil, errors.New("unexpected source " + source)
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.applied = append(f.applied, r)
	return &domain.ProcessingJob{ID: r.JobID}, nil
}

func reportMessage(t *testing.T, offset int64, r jobs.StatusReport) kafka.Message {
	t.Helper()
	value, err := json.Marshal(r)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: value}
}

func TestConsumerAppliesAndCommits(t *testing.T) {
	progress := 40
	jobID := uuid.New()
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte("{not json")},
		reportMessage(t, 2, jobs.StatusReport{JobID: jobID, Status: jobs.ReportProgress, Progress: &progress}),
		reportMessage(t, 3, jobs.StatusReport{JobID: jobID, Status: "exploded"}),
		reportMessage(t, 4, jobs.StatusReport{JobID: jobID, Status: jobs.ReportCompleted}),
		reportMessage(t, 5, jobs.StatusReport{JobID: uuid.New(), Status: jobs.ReportFailed}),
	}}
	reporter := &fakeReporter{errs: []error{
		nil,
		errors.New("db timeout"),
		nil,
		store.ErrNotFound,
	}}

	c := NewConsumer(reader, reporter, zap.NewNop())
	c.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(reader.Committed()) == 5
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, reader.Committed())
	require.Len(t, reporter.applied, 2)
	assert.Equal(t, jobs.ReportProgress, reporter.applied[0].Status)
	assert.Equal(t, jobs.ReportCompleted, reporter.applied[1].Status)
}

func (f *fakeReporter) state() (calls, pending, applied int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, len(f.errs), len(f.applied)
}

func transientErrors(n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = errors.New("connection refused")
	}
	return errs
}

func TestConsumerHoldsOffsetWhileReportFails(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		reportMessage(t, 7, jobs.StatusReport{JobID: uuid.New(), Status: jobs.ReportCompleted}),
	}}
	// several rounds of bounded retries fail before the store recovers
	reporter := &fakeReporter{errs: transientErrors(20)}

	c := NewConsumer(reader, reporter, zap.NewNop(), WithApplyRetries(3))
	c.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	c.stall = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(reader.Committed()) == 1
	}, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	calls, pending, applied := reporter.state()
	assert.Equal(t, 21, calls)
	assert.Zero(t, pending)
	assert.Equal(t, 1, applied)
	assert.Equal(t, []int64{7}, reader.Committed())
}

func TestConsumerStopsWithoutCommittingFailingReport(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		reportMessage(t, 3, jobs.StatusReport{JobID: uuid.New(), Status: jobs.ReportCompleted}),
	}}
	reporter := &fakeReporter{errs: transientErrors(1000)}

	c := NewConsumer(reader, reporter, zap.NewNop(), WithApplyRetries(2))
	c.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	c.stall = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		calls, _, _ := reporter.state()
		return calls == 3
	}, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, reader.Committed())
}
