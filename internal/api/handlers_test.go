package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/clips"
	"github.com/tvoe/cliphub/internal/config"
	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/events"
	"github.com/tvoe/cliphub/internal/intake"
	"github.com/tvoe/cliphub/internal/jobs"
	"github.com/tvoe/cliphub/internal/poller"
	"github.com/tvoe/cliphub/internal/publish"
	"github.com/tvoe/cliphub/internal/store/memory"
)

type fakeUploads struct{}

func (fakeUploads) PresignUpload(_ context.Context, key, contentType string, _ int64) (*domain.UploadTarget, error) {
	return &domain.UploadTarget{
		URL:       "https://s3.local/clips/" + key,
		Method:    http.MethodPut,
		Headers:   map[string]string{"Content-Type": contentType},
		Key:       key,
		ExpiresAt: time.Now().Add(time.Minute),
	}, nil
}

func (fakeUploads) Exists(context.Context, string) (bool, error) { return true, nil }

type fakeStarter struct {
	mu      sync.Mutex
	started []uuid.UUID
	err     error
}

func (s *fakeStarter) StartJob(_ context.Context, job *domain.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.started = append(s.started, job.ID)
	return nil
}

func (s *fakeStarter) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type testServer struct {
	t       *testing.T
	srv     *httptest.Server
	store   *memory.Store
	starter *fakeStarter
	user    uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithWriteTimeout(t, 0)
}

func newTestServerWithWriteTimeout(t *testing.T, writeTimeout time.Duration) *testServer {
	t.Helper()
	logger := zap.NewNop()
	st := memory.New()
	bus := events.NewBus(logger, nil)
	required := domain.DefaultRequiredSet()
	starter := &fakeStarter{}

	js := jobs.NewService(st, bus, required, logger, nil)
	pipeline := jobs.NewPipeline(js, starter, logger)
	bus.Subscribe("pipeline", pipeline.HandleEvent)

	h := NewHandler(Deps{
		Intake:       intake.NewService(st, js, fakeUploads{}, starter, config.IntakeConfig{MaxDurationSeconds: 30, MaxFileSizeBytes: 1 << 30}, logger, nil),
		Jobs:         js,
		Gate:         publish.NewGate(st, required, bus, logger, nil),
		Clips:        clips.NewService(st, nil, logger),
		Starter:      starter,
		WatchOptions: poller.Options{Interval: 5 * time.Millisecond},
		Checks: map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
		},
	}, logger, nil)

	srv := httptest.NewUnstartedServer(NewRouter(h, prometheus.NewRegistry(), logger))
	srv.Config.WriteTimeout = writeTimeout
	srv.Start()
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, store: st, starter: starter, user: uuid.New()}
}

func (s *testServer) do(method, path string, body any, out any) int {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(UserHeader, s.user.String())

	resp, err := s.srv.Client().Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func clipRequest() map[string]any {
	return map[string]any{
		"metadata": map[string]any{
			"title":            "Boring a taper",
			"duration_seconds": 18,
			"tags":             []string{"lathe"},
		},
		"file": map[string]any{
			"filename":   "taper.mp4",
			"size_bytes": 4 << 20,
			"mime_type":  "video/mp4",
		},
	}
}

func (s *testServer) createClip() intake.Result {
	s.t.Helper()
	var res intake.Result
	require.Equal(s.t, http.StatusCreated, s.do(http.MethodPost, "/v1/clips", clipRequest(), &res))
	return res
}

func (s *testServer) report(jobID uuid.UUID, status jobs.ReportKind, extra map[string]any) int {
	s.t.Helper()
	body := map[string]any{"status": status}
	for k, v := range extra {
		body[k] = v
	}
	return s.do(http.MethodPost, "/v1/jobs/"+jobID.String()+"/reports", body, nil)
}

func (s *testServer) jobOfType(clipID uuid.UUID, jt domain.JobType) *domain.ProcessingJob {
	s.t.Helper()
	list, err := s.store.ListJobsByClip(context.Background(), clipID)
	require.NoError(s.t, err)
	latest, ok := domain.LatestByType(list)[jt]
	require.True(s.t, ok, "no %s job", jt)
	return latest
}

func TestCreateClipRequiresUser(t *testing.T) {
	s := newTestServer(t)
	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/v1/clips", bytes.NewBufferString("{}"))
	require.NoError(t, err)
	resp, err := s.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateClipValidation(t *testing.T) {
	s := newTestServer(t)
	body := clipRequest()
	body["metadata"].(map[string]any)["duration_seconds"] = 45

	var errBody ErrorResponse
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/clips", body, &errBody))
	assert.Equal(t, "duration_seconds", errBody.Field)
}

func TestProcessingToPublication(t *testing.T) {
	s := newTestServer(t)
	res := s.createClip()

	var job domain.ProcessingJob
	require.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/v1/clips/"+res.ClipID.String()+"/upload-complete", nil, &job))
	assert.Equal(t, res.JobID, job.ID)
	assert.Equal(t, []uuid.UUID{res.JobID}, s.starter.started)

	var notReady ErrorResponse
	require.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/v1/clips/"+res.ClipID.String()+"/publish", nil, &notReady))
	require.Len(t, notReady.Unmet, 3)

	require.Equal(t, http.StatusOK, s.report(res.JobID, jobs.ReportAccepted, map[string]any{"external_job_id": "tx-1"}))
	require.Equal(t, http.StatusOK, s.report(res.JobID, jobs.ReportProgress, map[string]any{"progress": 50}))
	require.Equal(t, http.StatusOK, s.report(res.JobID, jobs.ReportCompleted, map[string]any{
		"outputs": map[string]any{"mp4_path": "processed/x/transcode/1/out.mp4", "width": 1920, "height": 1080},
	}))

	thumb := s.jobOfType(res.ClipID, domain.JobTypeThumbnail)
	hls := s.jobOfType(res.ClipID, domain.JobTypeHLSGeneration)
	require.Equal(t, http.StatusOK, s.report(thumb.ID, jobs.ReportCompleted, map[string]any{
		"outputs": map[string]any{"thumbnail_path": "processed/x/thumb.jpg"},
	}))

	var readiness publish.Readiness
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/clips/"+res.ClipID.String()+"/readiness", nil, &readiness))
	assert.False(t, readiness.Ready)
	assert.Equal(t, domain.ProcessingInProgress, readiness.ProcessingStatus)

	require.Equal(t, http.StatusOK, s.report(hls.ID, jobs.ReportCompleted, map[string]any{
		"outputs": map[string]any{"hls_playlist_path": "processed/x/master.m3u8"},
	}))

	var clip domain.Clip
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/clips/"+res.ClipID.String()+"/publish", nil, &clip))
	assert.Equal(t, domain.LifecyclePublished, clip.Status)
	assert.Equal(t, domain.ProcessingCompleted, clip.ProcessingStatus)
	require.NotNil(t, clip.PublishedAt)
	require.NotNil(t, clip.ThumbnailPath)
	assert.Equal(t, "processed/x/thumb.jpg", *clip.ThumbnailPath)

	// a duplicate terminal report is absorbed, a conflicting one is rejected
	assert.Equal(t, http.StatusOK, s.report(hls.ID, jobs.ReportCompleted, nil))
	assert.Equal(t, http.StatusConflict, s.report(hls.ID, jobs.ReportFailed, map[string]any{"error": "late"}))
}

func TestRetryFailedJob(t *testing.T) {
	s := newTestServer(t)
	res := s.createClip()
	require.Equal(t, http.StatusOK, s.report(res.JobID, jobs.ReportFailed, map[string]any{"error": "corrupt input"}))

	var retried domain.ProcessingJob
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/v1/clips/"+res.ClipID.String()+"/jobs/transcode/retry", nil, &retried))
	assert.Equal(t, 2, retried.Attempt)
	assert.Equal(t, domain.JobStatusQueued, retried.Status)
	assert.Contains(t, s.starter.started, retried.ID)

	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/v1/clips/"+res.ClipID.String()+"/jobs/transcode/retry", nil, nil))
}

func TestRetryWithUnavailableStarter(t *testing.T) {
	s := newTestServer(t)
	res := s.createClip()
	retryPath := "/v1/clips/" + res.ClipID.String() + "/jobs/transcode/retry"
	require.Equal(t, http.StatusOK, s.report(res.JobID, jobs.ReportFailed, map[string]any{"error": "corrupt input"}))

	s.starter.setErr(errors.New("temporal unavailable"))
	assert.Equal(t, http.StatusInternalServerError, s.do(http.MethodPost, retryPath, nil, nil))
	unstarted := s.jobOfType(res.ClipID, domain.JobTypeTranscode)
	assert.Equal(t, 2, unstarted.Attempt)
	assert.Equal(t, domain.JobStatusCancelled, unstarted.Status)

	s.starter.setErr(nil)
	var retried domain.ProcessingJob
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, retryPath, nil, &retried))
	assert.Equal(t, 3, retried.Attempt)
	assert.Contains(t, s.starter.started, retried.ID)
}

func TestCancelJob(t *testing.T) {
	s := newTestServer(t)
	res := s.createClip()

	var view domain.JobStatusView
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/jobs/"+res.JobID.String()+"/cancel", nil, &view))
	assert.Equal(t, domain.JobStatusCancelled, view.Status)

	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/v1/jobs/"+res.JobID.String()+"/cancel", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/jobs/"+uuid.NewString(), nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/v1/jobs/not-a-uuid", nil, nil))
}

func TestWatchJobStreamsUntilTerminal(t *testing.T) {
	s := newTestServer(t)
	res := s.createClip()
	require.Equal(t, http.StatusOK, s.report(res.JobID, jobs.ReportCompleted, nil))

	resp, err := s.srv.Client().Get(s.srv.URL + "/v1/jobs/" + res.JobID.String() + "/watch")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var lines []domain.JobStatusView
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var v domain.JobStatusView
		require.NoError(t, json.Unmarshal(sc.Bytes(), &v))
		lines = append(lines, v)
	}
	require.Len(t, lines, 1)
	assert.Equal(t, domain.JobStatusCompleted, lines[0].Status)
	assert.Equal(t, 100, lines[0].ProgressPercentage)
}

func (s *testServer) openWatch(jobID uuid.UUID) (*http.Response, *bufio.Scanner) {
	s.t.Helper()
	resp, err := s.srv.Client().Get(s.srv.URL + "/v1/jobs/" + jobID.String() + "/watch")
	require.NoError(s.t, err)
	s.t.Cleanup(func() { resp.Body.Close() })
	require.Equal(s.t, http.StatusOK, resp.StatusCode)
	return resp, bufio.NewScanner(resp.Body)
}

func readViews(t *testing.T, sc *bufio.Scanner) []domain.JobStatusView {
	t.Helper()
	var views []domain.JobStatusView
	for sc.Scan() {
		var v domain.JobStatusView
		require.NoError(t, json.Unmarshal(sc.Bytes(), &v), sc.Text())
		views = append(views, v)
	}
	require.NoError(t, sc.Err())
	return views
}

func TestConcurrentWatchersOfOneJob(t *testing.T) {
	s := newTestServer(t)
	res := s.createClip()
	require.Equal(t, http.StatusOK, s.report(res.JobID, jobs.ReportAccepted, nil))

	_, first := s.openWatch(res.JobID)
	require.True(t, first.Scan())
	_, second := s.openWatch(res.JobID)
	require.True(t, second.Scan())

	// let both watchers poll a few times side by side
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, http.StatusOK, s.report(res.JobID, jobs.ReportProgress, map[string]any{"progress": 60}))
	require.Equal(t, http.StatusOK, s.report(res.JobID, jobs.ReportCompleted, nil))

	for _, sc := range []*bufio.Scanner{first, second} {
		views := readViews(t, sc)
		require.NotEmpty(t, views)
		assert.Equal(t, domain.JobStatusCompleted, views[len(views)-1].Status)
	}
}

func TestWatchOutlivesServerWriteTimeout(t *testing.T) {
	s := newTestServerWithWriteTimeout(t, 100*time.Millisecond)
	res := s.createClip()
	require.Equal(t, http.StatusOK, s.report(res.JobID, jobs.ReportAccepted, nil))

	_, sc := s.openWatch(res.JobID)
	require.True(t, sc.Scan())

	for _, p := range []int{20, 40, 60} {
		time.Sleep(60 * time.Millisecond)
		require.Equal(t, http.StatusOK, s.report(res.JobID, jobs.ReportProgress, map[string]any{"progress": p}))
	}
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, http.StatusOK, s.report(res.JobID, jobs.ReportCompleted, nil))

	views := readViews(t, sc)
	require.NotEmpty(t, views)
	assert.Equal(t, domain.JobStatusCompleted, views[len(views)-1].Status)
	assert.Equal(t, 100, views[len(views)-1].ProgressPercentage)
}

func TestWatchUnknownJob(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/jobs/"+uuid.NewString()+"/watch", nil, nil))
}

func TestBookmarksAndCounters(t *testing.T) {
	s := newTestServer(t)
	res := s.createClip()
	base := "/v1/clips/" + res.ClipID.String()

	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, base+"/bookmarks", map[string]any{"timestamp_seconds": 4}, nil))
	var counts map[string]int64
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, base+"/views", nil, &counts))
	assert.Equal(t, int64(1), counts["view_count"])

	var clip domain.Clip
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, base, nil, &clip))
	assert.Equal(t, int64(1), clip.BookmarkCount)
	assert.Equal(t, int64(1), clip.ViewCount)

	require.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, base+"/annotations", map[string]any{
		"start_seconds": 5, "end_seconds": 2, "body": "backwards",
	}, nil))
}

func TestErrorResponseMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&domain.ValidationError{Field: "title"}, http.StatusBadRequest},
		{&domain.NotReadyError{ClipID: uuid.New()}, http.StatusConflict},
		{&domain.StateTransitionError{}, http.StatusConflict},
		{&domain.TransportError{Err: errors.New("503")}, http.StatusBadGateway},
		{&domain.PollTimeoutError{}, http.StatusGatewayTimeout},
		{&intake.Error{ClipID: uuid.New(), Stage: intake.StagePresign, Err: errors.New("s3")}, http.StatusBadGateway},
		{intake.ErrUploadMissing, http.StatusConflict},
		{poller.ErrReplaced, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := errorResponse(tc.err)
		assert.Equal(t, tc.status, status, "%T", tc.err)
	}
}
