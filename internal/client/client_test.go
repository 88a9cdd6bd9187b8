package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/poller"
	"github.com/tvoe/cliphub/internal/store"
)

func TestFetchJobSendsUserAndDecodes(t *testing.T) {
	user := uuid.New()
	jobID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, user.String(), r.Header.Get(userHeader))
		assert.Equal(t, "/v1/jobs/"+jobID.String(), r.URL.Path)
		json.NewEncoder(w).Encode(domain.JobStatusView{JobID: jobID, Status: domain.JobStatusRunning, ProgressPercentage: 40})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", user, srv.Client())
	view, err := c.FetchJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, view.Status)
	assert.Equal(t, 40, view.ProgressPercentage)
}

func TestErrorsCarryAPIBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/publish"):
			w.WriteHeader(http.StatusConflict)
			io.WriteString(w, `{"error":"clip is not ready","unmet":[{"job_type":"thumbnail","reason":"missing"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"not found"}`)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, uuid.New(), srv.Client())

	_, err := c.Publish(context.Background(), uuid.New())
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Len(t, apiErr.Unmet, 1)
	assert.Equal(t, domain.JobTypeThumbnail, apiErr.Unmet[0].JobType)
	assert.False(t, errors.Is(err, store.ErrNotFound))

	_, err = c.FetchJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUploadUsesTargetHeaders(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "video/mp4", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get(userHeader))
		got, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	c := New("http://api.invalid", uuid.New(), srv.Client())
	target := &domain.UploadTarget{
		URL:     srv.URL + "/clips/uploads/a/b/original.mp4",
		Method:  http.MethodPut,
		Headers: map[string]string{"Content-Type": "video/mp4"},
	}
	require.NoError(t, c.Upload(context.Background(), target, strings.NewReader("frames"), 6))
	assert.Equal(t, "frames", string(got))
}

func TestClientDrivesPoller(t *testing.T) {
	jobID := uuid.New()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		view := domain.JobStatusView{JobID: jobID, Status: domain.JobStatusRunning, ProgressPercentage: int(n) * 10}
		if n >= 4 {
			view.Status = domain.JobStatusCompleted
			view.ProgressPercentage = 100
		}
		json.NewEncoder(w).Encode(view)
	}))
	defer srv.Close()

	c := New(srv.URL, uuid.New(), srv.Client())
	p := poller.New(c, zap.NewNop(), nil)
	w := p.Watch(context.Background(), jobID, poller.Options{Interval: time.Millisecond, MaxRetries: 2})

	var last domain.JobStatusView
	for v := range w.Updates() {
		last = v
	}
	require.NoError(t, w.Err())
	assert.Equal(t, domain.JobStatusCompleted, last.Status)
}
