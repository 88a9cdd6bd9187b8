// Package client is an HTTP client for the cliphub API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/intake"
	"github.com/tvoe/cliphub/internal/publish"
	"github.com/tvoe/cliphub/internal/store"
)

const userHeader = "X-User-ID"

// Error is a non-2xx answer from the API
type Error struct {
	StatusCode int                       `json:"-"`
	Message    string                    `json:"error"`
	Field      string                    `json:"field,omitempty"`
	Unmet      []domain.UnmetRequirement `json:"unmet,omitempty"`
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("api error %d: %s (%s)", e.StatusCode, e.Message, e.Field)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps 404 onto store.ErrNotFound so callers can use errors.Is
func (e *Error) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return store.ErrNotFound
	}
	return nil
}

// Client talks to the API on behalf of one user
type Client struct {
	baseURL    string
	userID     uuid.UUID
	httpClient *http.Client
}

// New creates a client. httpClient may be nil.
func New(baseURL string, userID uuid.UUID, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		httpClient: httpClient,
	}
}

// CreateClip submits clip metadata and returns the upload target
func (c *Client) CreateClip(ctx context.Context, req intake.Request) (*intake.Result, error) {
	var res intake.Result
	if err := c.do(ctx, http.MethodPost, "/v1/clips", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Upload writes the raw file to a presigned target
func (c *Client) Upload(ctx context.Context, target *domain.UploadTarget, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, target.Method, target.URL, body)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.ContentLength = size
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("upload rejected: %s - %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}

// ConfirmUpload tells the API the file is in place and processing can start
func (c *Client) ConfirmUpload(ctx context.Context, clipID uuid.UUID) (*domain.ProcessingJob, error) {
	var job domain.ProcessingJob
	if err := c.do(ctx, http.MethodPost, "/v1/clips/"+clipID.String()+"/upload-complete", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// FetchJob returns a job's status view
func (c *Client) FetchJob(ctx context.Context, jobID uuid.UUID) (domain.JobStatusView, error) {
	var view domain.JobStatusView
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+jobID.String(), nil, &view)
	return view, err
}

// ListJobs returns every job of a clip
func (c *Client) ListJobs(ctx context.Context, clipID uuid.UUID) ([]*domain.ProcessingJob, error) {
	var out struct {
		Jobs []*domain.ProcessingJob `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/clips/"+clipID.String()+"/jobs", nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Readiness returns the clip's publication eligibility
func (c *Client) Readiness(ctx context.Context, clipID uuid.UUID) (*publish.Readiness, error) {
	var r publish.Readiness
	if err := c.do(ctx, http.MethodGet, "/v1/clips/"+clipID.String()+"/readiness", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Publish publishes a clip
func (c *Client) Publish(ctx context.Context, clipID uuid.UUID) (*domain.Clip, error) {
	var clip domain.Clip
	if err := c.do(ctx, http.MethodPost, "/v1/clips/"+clipID.String()+"/publish", nil, &clip); err != nil {
		return nil, err
	}
	return &clip, nil
}

// Retry queues a new attempt of a failed or cancelled job type
func (c *Client) Retry(ctx context.Context, clipID uuid.UUID, jobType domain.JobType) (*domain.ProcessingJob, error) {
	var job domain.ProcessingJob
	path := fmt.Sprintf("/v1/clips/%s/jobs/%s/retry", clipID, jobType)
	if err := c.do(ctx, http.MethodPost, path, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelJob cancels a queued or running job
func (c *Client) CancelJob(ctx context.Context, jobID uuid.UUID) (domain.JobStatusView, error) {
	var view domain.JobStatusView
	err := c.do(ctx, http.MethodPost, "/v1/jobs/"+jobID.String()+"/cancel", nil, &view)
	return view, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(userHeader, c.userID.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
