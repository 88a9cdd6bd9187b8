package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/clips"
	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/intake"
	"github.com/tvoe/cliphub/internal/jobs"
	"github.com/tvoe/cliphub/internal/metrics"
	"github.com/tvoe/cliphub/internal/poller"
	"github.com/tvoe/cliphub/internal/publish"
)

// ReportSource labels reports that arrive over the webhook
const ReportSource = "webhook"

// UserHeader carries the caller's user id
const UserHeader = "X-User-ID"

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Deps holds API dependencies
type Deps struct {
	Intake  *intake.Service
	Jobs    *jobs.Service
	Gate    *publish.Gate
	Clips   *clips.Service
	Starter jobs.Starter
	// WatchOptions are the defaults for server-side watches
	WatchOptions poller.Options
	Checks       map[string]HealthCheck
}

// Handler holds API dependencies
type Handler struct {
	Deps
	validate *validator.Validate
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewHandler creates a new handler
func NewHandler(deps Deps, logger *zap.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		Deps:     deps,
		validate: intake.NewValidator(),
		logger:   logger,
		metrics:  m,
	}
}

// CreateClip validates metadata, records the clip and returns its upload target
func (h *Handler) CreateClip(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req intake.Request
	if !h.decode(w, r, &req) {
		return
	}
	req.OwnerID = owner

	res, err := h.Intake.CreateClip(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

// ListClips returns a page of clips, newest first
func (h *Handler) ListClips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := clips.ListParams{
		Tag:    q.Get("tag"),
		Cursor: q.Get("cursor"),
	}
	if v := q.Get("owner_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			h.writeServiceError(w, &domain.ValidationError{Field: "owner_id", Reason: "must be a uuid"})
			return
		}
		params.OwnerID = &id
	}
	if v := q.Get("status"); v != "" {
		s := domain.LifecycleStatus(v)
		params.Status = &s
	}
	if v := q.Get("processing_status"); v != "" {
		s := domain.ProcessingStatus(v)
		params.ProcessingStatus = &s
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeServiceError(w, &domain.ValidationError{Field: "limit", Reason: "must be an integer"})
			return
		}
		params.Limit = n
	}

	res, err := h.Clips.List(r.Context(), params)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// GetClip returns one clip
func (h *Handler) GetClip(w http.ResponseWriter, r *http.Request) {
	clipID, ok := h.pathID(w, r, "clipId")
	if !ok {
		return
	}
	clip, err := h.Clips.Get(r.Context(), clipID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, clip)
}

// DeleteClip removes a clip and everything attached to it
func (h *Handler) DeleteClip(w http.ResponseWriter, r *http.Request) {
	clipID, ok := h.pathID(w, r, "clipId")
	if !ok {
		return
	}
	if err := h.Clips.Delete(r.Context(), clipID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestUpload issues a fresh upload target for an existing clip
func (h *Handler) RequestUpload(w http.ResponseWriter, r *http.Request) {
	clipID, ok := h.pathID(w, r, "clipId")
	if !ok {
		return
	}
	target, err := h.Intake.RequestUpload(r.Context(), clipID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, target)
}

// ConfirmUpload starts processing once the raw file is in storage
func (h *Handler) ConfirmUpload(w http.ResponseWriter, r *http.Request) {
	clipID, ok := h.pathID(w, r, "clipId")
	if !ok {
		return
	}
	job, err := h.Intake.ConfirmUpload(r.Context(), clipID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, job)
}

// EnsureTranscode creates the transcode job if intake stopped before it
func (h *Handler) EnsureTranscode(w http.ResponseWriter, r *http.Request) {
	clipID, ok := h.pathID(w, r, "clipId")
	if !ok {
		return
	}
	job, err := h.Intake.EnsureTranscode(r.Context(), clipID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// GetReadiness reports whether a clip can be published
func (h *Handler) GetReadiness(w http.ResponseWriter, r *http.Request) {
	clipID, ok := h.pathID(w, r, "clipId")
	if !ok {
		return
	}
	readiness, err := h.Gate.Evaluate(r.Context(), clipID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, readiness)
}

// Transition returns a handler moving clips to the given lifecycle status
func (h *Handler) Transition(to domain.LifecycleStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clipID, ok := h.pathID(w, r, "clipId")
		if !ok {
			return
		}
		clip, err := h.Gate.Transition(r.Context(), clipID, to)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, clip)
	}
}

// Increment returns a handler bumping one clip counter
func (h *Handler) Increment(counter domain.Counter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clipID, ok := h.pathID(w, r, "clipId")
		if !ok {
			return
		}
		n, err := h.Clips.Increment(r.Context(), clipID, counter)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]int64{string(counter): n})
	}
}

// ListClipJobs returns every job of a clip
func (h *Handler) ListClipJobs(w http.ResponseWriter, r *http.Request) {
	clipID, ok := h.pathID(w, r, "clipId")
	if !ok {
		return
	}
	list, err := h.Jobs.ListByClip(r.Context(), clipID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

// RetryJob queues a new attempt of a failed or cancelled job type and starts it
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	clipID, ok := h.pathID(w, r, "clipId")
	if !ok {
		return
	}
	jobType := domain.JobType(chi.URLParam(r, "jobType"))

	job, err := h.Jobs.Retry(r.Context(), clipID, jobType)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if err := h.Starter.StartJob(r.Context(), job); err != nil {
		h.logger.Error("failed to start retried job", zap.String("jobId", job.ID.String()), zap.Error(err))
		// an unstarted attempt would sit queued forever and block the next retry
		if _, cerr := h.Jobs.Cancel(context.WithoutCancel(r.Context()), job.ID); cerr != nil {
			h.logger.Error("failed to cancel unstarted retry", zap.String("jobId", job.ID.String()), zap.Error(cerr))
		}
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, job)
}

// GetJob returns the status view of a job
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.pathID(w, r, "jobId")
	if !ok {
		return
	}
	view, err := h.Jobs.Status(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// CancelJob cancels a queued or running job
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.pathID(w, r, "jobId")
	if !ok {
		return
	}
	job, err := h.Jobs.Cancel(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job.View())
}

// ReportJob accepts a status report from the processing service
func (h *Handler) ReportJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.pathID(w, r, "jobId")
	if !ok {
		return
	}
	var report jobs.StatusReport
	if !h.decode(w, r, &report) {
		return
	}
	report.JobID = jobID
	if err := h.validate.Struct(report); err != nil {
		h.writeServiceError(w, intake.ToValidationError(err))
		return
	}

	job, err := h.Jobs.ApplyReport(r.Context(), report, ReportSource)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job.View())
}

// GetTranscript returns a clip's transcript
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	clipID, ok := h.pathID(w, r, "clipId")
	if !ok {
		return
	}
	t, err := h.Clips.Transcript(r.Context(), clipID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// EditSegment replaces one transcript segment
func (h *Handler) EditSegment(w http.ResponseWriter, r *http.Request) {
	clipID, ok := h.pathID(w, r, "clipId")
	if !ok {
		return
	}
	segmentID, ok := h.pathID(w, r, "segmentId")
	if !ok {
		return
	}
	var in domain.SegmentInput
	if !h.decode(w, r, &in) {
		return
	}
	seg, err := h.Clips.EditSegment(r.Context(), clipID, segmentID, in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, seg)
}

// CreateAnnotationRequest is the body of an annotation create
type CreateAnnotationRequest struct {
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
	Body         string  `json:"body"`
}

// CreateAnnotation attaches a note to a clip time range
func (h *Handler) CreateAnnotation(w http.ResponseWriter, r *http.Request) {
	author, ok := h.userID(w, r)
	if !ok {
		return
	}
	clipID, ok := h.pathID(w, r, "clipId")
	if !ok {
		return
	}
	var req CreateAnnotationRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.Clips.AddAnnotation(r.Context(), clipID, author, req.StartSeconds, req.EndSeconds, req.Body)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, a)
}

// ListAnnotations lists a clip's annotations
func (h *Handler) ListAnnotations(w http.ResponseWriter, r *http.Request) {
	clipID, ok := h.pathID(w, r, "clipId")
	if !ok {
		return
	}
	list, err := h.Clips.Annotations(r.Context(), clipID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"annotations": list})
}

// CreateBookmarkRequest is the body of a bookmark create
type CreateBookmarkRequest struct {
	TimestampSeconds *float64 `json:"timestamp_seconds,omitempty"`
	Note             *string  `json:"note,omitempty"`
}

// CreateBookmark saves a bookmark for the caller
func (h *Handler) CreateBookmark(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userID(w, r)
	if !ok {
		return
	}
	clipID, ok := h.pathID(w, r, "clipId")
	if !ok {
		return
	}
	var req CreateBookmarkRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.Clips.AddBookmark(r.Context(), clipID, user, req.TimestampSeconds, req.Note)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, b)
}

// ListBookmarks lists a clip's bookmarks
func (h *Handler) ListBookmarks(w http.ResponseWriter, r *http.Request) {
	clipID, ok := h.pathID(w, r, "clipId")
	if !ok {
		return
	}
	list, err := h.Clips.Bookmarks(r.Context(), clipID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"bookmarks": list})
}

// HealthCheck returns health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]string{
		"status": "healthy",
	}
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			h.logger.Error("health check failed", zap.String("dependency", name), zap.Error(err))
			status[name] = "unhealthy"
			status["status"] = "unhealthy"
			continue
		}
		status[name] = "healthy"
	}

	statusCode := http.StatusOK
	if status["status"] == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	h.writeJSON(w, statusCode, status)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get(UserHeader))
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing or invalid "+UserHeader+" header")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: message})
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error  string                    `json:"error"`
	Field  string                    `json:"field,omitempty"`
	ClipID *uuid.UUID                `json:"clip_id,omitempty"`
	Stage  intake.Stage              `json:"stage,omitempty"`
	Unmet  []domain.UnmetRequirement `json:"unmet,omitempty"`
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	h.writeJSON(w, status, body)
}

// errorResponse maps service errors onto HTTP statuses
func errorResponse(err error) (int, ErrorResponse) {
	body := ErrorResponse{Error: err.Error()}

	var (
		vErr      *domain.ValidationError
		notReady  *domain.NotReadyError
		transErr  *domain.StateTransitionError
		lifeErr   *domain.LifecycleTransitionError
		transport *domain.TransportError
		timeout   *domain.PollTimeoutError
		intakeErr *intake.Error
	)
	switch {
	case errors.As(err, &vErr):
		body.Field = vErr.Field
		return http.StatusBadRequest, body
	case errors.As(err, &intakeErr):
		body.ClipID = &intakeErr.ClipID
		body.Stage = intakeErr.Stage
		return http.StatusBadGateway, body
	case isNotFound(err):
		return http.StatusNotFound, body
	case errors.As(err, &notReady):
		body.ClipID = &notReady.ClipID
		body.Unmet = notReady.Unmet
		return http.StatusConflict, body
	case errors.As(err, &transErr), errors.As(err, &lifeErr), isConflict(err):
		return http.StatusConflict, body
	case errors.As(err, &transport):
		return http.StatusBadGateway, body
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout, body
	}
	body.Error = "internal error"
	return http.StatusInternalServerError, body
}
