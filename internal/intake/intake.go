// Package intake accepts new clips: it validates metadata, records the clip,
// hands out a presigned upload destination and queues the transcode job.
package intake

import (
	"context"
	"errors"
	"fmt"
	"path"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/config"
	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/jobs"
	"github.com/tvoe/cliphub/internal/metrics"
	"github.com/tvoe/cliphub/internal/store"
)

// Stage names the intake step that failed after the clip was recorded
type Stage string

const (
	StagePresign   Stage = "presign"
	StageCreateJob Stage = "create_job"
)

// Error reports a partial intake: the clip exists but a later step failed.
// Callers retry that step alone with RequestUpload or EnsureTranscode.
type Error struct {
	ClipID uuid.UUID
	Stage  Stage
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("intake of clip %s failed at %s: %v", e.ClipID, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrUploadMissing is returned by ConfirmUpload when the raw file is not in storage yet
var ErrUploadMissing = errors.New("upload not found in storage")

// Uploads issues upload destinations in object storage and checks they were used
type Uploads interface {
	PresignUpload(ctx context.Context, key, contentType string, size int64) (*domain.UploadTarget, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Metadata is the descriptive part of a clip submission
type Metadata struct {
	Title           string             `json:"title" validate:"required,max=100"`
	Description     *string            `json:"description,omitempty" validate:"omitempty,max=500"`
	DurationSeconds float64            `json:"duration_seconds" validate:"gt=0"`
	Machine         *string            `json:"machine,omitempty" validate:"omitempty,max=200"`
	Process         *string            `json:"process,omitempty" validate:"omitempty,max=200"`
	Tooling         *string            `json:"tooling,omitempty" validate:"omitempty,max=200"`
	SkillLevel      *domain.SkillLevel `json:"skill_level,omitempty" validate:"omitempty,oneof=beginner intermediate advanced"`
	Tags            []string           `json:"tags,omitempty" validate:"max=20,dive,required,max=50"`
	IsPublic        bool               `json:"is_public"`
	OrganizationID  *uuid.UUID         `json:"organization_id,omitempty"`
}

// FileInfo describes the raw file the client is about to upload
type FileInfo struct {
	Filename  string `json:"filename" validate:"required,max=255"`
	SizeBytes int64  `json:"size_bytes" validate:"gt=0"`
	MimeType  string `json:"mime_type" validate:"required,startswith=video/"`
}

// Request is a createClip call
type Request struct {
	OwnerID  uuid.UUID `json:"-"`
	Metadata Metadata  `json:"metadata"`
	File     FileInfo  `json:"file"`
}

// Result is returned by a successful createClip
type Result struct {
	ClipID uuid.UUID            `json:"clip_id"`
	JobID  uuid.UUID            `json:"job_id"`
	Upload *domain.UploadTarget `json:"upload"`
}

// Service runs the intake flow
type Service struct {
	store     store.Store
	jobs      *jobs.Service
	uploads   Uploads
	starter   jobs.Starter
	policy    config.IntakeConfig
	validate  *validator.Validate
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewService creates an intake service
func NewService(st store.Store, js *jobs.Service, uploads Uploads, starter jobs.Starter, policy config.IntakeConfig, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:     st,
		jobs:      js,
		uploads:   uploads,
		starter:   starter,
		policy:    policy,
		validate:  NewValidator(),
		logger:    logger,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NewValidator returns a validator that reports json field names
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// ToValidationError converts the first validator failure into a ValidationError
func ToValidationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return err
	}
	fe := errs[0]
	return &domain.ValidationError{Field: fe.Field(), Reason: reason(fe)}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	}
	return "is invalid"
}

// Validate checks a request against field rules and the upload policy
func (s *Service) Validate(req Request) error {
	if req.OwnerID == uuid.Nil {
		return &domain.ValidationError{Field: "owner_id", Reason: "is required"}
	}
	// a blank title must not pass as present
	req.Metadata.Title = strings.TrimSpace(req.Metadata.Title)
	if err := s.validate.Struct(req.Metadata); err != nil {
		return ToValidationError(err)
	}
	if err := s.validate.Struct(req.File); err != nil {
		return ToValidationError(err)
	}
	if req.Metadata.DurationSeconds > s.policy.MaxDurationSeconds {
		return &domain.ValidationError{
			Field:  "duration_seconds",
			Reason: fmt.Sprintf("must be at most %g", s.policy.MaxDurationSeconds),
		}
	}
	if req.File.SizeBytes > s.policy.MaxFileSizeBytes {
		return &domain.ValidationError{
			Field:  "size_bytes",
			Reason: fmt.Sprintf("must be at most %d", s.policy.MaxFileSizeBytes),
		}
	}
	if !domain.IsMimeTypeSupported(req.File.MimeType) {
		return &domain.ValidationError{Field: "mime_type", Reason: "is not a supported video container"}
	}
	return nil
}

// CreateClip validates the request, records the clip, presigns its upload and
// queues the transcode job. Validation failures create nothing.
func (s *Service) CreateClip(ctx context.Context, req Request) (*Result, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}

	now := s.now()
	md := req.Metadata
	clip := &domain.Clip{
		ID:               uuid.New(),
		OwnerID:          req.OwnerID,
		OrganizationID:   md.OrganizationID,
		Title:            strings.TrimSpace(md.Title),
		Description:      md.Description,
		DurationSeconds:  md.DurationSeconds,
		Machine:          md.Machine,
		Process:          md.Process,
		Tooling:          md.Tooling,
		SkillLevel:       md.SkillLevel,
		Tags:             domain.NormalizeTags(md.Tags),
		IsPublic:         md.IsPublic,
		OriginalFilename: req.File.Filename,
		FileSizeBytes:    req.File.SizeBytes,
		MimeType:         req.File.MimeType,
		Status:           domain.LifecycleDraft,
		ProcessingStatus: domain.ProcessingPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateClip(ctx, clip); err != nil {
		return nil, fmt.Errorf("failed to create clip: %w", err)
	}
	s.metrics.IncrementClipsCreated()

	log := s.logger.With(zap.String("clipId", clip.ID.String()), zap.String("ownerId", clip.OwnerID.String()))
	log.Info("clip created")

	target, err := s.presign(ctx, clip)
	if err != nil {
		log.Error("failed to presign upload", zap.Error(err))
		return nil, &Error{ClipID: clip.ID, Stage: StagePresign, Err: err}
	}

	job, _, err := s.jobs.EnsureJob(ctx, clip.ID, domain.JobTypeTranscode, target.Key)
	if err != nil {
		log.Error("failed to create transcode job", zap.Error(err))
		return nil, &Error{ClipID: clip.ID, Stage: StageCreateJob, Err: err}
	}

	return &Result{ClipID: clip.ID, JobID: job.ID, Upload: target}, nil
}

// RequestUpload issues a fresh upload destination for an existing clip
func (s *Service) RequestUpload(ctx context.Context, clipID uuid.UUID) (*domain.UploadTarget, error) {
	clip, err := s.store.GetClip(ctx, clipID)
	if err != nil {
		return nil, err
	}
	return s.presign(ctx, clip)
}

// EnsureTranscode retries transcode job creation alone; it never creates a second job
func (s *Service) EnsureTranscode(ctx context.Context, clipID uuid.UUID) (*domain.ProcessingJob, error) {
	clip, err := s.store.GetClip(ctx, clipID)
	if err != nil {
		return nil, err
	}
	job, _, err := s.jobs.EnsureJob(ctx, clip.ID, domain.JobTypeTranscode, UploadKey(clip))
	return job, err
}

// ConfirmUpload records the uploaded original and starts the queued transcode.
// Repeated calls are safe: starting is idempotent per job.
func (s *Service) ConfirmUpload(ctx context.Context, clipID uuid.UUID) (*domain.ProcessingJob, error) {
	clip, err := s.store.GetClip(ctx, clipID)
	if err != nil {
		return nil, err
	}
	ok, err := s.uploads.Exists(ctx, UploadKey(clip))
	if err != nil {
		return nil, fmt.Errorf("failed to check upload: %w", err)
	}
	if !ok {
		return nil, ErrUploadMissing
	}

	key, err := s.recordOriginal(ctx, clipID)
	if err != nil {
		return nil, err
	}

	job, _, err := s.jobs.EnsureJob(ctx, clipID, domain.JobTypeTranscode, key)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.JobStatusQueued {
		if err := s.starter.StartJob(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to start transcode: %w", err)
		}
	}
	return job, nil
}

func (s *Service) recordOriginal(ctx context.Context, clipID uuid.UUID) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		clip, err := s.store.GetClip(ctx, clipID)
		if err != nil {
			return "", err
		}
		key := UploadKey(clip)
		if clip.OriginalPath != nil && *clip.OriginalPath == key {
			return key, nil
		}
		clip.OriginalPath = &key
		err = s.store.UpdateClip(ctx, clip)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to record original: %w", err)
		}
		return key, nil
	}
	return "", store.ErrConflict
}

func (s *Service) presign(ctx context.Context, clip *domain.Clip) (*domain.UploadTarget, error) {
	return s.uploads.PresignUpload(ctx, UploadKey(clip), clip.MimeType, clip.FileSizeBytes)
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// UploadKey is the object key for a clip's raw upload:
// uploads/{owner}/{clip}/{sanitized filename}
func UploadKey(clip *domain.Clip) string {
	name := unsafeKeyChars.ReplaceAllString(path.Base(clip.OriginalFilename), "_")
	if name == "" || name == "." || name == "_" {
		name = "original"
	}
	return domain.UploadPrefix(clip.OwnerID, clip.ID) + name
}
