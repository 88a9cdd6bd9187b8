package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the status of a processing job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition may leave the status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows from -> to.
// running -> running is the progress update edge.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusRunning || to == JobStatusCancelled
	case JobStatusRunning:
		return to == JobStatusRunning || to == JobStatusCompleted ||
			to == JobStatusFailed || to == JobStatusCancelled
	}
	return false
}

// JobType represents the kind of work a job performs
type JobType string

const (
	JobTypeTranscode     JobType = "transcode"
	JobTypeThumbnail     JobType = "thumbnail"
	JobTypeTranscription JobType = "transcription"
	JobTypeHLSGeneration JobType = "hls_generation"
)

// AllJobTypes returns ordered list of all job types
func AllJobTypes() []JobType {
	return []JobType{
		JobTypeTranscode,
		JobTypeThumbnail,
		JobTypeTranscription,
		JobTypeHLSGeneration,
	}
}

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	for _, known := range AllJobTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// ProcessingJob represents one unit of asynchronous work against a clip
type ProcessingJob struct {
	ID                  uuid.UUID   `json:"id" db:"id"`
	ClipID              uuid.UUID   `json:"clip_id" db:"clip_id"`
	JobType             JobType     `json:"job_type" db:"job_type"`
	Status              JobStatus   `json:"status" db:"status"`
	ProgressPercentage  int         `json:"progress_percentage" db:"progress_percentage"`
	ErrorMessage        *string     `json:"error_message,omitempty" db:"error_message"`
	SourceKey           string      `json:"source_key" db:"source_key"`
	Attempt             int         `json:"attempt" db:"attempt"`
	ExternalJobID       *string     `json:"external_job_id,omitempty" db:"external_job_id"`
	ProcessingService   *string     `json:"processing_service,omitempty" db:"processing_service"`
	Outputs             *JobOutputs `json:"outputs,omitempty" db:"outputs"`
	CreatedAt           time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at" db:"updated_at"`
	StartedAt           *time.Time  `json:"started_at,omitempty" db:"started_at"`
	CompletedAt         *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
	EstimatedCompletion *time.Time  `json:"estimated_completion,omitempty" db:"estimated_completion"`
	LockVersion         int         `json:"-" db:"lock_version"`
}

// NewProcessingJob creates a queued job with default values
func NewProcessingJob(clipID uuid.UUID, jobType JobType, sourceKey string, attempt int) *ProcessingJob {
	now := time.Now().UTC()
	return &ProcessingJob{
		ID:                 uuid.New(),
		ClipID:             clipID,
		JobType:            jobType,
		Status:             JobStatusQueued,
		ProgressPercentage: 0,
		SourceKey:          sourceKey,
		Attempt:            attempt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (j *ProcessingJob) Clone() *ProcessingJob {
	if j == nil {
		return nil
	}
	c := *j
	c.ErrorMessage = cloneString(j.ErrorMessage)
	c.ExternalJobID = cloneString(j.ExternalJobID)
	c.ProcessingService = cloneString(j.ProcessingService)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.EstimatedCompletion = cloneTime(j.EstimatedCompletion)
	c.Outputs = j.Outputs.Clone()
	return &c
}

// JobOutputs holds the artifacts an external worker reported on completion
type JobOutputs struct {
	MP4Path         *string           `json:"mp4_path,omitempty"`
	HLSPlaylistPath *string           `json:"hls_playlist_path,omitempty"`
	ThumbnailPath   *string           `json:"thumbnail_path,omitempty"`
	Width           *int              `json:"width,omitempty"`
	Height          *int              `json:"height,omitempty"`
	Bitrate         *int64            `json:"bitrate,omitempty"`
	Transcript      *TranscriptOutput `json:"transcript,omitempty"`
}

// Clone returns a deep copy of the outputs.
func (o *JobOutputs) Clone() *JobOutputs {
	if o == nil {
		return nil
	}
	c := *o
	c.MP4Path = cloneString(o.MP4Path)
	c.HLSPlaylistPath = cloneString(o.HLSPlaylistPath)
	c.ThumbnailPath = cloneString(o.ThumbnailPath)
	if o.Width != nil {
		w := *o.Width
		c.Width = &w
	}
	if o.Height != nil {
		h := *o.Height
		c.Height = &h
	}
	if o.Bitrate != nil {
		b := *o.Bitrate
		c.Bitrate = &b
	}
	if o.Transcript != nil {
		t := *o.Transcript
		t.Segments = append([]SegmentInput(nil), o.Transcript.Segments...)
		c.Transcript = &t
	}
	return &c
}

// JobStatusView is the read model returned to callers watching a job
type JobStatusView struct {
	JobID               uuid.UUID  `json:"job_id"`
	ClipID              uuid.UUID  `json:"clip_id"`
	JobType             JobType    `json:"job_type"`
	Status              JobStatus  `json:"status"`
	ProgressPercentage  int        `json:"progress_percentage"`
	ErrorMessage        *string    `json:"error_message,omitempty"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// View projects the job into its status view.
func (j *ProcessingJob) View() JobStatusView {
	return JobStatusView{
		JobID:               j.ID,
		ClipID:              j.ClipID,
		JobType:             j.JobType,
		Status:              j.Status,
		ProgressPercentage:  j.ProgressPercentage,
		ErrorMessage:        cloneString(j.ErrorMessage),
		StartedAt:           cloneTime(j.StartedAt),
		CompletedAt:         cloneTime(j.CompletedAt),
		EstimatedCompletion: cloneTime(j.EstimatedCompletion),
		UpdatedAt:           j.UpdatedAt,
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
