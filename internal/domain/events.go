package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is a typed notification emitted after a state change has been persisted
type Event interface {
	EventName() string
}

// JobStarted is emitted when a job moves from queued to running
type JobStarted struct {
	JobID     uuid.UUID `json:"job_id"`
	ClipID    uuid.UUID `json:"clip_id"`
	JobType   JobType   `json:"job_type"`
	StartedAt time.Time `json:"started_at"`
}

// JobProgressed is emitted on a running -> running progress update
type JobProgressed struct {
	JobID    uuid.UUID `json:"job_id"`
	ClipID   uuid.UUID `json:"clip_id"`
	JobType  JobType   `json:"job_type"`
	Progress int       `json:"progress"`
}

// JobCompleted is emitted when a job completes
type JobCompleted struct {
	JobID   uuid.UUID   `json:"job_id"`
	ClipID  uuid.UUID   `json:"clip_id"`
	JobType JobType     `json:"job_type"`
	Outputs *JobOutputs `json:"outputs,omitempty"`
}

// JobFailed is emitted when a job fails
type JobFailed struct {
	JobID   uuid.UUID `json:"job_id"`
	ClipID  uuid.UUID `json:"clip_id"`
	JobType JobType   `json:"job_type"`
	Error   string    `json:"error"`
}

// JobCancelled is emitted when a job is cancelled
type JobCancelled struct {
	JobID   uuid.UUID `json:"job_id"`
	ClipID  uuid.UUID `json:"clip_id"`
	JobType JobType   `json:"job_type"`
}

// ClipReady is emitted once every required job of a clip has completed
type ClipReady struct {
	ClipID uuid.UUID `json:"clip_id"`
}

// ClipPublished is emitted when a clip enters the published lifecycle status
type ClipPublished struct {
	ClipID      uuid.UUID `json:"clip_id"`
	PublishedAt time.Time `json:"published_at"`
}

func (JobStarted) EventName() string    { return "job.started" }
func (JobProgressed) EventName() string { return "job.progressed" }
func (JobCompleted) EventName() string  { return "job.completed" }
func (JobFailed) EventName() string     { return "job.failed" }
func (JobCancelled) EventName() string  { return "job.cancelled" }
func (ClipReady) EventName() string     { return "clip.ready" }
func (ClipPublished) EventName() string { return "clip.published" }

// TerminalJobEvent returns the job id when e reports a terminal job transition.
func TerminalJobEvent(e Event) (uuid.UUID, bool) {
	switch ev := e.(type) {
	case JobCompleted:
		return ev.JobID, true
	case JobFailed:
		return ev.JobID, true
	case JobCancelled:
		return ev.JobID, true
	}
	return uuid.Nil, false
}
