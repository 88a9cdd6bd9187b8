package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValidationError reports an input field that failed validation
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// StateTransitionError is returned when a job transition is not permitted
type StateTransitionError struct {
	JobID uuid.UUID
	From  JobStatus
	To    JobStatus
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid transition %s -> %s", e.JobID, e.From, e.To)
}

// LifecycleTransitionError is returned when a clip lifecycle change is not permitted
type LifecycleTransitionError struct {
	ClipID uuid.UUID
	From   LifecycleStatus
	To     LifecycleStatus
}

func (e *LifecycleTransitionError) Error() string {
	return fmt.Sprintf("clip %s: invalid lifecycle transition %s -> %s", e.ClipID, e.From, e.To)
}

// UnmetReason explains why a required job type blocks publication
type UnmetReason string

const (
	UnmetMissing   UnmetReason = "missing"
	UnmetFailed    UnmetReason = "failed"
	UnmetCancelled UnmetReason = "cancelled"
	UnmetQueued    UnmetReason = "queued"
	UnmetRunning   UnmetReason = "running"
)

// UnmetRequirement names one required job type that has not completed
type UnmetRequirement struct {
	JobType JobType     `json:"job_type"`
	Reason  UnmetReason `json:"reason"`
}

// NotReadyError is returned when a clip cannot be published yet
type NotReadyError struct {
	ClipID uuid.UUID
	Unmet  []UnmetRequirement
}

func (e *NotReadyError) Error() string {
	parts := make([]string, 0, len(e.Unmet))
	for _, u := range e.Unmet {
		parts = append(parts, fmt.Sprintf("%s=%s", u.JobType, u.Reason))
	}
	return fmt.Sprintf("clip %s not ready: %s", e.ClipID, strings.Join(parts, ", "))
}

// PollTimeoutError is returned when a watch exceeds its maximum wait
type PollTimeoutError struct {
	JobID  uuid.UUID
	Waited time.Duration
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("job %s: no terminal status after %s", e.JobID, e.Waited)
}

// TransportError wraps a fetch failure that persisted after retries
type TransportError struct {
	JobID    uuid.UUID
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("job %s: transport failed after %d attempts: %v", e.JobID, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
