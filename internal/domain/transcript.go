package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transcript is the text produced by a transcription job
type Transcript struct {
	ID        uuid.UUID           `json:"id"`
	ClipID    uuid.UUID           `json:"clip_id"`
	JobID     uuid.UUID           `json:"job_id"`
	Language  string              `json:"language"`
	FullText  string              `json:"full_text"`
	Segments  []TranscriptSegment `json:"segments"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// TranscriptSegment is one timed piece of a transcript
type TranscriptSegment struct {
	ID           uuid.UUID `json:"id"`
	TranscriptID uuid.UUID `json:"transcript_id"`
	Position     int       `json:"position"`
	StartSeconds float64   `json:"start_seconds"`
	EndSeconds   float64   `json:"end_seconds"`
	Text         string    `json:"text"`
	Confidence   *float64  `json:"confidence,omitempty"`
	Edited       bool      `json:"edited"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TranscriptOutput is the transcript payload reported with a completed transcription job
type TranscriptOutput struct {
	Language string         `json:"language"`
	FullText string         `json:"full_text"`
	Segments []SegmentInput `json:"segments"`
}

// SegmentInput carries caller-supplied segment values
type SegmentInput struct {
	StartSeconds float64  `json:"start_seconds"`
	EndSeconds   float64  `json:"end_seconds"`
	Text         string   `json:"text"`
	Confidence   *float64 `json:"confidence,omitempty"`
}

// Validate checks the time range and confidence bounds.
func (s SegmentInput) Validate(field string) error {
	if s.StartSeconds < 0 {
		return &ValidationError{Field: field + ".start_seconds", Reason: "must not be negative"}
	}
	if s.EndSeconds <= s.StartSeconds {
		return &ValidationError{Field: field + ".end_seconds", Reason: "must be greater than start_seconds"}
	}
	if s.Confidence != nil && (*s.Confidence < 0 || *s.Confidence > 1) {
		return &ValidationError{Field: field + ".confidence", Reason: "must be between 0 and 1"}
	}
	return nil
}

// NewTranscript builds a transcript from a reported output, validating every segment.
func NewTranscript(clipID, jobID uuid.UUID, out TranscriptOutput) (*Transcript, error) {
	now := time.Now().UTC()
	t := &Transcript{
		ID:        uuid.New(),
		ClipID:    clipID,
		JobID:     jobID,
		Language:  out.Language,
		FullText:  out.FullText,
		Segments:  make([]TranscriptSegment, 0, len(out.Segments)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, in := range out.Segments {
		if err := in.Validate("segments"); err != nil {
			return nil, err
		}
		t.Segments = append(t.Segments, TranscriptSegment{
			ID:           uuid.New(),
			TranscriptID: t.ID,
			Position:     i,
			StartSeconds: in.StartSeconds,
			EndSeconds:   in.EndSeconds,
			Text:         in.Text,
			Confidence:   in.Confidence,
			UpdatedAt:    now,
		})
	}
	return t, nil
}
