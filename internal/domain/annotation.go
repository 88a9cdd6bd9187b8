package domain

import (
	"time"

	"github.com/google/uuid"
)

// Annotation is a time-ranged note attached to a clip
type Annotation struct {
	ID           uuid.UUID `json:"id"`
	ClipID       uuid.UUID `json:"clip_id"`
	AuthorID     uuid.UUID `json:"author_id"`
	StartSeconds float64   `json:"start_seconds"`
	EndSeconds   float64   `json:"end_seconds"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewAnnotation validates the range and builds an annotation.
func NewAnnotation(clipID, authorID uuid.UUID, start, end float64, body string) (*Annotation, error) {
	if start < 0 {
		return nil, &ValidationError{Field: "start_seconds", Reason: "must not be negative"}
	}
	if end <= start {
		return nil, &ValidationError{Field: "end_seconds", Reason: "must be greater than start_seconds"}
	}
	if body == "" {
		return nil, &ValidationError{Field: "body", Reason: "is required"}
	}
	return &Annotation{
		ID:           uuid.New(),
		ClipID:       clipID,
		AuthorID:     authorID,
		StartSeconds: start,
		EndSeconds:   end,
		Body:         body,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Bookmark is a user's saved reference to a clip
type Bookmark struct {
	ID               uuid.UUID `json:"id"`
	ClipID           uuid.UUID `json:"clip_id"`
	UserID           uuid.UUID `json:"user_id"`
	TimestampSeconds *float64  `json:"timestamp_seconds,omitempty"`
	Note             *string   `json:"note,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewBookmark validates the optional timestamp and builds a bookmark.
func NewBookmark(clipID, userID uuid.UUID, ts *float64, note *string) (*Bookmark, error) {
	if ts != nil && *ts < 0 {
		return nil, &ValidationError{Field: "timestamp_seconds", Reason: "must not be negative"}
	}
	return &Bookmark{
		ID:               uuid.New(),
		ClipID:           clipID,
		UserID:           userID,
		TimestampSeconds: ts,
		Note:             note,
		CreatedAt:        time.Now().UTC(),
	}, nil
}
