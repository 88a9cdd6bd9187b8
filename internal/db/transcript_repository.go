package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/store"
)

// TranscriptRepository handles transcript persistence
type TranscriptRepository struct {
	db *DB
}

// NewTranscriptRepository creates a new transcript repository
func NewTranscriptRepository(db *DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// SaveTranscript replaces the clip's transcript and its segments in one transaction
func (r *TranscriptRepository) SaveTranscript(ctx context.Context, t *domain.Transcript) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM transcripts WHERE clip_id = $1`, t.ClipID); err != nil {
		return fmt.Errorf("failed to replace transcript: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO transcripts (id, clip_id, job_id, language, full_text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.ClipID, t.JobID, t.Language, t.FullText, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return mapWriteError(err, "create transcript")
	}

	segQuery := `
		INSERT INTO transcript_segments (
			id, transcript_id, position, start_seconds, end_seconds, text, confidence, edited, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, s := range t.Segments {
		_, err := tx.Exec(ctx, segQuery,
			s.ID,
			t.ID,
			s.Position,
			s.StartSeconds,
			s.EndSeconds,
			s.Text,
			s.Confidence,
			s.Edited,
			s.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create segment: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetTranscriptByClip retrieves the transcript of a clip with ordered segments
func (r *TranscriptRepository) GetTranscriptByClip(ctx context.Context, clipID uuid.UUID) (*domain.Transcript, error) {
	var t domain.Transcript
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, clip_id, job_id, language, full_text, created_at, updated_at
		FROM transcripts WHERE clip_id = $1
	`, clipID).Scan(&t.ID, &t.ClipID, &t.JobID, &t.Language, &t.FullText, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, transcript_id, position, start_seconds, end_seconds, text, confidence, edited, updated_at
		FROM transcript_segments
		WHERE transcript_id = $1
		ORDER BY position ASC
	`, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	t.Segments = []domain.TranscriptSegment{}
	for rows.Next() {
		var s domain.TranscriptSegment
		if err := rows.Scan(
			&s.ID,
			&s.TranscriptID,
			&s.Position,
			&s.StartSeconds,
			&s.EndSeconds,
			&s.Text,
			&s.Confidence,
			&s.Edited,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		t.Segments = append(t.Segments, s)
	}

	return &t, rows.Err()
}

// UpdateSegment writes an edited segment
func (r *TranscriptRepository) UpdateSegment(ctx context.Context, s *domain.TranscriptSegment) error {
	result, err := r.db.Pool.Exec(ctx, `
		UPDATE transcript_segments SET
			start_seconds = $3,
			end_seconds = $4,
			text = $5,
			confidence = $6,
			edited = $7,
			updated_at = now()
		WHERE id = $1 AND transcript_id = $2
	`, s.ID, s.TranscriptID, s.StartSeconds, s.EndSeconds, s.Text, s.Confidence, s.Edited)
	if err != nil {
		return fmt.Errorf("failed to update segment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	_, err = r.db.Pool.Exec(ctx, `UPDATE transcripts SET updated_at = now() WHERE id = $1`, s.TranscriptID)
	if err != nil {
		return fmt.Errorf("failed to touch transcript: %w", err)
	}
	return nil
}
