package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tvoe/cliphub/internal/domain"
)

// AnnotationRepository handles annotation and bookmark persistence
type AnnotationRepository struct {
	db *DB
}

// NewAnnotationRepository creates a new annotation repository
func NewAnnotationRepository(db *DB) *AnnotationRepository {
	return &AnnotationRepository{db: db}
}

// CreateAnnotation creates a new annotation
func (r *AnnotationRepository) CreateAnnotation(ctx context.Context, a *domain.Annotation) error {
	query := `
		INSERT INTO annotations (id, clip_id, author_id, start_seconds, end_seconds, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		a.ID,
		a.ClipID,
		a.AuthorID,
		a.StartSeconds,
		a.EndSeconds,
		a.Body,
		a.CreatedAt,
	)
	if err != nil {
		return mapWriteError(err, "create annotation")
	}

	return nil
}

// ListAnnotations retrieves annotations for a clip ordered by start time
func (r *AnnotationRepository) ListAnnotations(ctx context.Context, clipID uuid.UUID) ([]*domain.Annotation, error) {
	query := `
		SELECT id, clip_id, author_id, start_seconds, end_seconds, body, created_at
		FROM annotations
		WHERE clip_id = $1
		ORDER BY start_seconds ASC, created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, clipID)
	if err != nil {
		return nil, fmt.Errorf("failed to list annotations: %w", err)
	}
	defer rows.Close()

	annotations := []*domain.Annotation{}
	for rows.Next() {
		var a domain.Annotation
		if err := rows.Scan(
			&a.ID,
			&a.ClipID,
			&a.AuthorID,
			&a.StartSeconds,
			&a.EndSeconds,
			&a.Body,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		annotations = append(annotations, &a)
	}

	return annotations, rows.Err()
}

// CreateBookmark creates a new bookmark
func (r *AnnotationRepository) CreateBookmark(ctx context.Context, b *domain.Bookmark) error {
	query := `
		INSERT INTO bookmarks (id, clip_id, user_id, timestamp_seconds, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		b.ID,
		b.ClipID,
		b.UserID,
		b.TimestampSeconds,
		b.Note,
		b.CreatedAt,
	)
	if err != nil {
		return mapWriteError(err, "create bookmark")
	}

	return nil
}

// ListBookmarks retrieves bookmarks for a clip
func (r *AnnotationRepository) ListBookmarks(ctx context.Context, clipID uuid.UUID) ([]*domain.Bookmark, error) {
	query := `
		SELECT id, clip_id, user_id, timestamp_seconds, note, created_at
		FROM bookmarks
		WHERE clip_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, clipID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	defer rows.Close()

	bookmarks := []*domain.Bookmark{}
	for rows.Next() {
		var b domain.Bookmark
		if err := rows.Scan(
			&b.ID,
			&b.ClipID,
			&b.UserID,
			&b.TimestampSeconds,
			&b.Note,
			&b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bookmark: %w", err)
		}
		bookmarks = append(bookmarks, &b)
	}

	return bookmarks, rows.Err()
}
