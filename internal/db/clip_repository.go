package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/store"
)

const clipColumns = `
	id, owner_id, organization_id, title, description, duration_seconds,
	machine, process, tooling, skill_level, tags, is_public,
	original_filename, file_size_bytes, mime_type,
	original_path, hls_playlist_path, mp4_path, thumbnail_path,
	resolution_width, resolution_height, bitrate,
	status, processing_status, view_count, download_count, bookmark_count,
	created_at, updated_at, published_at, lock_version`

// ClipRepository handles clip persistence
type ClipRepository struct {
	db *DB
}

// NewClipRepository creates a new clip repository
func NewClipRepository(db *DB) *ClipRepository {
	return &ClipRepository{db: db}
}

// CreateClip inserts a new clip
func (r *ClipRepository) CreateClip(ctx context.Context, c *domain.Clip) error {
	query := `
		INSERT INTO clips (` + clipColumns + `)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31
		)
	`

	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err := r.db.Pool.Exec(ctx, query,
		c.ID,
		c.OwnerID,
		c.OrganizationID,
		c.Title,
		c.Description,
		c.DurationSeconds,
		c.Machine,
		c.Process,
		c.Tooling,
		c.SkillLevel,
		tags,
		c.IsPublic,
		c.OriginalFilename,
		c.FileSizeBytes,
		c.MimeType,
		c.OriginalPath,
		c.HLSPlaylistPath,
		c.MP4Path,
		c.ThumbnailPath,
		c.ResolutionWidth,
		c.ResolutionHeight,
		c.Bitrate,
		c.Status,
		c.ProcessingStatus,
		c.ViewCount,
		c.DownloadCount,
		c.BookmarkCount,
		c.CreatedAt,
		c.UpdatedAt,
		c.PublishedAt,
		c.LockVersion,
	)
	if err != nil {
		err = mapWriteError(err, "create clip")
		if errors.Is(err, store.ErrDuplicate) {
			return store.ErrConflict
		}
		return err
	}

	return nil
}

// GetClip retrieves a clip by ID
func (r *ClipRepository) GetClip(ctx context.Context, id uuid.UUID) (*domain.Clip, error) {
	query := `SELECT ` + clipColumns + ` FROM clips WHERE id = $1`
	return scanClip(r.db.Pool.QueryRow(ctx, query, id))
}

// UpdateClip writes mutable fields with optimistic locking.
// Counters are owned by IncrementCounter; published_at is never cleared.
func (r *ClipRepository) UpdateClip(ctx context.Context, c *domain.Clip) error {
	query := `
		UPDATE clips SET
			organization_id = $2,
			title = $3,
			description = $4,
			duration_seconds = $5,
			machine = $6,
			process = $7,
			tooling = $8,
			skill_level = $9,
			tags = $10,
			is_public = $11,
			original_path = $12,
			hls_playlist_path = $13,
			mp4_path = $14,
			thumbnail_path = $15,
			resolution_width = $16,
			resolution_height = $17,
			bitrate = $18,
			status = $19,
			processing_status = $20,
			published_at = COALESCE(published_at, $21),
			updated_at = now(),
			lock_version = lock_version + 1
		WHERE id = $1 AND lock_version = $22
		RETURNING updated_at, published_at, view_count, download_count, bookmark_count
	`

	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}

	err := r.db.Pool.QueryRow(ctx, query,
		c.ID,
		c.OrganizationID,
		c.Title,
		c.Description,
		c.DurationSeconds,
		c.Machine,
		c.Process,
		c.Tooling,
		c.SkillLevel,
		tags,
		c.IsPublic,
		c.OriginalPath,
		c.HLSPlaylistPath,
		c.MP4Path,
		c.ThumbnailPath,
		c.ResolutionWidth,
		c.ResolutionHeight,
		c.Bitrate,
		c.Status,
		c.ProcessingStatus,
		c.PublishedAt,
		c.LockVersion,
	).Scan(&c.UpdatedAt, &c.PublishedAt, &c.ViewCount, &c.DownloadCount, &c.BookmarkCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetClip(ctx, c.ID); errors.Is(getErr, store.ErrNotFound) {
				return store.ErrNotFound
			}
			return store.ErrConflict
		}
		return fmt.Errorf("failed to update clip: %w", err)
	}

	c.LockVersion++
	return nil
}

// ListClips lists clips newest first using keyset pagination
func (r *ClipRepository) ListClips(ctx context.Context, f store.ClipFilter) ([]*domain.Clip, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.OwnerID != nil {
		conds = append(conds, "owner_id = "+arg(*f.OwnerID))
	}
	if f.Status != nil {
		conds = append(conds, "status = "+arg(*f.Status))
	}
	if f.ProcessingStatus != nil {
		conds = append(conds, "processing_status = "+arg(*f.ProcessingStatus))
	}
	if f.Tag != "" {
		conds = append(conds, arg(f.Tag)+" = ANY(tags)")
	}
	if f.AfterCreatedAt != nil && f.AfterID != nil {
		conds = append(conds, fmt.Sprintf("(created_at, id) < (%s, %s)", arg(*f.AfterCreatedAt), arg(*f.AfterID)))
	}

	query := `SELECT ` + clipColumns + ` FROM clips`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list clips: %w", err)
	}
	defer rows.Close()

	var clips []*domain.Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}

	return clips, rows.Err()
}

// DeleteClip deletes a clip; dependent rows go with it via ON DELETE CASCADE
func (r *ClipRepository) DeleteClip(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM clips WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete clip: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// IncrementCounter atomically bumps a counter column
func (r *ClipRepository) IncrementCounter(ctx context.Context, id uuid.UUID, counter domain.Counter, delta int64) (int64, error) {
	if !counter.Valid() {
		return 0, &domain.ValidationError{Field: "counter", Reason: "is unknown"}
	}

	// counter is validated against a closed set above
	query := fmt.Sprintf(`
		UPDATE clips SET %[1]s = %[1]s + $2, updated_at = now()
		WHERE id = $1
		RETURNING %[1]s
	`, string(counter))

	var value int64
	if err := r.db.Pool.QueryRow(ctx, query, id, delta).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("failed to increment %s: %w", counter, err)
	}
	return value, nil
}

func scanClip(row pgx.Row) (*domain.Clip, error) {
	var c domain.Clip

	err := row.Scan(
		&c.ID,
		&c.OwnerID,
		&c.OrganizationID,
		&c.Title,
		&c.Description,
		&c.DurationSeconds,
		&c.Machine,
		&c.Process,
		&c.Tooling,
		&c.SkillLevel,
		&c.Tags,
		&c.IsPublic,
		&c.OriginalFilename,
		&c.FileSizeBytes,
		&c.MimeType,
		&c.OriginalPath,
		&c.HLSPlaylistPath,
		&c.MP4Path,
		&c.ThumbnailPath,
		&c.ResolutionWidth,
		&c.ResolutionHeight,
		&c.Bitrate,
		&c.Status,
		&c.ProcessingStatus,
		&c.ViewCount,
		&c.DownloadCount,
		&c.BookmarkCount,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.PublishedAt,
		&c.LockVersion,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan clip: %w", err)
	}

	return &c, nil
}
