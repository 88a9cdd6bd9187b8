package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/store"
)

const jobColumns = `
	id, clip_id, job_type, status, progress_percentage, error_message,
	source_key, attempt, external_job_id, processing_service, outputs,
	created_at, updated_at, started_at, completed_at, estimated_completion,
	lock_version`

// JobRepository handles processing job persistence
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateJob inserts a job; the partial unique index rejects a second active job per type
func (r *JobRepository) CreateJob(ctx context.Context, job *domain.ProcessingJob) error {
	outputsJSON, err := marshalOutputs(job.Outputs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO processing_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = r.db.Pool.Exec(ctx, query,
		job.ID,
		job.ClipID,
		job.JobType,
		job.Status,
		job.ProgressPercentage,
		job.ErrorMessage,
		job.SourceKey,
		job.Attempt,
		job.ExternalJobID,
		job.ProcessingService,
		outputsJSON,
		job.CreatedAt,
		job.UpdatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.EstimatedCompletion,
		job.LockVersion,
	)
	if err != nil {
		return mapWriteError(err, "create job")
	}

	return nil
}

// GetJob retrieves a job by ID
func (r *JobRepository) GetJob(ctx context.Context, id uuid.UUID) (*domain.ProcessingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE id = $1`
	return scanJob(r.db.Pool.QueryRow(ctx, query, id))
}

// ListJobsByClip lists every job of a clip in creation order
func (r *JobRepository) ListJobsByClip(ctx context.Context, clipID uuid.UUID) ([]*domain.ProcessingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE clip_id = $1 ORDER BY created_at ASC`

	rows, err := r.db.Pool.Query(ctx, query, clipID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// UpdateJob writes the job if its stored status and lock version are unchanged
func (r *JobRepository) UpdateJob(ctx context.Context, job *domain.ProcessingJob, expected domain.JobStatus) error {
	outputsJSON, err := marshalOutputs(job.Outputs)
	if err != nil {
		return err
	}

	query := `
		UPDATE processing_jobs SET
			status = $2,
			progress_percentage = $3,
			error_message = $4,
			external_job_id = $5,
			processing_service = $6,
			outputs = $7,
			started_at = $8,
			completed_at = $9,
			estimated_completion = $10,
			updated_at = now(),
			lock_version = lock_version + 1
		WHERE id = $1 AND status = $11 AND lock_version = $12
		RETURNING updated_at
	`

	err = r.db.Pool.QueryRow(ctx, query,
		job.ID,
		job.Status,
		job.ProgressPercentage,
		job.ErrorMessage,
		job.ExternalJobID,
		job.ProcessingService,
		outputsJSON,
		job.StartedAt,
		job.CompletedAt,
		job.EstimatedCompletion,
		expected,
		job.LockVersion,
	).Scan(&job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetJob(ctx, job.ID); errors.Is(getErr, store.ErrNotFound) {
				return store.ErrNotFound
			}
			return store.ErrConflict
		}
		return mapWriteError(err, "update job")
	}

	job.LockVersion++
	return nil
}

// CountJobsByStatus counts jobs by status
func (r *JobRepository) CountJobsByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM processing_jobs GROUP BY status`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status domain.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = count
	}

	return counts, rows.Err()
}

func scanJob(row pgx.Row) (*domain.ProcessingJob, error) {
	var job domain.ProcessingJob
	var outputsJSON []byte

	err := row.Scan(
		&job.ID,
		&job.ClipID,
		&job.JobType,
		&job.Status,
		&job.ProgressPercentage,
		&job.ErrorMessage,
		&job.SourceKey,
		&job.Attempt,
		&job.ExternalJobID,
		&job.ProcessingService,
		&outputsJSON,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.EstimatedCompletion,
		&job.LockVersion,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	if len(outputsJSON) > 0 {
		var out domain.JobOutputs
		if err := json.Unmarshal(outputsJSON, &out); err != nil {
			return nil, fmt.Errorf("failed to unmarshal outputs: %w", err)
		}
		job.Outputs = &out
	}

	return &job, nil
}

func marshalOutputs(o *domain.JobOutputs) ([]byte, error) {
	if o == nil {
		return nil, nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outputs: %w", err)
	}
	return b, nil
}
