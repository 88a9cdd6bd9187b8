package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tvoe/cliphub/internal/config"
	"github.com/tvoe/cliphub/internal/store"
)

// DB wraps the database connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	db.Pool.Close()
}

// Health checks database health
func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Store bundles every repository behind the store.Store contract
type Store struct {
	*ClipRepository
	*JobRepository
	*TranscriptRepository
	*AnnotationRepository
}

var _ store.Store = (*Store)(nil)

// NewStore creates repositories sharing one pool
func NewStore(db *DB) *Store {
	return &Store{
		ClipRepository:       NewClipRepository(db),
		JobRepository:        NewJobRepository(db),
		TranscriptRepository: NewTranscriptRepository(db),
		AnnotationRepository: NewAnnotationRepository(db),
	}
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// mapWriteError translates constraint violations into store sentinels.
func mapWriteError(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return store.ErrDuplicate
		case pgForeignKeyViolation:
			return store.ErrNotFound
		}
	}
	return fmt.Errorf("failed to %s: %w", what, err)
}
