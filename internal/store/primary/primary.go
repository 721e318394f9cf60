package primary

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"pipejob/internal/store"
)

// StoreImpl implements store.Store using PostgreSQL.
type StoreImpl struct {
	db *pgxpool.Pool
}

var _ store.Store = (*StoreImpl)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_jobs (
	job_guid     TEXT PRIMARY KEY,
	parent_guid  TEXT NOT NULL DEFAULT '',
	job_xml      TEXT NOT NULL,
	split_count  INTEGER NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS pipeline_jobs_parent_idx ON pipeline_jobs (parent_guid);

CREATE TABLE IF NOT EXISTS pipeline_status (
	job_guid     TEXT PRIMARY KEY,
	parent_guid  TEXT NOT NULL DEFAULT '',
	job_type     TEXT NOT NULL,
	provider     TEXT NOT NULL DEFAULT '',
	container    TEXT NOT NULL DEFAULT '',
	user_name    TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	info         TEXT NOT NULL DEFAULT '',
	active_task  TEXT NOT NULL DEFAULT '',
	log_file     TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS pipeline_status_container_idx ON pipeline_status (container);
CREATE INDEX IF NOT EXISTS pipeline_status_log_file_idx ON pipeline_status (log_file);

CREATE TABLE IF NOT EXISTS pipeline_dispatches (
	id          BIGSERIAL PRIMARY KEY,
	task_id     TEXT NOT NULL UNIQUE,
	job_guid    TEXT NOT NULL,
	task_type   TEXT NOT NULL,
	queue       TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS pipeline_dispatches_job_idx ON pipeline_dispatches (job_guid);

CREATE TABLE IF NOT EXISTS pipeline_join_arrivals (
	parent_guid  TEXT NOT NULL,
	child_guid   TEXT NOT NULL,
	PRIMARY KEY (parent_guid, child_guid)
);

CREATE TABLE IF NOT EXISTS pipeline_joins (
	parent_guid  TEXT PRIMARY KEY,
	fired_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// NewPrimaryStore connects to PostgreSQL and creates the pipeline tables if
// they are missing.
func NewPrimaryStore(ctx context.Context, dsn string) (*StoreImpl, error) {
	if dsn == "" {
		return nil, errors.New("database DSN cannot be empty")
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database DSN: %w", err)
	}

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &StoreImpl{db: dbpool}
	if err := s.EnsureSchema(ctx); err != nil {
		dbpool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the pipeline tables and indexes.
func (s *StoreImpl) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create pipeline schema: %w", err)
	}
	log.Debug("Pipeline schema is in place")
	return nil
}

// Ping checks the database connection.
func (s *StoreImpl) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection pool.
func (s *StoreImpl) Close() error {
	s.db.Close()
	return nil
}
