// Package local implements store.Store on SQLite for single-node runs.
package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"pipejob/internal/models"
	"pipejob/internal/store"
)

// StoreImpl implements store.Store using SQLite.
type StoreImpl struct {
	db *sql.DB
	// arrive serializes join arrivals; a local store serves one process.
	arrive sync.Mutex
}

var _ store.Store = (*StoreImpl)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_jobs (
	job_guid     TEXT PRIMARY KEY,
	parent_guid  TEXT NOT NULL DEFAULT '',
	job_xml      TEXT NOT NULL,
	split_count  INTEGER NOT NULL DEFAULT 0,
	updated_at   DATETIME NOT NULL
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
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS pipeline_status_log_file_idx ON pipeline_status (log_file);

CREATE TABLE IF NOT EXISTS pipeline_dispatches (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id     TEXT NOT NULL UNIQUE,
	job_guid    TEXT NOT NULL,
	task_type   TEXT NOT NULL,
	queue       TEXT NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_join_arrivals (
	parent_guid  TEXT NOT NULL,
	child_guid   TEXT NOT NULL,
	PRIMARY KEY (parent_guid, child_guid)
);

CREATE TABLE IF NOT EXISTS pipeline_joins (
	parent_guid  TEXT PRIMARY KEY
);
`

// NewLocalStore opens the SQLite database at path, creating the pipeline
// tables if they are missing. ":memory:" gives a private in-memory database.
func NewLocalStore(path string) (*StoreImpl, error) {
	if path == "" {
		return nil, errors.New("database path cannot be empty")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// Every connection to :memory: is a separate database, and SQLite allows a
	// single writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create pipeline schema: %w", err)
	}
	log.Debugf("Opened local pipeline store at %s", path)
	return &StoreImpl{db: db}, nil
}

// Ping checks the database connection.
func (s *StoreImpl) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *StoreImpl) Close() error {
	return s.db.Close()
}

// --- Checkpoint Store Implementation ---

func (s *StoreImpl) SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	query := `
		INSERT INTO pipeline_jobs (job_guid, parent_guid, job_xml, split_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (job_guid) DO UPDATE
		SET parent_guid = excluded.parent_guid,
		    job_xml = excluded.job_xml,
		    split_count = excluded.split_count,
		    updated_at = excluded.updated_at`

	cp.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query, cp.JobGUID, cp.ParentGUID, string(cp.Data), cp.SplitCount, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for job %s: %w", cp.JobGUID, err)
	}
	return nil
}

func (s *StoreImpl) GetCheckpoint(ctx context.Context, jobGUID string) (*models.Checkpoint, error) {
	query := `SELECT job_guid, parent_guid, job_xml, split_count, updated_at FROM pipeline_jobs WHERE job_guid = ?`
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, jobGUID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("checkpoint for job %s: %w", jobGUID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get checkpoint for job %s: %w", jobGUID, err)
	}
	return cp, nil
}

func (s *StoreImpl) ListChildren(ctx context.Context, parentGUID string) ([]*models.Checkpoint, error) {
	query := `
		SELECT job_guid, parent_guid, job_xml, split_count, updated_at
		FROM pipeline_jobs WHERE parent_guid = ?
		ORDER BY job_guid`

	rows, err := s.db.QueryContext(ctx, query, parentGUID)
	if err != nil {
		return nil, fmt.Errorf("failed to query children of job %s: %w", parentGUID, err)
	}
	defer rows.Close()

	var out []*models.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan child checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *StoreImpl) DeleteCheckpoint(ctx context.Context, jobGUID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM pipeline_jobs WHERE job_guid = ? OR parent_guid = ?`, jobGUID, jobGUID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint for job %s: %w", jobGUID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("checkpoint for job %s: %w", jobGUID, store.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_join_arrivals WHERE parent_guid = ?`, jobGUID); err != nil {
		return fmt.Errorf("failed to delete join arrivals for job %s: %w", jobGUID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_joins WHERE parent_guid = ?`, jobGUID); err != nil {
		return fmt.Errorf("failed to delete join for job %s: %w", jobGUID, err)
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*models.Checkpoint, error) {
	var (
		cp   models.Checkpoint
		data string
	)
	if err := row.Scan(&cp.JobGUID, &cp.ParentGUID, &data, &cp.SplitCount, &cp.UpdatedAt); err != nil {
		return nil, err
	}
	cp.Data = []byte(data)
	return &cp, nil
}

// --- Status Store Implementation ---

const statusColumns = `job_guid, parent_guid, job_type, provider, container, user_name, status, info, active_task, log_file, created_at, updated_at`

func (s *StoreImpl) CreateStatus(ctx context.Context, rec *models.StatusRecord) error {
	query := `
		INSERT INTO pipeline_status (` + statusColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_guid) DO UPDATE
		SET status = excluded.status,
		    info = excluded.info,
		    active_task = excluded.active_task,
		    log_file = excluded.log_file,
		    updated_at = excluded.updated_at`

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, query,
		rec.JobGUID, rec.ParentGUID, rec.JobType, rec.Provider, rec.Container, rec.User,
		rec.Status, rec.Info, rec.ActiveTask, rec.LogFile, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create status for job %s: %w", rec.JobGUID, err)
	}
	return nil
}

func (s *StoreImpl) UpdateStatus(ctx context.Context, rec *models.StatusRecord) error {
	query := `
		UPDATE pipeline_status
		SET status = ?, info = ?, active_task = ?, log_file = ?, updated_at = ?
		WHERE job_guid = ?`

	rec.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, query, rec.Status, rec.Info, rec.ActiveTask, rec.LogFile, rec.UpdatedAt, rec.JobGUID)
	if err != nil {
		return fmt.Errorf("failed to update status for job %s: %w", rec.JobGUID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("status for job %s: %w", rec.JobGUID, store.ErrNotFound)
	}
	return nil
}

// UpdateStatusUnless updates the record unless its status is keep. The check
// and the write are one statement, so a concurrent CANCELLED is never lost.
func (s *StoreImpl) UpdateStatusUnless(ctx context.Context, rec *models.StatusRecord, keep string) (bool, error) {
	query := `
		UPDATE pipeline_status
		SET status = ?, info = ?, active_task = ?, log_file = ?, updated_at = ?
		WHERE job_guid = ? AND status <> ?`

	updatedAt := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, query, rec.Status, rec.Info, rec.ActiveTask, rec.LogFile, updatedAt, rec.JobGUID, keep)
	if err != nil {
		return false, fmt.Errorf("failed to update status for job %s: %w", rec.JobGUID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		rec.UpdatedAt = updatedAt
		return true, nil
	}
	if _, err := s.GetStatus(ctx, rec.JobGUID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *StoreImpl) GetStatus(ctx context.Context, jobGUID string) (*models.StatusRecord, error) {
	query := `SELECT ` + statusColumns + ` FROM pipeline_status WHERE job_guid = ?`
	rec, err := scanStatus(s.db.QueryRowContext(ctx, query, jobGUID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("status for job %s: %w", jobGUID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get status for job %s: %w", jobGUID, err)
	}
	return rec, nil
}

func (s *StoreImpl) GetStatusByLogFile(ctx context.Context, logFile string) (*models.StatusRecord, error) {
	query := `SELECT ` + statusColumns + ` FROM pipeline_status WHERE log_file = ? ORDER BY created_at DESC LIMIT 1`
	rec, err := scanStatus(s.db.QueryRowContext(ctx, query, logFile))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("status for log file %s: %w", logFile, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get status for log file %s: %w", logFile, err)
	}
	return rec, nil
}

func (s *StoreImpl) ListStatuses(ctx context.Context, filter models.StatusFilter) ([]*models.StatusRecord, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Container != "" {
		conds = append(conds, "container = ?")
		args = append(args, filter.Container)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ParentGUID != "" {
		conds = append(conds, "parent_guid = ?")
		args = append(args, filter.ParentGUID)
	}

	query := `SELECT ` + statusColumns + ` FROM pipeline_status`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC, job_guid LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query statuses: %w", err)
	}
	defer rows.Close()

	var out []*models.StatusRecord
	for rows.Next() {
		rec, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *StoreImpl) DeleteStatus(ctx context.Context, jobGUID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pipeline_status WHERE job_guid = ?`, jobGUID)
	if err != nil {
		return fmt.Errorf("failed to delete status for job %s: %w", jobGUID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("status for job %s: %w", jobGUID, store.ErrNotFound)
	}
	return nil
}

func scanStatus(row scanner) (*models.StatusRecord, error) {
	var rec models.StatusRecord
	err := row.Scan(
		&rec.JobGUID, &rec.ParentGUID, &rec.JobType, &rec.Provider, &rec.Container, &rec.User,
		&rec.Status, &rec.Info, &rec.ActiveTask, &rec.LogFile, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// --- Dispatch Log Implementation ---

func (s *StoreImpl) RecordDispatch(ctx context.Context, d *models.Dispatch) error {
	query := `
		INSERT INTO pipeline_dispatches (task_id, job_guid, task_type, queue, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (task_id) DO NOTHING`

	d.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, query, d.TaskID, d.JobGUID, d.TaskType, d.Queue, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record dispatch %s for job %s: %w", d.TaskID, d.JobGUID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Debugf("Dispatch %s already recorded, skipping insertion.", d.TaskID)
		return nil
	}
	d.ID, _ = res.LastInsertId()
	return nil
}

func (s *StoreImpl) ListDispatches(ctx context.Context, jobGUID string) ([]*models.Dispatch, error) {
	query := `
		SELECT id, task_id, job_guid, task_type, queue, created_at
		FROM pipeline_dispatches WHERE job_guid = ?
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, jobGUID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatches for job %s: %w", jobGUID, err)
	}
	defer rows.Close()

	var out []*models.Dispatch
	for rows.Next() {
		d := &models.Dispatch{}
		if err := rows.Scan(&d.ID, &d.TaskID, &d.JobGUID, &d.TaskType, &d.Queue, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dispatch row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Join Barrier Implementation ---

func (s *StoreImpl) Arrive(ctx context.Context, parentGUID, childGUID string, expected int) (bool, error) {
	s.arrive.Lock()
	defer s.arrive.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO pipeline_join_arrivals (parent_guid, child_guid) VALUES (?, ?)`, parentGUID, childGUID)
	if err != nil {
		return false, fmt.Errorf("failed to record arrival of job %s: %w", childGUID, err)
	}

	var arrived int
	err = tx.QueryRowContext(ctx, `SELECT count(*) FROM pipeline_join_arrivals WHERE parent_guid = ?`, parentGUID).Scan(&arrived)
	if err != nil {
		return false, fmt.Errorf("failed to count arrivals for job %s: %w", parentGUID, err)
	}

	fired := false
	if arrived >= expected {
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO pipeline_joins (parent_guid) VALUES (?)`, parentGUID)
		if err != nil {
			return false, fmt.Errorf("failed to fire join for job %s: %w", parentGUID, err)
		}
		n, _ := res.RowsAffected()
		fired = n == 1
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit join arrival: %w", err)
	}
	return fired, nil
}
