package primary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"pipejob/internal/models"
	"pipejob/internal/store"
)

// --- Status Store Implementation ---

const statusColumns = `job_guid, parent_guid, job_type, provider, container, user_name, status, info, active_task, log_file, created_at, updated_at`

// CreateStatus inserts a status record. A record left by an earlier run of the
// same job is replaced.
func (s *StoreImpl) CreateStatus(ctx context.Context, rec *models.StatusRecord) error {
	query := `
		INSERT INTO pipeline_status (` + statusColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (job_guid) DO UPDATE
		SET status = EXCLUDED.status,
		    info = EXCLUDED.info,
		    active_task = EXCLUDED.active_task,
		    log_file = EXCLUDED.log_file,
		    updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	_, err := s.db.Exec(ctx, query,
		rec.JobGUID, rec.ParentGUID, rec.JobType, rec.Provider, rec.Container, rec.User,
		rec.Status, rec.Info, rec.ActiveTask, rec.LogFile, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create status for job %s: %w", rec.JobGUID, err)
	}
	return nil
}

// UpdateStatus overwrites the mutable fields of an existing status record.
func (s *StoreImpl) UpdateStatus(ctx context.Context, rec *models.StatusRecord) error {
	query := `
		UPDATE pipeline_status
		SET status = $1, info = $2, active_task = $3, log_file = $4, updated_at = $5
		WHERE job_guid = $6`

	rec.UpdatedAt = time.Now().UTC()
	cmdTag, err := s.db.Exec(ctx, query, rec.Status, rec.Info, rec.ActiveTask, rec.LogFile, rec.UpdatedAt, rec.JobGUID)
	if err != nil {
		return fmt.Errorf("failed to update status for job %s: %w", rec.JobGUID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("status for job %s: %w", rec.JobGUID, store.ErrNotFound)
	}
	return nil
}

// UpdateStatusUnless updates the record unless its status is keep.
func (s *StoreImpl) UpdateStatusUnless(ctx context.Context, rec *models.StatusRecord, keep string) (bool, error) {
	query := `
		UPDATE pipeline_status
		SET status = $1, info = $2, active_task = $3, log_file = $4, updated_at = $5
		WHERE job_guid = $6 AND status <> $7`

	updatedAt := time.Now().UTC()
	cmdTag, err := s.db.Exec(ctx, query, rec.Status, rec.Info, rec.ActiveTask, rec.LogFile, updatedAt, rec.JobGUID, keep)
	if err != nil {
		return false, fmt.Errorf("failed to update status for job %s: %w", rec.JobGUID, err)
	}
	if cmdTag.RowsAffected() > 0 {
		rec.UpdatedAt = updatedAt
		return true, nil
	}
	if _, err := s.GetStatus(ctx, rec.JobGUID); err != nil {
		return false, err
	}
	return false, nil
}

// GetStatus retrieves the status record of a job.
func (s *StoreImpl) GetStatus(ctx context.Context, jobGUID string) (*models.StatusRecord, error) {
	query := `SELECT ` + statusColumns + ` FROM pipeline_status WHERE job_guid = $1`
	rec, err := scanStatus(s.db.QueryRow(ctx, query, jobGUID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("status for job %s: %w", jobGUID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get status for job %s: %w", jobGUID, err)
	}
	return rec, nil
}

// GetStatusByLogFile retrieves the status record of the job writing logFile.
func (s *StoreImpl) GetStatusByLogFile(ctx context.Context, logFile string) (*models.StatusRecord, error) {
	query := `SELECT ` + statusColumns + ` FROM pipeline_status WHERE log_file = $1 ORDER BY created_at DESC LIMIT 1`
	rec, err := scanStatus(s.db.QueryRow(ctx, query, logFile))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("status for log file %s: %w", logFile, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get status for log file %s: %w", logFile, err)
	}
	return rec, nil
}

// ListStatuses retrieves status records matching filter, newest first.
func (s *StoreImpl) ListStatuses(ctx context.Context, filter models.StatusFilter) ([]*models.StatusRecord, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Container != "" {
		add("container = $%d", filter.Container)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.ParentGUID != "" {
		add("parent_guid = $%d", filter.ParentGUID)
	}

	query := `SELECT ` + statusColumns + ` FROM pipeline_status`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, job_guid LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status rows: %w", err)
	}
	return out, nil
}

// DeleteStatus removes a job's status record. A job still running notices the
// next time it writes its status.
func (s *StoreImpl) DeleteStatus(ctx context.Context, jobGUID string) error {
	cmdTag, err := s.db.Exec(ctx, `DELETE FROM pipeline_status WHERE job_guid = $1`, jobGUID)
	if err != nil {
		return fmt.Errorf("failed to delete status for job %s: %w", jobGUID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("status for job %s: %w", jobGUID, store.ErrNotFound)
	}
	return nil
}

func scanStatus(row pgx.Row) (*models.StatusRecord, error) {
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
