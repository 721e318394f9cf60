package primary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"

	"pipejob/internal/models"
)

// --- Dispatch Log Implementation ---

// RecordDispatch inserts a record into the pipeline_dispatches table.
func (s *StoreImpl) RecordDispatch(ctx context.Context, d *models.Dispatch) error {
	query := `
		INSERT INTO pipeline_dispatches (task_id, job_guid, task_type, queue, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_id) DO NOTHING -- the same asynq task may be recorded twice on client retry
		RETURNING id`

	d.CreatedAt = time.Now().UTC()
	err := s.db.QueryRow(ctx, query, d.TaskID, d.JobGUID, d.TaskType, d.Queue, d.CreatedAt).Scan(&d.ID)
	if err != nil {
		// ON CONFLICT DO NOTHING inserts no row, so Scan reports ErrNoRows.
		if errors.Is(err, pgx.ErrNoRows) {
			log.Debugf("Dispatch %s already recorded, skipping insertion.", d.TaskID)
			return nil
		}
		return fmt.Errorf("failed to record dispatch %s for job %s: %w", d.TaskID, d.JobGUID, err)
	}
	return nil
}

// ListDispatches retrieves the dispatch history of a job, oldest first.
func (s *StoreImpl) ListDispatches(ctx context.Context, jobGUID string) ([]*models.Dispatch, error) {
	query := `
		SELECT id, task_id, job_guid, task_type, queue, created_at
		FROM pipeline_dispatches WHERE job_guid = $1
		ORDER BY id`

	rows, err := s.db.Query(ctx, query, jobGUID)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dispatch rows: %w", err)
	}
	return out, nil
}

// --- Join Barrier Implementation ---

// Arrive records a child's arrival at its parent's join. Arrivals for one
// parent are serialized by locking the parent's checkpoint row, so exactly one
// caller sees the count reach expected and fires the join.
func (s *StoreImpl) Arrive(ctx context.Context, parentGUID, childGUID string, expected int) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked string
	err = tx.QueryRow(ctx, `SELECT job_guid FROM pipeline_jobs WHERE job_guid = $1 FOR UPDATE`, parentGUID).Scan(&locked)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("failed to lock parent job %s: %w", parentGUID, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO pipeline_join_arrivals (parent_guid, child_guid) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, parentGUID, childGUID)
	if err != nil {
		return false, fmt.Errorf("failed to record arrival of job %s: %w", childGUID, err)
	}

	var arrived int
	err = tx.QueryRow(ctx, `SELECT count(*) FROM pipeline_join_arrivals WHERE parent_guid = $1`, parentGUID).Scan(&arrived)
	if err != nil {
		return false, fmt.Errorf("failed to count arrivals for job %s: %w", parentGUID, err)
	}

	fired := false
	if arrived >= expected {
		tag, err := tx.Exec(ctx, `INSERT INTO pipeline_joins (parent_guid) VALUES ($1) ON CONFLICT DO NOTHING`, parentGUID)
		if err != nil {
			return false, fmt.Errorf("failed to fire join for job %s: %w", parentGUID, err)
		}
		fired = tag.RowsAffected() == 1
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit join arrival: %w", err)
	}
	return fired, nil
}
