package primary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pipejob/internal/models"
	"pipejob/internal/store"
)

// --- Checkpoint Store Implementation ---

// SaveCheckpoint inserts or replaces the checkpoint of a job.
func (s *StoreImpl) SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	query := `
		INSERT INTO pipeline_jobs (job_guid, parent_guid, job_xml, split_count, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_guid) DO UPDATE
		SET parent_guid = EXCLUDED.parent_guid,
		    job_xml = EXCLUDED.job_xml,
		    split_count = EXCLUDED.split_count,
		    updated_at = EXCLUDED.updated_at`

	cp.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx, query, cp.JobGUID, cp.ParentGUID, string(cp.Data), cp.SplitCount, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for job %s: %w", cp.JobGUID, err)
	}
	return nil
}

// GetCheckpoint retrieves the checkpoint of a job.
func (s *StoreImpl) GetCheckpoint(ctx context.Context, jobGUID string) (*models.Checkpoint, error) {
	query := `SELECT job_guid, parent_guid, job_xml, split_count, updated_at FROM pipeline_jobs WHERE job_guid = $1`
	cp, err := scanCheckpoint(s.db.QueryRow(ctx, query, jobGUID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("checkpoint for job %s: %w", jobGUID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get checkpoint for job %s: %w", jobGUID, err)
	}
	return cp, nil
}

// ListChildren retrieves the checkpoints of a parent's split children.
func (s *StoreImpl) ListChildren(ctx context.Context, parentGUID string) ([]*models.Checkpoint, error) {
	query := `
		SELECT job_guid, parent_guid, job_xml, split_count, updated_at
		FROM pipeline_jobs WHERE parent_guid = $1
		ORDER BY job_guid`

	rows, err := s.db.Query(ctx, query, parentGUID)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating child checkpoints: %w", err)
	}
	return out, nil
}

// DeleteCheckpoint removes a job's checkpoint along with its children's and
// any join bookkeeping.
func (s *StoreImpl) DeleteCheckpoint(ctx context.Context, jobGUID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM pipeline_jobs WHERE job_guid = $1 OR parent_guid = $1`, jobGUID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint for job %s: %w", jobGUID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("checkpoint for job %s: %w", jobGUID, store.ErrNotFound)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM pipeline_join_arrivals WHERE parent_guid = $1`, jobGUID); err != nil {
		return fmt.Errorf("failed to delete join arrivals for job %s: %w", jobGUID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM pipeline_joins WHERE parent_guid = $1`, jobGUID); err != nil {
		return fmt.Errorf("failed to delete join for job %s: %w", jobGUID, err)
	}
	return tx.Commit(ctx)
}

func scanCheckpoint(row pgx.Row) (*models.Checkpoint, error) {
	var (
		cp  models.Checkpoint
		xml string
	)
	if err := row.Scan(&cp.JobGUID, &cp.ParentGUID, &xml, &cp.SplitCount, &cp.UpdatedAt); err != nil {
		return nil, err
	}
	cp.Data = []byte(xml)
	return &cp, nil
}
