package store

import (
	"context"

	"pipejob/internal/models"
)

// --- Checkpoint Store ---

// CheckpointStore keeps the serialized state of every job. A parent job's
// checkpoint also carries the number of split children it fanned out into.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error
	GetCheckpoint(ctx context.Context, jobGUID string) (*models.Checkpoint, error)
	ListChildren(ctx context.Context, parentGUID string) ([]*models.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, jobGUID string) error
}

// --- Status Store ---

// StatusStore keeps the user-visible status record of every job.
// UpdateStatus returns ErrNotFound when the record has been deleted.
// UpdateStatusUnless leaves the record alone, reporting false, while its
// status equals keep.
type StatusStore interface {
	CreateStatus(ctx context.Context, rec *models.StatusRecord) error
	UpdateStatus(ctx context.Context, rec *models.StatusRecord) error
	UpdateStatusUnless(ctx context.Context, rec *models.StatusRecord, keep string) (bool, error)
	GetStatus(ctx context.Context, jobGUID string) (*models.StatusRecord, error)
	GetStatusByLogFile(ctx context.Context, logFile string) (*models.StatusRecord, error)
	ListStatuses(ctx context.Context, filter models.StatusFilter) ([]*models.StatusRecord, error)
	DeleteStatus(ctx context.Context, jobGUID string) error
}

// --- Dispatch Log ---

// DispatchStore records every hand-off of a job to a queue.
type DispatchStore interface {
	RecordDispatch(ctx context.Context, d *models.Dispatch) error
	ListDispatches(ctx context.Context, jobGUID string) ([]*models.Dispatch, error)
}

// --- Join Barrier ---

// Barrier counts split children arriving at their join. Arrive reports fired
// exactly once per parent: to the caller whose arrival completes the set of
// expected children. Repeated arrivals of the same child are not counted.
type Barrier interface {
	Arrive(ctx context.Context, parentGUID, childGUID string, expected int) (fired bool, err error)
}

// Store is everything a database backend provides.
type Store interface {
	CheckpointStore
	StatusStore
	DispatchStore
	Barrier

	Ping(ctx context.Context) error
	Close() error
}
