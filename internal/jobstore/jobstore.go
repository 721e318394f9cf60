// Package jobstore keeps pipeline jobs durable between task runs and hands
// them to the queue serving their next task.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"pipejob/internal/metrics"
	"pipejob/internal/models"
	"pipejob/internal/pipeline"
	"pipejob/internal/store"
)

var (
	ErrNoQueue     = errors.New("jobstore: no queue serves location")
	ErrNotCanceled = errors.New("jobstore: no queue accepted the cancellation")
)

// JobStore implements pipeline.JobStore and pipeline.StatusWriter.
type JobStore struct {
	svc     *pipeline.Service
	store   store.Store
	barrier store.Barrier

	mu     sync.RWMutex
	queues map[string]pipeline.Queue
}

var (
	_ pipeline.JobStore     = (*JobStore)(nil)
	_ pipeline.StatusWriter = (*JobStore)(nil)
)

// New creates a job store over st. A nil barrier uses st's own.
func New(svc *pipeline.Service, st store.Store, barrier store.Barrier) *JobStore {
	if barrier == nil {
		barrier = st
	}
	return &JobStore{
		svc:     svc,
		store:   st,
		barrier: barrier,
		queues:  make(map[string]pipeline.Queue),
	}
}

// AddQueue routes jobs whose next task runs at q.Location() to q.
func (s *JobStore) AddQueue(q pipeline.Queue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[q.Location()] = q
}

func (s *JobStore) queueFor(location string) (pipeline.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[location]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoQueue, location)
	}
	return q, nil
}

// QueueForJob returns the queue serving the job's active task.
func (s *JobStore) QueueForJob(job *pipeline.Job) (pipeline.Queue, error) {
	location := pipeline.LocationLocal
	if id := job.ActiveTaskID(); !id.IsZero() {
		f, err := s.svc.Registry.Factory(id)
		if err != nil {
			return nil, err
		}
		location = f.ExecutionLocation()
	}
	return s.queueFor(location)
}

// --- Checkpoints ---

// StoreJob checkpoints the job.
func (s *JobStore) StoreJob(ctx context.Context, job *pipeline.Job) error {
	data, err := pipeline.ToXML(job)
	if err != nil {
		return err
	}
	cp := &models.Checkpoint{
		JobGUID:    job.GUID(),
		ParentGUID: job.ParentGUID(),
		Data:       data,
		SplitCount: job.SplitCount(),
	}
	return s.store.SaveCheckpoint(ctx, cp)
}

// GetJob rebuilds a job from its checkpoint.
func (s *JobStore) GetJob(ctx context.Context, jobGUID string) (*pipeline.Job, error) {
	cp, err := s.store.GetCheckpoint(ctx, jobGUID)
	if err != nil {
		return nil, notFound(err)
	}
	return pipeline.FromXML(s.svc, cp.Data)
}

// dispatch hands a job to the queue serving its active task.
func (s *JobStore) dispatch(ctx context.Context, job *pipeline.Job) error {
	q, err := s.QueueForJob(job)
	if err != nil {
		return fmt.Errorf("dispatch job %s: %w", job.GUID(), err)
	}
	if err := job.RestoreQueue(q); err != nil {
		return err
	}
	return q.Add(ctx, job)
}

// Forward checkpoints a job that stopped at a task served elsewhere and
// dispatches a fresh copy of it to that task's queue.
func (s *JobStore) Forward(ctx context.Context, job *pipeline.Job) error {
	if err := s.StoreJob(ctx, job); err != nil {
		return err
	}
	fresh, err := s.GetJob(ctx, job.GUID())
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"job": job.GUID(), "task": job.ActiveTaskID().String()}).Debug("Forwarding job")
	return s.dispatch(ctx, fresh)
}

// --- Retry ---

// Retry reloads the job from its checkpoint, counts the failed attempt and
// dispatches it again.
func (s *JobStore) Retry(ctx context.Context, jobGUID string) error {
	job, err := s.GetJob(ctx, jobGUID)
	if err != nil {
		return err
	}
	job.RetryUpdate()
	return s.resume(ctx, job)
}

// RetryStatus manually retries the job behind a status record. Only jobs that
// ended in error, were interrupted or were cancelled can be retried; an error
// counts as a failed attempt.
func (s *JobStore) RetryStatus(ctx context.Context, rec *models.StatusRecord) error {
	if !models.IsErrorStatus(rec.Status) {
		return fmt.Errorf("%w: job %s is %s", models.ErrNotRetryable, rec.JobGUID, rec.Status)
	}
	job, err := s.GetJob(ctx, rec.JobGUID)
	if err != nil {
		return err
	}
	if rec.Status == models.JobStatusError {
		job.RetryUpdate()
	}
	return s.resume(ctx, job)
}

func (s *JobStore) resume(ctx context.Context, job *pipeline.Job) error {
	job.PrepareRetry()
	if err := s.reopen(ctx, job.GUID()); err != nil {
		return err
	}
	if err := job.SetActiveTaskStatus(ctx, pipeline.TaskWaiting); err != nil {
		return err
	}
	if err := s.StoreJob(ctx, job); err != nil {
		return err
	}
	if job.IsDone() {
		return nil
	}
	return s.dispatch(ctx, job)
}

// --- Split and join ---

// Split fans the job out into its split children. The parent is stored with
// its split count before any child is dispatched.
func (s *JobStore) Split(ctx context.Context, job *pipeline.Job) error {
	children, err := job.CreateSplitJobs()
	if err != nil {
		return err
	}
	if len(children) == 0 {
		return fmt.Errorf("job %s produced no split jobs", job.GUID())
	}
	job.SetSplitCount(len(children))
	if err := s.StoreJob(ctx, job); err != nil {
		return err
	}
	if err := job.MarkSplitWaiting(ctx); err != nil {
		return err
	}
	for _, c := range children {
		if err := s.CreateStatus(ctx, c.StatusRecord()); err != nil {
			return err
		}
		if err := s.StoreJob(ctx, c); err != nil {
			return err
		}
	}
	for _, c := range children {
		if err := s.dispatch(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Join records a split child's arrival at its join. The child whose arrival
// completes the set merges every child into the parent and moves the parent
// on to the join task.
func (s *JobStore) Join(ctx context.Context, child *pipeline.Job) error {
	if err := s.StoreJob(ctx, child); err != nil {
		return err
	}
	parent, err := s.GetJob(ctx, child.ParentGUID())
	if err != nil {
		return err
	}
	fired, err := s.barrier.Arrive(ctx, parent.GUID(), child.GUID(), parent.SplitCount())
	if err != nil {
		return err
	}
	if !fired {
		child.Logger().Infof("Waiting for the other split jobs of %s", parent.GUID())
		return nil
	}

	cps, err := s.store.ListChildren(ctx, parent.GUID())
	if err != nil {
		return err
	}
	for _, cp := range cps {
		c, err := pipeline.FromXML(s.svc, cp.Data)
		if err != nil {
			return err
		}
		parent.MergeSplitJob(c)
	}
	if err := parent.CompleteJoin(ctx, child.ActiveTaskID()); err != nil {
		return err
	}
	if err := s.StoreJob(ctx, parent); err != nil {
		return err
	}
	parent.Logger().Infof("All %d split jobs joined", len(cps))
	if parent.IsDone() {
		return nil
	}
	return s.dispatch(ctx, parent)
}

// --- Cancel ---

// Cancel asks every queue to cancel the job and marks it CANCELLED once one
// accepts.
func (s *JobStore) Cancel(ctx context.Context, jobGUID string) error {
	s.mu.RLock()
	queues := make([]pipeline.Queue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.mu.RUnlock()

	for _, q := range queues {
		ok, err := q.Cancel(ctx, jobGUID)
		if err != nil {
			return fmt.Errorf("cancel job %s on %s: %w", jobGUID, q.Location(), err)
		}
		if !ok {
			continue
		}
		rec, err := s.store.GetStatus(ctx, jobGUID)
		if err != nil {
			return notFound(err)
		}
		rec.Status = models.JobStatusCancelled
		if err := s.store.UpdateStatus(ctx, rec); err != nil {
			return notFound(err)
		}
		metrics.JobTotal.WithLabelValues("cancelled").Inc()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotCanceled, jobGUID)
}

// --- Status ---

// CreateStatus inserts the status record of a new job.
func (s *JobStore) CreateStatus(ctx context.Context, rec models.StatusRecord) error {
	return s.store.CreateStatus(ctx, &rec)
}

// SetStatus updates a job's status record. A CANCELLED record keeps its
// status; only a retry moves a job off CANCELLED.
func (s *JobStore) SetStatus(ctx context.Context, rec models.StatusRecord) error {
	updated, err := s.store.UpdateStatusUnless(ctx, &rec, models.JobStatusCancelled)
	if err != nil {
		return notFound(err)
	}
	if !updated {
		log.WithField("job", rec.JobGUID).Debugf("Job is cancelled, not recording %s", rec.Status)
	}
	return nil
}

// EnsureError moves a job's status to ERROR unless it is there already or the
// job was cancelled.
func (s *JobStore) EnsureError(ctx context.Context, jobGUID string) error {
	rec, err := s.store.GetStatus(ctx, jobGUID)
	if err != nil {
		return notFound(err)
	}
	if rec.Status == models.JobStatusError || rec.Status == models.JobStatusCancelled {
		return nil
	}
	rec.Status = models.JobStatusError
	_, err = s.store.UpdateStatusUnless(ctx, rec, models.JobStatusCancelled)
	return notFound(err)
}

// reopen lifts CANCELLED so the retried job can record its progress again.
func (s *JobStore) reopen(ctx context.Context, jobGUID string) error {
	rec, err := s.store.GetStatus(ctx, jobGUID)
	if err != nil {
		return notFound(err)
	}
	if rec.Status != models.JobStatusCancelled {
		return nil
	}
	rec.Status = models.JobStatusWaiting
	return notFound(s.store.UpdateStatus(ctx, rec))
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", pipeline.ErrJobNotFound, err)
	}
	return err
}
