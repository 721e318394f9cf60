package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"pipejob/internal/pipeline"
	"pipejob/internal/store"
	"pipejob/internal/tasks"
)

// Inspector is the part of *asynq.Inspector used to cancel tasks.
type Inspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	CancelProcessing(id string) error
}

// AsynqQueue hands jobs to the asynq queue of one execution location, where a
// worker serving that location picks them up.
type AsynqQueue struct {
	location   string
	client     store.JobClient
	inspector  Inspector
	dispatches store.DispatchStore
}

var _ pipeline.Queue = (*AsynqQueue)(nil)

// NewAsynqQueue creates the queue for location.
func NewAsynqQueue(location string, client store.JobClient, inspector Inspector, ds store.DispatchStore) *AsynqQueue {
	return &AsynqQueue{location: location, client: client, inspector: inspector, dispatches: ds}
}

func (q *AsynqQueue) Location() string { return q.location }

// Name is the asynq queue name.
func (q *AsynqQueue) Name() string { return tasks.QueueName(q.location) }

// TaskID identifies the asynq task that runs one attempt of a job's active
// task, so enqueueing the same attempt twice is rejected by asynq.
func TaskID(job *pipeline.Job) string {
	return fmt.Sprintf("%s.%s.%d", job.GUID(), job.ActiveTaskID(), job.ActiveTaskRetries())
}

// Add enqueues a run of job on this location's queue. The job itself travels
// through its checkpoint; the task only names it.
//
// An attempt already pending or running is left alone. A finished task that
// still holds the attempt's ID, such as the archived run of an interrupted
// job being retried by hand, is deleted and the attempt enqueued again.
func (q *AsynqQueue) Add(ctx context.Context, job *pipeline.Job) error {
	payload, err := json.Marshal(tasks.RunJobPayload{
		JobGUID: job.GUID(),
		Task:    job.ActiveTaskID().String(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload for job %s: %w", job.GUID(), err)
	}
	task := asynq.NewTask(tasks.TypeRunJob, payload)
	id := TaskID(job)

	err = q.enqueue(ctx, task, job.GUID(), id)
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}
	info, err := q.inspector.GetTaskInfo(q.Name(), id)
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound):
	case err != nil:
		return fmt.Errorf("failed to inspect task %s: %w", id, err)
	case info.State == asynq.TaskStateArchived || info.State == asynq.TaskStateCompleted:
		if err := q.inspector.DeleteTask(q.Name(), id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return fmt.Errorf("failed to delete finished task %s: %w", id, err)
		}
	default:
		log.WithField("job", job.GUID()).Debugf("Task %s already queued", id)
		return nil
	}
	log.WithField("job", job.GUID()).Debugf("Re-enqueueing finished task %s", id)
	return q.enqueue(ctx, task, job.GUID(), id)
}

func (q *AsynqQueue) enqueue(ctx context.Context, task *asynq.Task, jobGUID, id string) error {
	_, err := q.client.Enqueue(ctx, task, jobGUID,
		asynq.Queue(q.Name()),
		asynq.TaskID(id),
		asynq.MaxRetry(0),
	)
	return err
}

// Cancel deletes the job's latest task on this queue if it has not started,
// or cancels it if a worker is processing it.
func (q *AsynqQueue) Cancel(ctx context.Context, jobGUID string) (bool, error) {
	ds, err := q.dispatches.ListDispatches(ctx, jobGUID)
	if err != nil {
		return false, err
	}
	var taskID string
	for i := len(ds) - 1; i >= 0; i-- {
		if ds[i].Queue == q.Name() {
			taskID = ds[i].TaskID
			break
		}
	}
	if taskID == "" {
		return false, nil
	}

	info, err := q.inspector.GetTaskInfo(q.Name(), taskID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect task %s: %w", taskID, err)
	}
	switch info.State {
	case asynq.TaskStateActive:
		if err := q.inspector.CancelProcessing(taskID); err != nil {
			return false, fmt.Errorf("failed to cancel task %s: %w", taskID, err)
		}
		return true, nil
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry:
		if err := q.inspector.DeleteTask(q.Name(), taskID); err != nil {
			return false, fmt.Errorf("failed to delete task %s: %w", taskID, err)
		}
		return true, nil
	default:
		return false, nil
	}
}
