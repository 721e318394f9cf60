package store

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"pipejob/internal/models"
)

// JobClient enqueues asynq tasks on behalf of a pipeline job.
type JobClient interface {
	Enqueue(ctx context.Context, task *asynq.Task, jobGUID string, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// AsynqJobClient enqueues tasks and records each hand-off in the dispatch log.
type AsynqJobClient struct {
	client     *asynq.Client
	dispatches DispatchStore
}

var _ JobClient = (*AsynqJobClient)(nil)

// NewAsynqJobClient creates a client for the Redis server described by opt.
func NewAsynqJobClient(opt asynq.RedisConnOpt, ds DispatchStore) (*AsynqJobClient, error) {
	if ds == nil {
		return nil, fmt.Errorf("DispatchStore cannot be nil for AsynqJobClient")
	}
	return &AsynqJobClient{client: asynq.NewClient(opt), dispatches: ds}, nil
}

func (jc *AsynqJobClient) Close() error {
	return jc.client.Close()
}

// Enqueue enqueues a task and records it. A failure to record is logged but
// does not fail the call, since the task is already queued.
func (jc *AsynqJobClient) Enqueue(ctx context.Context, task *asynq.Task, jobGUID string, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if jc.client == nil {
		return nil, fmt.Errorf("AsynqJobClient internal client is not initialized")
	}
	info, err := jc.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s for job %s: %w", task.Type(), jobGUID, err)
	}
	log.WithFields(log.Fields{"job": jobGUID, "task_id": info.ID, "queue": info.Queue}).Debug("Enqueued task")

	d := &models.Dispatch{
		TaskID:   info.ID,
		JobGUID:  jobGUID,
		TaskType: task.Type(),
		Queue:    info.Queue,
	}
	if err := jc.dispatches.RecordDispatch(ctx, d); err != nil {
		log.Errorf("Failed to record dispatch of task %s: %v", info.ID, err)
	}
	return info, nil
}
