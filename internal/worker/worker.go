// Package worker runs pipeline jobs dispatched through asynq.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"pipejob/internal/pipeline"
	"pipejob/internal/queue"
	"pipejob/internal/tasks"
)

// JobLoader rebuilds jobs from their checkpoints and forwards jobs that stop
// at another location's task.
type JobLoader interface {
	GetJob(ctx context.Context, jobGUID string) (*pipeline.Job, error)
	queue.Forwarder
}

// RunJobDeps holds the dependencies of HandleRunJob.
type RunJobDeps struct {
	Jobs JobLoader
	// Queue is the queue of the location this worker serves.
	Queue pipeline.Queue
}

// HandleRunJob returns the asynq handler for TypeRunJob tasks. Failures that
// another attempt cannot fix are returned wrapped in asynq.SkipRetry; task
// failures inside the job are handled by the job's own retry logic.
func HandleRunJob(deps RunJobDeps) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p tasks.RunJobPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("failed to unmarshal run job payload: %v: %w", err, asynq.SkipRetry)
		}
		entry := log.WithFields(log.Fields{"job": p.JobGUID, "task": p.Task})

		job, err := deps.Jobs.GetJob(ctx, p.JobGUID)
		if err != nil {
			if errors.Is(err, pipeline.ErrJobNotFound) {
				entry.Warn("Job no longer exists, dropping task")
				return fmt.Errorf("job %s: %v: %w", p.JobGUID, err, asynq.SkipRetry)
			}
			return fmt.Errorf("failed to load job %s: %w", p.JobGUID, err)
		}
		if got := job.ActiveTaskID().String(); got != p.Task {
			entry.Infof("Job has moved on to %q, dropping stale task", got)
			return nil
		}
		if err := job.RestoreQueue(deps.Queue); err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		entry.Info("Running job")
		if err := queue.RunJob(ctx, job, deps.Queue.Location(), deps.Jobs); err != nil {
			var lost *pipeline.LostJobError
			if errors.As(err, &lost) || errors.Is(err, pipeline.ErrInterrupted) {
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return err
		}
		return nil
	}
}

// RegisterHandlers registers the pipeline task handlers with mux.
func RegisterHandlers(mux *asynq.ServeMux, deps RunJobDeps) {
	log.Infof("Registering %s handler for location %q", tasks.TypeRunJob, deps.Queue.Location())
	mux.HandleFunc(tasks.TypeRunJob, HandleRunJob(deps))
}
