package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"pipejob/internal/metrics"
	"pipejob/internal/models"
)

// Run drives the job: it executes the active task whenever it is runnable here
// and advances the state machine until no local work remains. It returns once
// the job is finished, waiting on a remote location, split, or in error.
//
// Task failures become job status, not return values. Run only returns an
// error for conditions that abort the job outright: a lost job record or an
// interrupted task. A cancelled ctx interrupts the job before its next task.
func (j *Job) Run(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			j.svc.errorLog().WithFields(logrus.Fields{
				"job":  j.state.GUID,
				"task": j.state.ActiveTaskID.String(),
			}).Errorf("Uncaught failure running job: %v\n%s", r, debug.Stack())
			panic(r)
		}
	}()

	for {
		if err := ctx.Err(); err != nil && !j.IsDone() {
			return j.interrupt(ctx, &InterruptedError{Err: err})
		}
		if err := j.runActiveTask(ctx); err != nil {
			return err
		}
		more, err := j.Advance(ctx)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// Advance applies the transition function once and reports whether the new
// active task can run in this process now.
func (j *Job) Advance(ctx context.Context) (bool, error) {
	switch j.state.ActiveTaskStatus {
	case TaskWaiting:
		idx := j.pipeline.IndexOf(j.state.ActiveTaskID)
		if idx < 0 {
			return false, j.fail(ctx, fmt.Errorf("%w: %s is not part of pipeline %s",
				ErrUnknownTask, j.state.ActiveTaskID, j.pipeline.Name()))
		}
		return j.findRunnableTask(ctx, idx)

	case TaskComplete:
		if j.state.ActiveTaskID.IsZero() {
			return false, nil
		}
		idx := j.pipeline.IndexOf(j.state.ActiveTaskID)
		if idx < 0 {
			return false, j.fail(ctx, fmt.Errorf("%w: %s is not part of pipeline %s",
				ErrUnknownTask, j.state.ActiveTaskID, j.pipeline.Name()))
		}
		return j.findRunnableTask(ctx, idx+1)

	case TaskError:
		if err := j.svc.Status.EnsureError(context.WithoutCancel(ctx), j.state.GUID); err != nil {
			if isNotFound(err) {
				return false, &LostJobError{JobGUID: j.state.GUID, Err: err}
			}
			j.Logger().WithError(err).Warn("Failed to record error status")
		}
		if !j.AutoRetry(ctx) {
			metrics.JobTotal.WithLabelValues("error").Inc()
		}
		return false, nil

	default:
		return false, nil
	}
}

// requiresSplitTransition reports whether running f would change the job's
// split state: an unsplit splittable job must split before non-join tasks, and
// a split job must join before join tasks.
func (j *Job) requiresSplitTransition(f TaskFactory) bool {
	if j.IsSplitJob() {
		return f.IsJoin()
	}
	return j.state.Splittable && !j.state.Joined && !f.IsJoin()
}

func (j *Job) findRunnableTask(ctx context.Context, i int) (bool, error) {
	progression := j.pipeline.Progression()
	var factory TaskFactory
	for ; i < len(progression); i++ {
		f, err := j.svc.Registry.Factory(progression[i])
		if err != nil {
			return false, j.fail(ctx, err)
		}
		factory = f
		if j.requiresSplitTransition(f) {
			break
		}
		participant, err := f.IsParticipant(j)
		if err != nil {
			return false, j.fail(ctx, &TaskFailure{Task: f.ID(), Err: err})
		}
		if !participant {
			continue
		}
		complete, err := f.IsJobComplete(j)
		if err != nil {
			return false, j.fail(ctx, &TaskFailure{Task: f.ID(), Err: err})
		}
		if !complete {
			break
		}
	}

	if i >= len(progression) {
		j.SetActiveTaskID(TaskID{})
		if j.IsSplitJob() {
			return false, j.join(ctx)
		}
		return false, j.terminate(ctx)
	}

	j.SetActiveTaskID(progression[i])
	if j.requiresSplitTransition(factory) {
		j.state.ActiveTaskStatus = TaskWaiting
		if factory.IsJoin() {
			return false, j.join(ctx)
		}
		return false, j.split(ctx)
	}
	if err := j.SetActiveTaskStatus(ctx, TaskWaiting); err != nil {
		return false, err
	}
	return j.IsLocal(factory), nil
}

func (j *Job) terminate(ctx context.Context) error {
	j.Logger().Info("Job complete")
	metrics.JobTotal.WithLabelValues("complete").Inc()
	return j.persistStatus(ctx, models.JobStatusComplete, "")
}

// runActiveTask executes the active task if it is waiting and runnable here.
func (j *Job) runActiveTask(ctx context.Context) error {
	id := j.state.ActiveTaskID
	if id.IsZero() || j.state.ActiveTaskStatus != TaskWaiting {
		return nil
	}
	f, err := j.svc.Registry.Factory(id)
	if err != nil {
		return j.fail(ctx, err)
	}
	if !j.IsLocal(f) {
		return nil
	}
	log := j.Logger().WithField("task", id.String())

	complete, err := f.IsJobComplete(j)
	if err != nil {
		return j.fail(ctx, &TaskFailure{Task: id, Err: err})
	}
	if complete {
		log.Info("Task already complete, skipping")
		return j.abortIfLost(j.SetActiveTaskStatus(ctx, TaskComplete))
	}

	task, err := f.CreateTask(j)
	if err != nil {
		return j.fail(ctx, &TaskFailure{Task: id, Err: err})
	}
	j.checkpoint(ctx)
	if err := j.SetActiveTaskStatus(ctx, TaskRunning); err != nil {
		return j.abortIfLost(err)
	}

	log.Infof("Running task %s", id)
	start := time.Now()
	actions, runErr := j.runTask(ctx, f, task, log)
	metrics.TaskDuration.WithLabelValues(id.String()).Observe(time.Since(start).Seconds())
	j.addActions(actions)

	if runErr != nil {
		if errors.Is(runErr, ErrInterrupted) {
			return j.interrupt(ctx, runErr)
		}
		return j.fail(ctx, &TaskFailure{Task: id, Err: runErr})
	}
	if j.state.ActiveTaskStatus == TaskError {
		return nil
	}
	log.Infof("Task %s complete in %s", id, time.Since(start).Round(time.Millisecond))
	return j.abortIfLost(j.SetActiveTaskStatus(ctx, TaskComplete))
}

// interrupt puts the active task in error and records INTERRUPTED. cause is
// returned so the caller stops driving the job.
func (j *Job) interrupt(ctx context.Context, cause error) error {
	j.state.ActiveTaskStatus = TaskError
	j.lastErr = cause
	j.Logger().WithField("task", j.state.ActiveTaskID.String()).WithError(cause).Error("Task interrupted")
	metrics.JobTotal.WithLabelValues("interrupted").Inc()
	if err := j.persistStatus(ctx, models.JobStatusInterrupted, cause.Error()); err != nil {
		return err
	}
	return cause
}

// runTask runs task inside its work directory, if it uses one. The directory
// is released whatever the outcome. A release failure becomes the task's
// error only when the task itself succeeded.
func (j *Job) runTask(ctx context.Context, f TaskFactory, task Task, log *logrus.Entry) (actions *RecordedActionSet, err error) {
	rc := &RunContext{Job: j, Log: log}
	wf, ok := f.(WorkDirTaskFactory)
	if !ok || !wf.UsesWorkDirectory() || j.svc.WorkDirs == nil {
		return task.Run(ctx, rc)
	}

	wd, err := j.svc.WorkDirs.Create(j, f.ID())
	if err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	rc.WorkDir = wd
	defer func() {
		rerr := wd.Release()
		if rerr == nil {
			return
		}
		if err == nil {
			err = &CleanupError{Dir: wd.Path(), Err: rerr}
			return
		}
		log.WithError(rerr).Warnf("Failed to clean up work directory %s", wd.Path())
	}()
	return task.Run(ctx, rc)
}

// fail records err against the active task: the error count goes up and the
// task moves to error. Only a lost job record is returned.
func (j *Job) fail(ctx context.Context, err error) error {
	j.state.Errors++
	j.lastErr = err
	j.Logger().WithField("task", j.state.ActiveTaskID.String()).Errorf("%+v", err)
	metrics.TaskFailTotal.WithLabelValues(j.state.ActiveTaskID.String()).Inc()
	if !j.state.ActiveTaskID.IsZero() {
		j.state.ActiveTaskStatus = TaskError
	}
	return j.persistStatus(ctx, models.JobStatusError, err.Error())
}

// abortIfLost forces the job into error when its record has disappeared.
func (j *Job) abortIfLost(err error) error {
	if err == nil {
		return nil
	}
	if isLost(err) {
		j.lastErr = err
		if !j.state.ActiveTaskID.IsZero() {
			j.state.ActiveTaskStatus = TaskError
		}
		j.Logger().WithError(err).Error("Job record deleted, stopping")
	}
	return err
}

// checkpoint stores the job. A failure is only logged, though it may leave the
// job impossible to retry.
func (j *Job) checkpoint(ctx context.Context) {
	if err := j.svc.Jobs.StoreJob(ctx, j); err != nil {
		j.Logger().WithError(err).Warn("Failed to checkpoint job")
	}
}
