package pipeline

import (
	"context"

	"pipejob/internal/metrics"
)

// RetryUpdate counts a failed attempt against a job reconstructed from its
// checkpoint. The checkpoint predates the failure, so the failure is recorded
// here exactly once.
func (j *Job) RetryUpdate() {
	j.state.Errors++
	j.state.ActiveTaskRetries++
}

// PrepareRetry puts an errored or interrupted active task back in line to run.
func (j *Job) PrepareRetry() {
	switch j.state.ActiveTaskStatus {
	case TaskError, TaskRunning:
		j.state.ActiveTaskStatus = TaskWaiting
	}
}

// AutoRetry schedules another attempt of the active task when its factory
// allows one. It reports whether a retry was scheduled.
func (j *Job) AutoRetry(ctx context.Context) bool {
	if j.state.ActiveTaskID.IsZero() {
		return false
	}
	f, err := j.svc.Registry.Factory(j.state.ActiveTaskID)
	if err != nil {
		return false
	}
	retries := j.state.ActiveTaskRetries
	if retries >= f.AutoRetry() || !f.IsAutoRetryEnabled(j) {
		return false
	}
	log := j.Logger().WithField("task", j.state.ActiveTaskID.String())
	log.Infof("Attempting automatic retry %d of %d", retries+1, f.AutoRetry())
	if err := j.svc.Jobs.Retry(ctx, j.state.GUID); err != nil {
		log.WithError(err).Error("Automatic retry failed")
		return false
	}
	metrics.RetryTotal.WithLabelValues(j.state.ActiveTaskID.String()).Inc()
	return true
}
