package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"pipejob/internal/metrics"
	"pipejob/internal/models"
)

// IsSplittable reports whether the job can still fan out into split jobs.
func (j *Job) IsSplittable() bool {
	return j.state.Splittable && !j.state.Joined
}

// IsSplitJob reports whether the job is a child of a split.
func (j *Job) IsSplitJob() bool {
	return j.state.ParentGUID != ""
}

// IsSplitWaiting reports whether the job is a parent parked until its split
// children join.
func (j *Job) IsSplitWaiting() bool {
	if !j.IsSplittable() || j.state.ActiveTaskID.IsZero() {
		return false
	}
	f, err := j.svc.Registry.Factory(j.state.ActiveTaskID)
	if err != nil {
		return false
	}
	return !f.IsJoin()
}

// SetSplitCount records how many children the parent fanned out into.
func (j *Job) SetSplitCount(n int) { j.state.SplitCount = n }

// CreateSplitJobs builds one child per param set the job type returns. Each
// child starts where the parent is, with the split params layered over the
// parent's, its own log file and a clean error and action history.
func (j *Job) CreateSplitJobs() ([]*Job, error) {
	if !j.jobType.Splittable() {
		return nil, fmt.Errorf("%w: %s", ErrNotSplittable, j.state.JobType)
	}
	sets, err := j.jobType.CreateSplitParams(j)
	if err != nil {
		return nil, fmt.Errorf("split job %s: %w", j.state.GUID, err)
	}
	children := make([]*Job, 0, len(sets))
	for n, set := range sets {
		st := j.state.clone()
		st.GUID = uuid.NewString()
		st.ParentGUID = j.state.GUID
		st.Splittable = false
		st.Joined = false
		st.SplitCount = 0
		st.Errors = 0
		st.Actions = nil
		st.ActiveTaskRetries = 0
		st.ActiveTaskStatus = TaskWaiting
		st.LogFile = splitLogFile(j.state.LogFile, n+1)

		params := paramsToMap(j.state.Params)
		for k, v := range set {
			params[k] = v
		}
		if err := validateParams(set); err != nil {
			return nil, fmt.Errorf("split job %s: %w", j.state.GUID, err)
		}
		st.Params = paramsFromMap(params)

		child, err := newJob(j.svc, j.jobType, st)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	metrics.SplitJobsTotal.Add(float64(len(children)))
	return children, nil
}

func splitLogFile(base string, n int) string {
	if base == "" {
		return ""
	}
	ext := filepath.Ext(base)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, ext), n, ext)
}

// MergeSplitJob folds a finished child's recorded actions and error count into
// the parent.
func (j *Job) MergeSplitJob(child *Job) {
	j.state.Actions = append(j.state.Actions, child.state.Actions...)
	j.state.Errors += child.state.Errors
}

// CompleteJoin moves a parent whose children have all joined to the task the
// children stopped at. With no task left the parent is finished.
func (j *Job) CompleteJoin(ctx context.Context, active TaskID) error {
	j.state.Joined = true
	j.SetActiveTaskID(active)
	if active.IsZero() {
		return j.terminate(ctx)
	}
	return j.SetActiveTaskStatus(ctx, TaskWaiting)
}

func (j *Job) split(ctx context.Context) error {
	j.Logger().Info("Splitting job")
	if err := j.svc.Jobs.Split(ctx, j); err != nil {
		return j.fail(ctx, fmt.Errorf("split job: %w", err))
	}
	return nil
}

func (j *Job) join(ctx context.Context) error {
	j.Logger().Info("Joining split job")
	// The child's own work is done whether or not it completes the join.
	if err := j.persistStatus(ctx, models.JobStatusComplete, ""); err != nil {
		return err
	}
	if err := j.svc.Jobs.Join(ctx, j); err != nil {
		if isLost(err) {
			return err
		}
		if isNotFound(err) {
			return &LostJobError{JobGUID: j.state.GUID, Err: err}
		}
		return j.fail(ctx, fmt.Errorf("join job: %w", err))
	}
	return nil
}

// MarkSplitWaiting persists the status a parent shows while its children run.
func (j *Job) MarkSplitWaiting(ctx context.Context) error {
	return j.persistStatus(ctx, models.JobStatusSplitWaiting, fmt.Sprintf("%d split jobs", j.state.SplitCount))
}
