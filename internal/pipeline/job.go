package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"pipejob/internal/models"
)

// Job is a unit of pipeline work tracked through its task progression.
//
// A job is driven by one goroutine at a time, the one its queue assigned.
// Only that goroutine mutates the state; Interrupt is the one method safe to
// call from elsewhere.
type Job struct {
	svc      *Service
	jobType  JobType
	pipeline *TaskPipeline
	state    JobState

	mu    sync.Mutex
	queue Queue

	interrupted atomic.Bool
	lastErr     error

	logOnce sync.Once
	logger  *logrus.Logger
	logOut  io.Closer
}

func newJob(svc *Service, jt JobType, st JobState) (*Job, error) {
	p, err := svc.Registry.Pipeline(jt.Pipeline())
	if err != nil {
		return nil, err
	}
	return &Job{svc: svc, jobType: jt, pipeline: p, state: st}, nil
}

func (j *Job) GUID() string                 { return j.state.GUID }
func (j *Job) ParentGUID() string           { return j.state.ParentGUID }
func (j *Job) Type() JobType                { return j.jobType }
func (j *Job) Pipeline() *TaskPipeline      { return j.pipeline }
func (j *Job) Provider() string             { return j.state.Provider }
func (j *Job) Info() BackgroundInfo         { return j.state.Info }
func (j *Job) PipelineRoot() string         { return j.state.PipelineRoot }
func (j *Job) LogFile() string              { return j.state.LogFile }
func (j *Job) ActiveTaskID() TaskID         { return j.state.ActiveTaskID }
func (j *Job) ActiveTaskStatus() TaskStatus { return j.state.ActiveTaskStatus }
func (j *Job) ActiveTaskRetries() int       { return j.state.ActiveTaskRetries }
func (j *Job) Errors() int                  { return j.state.Errors }
func (j *Job) SplitCount() int              { return j.state.SplitCount }
func (j *Job) Created() time.Time           { return j.state.Created }
func (j *Job) Service() *Service            { return j.svc }

// LastError is the most recent failure recorded by this job instance. It is
// not part of the checkpoint.
func (j *Job) LastError() error { return j.lastErr }

// State returns a copy of the checkpointed state.
func (j *Job) State() JobState { return j.state.clone() }

// Actions returns the actions recorded so far.
func (j *Job) Actions() *RecordedActionSet {
	return NewRecordedActionSet(j.state.Actions...)
}

func (j *Job) addActions(set *RecordedActionSet) {
	j.state.Actions = append(j.state.Actions, set.Actions()...)
}

// Param returns the named job param, or "".
func (j *Job) Param(name string) string {
	for _, p := range j.state.Params {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

// Params returns a copy of the job params.
func (j *Job) Params() map[string]string {
	return paramsToMap(j.state.Params)
}

func (j *Job) Description() string {
	return j.jobType.Description(j)
}

// IsDone reports whether the task progression is exhausted.
func (j *Job) IsDone() bool {
	return j.state.ActiveTaskID.IsZero()
}

// SetActiveTaskID moves the job to another task. The retry counter restarts
// only when the task actually changes; clearing the task completes the job.
func (j *Job) SetActiveTaskID(id TaskID) {
	if id != j.state.ActiveTaskID {
		j.state.ActiveTaskRetries = 0
	}
	j.state.ActiveTaskID = id
	if id.IsZero() {
		j.state.ActiveTaskStatus = TaskComplete
	}
}

// SetActiveTaskStatus records the status of the active task and persists the
// matching status string. With no active task the status stays complete.
func (j *Job) SetActiveTaskStatus(ctx context.Context, status TaskStatus) error {
	if j.state.ActiveTaskID.IsZero() {
		status = TaskComplete
	}
	j.state.ActiveTaskStatus = status
	return j.persistStatus(ctx, j.statusString(), "")
}

// SetStatus persists an explicit status string. An ERROR status also puts the
// active task in error.
func (j *Job) SetStatus(ctx context.Context, status, info string) error {
	if status == models.JobStatusError && !j.state.ActiveTaskID.IsZero() {
		j.state.ActiveTaskStatus = TaskError
	}
	return j.persistStatus(ctx, status, info)
}

func (j *Job) statusString() string {
	if j.state.ActiveTaskID.IsZero() {
		return models.JobStatusComplete
	}
	step := j.state.ActiveTaskID.Name
	if f, err := j.svc.Registry.Factory(j.state.ActiveTaskID); err == nil {
		step = f.StatusName()
	}
	switch j.state.ActiveTaskStatus {
	case TaskRunning:
		return models.StepStatus(step, models.JobStatusRunning)
	case TaskComplete:
		return models.StepStatus(step, models.JobStatusComplete)
	case TaskError:
		return models.JobStatusError
	default:
		return models.StepStatus(step, models.JobStatusWaiting)
	}
}

// StatusRecord returns the status record matching the job's current state.
func (j *Job) StatusRecord() models.StatusRecord {
	return j.statusRecord(j.statusString(), "")
}

func (j *Job) statusRecord(status, info string) models.StatusRecord {
	return models.StatusRecord{
		JobGUID:    j.state.GUID,
		ParentGUID: j.state.ParentGUID,
		JobType:    j.state.JobType,
		Provider:   j.state.Provider,
		Container:  j.state.Info.Container,
		User:       j.state.Info.User,
		Status:     status,
		Info:       info,
		ActiveTask: j.state.ActiveTaskID.String(),
		LogFile:    j.state.LogFile,
		CreatedAt:  j.state.Created,
	}
}

// persistStatus writes a status string. Only a lost job record is returned as
// an error; other write failures are logged. The write outlives ctx so a
// cancelled job still records how it ended.
func (j *Job) persistStatus(ctx context.Context, status, info string) error {
	err := j.svc.Status.SetStatus(context.WithoutCancel(ctx), j.statusRecord(status, info))
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return &LostJobError{JobGUID: j.state.GUID, Err: err}
	}
	j.Logger().WithError(err).Warnf("Failed to set status %q", status)
	return nil
}

// RestoreQueue assigns the queue that owns this job. Assigning the same queue
// again is a no-op; assigning a different one fails with ErrQueueAssigned.
func (j *Job) RestoreQueue(q Queue) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.queue != nil && j.queue != q {
		return fmt.Errorf("%w: job %s", ErrQueueAssigned, j.state.GUID)
	}
	j.queue = q
	return nil
}

func (j *Job) Queue() Queue {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.queue
}

// IsLocal reports whether tasks from f run in the process driving this job.
func (j *Job) IsLocal(f TaskFactory) bool {
	loc := LocationLocal
	if q := j.Queue(); q != nil {
		loc = q.Location()
	}
	return f.ExecutionLocation() == loc
}

// IsWaitingElsewhere reports whether the job stopped at a task that another
// execution location has to run. Split parents and children parked at their
// join are not waiting on anyone but their siblings.
func (j *Job) IsWaitingElsewhere() bool {
	if j.IsDone() || j.state.ActiveTaskStatus != TaskWaiting || j.IsSplitWaiting() {
		return false
	}
	f, err := j.svc.Registry.Factory(j.state.ActiveTaskID)
	if err != nil {
		return false
	}
	if j.IsSplitJob() && f.IsJoin() {
		return false
	}
	return !j.IsLocal(f)
}

// Interrupt asks long-running tasks to stop at their next CheckInterrupted.
func (j *Job) Interrupt() error {
	if !j.jobType.CanInterrupt() {
		return fmt.Errorf("%w: %s", ErrNotInterruptible, j.state.JobType)
	}
	j.interrupted.Store(true)
	return nil
}

// CheckInterrupted returns ErrInterrupted once Interrupt has been called.
func (j *Job) CheckInterrupted() error {
	if j.interrupted.Load() {
		return ErrInterrupted
	}
	return nil
}

// Logger returns the job's log, writing to its log file.
func (j *Job) Logger() *logrus.Entry {
	j.logOnce.Do(j.openLog)
	return j.logger.WithField("job", j.state.GUID)
}

func (j *Job) openLog() {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	l.SetLevel(logrus.InfoLevel)
	if j.svc.LogLevel != 0 {
		l.SetLevel(j.svc.LogLevel)
	}
	j.logger = l
	if j.state.LogFile == "" {
		l.SetOutput(os.Stderr)
		return
	}
	if err := os.MkdirAll(filepath.Dir(j.state.LogFile), 0o755); err != nil {
		j.svc.errorLog().WithError(err).Warnf("Cannot create log directory for job %s", j.state.GUID)
		l.SetOutput(os.Stderr)
		return
	}
	f, err := os.OpenFile(j.state.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		j.svc.errorLog().WithError(err).Warnf("Cannot open log file for job %s", j.state.GUID)
		l.SetOutput(os.Stderr)
		return
	}
	l.SetOutput(f)
	j.logOut = f
}

// Close releases the job's log file.
func (j *Job) Close() error {
	if j.logOut == nil {
		return nil
	}
	err := j.logOut.Close()
	j.logOut = nil
	j.logger.SetOutput(os.Stderr)
	return err
}
