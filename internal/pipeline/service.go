package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pipejob/internal/models"
)

// JobStore checkpoints jobs and coordinates retry, split and join.
type JobStore interface {
	StoreJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobGUID string) (*Job, error)
	Retry(ctx context.Context, jobGUID string) error
	Split(ctx context.Context, job *Job) error
	Join(ctx context.Context, job *Job) error
}

// StatusWriter persists the user-visible status of jobs. SetStatus returns an
// error wrapping ErrJobNotFound when the job's record no longer exists.
type StatusWriter interface {
	CreateStatus(ctx context.Context, rec models.StatusRecord) error
	SetStatus(ctx context.Context, rec models.StatusRecord) error
	EnsureError(ctx context.Context, jobGUID string) error
}

// Queue is the execution substrate that runs jobs.
type Queue interface {
	// Location is where this queue runs tasks; see TaskFactory.ExecutionLocation.
	Location() string
	Add(ctx context.Context, job *Job) error
	Cancel(ctx context.Context, jobGUID string) (bool, error)
}

// Service bundles the collaborators shared by every job.
type Service struct {
	Registry *Registry
	Jobs     JobStore
	Status   StatusWriter
	WorkDirs WorkDirFactory

	// ToolsDir is prepended to PATH for subprocesses.
	ToolsDir string
	// LogDir holds job log files. Empty puts them in the pipeline root.
	LogDir string
	// ProgressLines is the line interval for subprocess output progress messages.
	ProgressLines int
	// LogLevel applies to job log files.
	LogLevel logrus.Level
	// ErrorLog is the system-wide channel for failures that escape a job.
	ErrorLog *logrus.Logger
}

func (s *Service) errorLog() *logrus.Logger {
	if s.ErrorLog != nil {
		return s.ErrorLog
	}
	return logrus.StandardLogger()
}

func (s *Service) progressLines() int {
	if s.ProgressLines > 0 {
		return s.ProgressLines
	}
	return 10000
}

// NewJob creates a job of the named type positioned at the first task of its
// pipeline.
func (s *Service) NewJob(typeName string, info BackgroundInfo, root string, params map[string]string) (*Job, error) {
	jt, err := s.Registry.JobType(typeName)
	if err != nil {
		return nil, err
	}
	p, err := s.Registry.Pipeline(jt.Pipeline())
	if err != nil {
		return nil, err
	}
	if err := validateParams(params); err != nil {
		return nil, err
	}
	guid := uuid.NewString()
	st := JobState{
		GUID:             guid,
		JobType:          jt.Name(),
		Provider:         p.Name(),
		Info:             info,
		PipelineRoot:     root,
		Params:           paramsFromMap(params),
		Splittable:       jt.Splittable(),
		ActiveTaskStatus: TaskComplete,
		Created:          time.Now().UTC(),
	}
	switch {
	case s.LogDir != "":
		st.LogFile = filepath.Join(s.LogDir, guid+".log")
	case root != "":
		st.LogFile = filepath.Join(root, guid+".log")
	}
	if p.Len() > 0 {
		st.ActiveTaskID = p.At(0)
		st.ActiveTaskStatus = TaskWaiting
	}
	return newJob(s, jt, st)
}

// Submit checkpoints a new job and hands it to q. The first state machine pass
// runs before the job is stored; if that pass leaves the job in error, the
// pre-attempt snapshot is stored instead so the job stays retryable.
func (s *Service) Submit(ctx context.Context, job *Job, q Queue) error {
	if err := job.RestoreQueue(q); err != nil {
		return err
	}
	snapshot, err := ToXML(job)
	if err != nil {
		return fmt.Errorf("checkpoint job %s: %w", job.GUID(), err)
	}
	if err := s.Status.CreateStatus(ctx, job.StatusRecord()); err != nil {
		return fmt.Errorf("create status for job %s: %w", job.GUID(), err)
	}

	if _, err := job.Advance(ctx); err != nil {
		return err
	}
	if job.ActiveTaskStatus() != TaskError && job.IsSplitWaiting() {
		// Split stored the parent before dispatching its children; storing
		// again here could overwrite a join that already merged them.
		return nil
	}
	stored := job
	if job.ActiveTaskStatus() == TaskError {
		restored, rerr := FromXML(s, snapshot)
		if rerr != nil {
			job.Logger().WithError(rerr).Warn("Failed to restore pre-queue checkpoint")
		} else {
			stored = restored
		}
	}
	if err := s.Jobs.StoreJob(ctx, stored); err != nil {
		return fmt.Errorf("store job %s: %w", job.GUID(), err)
	}
	if job.ActiveTaskStatus() == TaskError || job.IsDone() {
		return nil
	}
	return q.Add(ctx, job)
}
