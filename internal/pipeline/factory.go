package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// LocationLocal is the execution location of tasks that run in the process
// driving the job unless a queue declares a different location.
const LocationLocal = "local"

// TaskKind is the closed set of task variants a factory can produce.
type TaskKind int

const (
	KindFunc TaskKind = iota
	KindCommand
)

func (k TaskKind) String() string {
	switch k {
	case KindFunc:
		return "func"
	case KindCommand:
		return "command"
	default:
		return fmt.Sprintf("TaskKind(%d)", int(k))
	}
}

// ParseTaskKind maps a definition keyword to a TaskKind.
func ParseTaskKind(s string) (TaskKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "func":
		return KindFunc, nil
	case "command", "":
		return KindCommand, nil
	}
	return 0, fmt.Errorf("unknown task kind %q", s)
}

// TaskFactory describes one step of a task pipeline and produces its tasks.
type TaskFactory interface {
	ID() TaskID
	Kind() TaskKind
	CreateTask(job *Job) (Task, error)
	// ExecutionLocation names where the task must run. A task is runnable by
	// a job only when this matches the location of the job's queue.
	ExecutionLocation() string
	// IsJoin reports whether the task runs on the joined (unsplit) job.
	IsJoin() bool
	AutoRetry() int
	IsAutoRetryEnabled(job *Job) bool
	IsParticipant(job *Job) (bool, error)
	// IsJobComplete reports whether job already finished this task, so a
	// resumed job can skip it without side effects.
	IsJobComplete(job *Job) (bool, error)
	StatusName() string
}

// WorkDirTaskFactory is implemented by factories whose tasks need a scoped
// work directory.
type WorkDirTaskFactory interface {
	TaskFactory
	UsesWorkDirectory() bool
}

// Task is one executable step bound to a job.
type Task interface {
	Factory() TaskFactory
	Run(ctx context.Context, rc *RunContext) (*RecordedActionSet, error)
}

// RunContext is handed to every task invocation.
type RunContext struct {
	Job     *Job
	Log     *logrus.Entry
	WorkDir *WorkDirectory
}

// FactorySettings carries the common factory attributes and the default
// answers for every predicate. Concrete factories embed it.
type FactorySettings struct {
	TaskID      TaskID
	Location    string
	Join        bool
	Retries     int
	Status      string
	WorkDir     bool
	Description string
}

func (s FactorySettings) ID() TaskID { return s.TaskID }

func (s FactorySettings) ExecutionLocation() string {
	if s.Location == "" {
		return LocationLocal
	}
	return s.Location
}

func (s FactorySettings) IsJoin() bool { return s.Join }

func (s FactorySettings) AutoRetry() int { return s.Retries }

// IsAutoRetryEnabled allows retries unless the job sets the "auto_retry"
// param to "false".
func (s FactorySettings) IsAutoRetryEnabled(job *Job) bool {
	if s.Retries <= 0 {
		return false
	}
	return job == nil || !strings.EqualFold(job.Param("auto_retry"), "false")
}

func (s FactorySettings) IsParticipant(*Job) (bool, error) { return true, nil }

func (s FactorySettings) IsJobComplete(*Job) (bool, error) { return false, nil }

func (s FactorySettings) StatusName() string {
	if s.Status != "" {
		return s.Status
	}
	return s.TaskID.Name
}

func (s FactorySettings) UsesWorkDirectory() bool { return s.WorkDir }
