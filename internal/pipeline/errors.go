package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound      = errors.New("pipeline: job not found")
	ErrQueueAssigned    = errors.New("pipeline: job already assigned to a different queue")
	ErrNotInterruptible = errors.New("pipeline: job type does not support interruption")
	ErrInterrupted      = errors.New("pipeline: job interrupted")
	ErrUnknownTask      = errors.New("pipeline: unknown task")
	ErrUnknownPipeline  = errors.New("pipeline: unknown task pipeline")
	ErrUnknownJobType   = errors.New("pipeline: unknown job type")
	ErrDuplicate        = errors.New("pipeline: duplicate registration")
	ErrNotSplittable    = errors.New("pipeline: job is not splittable")
	ErrInvalidParam     = errors.New("pipeline: parameter cannot be stored in a checkpoint")
)

// TaskFailure is a failure raised by task logic.
type TaskFailure struct {
	Task TaskID
	Err  error
}

func (e *TaskFailure) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.Task, e.Err)
}

func (e *TaskFailure) Unwrap() error { return e.Err }

// ExitError reports an external tool that exited with a non-zero code.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process %s exited with code %d", e.Command, e.Code)
}

// ProcessStartError reports an external tool that could not be launched.
// Denied distinguishes permission failures from other launch failures.
type ProcessStartError struct {
	Command string
	Denied  bool
	Err     error
}

func (e *ProcessStartError) Error() string {
	if e.Denied {
		return fmt.Sprintf("permission denied running %s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("failed to launch %s: %v", e.Command, e.Err)
}

func (e *ProcessStartError) Unwrap() error { return e.Err }

// LostJobError means the job's status record no longer exists, usually because
// a user deleted the job while it ran. It stops the job; it is never retried.
type LostJobError struct {
	JobGUID string
	Err     error
}

func (e *LostJobError) Error() string {
	return fmt.Sprintf("job %s no longer exists: %v", e.JobGUID, e.Err)
}

func (e *LostJobError) Unwrap() error { return e.Err }

// InterruptedError means a task was aborted while waiting on a subprocess or
// after an interrupt request.
type InterruptedError struct {
	Command string
	Err     error
}

func (e *InterruptedError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("interrupted: %v", e.Err)
	}
	return fmt.Sprintf("interrupted while running %s: %v", e.Command, e.Err)
}

func (e *InterruptedError) Unwrap() error { return e.Err }

func (e *InterruptedError) Is(target error) bool { return target == ErrInterrupted }

// CleanupError is a work directory release failure.
type CleanupError struct {
	Dir string
	Err error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("failed to clean up work directory %s: %v", e.Dir, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }

func isLost(err error) bool {
	var lost *LostJobError
	return errors.As(err, &lost)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}
