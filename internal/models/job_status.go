package models

import "strings"

/*
Persisted, user-visible job status strings. Step-specific statuses are built
with StepStatus, e.g. "ALIGN WAITING".
*/

// Job status constants
const (
	JobStatusWaiting      = "WAITING"
	JobStatusRunning      = "RUNNING"
	JobStatusComplete     = "COMPLETE"
	JobStatusError        = "ERROR"
	JobStatusCancelled    = "CANCELLED"
	JobStatusInterrupted  = "INTERRUPTED"
	JobStatusSplitWaiting = "SPLIT WAITING"
)

// StepStatus prefixes a base status with the step's display name.
// An empty step name yields the base status unchanged.
func StepStatus(step, base string) string {
	step = strings.TrimSpace(step)
	if step == "" {
		return base
	}
	return strings.ToUpper(step) + " " + base
}

// IsTerminal reports whether a persisted status means the job will not advance
// again without outside intervention.
func IsTerminal(status string) bool {
	switch status {
	case JobStatusComplete, JobStatusError, JobStatusCancelled, JobStatusInterrupted:
		return true
	}
	return false
}

// IsErrorStatus reports whether status is an error-like final state that a
// manual retry may resume.
func IsErrorStatus(status string) bool {
	return status == JobStatusError || status == JobStatusInterrupted || status == JobStatusCancelled
}
