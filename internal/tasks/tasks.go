package tasks

// Defines constants for task types used in Asynq.

const (
	// TypeRunJob drives a pipeline job until it finishes or leaves the
	// worker's execution location.
	TypeRunJob = "pipeline:run"
)

// QueuePrefix names the asynq queue of an execution location, e.g.
// "pipeline:cluster".
const QueuePrefix = "pipeline:"

// QueueName returns the asynq queue serving location.
func QueueName(location string) string {
	return QueuePrefix + location
}

// RunJobPayload is the payload of a TypeRunJob task.
type RunJobPayload struct {
	JobGUID string `json:"job_guid"`
	Task    string `json:"task"`
}
