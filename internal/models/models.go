package models

import (
	"time"
)

// StatusRecord mirrors the pipeline_status table: the user-visible status of one job.
type StatusRecord struct {
	JobGUID    string    `db:"job_guid" json:"job_guid"`
	ParentGUID string    `db:"parent_guid" json:"parent_guid,omitempty"`
	JobType    string    `db:"job_type" json:"job_type"`
	Provider   string    `db:"provider" json:"provider,omitempty"`
	Container  string    `db:"container" json:"container,omitempty"`
	User       string    `db:"user_name" json:"user,omitempty"`
	Status     string    `db:"status" json:"status"`
	Info       string    `db:"info" json:"info,omitempty"`
	ActiveTask string    `db:"active_task" json:"active_task,omitempty"`
	LogFile    string    `db:"log_file" json:"log_file,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Checkpoint mirrors the pipeline_jobs table: the durable XML snapshot of a job.
type Checkpoint struct {
	JobGUID    string    `db:"job_guid"`
	ParentGUID string    `db:"parent_guid"`
	Data       []byte    `db:"job_xml"`
	SplitCount int       `db:"split_count"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// StatusFilter narrows status listings. Zero fields match everything.
type StatusFilter struct {
	Container  string
	Status     string
	ParentGUID string
	Limit      int
	Offset     int
}

// Dispatch mirrors the pipeline_dispatches table: one hand-off of a job to a queue.
type Dispatch struct {
	ID        int64     `db:"id" json:"id"`
	TaskID    string    `db:"task_id" json:"task_id"`
	JobGUID   string    `db:"job_guid" json:"job_guid"`
	TaskType  string    `db:"task_type" json:"task_type"`
	Queue     string    `db:"queue" json:"queue"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
