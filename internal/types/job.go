package types

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ParseJobStatus validates a wire/API status value.
func ParseJobStatus(value string) (JobStatus, bool) {
	switch JobStatus(value) {
	case JobStatusPending, JobStatusQueued, JobStatusRunning,
		JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return JobStatus(value), true
	default:
		return "", false
	}
}

// IsTerminal reports whether the status is absorbing.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// TerminalStatuses is the guard list used by conditional updates.
func TerminalStatuses() []JobStatus {
	return []JobStatus{JobStatusSucceeded, JobStatusFailed, JobStatusCancelled}
}

// RepositorySpec points a node at a repository checkout for a job.
type RepositorySpec struct {
	URL          string `json:"url"`
	Branch       string `json:"branch,omitempty"`
	Subdirectory string `json:"subdirectory,omitempty"`
}

type Job struct {
	ID            string                                `gorm:"column:job_id;primaryKey" json:"job_id"`
	Prompt        string                                `gorm:"column:prompt;not null" json:"prompt"`
	Status        JobStatus                             `gorm:"column:status;not null;index" json:"status"`
	TargetNodeID  *string                               `gorm:"column:target_node_id" json:"target_node_id"`
	RequestedTags datatypes.JSONSlice[string]           `gorm:"column:requested_tags" json:"requested_tags"`
	Repositories  datatypes.JSONSlice[RepositorySpec]   `gorm:"column:repositories" json:"repositories"`
	Metadata      datatypes.JSONType[map[string]string] `gorm:"column:metadata" json:"metadata"`
	LogPath       *string                               `gorm:"column:log_path" json:"log_path"`
	ResultSummary *string                               `gorm:"column:result_summary" json:"result_summary"`
	ErrorMessage  *string                               `gorm:"column:error_message" json:"error_message"`
	CreatedAt     time.Time                             `gorm:"column:created_at;not null;index" json:"created_at"`
	FinishedAt    *time.Time                            `gorm:"column:finished_at" json:"finished_at"`
}

func (Job) TableName() string { return "jobs" }
