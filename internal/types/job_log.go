package types

import "time"

// JobLogEntry is an append-only log line keyed by (job_id, seq). Sequence
// numbers per job start at 1 and are dense.
type JobLogEntry struct {
	JobID     string    `gorm:"column:job_id;primaryKey" json:"job_id"`
	Seq       int64     `gorm:"column:seq;primaryKey;autoIncrement:false" json:"seq"`
	Timestamp time.Time `gorm:"column:timestamp;not null" json:"timestamp"`
	Level     string    `gorm:"column:level;not null" json:"level"`
	Message   string    `gorm:"column:message;not null" json:"message"`
}

func (JobLogEntry) TableName() string { return "job_logs" }
