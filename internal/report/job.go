package report

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is a queued report submission, handed to the worker by id.
type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	IdempotencyKey *string `gorm:"type:varchar(128);uniqueIndex:uniq_report_job_idempo" json:"idempotency_key"`

	Company string `gorm:"type:varchar(100);index;not null"`
	// Payload is the JSON encoded Request
	Payload string `gorm:"type:text;not null"`

	Status   JobStatus `gorm:"type:varchar(16);index;not null"`
	Attempts int       `gorm:"not null;default:0"`

	// Filled when succeeded
	ReportID *string `gorm:"type:varchar(64);index"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Job) TableName() string { return "report_jobs" }

func (j *Job) Request() (Request, error) {
	var req Request
	err := json.Unmarshal([]byte(j.Payload), &req)
	return req, err
}
