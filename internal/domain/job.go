// Package domain holds the persisted entity types shared by the
// coordinator, recovery loops, and store layer: Job, Worker, Result, and
// their supporting records. These are gorm models, grounded on the
// teacher's internal/domain/jobs.JobRun row layout.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the closed set of states a Job can occupy (§3).
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobClaimed    JobStatus = "claimed"
	JobProcessing JobStatus = "processing"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
)

// Job is a unit of work: two operands and an operation name, carried
// through the pending -> claimed -> processing -> {succeeded, failed}
// lifecycle (with claimed/processing -> pending recovery edges).
type Job struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	A         int       `gorm:"not null" json:"a"`
	B         int       `gorm:"not null" json:"b"`
	Operation string    `gorm:"not null;index" json:"operation"`

	Status JobStatus `gorm:"not null;index;default:pending" json:"status"`

	ClaimedBy *uuid.UUID `gorm:"type:uuid;index" json:"claimed_by,omitempty"`

	CreatedAt  time.Time  `gorm:"not null;index" json:"created_at"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Attempts int     `gorm:"not null;default:0" json:"attempts"`
	Error    *string `json:"error,omitempty"`
}

func (Job) TableName() string { return "jobs" }

// NewJob constructs a fresh pending job with a random id.
func NewJob(a, b int, operation string) *Job {
	return &Job{
		ID:        uuid.New(),
		A:         a,
		B:         b,
		Operation: operation,
		Status:    JobPending,
		CreatedAt: time.Now().UTC(),
		Attempts:  0,
	}
}

// IsTerminal reports whether the job has reached succeeded or failed.
func (j *Job) IsTerminal() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}
