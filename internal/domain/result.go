package domain

import (
	"time"

	"github.com/google/uuid"
)

// Result is the immutable audit record emitted once per terminal
// transition. It is never mutated after insert.
type Result struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	JobID     uuid.UUID `gorm:"type:uuid;not null;index" json:"job_id"`
	A         int       `gorm:"not null" json:"a"`
	B         int       `gorm:"not null" json:"b"`
	Operation string    `gorm:"not null" json:"operation"`

	// Value holds the computed result on success; it is the zero value and
	// ignored by callers when Status is failed.
	Value int `json:"value"`

	ProcessedBy uuid.UUID `gorm:"type:uuid;not null;index" json:"processed_by"`
	DurationMS  int64     `gorm:"not null" json:"duration_ms"`
	Status      JobStatus `gorm:"not null" json:"status"`
	Error       *string   `json:"error,omitempty"`

	ProcessedAt time.Time `gorm:"not null;index" json:"processed_at"`
}

func (Result) TableName() string { return "results" }

// NewResult builds a Result row for a terminal transition.
func NewResult(job *Job, workerID uuid.UUID, value int, duration time.Duration, status JobStatus, errMsg *string) *Result {
	return &Result{
		ID:          uuid.New(),
		JobID:       job.ID,
		A:           job.A,
		B:           job.B,
		Operation:   job.Operation,
		Value:       value,
		ProcessedBy: workerID,
		DurationMS:  duration.Milliseconds(),
		Status:      status,
		Error:       errMsg,
		ProcessedAt: time.Now().UTC(),
	}
}
