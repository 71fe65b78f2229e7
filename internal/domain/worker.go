package domain

import (
	"time"

	"github.com/google/uuid"
)

// WorkerStatus is the closed set of states a Worker (bot) can occupy (§3).
type WorkerStatus string

const (
	WorkerIdle WorkerStatus = "idle"
	WorkerBusy WorkerStatus = "busy"
	WorkerDown WorkerStatus = "down"
)

// HealthStatus is the soft diagnostic flag L3/L4 use to mark a worker whose
// job has been running suspiciously long while it is still heartbeating.
type HealthStatus string

const (
	HealthNormal           HealthStatus = "normal"
	HealthPotentiallyStuck HealthStatus = "potentially_stuck"
)

// Worker is a registered agent. BotKey identifies the logical principal
// across process restarts; ID is the server-issued identity for the current
// registration.
type Worker struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BotKey string    `gorm:"not null;index" json:"bot_key"`

	AssignedOperation *string `gorm:"index" json:"assigned_operation,omitempty"`

	Status       WorkerStatus `gorm:"not null;default:idle" json:"status"`
	HealthStatus HealthStatus `gorm:"not null;default:normal" json:"health_status"`

	LastHeartbeatAt time.Time  `gorm:"not null;index" json:"last_heartbeat_at"`
	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
	DeletedAt       *time.Time `gorm:"index" json:"deleted_at,omitempty"`

	// HealthFlaggedAt records when HealthStatus last transitioned to
	// potentially_stuck. L4's clearing sweep requires this to predate its
	// own tick by a minimum dwell so the flag is observable for at least
	// one interval instead of being set and lifted within the same cycle
	// that marked it.
	HealthFlaggedAt *time.Time `json:"health_flagged_at,omitempty"`

	// CurrentJobID is non-null iff Status == busy. The partial unique index
	// on this column (declared in the store's bootstrap schema) is the
	// belt-and-braces guard against double-assignment across live workers.
	CurrentJobID *uuid.UUID `gorm:"type:uuid" json:"current_job_id,omitempty"`
}

func (Worker) TableName() string { return "bots" }

// IsLive reports liveness per §3: not soft-deleted and heartbeating within
// threshold.
func (w *Worker) IsLive(now time.Time, threshold time.Duration) bool {
	if w.DeletedAt != nil {
		return false
	}
	return now.Sub(w.LastHeartbeatAt) < threshold
}

// DefaultLivenessThreshold is the §3 default "now − last_heartbeat_at < 2m".
const DefaultLivenessThreshold = 2 * time.Minute
