// Package store is the persistence layer (C1): a bounded connection pool
// plus transactional repositories for jobs, workers, results, and
// idempotency records. Grounded on the teacher's gorm-backed
// internal/data/repos/jobs.JobRunRepo, generalized from a single job-queue
// table to the coordinator's full schema.
package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jobmesh/platform/internal/domain"
)

// Open connects to Postgres and bounds the pool per §4.1 (default
// 5-20 connections).
func Open(dsn string, maxOpen, maxIdle int, dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	if maxOpen <= 0 {
		maxOpen = 20
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Migrate enforces the schema at initialization: the four core tables plus
// the partial unique index on bots.current_job_id that is the
// belt-and-braces guard against double-assignment (§4.1).
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.Job{},
		&domain.Worker{},
		&domain.Result{},
		&domain.IdempotencyRecord{},
	); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}

	// Partial-unique-index syntax is shared by Postgres and SQLite (both
	// used here: Postgres in production, SQLite in-memory for the store's
	// unit tests), so the bootstrap statements run unconditionally.
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bots_current_job_id_unique
			ON bots (current_job_id) WHERE current_job_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_claimed_by ON jobs (claimed_by)`,
		`CREATE INDEX IF NOT EXISTS idx_bots_last_heartbeat_at ON bots (last_heartbeat_at)`,
		`CREATE INDEX IF NOT EXISTS idx_results_processed_at ON results (processed_at)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}
