// Package recovery runs the coordinator's background repair loops (§4.4):
// independent tickers that scan for orphaned claims, stuck claims, stuck
// processing, bot-health annotation, idempotency-record GC, and the
// auto-populate liveness harness. Grounded on the teacher's
// internal/jobs/worker.Worker.Start/runLoop: one goroutine per loop, each
// driven by its own time.Ticker and stopped by context cancellation.
package recovery

import (
	"context"
	"time"

	"github.com/jobmesh/platform/internal/pkg/dbctx"
	"github.com/jobmesh/platform/internal/platform/logger"
	"github.com/jobmesh/platform/internal/platform/metrics"
	"github.com/jobmesh/platform/internal/store"
)

// Config controls the cadence and thresholds every loop reads from.
type Config struct {
	OrphanHeartbeatTimeout time.Duration // L1: worker silence before its claim is orphaned
	ClaimedJobTimeout      time.Duration // L2: max time a job may sit claimed
	ProcessingJobTimeout   time.Duration // L3: max time a job may sit processing
	LoopInterval           time.Duration // L1/L2/L3/L4 cadence

	// HealthFlagMinDwell is how long a worker's potentially_stuck flag must
	// stand before L4's clearing sweep will lift it, so the flag set by L3
	// is observable for at least one window rather than being cleared by
	// the same tick that set it.
	HealthFlagMinDwell time.Duration

	IdempotencyGCInterval time.Duration // L5 cadence
	IdempotencyTTL        time.Duration

	AuthWindowGCInterval time.Duration // L6 cadence
	AuthWindowTTL        time.Duration

	AutoPopulateEnabled    bool
	AutoPopulateInterval   time.Duration
	AutoPopulateBatchSize  int
	AutoPopulateOperations []string
	AutoPopulateMinOperand int
	AutoPopulateMaxOperand int

	// PerCycleBudget bounds how many rows a single tick of any loop will
	// touch, per §4.4's "bounded per-cycle work budget (max ~100
	// repairs/cycle)".
	PerCycleBudget int
}

func (c *Config) applyDefaults() {
	if c.LoopInterval <= 0 {
		c.LoopInterval = 60 * time.Second
	}
	if c.OrphanHeartbeatTimeout <= 0 {
		c.OrphanHeartbeatTimeout = 5 * time.Minute
	}
	if c.ClaimedJobTimeout <= 0 {
		c.ClaimedJobTimeout = 5 * time.Minute
	}
	if c.ProcessingJobTimeout <= 0 {
		c.ProcessingJobTimeout = 10 * time.Minute
	}
	if c.HealthFlagMinDwell <= 0 {
		c.HealthFlagMinDwell = c.LoopInterval
	}
	if c.IdempotencyGCInterval <= 0 {
		c.IdempotencyGCInterval = 15 * time.Minute
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 24 * time.Hour
	}
	if c.AuthWindowGCInterval <= 0 {
		c.AuthWindowGCInterval = 15 * time.Minute
	}
	if c.AuthWindowTTL <= 0 {
		c.AuthWindowTTL = 24 * time.Hour
	}
	if c.PerCycleBudget <= 0 {
		c.PerCycleBudget = 100
	}
	if c.AutoPopulateBatchSize <= 0 {
		c.AutoPopulateBatchSize = 10
	}
}

// Manager owns the goroutines backing every recovery loop and the
// auto-populate harness. Start spawns them; loops stop when the context
// passed to Start is cancelled.
type Manager struct {
	cfg     Config
	jobs    store.JobStore
	workers store.WorkerStore
	idemp   store.IdempotencyStore
	authgc  AuthWindowStore
	metrics *metrics.Metrics
	log     *logger.Logger
}

// AuthWindowStore is satisfied by the auth package's rate limiter
// implementations (L6, SUPPLEMENTED); a nil value disables L6.
type AuthWindowStore interface {
	DeleteExpiredWindows(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

func NewManager(jobs store.JobStore, workers store.WorkerStore, idemp store.IdempotencyStore, authgc AuthWindowStore, m *metrics.Metrics, log *logger.Logger, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:     cfg,
		jobs:    jobs,
		workers: workers,
		idemp:   idemp,
		authgc:  authgc,
		metrics: m,
		log:     log.With("component", "recovery.Manager"),
	}
}

// Start launches every loop as its own goroutine and returns immediately.
func (m *Manager) Start(ctx context.Context) {
	go m.runEvery(ctx, "orphaned_claim", m.cfg.LoopInterval, m.tickOrphanedClaim)
	go m.runEvery(ctx, "stuck_claim", m.cfg.LoopInterval, m.tickStuckClaim)
	go m.runEvery(ctx, "stuck_processing", m.cfg.LoopInterval, m.tickStuckProcessing)
	go m.runEvery(ctx, "idempotency_gc", m.cfg.IdempotencyGCInterval, m.tickIdempotencyGC)
	if m.authgc != nil {
		go m.runEvery(ctx, "auth_window_gc", m.cfg.AuthWindowGCInterval, m.tickAuthWindowGC)
	}
	if m.cfg.AutoPopulateEnabled && m.cfg.AutoPopulateInterval > 0 {
		go m.runEvery(ctx, "auto_populate", m.cfg.AutoPopulateInterval, m.tickAutoPopulate)
	}
}

// runEvery ticks fn on interval until ctx is cancelled, logging (but not
// propagating) any error fn returns so one bad cycle never kills the loop.
func (m *Manager) runEvery(ctx context.Context, name string, interval time.Duration, fn func(context.Context) (int, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("recovery loop stopped", "loop", name)
			return
		case <-ticker.C:
			count, err := fn(ctx)
			if err != nil {
				m.log.Warn("recovery loop tick failed", "loop", name, "error", err)
				continue
			}
			if count > 0 {
				m.log.Info("recovery loop repaired rows", "loop", name, "count", count, "reason", "auto-cleanup")
			}
			if m.metrics != nil {
				m.metrics.ObserveRepair(name, count)
			}
		}
	}
}

func (m *Manager) dbc(ctx context.Context) dbctx.Context {
	return dbctx.Context{Ctx: ctx}
}
