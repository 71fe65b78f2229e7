package recovery

import (
	"context"
	"time"

	"github.com/jobmesh/platform/internal/domain"
	"github.com/jobmesh/platform/internal/operations"
)

// tickOrphanedClaim is L1.
func (m *Manager) tickOrphanedClaim(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-m.cfg.OrphanHeartbeatTimeout)
	return m.jobs.ReleaseOrphaned(m.dbc(ctx), cutoff, m.cfg.PerCycleBudget)
}

// tickStuckClaim is L2.
func (m *Manager) tickStuckClaim(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-m.cfg.ClaimedJobTimeout)
	return m.jobs.ReleaseStuckClaims(m.dbc(ctx), cutoff, m.cfg.PerCycleBudget)
}

// tickStuckProcessing is L3, paired with the health-annotation half of L4:
// FailStuckProcessing marks a zombie worker potentially_stuck (stamping
// HealthFlaggedAt) as it terminal-fails the job. This tick also sweeps
// ClearResolvedHealthFlags so a worker whose stuck job has since resolved
// one way or another (e.g. it was admin-released, or a different loop
// already failed it) loses the flag without waiting on another processing
// timeout to clear it — but only once the flag has stood for at least
// HealthFlagMinDwell, so a worker L3 flags this same tick stays flagged
// until the next cycle rather than being cleared before anyone can observe
// it. A worker can still leave the flagged state sooner than that by
// heartbeating successfully, which clears the flag directly.
func (m *Manager) tickStuckProcessing(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	startedBefore := now.Add(-m.cfg.ProcessingJobTimeout)
	heartbeatCutoff := now.Add(-m.cfg.OrphanHeartbeatTimeout)
	flaggedBefore := now.Add(-m.cfg.HealthFlagMinDwell)
	dbc := m.dbc(ctx)

	results, err := m.jobs.FailStuckProcessing(dbc, startedBefore, heartbeatCutoff, m.cfg.PerCycleBudget)
	if err != nil {
		return 0, err
	}
	cleared, err := m.workers.ClearResolvedHealthFlags(dbc, flaggedBefore, m.cfg.PerCycleBudget)
	if err != nil {
		return len(results), err
	}
	return len(results) + cleared, nil
}

// tickIdempotencyGC is L5 (SUPPLEMENTED): registration replay records older
// than their TTL are deleted so the idempotency table doesn't grow without
// bound. Every record whose expires_at has passed is eligible, up to
// PerCycleBudget rows per tick.
func (m *Manager) tickIdempotencyGC(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC()
	return m.idemp.DeleteExpired(m.dbc(ctx), cutoff, m.cfg.PerCycleBudget)
}

// tickAuthWindowGC is L6 (SUPPLEMENTED): reaps stale in-memory rate-limit
// bookkeeping. A no-op when the coordinator is backed by Redis.
func (m *Manager) tickAuthWindowGC(ctx context.Context) (int, error) {
	return m.authgc.DeleteExpiredWindows(ctx, m.cfg.AuthWindowTTL, m.cfg.PerCycleBudget)
}

// tickAutoPopulate is the liveness harness from §4.4: periodically insert a
// batch of synthetic jobs across the configured operation distribution so
// there is always traffic flowing through the queue even with no external
// job producer, grounded on coordinator.Service.Populate's distribution
// logic but driven by a ticker instead of an admin request.
func (m *Manager) tickAutoPopulate(ctx context.Context) (int, error) {
	opNames := m.cfg.AutoPopulateOperations
	if len(opNames) == 0 {
		opNames = operations.Names()
	}
	minOperand, maxOperand := m.cfg.AutoPopulateMinOperand, m.cfg.AutoPopulateMaxOperand
	if maxOperand <= minOperand {
		minOperand, maxOperand = 1, 100
	}
	jobs := make([]*domain.Job, 0, m.cfg.AutoPopulateBatchSize)
	for i := 0; i < m.cfg.AutoPopulateBatchSize; i++ {
		op := opNames[i%len(opNames)]
		a := minOperand + (i*7)%(maxOperand-minOperand+1)
		b := minOperand + (i*13)%(maxOperand-minOperand+1)
		jobs = append(jobs, domain.NewJob(a, b, op))
	}
	if err := m.jobs.CreateBatch(m.dbc(ctx), jobs); err != nil {
		return 0, err
	}
	return len(jobs), nil
}
