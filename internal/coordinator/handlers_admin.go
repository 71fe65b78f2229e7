package coordinator

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jobmesh/platform/internal/httpapi/response"
	"github.com/jobmesh/platform/internal/pkg/dbctx"
	"github.com/jobmesh/platform/internal/platform/apierr"
	"github.com/jobmesh/platform/internal/store"
)

// AdminHandler serves the operator tooling surface gated behind the
// pre-shared admin bearer token: release, cleanup, recover, and the
// SELECT-only raw query escape hatch.
type AdminHandler struct {
	svc     *Service
	jobs    store.JobStore
	workers store.WorkerStore
	db      *store.DB
	cfg     Config
}

func NewAdminHandler(svc *Service, jobs store.JobStore, workers store.WorkerStore, db *store.DB, cfg Config) *AdminHandler {
	return &AdminHandler{svc: svc, jobs: jobs, workers: workers, db: db, cfg: cfg}
}

// ReleaseJob handles POST /jobs/{id}/release (admin), forcing claimed or
// processing back to pending.
func (h *AdminHandler) ReleaseJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondAPIErr(c, apierr.Of(apierr.Validation, errInvalidJobID))
		return
	}
	job, err := h.svc.ReleaseJob(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	response.RespondOK(c, jobToView(job))
}

// RecoverJobs handles POST /admin/recover-jobs: an on-demand run of the same
// repairs L1/L2/L3 perform on a timer, useful for operator-triggered
// recovery outside the regular cadence.
func (h *AdminHandler) RecoverJobs(c *gin.Context) {
	ctx := c.Request.Context()
	now := time.Now().UTC()
	dbc := dbctx.Context{Ctx: ctx}

	orphanHeartbeatCutoff := now.Add(-5 * time.Minute)
	orphaned, err := h.jobs.ReleaseOrphaned(dbc, orphanHeartbeatCutoff, 100)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	stuck, err := h.jobs.ReleaseStuckClaims(dbc, now.Add(-time.Duration(h.cfg.ClaimedJobTimeoutSeconds)*time.Second), 100)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	results, err := h.jobs.FailStuckProcessing(dbc, now.Add(-time.Duration(h.cfg.ProcessingJobTimeoutSeconds)*time.Second), orphanHeartbeatCutoff, 100)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	response.RespondOK(c, RecoverJobsResponse{
		OrphanedReleased: orphaned,
		StuckReleased:    stuck,
		TimedOutFailed:   len(results),
	})
}

// Cleanup handles POST /admin/cleanup: soft-deletes live workers whose last
// heartbeat is older than BOT_RETENTION_DAYS. The dry_run=true query
// parameter reports the count without mutating; the CLEANUP_DRY_RUN config
// value is not read here.
func (h *AdminHandler) Cleanup(c *gin.Context) {
	dryRun := c.Query("dry_run") == "true"
	ctx := c.Request.Context()
	retentionDays := h.cfg.BotRetentionDays
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	stale, err := h.workers.ListStaleHeartbeats(dbctx.Context{Ctx: ctx}, cutoff, 1000)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	if !dryRun {
		for _, w := range stale {
			if err := h.workers.SoftDelete(dbctx.Context{Ctx: ctx}, w.ID); err != nil {
				response.RespondAPIErr(c, err)
				return
			}
		}
	}
	response.RespondOK(c, CleanupResponse{DeletedWorkers: len(stale), DryRun: dryRun})
}

// Query handles POST /admin/query: a SELECT-only escape hatch for ops
// diagnostics. Any statement not beginning with SELECT (case-insensitive,
// ignoring leading whitespace) is rejected before it reaches the database.
func (h *AdminHandler) Query(c *gin.Context) {
	var req AdminQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "VALIDATION", err)
		return
	}
	trimmed := strings.TrimSpace(req.SQL)
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		response.RespondAPIErr(c, apierr.Of(apierr.Validation, errAdminQueryNotSelect))
		return
	}
	rows, err := h.db.Query(c.Request.Context(), trimmed)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"rows": rows})
}
