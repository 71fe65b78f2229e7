// Package coordinator implements C3: the authoritative REST surface and
// state machine for registration, heartbeat, claim, start, complete, and
// fail, plus the administrative surface. Grounded on the teacher's
// services/auth.go transaction-per-operation shape, generalized from a
// user/session domain to the job/worker domain.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jobmesh/platform/internal/auth"
	"github.com/jobmesh/platform/internal/domain"
	"github.com/jobmesh/platform/internal/operations"
	"github.com/jobmesh/platform/internal/pkg/dbctx"
	"github.com/jobmesh/platform/internal/pkg/pointers"
	"github.com/jobmesh/platform/internal/platform/apierr"
	"github.com/jobmesh/platform/internal/platform/logger"
	"github.com/jobmesh/platform/internal/platform/metrics"
	"github.com/jobmesh/platform/internal/store"
)

// Config carries the server-side policy values echoed into registration
// responses and used to compute recovery thresholds.
type Config struct {
	Region                      string
	Version                     string
	Queue                       string
	HeartbeatIntervalSec        int
	ClaimedJobTimeoutSeconds    int
	ProcessingJobTimeoutSeconds int
	BotRetentionDays            int
}

type Service struct {
	jobs        store.JobStore
	workers     store.WorkerStore
	results     store.ResultStore
	idempotency store.IdempotencyStore
	db          *dbGate
	auth        *auth.Service
	metrics     *metrics.Metrics
	log         *logger.Logger
	cfg         Config
}

// dbGate is an alias for store.DB, the seam Service uses to open
// transactions without importing gorm directly.
type dbGate = store.DB

func NewService(
	jobs store.JobStore,
	workers store.WorkerStore,
	results store.ResultStore,
	idempotency store.IdempotencyStore,
	db *store.DB,
	authSvc *auth.Service,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg Config,
) *Service {
	return &Service{
		jobs:        jobs,
		workers:     workers,
		results:     results,
		idempotency: idempotency,
		db:          db,
		auth:        authSvc,
		metrics:     m,
		log:         log.With("service", "coordinator.Service"),
		cfg:         cfg,
	}
}

func jobToView(j *domain.Job) JobView {
	v := JobView{
		ID:         j.ID.String(),
		A:          j.A,
		B:          j.B,
		Operation:  j.Operation,
		Status:     string(j.Status),
		CreatedAt:  j.CreatedAt,
		ClaimedAt:  j.ClaimedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		Attempts:   j.Attempts,
		Error:      j.Error,
	}
	if j.ClaimedBy != nil {
		v.ClaimedBy = pointers.Ptr(j.ClaimedBy.String())
	}
	return v
}

func workerToView(w *domain.Worker) WorkerView {
	v := WorkerView{
		ID:                w.ID.String(),
		BotKey:            w.BotKey,
		AssignedOperation: w.AssignedOperation,
		Status:            string(w.Status),
		HealthStatus:      string(w.HealthStatus),
		LastHeartbeatAt:   w.LastHeartbeatAt,
		CreatedAt:         w.CreatedAt,
		DeletedAt:         w.DeletedAt,
	}
	if w.CurrentJobID != nil {
		v.CurrentJobID = pointers.Ptr(w.CurrentJobID.String())
	}
	return v
}

// Register implements §4.3.1. The Idempotency-Key replay check reads the
// cache before any transaction is opened; on a miss, the worker upsert and
// the response-cache write run together in one s.db.Transaction.
func (s *Service) Register(ctx context.Context, idempotencyKey string, req RegisterRequest) (*RegisterResponse, bool, error) {
	if _, err := uuid.Parse(idempotencyKey); err != nil {
		return nil, false, apierr.Of(apierr.Validation, errors.New("idempotency key must be a uuid"))
	}
	if req.BotKey == "" {
		return nil, false, apierr.Of(apierr.Validation, errors.New("bot_key is required"))
	}
	for _, op := range req.Capabilities.Operations {
		if !operations.Valid(op) {
			return nil, false, apierr.Of(apierr.Validation, fmt.Errorf("unknown operation %q", op))
		}
	}

	dbc := dbctx.Context{Ctx: ctx}
	cached, err := s.idempotency.Get(dbc, idempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if cached != nil {
		var resp RegisterResponse
		if err := json.Unmarshal(cached.ResponseBody, &resp); err != nil {
			return nil, false, apierr.Of(apierr.Unavailable, fmt.Errorf("decode cached registration: %w", err))
		}
		return &resp, true, nil
	}

	var assignedOp *string
	if len(req.Capabilities.Operations) == 1 {
		assignedOp = pointers.Ptr(req.Capabilities.Operations[0])
	}

	var resp RegisterResponse
	err = s.db.Transaction(ctx, func(tdbc dbctx.Context) error {
		worker, err := s.workers.Upsert(tdbc, req.BotKey, assignedOp)
		if err != nil {
			return err
		}

		maxConcurrency := req.Capabilities.MaxConcurrency
		if maxConcurrency <= 0 {
			maxConcurrency = 1
		}
		heartbeatInterval := s.cfg.HeartbeatIntervalSec
		sessionTTL := int(s.auth.SessionTTLSeconds())
		if heartbeatInterval > sessionTTL/3 {
			heartbeatInterval = sessionTTL / 3
		}
		if heartbeatInterval < 1 {
			heartbeatInterval = 1
		}

		resp = RegisterResponse{
			BotID:        worker.ID.String(),
			RegisteredAt: worker.CreatedAt,
			Session: SessionInfo{
				SessionID:            uuid.NewString(),
				ExpiresInSec:         sessionTTL,
				HeartbeatIntervalSec: heartbeatInterval,
			},
			Assignment: AssignmentInfo{
				Operation:      assignedOp,
				Queue:          s.cfg.Queue,
				MaxConcurrency: maxConcurrency,
			},
			Policy: PolicyInfo{
				RateLimits: map[string]interface{}{"auth_failures_per_window": auth.DefaultFailureThreshold},
				Backoff:    map[string]interface{}{"schedule_seconds": []int{60, 120, 300, 900}},
			},
			Endpoints: EndpointsInfo{
				Heartbeat: "/bots/heartbeat",
				Claim:     "/jobs/claim",
				Report:    "/jobs/{id}/complete",
			},
			Server: ServerInfo{Region: s.cfg.Region, Version: s.cfg.Version},
		}

		body, err := json.Marshal(resp)
		if err != nil {
			return apierr.Of(apierr.Unavailable, fmt.Errorf("encode registration response: %w", err))
		}
		return s.idempotency.Put(tdbc, idempotencyKey, 200, body, domain.DefaultIdempotencyTTL)
	})
	if err != nil {
		return nil, false, err
	}
	return &resp, false, nil
}

// Heartbeat implements §4.3.2.
func (s *Service) Heartbeat(ctx context.Context, botID uuid.UUID) (*domain.Worker, error) {
	return s.workers.Heartbeat(dbctx.Context{Ctx: ctx}, botID)
}

// Claim implements §4.3.3, the atomic claim critical section.
func (s *Service) Claim(ctx context.Context, botID uuid.UUID) (*domain.Job, error) {
	worker, err := s.workers.GetByID(dbctx.Context{Ctx: ctx}, botID)
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.ClaimNext(dbctx.Context{Ctx: ctx}, botID, worker.AssignedOperation)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ObserveClaim("error")
		}
		return nil, err
	}
	if s.metrics != nil {
		if job != nil {
			s.metrics.ObserveClaim("claimed")
		} else {
			s.metrics.ObserveClaim("empty")
		}
	}
	return job, nil
}

// Start implements the `start` leg of §4.3.4.
func (s *Service) Start(ctx context.Context, jobID, botID uuid.UUID) (*domain.Job, error) {
	return s.jobs.TransitionStart(dbctx.Context{Ctx: ctx}, jobID, botID)
}

// Complete implements the `complete` leg of §4.3.4. reportedValue is the
// result the worker computed; the coordinator records it as given and does
// not recompute or verify it against the job's operands.
func (s *Service) Complete(ctx context.Context, jobID, botID uuid.UUID, reportedValue int, duration time.Duration) (*domain.Job, *domain.Result, error) {
	job, result, err := s.jobs.TransitionComplete(dbctx.Context{Ctx: ctx}, jobID, botID, reportedValue, duration)
	if err != nil {
		return nil, nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveJobTerminal(string(domain.JobSucceeded), job.Operation)
	}
	return job, result, nil
}

// Fail implements the `fail` leg of §4.3.4.
func (s *Service) Fail(ctx context.Context, jobID, botID uuid.UUID, errMsg string, duration time.Duration) (*domain.Job, *domain.Result, error) {
	job, result, err := s.jobs.TransitionFail(dbctx.Context{Ctx: ctx}, jobID, botID, errMsg, duration)
	if err != nil {
		return nil, nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveJobTerminal(string(domain.JobFailed), job.Operation)
	}
	return job, result, nil
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return s.jobs.GetByID(dbctx.Context{Ctx: ctx}, id)
}

func (s *Service) ListJobs(ctx context.Context, status string, limit, offset int) ([]*domain.Job, error) {
	return s.jobs.List(dbctx.Context{Ctx: ctx}, status, limit, offset)
}

func (s *Service) ListWorkers(ctx context.Context, includeDeleted bool, limit, offset int) ([]*domain.Worker, error) {
	return s.workers.List(dbctx.Context{Ctx: ctx}, includeDeleted, limit, offset)
}

func (s *Service) GetWorker(ctx context.Context, id uuid.UUID) (*domain.Worker, error) {
	return s.workers.GetByID(dbctx.Context{Ctx: ctx}, id)
}

// WorkerStats aggregates a worker's result history for the admin read
// model at GET /bots/{id}/stats.
func (s *Service) WorkerStats(ctx context.Context, id uuid.UUID) (*WorkerStatsView, error) {
	worker, err := s.workers.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, err
	}
	// WorkerStats needs an aggregate by processed_by, which the read-side
	// List doesn't filter on; scan the recent window and filter in memory.
	// Only the 10000 most recent results are scanned.
	all, err := s.results.List(dbctx.Context{Ctx: ctx}, 10000, 0)
	if err != nil {
		return nil, err
	}
	var succeeded, failed int64
	var totalDuration float64
	var n float64
	for _, r := range all {
		if r.ProcessedBy != id {
			continue
		}
		switch r.Status {
		case domain.JobSucceeded:
			succeeded++
		case domain.JobFailed:
			failed++
		}
		totalDuration += float64(r.DurationMS)
		n++
	}
	avg := 0.0
	if n > 0 {
		avg = totalDuration / n
	}
	return &WorkerStatsView{
		Worker:        workerToView(worker),
		JobsSucceeded: succeeded,
		JobsFailed:    failed,
		AvgDurationMS: avg,
	}, nil
}

// --- Administrative operations ---

func (s *Service) Populate(ctx context.Context, req PopulateRequest) (int, error) {
	opNames := req.Operations
	if len(opNames) == 0 {
		opNames = operations.Names()
	}
	minOperand, maxOperand := req.MinOperand, req.MaxOperand
	if maxOperand <= minOperand {
		minOperand, maxOperand = 1, 100
	}
	jobs := make([]*domain.Job, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		op := opNames[i%len(opNames)]
		a := minOperand + (i*7)%(maxOperand-minOperand+1)
		b := minOperand + (i*13)%(maxOperand-minOperand+1)
		jobs = append(jobs, domain.NewJob(a, b, op))
	}
	if err := s.jobs.CreateBatch(dbctx.Context{Ctx: ctx}, jobs); err != nil {
		return 0, err
	}
	return len(jobs), nil
}

func (s *Service) SoftDeleteWorker(ctx context.Context, id uuid.UUID) error {
	return s.db.Transaction(ctx, func(tdbc dbctx.Context) error {
		worker, err := s.workers.GetByID(tdbc, id)
		if err != nil {
			return err
		}
		if worker.CurrentJobID != nil {
			if _, err := s.jobs.AdminRelease(tdbc, *worker.CurrentJobID); err != nil {
				return err
			}
		}
		return s.workers.SoftDelete(tdbc, id)
	})
}

func (s *Service) ResetWorker(ctx context.Context, id uuid.UUID) (*domain.Worker, error) {
	var out *domain.Worker
	err := s.db.Transaction(ctx, func(tdbc dbctx.Context) error {
		worker, err := s.workers.GetByID(tdbc, id)
		if err != nil {
			return err
		}
		if worker.CurrentJobID != nil {
			if _, err := s.jobs.AdminRelease(tdbc, *worker.CurrentJobID); err != nil {
				return err
			}
		}
		revived, err := s.workers.Upsert(tdbc, worker.BotKey, worker.AssignedOperation)
		if err != nil {
			return err
		}
		out = revived
		return nil
	})
	return out, err
}

func (s *Service) AssignOperation(ctx context.Context, id uuid.UUID, operation *string) error {
	if operation != nil && !operations.Valid(*operation) {
		return apierr.Of(apierr.Validation, fmt.Errorf("unknown operation %q", *operation))
	}
	return s.db.Exec(ctx, "UPDATE bots SET assigned_operation = ? WHERE id = ?", operation, id)
}

func (s *Service) ReleaseJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return s.jobs.AdminRelease(dbctx.Context{Ctx: ctx}, id)
}
