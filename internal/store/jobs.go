package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jobmesh/platform/internal/domain"
	"github.com/jobmesh/platform/internal/pkg/dbctx"
	"github.com/jobmesh/platform/internal/platform/apierr"
)

// JobStore is the transactional store for jobs. Every mutation is a single
// short transaction, per §4.1's "with_tx" contract.
type JobStore interface {
	CreateBatch(dbc dbctx.Context, jobs []*domain.Job) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Job, error)
	List(dbc dbctx.Context, status string, limit, offset int) ([]*domain.Job, error)

	// ClaimNext is the critical section from §4.3.3: it locks the oldest
	// matching pending row with FOR UPDATE SKIP LOCKED (Postgres) so
	// concurrent claimers never see the same candidate twice, and binds it
	// to botID. Returns (nil, nil) when nothing is claimable.
	ClaimNext(dbc dbctx.Context, botID uuid.UUID, assignedOperation *string) (*domain.Job, error)

	TransitionStart(dbc dbctx.Context, jobID, botID uuid.UUID) (*domain.Job, error)
	TransitionComplete(dbc dbctx.Context, jobID, botID uuid.UUID, value int, duration time.Duration) (*domain.Job, *domain.Result, error)
	TransitionFail(dbc dbctx.Context, jobID, botID uuid.UUID, errMsg string, duration time.Duration) (*domain.Job, *domain.Result, error)

	// ReleaseOrphaned implements L1: jobs claimed by a worker that has
	// stopped heartbeating are returned to pending.
	ReleaseOrphaned(dbc dbctx.Context, heartbeatCutoff time.Time, limit int) (int, error)
	// ReleaseStuckClaims implements L2: jobs stuck in `claimed` past the
	// configured timeout, regardless of worker liveness.
	ReleaseStuckClaims(dbc dbctx.Context, claimedBefore time.Time, limit int) (int, error)
	// FailStuckProcessing implements L3: jobs stuck in `processing` past the
	// configured timeout whose worker is still heartbeating are terminally
	// failed, and the worker is flagged potentially_stuck (L4).
	FailStuckProcessing(dbc dbctx.Context, startedBefore, heartbeatCutoff time.Time, limit int) ([]*domain.Result, error)

	// AdminRelease forces a claimed/processing job back to pending.
	AdminRelease(dbc dbctx.Context, jobID uuid.UUID) (*domain.Job, error)
}

type jobStore struct {
	db *gorm.DB
}

func NewJobStore(db *gorm.DB) JobStore {
	return &jobStore{db: db}
}

func (s *jobStore) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return s.db
}

func (s *jobStore) CreateBatch(dbc dbctx.Context, jobs []*domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	if err := s.tx(dbc).WithContext(dbc.Ctx).Create(&jobs).Error; err != nil {
		return apierr.NewDatabaseError("jobs.create_batch", err)
	}
	return nil
}

func (s *jobStore) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	err := s.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.Of(apierr.NotFound, errors.New("job not found"))
	}
	if err != nil {
		return nil, apierr.NewDatabaseError("jobs.get_by_id", err)
	}
	return &job, nil
}

func (s *jobStore) List(dbc dbctx.Context, status string, limit, offset int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.tx(dbc).WithContext(dbc.Ctx).Model(&domain.Job{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var jobs []*domain.Job
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&jobs).Error; err != nil {
		return nil, apierr.NewDatabaseError("jobs.list", err)
	}
	return jobs, nil
}

// usesRowLocking reports whether the dialect supports FOR UPDATE SKIP
// LOCKED the way Postgres does. SQLite (used by the store's unit tests)
// serializes writers at the connection level instead, so the SKIP LOCKED
// clause is dropped there; a single-writer SQLite transaction already gives
// the same "only one transaction sees a candidate row" guarantee the clause
// exists to provide under Postgres's MVCC.
func usesRowLocking(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}

func (s *jobStore) ClaimNext(dbc dbctx.Context, botID uuid.UUID, assignedOperation *string) (*domain.Job, error) {
	var claimed *domain.Job
	txErr := s.tx(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var worker domain.Worker
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", botID).First(&worker).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apierr.Of(apierr.NotFound, errors.New("bot not found"))
			}
			return apierr.NewDatabaseError("jobs.claim_next.load_worker", err)
		}
		if worker.CurrentJobID != nil {
			return apierr.Of(apierr.Conflict, errors.New("bot already has an active job"))
		}

		q := tx.Model(&domain.Job{}).Where("status = ?", domain.JobPending)
		if assignedOperation != nil {
			q = q.Where("operation = ?", *assignedOperation)
		}
		q = q.Order("created_at ASC").Limit(1)
		if usesRowLocking(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var job domain.Job
		err := q.First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil // no candidate: ClaimNext returns (nil, nil)
		}
		if err != nil {
			return apierr.NewDatabaseError("jobs.claim_next.select", err)
		}

		now := time.Now().UTC()
		res := tx.Model(&domain.Job{}).
			Where("id = ? AND status = ?", job.ID, domain.JobPending).
			Updates(map[string]interface{}{
				"status":     domain.JobClaimed,
				"claimed_by": botID,
				"claimed_at": now,
			})
		if res.Error != nil {
			return apierr.NewDatabaseError("jobs.claim_next.update_job", res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the race to another claimer between SELECT and UPDATE
			// (can only happen without row locking, e.g. under SQLite).
			return nil
		}

		if err := tx.Model(&domain.Worker{}).Where("id = ?", botID).
			Updates(map[string]interface{}{
				"current_job_id": job.ID,
				"status":         domain.WorkerBusy,
			}).Error; err != nil {
			return apierr.NewDatabaseError("jobs.claim_next.update_worker", err)
		}

		job.Status = domain.JobClaimed
		job.ClaimedBy = &botID
		job.ClaimedAt = &now
		claimed = &job
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return claimed, nil
}

func (s *jobStore) TransitionStart(dbc dbctx.Context, jobID, botID uuid.UUID) (*domain.Job, error) {
	var updated *domain.Job
	err := s.tx(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var job domain.Job
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apierr.Of(apierr.NotFound, errors.New("job not found"))
			}
			return apierr.NewDatabaseError("jobs.start.load", err)
		}
		if job.Status != domain.JobClaimed || job.ClaimedBy == nil || *job.ClaimedBy != botID {
			return apierr.Of(apierr.Conflict, errors.New("job is not claimed by this bot"))
		}
		now := time.Now().UTC()
		if err := tx.Model(&job).Updates(map[string]interface{}{
			"status":     domain.JobProcessing,
			"started_at": now,
		}).Error; err != nil {
			return apierr.NewDatabaseError("jobs.start.update", err)
		}
		job.Status = domain.JobProcessing
		job.StartedAt = &now
		updated = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *jobStore) TransitionComplete(dbc dbctx.Context, jobID, botID uuid.UUID, value int, duration time.Duration) (*domain.Job, *domain.Result, error) {
	var job domain.Job
	var result *domain.Result
	err := s.tx(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apierr.Of(apierr.NotFound, errors.New("job not found"))
			}
			return apierr.NewDatabaseError("jobs.complete.load", err)
		}
		if job.Status != domain.JobProcessing || job.ClaimedBy == nil || *job.ClaimedBy != botID {
			return apierr.Of(apierr.Conflict, errors.New("job is not being processed by this bot"))
		}
		now := time.Now().UTC()
		if err := tx.Model(&job).Updates(map[string]interface{}{
			"status":      domain.JobSucceeded,
			"finished_at": now,
		}).Error; err != nil {
			return apierr.NewDatabaseError("jobs.complete.update_job", err)
		}
		job.Status = domain.JobSucceeded
		job.FinishedAt = &now

		result = domain.NewResult(&job, botID, value, duration, domain.JobSucceeded, nil)
		if err := tx.Create(result).Error; err != nil {
			return apierr.NewDatabaseError("jobs.complete.insert_result", err)
		}

		if err := tx.Model(&domain.Worker{}).Where("id = ?", botID).Updates(map[string]interface{}{
			"current_job_id": nil,
			"status":         domain.WorkerIdle,
		}).Error; err != nil {
			return apierr.NewDatabaseError("jobs.complete.update_worker", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &job, result, nil
}

func (s *jobStore) TransitionFail(dbc dbctx.Context, jobID, botID uuid.UUID, errMsg string, duration time.Duration) (*domain.Job, *domain.Result, error) {
	var job domain.Job
	var result *domain.Result
	err := s.tx(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apierr.Of(apierr.NotFound, errors.New("job not found"))
			}
			return apierr.NewDatabaseError("jobs.fail.load", err)
		}
		if job.Status != domain.JobProcessing || job.ClaimedBy == nil || *job.ClaimedBy != botID {
			return apierr.Of(apierr.Conflict, errors.New("job is not being processed by this bot"))
		}
		now := time.Now().UTC()
		if err := tx.Model(&job).Updates(map[string]interface{}{
			"status":      domain.JobFailed,
			"finished_at": now,
			"attempts":    gorm.Expr("attempts + 1"),
			"error":       errMsg,
		}).Error; err != nil {
			return apierr.NewDatabaseError("jobs.fail.update_job", err)
		}
		job.Status = domain.JobFailed
		job.FinishedAt = &now
		job.Attempts++
		job.Error = &errMsg

		result = domain.NewResult(&job, botID, 0, duration, domain.JobFailed, &errMsg)
		if err := tx.Create(result).Error; err != nil {
			return apierr.NewDatabaseError("jobs.fail.insert_result", err)
		}

		if err := tx.Model(&domain.Worker{}).Where("id = ?", botID).Updates(map[string]interface{}{
			"current_job_id": nil,
			"status":         domain.WorkerIdle,
		}).Error; err != nil {
			return apierr.NewDatabaseError("jobs.fail.update_worker", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &job, result, nil
}

func (s *jobStore) ReleaseOrphaned(dbc dbctx.Context, heartbeatCutoff time.Time, limit int) (int, error) {
	released := 0
	err := s.tx(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uuid.UUID
		sub := tx.Model(&domain.Worker{}).
			Select("id").
			Where("last_heartbeat_at < ? AND deleted_at IS NULL", heartbeatCutoff)
		if err := tx.Model(&domain.Job{}).
			Select("id").
			Where("status = ? AND claimed_by IN (?)", domain.JobClaimed, sub).
			Limit(limit).
			Find(&ids).Error; err != nil {
			return apierr.NewDatabaseError("jobs.release_orphaned.select", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Model(&domain.Job{}).Where("id IN ?", ids).Updates(map[string]interface{}{
			"status":     domain.JobPending,
			"claimed_by": nil,
			"claimed_at": nil,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error; err != nil {
			return apierr.NewDatabaseError("jobs.release_orphaned.update", err)
		}
		released = len(ids)
		return nil
	})
	return released, err
}

func (s *jobStore) ReleaseStuckClaims(dbc dbctx.Context, claimedBefore time.Time, limit int) (int, error) {
	released := 0
	err := s.tx(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var jobs []domain.Job
		if err := tx.Where("status = ? AND claimed_at < ?", domain.JobClaimed, claimedBefore).
			Limit(limit).Find(&jobs).Error; err != nil {
			return apierr.NewDatabaseError("jobs.release_stuck.select", err)
		}
		if len(jobs) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(jobs))
		for _, j := range jobs {
			ids = append(ids, j.ID)
		}
		if err := tx.Model(&domain.Job{}).Where("id IN ?", ids).Updates(map[string]interface{}{
			"status":     domain.JobPending,
			"claimed_by": nil,
			"claimed_at": nil,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error; err != nil {
			return apierr.NewDatabaseError("jobs.release_stuck.update_jobs", err)
		}
		if err := tx.Model(&domain.Worker{}).Where("current_job_id IN ?", ids).Updates(map[string]interface{}{
			"current_job_id": nil,
			"status":         domain.WorkerIdle,
		}).Error; err != nil {
			return apierr.NewDatabaseError("jobs.release_stuck.update_workers", err)
		}
		released = len(jobs)
		return nil
	})
	return released, err
}

func (s *jobStore) FailStuckProcessing(dbc dbctx.Context, startedBefore, heartbeatCutoff time.Time, limit int) ([]*domain.Result, error) {
	var results []*domain.Result
	err := s.tx(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var jobs []domain.Job
		if err := tx.Where("status = ? AND started_at < ?", domain.JobProcessing, startedBefore).
			Limit(limit).Find(&jobs).Error; err != nil {
			return apierr.NewDatabaseError("jobs.fail_stuck.select", err)
		}
		for _, job := range jobs {
			if job.ClaimedBy == nil {
				continue
			}
			var worker domain.Worker
			if err := tx.Where("id = ?", *job.ClaimedBy).First(&worker).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					continue
				}
				return apierr.NewDatabaseError("jobs.fail_stuck.load_worker", err)
			}
			// Only a zombie (still heartbeating) worker is terminal-failed
			// here; a non-heartbeating worker's job is left for L1/L2.
			if worker.LastHeartbeatAt.Before(heartbeatCutoff) {
				continue
			}

			now := time.Now().UTC()
			errMsg := "Processing timeout exceeded"
			if err := tx.Model(&domain.Job{}).Where("id = ? AND status = ?", job.ID, domain.JobProcessing).Updates(map[string]interface{}{
				"status":      domain.JobFailed,
				"finished_at": now,
				"attempts":    gorm.Expr("attempts + 1"),
				"error":       errMsg,
			}).Error; err != nil {
				return apierr.NewDatabaseError("jobs.fail_stuck.update_job", err)
			}
			job.Status = domain.JobFailed
			job.FinishedAt = &now
			job.Error = &errMsg

			result := domain.NewResult(&job, worker.ID, 0, now.Sub(*job.StartedAt), domain.JobFailed, &errMsg)
			if err := tx.Create(result).Error; err != nil {
				return apierr.NewDatabaseError("jobs.fail_stuck.insert_result", err)
			}
			results = append(results, result)

			if err := tx.Model(&domain.Worker{}).Where("id = ?", worker.ID).Updates(map[string]interface{}{
				"current_job_id":    nil,
				"status":            domain.WorkerIdle,
				"health_status":     domain.HealthPotentiallyStuck,
				"health_flagged_at": now,
			}).Error; err != nil {
				return apierr.NewDatabaseError("jobs.fail_stuck.update_worker", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *jobStore) AdminRelease(dbc dbctx.Context, jobID uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	err := s.tx(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apierr.Of(apierr.NotFound, errors.New("job not found"))
			}
			return apierr.NewDatabaseError("jobs.admin_release.load", err)
		}
		if job.Status != domain.JobClaimed && job.Status != domain.JobProcessing {
			return apierr.Of(apierr.Conflict, errors.New("job is not claimed or processing"))
		}
		if err := tx.Model(&job).Updates(map[string]interface{}{
			"status":     domain.JobPending,
			"claimed_by": nil,
			"claimed_at": nil,
			"started_at": nil,
		}).Error; err != nil {
			return apierr.NewDatabaseError("jobs.admin_release.update_job", err)
		}
		if job.ClaimedBy != nil {
			if err := tx.Model(&domain.Worker{}).Where("current_job_id = ?", jobID).Updates(map[string]interface{}{
				"current_job_id": nil,
				"status":         domain.WorkerIdle,
			}).Error; err != nil {
				return apierr.NewDatabaseError("jobs.admin_release.update_worker", err)
			}
		}
		job.Status = domain.JobPending
		job.ClaimedBy = nil
		job.ClaimedAt = nil
		job.StartedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}
