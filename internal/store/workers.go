package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jobmesh/platform/internal/domain"
	"github.com/jobmesh/platform/internal/pkg/dbctx"
	"github.com/jobmesh/platform/internal/platform/apierr"
)

// WorkerStore is the transactional store for registered bots.
type WorkerStore interface {
	// Upsert implements registration: a bot_key that was previously
	// soft-deleted or that already exists is revived/reused rather than
	// duplicated, per the design note on re-registration idempotency.
	Upsert(dbc dbctx.Context, botKey string, assignedOperation *string) (*domain.Worker, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Worker, error)
	GetByBotKey(dbc dbctx.Context, botKey string) (*domain.Worker, error)
	List(dbc dbctx.Context, includeDeleted bool, limit, offset int) ([]*domain.Worker, error)

	Heartbeat(dbc dbctx.Context, id uuid.UUID) (*domain.Worker, error)
	SoftDelete(dbc dbctx.Context, id uuid.UUID) error

	// ListStaleHeartbeats returns live (not soft-deleted) workers whose last
	// heartbeat is older than cutoff; the admin cleanup handler uses it.
	ListStaleHeartbeats(dbc dbctx.Context, cutoff time.Time, limit int) ([]*domain.Worker, error)

	// ClearResolvedHealthFlags implements the clearing half of L4: any
	// worker still marked potentially_stuck whose current job is no
	// longer processing (it finished, failed, or the worker went idle)
	// has the flag lifted, but only once the flag has stood for at least
	// flaggedBefore's distance from now — a worker flagged this same tick
	// is left alone so the diagnostic is observable for one interval.
	ClearResolvedHealthFlags(dbc dbctx.Context, flaggedBefore time.Time, limit int) (int, error)
}

type workerStore struct {
	db *gorm.DB
}

func NewWorkerStore(db *gorm.DB) WorkerStore {
	return &workerStore{db: db}
}

func (s *workerStore) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return s.db
}

func (s *workerStore) Upsert(dbc dbctx.Context, botKey string, assignedOperation *string) (*domain.Worker, error) {
	var worker *domain.Worker
	err := s.tx(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.Worker
		err := tx.Unscoped().Where("bot_key = ?", botKey).Order("created_at DESC").First(&existing).Error
		now := time.Now().UTC()
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			w := &domain.Worker{
				ID:                uuid.New(),
				BotKey:            botKey,
				AssignedOperation: assignedOperation,
				Status:            domain.WorkerIdle,
				HealthStatus:      domain.HealthNormal,
				LastHeartbeatAt:   now,
				CreatedAt:         now,
			}
			if err := tx.Create(w).Error; err != nil {
				return apierr.NewDatabaseError("workers.upsert.create", err)
			}
			worker = w
			return nil
		case err != nil:
			return apierr.NewDatabaseError("workers.upsert.lookup", err)
		}

		updates := map[string]interface{}{
			"assigned_operation": assignedOperation,
			"status":             domain.WorkerIdle,
			"health_status":      domain.HealthNormal,
			"health_flagged_at":  nil,
			"last_heartbeat_at":  now,
			"current_job_id":     nil,
			"deleted_at":         nil,
		}
		if err := tx.Unscoped().Model(&existing).Updates(updates).Error; err != nil {
			return apierr.NewDatabaseError("workers.upsert.revive", err)
		}
		existing.AssignedOperation = assignedOperation
		existing.Status = domain.WorkerIdle
		existing.HealthStatus = domain.HealthNormal
		existing.HealthFlaggedAt = nil
		existing.LastHeartbeatAt = now
		existing.CurrentJobID = nil
		existing.DeletedAt = nil
		worker = &existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return worker, nil
}

func (s *workerStore) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Worker, error) {
	var w domain.Worker
	err := s.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.Of(apierr.NotFound, errors.New("bot not found"))
	}
	if err != nil {
		return nil, apierr.NewDatabaseError("workers.get_by_id", err)
	}
	return &w, nil
}

func (s *workerStore) GetByBotKey(dbc dbctx.Context, botKey string) (*domain.Worker, error) {
	var w domain.Worker
	err := s.tx(dbc).WithContext(dbc.Ctx).Where("bot_key = ?", botKey).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.Of(apierr.NotFound, errors.New("bot not found"))
	}
	if err != nil {
		return nil, apierr.NewDatabaseError("workers.get_by_bot_key", err)
	}
	return &w, nil
}

func (s *workerStore) List(dbc dbctx.Context, includeDeleted bool, limit, offset int) ([]*domain.Worker, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.tx(dbc).WithContext(dbc.Ctx).Model(&domain.Worker{})
	if includeDeleted {
		q = q.Unscoped()
	}
	var workers []*domain.Worker
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&workers).Error; err != nil {
		return nil, apierr.NewDatabaseError("workers.list", err)
	}
	return workers, nil
}

func (s *workerStore) Heartbeat(dbc dbctx.Context, id uuid.UUID) (*domain.Worker, error) {
	var w domain.Worker
	err := s.tx(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&w).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apierr.Of(apierr.NotFound, errors.New("bot not found"))
			}
			return apierr.NewDatabaseError("workers.heartbeat.load", err)
		}
		now := time.Now().UTC()
		if err := tx.Model(&w).Updates(map[string]interface{}{
			"last_heartbeat_at": now,
			"health_status":     domain.HealthNormal,
			"health_flagged_at": nil,
		}).Error; err != nil {
			return apierr.NewDatabaseError("workers.heartbeat.update", err)
		}
		w.LastHeartbeatAt = now
		w.HealthStatus = domain.HealthNormal
		w.HealthFlaggedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *workerStore) SoftDelete(dbc dbctx.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	err := s.tx(dbc).WithContext(dbc.Ctx).Model(&domain.Worker{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"deleted_at": now,
			"status":     domain.WorkerDown,
		}).Error
	if err != nil {
		return apierr.NewDatabaseError("workers.soft_delete", err)
	}
	return nil
}

func (s *workerStore) ClearResolvedHealthFlags(dbc dbctx.Context, flaggedBefore time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	sub := s.tx(dbc).WithContext(dbc.Ctx).Model(&domain.Job{}).
		Select("id").Where("status = ?", domain.JobProcessing)
	var ids []uuid.UUID
	if err := s.tx(dbc).WithContext(dbc.Ctx).Model(&domain.Worker{}).
		Select("id").
		Where("health_status = ?", domain.HealthPotentiallyStuck).
		Where("health_flagged_at IS NOT NULL AND health_flagged_at <= ?", flaggedBefore).
		Where("current_job_id IS NULL OR current_job_id NOT IN (?)", sub).
		Limit(limit).
		Find(&ids).Error; err != nil {
		return 0, apierr.NewDatabaseError("workers.clear_resolved_health_flags.select", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.tx(dbc).WithContext(dbc.Ctx).Model(&domain.Worker{}).Where("id IN ?", ids).Updates(map[string]interface{}{
		"health_status":     domain.HealthNormal,
		"health_flagged_at": nil,
	})
	if res.Error != nil {
		return 0, apierr.NewDatabaseError("workers.clear_resolved_health_flags.update", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *workerStore) ListStaleHeartbeats(dbc dbctx.Context, cutoff time.Time, limit int) ([]*domain.Worker, error) {
	if limit <= 0 {
		limit = 100
	}
	var workers []*domain.Worker
	err := s.tx(dbc).WithContext(dbc.Ctx).
		Where("last_heartbeat_at < ? AND deleted_at IS NULL", cutoff).
		Limit(limit).
		Find(&workers).Error
	if err != nil {
		return nil, apierr.NewDatabaseError("workers.list_stale_heartbeats", err)
	}
	return workers, nil
}
