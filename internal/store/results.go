package store

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jobmesh/platform/internal/domain"
	"github.com/jobmesh/platform/internal/pkg/dbctx"
	"github.com/jobmesh/platform/internal/platform/apierr"
)

// ResultStore is a read-side accessor over the append-only results table;
// writes happen inline with the job transitions that produce them
// (see JobStore.TransitionComplete/TransitionFail).
type ResultStore interface {
	List(dbc dbctx.Context, limit, offset int) ([]*domain.Result, error)
	ListByJobID(dbc dbctx.Context, jobID uuid.UUID, limit int) ([]*domain.Result, error)
}

type resultStore struct {
	db *gorm.DB
}

func NewResultStore(db *gorm.DB) ResultStore {
	return &resultStore{db: db}
}

func (s *resultStore) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return s.db
}

func (s *resultStore) List(dbc dbctx.Context, limit, offset int) ([]*domain.Result, error) {
	if limit <= 0 {
		limit = 100
	}
	var results []*domain.Result
	err := s.tx(dbc).WithContext(dbc.Ctx).
		Order("processed_at DESC").
		Limit(limit).Offset(offset).
		Find(&results).Error
	if err != nil {
		return nil, apierr.NewDatabaseError("results.list", err)
	}
	return results, nil
}

func (s *resultStore) ListByJobID(dbc dbctx.Context, jobID uuid.UUID, limit int) ([]*domain.Result, error) {
	if limit <= 0 {
		limit = 100
	}
	var results []*domain.Result
	err := s.tx(dbc).WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("processed_at DESC").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		return nil, apierr.NewDatabaseError("results.list_by_job_id", err)
	}
	return results, nil
}
