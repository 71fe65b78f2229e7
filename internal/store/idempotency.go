package store

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/jobmesh/platform/internal/domain"
	"github.com/jobmesh/platform/internal/pkg/dbctx"
	"github.com/jobmesh/platform/internal/platform/apierr"
)

// IdempotencyStore caches registration responses against a client-supplied
// Idempotency-Key so a retried request replays the original response
// instead of re-registering the bot.
type IdempotencyStore interface {
	Get(dbc dbctx.Context, key string) (*domain.IdempotencyRecord, error)
	Put(dbc dbctx.Context, key string, status int, body []byte, ttl time.Duration) error
	// DeleteExpired implements L5: periodic GC of records past their TTL.
	DeleteExpired(dbc dbctx.Context, now time.Time, limit int) (int, error)
}

type idempotencyStore struct {
	db *gorm.DB
}

func NewIdempotencyStore(db *gorm.DB) IdempotencyStore {
	return &idempotencyStore{db: db}
}

func (s *idempotencyStore) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return s.db
}

func (s *idempotencyStore) Get(dbc dbctx.Context, key string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := s.tx(dbc).WithContext(dbc.Ctx).Where("key = ? AND expires_at > ?", key, time.Now().UTC()).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.NewDatabaseError("idempotency.get", err)
	}
	return &rec, nil
}

func (s *idempotencyStore) Put(dbc dbctx.Context, key string, status int, body []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	rec := &domain.IdempotencyRecord{
		Key:            key,
		ResponseStatus: status,
		ResponseBody:   body,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	err := s.tx(dbc).WithContext(dbc.Ctx).
		Clauses(onConflictUpdateIdempotency()).
		Create(rec).Error
	if err != nil {
		return apierr.NewDatabaseError("idempotency.put", err)
	}
	return nil
}

func (s *idempotencyStore) DeleteExpired(dbc dbctx.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	var keys []string
	q := s.tx(dbc).WithContext(dbc.Ctx).Model(&domain.IdempotencyRecord{}).
		Select("key").Where("expires_at <= ?", now).Limit(limit)
	if err := q.Find(&keys).Error; err != nil {
		return 0, apierr.NewDatabaseError("idempotency.delete_expired.select", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	res := s.tx(dbc).WithContext(dbc.Ctx).Where("key IN ?", keys).Delete(&domain.IdempotencyRecord{})
	if res.Error != nil {
		return 0, apierr.NewDatabaseError("idempotency.delete_expired.delete", res.Error)
	}
	return int(res.RowsAffected), nil
}
