package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/jobmesh/platform/internal/pkg/dbctx"
	"github.com/jobmesh/platform/internal/platform/apierr"
)

// DB is the narrow seam the coordinator service uses to open transactions
// and run the handful of raw statements (operator actions) that don't
// warrant their own repository method, without importing gorm directly.
type DB struct {
	gorm *gorm.DB
}

func NewDB(gormDB *gorm.DB) *DB {
	return &DB{gorm: gormDB}
}

// Transaction runs fn inside one GORM transaction, handing it a dbctx.Context
// bound to that transaction so nested store calls participate in it.
func (d *DB) Transaction(ctx context.Context, fn func(dbctx.Context) error) error {
	return d.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx})
	})
}

// Exec runs a single statement outside of any repository abstraction, used
// for narrow operator actions like assign-operation.
func (d *DB) Exec(ctx context.Context, sql string, args ...interface{}) error {
	if err := d.gorm.WithContext(ctx).Exec(sql, args...).Error; err != nil {
		return apierr.NewDatabaseError("db.exec", err)
	}
	return nil
}

// Query runs a read-only admin query against the raw connection; callers
// are responsible for enforcing the SELECT-only constraint before calling.
func (d *DB) Query(ctx context.Context, sql string) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	if err := d.gorm.WithContext(ctx).Raw(sql).Scan(&rows).Error; err != nil {
		return nil, apierr.NewDatabaseError("db.query", err)
	}
	return rows, nil
}
