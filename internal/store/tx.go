package store

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jobmesh/platform/internal/pkg/dbctx"
)

// onConflictUpdateIdempotency makes Put() an upsert: a retried registration
// under the same key before the first insert commits overwrites rather than
// errors, since the key is the primary key.
func onConflictUpdateIdempotency() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"response_status", "response_body", "created_at", "expires_at"}),
	}
}

// WithTx runs fn inside a single GORM transaction and hands back a
// dbctx.Context whose Tx field routes every store call fn makes onto that
// same transaction, letting handlers compose multiple store calls into one
// atomic unit of work (e.g. claim-and-check-idempotency).
func WithTx(dbc dbctx.Context, db *gorm.DB, fn func(dbctx.Context) error) error {
	base := db
	if dbc.Tx != nil {
		base = dbc.Tx
	}
	return base.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: dbc.Ctx, Tx: tx})
	})
}
