package store

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jobmesh/platform/internal/pkg/dbctx"
)

// newTestDB opens an in-memory sqlite database and applies the same
// migration the coordinator runs against Postgres in production. The pool
// is pinned to a single connection: sqlite's ":memory:" database is private
// per connection, so a second pooled connection would see an empty schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func bg() dbctx.Context {
	return dbctx.Context{Ctx: context.Background()}
}
