// Package dbctx bundles a request context with an optional in-flight
// transaction so repository methods can be called either standalone or as
// part of a larger unit of work.
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context carries a request context and an optional GORM transaction handle.
// Repositories fall back to their own *gorm.DB when Tx is nil.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// Background returns a Context with no transaction, suitable for callers
// outside of a request scope (recovery loops, CLI tools).
func Background() Context {
	return Context{Ctx: context.Background()}
}
