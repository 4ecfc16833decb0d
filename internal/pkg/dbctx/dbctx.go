package dbctx

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Context bundles a request context with an optional GORM transaction.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// Resolve returns the transaction when set, otherwise fallback, bound to Ctx.
func (c Context) Resolve(fallback *gorm.DB) *gorm.DB {
	db := c.Tx
	if db == nil {
		db = fallback
	}
	if c.Ctx != nil {
		db = db.WithContext(c.Ctx)
	}
	return db
}

// ForUpdate adds a row lock on dialects that support one. SQLite serializes
// writers on its own and rejects the clause.
func ForUpdate(db *gorm.DB, skipLocked bool) *gorm.DB {
	if db == nil || db.Dialector == nil || db.Dialector.Name() != "postgres" {
		return db
	}
	locking := clause.Locking{Strength: "UPDATE"}
	if skipLocked {
		locking.Options = "SKIP LOCKED"
	}
	return db.Clauses(locking)
}
