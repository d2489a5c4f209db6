// Package dbctx bundles a request context with an optional GORM transaction
// so repo methods can be called either standalone or inside a caller's
// transaction without two method signatures.
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func (c Context) DB(fallback *gorm.DB) *gorm.DB {
	if c.Tx != nil {
		return c.Tx.WithContext(c.Ctx)
	}
	return fallback.WithContext(c.Ctx)
}
