// Package tx carries a *sql.Tx through context so multi-store writes commit
// atomically. Registration is the main user: the organization, party, contact
// and onboarding stores all join the transaction the service opened, and a
// failure anywhere rolls the whole registration back.
package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx returns a context whose store calls run inside tx. A nil tx leaves
// the context untouched, so callers can pass through whatever they were given.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From reports the transaction the caller enlisted, if any. Stores fall back
// to their own *sql.DB when none is present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}
