// Package tx carries a SQL transaction through context so stores can join
// the caller's unit of work without changing their signatures.
package tx

import (
	"context"
	"database/sql"
	"errors"
	"time"

	dErrors "cookieconsent/pkg/domain-errors"
)

type ctxKey struct{}

var txKey = ctxKey{}

// DefaultTimeout bounds a transaction whose context has no deadline.
const DefaultTimeout = 5 * time.Second

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Aborted classifies a context error that stopped a transaction before it
// began. An expired deadline is a timeout; a caller that went away leaves the
// storage unavailable to it.
func Aborted(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: deadline exceeded")
	}
	return dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "transaction aborted: context cancelled")
}

// Run begins a transaction, hands fn a context carrying it and commits when
// fn returns nil. Any error rolls the transaction back.
func Run(ctx context.Context, db *sql.DB, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return Aborted(err)
	}
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit()
}
