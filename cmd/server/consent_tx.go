package main

import (
	"context"
	"database/sql"
	"time"

	consentservice "cookieconsent/internal/consent/service"
	txcontext "cookieconsent/pkg/platform/tx"
)

// consentPostgresTx runs a consent mutation and its history append in one
// database transaction. Stores join it through the context.
type consentPostgresTx struct {
	db      *sql.DB
	stores  consentservice.Stores
	timeout time.Duration
}

func newConsentPostgresTx(db *sql.DB, stores consentservice.Stores) *consentPostgresTx {
	return &consentPostgresTx{db: db, stores: stores, timeout: txcontext.DefaultTimeout}
}

func (t *consentPostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context, stores consentservice.Stores) error) error {
	return txcontext.Run(ctx, t.db, t.timeout, func(ctx context.Context) error {
		return fn(ctx, t.stores)
	})
}
