package service

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"cookieconsent/internal/consent/models"
	id "cookieconsent/pkg/domain"
	txcontext "cookieconsent/pkg/platform/tx"
)

// Stores is the pair of stores a consent transaction writes through.
type Stores struct {
	Consents ConsentStore
	History  HistoryStore
}

// ConsentStoreTx provides the transactional boundary that keeps a consent
// mutation and its history entry together. fn must use the context it is
// given so that database-backed stores join the transaction.
type ConsentStoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error
}

// numConsentShards spreads in-memory transactions over independent locks keyed
// by session or consent ID.
const numConsentShards = 128

// defaultConsentTxTimeout is the maximum duration for a consent transaction.
const defaultConsentTxTimeout = 5 * time.Second

// consentRollback lets an in-memory consent store undo writes made inside a
// failed unit of work.
type consentRollback interface {
	Remove(ctx context.Context, consentID id.ConsentID) error
	Restore(ctx context.Context, snapshot *models.Consent) error
}

// shardedConsentTx serializes in-memory create/update units per shard. Consent
// writes are journaled and undone in reverse order when the unit fails. History
// appends come last in every unit and are not journaled.
type shardedConsentTx struct {
	shards  [numConsentShards]sync.Mutex
	stores  Stores
	timeout time.Duration
}

func newShardedConsentTx(stores Stores) *shardedConsentTx {
	return &shardedConsentTx{stores: stores, timeout: defaultConsentTxTimeout}
}

func (t *shardedConsentTx) RunInTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error {
	if err := ctx.Err(); err != nil {
		return txcontext.Aborted(err)
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultConsentTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := selectShard(ctx)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return txcontext.Aborted(err)
	}

	rollback, ok := t.stores.Consents.(consentRollback)
	if !ok {
		return fn(ctx, t.stores)
	}
	j := &journal{ConsentStore: t.stores.Consents, rollback: rollback}
	if err := fn(ctx, Stores{Consents: j, History: t.stores.History}); err != nil {
		// undo must run even when ctx has expired
		if undoErr := j.undo(context.WithoutCancel(ctx)); undoErr != nil {
			return errors.Join(err, undoErr)
		}
		return err
	}
	return nil
}

// journal records how to revert each consent write it forwards.
type journal struct {
	ConsentStore
	rollback consentRollback
	steps    []func(ctx context.Context) error
}

func (j *journal) Create(ctx context.Context, c *models.Consent) error {
	if err := j.ConsentStore.Create(ctx, c); err != nil {
		return err
	}
	consentID := c.ID
	j.steps = append(j.steps, func(ctx context.Context) error {
		return j.rollback.Remove(ctx, consentID)
	})
	return nil
}

func (j *journal) Update(ctx context.Context, c *models.Consent) error {
	snapshot, err := j.ConsentStore.FindByID(ctx, c.TenantID, c.ID)
	if err != nil {
		return err
	}
	if err := j.ConsentStore.Update(ctx, c); err != nil {
		return err
	}
	j.steps = append(j.steps, func(ctx context.Context) error {
		return j.rollback.Restore(ctx, snapshot)
	})
	return nil
}

func (j *journal) undo(ctx context.Context) error {
	var errs []error
	for i := len(j.steps) - 1; i >= 0; i-- {
		if err := j.steps[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// selectShard picks a shard from the key stored by WithShardKey, or shard 0.
func selectShard(ctx context.Context) int {
	if key, ok := ctx.Value(txShardKeyCtx).(string); ok && key != "" {
		h := fnv.New32a()
		_, _ = h.Write([]byte(key))
		return int(h.Sum32() % numConsentShards)
	}
	return 0
}

type txShardKey struct{}

var txShardKeyCtx = txShardKey{}

// WithShardKey tags ctx with the key that in-memory transactions lock on.
func WithShardKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, txShardKeyCtx, key)
}
