package committer

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"enrolld/internal/enrollment/store/committed"
	dErrors "enrolld/pkg/domain-errors"
	txcontext "enrolld/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// postgresTx runs one commit attempt in a single SQL transaction.
type postgresTx struct {
	db      *sql.DB
	store   *committed.PostgresStore
	timeout time.Duration
}

// NewPostgresTx returns a TxRunner over db. A zero timeout means five seconds
// for callers whose context has no deadline.
func NewPostgresTx(db *sql.DB, timeout time.Duration) TxRunner {
	if timeout <= 0 {
		timeout = defaultTxTimeout
	}
	return &postgresTx{db: db, store: committed.NewPostgres(db), timeout: timeout}
}

func (t *postgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	ctx, cancel, err := boundTx(ctx, t.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin enrollment tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// The store picks the transaction up from ctx.
	if err := fn(txcontext.WithTx(ctx, tx), t.store); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment tx: %w", err)
	}
	return nil
}

// inMemoryTx serializes transactions over an in-memory store and restores its
// snapshot when fn fails.
type inMemoryTx struct {
	mu      sync.Mutex
	store   *committed.InMemoryStore
	timeout time.Duration
}

// NewInMemoryTx wraps store in a TxRunner with rollback on error.
func NewInMemoryTx(store *committed.InMemoryStore) TxRunner {
	return &inMemoryTx{store: store, timeout: defaultTxTimeout}
}

func (t *inMemoryTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	ctx, cancel, err := boundTx(ctx, t.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	t.mu.Lock()
	defer t.mu.Unlock()

	restore := t.store.Snapshot()
	if err := fn(ctx, t.store); err != nil {
		restore()
		return err
	}
	return nil
}

// boundTx refuses cancelled contexts and applies timeout when ctx has no deadline.
func boundTx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return ctx, func() {}, dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, nil
}
