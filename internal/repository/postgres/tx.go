package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/quickshop-io/checkout-engine/internal/repository"
)

// dbtx is the subset of *sql.DB and *sql.Tx the stores use, so the same
// store code runs against the pool or inside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New builds the pooled stores and the unit of work over db.
func New(db *sql.DB) (repository.Stores, repository.UnitOfWork) {
	return storesFor(db), &txRunner{db: db}
}

func storesFor(db dbtx) repository.Stores {
	return repository.Stores{
		Variants:  &variantStore{db: db},
		Discounts: &discountStore{db: db},
		Carts:     &cartStore{db: db},
		Orders:    &orderStore{db: db},
		Audit:     &auditStore{db: db},
	}
}

type txRunner struct {
	db *sql.DB
}

// InTx opens a transaction, hands fn stores bound to it and commits when fn
// returns nil. Any error from fn rolls the whole transaction back and is
// returned unchanged so callers can match domain errors through it.
func (r *txRunner) InTx(ctx context.Context, fn func(tx repository.Stores) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(storesFor(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
