package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/quickshop-io/checkout-engine/internal/entity"
	"github.com/quickshop-io/checkout-engine/internal/repository"
)

type variantStore struct {
	db dbtx
}

// NewVariantStore creates a VariantRepository backed by Postgres.
func NewVariantStore(db *sql.DB) repository.VariantRepository {
	return &variantStore{db: db}
}

const variantColumns = "id, sku, name, price, stock, active, updated_at"

func scanVariant(row interface{ Scan(...any) error }) (*entity.Variant, error) {
	var v entity.Variant
	err := row.Scan(&v.ID, &v.SKU, &v.Name, &v.Price, &v.Stock, &v.Active, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *variantStore) Find(ctx context.Context, id string) (*entity.Variant, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+variantColumns+" FROM variants WHERE id = $1", id)
	v, err := scanVariant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan variant: %w", err)
	}
	return v, nil
}

func (s *variantStore) FindMany(ctx context.Context, ids []string) (map[string]*entity.Variant, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+variantColumns+" FROM variants WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer rows.Close()

	variants := make(map[string]*entity.Variant, len(ids))
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		variants[v.ID] = v
	}
	return variants, rows.Err()
}

func (s *variantStore) List(ctx context.Context, activeOnly bool) ([]entity.Variant, error) {
	query := "SELECT " + variantColumns + " FROM variants ORDER BY name"
	if activeOnly {
		query = "SELECT " + variantColumns + " FROM variants WHERE active ORDER BY name"
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer rows.Close()

	var variants []entity.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		variants = append(variants, *v)
	}
	return variants, rows.Err()
}

// DecrementStock is the conditional write that makes overselling impossible:
// the predicate and the subtraction are one statement, so whichever commit
// reaches the row first wins and the loser sees zero rows affected.
func (s *variantStore) DecrementStock(ctx context.Context, id string, qty int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE variants SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1",
		qty, id,
	)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrStockRace
	}
	return nil
}

func (s *variantStore) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	row := s.db.QueryRowContext(ctx,
		"UPDATE variants SET stock = stock + $1, updated_at = NOW() WHERE id = $2 AND stock + $1 >= 0 RETURNING stock",
		delta, id,
	)
	var stock int
	err := row.Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the variant is missing or the delta would go negative.
		if _, ferr := s.Find(ctx, id); ferr != nil {
			return 0, ferr
		}
		return 0, repository.ErrStockRace
	}
	if err != nil {
		return 0, fmt.Errorf("failed to adjust stock: %w", err)
	}
	return stock, nil
}
