package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/quickshop-io/checkout-engine/internal/entity"
	"github.com/quickshop-io/checkout-engine/internal/repository"
)

type discountStore struct {
	db dbtx
}

// NewDiscountStore creates a DiscountRepository backed by Postgres.
func NewDiscountStore(db *sql.DB) repository.DiscountRepository {
	return &discountStore{db: db}
}

func (s *discountStore) FindByCode(ctx context.Context, code string) (*entity.DiscountCode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT code, kind, value, starts_at, expires_at, max_uses, uses_per_customer, minimum_purchase, used_count, active
		 FROM discount_codes WHERE code = $1`,
		entity.NormalizeDiscountCode(code),
	)
	var d entity.DiscountCode
	err := row.Scan(&d.Code, &d.Kind, &d.Value, &d.StartsAt, &d.ExpiresAt, &d.MaxUses, &d.UsesPerCustomer, &d.MinimumPurchase, &d.UsedCount, &d.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan discount code: %w", err)
	}
	return &d, nil
}

// IncrementUsage counts one use while still under the cap. The cap check and
// the increment are a single statement; a loser sees zero rows affected.
func (s *discountStore) IncrementUsage(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE discount_codes SET used_count = used_count + 1 WHERE code = $1 AND (max_uses = 0 OR used_count < max_uses)",
		entity.NormalizeDiscountCode(code),
	)
	if err != nil {
		return fmt.Errorf("failed to increment discount usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrDiscountRace
	}
	return nil
}

// DecrementUsage returns one use. The floor lives in the predicate, so a
// count already at zero stays at zero and the call still succeeds.
func (s *discountStore) DecrementUsage(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE discount_codes SET used_count = used_count - 1 WHERE code = $1 AND used_count > 0",
		entity.NormalizeDiscountCode(code),
	)
	if err != nil {
		return fmt.Errorf("failed to decrement discount usage: %w", err)
	}
	return nil
}
