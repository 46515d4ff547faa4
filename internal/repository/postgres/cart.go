package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/quickshop-io/checkout-engine/internal/entity"
	"github.com/quickshop-io/checkout-engine/internal/repository"
)

type cartStore struct {
	db dbtx
}

// NewCartStore creates a CartRepository backed by Postgres.
func NewCartStore(db *sql.DB) repository.CartRepository {
	return &cartStore{db: db}
}

func (s *cartStore) GetOrCreate(ctx context.Context, owner entity.CartOwner) (*entity.Cart, error) {
	// The unique (owner_kind, owner_key) index arbitrates concurrent
	// creators; every caller converges on the surviving row.
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO carts (id, owner_kind, owner_key) VALUES ($1, $2, $3) ON CONFLICT (owner_kind, owner_key) DO NOTHING",
		uuid.NewString(), owner.Kind, owner.Key,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return s.Get(ctx, owner)
}

func (s *cartStore) Get(ctx context.Context, owner entity.CartOwner) (*entity.Cart, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, owner_kind, owner_key, discount_code, created_at, updated_at FROM carts WHERE owner_kind = $1 AND owner_key = $2",
		owner.Kind, owner.Key,
	)
	var c entity.Cart
	err := row.Scan(&c.ID, &c.Owner.Kind, &c.Owner.Key, &c.DiscountCode, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan cart: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT variant_id, quantity FROM cart_items WHERE cart_id = $1 ORDER BY variant_id",
		c.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item entity.CartItem
		if err := rows.Scan(&item.VariantID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		c.Items = append(c.Items, item)
	}
	return &c, rows.Err()
}

// AddItem accumulates in one statement. Two concurrent adds of the same line
// both apply; neither can overwrite the other's increment.
func (s *cartStore) AddItem(ctx context.Context, cartID, variantID string, qty int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cart_items (cart_id, variant_id, quantity) VALUES ($1, $2, LEAST($3, $4))
		 ON CONFLICT (cart_id, variant_id)
		 DO UPDATE SET quantity = LEAST(cart_items.quantity + EXCLUDED.quantity, $4)`,
		cartID, variantID, qty, entity.MaxLineQuantity,
	)
	if err != nil {
		return fmt.Errorf("failed to add cart item: %w", err)
	}
	return s.touch(ctx, cartID)
}

func (s *cartStore) SetItemQuantity(ctx context.Context, cartID, variantID string, qty int) error {
	if qty == 0 {
		return s.RemoveItem(ctx, cartID, variantID)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cart_items (cart_id, variant_id, quantity) VALUES ($1, $2, $3)
		 ON CONFLICT (cart_id, variant_id)
		 DO UPDATE SET quantity = EXCLUDED.quantity`,
		cartID, variantID, qty,
	)
	if err != nil {
		return fmt.Errorf("failed to set cart item quantity: %w", err)
	}
	return s.touch(ctx, cartID)
}

func (s *cartStore) RemoveItem(ctx context.Context, cartID, variantID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_items WHERE cart_id = $1 AND variant_id = $2",
		cartID, variantID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	return s.touch(ctx, cartID)
}

func (s *cartStore) Clear(ctx context.Context, cartID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID); err != nil {
		return fmt.Errorf("failed to clear cart items: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE carts SET discount_code = NULL, updated_at = NOW() WHERE id = $1", cartID); err != nil {
		return fmt.Errorf("failed to clear cart discount: %w", err)
	}
	return nil
}

func (s *cartStore) SetDiscountCode(ctx context.Context, cartID string, code *string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE carts SET discount_code = $2, updated_at = NOW() WHERE id = $1",
		cartID, code,
	)
	if err != nil {
		return fmt.Errorf("failed to set cart discount: %w", err)
	}
	return nil
}

func (s *cartStore) Delete(ctx context.Context, cartID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM carts WHERE id = $1", cartID); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

func (s *cartStore) touch(ctx context.Context, cartID string) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE carts SET updated_at = NOW() WHERE id = $1", cartID); err != nil {
		return fmt.Errorf("failed to touch cart: %w", err)
	}
	return nil
}
