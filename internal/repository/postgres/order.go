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

type orderStore struct {
	db dbtx
}

// NewOrderStore creates an OrderRepository backed by Postgres.
func NewOrderStore(db *sql.DB) repository.OrderRepository {
	return &orderStore{db: db}
}

const uniqueViolation = "23505"

func (s *orderStore) Create(ctx context.Context, order *entity.Order) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (id, order_number, owner_kind, owner_key, subtotal, discount_code, discount_amount,
		                     shipping, tax, total, status, payment_status, payment_reference, placed_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		order.ID, order.Number, order.Owner.Kind, order.Owner.Key, order.Subtotal, order.DiscountCode,
		order.DiscountAmount, order.Shipping, order.Tax, order.Total, order.Status, order.PaymentStatus,
		order.PaymentReference, order.PlacedAt, order.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "orders_order_number_key" {
			return repository.ErrOrderNumberTaken
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO order_items (order_id, variant_id, sku, name, unit_price, quantity, line_total) VALUES ($1, $2, $3, $4, $5, $6, $7)",
			order.ID, item.VariantID, item.SKU, item.Name, item.UnitPrice, item.Quantity, item.LineTotal,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}
	return nil
}

const orderColumns = `id, order_number, owner_kind, owner_key, subtotal, discount_code, discount_amount,
	shipping, tax, total, status, payment_status, payment_reference, placed_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*entity.Order, error) {
	var o entity.Order
	err := row.Scan(&o.ID, &o.Number, &o.Owner.Kind, &o.Owner.Key, &o.Subtotal, &o.DiscountCode,
		&o.DiscountAmount, &o.Shipping, &o.Tax, &o.Total, &o.Status, &o.PaymentStatus,
		&o.PaymentReference, &o.PlacedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *orderStore) Find(ctx context.Context, id string) (*entity.Order, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	if err := s.loadItems(ctx, []*entity.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *orderStore) FindByOwner(ctx context.Context, owner entity.CartOwner, limit int) ([]entity.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE owner_kind = $1 AND owner_key = $2 ORDER BY placed_at DESC LIMIT $3",
		owner.Kind, owner.Key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []entity.Order
	var refs []*entity.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range orders {
		refs = append(refs, &orders[i])
	}
	if err := s.loadItems(ctx, refs); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *orderStore) loadItems(ctx context.Context, orders []*entity.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*entity.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT order_id, variant_id, sku, name, unit_price, quantity, line_total FROM order_items WHERE order_id = ANY($1) ORDER BY variant_id",
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var item entity.OrderItem
		if err := rows.Scan(&orderID, &item.VariantID, &item.SKU, &item.Name, &item.UnitPrice, &item.Quantity, &item.LineTotal); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	return rows.Err()
}

func (s *orderStore) CountByOwnerAndDiscount(ctx context.Context, owner entity.CartOwner, code string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM orders WHERE owner_kind = $1 AND owner_key = $2 AND discount_code = $3 AND status <> $4",
		owner.Kind, owner.Key, entity.NormalizeDiscountCode(code), entity.StatusCancelled,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count discount usage: %w", err)
	}
	return count, nil
}

// UpdateStatus is a compare-and-swap: the row moves only if its status still
// matches what the caller observed.
func (s *orderStore) UpdateStatus(ctx context.Context, id string, from, to entity.OrderStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2",
		id, from, to,
	)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrStatusConflict
	}
	return nil
}

func (s *orderStore) UpdatePayment(ctx context.Context, id string, from, to entity.PaymentStatus, reference string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET payment_status = $3,
		        payment_reference = CASE WHEN $4 <> '' THEN $4 ELSE payment_reference END,
		        updated_at = NOW()
		 WHERE id = $1 AND payment_status = $2`,
		id, from, to, reference,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrStatusConflict
	}
	return nil
}
