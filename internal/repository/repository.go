// Package repository defines the storage contracts the services depend on.
// Two backends implement them: postgres for real deployments and memory for
// tests and local development.
package repository

import (
	"context"
	"errors"

	"github.com/quickshop-io/checkout-engine/internal/entity"
)

// Storage sentinels. Stores return these (optionally wrapped with %w) so
// services can match them with errors.Is.
var (
	// ErrStockRace means a conditional stock write found less stock than it
	// needed at execution time.
	ErrStockRace = errors.New("stock changed concurrently")
	// ErrDiscountRace means a conditional usage increment found the cap
	// already reached at execution time.
	ErrDiscountRace = errors.New("discount usage changed concurrently")
	// ErrStatusConflict means a compare-and-swap status update found a
	// different current status than expected.
	ErrStatusConflict = errors.New("order status changed concurrently")
	// ErrOrderNumberTaken means the generated order number collided with an
	// existing order.
	ErrOrderNumberTaken = errors.New("order number already taken")
)

// VariantRepository reads catalog variants and applies atomic stock moves.
type VariantRepository interface {
	Find(ctx context.Context, id string) (*entity.Variant, error)
	FindMany(ctx context.Context, ids []string) (map[string]*entity.Variant, error)
	List(ctx context.Context, activeOnly bool) ([]entity.Variant, error)
	// DecrementStock subtracts qty only when at least qty remains,
	// returning ErrStockRace otherwise. The check and the write are one
	// atomic operation.
	DecrementStock(ctx context.Context, id string, qty int) error
	// AdjustStock applies a signed delta and returns the new stock level.
	// Deltas that would push stock below zero return ErrStockRace.
	AdjustStock(ctx context.Context, id string, delta int) (int, error)
}

// DiscountRepository reads discount codes and accounts their usage.
type DiscountRepository interface {
	// FindByCode resolves a code case-insensitively.
	FindByCode(ctx context.Context, code string) (*entity.DiscountCode, error)
	// IncrementUsage counts one use only while under MaxUses, returning
	// ErrDiscountRace at the cap. A MaxUses of zero never caps.
	IncrementUsage(ctx context.Context, code string) error
	// DecrementUsage returns one use, flooring at zero. Calling it on a
	// count already at zero is a no-op, which makes retries safe.
	DecrementUsage(ctx context.Context, code string) error
}

// CartRepository persists carts and their lines. All line writes are single
// atomic operations; none of them read-modify-write.
type CartRepository interface {
	// GetOrCreate returns the owner's cart, creating it when absent.
	// Concurrent callers for the same owner converge on one cart.
	GetOrCreate(ctx context.Context, owner entity.CartOwner) (*entity.Cart, error)
	// Get returns the owner's cart or entity.ErrNotFound.
	Get(ctx context.Context, owner entity.CartOwner) (*entity.Cart, error)
	// AddItem accumulates qty onto the line, creating it as needed and
	// clamping the result at entity.MaxLineQuantity.
	AddItem(ctx context.Context, cartID, variantID string, qty int) error
	// SetItemQuantity overwrites the line quantity; zero deletes the line.
	SetItemQuantity(ctx context.Context, cartID, variantID string, qty int) error
	// RemoveItem deletes the line. Removing an absent line succeeds.
	RemoveItem(ctx context.Context, cartID, variantID string) error
	// Clear removes every line and any attached discount code.
	Clear(ctx context.Context, cartID string) error
	SetDiscountCode(ctx context.Context, cartID string, code *string) error
	// Delete drops the cart and its lines entirely.
	Delete(ctx context.Context, cartID string) error
}

// OrderRepository persists orders, their frozen items and status changes.
type OrderRepository interface {
	// Create inserts the order and its items, returning
	// ErrOrderNumberTaken when the order number is already used.
	Create(ctx context.Context, order *entity.Order) error
	Find(ctx context.Context, id string) (*entity.Order, error)
	FindByOwner(ctx context.Context, owner entity.CartOwner, limit int) ([]entity.Order, error)
	// CountByOwnerAndDiscount counts the owner's non-cancelled orders that
	// consumed code.
	CountByOwnerAndDiscount(ctx context.Context, owner entity.CartOwner, code string) (int, error)
	// UpdateStatus flips the fulfilment status only while the current value
	// still equals from, returning ErrStatusConflict otherwise.
	UpdateStatus(ctx context.Context, id string, from, to entity.OrderStatus) error
	// UpdatePayment flips the payment status with the same CAS contract.
	// A non-empty reference replaces the stored payment reference.
	UpdatePayment(ctx context.Context, id string, from, to entity.PaymentStatus, reference string) error
}

// AuditRepository appends and reads the per-order event trail.
type AuditRepository interface {
	Append(ctx context.Context, event *entity.OrderEvent) error
	ListByOrder(ctx context.Context, orderID string) ([]entity.OrderEvent, error)
}

// Stores bundles every repository bound to one backend, or to one open
// transaction inside UnitOfWork.InTx.
type Stores struct {
	Variants  VariantRepository
	Discounts DiscountRepository
	Carts     CartRepository
	Orders    OrderRepository
	Audit     AuditRepository
}

// UnitOfWork runs fn against transaction-scoped stores. When fn returns an
// error every write made through those stores is rolled back.
type UnitOfWork interface {
	InTx(ctx context.Context, fn func(tx Stores) error) error
}
