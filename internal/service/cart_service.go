package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quickshop-io/checkout-engine/internal/entity"
	"github.com/quickshop-io/checkout-engine/internal/metrics"
	"github.com/quickshop-io/checkout-engine/internal/repository"
)

// CartService orchestrates cart mutations for user and guest carts. It
// validates inputs and owner scoping; the atomicity of each line write lives
// in the repository, so no mutation here ever read-modify-writes a quantity.
type CartService struct {
	stores repository.Stores
}

func NewCartService(stores repository.Stores) *CartService {
	return &CartService{stores: stores}
}

// Get returns the owner's cart, creating it lazily.
func (s *CartService) Get(ctx context.Context, owner entity.CartOwner) (*entity.Cart, error) {
	if !owner.Valid() {
		return nil, entity.NewValidationError("owner", "missing or malformed cart owner")
	}
	cart, err := s.stores.Carts.GetOrCreate(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	return cart, nil
}

// AddItem accumulates qty onto the owner's line for variantID. Two
// concurrent adds both land; the repository clamps the accumulated quantity
// at entity.MaxLineQuantity.
func (s *CartService) AddItem(ctx context.Context, owner entity.CartOwner, variantID string, qty int) (*entity.Cart, error) {
	if !owner.Valid() {
		return nil, entity.NewValidationError("owner", "missing or malformed cart owner")
	}
	if qty < 1 {
		return nil, entity.NewValidationError("quantity", "must be at least 1")
	}
	if qty > entity.MaxLineQuantity {
		return nil, entity.NewValidationError("quantity", fmt.Sprintf("must be at most %d", entity.MaxLineQuantity))
	}
	if err := s.requirePurchasable(ctx, variantID); err != nil {
		return nil, err
	}

	cart, err := s.stores.Carts.GetOrCreate(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if err := s.stores.Carts.AddItem(ctx, cart.ID, variantID, qty); err != nil {
		return nil, fmt.Errorf("failed to add item: %w", err)
	}

	slog.Info("Service: Added item to cart", "cart_id", cart.ID, "variant_id", variantID, "quantity", qty)
	metrics.CartMutations.WithLabelValues("add").Inc()
	return s.stores.Carts.Get(ctx, owner)
}

// SetItemQuantity overwrites the line quantity. Zero removes the line; the
// cart never stores a zero-quantity row.
func (s *CartService) SetItemQuantity(ctx context.Context, owner entity.CartOwner, variantID string, qty int) (*entity.Cart, error) {
	if !owner.Valid() {
		return nil, entity.NewValidationError("owner", "missing or malformed cart owner")
	}
	if qty < 0 {
		return nil, entity.NewValidationError("quantity", "must not be negative")
	}
	if qty > entity.MaxLineQuantity {
		return nil, entity.NewValidationError("quantity", fmt.Sprintf("must be at most %d", entity.MaxLineQuantity))
	}
	if qty > 0 {
		if err := s.requirePurchasable(ctx, variantID); err != nil {
			return nil, err
		}
	}

	cart, err := s.stores.Carts.GetOrCreate(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if err := s.stores.Carts.SetItemQuantity(ctx, cart.ID, variantID, qty); err != nil {
		return nil, fmt.Errorf("failed to set item quantity: %w", err)
	}

	slog.Info("Service: Set cart item quantity", "cart_id", cart.ID, "variant_id", variantID, "quantity", qty)
	metrics.CartMutations.WithLabelValues("set").Inc()
	return s.stores.Carts.Get(ctx, owner)
}

// RemoveItem deletes the line. Removing a line that is not there succeeds
// and leaves the cart unchanged.
func (s *CartService) RemoveItem(ctx context.Context, owner entity.CartOwner, variantID string) (*entity.Cart, error) {
	if !owner.Valid() {
		return nil, entity.NewValidationError("owner", "missing or malformed cart owner")
	}
	cart, err := s.stores.Carts.GetOrCreate(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if err := s.stores.Carts.RemoveItem(ctx, cart.ID, variantID); err != nil {
		return nil, fmt.Errorf("failed to remove item: %w", err)
	}

	slog.Info("Service: Removed item from cart", "cart_id", cart.ID, "variant_id", variantID)
	metrics.CartMutations.WithLabelValues("remove").Inc()
	return s.stores.Carts.Get(ctx, owner)
}

// Clear removes every line and any attached discount code.
func (s *CartService) Clear(ctx context.Context, owner entity.CartOwner) (*entity.Cart, error) {
	if !owner.Valid() {
		return nil, entity.NewValidationError("owner", "missing or malformed cart owner")
	}
	cart, err := s.stores.Carts.GetOrCreate(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if err := s.stores.Carts.Clear(ctx, cart.ID); err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}

	slog.Info("Service: Cleared cart", "cart_id", cart.ID)
	metrics.CartMutations.WithLabelValues("clear").Inc()
	return s.stores.Carts.Get(ctx, owner)
}

// ApplyDiscount attaches a code to the cart, replacing any previous one.
// Existence and active are checked here; window, caps and minimums are the
// checkout validator's business.
func (s *CartService) ApplyDiscount(ctx context.Context, owner entity.CartOwner, code string) (*entity.Cart, error) {
	if !owner.Valid() {
		return nil, entity.NewValidationError("owner", "missing or malformed cart owner")
	}
	normalized := entity.NormalizeDiscountCode(code)
	if normalized == "" {
		return nil, entity.NewValidationError("code", "must not be empty")
	}

	discount, err := s.stores.Discounts.FindByCode(ctx, normalized)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, entity.NewValidationError("code", "unknown discount code")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up discount: %w", err)
	}
	if !discount.Active {
		return nil, entity.NewValidationError("code", "discount code is not active")
	}

	cart, err := s.stores.Carts.GetOrCreate(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if err := s.stores.Carts.SetDiscountCode(ctx, cart.ID, &normalized); err != nil {
		return nil, fmt.Errorf("failed to apply discount: %w", err)
	}

	slog.Info("Service: Applied discount to cart", "cart_id", cart.ID, "code", normalized)
	metrics.CartMutations.WithLabelValues("apply_discount").Inc()
	return s.stores.Carts.Get(ctx, owner)
}

// RemoveDiscount detaches the cart's discount code, if any.
func (s *CartService) RemoveDiscount(ctx context.Context, owner entity.CartOwner) (*entity.Cart, error) {
	if !owner.Valid() {
		return nil, entity.NewValidationError("owner", "missing or malformed cart owner")
	}
	cart, err := s.stores.Carts.GetOrCreate(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if err := s.stores.Carts.SetDiscountCode(ctx, cart.ID, nil); err != nil {
		return nil, fmt.Errorf("failed to remove discount: %w", err)
	}

	slog.Info("Service: Removed discount from cart", "cart_id", cart.ID)
	metrics.CartMutations.WithLabelValues("remove_discount").Inc()
	return s.stores.Carts.Get(ctx, owner)
}

// requirePurchasable rejects lines for variants that do not exist or are
// retired. Stock is deliberately not checked while shopping.
func (s *CartService) requirePurchasable(ctx context.Context, variantID string) error {
	if variantID == "" {
		return entity.NewValidationError("variant_id", "must not be empty")
	}
	variant, err := s.stores.Variants.Find(ctx, variantID)
	if errors.Is(err, entity.ErrNotFound) {
		return entity.NewValidationError("variant_id", "unknown variant")
	}
	if err != nil {
		return fmt.Errorf("failed to look up variant: %w", err)
	}
	if !variant.Purchasable() {
		return entity.NewValidationError("variant_id", "variant is not purchasable")
	}
	return nil
}
