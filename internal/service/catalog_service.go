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

// CatalogService reads variants and applies manual stock adjustments.
// Restocking after a cancellation or refund happens here, deliberately
// decoupled from the order state machine.
type CatalogService struct {
	stores repository.Stores
}

func NewCatalogService(stores repository.Stores) *CatalogService {
	return &CatalogService{stores: stores}
}

// List returns variants, optionally restricted to active ones.
func (s *CatalogService) List(ctx context.Context, activeOnly bool) ([]entity.Variant, error) {
	return s.stores.Variants.List(ctx, activeOnly)
}

// Get returns one variant by id.
func (s *CatalogService) Get(ctx context.Context, id string) (*entity.Variant, error) {
	return s.stores.Variants.Find(ctx, id)
}

// AdjustStock applies a signed delta to a variant's stock. Negative deltas
// use the same conditional floor as checkout, so an adjustment can lose to a
// concurrent sale and must be retried with a smaller delta.
func (s *CatalogService) AdjustStock(ctx context.Context, id string, delta int) (*entity.Variant, error) {
	if delta == 0 {
		return nil, entity.NewValidationError("delta", "must not be zero")
	}
	stock, err := s.stores.Variants.AdjustStock(ctx, id, delta)
	if errors.Is(err, repository.ErrStockRace) {
		return nil, &entity.RaceLostError{Code: entity.StockRaceLost, VariantID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to adjust stock: %w", err)
	}

	slog.Info("Service: Adjusted stock", "variant_id", id, "delta", delta, "stock", stock)
	metrics.StockAdjustments.Inc()
	return s.stores.Variants.Find(ctx, id)
}
