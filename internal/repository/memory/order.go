package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/quickshop-io/checkout-engine/internal/entity"
	"github.com/quickshop-io/checkout-engine/internal/repository"
)

type orderStore struct {
	s  *Store
	tx bool
}

func (o *orderStore) Create(ctx context.Context, order *entity.Order) error {
	defer o.s.acquire(o.tx)()
	if _, taken := o.s.orderNumbers[order.Number]; taken {
		return repository.ErrOrderNumberTaken
	}
	stored := *order
	stored.Items = slices.Clone(order.Items)
	if order.DiscountCode != nil {
		code := *order.DiscountCode
		stored.DiscountCode = &code
	}
	o.s.orders[stored.ID] = stored
	o.s.orderNumbers[stored.Number] = stored.ID
	return nil
}

func (o *orderStore) Find(ctx context.Context, id string) (*entity.Order, error) {
	defer o.s.acquire(o.tx)()
	return o.s.findOrder(id)
}

func (o *orderStore) FindByOwner(ctx context.Context, owner entity.CartOwner, limit int) ([]entity.Order, error) {
	defer o.s.acquire(o.tx)()
	var orders []entity.Order
	for _, order := range o.s.orders {
		if order.Owner == owner {
			order.Items = slices.Clone(order.Items)
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].PlacedAt.Equal(orders[j].PlacedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].PlacedAt.After(orders[j].PlacedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (o *orderStore) CountByOwnerAndDiscount(ctx context.Context, owner entity.CartOwner, code string) (int, error) {
	defer o.s.acquire(o.tx)()
	normalized := entity.NormalizeDiscountCode(code)
	count := 0
	for _, order := range o.s.orders {
		if order.Owner != owner || order.Status == entity.StatusCancelled {
			continue
		}
		if order.DiscountCode != nil && *order.DiscountCode == normalized {
			count++
		}
	}
	return count, nil
}

func (o *orderStore) UpdateStatus(ctx context.Context, id string, from, to entity.OrderStatus) error {
	defer o.s.acquire(o.tx)()
	order, ok := o.s.orders[id]
	if !ok || order.Status != from {
		return repository.ErrStatusConflict
	}
	order.Status = to
	order.UpdatedAt = time.Now().UTC()
	o.s.orders[id] = order
	return nil
}

func (o *orderStore) UpdatePayment(ctx context.Context, id string, from, to entity.PaymentStatus, reference string) error {
	defer o.s.acquire(o.tx)()
	order, ok := o.s.orders[id]
	if !ok || order.PaymentStatus != from {
		return repository.ErrStatusConflict
	}
	order.PaymentStatus = to
	if reference != "" {
		order.PaymentReference = reference
	}
	order.UpdatedAt = time.Now().UTC()
	o.s.orders[id] = order
	return nil
}

func (s *Store) findOrder(id string) (*entity.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	order.Items = slices.Clone(order.Items)
	if s.orders[id].DiscountCode != nil {
		code := *s.orders[id].DiscountCode
		order.DiscountCode = &code
	}
	return &order, nil
}
