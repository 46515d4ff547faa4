package memory

import (
	"context"

	"github.com/quickshop-io/checkout-engine/internal/entity"
	"github.com/quickshop-io/checkout-engine/internal/repository"
)

type discountStore struct {
	s  *Store
	tx bool
}

func (d *discountStore) FindByCode(ctx context.Context, code string) (*entity.DiscountCode, error) {
	defer d.s.acquire(d.tx)()
	discount, ok := d.s.discounts[entity.NormalizeDiscountCode(code)]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := discount
	return &cp, nil
}

func (d *discountStore) IncrementUsage(ctx context.Context, code string) error {
	defer d.s.acquire(d.tx)()
	key := entity.NormalizeDiscountCode(code)
	discount, ok := d.s.discounts[key]
	if !ok {
		return repository.ErrDiscountRace
	}
	if discount.MaxUses > 0 && discount.UsedCount >= discount.MaxUses {
		return repository.ErrDiscountRace
	}
	discount.UsedCount++
	d.s.discounts[key] = discount
	return nil
}

func (d *discountStore) DecrementUsage(ctx context.Context, code string) error {
	defer d.s.acquire(d.tx)()
	key := entity.NormalizeDiscountCode(code)
	discount, ok := d.s.discounts[key]
	if !ok || discount.UsedCount == 0 {
		return nil
	}
	discount.UsedCount--
	d.s.discounts[key] = discount
	return nil
}
