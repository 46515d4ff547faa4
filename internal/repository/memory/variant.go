package memory

import (
	"context"
	"sort"
	"time"

	"github.com/quickshop-io/checkout-engine/internal/entity"
	"github.com/quickshop-io/checkout-engine/internal/repository"
)

type variantStore struct {
	s  *Store
	tx bool
}

func (v *variantStore) Find(ctx context.Context, id string) (*entity.Variant, error) {
	defer v.s.acquire(v.tx)()
	return v.s.findVariant(id)
}

func (v *variantStore) FindMany(ctx context.Context, ids []string) (map[string]*entity.Variant, error) {
	defer v.s.acquire(v.tx)()
	found := make(map[string]*entity.Variant, len(ids))
	for _, id := range ids {
		if variant, err := v.s.findVariant(id); err == nil {
			found[id] = variant
		}
	}
	return found, nil
}

func (v *variantStore) List(ctx context.Context, activeOnly bool) ([]entity.Variant, error) {
	defer v.s.acquire(v.tx)()
	var variants []entity.Variant
	for _, variant := range v.s.variants {
		if activeOnly && !variant.Active {
			continue
		}
		variants = append(variants, variant)
	}
	sort.Slice(variants, func(i, j int) bool { return variants[i].Name < variants[j].Name })
	return variants, nil
}

func (v *variantStore) DecrementStock(ctx context.Context, id string, qty int) error {
	defer v.s.acquire(v.tx)()
	variant, ok := v.s.variants[id]
	if !ok || variant.Stock < qty {
		return repository.ErrStockRace
	}
	variant.Stock -= qty
	variant.UpdatedAt = time.Now().UTC()
	v.s.variants[id] = variant
	return nil
}

func (v *variantStore) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	defer v.s.acquire(v.tx)()
	variant, ok := v.s.variants[id]
	if !ok {
		return 0, entity.ErrNotFound
	}
	if variant.Stock+delta < 0 {
		return 0, repository.ErrStockRace
	}
	variant.Stock += delta
	variant.UpdatedAt = time.Now().UTC()
	v.s.variants[id] = variant
	return variant.Stock, nil
}

func (s *Store) findVariant(id string) (*entity.Variant, error) {
	variant, ok := s.variants[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	v := variant
	return &v, nil
}
