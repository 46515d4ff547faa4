package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quickshop-io/checkout-engine/internal/entity"
)

type cartStore struct {
	s  *Store
	tx bool
}

func (c *cartStore) GetOrCreate(ctx context.Context, owner entity.CartOwner) (*entity.Cart, error) {
	defer c.s.acquire(c.tx)()
	key := owner.String()
	if id, ok := c.s.ownerIndex[key]; ok {
		return c.s.cartByID(id)
	}
	now := time.Now().UTC()
	rec := &cartRecord{
		cart: entity.Cart{
			ID:        uuid.NewString(),
			Owner:     owner,
			CreatedAt: now,
			UpdatedAt: now,
		},
		items: make(map[string]int),
	}
	c.s.carts[rec.cart.ID] = rec
	c.s.ownerIndex[key] = rec.cart.ID
	return c.s.cartByID(rec.cart.ID)
}

func (c *cartStore) Get(ctx context.Context, owner entity.CartOwner) (*entity.Cart, error) {
	defer c.s.acquire(c.tx)()
	id, ok := c.s.ownerIndex[owner.String()]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return c.s.cartByID(id)
}

func (c *cartStore) AddItem(ctx context.Context, cartID, variantID string, qty int) error {
	defer c.s.acquire(c.tx)()
	rec, ok := c.s.carts[cartID]
	if !ok {
		return entity.ErrNotFound
	}
	total := rec.items[variantID] + qty
	if total > entity.MaxLineQuantity {
		total = entity.MaxLineQuantity
	}
	rec.items[variantID] = total
	rec.cart.UpdatedAt = time.Now().UTC()
	return nil
}

func (c *cartStore) SetItemQuantity(ctx context.Context, cartID, variantID string, qty int) error {
	defer c.s.acquire(c.tx)()
	rec, ok := c.s.carts[cartID]
	if !ok {
		return nil
	}
	if qty == 0 {
		delete(rec.items, variantID)
	} else {
		rec.items[variantID] = qty
	}
	rec.cart.UpdatedAt = time.Now().UTC()
	return nil
}

func (c *cartStore) RemoveItem(ctx context.Context, cartID, variantID string) error {
	defer c.s.acquire(c.tx)()
	if rec, ok := c.s.carts[cartID]; ok {
		delete(rec.items, variantID)
		rec.cart.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (c *cartStore) Clear(ctx context.Context, cartID string) error {
	defer c.s.acquire(c.tx)()
	if rec, ok := c.s.carts[cartID]; ok {
		rec.items = make(map[string]int)
		rec.cart.DiscountCode = nil
		rec.cart.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (c *cartStore) SetDiscountCode(ctx context.Context, cartID string, code *string) error {
	defer c.s.acquire(c.tx)()
	if rec, ok := c.s.carts[cartID]; ok {
		if code == nil {
			rec.cart.DiscountCode = nil
		} else {
			normalized := entity.NormalizeDiscountCode(*code)
			rec.cart.DiscountCode = &normalized
		}
		rec.cart.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (c *cartStore) Delete(ctx context.Context, cartID string) error {
	defer c.s.acquire(c.tx)()
	rec, ok := c.s.carts[cartID]
	if !ok {
		return nil
	}
	delete(c.s.ownerIndex, rec.cart.Owner.String())
	delete(c.s.carts, cartID)
	return nil
}

// cartByID builds a detached copy with lines sorted by variant id, matching
// the SQL backend's ordering.
func (s *Store) cartByID(id string) (*entity.Cart, error) {
	rec, ok := s.carts[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cart := rec.cart
	if rec.cart.DiscountCode != nil {
		code := *rec.cart.DiscountCode
		cart.DiscountCode = &code
	}
	cart.Items = make([]entity.CartItem, 0, len(rec.items))
	for variantID, qty := range rec.items {
		cart.Items = append(cart.Items, entity.CartItem{VariantID: variantID, Quantity: qty})
	}
	sort.Slice(cart.Items, func(i, j int) bool { return cart.Items[i].VariantID < cart.Items[j].VariantID })
	return &cart, nil
}
