// Package memory implements the repository contracts in process memory. It
// backs the test suite and local development. One mutex guards all state;
// the unit of work snapshots state under the lock and restores it when the
// callback fails, which gives the same all-or-nothing behavior the SQL
// backend gets from transactions.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/quickshop-io/checkout-engine/internal/entity"
	"github.com/quickshop-io/checkout-engine/internal/repository"
)

// Store holds all in-memory state and implements repository.UnitOfWork.
type Store struct {
	mu sync.Mutex

	variants     map[string]entity.Variant
	discounts    map[string]entity.DiscountCode
	carts        map[string]*cartRecord
	ownerIndex   map[string]string
	orders       map[string]entity.Order
	orderNumbers map[string]string
	events       map[string][]entity.OrderEvent
}

type cartRecord struct {
	cart  entity.Cart
	items map[string]int
}

// NewStore creates an empty in-memory backend.
func NewStore() *Store {
	return &Store{
		variants:     make(map[string]entity.Variant),
		discounts:    make(map[string]entity.DiscountCode),
		carts:        make(map[string]*cartRecord),
		ownerIndex:   make(map[string]string),
		orders:       make(map[string]entity.Order),
		orderNumbers: make(map[string]string),
		events:       make(map[string][]entity.OrderEvent),
	}
}

// Stores returns the repository bundle backed by this store.
func (s *Store) Stores() repository.Stores {
	return s.stores(false)
}

func (s *Store) stores(tx bool) repository.Stores {
	return repository.Stores{
		Variants:  &variantStore{s: s, tx: tx},
		Discounts: &discountStore{s: s, tx: tx},
		Carts:     &cartStore{s: s, tx: tx},
		Orders:    &orderStore{s: s, tx: tx},
		Audit:     &auditStore{s: s, tx: tx},
	}
}

// acquire takes the store lock unless the caller already holds it because it
// is running inside InTx. The returned func releases whatever was taken.
func (s *Store) acquire(tx bool) func() {
	if tx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// InTx runs fn against stores that share the already-held lock. When fn
// fails, the pre-callback snapshot is restored, so partial writes never
// survive.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(s.stores(true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshotState struct {
	variants     map[string]entity.Variant
	discounts    map[string]entity.DiscountCode
	carts        map[string]*cartRecord
	ownerIndex   map[string]string
	orders       map[string]entity.Order
	orderNumbers map[string]string
	events       map[string][]entity.OrderEvent
}

func (s *Store) snapshot() snapshotState {
	snap := snapshotState{
		variants:     make(map[string]entity.Variant, len(s.variants)),
		discounts:    make(map[string]entity.DiscountCode, len(s.discounts)),
		carts:        make(map[string]*cartRecord, len(s.carts)),
		ownerIndex:   make(map[string]string, len(s.ownerIndex)),
		orders:       make(map[string]entity.Order, len(s.orders)),
		orderNumbers: make(map[string]string, len(s.orderNumbers)),
		events:       make(map[string][]entity.OrderEvent, len(s.events)),
	}
	for k, v := range s.variants {
		snap.variants[k] = v
	}
	for k, v := range s.discounts {
		snap.discounts[k] = v
	}
	for k, rec := range s.carts {
		items := make(map[string]int, len(rec.items))
		for vid, qty := range rec.items {
			items[vid] = qty
		}
		c := rec.cart
		snap.carts[k] = &cartRecord{cart: c, items: items}
	}
	for k, v := range s.ownerIndex {
		snap.ownerIndex[k] = v
	}
	for k, o := range s.orders {
		o.Items = slices.Clone(o.Items)
		snap.orders[k] = o
	}
	for k, v := range s.orderNumbers {
		snap.orderNumbers[k] = v
	}
	for k, evs := range s.events {
		snap.events[k] = slices.Clone(evs)
	}
	return snap
}

func (s *Store) restore(snap snapshotState) {
	s.variants = snap.variants
	s.discounts = snap.discounts
	s.carts = snap.carts
	s.ownerIndex = snap.ownerIndex
	s.orders = snap.orders
	s.orderNumbers = snap.orderNumbers
	s.events = snap.events
}

// PutVariant inserts or replaces a variant. Used by seeding and tests.
func (s *Store) PutVariant(v entity.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.ID] = v
}

// PutDiscount inserts or replaces a discount code. Used by seeding and tests.
func (s *Store) PutDiscount(d entity.DiscountCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.Code = entity.NormalizeDiscountCode(d.Code)
	s.discounts[d.Code] = d
}
