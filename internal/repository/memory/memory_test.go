package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quickshop-io/checkout-engine/internal/entity"
	"github.com/quickshop-io/checkout-engine/internal/repository"
)

func seedVariant(t *testing.T, s *Store, stock int) entity.Variant {
	t.Helper()
	v := entity.Variant{
		ID:        uuid.NewString(),
		SKU:       "TEST-SKU",
		Name:      "Test Variant",
		Price:     decimal.RequireFromString("10.00"),
		Stock:     stock,
		Active:    true,
		UpdatedAt: time.Now().UTC(),
	}
	s.PutVariant(v)
	return v
}

func seedDiscount(t *testing.T, s *Store, maxUses, usedCount int) entity.DiscountCode {
	t.Helper()
	d := entity.DiscountCode{
		Code:      "TESTCODE",
		Kind:      entity.DiscountFixed,
		Value:     decimal.RequireFromString("5.00"),
		StartsAt:  time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(time.Hour),
		MaxUses:   maxUses,
		UsedCount: usedCount,
		Active:    true,
	}
	s.PutDiscount(d)
	return d
}

func TestAddItemConcurrentAccumulate(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()

	cart, err := stores.Carts.GetOrCreate(ctx, entity.GuestOwner("g1"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := stores.Carts.AddItem(ctx, cart.ID, "variant-1", 1); err != nil {
				t.Errorf("AddItem: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := stores.Carts.Get(ctx, entity.GuestOwner("g1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(got.Items))
	}
	if got.Items[0].Quantity != 50 {
		t.Fatalf("expected quantity 50, got %d", got.Items[0].Quantity)
	}
}

func TestAddItemClampsAtMaxLineQuantity(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()

	cart, _ := stores.Carts.GetOrCreate(ctx, entity.GuestOwner("g1"))
	if err := stores.Carts.AddItem(ctx, cart.ID, "variant-1", 60); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := stores.Carts.AddItem(ctx, cart.ID, "variant-1", 60); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	got, _ := stores.Carts.Get(ctx, entity.GuestOwner("g1"))
	if got.Items[0].Quantity != entity.MaxLineQuantity {
		t.Fatalf("expected clamp at %d, got %d", entity.MaxLineQuantity, got.Items[0].Quantity)
	}
}

func TestGetOrCreateConverges(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()
	owner := entity.UserOwner("u1")

	ids := make([]string, 20)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cart, err := stores.Carts.GetOrCreate(ctx, owner)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			ids[i] = cart.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("concurrent GetOrCreate produced different carts: %s vs %s", id, ids[0])
		}
	}
}

func TestSetItemQuantityZeroRemovesLine(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()

	cart, _ := stores.Carts.GetOrCreate(ctx, entity.GuestOwner("g1"))
	stores.Carts.AddItem(ctx, cart.ID, "variant-1", 3)
	if err := stores.Carts.SetItemQuantity(ctx, cart.ID, "variant-1", 0); err != nil {
		t.Fatalf("SetItemQuantity: %v", err)
	}

	got, _ := stores.Carts.Get(ctx, entity.GuestOwner("g1"))
	if !got.IsEmpty() {
		t.Fatalf("expected empty cart, got %d lines", len(got.Items))
	}
}

func TestRemoveItemIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()

	cart, _ := stores.Carts.GetOrCreate(ctx, entity.GuestOwner("g1"))
	stores.Carts.AddItem(ctx, cart.ID, "variant-1", 2)
	stores.Carts.AddItem(ctx, cart.ID, "variant-2", 1)

	if err := stores.Carts.RemoveItem(ctx, cart.ID, "variant-1"); err != nil {
		t.Fatalf("first remove: %v", err)
	}
	if err := stores.Carts.RemoveItem(ctx, cart.ID, "variant-1"); err != nil {
		t.Fatalf("second remove: %v", err)
	}

	got, _ := stores.Carts.Get(ctx, entity.GuestOwner("g1"))
	if len(got.Items) != 1 || got.Items[0].VariantID != "variant-2" {
		t.Fatalf("unexpected cart state after idempotent remove: %+v", got.Items)
	}
}

func TestDecrementStockExactlyFiveWin(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()
	v := seedVariant(t, s, 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, losses := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := stores.Variants.DecrementStock(ctx, v.ID, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, repository.ErrStockRace):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 5 || losses != 5 {
		t.Fatalf("expected 5 wins and 5 losses, got %d and %d", wins, losses)
	}
	got, _ := stores.Variants.Find(ctx, v.ID)
	if got.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", got.Stock)
	}
}

func TestDecrementStockInsufficient(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()
	v := seedVariant(t, s, 3)

	if err := stores.Variants.DecrementStock(ctx, v.ID, 4); !errors.Is(err, repository.ErrStockRace) {
		t.Fatalf("expected ErrStockRace, got %v", err)
	}
	if err := stores.Variants.DecrementStock(ctx, "missing", 1); !errors.Is(err, repository.ErrStockRace) {
		t.Fatalf("expected ErrStockRace for missing variant, got %v", err)
	}

	got, _ := stores.Variants.Find(ctx, v.ID)
	if got.Stock != 3 {
		t.Fatalf("failed decrement must not change stock, got %d", got.Stock)
	}
}

func TestAdjustStock(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()
	v := seedVariant(t, s, 2)

	stock, err := stores.Variants.AdjustStock(ctx, v.ID, 10)
	if err != nil || stock != 12 {
		t.Fatalf("expected stock 12, got %d (%v)", stock, err)
	}
	if _, err := stores.Variants.AdjustStock(ctx, v.ID, -13); !errors.Is(err, repository.ErrStockRace) {
		t.Fatalf("expected ErrStockRace below zero, got %v", err)
	}
	if _, err := stores.Variants.AdjustStock(ctx, "missing", 1); !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementUsageCapExactlyThree(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()
	d := seedDiscount(t, s, 3, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := stores.Discounts.IncrementUsage(ctx, d.Code)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if !errors.Is(err, repository.ErrDiscountRace) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 3 {
		t.Fatalf("expected exactly 3 wins, got %d", wins)
	}
	got, _ := stores.Discounts.FindByCode(ctx, d.Code)
	if got.UsedCount != 3 {
		t.Fatalf("expected used count 3, got %d", got.UsedCount)
	}
}

func TestIncrementUsageUnlimited(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()
	d := seedDiscount(t, s, 0, 99)

	if err := stores.Discounts.IncrementUsage(ctx, d.Code); err != nil {
		t.Fatalf("zero MaxUses must never cap: %v", err)
	}
}

func TestDecrementUsageFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()
	d := seedDiscount(t, s, 3, 1)

	if err := stores.Discounts.DecrementUsage(ctx, d.Code); err != nil {
		t.Fatalf("DecrementUsage: %v", err)
	}
	if err := stores.Discounts.DecrementUsage(ctx, d.Code); err != nil {
		t.Fatalf("DecrementUsage at zero: %v", err)
	}

	got, _ := stores.Discounts.FindByCode(ctx, d.Code)
	if got.UsedCount != 0 {
		t.Fatalf("expected floor at 0, got %d", got.UsedCount)
	}
}

func TestInTxRollbackRestoresState(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()
	v := seedVariant(t, s, 5)
	d := seedDiscount(t, s, 3, 0)
	cart, _ := stores.Carts.GetOrCreate(ctx, entity.GuestOwner("g1"))
	stores.Carts.AddItem(ctx, cart.ID, v.ID, 2)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx repository.Stores) error {
		if err := tx.Variants.DecrementStock(ctx, v.ID, 2); err != nil {
			return err
		}
		if err := tx.Discounts.IncrementUsage(ctx, d.Code); err != nil {
			return err
		}
		if err := tx.Carts.Delete(ctx, cart.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	variant, _ := stores.Variants.Find(ctx, v.ID)
	if variant.Stock != 5 {
		t.Fatalf("stock not rolled back: %d", variant.Stock)
	}
	discount, _ := stores.Discounts.FindByCode(ctx, d.Code)
	if discount.UsedCount != 0 {
		t.Fatalf("usage not rolled back: %d", discount.UsedCount)
	}
	got, err := stores.Carts.Get(ctx, entity.GuestOwner("g1"))
	if err != nil {
		t.Fatalf("cart not rolled back: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 2 {
		t.Fatalf("cart lines not rolled back: %+v", got.Items)
	}
}

func TestInTxCommitKeepsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()
	v := seedVariant(t, s, 5)

	err := s.InTx(ctx, func(tx repository.Stores) error {
		return tx.Variants.DecrementStock(ctx, v.ID, 3)
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}

	got, _ := stores.Variants.Find(ctx, v.ID)
	if got.Stock != 2 {
		t.Fatalf("expected stock 2 after commit, got %d", got.Stock)
	}
}

func newTestOrder(owner entity.CartOwner, status entity.OrderStatus, discountCode string) *entity.Order {
	order := &entity.Order{
		ID:            uuid.NewString(),
		Number:        "ORD-" + uuid.NewString()[:10],
		Owner:         owner,
		Items:         []entity.OrderItem{{VariantID: "v1", SKU: "S", Name: "N", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 1, LineTotal: decimal.RequireFromString("10.00")}},
		Subtotal:      decimal.RequireFromString("10.00"),
		Total:         decimal.RequireFromString("10.00"),
		Status:        status,
		PaymentStatus: entity.PaymentPending,
		PlacedAt:      time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if discountCode != "" {
		order.DiscountCode = &discountCode
	}
	return order
}

func TestOrderCreateRejectsDuplicateNumber(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()

	first := newTestOrder(entity.UserOwner("u1"), entity.StatusPending, "")
	if err := stores.Orders.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dup := newTestOrder(entity.UserOwner("u2"), entity.StatusPending, "")
	dup.Number = first.Number
	if err := stores.Orders.Create(ctx, dup); !errors.Is(err, repository.ErrOrderNumberTaken) {
		t.Fatalf("expected ErrOrderNumberTaken, got %v", err)
	}
}

func TestUpdateStatusCAS(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()

	order := newTestOrder(entity.UserOwner("u1"), entity.StatusPending, "")
	stores.Orders.Create(ctx, order)

	if err := stores.Orders.UpdateStatus(ctx, order.ID, entity.StatusPending, entity.StatusCancelled); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := stores.Orders.UpdateStatus(ctx, order.ID, entity.StatusPending, entity.StatusCancelled); !errors.Is(err, repository.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict on stale CAS, got %v", err)
	}
	if err := stores.Orders.UpdateStatus(ctx, "missing", entity.StatusPending, entity.StatusCancelled); !errors.Is(err, repository.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict for missing order, got %v", err)
	}
}

func TestUpdatePaymentCAS(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()

	order := newTestOrder(entity.UserOwner("u1"), entity.StatusPending, "")
	stores.Orders.Create(ctx, order)

	if err := stores.Orders.UpdatePayment(ctx, order.ID, entity.PaymentPending, entity.PaymentPaid, "ch_1"); err != nil {
		t.Fatalf("UpdatePayment: %v", err)
	}
	got, _ := stores.Orders.Find(ctx, order.ID)
	if got.PaymentStatus != entity.PaymentPaid || got.PaymentReference != "ch_1" {
		t.Fatalf("payment not applied: %s %s", got.PaymentStatus, got.PaymentReference)
	}

	if err := stores.Orders.UpdatePayment(ctx, order.ID, entity.PaymentPending, entity.PaymentFailed, ""); !errors.Is(err, repository.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}

	// Empty reference keeps the stored one.
	if err := stores.Orders.UpdatePayment(ctx, order.ID, entity.PaymentPaid, entity.PaymentRefunded, ""); err != nil {
		t.Fatalf("UpdatePayment: %v", err)
	}
	got, _ = stores.Orders.Find(ctx, order.ID)
	if got.PaymentReference != "ch_1" {
		t.Fatalf("reference overwritten by empty value: %q", got.PaymentReference)
	}
}

func TestCountByOwnerAndDiscountExcludesCancelled(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()
	owner := entity.UserOwner("u1")

	stores.Orders.Create(ctx, newTestOrder(owner, entity.StatusPending, "SAVE5"))
	stores.Orders.Create(ctx, newTestOrder(owner, entity.StatusCancelled, "SAVE5"))
	stores.Orders.Create(ctx, newTestOrder(owner, entity.StatusDelivered, "SAVE5"))
	stores.Orders.Create(ctx, newTestOrder(owner, entity.StatusPending, "OTHER"))
	stores.Orders.Create(ctx, newTestOrder(entity.UserOwner("u2"), entity.StatusPending, "SAVE5"))

	count, err := stores.Orders.CountByOwnerAndDiscount(ctx, owner, "save5")
	if err != nil {
		t.Fatalf("CountByOwnerAndDiscount: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 (cancelled excluded, other owner excluded), got %d", count)
	}
}

func TestFindByOwnerNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()
	owner := entity.UserOwner("u1")

	older := newTestOrder(owner, entity.StatusPending, "")
	older.PlacedAt = time.Now().Add(-time.Hour)
	newer := newTestOrder(owner, entity.StatusPending, "")
	stores.Orders.Create(ctx, older)
	stores.Orders.Create(ctx, newer)

	orders, err := stores.Orders.FindByOwner(ctx, owner, 10)
	if err != nil {
		t.Fatalf("FindByOwner: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != newer.ID {
		t.Fatalf("expected newest first, got %+v", orders)
	}

	limited, _ := stores.Orders.FindByOwner(ctx, owner, 1)
	if len(limited) != 1 {
		t.Fatalf("limit ignored, got %d", len(limited))
	}
}

func TestAuditAppendAndList(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	stores := s.Stores()

	placedAt := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	if err := stores.Audit.Append(ctx, &entity.OrderEvent{OrderID: "o1", Type: "order_placed", Payload: []byte(`{"a":1}`), CreatedAt: placedAt}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := stores.Audit.Append(ctx, &entity.OrderEvent{OrderID: "o1", Type: "order_status_changed", CreatedAt: placedAt.Add(time.Second)}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := stores.Audit.ListByOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("ListByOrder: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "order_placed" || events[1].Type != "order_status_changed" {
		t.Fatalf("unexpected order: %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].ID == "" {
		t.Fatalf("missing generated event id")
	}
}
