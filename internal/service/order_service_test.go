package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickshop-io/checkout-engine/internal/entity"
	"github.com/quickshop-io/checkout-engine/internal/messaging"
	"github.com/quickshop-io/checkout-engine/internal/repository"
	"github.com/quickshop-io/checkout-engine/internal/repository/memory"
)

// preludeUnitOfWork runs a write inside the same transaction before the
// service's callback, standing in for a concurrent writer that got there
// first.
type preludeUnitOfWork struct {
	inner   repository.UnitOfWork
	prelude func(tx repository.Stores) error
}

func (u *preludeUnitOfWork) InTx(ctx context.Context, fn func(tx repository.Stores) error) error {
	return u.inner.InTx(ctx, func(tx repository.Stores) error {
		if err := u.prelude(tx); err != nil {
			return err
		}
		return fn(tx)
	})
}

func newOrderFixture(t *testing.T) (*OrderService, *memory.Store, *capturePublisher) {
	t.Helper()
	store := memory.NewStore()
	pub := &capturePublisher{}
	return NewOrderService(store.Stores(), store, pub), store, pub
}

func seedOrder(t *testing.T, store *memory.Store, owner entity.CartOwner, status entity.OrderStatus, payment entity.PaymentStatus, discountCode string) *entity.Order {
	t.Helper()
	now := time.Now().UTC()
	order := &entity.Order{
		ID:            uuid.NewString(),
		Number:        "ORD-" + uuid.NewString()[:10],
		Owner:         owner,
		Items:         []entity.OrderItem{{VariantID: uuid.NewString(), SKU: "SKU", Name: "Thing", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 1, LineTotal: decimal.RequireFromString("10.00")}},
		Subtotal:      decimal.RequireFromString("10.00"),
		Total:         decimal.RequireFromString("10.00"),
		Status:        status,
		PaymentStatus: payment,
		PlacedAt:      now,
		UpdatedAt:     now,
	}
	if discountCode != "" {
		order.DiscountCode = &discountCode
		order.DiscountAmount = decimal.RequireFromString("2.00")
	}
	require.NoError(t, store.Stores().Orders.Create(context.Background(), order))
	return order
}

func TestCancelReleasesDiscount(t *testing.T) {
	ctx := context.Background()
	svc, store, pub := newOrderFixture(t)
	putDiscount(store, entity.DiscountCode{Code: "SAVE2", Kind: entity.DiscountFixed, Value: decimal.NewFromInt(2), MaxUses: 10, UsedCount: 1, Active: true})
	owner := entity.UserOwner("u1")
	order := seedOrder(t, store, owner, entity.StatusPending, entity.PaymentPending, "SAVE2")

	got, err := svc.Cancel(ctx, owner, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, got.Status)

	discount, err := store.Stores().Discounts.FindByCode(ctx, "SAVE2")
	require.NoError(t, err)
	assert.Equal(t, 0, discount.UsedCount, "cancellation hands the use back")

	events, err := store.Stores().Audit.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	types := make(map[string]int)
	for _, e := range events {
		types[e.Type]++
	}
	assert.Equal(t, 1, types["discount_released"])
	assert.Equal(t, 1, types["order_status_changed"])

	captured := pub.captured()
	require.Len(t, captured, 1)
	assert.Equal(t, messaging.TopicOrderStatusChanged, captured[0].Topic)
	change, ok := captured[0].Event.(entity.OrderStatusChangedEvent)
	require.True(t, ok)
	assert.Equal(t, entity.AxisFulfilment, change.Axis)
	assert.Equal(t, string(entity.StatusCancelled), change.To)
}

func TestCancelTwiceReleasesOnce(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newOrderFixture(t)
	putDiscount(store, entity.DiscountCode{Code: "SAVE2", Kind: entity.DiscountFixed, Value: decimal.NewFromInt(2), MaxUses: 10, UsedCount: 1, Active: true})
	owner := entity.UserOwner("u1")
	order := seedOrder(t, store, owner, entity.StatusPending, entity.PaymentPending, "SAVE2")

	_, err := svc.Cancel(ctx, owner, order.ID)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, owner, order.ID)
	var state *entity.StateError
	require.ErrorAs(t, err, &state)
	assert.Contains(t, state.Reason, "terminal")

	discount, err := store.Stores().Discounts.FindByCode(ctx, "SAVE2")
	require.NoError(t, err)
	assert.Equal(t, 0, discount.UsedCount, "repeat cancel never double-releases")
}

func TestCancelCompensationFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newOrderFixture(t)
	putDiscount(store, entity.DiscountCode{Code: "SAVE2", Kind: entity.DiscountFixed, Value: decimal.NewFromInt(2), MaxUses: 10, UsedCount: 0, Active: true})
	owner := entity.UserOwner("u1")
	order := seedOrder(t, store, owner, entity.StatusPending, entity.PaymentPending, "SAVE2")

	_, err := svc.Cancel(ctx, owner, order.ID)
	require.NoError(t, err, "releasing a count already at zero is a no-op")

	discount, err := store.Stores().Discounts.FindByCode(ctx, "SAVE2")
	require.NoError(t, err)
	assert.Equal(t, 0, discount.UsedCount)
}

func TestProcessingRequiresPayment(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newOrderFixture(t)
	order := seedOrder(t, store, entity.UserOwner("u1"), entity.StatusPending, entity.PaymentPending, "")

	_, err := svc.Transition(ctx, order.ID, "", entity.StatusProcessing)
	var state *entity.StateError
	require.ErrorAs(t, err, &state)
	assert.Contains(t, state.Reason, "payment not completed")

	_, err = svc.MarkPaid(ctx, order.ID, "ch_42")
	require.NoError(t, err)

	got, err := svc.Transition(ctx, order.ID, "", entity.StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusProcessing, got.Status)
	assert.Equal(t, "ch_42", got.PaymentReference)
}

func TestCancelledOrderRefusesPayment(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newOrderFixture(t)
	owner := entity.UserOwner("u1")
	order := seedOrder(t, store, owner, entity.StatusPending, entity.PaymentPending, "")

	_, err := svc.Cancel(ctx, owner, order.ID)
	require.NoError(t, err)

	_, err = svc.MarkPaid(ctx, order.ID, "ch_late")
	var state *entity.StateError
	require.ErrorAs(t, err, &state)
	assert.Contains(t, state.Reason, "cannot take payment")
}

func TestPaymentRetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newOrderFixture(t)
	order := seedOrder(t, store, entity.UserOwner("u1"), entity.StatusPending, entity.PaymentPending, "")

	got, err := svc.MarkPaymentFailed(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentFailed, got.PaymentStatus)

	got, err = svc.TransitionPayment(ctx, order.ID, entity.PaymentPending, "")
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentPending, got.PaymentStatus)

	got, err = svc.MarkPaid(ctx, order.ID, "ch_retry")
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentPaid, got.PaymentStatus)
}

func TestRefundRequiresPaymentRefund(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newOrderFixture(t)
	order := seedOrder(t, store, entity.UserOwner("u1"), entity.StatusShipped, entity.PaymentPaid, "")

	_, err := svc.Transition(ctx, order.ID, "", entity.StatusRefunded)
	var state *entity.StateError
	require.ErrorAs(t, err, &state)
	assert.Contains(t, state.Reason, "refunded first")

	_, err = svc.TransitionPayment(ctx, order.ID, entity.PaymentRefunded, "")
	require.NoError(t, err)

	got, err := svc.Transition(ctx, order.ID, "", entity.StatusRefunded)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRefunded, got.Status)
}

func TestTransitionAssertedFrom(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newOrderFixture(t)
	order := seedOrder(t, store, entity.UserOwner("u1"), entity.StatusPending, entity.PaymentPaid, "")

	_, err := svc.Transition(ctx, order.ID, entity.StatusProcessing, entity.StatusShipped)
	var state *entity.StateError
	require.ErrorAs(t, err, &state)
	assert.Equal(t, string(entity.StatusPending), state.Current, "caller learns the status it missed")

	got, err := svc.Transition(ctx, order.ID, entity.StatusPending, entity.StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusProcessing, got.Status)
}

func TestTransitionValidation(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newOrderFixture(t)
	order := seedOrder(t, store, entity.UserOwner("u1"), entity.StatusPending, entity.PaymentPending, "")

	var verr *entity.ValidationError
	_, err := svc.Transition(ctx, order.ID, "", "teleported")
	assert.ErrorAs(t, err, &verr)

	_, err = svc.Transition(ctx, order.ID, "limbo", entity.StatusCancelled)
	assert.ErrorAs(t, err, &verr)

	_, err = svc.TransitionPayment(ctx, order.ID, "comped", "")
	assert.ErrorAs(t, err, &verr)

	_, err = svc.Transition(ctx, "no-such-order", "", entity.StatusCancelled)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestTransitionLosesCAS(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	order := seedOrder(t, store, entity.UserOwner("u1"), entity.StatusPending, entity.PaymentPaid, "")

	uow := &preludeUnitOfWork{inner: store, prelude: func(tx repository.Stores) error {
		return tx.Orders.UpdateStatus(ctx, order.ID, entity.StatusPending, entity.StatusCancelled)
	}}
	svc := NewOrderService(store.Stores(), uow, &capturePublisher{})

	_, err := svc.Transition(ctx, order.ID, "", entity.StatusProcessing)
	var state *entity.StateError
	require.ErrorAs(t, err, &state)
	assert.Contains(t, state.Reason, "concurrently")
}

func TestPaymentLosesCAS(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	order := seedOrder(t, store, entity.UserOwner("u1"), entity.StatusPending, entity.PaymentPending, "")

	uow := &preludeUnitOfWork{inner: store, prelude: func(tx repository.Stores) error {
		return tx.Orders.UpdatePayment(ctx, order.ID, entity.PaymentPending, entity.PaymentFailed, "")
	}}
	svc := NewOrderService(store.Stores(), uow, &capturePublisher{})

	_, err := svc.MarkPaid(ctx, order.ID, "ch_1")
	var state *entity.StateError
	require.ErrorAs(t, err, &state)
	assert.Contains(t, state.Reason, "concurrently")
}

func TestGetForOwnerHidesForeignOrders(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newOrderFixture(t)
	order := seedOrder(t, store, entity.UserOwner("alice"), entity.StatusPending, entity.PaymentPending, "")

	got, err := svc.GetForOwner(ctx, entity.UserOwner("alice"), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = svc.GetForOwner(ctx, entity.UserOwner("mallory"), order.ID)
	assert.ErrorIs(t, err, entity.ErrNotFound, "foreign orders read as missing")

	_, err = svc.Cancel(ctx, entity.UserOwner("mallory"), order.ID)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestListByOwner(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newOrderFixture(t)
	owner := entity.UserOwner("u1")
	seedOrder(t, store, owner, entity.StatusPending, entity.PaymentPending, "")
	seedOrder(t, store, owner, entity.StatusPending, entity.PaymentPending, "")
	seedOrder(t, store, entity.UserOwner("u2"), entity.StatusPending, entity.PaymentPending, "")

	orders, err := svc.ListByOwner(ctx, owner, 0)
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	var verr *entity.ValidationError
	_, err = svc.ListByOwner(ctx, entity.CartOwner{}, 10)
	assert.ErrorAs(t, err, &verr)
}

func TestEventsRequireKnownOrder(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newOrderFixture(t)

	_, err := svc.Events(ctx, "no-such-order")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func confirmationPayload(t *testing.T, orderID, reference string, succeeded bool) []byte {
	t.Helper()
	payload, err := json.Marshal(entity.PaymentConfirmedEvent{OrderID: orderID, Reference: reference, Succeeded: succeeded})
	require.NoError(t, err)
	return payload
}

func TestPaymentConfirmationHandler(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newOrderFixture(t)
	handler := PaymentConfirmationHandler(svc)

	t.Run("settled charge marks the order paid", func(t *testing.T) {
		order := seedOrder(t, store, entity.UserOwner("u1"), entity.StatusPending, entity.PaymentPending, "")

		require.NoError(t, handler(ctx, confirmationPayload(t, order.ID, "ch_99", true)))

		got, err := svc.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.PaymentPaid, got.PaymentStatus)
		assert.Equal(t, "ch_99", got.PaymentReference)
	})

	t.Run("redelivered confirmation is absorbed", func(t *testing.T) {
		order := seedOrder(t, store, entity.UserOwner("u2"), entity.StatusPending, entity.PaymentPending, "")
		payload := confirmationPayload(t, order.ID, "ch_100", true)

		require.NoError(t, handler(ctx, payload))
		require.NoError(t, handler(ctx, payload), "at-least-once delivery must not error on replay")

		got, err := svc.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.PaymentPaid, got.PaymentStatus)
	})

	t.Run("declined charge marks the payment failed", func(t *testing.T) {
		order := seedOrder(t, store, entity.UserOwner("u3"), entity.StatusPending, entity.PaymentPending, "")

		require.NoError(t, handler(ctx, confirmationPayload(t, order.ID, "", false)))

		got, err := svc.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.PaymentFailed, got.PaymentStatus)
	})

	t.Run("malformed payloads error", func(t *testing.T) {
		assert.Error(t, handler(ctx, []byte("{not json")))
		assert.Error(t, handler(ctx, []byte(`{"succeeded":true}`)), "missing order id")
	})

	t.Run("unknown orders error for redelivery", func(t *testing.T) {
		assert.ErrorIs(t, handler(ctx, confirmationPayload(t, uuid.NewString(), "", true)), entity.ErrNotFound)
	})
}
