package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quickshop-io/checkout-engine/internal/entity"
	"github.com/quickshop-io/checkout-engine/internal/messaging"
	"github.com/quickshop-io/checkout-engine/internal/metrics"
	"github.com/quickshop-io/checkout-engine/internal/repository"
)

// OrderService drives orders through the fulfilment and payment state
// machines. Every transition is a compare-and-swap against the status the
// caller observed, so concurrent flips resolve to exactly one winner.
type OrderService struct {
	stores repository.Stores
	uow    repository.UnitOfWork
	pub    messaging.Publisher

	now func() time.Time
}

func NewOrderService(stores repository.Stores, uow repository.UnitOfWork, pub messaging.Publisher) *OrderService {
	return &OrderService{
		stores: stores,
		uow:    uow,
		pub:    pub,
		now:    time.Now,
	}
}

// Get returns the order regardless of owner. Owner-facing callers use
// GetForOwner instead.
func (s *OrderService) Get(ctx context.Context, id string) (*entity.Order, error) {
	return s.stores.Orders.Find(ctx, id)
}

// GetForOwner returns the order only when owner placed it. A mismatch reads
// as ErrNotFound so strangers cannot probe for order ids.
func (s *OrderService) GetForOwner(ctx context.Context, owner entity.CartOwner, id string) (*entity.Order, error) {
	order, err := s.stores.Orders.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Owner != owner {
		return nil, entity.ErrNotFound
	}
	return order, nil
}

// ListByOwner returns the owner's orders, newest first.
func (s *OrderService) ListByOwner(ctx context.Context, owner entity.CartOwner, limit int) ([]entity.Order, error) {
	if !owner.Valid() {
		return nil, entity.NewValidationError("owner", "missing or malformed cart owner")
	}
	if limit <= 0 {
		limit = 50
	}
	return s.stores.Orders.FindByOwner(ctx, owner, limit)
}

// Events returns the order's audit trail, oldest first.
func (s *OrderService) Events(ctx context.Context, id string) ([]entity.OrderEvent, error) {
	if _, err := s.stores.Orders.Find(ctx, id); err != nil {
		return nil, err
	}
	return s.stores.Audit.ListByOrder(ctx, id)
}

// Transition flips the fulfilment status to `to`. A non-empty `from` is the
// status the caller observed; a mismatch fails before any write. The
// transition table and the cross-axis payment guards are checked first; the
// write itself is a CAS on the loaded status. Transitioning to cancelled
// runs the cancellation compensation in the same transaction.
func (s *OrderService) Transition(ctx context.Context, id string, from, to entity.OrderStatus) (*entity.Order, error) {
	if !entity.ValidOrderStatus(to) {
		return nil, entity.NewValidationError("to", fmt.Sprintf("unknown status %q", to))
	}
	if from != "" && !entity.ValidOrderStatus(from) {
		return nil, entity.NewValidationError("from", fmt.Sprintf("unknown status %q", from))
	}
	order, err := s.stores.Orders.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if from != "" && order.Status != from {
		return nil, &entity.StateError{OrderID: id, From: string(from), To: string(to), Current: string(order.Status), Reason: "order is not in the asserted status"}
	}
	return s.transition(ctx, order, to)
}

// Cancel cancels the owner's order. It is the owner-facing edge of
// Transition: same table, same guards, same compensation.
func (s *OrderService) Cancel(ctx context.Context, owner entity.CartOwner, id string) (*entity.Order, error) {
	order, err := s.GetForOwner(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, order, entity.StatusCancelled)
}

func (s *OrderService) transition(ctx context.Context, order *entity.Order, to entity.OrderStatus) (*entity.Order, error) {
	from := order.Status
	if !from.CanTransitionTo(to) {
		reason := "illegal transition"
		if from.Terminal() {
			reason = fmt.Sprintf("%s is terminal", from)
		}
		return nil, &entity.StateError{OrderID: order.ID, From: string(from), To: string(to), Reason: reason}
	}
	if to == entity.StatusProcessing && order.PaymentStatus != entity.PaymentPaid {
		return nil, &entity.StateError{OrderID: order.ID, From: string(from), To: string(to), Reason: "payment not completed"}
	}
	if to == entity.StatusRefunded && order.PaymentStatus != entity.PaymentRefunded {
		return nil, &entity.StateError{OrderID: order.ID, From: string(from), To: string(to), Reason: "payment must be refunded first"}
	}

	now := s.now()
	err := s.uow.InTx(ctx, func(tx repository.Stores) error {
		if err := tx.Orders.UpdateStatus(ctx, order.ID, from, to); err != nil {
			return err
		}
		// Compensation runs only after the CAS succeeded, so a raced or
		// repeated cancel can never release the discount twice. Stock is
		// not restocked on cancel or refund; returns go through an
		// explicit inventory adjustment instead.
		if to == entity.StatusCancelled && order.UsedDiscount() {
			if err := tx.Discounts.DecrementUsage(ctx, *order.DiscountCode); err != nil {
				return fmt.Errorf("failed to release discount %s: %w", *order.DiscountCode, err)
			}
			if err := s.appendAudit(ctx, tx, order.ID, "discount_released", map[string]string{"code": *order.DiscountCode}, now); err != nil {
				return err
			}
		}
		return s.appendAudit(ctx, tx, order.ID, "order_status_changed", entity.OrderStatusChangedEvent{
			OrderID:   order.ID,
			Axis:      entity.AxisFulfilment,
			From:      string(from),
			To:        string(to),
			ChangedAt: now,
		}, now)
	})
	if errors.Is(err, repository.ErrStatusConflict) {
		return nil, s.conflict(ctx, order.ID, string(from), string(to))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition order %s: %w", order.ID, err)
	}

	slog.Info("Service: Order status changed", "order_id", order.ID, "from", from, "to", to)
	metrics.StatusTransitions.WithLabelValues(string(to)).Inc()
	s.publishStatusChange(ctx, order.ID, entity.AxisFulfilment, string(from), string(to), now)

	return s.stores.Orders.Find(ctx, order.ID)
}

// TransitionPayment flips the payment status to `to`. A non-empty reference
// replaces the stored payment reference. Cancelled orders refuse new
// payment; refunding money already taken stays allowed.
func (s *OrderService) TransitionPayment(ctx context.Context, id string, to entity.PaymentStatus, reference string) (*entity.Order, error) {
	if !entity.ValidPaymentStatus(to) {
		return nil, entity.NewValidationError("payment_status", fmt.Sprintf("unknown status %q", to))
	}
	order, err := s.stores.Orders.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	from := order.PaymentStatus
	if !from.CanTransitionTo(to) {
		reason := "illegal transition"
		if from.Terminal() {
			reason = fmt.Sprintf("%s is terminal", from)
		}
		return nil, &entity.StateError{OrderID: order.ID, From: string(from), To: string(to), Reason: reason}
	}
	if to == entity.PaymentPaid && order.Status == entity.StatusCancelled {
		return nil, &entity.StateError{OrderID: order.ID, From: string(from), To: string(to), Reason: "cancelled orders cannot take payment"}
	}

	now := s.now()
	err = s.uow.InTx(ctx, func(tx repository.Stores) error {
		if err := tx.Orders.UpdatePayment(ctx, order.ID, from, to, reference); err != nil {
			return err
		}
		return s.appendAudit(ctx, tx, order.ID, "payment_status_changed", entity.OrderStatusChangedEvent{
			OrderID:   order.ID,
			Axis:      entity.AxisPayment,
			From:      string(from),
			To:        string(to),
			ChangedAt: now,
		}, now)
	})
	if errors.Is(err, repository.ErrStatusConflict) {
		return nil, s.paymentConflict(ctx, order.ID, string(from), string(to))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition payment on order %s: %w", order.ID, err)
	}

	slog.Info("Service: Payment status changed", "order_id", order.ID, "from", from, "to", to)
	s.publishStatusChange(ctx, order.ID, entity.AxisPayment, string(from), string(to), now)

	return s.stores.Orders.Find(ctx, order.ID)
}

// MarkPaid records a successful payment confirmation.
func (s *OrderService) MarkPaid(ctx context.Context, id, reference string) (*entity.Order, error) {
	return s.TransitionPayment(ctx, id, entity.PaymentPaid, reference)
}

// MarkPaymentFailed records a failed payment attempt. The payment machine
// allows failed -> pending, so the shopper can try again.
func (s *OrderService) MarkPaymentFailed(ctx context.Context, id string) (*entity.Order, error) {
	return s.TransitionPayment(ctx, id, entity.PaymentFailed, "")
}

func (s *OrderService) appendAudit(ctx context.Context, tx repository.Stores, orderID, eventType string, payload any, now time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}
	if err := tx.Audit.Append(ctx, &entity.OrderEvent{
		OrderID:   orderID,
		Type:      eventType,
		Payload:   raw,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// conflict builds the StateError for a fulfilment CAS that lost, re-reading
// the order so the caller sees what the status turned out to be.
func (s *OrderService) conflict(ctx context.Context, id, from, to string) error {
	current := ""
	if order, err := s.stores.Orders.Find(ctx, id); err == nil {
		current = string(order.Status)
	}
	return &entity.StateError{OrderID: id, From: from, To: to, Current: current, Reason: "order changed concurrently"}
}

func (s *OrderService) paymentConflict(ctx context.Context, id, from, to string) error {
	current := ""
	if order, err := s.stores.Orders.Find(ctx, id); err == nil {
		current = string(order.PaymentStatus)
	}
	return &entity.StateError{OrderID: id, From: from, To: to, Current: current, Reason: "payment changed concurrently"}
}

func (s *OrderService) publishStatusChange(ctx context.Context, orderID string, axis entity.StatusAxis, from, to string, at time.Time) {
	event := entity.OrderStatusChangedEvent{
		OrderID:   orderID,
		Axis:      axis,
		From:      from,
		To:        to,
		ChangedAt: at,
	}
	if err := s.pub.PublishEvent(ctx, messaging.TopicOrderStatusChanged, orderID, event); err != nil {
		slog.Error("Service: Failed to publish status change event", "err", err, "order_id", orderID)
	}
}
