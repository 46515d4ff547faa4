package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quickshop-io/checkout-engine/internal/entity"
)

// PaymentConfirmationHandler adapts the payments.confirmed topic to the
// order service. The payment gateway publishes a confirmation after settling
// or declining a charge; this moves the order's payment status to match.
func PaymentConfirmationHandler(orders *OrderService) func(ctx context.Context, payload []byte) error {
	return func(ctx context.Context, payload []byte) error {
		var event entity.PaymentConfirmedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("failed to decode payment confirmation: %w", err)
		}
		if event.OrderID == "" {
			return fmt.Errorf("payment confirmation carries no order id")
		}

		slog.Info("Service: Payment confirmation received", "order_id", event.OrderID, "succeeded", event.Succeeded)

		var err error
		if event.Succeeded {
			_, err = orders.MarkPaid(ctx, event.OrderID, event.Reference)
		} else {
			_, err = orders.MarkPaymentFailed(ctx, event.OrderID)
		}

		// Confirmations are delivered at-least-once. A replay lands on a
		// payment status that already moved, which the state machine rejects;
		// that means the work is done, not that the message should retry.
		var state *entity.StateError
		if errors.As(err, &state) {
			slog.Info("Service: Payment confirmation already applied", "order_id", event.OrderID, "current", state.Current, "reason", state.Reason)
			return nil
		}
		return err
	}
}
