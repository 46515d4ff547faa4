package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quickshop-io/checkout-engine/internal/entity"
	"github.com/quickshop-io/checkout-engine/internal/messaging"
	"github.com/quickshop-io/checkout-engine/internal/metrics"
	"github.com/quickshop-io/checkout-engine/internal/repository"
)

// maxCommitAttempts bounds the retries spent on order number collisions.
// Each retry runs a fresh transaction with a fresh number.
const maxCommitAttempts = 5

// PricingPolicy carries the configured pricing knobs applied at quote and
// commit time. Shipping is waived once the discounted subtotal reaches
// FreeShippingOver; a zero threshold disables the waiver.
type PricingPolicy struct {
	ShippingFlat     decimal.Decimal
	FreeShippingOver decimal.Decimal
	TaxRate          decimal.Decimal
}

// CheckoutService validates carts and converts them into orders. Validation
// collects every failure in one pass; the commit re-validates inside a
// transaction and lets conditional writes arbitrate any remaining races.
type CheckoutService struct {
	stores  repository.Stores
	uow     repository.UnitOfWork
	pub     messaging.Publisher
	pricing PricingPolicy

	now       func() time.Time
	newID     func() string
	newNumber func() string
}

func NewCheckoutService(stores repository.Stores, uow repository.UnitOfWork, pub messaging.Publisher, pricing PricingPolicy) *CheckoutService {
	return &CheckoutService{
		stores:    stores,
		uow:       uow,
		pub:       pub,
		pricing:   pricing,
		now:       time.Now,
		newID:     uuid.NewString,
		newNumber: NewOrderNumber,
	}
}

// Quote prices the owner's cart as it stands right now. It is read-only and
// advisory: nothing is reserved, so a later Commit can still lose a race.
func (s *CheckoutService) Quote(ctx context.Context, owner entity.CartOwner) (*entity.Quote, error) {
	if !owner.Valid() {
		return nil, entity.NewValidationError("owner", "missing or malformed cart owner")
	}
	cart, err := s.stores.Carts.Get(ctx, owner)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, entity.ErrCartEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart.IsEmpty() {
		return nil, entity.ErrCartEmpty
	}
	return s.validate(ctx, s.stores, owner, cart)
}

// Commit turns the owner's cart into an order: re-validate, conditionally
// decrement stock and discount usage, insert the frozen order, delete the
// cart. All of it happens in one transaction; losing a conditional write
// aborts the whole thing with a RaceLostError and the cart intact.
func (s *CheckoutService) Commit(ctx context.Context, owner entity.CartOwner, paymentReference string) (*entity.Order, error) {
	if !owner.Valid() {
		return nil, entity.NewValidationError("owner", "missing or malformed cart owner")
	}

	start := time.Now()
	var order *entity.Order
	var err error
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		order, err = s.commitOnce(ctx, owner, paymentReference)
		if !errors.Is(err, repository.ErrOrderNumberTaken) {
			break
		}
		slog.Warn("Service: Order number collision, retrying commit", "attempt", attempt)
	}
	metrics.CommitDuration.Observe(time.Since(start).Seconds())
	metrics.CheckoutOutcomes.WithLabelValues(commitOutcome(err)).Inc()

	if err != nil {
		var race *entity.RaceLostError
		if errors.As(err, &race) {
			switch race.Code {
			case entity.StockRaceLost:
				metrics.RaceLosses.WithLabelValues("stock").Inc()
			case entity.DiscountRaceLost:
				metrics.RaceLosses.WithLabelValues("discount").Inc()
			}
			slog.Warn("Service: Checkout lost a race", "owner", owner.String(), "err", err)
		}
		if errors.Is(err, repository.ErrOrderNumberTaken) {
			return nil, fmt.Errorf("failed to allocate an order number after %d attempts: %w", maxCommitAttempts, err)
		}
		return nil, err
	}

	slog.Info("Service: Order placed", "order_id", order.ID, "order_number", order.Number, "owner", owner.String(), "total", order.Total.StringFixed(2))

	event := orderPlacedEvent(order)
	if err := s.pub.PublishEvent(ctx, messaging.TopicOrderPlaced, order.ID, event); err != nil {
		slog.Error("Service: Failed to publish order placed event", "err", err, "order_id", order.ID)
	}
	return order, nil
}

func (s *CheckoutService) commitOnce(ctx context.Context, owner entity.CartOwner, paymentReference string) (*entity.Order, error) {
	// The number is generated outside the transaction so a unique violation
	// can retry with a fresh one instead of reusing a poisoned tx.
	number := s.newNumber()

	var order *entity.Order
	err := s.uow.InTx(ctx, func(tx repository.Stores) error {
		cart, err := tx.Carts.Get(ctx, owner)
		if errors.Is(err, entity.ErrNotFound) {
			return entity.ErrCartEmpty
		}
		if err != nil {
			return fmt.Errorf("failed to load cart: %w", err)
		}
		if cart.IsEmpty() {
			return entity.ErrCartEmpty
		}

		quote, err := s.validate(ctx, tx, owner, cart)
		if err != nil {
			return err
		}

		for _, line := range quote.Lines {
			if err := tx.Variants.DecrementStock(ctx, line.VariantID, line.Quantity); err != nil {
				if errors.Is(err, repository.ErrStockRace) {
					return &entity.RaceLostError{Code: entity.StockRaceLost, VariantID: line.VariantID}
				}
				return fmt.Errorf("failed to reserve stock for variant %s: %w", line.VariantID, err)
			}
		}
		if quote.DiscountCode != nil {
			if err := tx.Discounts.IncrementUsage(ctx, *quote.DiscountCode); err != nil {
				if errors.Is(err, repository.ErrDiscountRace) {
					return &entity.RaceLostError{Code: entity.DiscountRaceLost, DiscountCode: *quote.DiscountCode}
				}
				return fmt.Errorf("failed to consume discount %s: %w", *quote.DiscountCode, err)
			}
		}

		now := s.now()
		order = &entity.Order{
			ID:               s.newID(),
			Number:           number,
			Owner:            owner,
			Items:            orderItemsFrom(quote.Lines),
			Subtotal:         quote.Subtotal,
			DiscountCode:     quote.DiscountCode,
			DiscountAmount:   quote.DiscountAmount,
			Shipping:         quote.Shipping,
			Tax:              quote.Tax,
			Total:            quote.Total,
			Status:           entity.StatusPending,
			PaymentStatus:    entity.PaymentPending,
			PaymentReference: paymentReference,
			PlacedAt:         now,
			UpdatedAt:        now,
		}
		if err := tx.Orders.Create(ctx, order); err != nil {
			return err
		}

		payload, err := json.Marshal(orderPlacedEvent(order))
		if err != nil {
			return fmt.Errorf("failed to encode audit payload: %w", err)
		}
		if err := tx.Audit.Append(ctx, &entity.OrderEvent{
			OrderID:   order.ID,
			Type:      "order_placed",
			Payload:   payload,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("failed to append audit event: %w", err)
		}

		if err := tx.Carts.Delete(ctx, cart.ID); err != nil {
			return fmt.Errorf("failed to delete cart: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// validate prices the cart and collects every reason it cannot check out.
// Failures do not short-circuit: a shopper fixing their cart sees the whole
// list at once. Lines whose variant is merely short on stock still count
// toward the subtotal the discount checks see.
func (s *CheckoutService) validate(ctx context.Context, st repository.Stores, owner entity.CartOwner, cart *entity.Cart) (*entity.Quote, error) {
	ids := make([]string, len(cart.Items))
	for i, item := range cart.Items {
		ids[i] = item.VariantID
	}
	variants, err := st.Variants.FindMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load variants: %w", err)
	}

	var failures []entity.CheckoutFailure
	lines := make([]entity.QuoteLine, 0, len(cart.Items))
	subtotal := decimal.Zero
	for _, item := range cart.Items {
		variant, ok := variants[item.VariantID]
		if !ok || !variant.Active {
			failures = append(failures, entity.VariantUnavailableFailure(item.VariantID))
			continue
		}
		if item.Quantity > variant.Stock {
			failures = append(failures, entity.InsufficientStockFailure(item.VariantID, item.Quantity, variant.Stock))
		}
		lineTotal := variant.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		lines = append(lines, entity.QuoteLine{
			VariantID: variant.ID,
			SKU:       variant.SKU,
			Name:      variant.Name,
			UnitPrice: variant.Price,
			Quantity:  item.Quantity,
			LineTotal: lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}

	var discount *entity.DiscountCode
	if cart.DiscountCode != nil {
		code := *cart.DiscountCode
		found, err := st.Discounts.FindByCode(ctx, code)
		switch {
		case errors.Is(err, entity.ErrNotFound):
			failures = append(failures, entity.DiscountExpiredFailure(code))
		case err != nil:
			return nil, fmt.Errorf("failed to load discount: %w", err)
		case !found.Active || !found.WithinWindow(s.now()):
			failures = append(failures, entity.DiscountExpiredFailure(code))
		default:
			eligible := true
			if found.Exhausted() {
				failures = append(failures, entity.DiscountExhaustedFailure(code))
				eligible = false
			}
			if !found.MeetsMinimum(subtotal) {
				failures = append(failures, entity.DiscountMinimumFailure(code, found.MinimumPurchase, subtotal))
				eligible = false
			}
			if found.UsesPerCustomer > 0 {
				used, err := st.Orders.CountByOwnerAndDiscount(ctx, owner, code)
				if err != nil {
					return nil, fmt.Errorf("failed to count discount usage: %w", err)
				}
				if used >= found.UsesPerCustomer {
					failures = append(failures, entity.DiscountPerCustomerFailure(code, found.UsesPerCustomer))
					eligible = false
				}
			}
			if eligible {
				discount = found
			}
		}
	}

	if len(failures) > 0 {
		return nil, &entity.CheckoutRejectedError{Failures: failures}
	}

	discountAmount := decimal.Zero
	var discountCode *string
	if discount != nil {
		discountAmount = discount.AmountOff(subtotal)
		discountCode = &discount.Code
	}
	discounted := subtotal.Sub(discountAmount)

	shipping := s.pricing.ShippingFlat
	if s.pricing.FreeShippingOver.IsPositive() && discounted.GreaterThanOrEqual(s.pricing.FreeShippingOver) {
		shipping = decimal.Zero
	}
	tax := s.pricing.TaxRate.Mul(discounted).Round(2)

	return &entity.Quote{
		Lines:          lines,
		Subtotal:       subtotal,
		DiscountCode:   discountCode,
		DiscountAmount: discountAmount,
		Shipping:       shipping,
		Tax:            tax,
		Total:          discounted.Add(shipping).Add(tax),
	}, nil
}

func commitOutcome(err error) string {
	if err == nil {
		return "placed"
	}
	if errors.Is(err, entity.ErrCartEmpty) {
		return "empty"
	}
	var rejected *entity.CheckoutRejectedError
	if errors.As(err, &rejected) {
		return "rejected"
	}
	var race *entity.RaceLostError
	if errors.As(err, &race) {
		return "race_lost"
	}
	return "error"
}

func orderItemsFrom(lines []entity.QuoteLine) []entity.OrderItem {
	items := make([]entity.OrderItem, len(lines))
	for i, line := range lines {
		items[i] = entity.OrderItem{
			VariantID: line.VariantID,
			SKU:       line.SKU,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			LineTotal: line.LineTotal,
		}
	}
	return items
}

func orderPlacedEvent(order *entity.Order) entity.OrderPlacedEvent {
	return entity.OrderPlacedEvent{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		OwnerKind:   order.Owner.Kind,
		OwnerKey:    order.Owner.Key,
		ItemCount:   len(order.Items),
		Total:       order.Total.StringFixed(2),
		PlacedAt:    order.PlacedAt,
	}
}

// orderNumberAlphabet is Crockford base32: I, L, O and U are omitted. Its 32
// symbols divide 256 evenly, so mapping bytes by modulo adds no bias.
const orderNumberAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewOrderNumber returns a short human-readable order number such as
// ORD-7Q3F9K2MXV. Uniqueness is enforced by the orders table; collisions
// surface as repository.ErrOrderNumberTaken and the commit retries.
func NewOrderNumber() string {
	buf := make([]byte, 10)
	rand.Read(buf)
	for i, b := range buf {
		buf[i] = orderNumberAlphabet[int(b)%len(orderNumberAlphabet)]
	}
	return "ORD-" + string(buf)
}
