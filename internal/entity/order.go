package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderItem is a frozen copy of a cart line taken at commit time. Price and
// naming are captured here and never re-read from the catalog afterwards.
type OrderItem struct {
	VariantID string          `json:"variant_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Order is the record produced by a successful checkout. Everything except
// Status, PaymentStatus, PaymentReference and UpdatedAt is immutable after
// placement.
type Order struct {
	ID               string          `json:"id"`
	Number           string          `json:"number"`
	Owner            CartOwner       `json:"owner"`
	Items            []OrderItem     `json:"items"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	DiscountCode     *string         `json:"discount_code,omitempty"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	Shipping         decimal.Decimal `json:"shipping"`
	Tax              decimal.Decimal `json:"tax"`
	Total            decimal.Decimal `json:"total"`
	Status           OrderStatus     `json:"status"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	PlacedAt         time.Time       `json:"placed_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// UsedDiscount reports whether a discount code was consumed by this order.
func (o *Order) UsedDiscount() bool {
	return o.DiscountCode != nil && *o.DiscountCode != ""
}
