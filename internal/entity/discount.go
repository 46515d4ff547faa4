package entity

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountKind selects how a discount value is applied.
type DiscountKind string

const (
	DiscountPercentage DiscountKind = "percentage"
	DiscountFixed      DiscountKind = "fixed"
)

// DiscountCode is a promotional code with a validity window and usage
// accounting. MaxUses and UsesPerCustomer are unlimited when zero;
// MinimumPurchase of zero means no floor. UsedCount never drops below zero.
type DiscountCode struct {
	Code            string          `json:"code"`
	Kind            DiscountKind    `json:"kind"`
	Value           decimal.Decimal `json:"value"`
	StartsAt        time.Time       `json:"starts_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	MaxUses         int             `json:"max_uses"`
	UsesPerCustomer int             `json:"uses_per_customer"`
	MinimumPurchase decimal.Decimal `json:"minimum_purchase"`
	UsedCount       int             `json:"used_count"`
	Active          bool            `json:"active"`
}

// NormalizeDiscountCode maps shopper input to the canonical stored form.
func NormalizeDiscountCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// WithinWindow reports whether now falls inside [StartsAt, ExpiresAt).
func (d *DiscountCode) WithinWindow(now time.Time) bool {
	return !now.Before(d.StartsAt) && now.Before(d.ExpiresAt)
}

// Exhausted reports whether the global usage cap has been reached.
func (d *DiscountCode) Exhausted() bool {
	return d.MaxUses > 0 && d.UsedCount >= d.MaxUses
}

// MeetsMinimum reports whether subtotal clears the purchase floor.
func (d *DiscountCode) MeetsMinimum(subtotal decimal.Decimal) bool {
	return d.MinimumPurchase.IsZero() || subtotal.GreaterThanOrEqual(d.MinimumPurchase)
}

// AmountOff computes the discount against subtotal, rounded to cents. The
// result never exceeds the subtotal and is never negative.
func (d *DiscountCode) AmountOff(subtotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch d.Kind {
	case DiscountPercentage:
		amount = subtotal.Mul(d.Value).Div(decimal.NewFromInt(100)).Round(2)
	case DiscountFixed:
		amount = d.Value.Round(2)
	default:
		return decimal.Zero
	}
	if amount.GreaterThan(subtotal) {
		return subtotal
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}
