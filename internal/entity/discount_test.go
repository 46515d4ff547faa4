package entity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeDiscountCode(t *testing.T) {
	assert.Equal(t, "WELCOME10", NormalizeDiscountCode("  welcome10 "))
	assert.Equal(t, "SAVE5", NormalizeDiscountCode("Save5"))
	assert.Equal(t, "", NormalizeDiscountCode("   "))
}

func TestWithinWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	d := &DiscountCode{StartsAt: start, ExpiresAt: end}

	assert.False(t, d.WithinWindow(start.Add(-time.Second)))
	assert.True(t, d.WithinWindow(start), "window opens at StartsAt")
	assert.True(t, d.WithinWindow(start.Add(24*time.Hour)))
	assert.True(t, d.WithinWindow(end.Add(-time.Second)))
	assert.False(t, d.WithinWindow(end), "window closes at ExpiresAt")
	assert.False(t, d.WithinWindow(end.Add(time.Hour)))
}

func TestExhausted(t *testing.T) {
	assert.False(t, (&DiscountCode{MaxUses: 0, UsedCount: 100000}).Exhausted(), "zero MaxUses never caps")
	assert.False(t, (&DiscountCode{MaxUses: 3, UsedCount: 2}).Exhausted())
	assert.True(t, (&DiscountCode{MaxUses: 3, UsedCount: 3}).Exhausted())
	assert.True(t, (&DiscountCode{MaxUses: 3, UsedCount: 4}).Exhausted())
}

func TestMeetsMinimum(t *testing.T) {
	none := &DiscountCode{}
	assert.True(t, none.MeetsMinimum(decimal.Zero))

	d := &DiscountCode{MinimumPurchase: decimal.RequireFromString("50.00")}
	assert.False(t, d.MeetsMinimum(decimal.RequireFromString("49.99")))
	assert.True(t, d.MeetsMinimum(decimal.RequireFromString("50.00")))
	assert.True(t, d.MeetsMinimum(decimal.RequireFromString("50.01")))
}

func TestAmountOff(t *testing.T) {
	tests := []struct {
		name     string
		discount DiscountCode
		subtotal string
		want     string
	}{
		{"percentage", DiscountCode{Kind: DiscountPercentage, Value: decimal.RequireFromString("10")}, "60.00", "6.00"},
		{"percentage rounds", DiscountCode{Kind: DiscountPercentage, Value: decimal.RequireFromString("15")}, "10.10", "1.52"},
		{"percentage of odd subtotal", DiscountCode{Kind: DiscountPercentage, Value: decimal.RequireFromString("10")}, "33.33", "3.33"},
		{"hundred percent", DiscountCode{Kind: DiscountPercentage, Value: decimal.RequireFromString("100")}, "19.90", "19.90"},
		{"fixed", DiscountCode{Kind: DiscountFixed, Value: decimal.RequireFromString("5.00")}, "60.00", "5.00"},
		{"fixed clamps to subtotal", DiscountCode{Kind: DiscountFixed, Value: decimal.RequireFromString("50.00")}, "12.34", "12.34"},
		{"negative value floors at zero", DiscountCode{Kind: DiscountFixed, Value: decimal.RequireFromString("-5.00")}, "60.00", "0.00"},
		{"unknown kind", DiscountCode{Kind: "bogus", Value: decimal.RequireFromString("10")}, "60.00", "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.discount.AmountOff(decimal.RequireFromString(tt.subtotal))
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}
