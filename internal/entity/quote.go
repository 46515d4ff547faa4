package entity

import "github.com/shopspring/decimal"

// QuoteLine is one priced cart line.
type QuoteLine struct {
	VariantID string          `json:"variant_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Quote is the priced snapshot the checkout validator produces for a cart
// that can check out as of the moment of validation. It is advisory until a
// commit freezes the same shape into an Order.
type Quote struct {
	Lines          []QuoteLine     `json:"lines"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountCode   *string         `json:"discount_code,omitempty"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Shipping       decimal.Decimal `json:"shipping"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
}
