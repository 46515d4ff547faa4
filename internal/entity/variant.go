package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Variant is a sellable product variant with a live stock count. Stock is
// never negative; every write that moves it is conditional on the floor.
type Variant struct {
	ID        string          `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Active    bool            `json:"active"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Purchasable reports whether the variant may be placed in a cart. Stock is
// deliberately not part of this check; availability is decided at checkout.
func (v *Variant) Purchasable() bool {
	return v != nil && v.Active
}
