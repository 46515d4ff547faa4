package entity

import (
	"fmt"
	"time"
)

// OwnerKind discriminates who a cart or order belongs to.
type OwnerKind string

const (
	OwnerUser  OwnerKind = "user"
	OwnerGuest OwnerKind = "guest"
)

// CartOwner identifies the single owner of a cart: a registered user or a
// guest session, never both and never neither.
type CartOwner struct {
	Kind OwnerKind `json:"kind"`
	Key  string    `json:"key"`
}

// UserOwner builds the owner for a registered user id.
func UserOwner(userID string) CartOwner {
	return CartOwner{Kind: OwnerUser, Key: userID}
}

// GuestOwner builds the owner for a guest session id.
func GuestOwner(sessionID string) CartOwner {
	return CartOwner{Kind: OwnerGuest, Key: sessionID}
}

func (o CartOwner) Valid() bool {
	return (o.Kind == OwnerUser || o.Kind == OwnerGuest) && o.Key != ""
}

func (o CartOwner) String() string {
	return fmt.Sprintf("%s:%s", o.Kind, o.Key)
}

// MaxLineQuantity caps a single cart line. Accumulating adds clamp here
// instead of failing, so concurrent adds never error at the boundary.
const MaxLineQuantity = 99

// CartItem is one line in a cart. Quantity is always >= 1; a write that
// would land on zero deletes the line instead.
type CartItem struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// Cart holds the open shopping cart for one owner. Lines are unique per
// variant and at most one discount code is attached at a time.
type Cart struct {
	ID           string     `json:"id"`
	Owner        CartOwner  `json:"owner"`
	Items        []CartItem `json:"items"`
	DiscountCode *string    `json:"discount_code,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// Item returns the line for variantID, or nil when absent.
func (c *Cart) Item(variantID string) *CartItem {
	for i := range c.Items {
		if c.Items[i].VariantID == variantID {
			return &c.Items[i]
		}
	}
	return nil
}

// TotalQuantity sums the quantities across all lines.
func (c *Cart) TotalQuantity() int {
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}
