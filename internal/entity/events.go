package entity

import (
	"encoding/json"
	"time"
)

// Event is an integration event published to the message bus.
type Event interface {
	EventType() string
}

// OrderPlacedEvent is emitted after a checkout commit succeeds.
type OrderPlacedEvent struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	OwnerKind   OwnerKind `json:"owner_kind"`
	OwnerKey    string    `json:"owner_key"`
	ItemCount   int       `json:"item_count"`
	Total       string    `json:"total"`
	PlacedAt    time.Time `json:"placed_at"`
}

func (e OrderPlacedEvent) EventType() string { return "OrderPlaced" }

// StatusAxis names which status axis an OrderStatusChangedEvent moved.
type StatusAxis string

const (
	AxisFulfilment StatusAxis = "fulfilment"
	AxisPayment    StatusAxis = "payment"
)

// OrderStatusChangedEvent is emitted after any status transition commits.
type OrderStatusChangedEvent struct {
	OrderID   string     `json:"order_id"`
	Axis      StatusAxis `json:"axis"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	ChangedAt time.Time  `json:"changed_at"`
}

func (e OrderStatusChangedEvent) EventType() string { return "OrderStatusChanged" }

// PaymentConfirmedEvent arrives from the payment gateway's topic and drives
// the payment status of the referenced order.
type PaymentConfirmedEvent struct {
	OrderID   string `json:"order_id"`
	Reference string `json:"reference"`
	Succeeded bool   `json:"succeeded"`
}

func (e PaymentConfirmedEvent) EventType() string { return "PaymentConfirmed" }

// OrderEvent is one row of an order's append-only audit trail, written in
// the same transaction as the change it records.
type OrderEvent struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
