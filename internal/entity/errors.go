package entity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Sentinels shared across stores and services.
var (
	ErrNotFound  = errors.New("not found")
	ErrCartEmpty = errors.New("cart is empty")
)

// ValidationError rejects malformed or out-of-range input. The caller can
// correct the request and retry immediately.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid request: %s", e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// FailureCode classifies one checkout validation failure.
type FailureCode string

const (
	FailureVariantUnavailable       FailureCode = "VariantUnavailable"
	FailureInsufficientStock        FailureCode = "InsufficientStock"
	FailureDiscountExpired          FailureCode = "DiscountExpired"
	FailureDiscountExhausted        FailureCode = "DiscountExhausted"
	FailureDiscountMinimumNotMet    FailureCode = "DiscountMinimumNotMet"
	FailureDiscountPerCustomerLimit FailureCode = "DiscountPerCustomerLimitReached"
)

// CheckoutFailure is one reason a cart cannot check out. Validation reports
// every failure it finds, not just the first.
type CheckoutFailure struct {
	Code         FailureCode `json:"code"`
	VariantID    string      `json:"variant_id,omitempty"`
	DiscountCode string      `json:"discount_code,omitempty"`
	Requested    int         `json:"requested,omitempty"`
	Available    int         `json:"available,omitempty"`
	Minimum      string      `json:"minimum,omitempty"`
	Subtotal     string      `json:"subtotal,omitempty"`
	Message      string      `json:"message"`
}

func VariantUnavailableFailure(variantID string) CheckoutFailure {
	return CheckoutFailure{
		Code:      FailureVariantUnavailable,
		VariantID: variantID,
		Message:   fmt.Sprintf("variant %s is no longer available", variantID),
	}
}

func InsufficientStockFailure(variantID string, requested, available int) CheckoutFailure {
	return CheckoutFailure{
		Code:      FailureInsufficientStock,
		VariantID: variantID,
		Requested: requested,
		Available: available,
		Message:   fmt.Sprintf("variant %s has %d in stock, %d requested", variantID, available, requested),
	}
}

func DiscountExpiredFailure(code string) CheckoutFailure {
	return CheckoutFailure{
		Code:         FailureDiscountExpired,
		DiscountCode: code,
		Message:      fmt.Sprintf("discount %s is not currently valid", code),
	}
}

func DiscountExhaustedFailure(code string) CheckoutFailure {
	return CheckoutFailure{
		Code:         FailureDiscountExhausted,
		DiscountCode: code,
		Message:      fmt.Sprintf("discount %s has no uses left", code),
	}
}

func DiscountMinimumFailure(code string, minimum, subtotal decimal.Decimal) CheckoutFailure {
	return CheckoutFailure{
		Code:         FailureDiscountMinimumNotMet,
		DiscountCode: code,
		Minimum:      minimum.StringFixed(2),
		Subtotal:     subtotal.StringFixed(2),
		Message:      fmt.Sprintf("discount %s requires a subtotal of %s, cart has %s", code, minimum.StringFixed(2), subtotal.StringFixed(2)),
	}
}

func DiscountPerCustomerFailure(code string, limit int) CheckoutFailure {
	return CheckoutFailure{
		Code:         FailureDiscountPerCustomerLimit,
		DiscountCode: code,
		Message:      fmt.Sprintf("discount %s is limited to %d use(s) per customer", code, limit),
	}
}

// CheckoutRejectedError aggregates every validation failure found in one
// pass over the cart. The cart is untouched; the shopper fixes the listed
// problems and retries.
type CheckoutRejectedError struct {
	Failures []CheckoutFailure
}

func (e *CheckoutRejectedError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Message
	}
	return fmt.Sprintf("checkout rejected: %s", strings.Join(msgs, "; "))
}

// HasCode reports whether any aggregated failure carries code.
func (e *CheckoutRejectedError) HasCode(code FailureCode) bool {
	for _, f := range e.Failures {
		if f.Code == code {
			return true
		}
	}
	return false
}

// RaceCode names which conditional write lost at commit time.
type RaceCode string

const (
	StockRaceLost    RaceCode = "StockRaceLost"
	DiscountRaceLost RaceCode = "DiscountRaceLost"
)

// RaceLostError reports a conditional update whose precondition was gone by
// commit time: validation passed, then a concurrent commit won the row. The
// cart is intact and the request may be retried.
type RaceLostError struct {
	Code         RaceCode
	VariantID    string
	DiscountCode string
}

func (e *RaceLostError) Error() string {
	switch e.Code {
	case StockRaceLost:
		return fmt.Sprintf("commit lost the stock race on variant %s", e.VariantID)
	case DiscountRaceLost:
		return fmt.Sprintf("commit lost the usage race on discount %s", e.DiscountCode)
	}
	return "commit lost a race"
}

// StateError rejects an order status transition that is illegal or no longer
// matches the order's current state. From/To/Current are strings so both
// status axes share the type.
type StateError struct {
	OrderID string
	From    string
	To      string
	Current string
	Reason  string
}

func (e *StateError) Error() string {
	msg := fmt.Sprintf("order %s: cannot transition %s -> %s", e.OrderID, e.From, e.To)
	if e.Current != "" && e.Current != e.From {
		msg += fmt.Sprintf(" (currently %s)", e.Current)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}
