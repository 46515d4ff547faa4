// Package session mints the opaque ids that identify guest carts. A session
// id is the only identity a guest has, so losing it means losing the cart;
// Touch extends the TTL on every use.
package session

import "context"

// Manager issues and refreshes guest session ids.
type Manager interface {
	// Issue mints a new session id with a fresh TTL.
	Issue(ctx context.Context) (string, error)
	// Touch extends the TTL of id and reports whether the session is still
	// known. An expired or unknown id returns false without error.
	Touch(ctx context.Context, id string) (bool, error)
}
