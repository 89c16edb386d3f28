package entitlement

import "errors"

var (
	// ErrCacheMiss is returned by a SharedCache when a key is absent or expired.
	ErrCacheMiss = errors.New("entitlement: cache miss")

	// ErrSubscriptionNotFound is returned by a remote source when no
	// subscription record exists for a user.
	ErrSubscriptionNotFound = errors.New("entitlement: subscription not found")
)

// Denial reasons surfaced to callers. The fetch-failure reason stays
// generic so internal error text never reaches end users.
const (
	ReasonCheckFailed   = "quota check failed"
	ReasonUnknownAction = "unknown action"
	ReasonAuthRequired  = "authentication required"
	ReasonInvalidAmount = "invalid amount"
)
