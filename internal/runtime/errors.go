package runtime

import "errors"

// Sentinel errors for the runtime bridge.
var (
	// ErrNotActive indicates the gateway has no active subscription.
	ErrNotActive = errors.New("runtime: gateway not active")

	// ErrInvalidNotification indicates a push payload could not be decoded.
	ErrInvalidNotification = errors.New("runtime: invalid notification")
)
