package gateway

import "errors"

var (
	// ErrNotStarted is returned when the client is used before Start.
	ErrNotStarted = errors.New("gateway: client not started")

	// ErrTimeout is returned when a gateway does not answer in time.
	ErrTimeout = errors.New("gateway: request timed out")

	// ErrRejected is returned when a gateway answers with an error.
	ErrRejected = errors.New("gateway: request rejected")

	// ErrInvalidResponse is returned when a response cannot be decoded.
	ErrInvalidResponse = errors.New("gateway: invalid response")
)
