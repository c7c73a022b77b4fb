package flow

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by flow operations.
var (
	// ErrFlowInProgress is returned when another flow already holds the gateway.
	ErrFlowInProgress = errors.New("flow: another flow is in progress for this gateway")

	// ErrInvalidTransition is returned when an operation is not valid in the
	// flow's current state.
	ErrInvalidTransition = errors.New("flow: operation not valid in current state")

	// ErrFlowNotFound is returned when a flow id is unknown.
	ErrFlowNotFound = errors.New("flow: not found")

	// ErrUnknownCandidate is returned when the selected gateway was not part
	// of the scan result.
	ErrUnknownCandidate = errors.New("flow: gateway not among scan candidates")

	// ErrUnknownItem is returned when a selected key is not part of the
	// fetched inventory.
	ErrUnknownItem = errors.New("flow: item not in fetched inventory")

	// ErrAlreadyConfigured is returned when discovery selects a gateway that
	// already has a selection record.
	ErrAlreadyConfigured = errors.New("flow: gateway already configured")

	// ErrInvalidScope is returned when a refresh scope names a non-entity kind.
	ErrInvalidScope = errors.New("flow: invalid refresh scope")

	// ErrFlowFailed is returned by Wait when the flow ended in failed.
	ErrFlowFailed = errors.New("flow: failed")
)

// Reason classifies why a flow failed.
type Reason string

// Failure reasons.
const (
	// ReasonScanTimeout is recorded when a scan ran out of time. It is not a
	// failure on its own; the partial result is presented.
	ReasonScanTimeout Reason = "scan_timeout"

	ReasonConnectionError  Reason = "connection_error"
	ReasonFetchError       Reason = "fetch_error"
	ReasonPersistenceError Reason = "persistence_error"
	ReasonCancelled        Reason = "cancelled"
)

// Failure describes why a flow ended in failed.
type Failure struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

// Error implements error. errors.Is(f, ErrFlowFailed) is true.
func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Reason, f.Message)
}

// Is reports whether target is ErrFlowFailed.
func (f *Failure) Is(target error) bool {
	return target == ErrFlowFailed
}

func failure(reason Reason, format string, args ...any) *Failure {
	return &Failure{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
