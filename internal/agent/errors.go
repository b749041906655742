package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrCapabilityUnavailable is returned when the platform lacks the requested speech capability.
	ErrCapabilityUnavailable = errors.New("speech capability unavailable")
	// ErrGatewayFailure marks a failed assistant round-trip. It is always retryable.
	ErrGatewayFailure        = errors.New("assistant gateway failure")
	// ErrEmptyInput is returned for blank submissions; callers ignore it silently.
	ErrEmptyInput            = errors.New("empty input")
	// ErrBusy is returned when a submission arrives while a round-trip is in flight.
	// The submission is dropped, not queued.
	ErrBusy                  = errors.New("assistant request already in flight")
	ErrInvalidLocale         = errors.New("invalid locale")
	ErrSessionClosed         = errors.New("session closed")
)

// GatewayError describes why a round-trip to the assistant service failed.
type GatewayError struct {
	Op     string // "transport", "status", "decode"
	Status int    // HTTP status when Op == "status"
	Err    error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("assistant gateway %s: status=%d: %v", e.Op, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("assistant gateway %s: status=%d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("assistant gateway %s: %v", e.Op, e.Err)
	}
	return "assistant gateway " + e.Op
}

// Unwrap lets errors.Is match both ErrGatewayFailure and the underlying cause.
func (e *GatewayError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrGatewayFailure}
	}
	return []error{ErrGatewayFailure, e.Err}
}

// Retryable reports whether the user may resend the same message.
func (e *GatewayError) Retryable() bool { return true }
