package models

import (
	"errors"
	"fmt"
)

// Error taxonomy. Only circuit-open, handler-timeout, and handler-execution
// failures are retried (via the DLQ); validation, configuration, and blocked
// outcomes are terminal and returned synchronously to the caller.
var (
	// ErrCircuitOpen is the synthetic failure recorded when the breaker
	// refuses a dispatch before the handler is attempted.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrHandlerTimeout marks a handler that exceeded its dispatch budget.
	ErrHandlerTimeout = errors.New("handler timeout")
)

// ValidationError reports malformed raw input (400, not retried).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConfigurationError reports a dispatch to a destination with no registered
// handler. This is an operator fault, not a transient one: it is logged and
// counted but never enqueued for retry.
type ConfigurationError struct {
	Destination Destination
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no handler registered for destination %q", e.Destination)
}

// RiskBlockedError reports an event rejected by the BLOCKED lane (403).
// The event is persisted for audit; no handler is invoked.
type RiskBlockedError struct {
	EventID   string
	RiskScore int
	Flags     []string
}

func (e *RiskBlockedError) Error() string {
	return fmt.Sprintf("request blocked by security policy (score=%d)", e.RiskScore)
}

// HandlerExecutionError wraps a handler failure for DLQ bookkeeping.
type HandlerExecutionError struct {
	Destination Destination
	Err         error
}

func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("handler %q failed: %v", e.Destination, e.Err)
}

func (e *HandlerExecutionError) Unwrap() error { return e.Err }
