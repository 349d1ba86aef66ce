package types

import (
	"errors"
	"fmt"
)

// Error kinds. Components wrap these so callers can branch with errors.Is
// without knowing which venue or provider produced the failure.
var (
	// ErrTransport covers HTTP non-2xx responses and timeouts. Recovered by
	// retrying at the next tick; never feeds a trade decision.
	ErrTransport = errors.New("transport error")

	// ErrDataAbsent means the upstream answered but had nothing for us.
	// Surfaces as "no opportunity" / "no observation" for this tick.
	ErrDataAbsent = errors.New("data absent")

	// ErrValidation means an outcome or price violated an invariant.
	// The outcome is dropped with a WARN; the cycle continues.
	ErrValidation = errors.New("validation error")

	// ErrPersistence means a database write failed. Fatal for the current
	// candidate or trade only.
	ErrPersistence = errors.New("persistence error")

	// ErrConfig means a required configuration key is missing or unsafe.
	// The process refuses to start.
	ErrConfig = errors.New("config error")
)

// TransportError carries the HTTP status for venue/weather call failures.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return ErrTransport }
