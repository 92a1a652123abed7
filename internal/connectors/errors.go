package connectors

import (
	"fmt"
	"time"
)

// ThrottleError — сервис попросил подождать. ReliabilityWrapper использует RetryAfter как задержку ретрая.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
