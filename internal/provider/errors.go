package provider

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned without calling the upstream API while the breaker is open.
var ErrCircuitOpen = errors.New("provider circuit breaker is open")

// Error represents a failed call to the upstream visibility API.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	status := ""
	if e.StatusCode != 0 {
		status = fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("provider %s failed%s: %s: %v", e.Op, status, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider %s failed%s: %s", e.Op, status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Temporary reports whether retrying the call later may succeed.
func (e *Error) Temporary() bool {
	if errors.Is(e.Cause, ErrCircuitOpen) {
		return true
	}
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// clientError wraps 4xx answers so they do not count as breaker failures.
type clientError struct {
	err error
}

func (e *clientError) Error() string {
	return e.err.Error()
}

func tripsBreaker(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
