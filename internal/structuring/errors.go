package structuring

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error is the typed failure returned by the Structuring Service adapter.
// Transient marks failures worth retrying by the caller.
type Error struct {
	Op         string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("structuring %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("structuring %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool {
	return e.Transient
}

func fatal(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// transportError classifies errors returned by http.Client.Do. Everything
// but caller cancellation is transient.
func transportError(op string, err error) *Error {
	return &Error{Op: op, Transient: !errors.Is(err, context.Canceled), Err: err}
}

// statusError classifies non-2xx responses: 429 and 5xx are transient.
func statusError(op string, code int, body string) *Error {
	return &Error{
		Op:         op,
		StatusCode: code,
		Transient:  code == http.StatusTooManyRequests || code >= 500,
		Err:        errors.New(body),
	}
}
