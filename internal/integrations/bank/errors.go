package bank

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the adapter error taxonomy. Callers match them with
// errors.Is.
var (
	// ErrUnauthorized means the credential was rejected by the provider;
	// the user needs to re-link.
	ErrUnauthorized = errors.New("bank: unauthorized")
	// ErrRateLimited means the provider asked us to back off. The wrapped
	// *Error carries the retry-after hint when the provider sent one.
	ErrRateLimited = errors.New("bank: rate limited")
	// ErrUnavailable covers 5xx responses, transport failures and timeouts.
	ErrUnavailable = errors.New("bank: unavailable")
	// ErrBadResponse means the provider answered with something we could
	// not parse. Permanent for that payload; not worth retrying.
	ErrBadResponse = errors.New("bank: bad response")
)

// Error is the typed adapter error returned by the gateway.
type Error struct {
	Kind       error
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, statusCode int, format string, args ...any) *Error {
	return &Error{Kind: kind, StatusCode: statusCode, Message: fmt.Sprintf(format, args...)}
}
