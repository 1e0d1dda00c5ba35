package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fruitsalade/storeclient/pkg/models"
)

var (
	// ErrNotConfigured is returned by every store operation when no base URL
	// could be resolved. No request is attempted.
	ErrNotConfigured = errors.New("store base URL is not configured")

	// ErrInvalidLocator is returned when a base URL is computed from a blank
	// login.
	ErrInvalidLocator = errors.New("cannot compute store base URL: empty username")

	// ErrNotFound matches an HTTPError with status 404.
	ErrNotFound = errors.New("node not found")
)

// HTTPError is returned when the store answered outside the 2xx range.
type HTTPError struct {
	StatusCode int
	Body       string
	Header     http.Header
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("store request failed (%d)", e.StatusCode)
	}
	return fmt.Sprintf("store request failed (%d): %s", e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// AsHTTPError checks if an error is an HTTPError and returns it.
func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// NetworkError is returned when a request never completed: DNS failure,
// refused connection, reset, timeout.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// TokenError is returned when the token provider could not supply a token.
type TokenError struct {
	Err error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("bearer token unavailable: %v", e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// ErrorClass groups failures the way a user-facing layer reports them.
type ErrorClass string

const (
	ClassNone         ErrorClass = ""
	ClassConfig       ErrorClass = "config"       // setup problem
	ClassAuth         ErrorClass = "auth"         // no usable token
	ClassRejected     ErrorClass = "rejected"     // server said no
	ClassConnectivity ErrorClass = "connectivity" // server unreachable
	ClassDecode       ErrorClass = "decode"       // unexpected payload
	ClassCanceled     ErrorClass = "canceled"
	ClassUnknown      ErrorClass = "unknown"
)

// Classify maps an error returned by this package to its class.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	var (
		tokenErr *TokenError
		netErr   *NetworkError
	)
	switch {
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrInvalidLocator):
		return ClassConfig
	case errors.As(err, &tokenErr):
		return ClassAuth
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.As(err, &netErr):
		return ClassConnectivity
	case errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	}
	if _, ok := AsHTTPError(err); ok {
		return ClassRejected
	}
	if _, ok := models.AsDecodeError(err); ok {
		return ClassDecode
	}
	return ClassUnknown
}

// IsTransient reports whether retrying err may succeed: connectivity
// failures, 429 and 5xx answers.
func IsTransient(err error) bool {
	if Classify(err) == ClassConnectivity {
		return true
	}
	if he, ok := AsHTTPError(err); ok {
		return he.StatusCode == http.StatusTooManyRequests || he.StatusCode >= 500
	}
	return false
}
