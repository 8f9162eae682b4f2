package carrier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// CarrierError represents an error from a carrier integration. Retryable
// errors classify as ErrTransient, all others as ErrCarrierRejected.
type CarrierError struct {
	Carrier    Identity
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// Error codes shared across integrations.
const (
	CodeTimeout        = "TIMEOUT"
	CodeNetwork        = "NETWORK"
	CodeUnavailable    = "UNAVAILABLE"
	CodeRateLimited    = "RATE_LIMITED"
	CodeAuthentication = "AUTHENTICATION"
	CodeInvalidAddress = "INVALID_ADDRESS"
	CodeNotServiceable = "NOT_SERVICEABLE"
	CodeUnknown        = "UNKNOWN"
)

// Error implements the error interface.
func (e *CarrierError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error (%s): %s: %v", e.Carrier, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error (%s): %s", e.Carrier, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *CarrierError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for CarrierError.
func (e *CarrierError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Retryable
	case ErrCarrierRejected:
		return !e.Retryable
	}
	t, ok := target.(*CarrierError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewCarrierError creates a new non-retryable CarrierError.
func NewCarrierError(carrier Identity, code, message string) *CarrierError {
	return &CarrierError{
		Carrier: carrier,
		Code:    code,
		Message: message,
	}
}

// WithCause adds a cause to the error.
func (e *CarrierError) WithCause(err error) *CarrierError {
	e.Cause = err
	return e
}

// WithStatusCode adds an HTTP status code to the error and derives
// retryability from it.
func (e *CarrierError) WithStatusCode(code int) *CarrierError {
	e.StatusCode = code
	e.Retryable = retryableStatus(code)
	return e
}

// WithRetryable marks the error as retryable.
func (e *CarrierError) WithRetryable(retryable bool) *CarrierError {
	e.Retryable = retryable
	return e
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// Sentinel errors.
var (
	// ErrNotFound indicates no carrier recognised a tracking identifier.
	ErrNotFound = errors.New("shipment not found")

	// ErrAlreadyBooked indicates the order already carries a waybill.
	ErrAlreadyBooked = errors.New("order already booked")

	// ErrCarrierRejected indicates a business rejection by the carrier (bad address, not serviceable).
	ErrCarrierRejected = errors.New("carrier rejected request")

	// ErrTransient indicates a timeout, network failure or 5xx. Safe to retry.
	ErrTransient = errors.New("transient carrier error")

	// ErrInvalidQuery indicates a tracking query without any identifier.
	ErrInvalidQuery = errors.New("tracking query needs a waybill, order id or phone")

	// ErrUnsupportedQuery indicates the carrier cannot search by the query's identifier kind.
	ErrUnsupportedQuery = errors.New("query kind not supported by carrier")

	// ErrEmptyResult indicates the carrier answered without any status information.
	ErrEmptyResult = errors.New("carrier returned no tracking data")

	// ErrCarrierNotRegistered indicates the requested carrier is not registered.
	ErrCarrierNotRegistered = errors.New("carrier not registered")
)

// NotFoundError is returned when no carrier matched a tracking query.
type NotFoundError struct {
	Query     Query
	Attempted []Identity
}

func (e *NotFoundError) Error() string {
	names := make([]string, len(e.Attempted))
	for i, id := range e.Attempted {
		names[i] = string(id)
	}
	return fmt.Sprintf("%s %q not found (attempted: %s)", e.Query.Kind(), e.Query.Value(), strings.Join(names, ", "))
}

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Classify turns an arbitrary error from a carrier call into the typed
// taxonomy. Unknown failures are treated as transient so that callers never
// act on them as a definitive rejection.
func Classify(id Identity, err error) error {
	if err == nil {
		return nil
	}
	var ce *CarrierError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, ErrUnsupportedQuery) || errors.Is(err, ErrEmptyResult) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewCarrierError(id, CodeTimeout, "carrier did not answer in time").WithRetryable(true).WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return NewCarrierError(id, CodeTimeout, "request cancelled").WithRetryable(true).WithCause(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewCarrierError(id, CodeNetwork, "network failure").WithRetryable(true).WithCause(err)
	}
	return NewCarrierError(id, CodeUnknown, err.Error()).WithRetryable(true).WithCause(err)
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
