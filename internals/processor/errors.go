package processor

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound         = errors.New("processor: resource not found")
	ErrInvalidSignature = errors.New("processor: invalid webhook signature")
	ErrNoOpenInvoice    = errors.New("processor: no open invoice")
)

// Error carries the processor's own classification so callers can map it to
// an HTTP status without importing the SDK.
type Error struct {
	HTTPStatus int
	Type       string
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("processor %s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("processor %s: %s", e.Type, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Code == "resource_missing"
}

// IsNotFound reports whether err means the object does not exist on the
// processor, e.g. a subscription created under another API mode.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Status maps a processor error to the HTTP status surfaced to callers.
func Status(err error) int {
	var pe *Error
	if !errors.As(err, &pe) {
		return http.StatusInternalServerError
	}
	switch {
	case pe.HTTPStatus == http.StatusTooManyRequests || pe.Code == "rate_limit":
		return http.StatusTooManyRequests
	case pe.HTTPStatus == http.StatusUnauthorized || pe.Type == "authentication_error":
		return http.StatusUnauthorized
	case pe.Code == "resource_missing":
		return http.StatusNotFound
	case pe.Type == "card_error" || pe.Type == "invalid_request_error" || pe.Type == "idempotency_error":
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}
