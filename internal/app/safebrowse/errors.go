package safebrowse

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error kinds. Every *Error unwraps to exactly one of these so callers can
// branch with errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrUpstream        = errors.New("upstream error")
	ErrInternal        = errors.New("internal error")
	ErrUnknownProvider = errors.New("unknown feed provider")
)

// Error is the structured failure surfaced to clients as {message, code, data}.
type Error struct {
	Kind    error
	Code    int
	Message string
	Data    map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Kind, e.cause}
	}
	return []error{e.Kind}
}

func Validation(message string, data map[string]any) *Error {
	return &Error{Kind: ErrValidation, Code: http.StatusBadRequest, Message: message, Data: data}
}

func PayloadTooLarge(max int64) *Error {
	return &Error{
		Kind:    ErrPayloadTooLarge,
		Code:    http.StatusRequestEntityTooLarge,
		Message: "Request payload too large",
		Data:    map[string]any{"max-content-length": max},
	}
}

func RateLimited(reset time.Time) *Error {
	return &Error{
		Kind:    ErrRateLimited,
		Code:    http.StatusTooManyRequests,
		Message: "Too many requests",
		Data:    map[string]any{"reset": reset.UTC().Format(time.RFC3339)},
	}
}

// Upstream reports a non-success answer from the reputation authority.
// status is 0 when no HTTP response was received.
func Upstream(status int, rawBody string, cause error) *Error {
	data := map[string]any{"raw_response": rawBody}
	if status != 0 {
		data["upstream_status"] = status
	}
	code := http.StatusBadGateway
	if errors.Is(cause, errTimeout) {
		code = http.StatusGatewayTimeout
	}
	return &Error{
		Kind:    ErrUpstream,
		Code:    code,
		Message: "Unexpected response from the reputation service",
		Data:    data,
		cause:   cause,
	}
}

// errTimeout marks upstream failures caused by the client timeout.
var errTimeout = errors.New("upstream timeout")

// UpstreamTimeout wraps err so Upstream maps it to 504.
func UpstreamTimeout(err error) error {
	return fmt.Errorf("%w: %w", errTimeout, err)
}

// Internal wraps an unexpected fault. trace is returned to the caller as a
// diagnostic aid.
func Internal(cause error, trace string) *Error {
	data := map[string]any{}
	if trace != "" {
		data["traceback"] = trace
	}
	return &Error{
		Kind:    ErrInternal,
		Code:    http.StatusInternalServerError,
		Message: "Unexpected internal server error",
		Data:    data,
		cause:   cause,
	}
}

// UnknownProvider reports a feed name that is not served.
func UnknownProvider(name string, known []string) *Error {
	return &Error{
		Kind:    ErrUnknownProvider,
		Code:    http.StatusNotFound,
		Message: fmt.Sprintf("Unknown feed provider %q", name),
		Data:    map[string]any{"providers": known},
	}
}

// AsError converts any error into an *Error, classifying unknown ones as
// internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err, fmt.Sprintf("%+v", err))
}
