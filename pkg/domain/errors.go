package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Common domain errors
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrAlreadyVerified     = errors.New("email already verified")
	ErrUpstreamUnreachable = errors.New("upstream service unreachable")
)

// APIError wraps errors with a stable machine-readable code and the HTTP
// status the local API surface maps it to. The Message is safe to return to
// clients; the wrapped Err is for server-side logs only.
type APIError struct {
	Status  int
	Code    string
	Message string
	Err     error
	Details map[string]any
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Validation builds a 400 malformed-input error.
func Validation(message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: "VALIDATION", Message: message}
}

// Unauthorized builds a 401 error. Callers must use the same message for
// unknown accounts and wrong credentials to avoid account enumeration.
func Unauthorized(message string) *APIError {
	return &APIError{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: message}
}

// Forbidden builds a 403 policy-blocked error.
func Forbidden(message string) *APIError {
	return &APIError{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: message}
}

// Conflict builds a duplicate-unique-field error. The original API returned
// these as 400, which the public wire contract preserves.
func Conflict(message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: "CONFLICT", Message: message}
}

// NotFound builds a 404 error.
func NotFound(message string) *APIError {
	return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: message}
}

// BadGateway builds a 502 error for upstream proxying failures.
func BadGateway(message string, err error) *APIError {
	return &APIError{Status: http.StatusBadGateway, Code: "BAD_GATEWAY", Message: message, Err: err}
}

// Internal builds a 500 error. The wrapped cause never reaches the client.
func Internal(err error) *APIError {
	return &APIError{Status: http.StatusInternalServerError, Code: "INTERNAL", Message: "Server error", Err: err}
}

// AsAPIError normalizes any error into an APIError, treating unrecognized
// errors as Internal so raw error text is never leaked to clients.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}

// ErrorResponse is the JSON error body returned by the local API surface.
// The field name matches the wire format the frontend already consumes.
type ErrorResponse struct {
	Error string `json:"error"`
}
