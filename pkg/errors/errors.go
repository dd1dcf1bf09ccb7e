package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"

	// Session state machine
	ErrorTypeChallenge          ErrorType = "challenge_required"
	ErrorTypeInvalidCode        ErrorType = "invalid_code"
	ErrorTypeNotAuthenticated   ErrorType = "not_authenticated"
	ErrorTypeNoPendingChallenge ErrorType = "no_pending_challenge"
	ErrorTypeIndexOutOfRange    ErrorType = "index_out_of_range"

	// Pipeline
	ErrorTypeExtraction  ErrorType = "extraction"
	ErrorTypePersistence ErrorType = "persistence"
)

// Error represents an error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

// Is reports whether target is an *Error of the same type. Sentinels below can
// therefore be matched with errors.Is regardless of message or code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// New creates a typed error.
func New(errorType ErrorType, code int, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errorType,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	}
}

var (
	ErrNotAuthenticated   = &Error{Type: ErrorTypeNotAuthenticated, Message: "not logged in", Code: http.StatusUnauthorized}
	ErrNoPendingChallenge = &Error{Type: ErrorTypeNoPendingChallenge, Message: "no pending two-factor challenge", Code: http.StatusBadRequest}
	ErrChallengeRequired  = &Error{Type: ErrorTypeChallenge, Message: "two-factor authentication required", Code: http.StatusAccepted}
	ErrInvalidCode        = &Error{Type: ErrorTypeInvalidCode, Message: "invalid two-factor code", Code: http.StatusForbidden}
	ErrIndexOutOfRange    = &Error{Type: ErrorTypeIndexOutOfRange, Message: "media index out of range", Code: http.StatusNotFound}
	ErrAuth               = &Error{Type: ErrorTypeAuth, Message: "authentication failed", Code: http.StatusForbidden}
	ErrNotFound           = &Error{Type: ErrorTypeNotFound, Message: "resource not found", Code: http.StatusNotFound}
)

// TypeOf returns the type of the first *Error in err's chain, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// HTTPStatus maps err to the status an HTTP surface should answer with.
// Upstream failures that carry no distinct meaning use fallback.
func HTTPStatus(err error, fallback int) int {
	switch TypeOf(err) {
	case ErrorTypeNotAuthenticated:
		return http.StatusUnauthorized
	case ErrorTypeNoPendingChallenge:
		return http.StatusBadRequest
	case ErrorTypeInvalidCode, ErrorTypeAuth:
		return http.StatusForbidden
	case ErrorTypeIndexOutOfRange, ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeChallenge:
		return http.StatusAccepted
	default:
		return fallback
	}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	case ErrorTypeAuth, ErrorTypeNotFound, ErrorTypeParsing:
		return false
	default:
		return false
	}
}
