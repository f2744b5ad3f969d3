package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/joingate/internal/resolver"
)

// ErrorCode classifies platform failures for retry decisions and metrics.
type ErrorCode string

const (
	// ErrCodeConnection indicates network or connection-related failures
	ErrCodeConnection ErrorCode = "CONNECTION_ERROR"

	// ErrCodeAuthentication indicates rejected credentials
	ErrCodeAuthentication ErrorCode = "AUTH_ERROR"

	// ErrCodeRateLimit indicates the platform throttled the call
	ErrCodeRateLimit ErrorCode = "RATE_LIMIT_ERROR"

	// ErrCodeTimeout indicates the platform did not answer in time
	ErrCodeTimeout ErrorCode = "TIMEOUT_ERROR"

	// ErrCodeUnavailable indicates the platform is temporarily unavailable
	ErrCodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// ErrCodeInvalidIdentifier indicates the request identifier was not recognised
	ErrCodeInvalidIdentifier ErrorCode = "INVALID_IDENTIFIER"

	// ErrCodeAlreadyHandled indicates the join request was already decided
	ErrCodeAlreadyHandled ErrorCode = "ALREADY_HANDLED"

	// ErrCodeInternal indicates an unexpected failure
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Error is a structured platform failure. Invalid identifier and already
// handled errors match the resolver sentinels under errors.Is.
type Error struct {
	Code     ErrorCode
	Platform string
	Message  string
	Err      error
}

// NewError creates an Error.
func NewError(platform string, code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Platform: platform, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s] %s: %v", e.Platform, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s [%s] %s", e.Platform, e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is maps codes onto the resolver's sentinel errors.
func (e *Error) Is(target error) bool {
	switch target {
	case resolver.ErrInvalidIdentifier:
		return e.Code == ErrCodeInvalidIdentifier
	case resolver.ErrAlreadyDecided:
		return e.Code == ErrCodeAlreadyHandled
	}
	return false
}

// IsRetryable reports whether the failure is transient.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrCodeConnection, ErrCodeRateLimit, ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}

// GetErrorCode extracts the code of a platform error. Context deadlines map
// to ErrCodeTimeout; anything else is ErrCodeInternal.
func GetErrorCode(err error) ErrorCode {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}
	return ErrCodeInternal
}
