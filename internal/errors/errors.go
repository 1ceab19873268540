package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session and request authorization layer
var (
	// Lifecycle errors
	ErrNotInitialized = errors.New("identity client not initialized")

	// Credential errors
	ErrNoCredentials       = errors.New("no stored credentials")
	ErrInvalidToken        = errors.New("invalid token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// Login flow errors
	ErrInvalidState = errors.New("invalid state parameter")
	ErrStateExpired = errors.New("login state expired")
	ErrInvalidNonce = errors.New("invalid nonce")
	ErrMissingToken = errors.New("missing token in provider response")

	// Storage errors
	ErrNotFound        = errors.New("not found")
	ErrSessionReplaced = errors.New("stored session was replaced")

	// Configuration errors
	ErrMissingConfig = errors.New("missing required configuration")
)

// RefreshError means the refresh token is expired, revoked or absent.
// Only a full re-login can recover from it.
type RefreshError struct {
	Cause error
}

func (e *RefreshError) Error() string {
	if e.Cause == nil {
		return "refresh failed"
	}
	return "refresh failed: " + e.Cause.Error()
}

func (e *RefreshError) Unwrap() error {
	return e.Cause
}

// AuthorizationError is a 401 returned by the backend for a single request.
type AuthorizationError struct {
	StatusCode int
	Method     string
	URL        string
	Retried    bool
}

func (e *AuthorizationError) Error() string {
	msg := fmt.Sprintf("authorization failed: %s %s returned %d", e.Method, e.URL, e.StatusCode)
	if e.Retried {
		msg += " after refresh"
	}
	return msg
}

// NetworkError is a transport level failure where no response was received.
type NetworkError struct {
	Op    string
	Cause error
}

func (e *NetworkError) Error() string {
	if e.Cause == nil {
		return e.Op + ": network error"
	}
	if e.Op == "" {
		return "network error: " + e.Cause.Error()
	}
	return e.Op + ": network error: " + e.Cause.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// SessionExpiredError is returned once a request has exhausted its single
// refresh-and-retry. LoginURL is empty when the escalation was throttled.
type SessionExpiredError struct {
	LoginURL string
	Cause    error
}

func (e *SessionExpiredError) Error() string {
	if e.Cause == nil {
		return "session expired"
	}
	return "session expired: " + e.Cause.Error()
}

func (e *SessionExpiredError) Unwrap() error {
	return e.Cause
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsRefreshError reports whether err carries a RefreshError
func IsRefreshError(err error) bool {
	var re *RefreshError
	return errors.As(err, &re)
}

// IsNetworkError reports whether err carries a NetworkError
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
