package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the fetch and persistence taxonomy.
var (
	// ErrBreakerOpen indicates the source's circuit breaker is tripped and
	// no network call was attempted.
	ErrBreakerOpen = errors.New("circuit breaker open")

	// ErrUnauthorized indicates an auth or permission failure (401/403).
	// Not transient; never retried.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the source rate-limited the request (429)
	// and retries were exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates a transient server-side failure
	// (5xx, timeout, connection reset) that survived all retries.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrParse indicates a malformed response body for one page.
	ErrParse = errors.New("parse error")

	// ErrPersistence indicates a failure writing a page artifact or the
	// progress ledger. Never swallowed.
	ErrPersistence = errors.New("persistence error")

	// ErrNotFound indicates a requested entity was not found.
	ErrNotFound = errors.New("not found")
)

// BreakerOpenError is returned when a fetch is refused because the source's
// circuit breaker is open. It carries the cooldown so callers can decide
// when to come back.
type BreakerOpenError struct {
	Source   string
	Cooldown time.Duration
}

// Error implements the error interface.
func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s: retry after %s", e.Source, e.Cooldown)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *BreakerOpenError) Unwrap() error {
	return ErrBreakerOpen
}

// AuthError is returned on 401/403 responses. Remediation names the config
// key holding the source's API key so the operator knows what to fix.
type AuthError struct {
	Source      string
	StatusCode  int
	Remediation string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Remediation == "" {
		return fmt.Sprintf("%s rejected credentials (status %d)", e.Source, e.StatusCode)
	}
	return fmt.Sprintf("%s rejected credentials (status %d): %s", e.Source, e.StatusCode, e.Remediation)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *AuthError) Unwrap() error {
	return ErrUnauthorized
}

// RateLimitError is returned when a 429 response survives all retries.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: retry after %s", e.Source, e.RetryAfter)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ExternalAPIError wraps a terminal server-side failure from a source API.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ExternalAPIError) Unwrap() error {
	return ErrServiceUnavailable
}

// ParseError wraps a malformed response body for one page of one query.
type ParseError struct {
	Source string
	Page   int
	Cause  error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s page %d: malformed response: %v", e.Source, e.Page, e.Cause)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ParseError) Unwrap() error {
	return ErrParse
}

// PersistenceError wraps a failed artifact or ledger write.
type PersistenceError struct {
	Path  string
	Cause error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting %s: %v", e.Path, e.Cause)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *PersistenceError) Unwrap() error {
	return ErrPersistence
}

// NewAuthError creates an AuthError with remediation text.
func NewAuthError(source string, statusCode int, remediation string) *AuthError {
	return &AuthError{Source: source, StatusCode: statusCode, Remediation: remediation}
}

// NewExternalAPIError creates an ExternalAPIError.
func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{Source: source, StatusCode: statusCode, Message: message, Cause: cause}
}
