package http

import (
	"errors"
	"fmt"
	"time"
)

// ClientError represents different types of client errors
type ClientError interface {
	error
	Type() ErrorType
}

// ErrorType defines the category of client error
type ErrorType string

const (
	NetworkError     ErrorType = "network"
	TimeoutError     ErrorType = "timeout"
	ValidationError  ErrorType = "validation"
	InterceptorError ErrorType = "interceptor"
	AuthExhausted    ErrorType = "auth_exhausted"
	CredentialError  ErrorType = "credential"
)

// networkError represents network-related errors
type networkError struct {
	message string
	wrapped error
}

func (e *networkError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("network error: %s: %v", e.message, e.wrapped)
	}
	return fmt.Sprintf("network error: %s", e.message)
}

func (e *networkError) Type() ErrorType {
	return NetworkError
}

func (e *networkError) Unwrap() error {
	return e.wrapped
}

// timeoutError represents timeout-related errors
type timeoutError struct {
	message string
	timeout time.Duration
	wrapped error
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("timeout error: %s (timeout: %v)", e.message, e.timeout)
}

func (e *timeoutError) Type() ErrorType {
	return TimeoutError
}

func (e *timeoutError) Unwrap() error {
	return e.wrapped
}

// validationError represents request validation errors
type validationError struct {
	message string
	field   string
}

func (e *validationError) Error() string {
	if e.field != "" {
		return fmt.Sprintf("validation error: %s (field: %s)", e.message, e.field)
	}
	return fmt.Sprintf("validation error: %s", e.message)
}

func (e *validationError) Type() ErrorType {
	return ValidationError
}

// interceptorError represents interceptor-related errors
type interceptorError struct {
	message string
	wrapped error
	stage   string
}

func (e *interceptorError) Error() string {
	return fmt.Sprintf("interceptor error: %s (stage: %s): %v", e.message, e.stage, e.wrapped)
}

func (e *interceptorError) Type() ErrorType {
	return InterceptorError
}

func (e *interceptorError) Unwrap() error {
	return e.wrapped
}

// authExhaustedError is returned once the refresh ceiling is reached
type authExhaustedError struct {
	attempts int
	wrapped  error
}

func (e *authExhaustedError) Error() string {
	return fmt.Sprintf("auth exhausted: credential refresh failed after %d attempts: %v", e.attempts, e.wrapped)
}

func (e *authExhaustedError) Type() ErrorType {
	return AuthExhausted
}

func (e *authExhaustedError) Unwrap() error {
	return e.wrapped
}

// Attempts returns the number of refresh attempts made.
func (e *authExhaustedError) Attempts() int {
	return e.attempts
}

// credentialError represents a non-auth failure inside the credential
type credentialError struct {
	message string
	wrapped error
}

func (e *credentialError) Error() string {
	return fmt.Sprintf("credential error: %s: %v", e.message, e.wrapped)
}

func (e *credentialError) Type() ErrorType {
	return CredentialError
}

func (e *credentialError) Unwrap() error {
	return e.wrapped
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, wrapped error) ClientError {
	return &networkError{
		message: message,
		wrapped: wrapped,
	}
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, timeout time.Duration) ClientError {
	return &timeoutError{
		message: message,
		timeout: timeout,
	}
}

// newTimeoutErrorWithCause creates a timeout error that unwraps to cause
func newTimeoutErrorWithCause(message string, timeout time.Duration, cause error) ClientError {
	return &timeoutError{
		message: message,
		timeout: timeout,
		wrapped: cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message, field string) ClientError {
	return &validationError{
		message: message,
		field:   field,
	}
}

// NewInterceptorError creates a new interceptor error
func NewInterceptorError(message, stage string, wrapped error) ClientError {
	return &interceptorError{
		message: message,
		wrapped: wrapped,
		stage:   stage,
	}
}

// NewAuthExhaustedError creates the error returned when refresh attempts run out
func NewAuthExhaustedError(attempts int, wrapped error) ClientError {
	return &authExhaustedError{
		attempts: attempts,
		wrapped:  wrapped,
	}
}

// NewCredentialError creates a new credential error
func NewCredentialError(message string, wrapped error) ClientError {
	return &credentialError{
		message: message,
		wrapped: wrapped,
	}
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errorType ErrorType) bool {
	if err == nil {
		return false
	}
	var clientErr ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type() == errorType
	}
	return false
}

// IsSuccessStatus checks if a status code represents success (2xx)
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
