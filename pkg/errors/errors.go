// Package errors provides a structured error type for the cache core with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for cache operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Durable store errors
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeStoreRead        ErrorCode = "STORE_READ"
	ErrCodeStoreWrite       ErrorCode = "STORE_WRITE"
	ErrCodeStoreDelete      ErrorCode = "STORE_DELETE"
	ErrCodeStoreTimeout     ErrorCode = "STORE_TIMEOUT"
	ErrCodeStoreCorrupt     ErrorCode = "STORE_CORRUPT"

	// Codec errors
	ErrCodeCodecEncode ErrorCode = "CODEC_ENCODE"
	ErrCodeCodecDecode ErrorCode = "CODEC_DECODE"

	// Cache state errors
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
	ErrCodeCacheClosed ErrorCode = "CACHE_CLOSED"

	// Operation errors
	ErrCodeComputeFailed    ErrorCode = "COMPUTE_FAILED"
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeOperationTimeout ErrorCode = "OPERATION_TIMEOUT"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryCodec         ErrorCategory = "codec"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// CacheError is a structured error carrying a code, the component and operation that
// produced it, and an optional cause.
type CacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Context  map[string]string      `json:"context,omitempty"`
	Cause    error                  `json:"-"`

	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	var prefix string
	switch {
	case e.Component != "" && e.Operation != "":
		prefix = fmt.Sprintf("[%s:%s] ", e.Component, e.Operation)
	case e.Component != "":
		prefix = fmt.Sprintf("[%s] ", e.Component)
	}

	msg := fmt.Sprintf("%s%s: %s", prefix, e.Code, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a CacheError with the same code.
func (e *CacheError) Is(target error) bool {
	if other, ok := target.(*CacheError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *CacheError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new error with defaults derived from the code.
func NewError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// Wrap creates a new error with the given cause.
func Wrap(cause error, code ErrorCode, message string) *CacheError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	s := string(code)
	switch {
	case strings.HasPrefix(s, "INVALID_CONFIG") || strings.HasPrefix(s, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(s, "STORE_"):
		return CategoryStorage
	case strings.HasPrefix(s, "CODEC_"):
		return CategoryCodec
	case strings.HasPrefix(s, "CIRCUIT_") || strings.HasPrefix(s, "CACHE_"):
		return CategoryState
	case strings.HasPrefix(s, "COMPUTE_") || strings.HasPrefix(s, "VALIDATION_") ||
		strings.HasPrefix(s, "OPERATION_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeStoreTimeout, ErrCodeStoreRead, ErrCodeStoreWrite, ErrCodeStoreDelete,
		ErrCodeCircuitOpen, ErrCodeOperationTimeout:
		return true
	}
	return false
}

// WithContext adds contextual information to an error.
func (e *CacheError) WithContext(key, value string) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error.
func (e *CacheError) WithDetail(key string, value interface{}) *CacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}

// CodeOf returns the code of the first CacheError in err's chain, or ErrCodeInternalError.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if ce, ok := err.(*CacheError); ok {
			return ce.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrCodeInternalError
}
