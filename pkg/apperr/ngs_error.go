package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Class buckets errors by how the scheduler should react to them.
type Class int

const (
	// ClassTransient errors are retried with backoff, then dead-lettered.
	ClassTransient Class = iota
	// ClassData errors are never retried; the input goes to quarantine or
	// is marked failed.
	ClassData
	// ClassConfig errors fail fast at load time.
	ClassConfig
	// ClassInvariant errors abort the transaction and dead-letter the
	// original payload.
	ClassInvariant
	// ClassNotFound is a lookup miss, not a processing failure.
	ClassNotFound
)

// Error codes
const (
	CodeTransient        = "TRANSIENT"
	CodeProviderError    = "PROVIDER_ERROR"
	CodeDatabaseError    = "DATABASE_ERROR"
	CodeLLMError         = "LLM_ERROR"
	CodeTimeout          = "TIMEOUT"
	CodeRateLimited      = "RATE_LIMITED"
	CodeMalformedMail    = "MALFORMED_MAIL"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeRegexCompile     = "REGEX_COMPILE"
	CodeLowConfidence    = "LOW_CONFIDENCE"
	CodeConfigError      = "CONFIG_ERROR"
	CodeInvariant        = "INVARIANT_VIOLATION"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeBadRequest       = "BAD_REQUEST"
	CodeInternalError    = "INTERNAL_ERROR"
)

// AppError is the structured error carried across layers.
type AppError struct {
	Code    string         `json:"code"`
	Class   Class          `json:"-"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status used by the review API.
func (e *AppError) HTTPStatus() int { return e.Status }

func New(code string, class Class, message string, status int) *AppError {
	return &AppError{Code: code, Class: class, Message: message, Status: status}
}

// Transient errors

func Transient(message string, err error) *AppError {
	return &AppError{
		Code:    CodeTransient,
		Class:   ClassTransient,
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

func ProviderError(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeProviderError,
		Class:   ClassTransient,
		Message: fmt.Sprintf("mail provider error: %s", provider),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"provider": provider},
		Err:     err,
	}
}

func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Class:   ClassTransient,
		Message: fmt.Sprintf("database error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func LLMError(message string, err error) *AppError {
	return &AppError{
		Code:    CodeLLMError,
		Class:   ClassTransient,
		Message: fmt.Sprintf("llm request failed: %s", message),
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

func Timeout(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Class:   ClassTransient,
		Message: fmt.Sprintf("operation timed out: %s", operation),
		Status:  http.StatusGatewayTimeout,
		Err:     err,
	}
}

// Data errors

func MalformedMail(reason string) *AppError {
	return &AppError{
		Code:    CodeMalformedMail,
		Class:   ClassData,
		Message: reason,
		Status:  http.StatusUnprocessableEntity,
	}
}

func ValidationFailed(message string) *AppError {
	return &AppError{
		Code:    CodeValidationFailed,
		Class:   ClassData,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func RegexCompile(pattern string, err error) *AppError {
	return &AppError{
		Code:    CodeRegexCompile,
		Class:   ClassData,
		Message: "extraction regex does not compile",
		Status:  http.StatusUnprocessableEntity,
		Details: map[string]any{"pattern": pattern},
		Err:     err,
	}
}

func LowConfidence(confidence float64) *AppError {
	return &AppError{
		Code:    CodeLowConfidence,
		Class:   ClassData,
		Message: fmt.Sprintf("extraction confidence %.2f below threshold", confidence),
		Status:  http.StatusUnprocessableEntity,
		Details: map[string]any{"confidence": confidence},
	}
}

// Config errors

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Class:   ClassConfig,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

// Invariant errors

func Invariant(message string, err error) *AppError {
	return &AppError{
		Code:    CodeInvariant,
		Class:   ClassInvariant,
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Resource errors

func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Class:   ClassNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Class:   ClassInvariant,
		Message: message,
		Status:  http.StatusConflict,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Class:   ClassData,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func Internal(message string, err error) *AppError {
	if message == "" {
		message = "internal error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Class:   ClassTransient,
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Helpers

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("", err)
}

// ClassOf returns the taxonomy class for any error. Unknown errors are
// treated as transient so they reach the retry/DLQ path rather than being
// silently dropped.
func ClassOf(err error) Class {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Class
	}
	return ClassTransient
}

// IsRetryable reports whether the scheduler may retry the operation.
func IsRetryable(err error) bool {
	return ClassOf(err) == ClassTransient
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
