// Package errors provides a lightweight structured error type (BuildWatchError)
// for category-based classification across the control loop and its collaborators.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of a buildwatch error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	// External system integration errors
	CategoryQueue   ErrorCategory = "queue"
	CategoryCatalog ErrorCategory = "catalog"
	CategoryNotify  ErrorCategory = "notify"
	CategoryStorage ErrorCategory = "storage"

	// Runtime and infrastructure errors
	CategoryRuntime  ErrorCategory = "runtime"
	CategoryDaemon   ErrorCategory = "daemon"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// BuildWatchError is a structured error with category, retryability, and context
type BuildWatchError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for BuildWatchError
type ContextFields map[string]any

// Error implements the error interface
func (e *BuildWatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *BuildWatchError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *BuildWatchError) WithContext(key string, value any) *BuildWatchError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new BuildWatchError
func New(category ErrorCategory, severity ErrorSeverity, message string) *BuildWatchError {
	return &BuildWatchError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Wrap creates a new BuildWatchError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *BuildWatchError {
	return &BuildWatchError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}

// WrapRetryable creates a new retryable BuildWatchError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *BuildWatchError {
	return &BuildWatchError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if bwe, ok := err.(*BuildWatchError); ok {
		return bwe.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if bwe, ok := err.(*BuildWatchError); ok {
		return bwe.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not a BuildWatchError
func GetCategory(err error) ErrorCategory {
	if bwe, ok := err.(*BuildWatchError); ok {
		return bwe.Category
	}
	return CategoryInternal
}
