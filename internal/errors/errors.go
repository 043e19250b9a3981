package errors

import (
	"errors"
	"fmt"
)

// LokiError is the structured error type for Loki.
// It provides rich context for error handling, logging, and user presentation.
type LokiError struct {
	// Code is the unique error code (e.g., "ERR_206_EXTRACTION_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Model, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *LokiError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *LokiError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with LokiError.
func (e *LokiError) Is(target error) bool {
	if t, ok := target.(*LokiError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *LokiError) WithDetail(key, value string) *LokiError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *LokiError) WithSuggestion(suggestion string) *LokiError {
	e.Suggestion = suggestion
	return e
}

// New creates a new LokiError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *LokiError {
	return &LokiError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a LokiError from an existing error.
// The error's message becomes the LokiError message.
func Wrap(code string, err error) *LokiError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration error. Fatal at startup.
func ConfigError(message string, cause error) *LokiError {
	return New(ErrCodeConfigInvalid, message, cause).
		WithSuggestion("Check .loki.yaml, LOKI_* environment variables and command flags")
}

// ExtractionError reports a document whose text could not be extracted.
// The document is marked failed for the current run and retried on the next.
func ExtractionError(path string, cause error) *LokiError {
	msg := fmt.Sprintf("failed to extract text from %s", path)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return New(ErrCodeExtraction, msg, cause).WithDetail("path", path)
}

// ModelError reports an unavailable or failing embedding model.
func ModelError(model string, cause error) *LokiError {
	msg := fmt.Sprintf("embedding model %q unavailable", model)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return New(ErrCodeModelUnavailable, msg, cause).
		WithDetail("model", model).
		WithSuggestion("Start the embedding backend (ollama serve) and pull the model, or use --provider static")
}

// IncompatibleModelError reports a query-time embedding setup that does not
// match what the snapshot was built with.
func IncompatibleModelError(field, built, requested string) *LokiError {
	msg := fmt.Sprintf("snapshot was built with %s %q but query uses %q", field, built, requested)
	return New(ErrCodeIncompatibleModel, msg, nil).
		WithDetail("field", field).
		WithDetail("built", built).
		WithDetail("requested", requested).
		WithSuggestion("Query with the build's model and metric, or rebuild with 'loki build'")
}

// CorruptRecordError reports a chunk record that failed validation on read.
// The owning document is treated as not yet completed.
func CorruptRecordError(key string, cause error) *LokiError {
	msg := fmt.Sprintf("chunk record %s is corrupt", key)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return New(ErrCodeCorruptRecord, msg, cause).WithDetail("key", key)
}

// IndexBuildError reports a failed vector index build. No partial snapshot
// is published.
func IndexBuildError(message string, cause error) *LokiError {
	if cause != nil {
		message = fmt.Sprintf("%s: %v", message, cause)
	}
	return New(ErrCodeIndexBuild, message, cause).
		WithSuggestion("The previous snapshot is still active; fix the cause and rerun 'loki build'")
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *LokiError {
	return New(ErrCodeFileNotFound, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *LokiError {
	return New(ErrCodeInvalidInput, message, cause)
}

// As finds the first LokiError in err's chain.
func As(err error) (*LokiError, bool) {
	var le *LokiError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// IsCode reports whether any LokiError in err's chain carries code.
func IsCode(err error, code string) bool {
	return errors.Is(err, &LokiError{Code: code})
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if le, ok := As(err); ok {
		return le.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if le, ok := As(err); ok {
		return le.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first LokiError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	if le, ok := As(err); ok {
		return le.Code
	}
	return ""
}

// GetCategory extracts the category from the first LokiError in the chain.
func GetCategory(err error) Category {
	if le, ok := As(err); ok {
		return le.Category
	}
	return ""
}
