package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrorCode represents a unique error code for categorizing errors
type ErrorCode string

const (
	// Connection errors (1xxx)
	ErrCodeConnectionFailed     ErrorCode = "MKTF1001"
	ErrCodeAuthenticationFailed ErrorCode = "MKTF1002"

	// Configuration errors (2xxx)
	ErrCodeConfigMissing ErrorCode = "MKTF2001"
	ErrCodeConfigInvalid ErrorCode = "MKTF2002"

	// Object store errors (3xxx)
	ErrCodeSourceUnavailable ErrorCode = "MKTF3001"
	ErrCodeSourceInvalid     ErrorCode = "MKTF3002"

	// Load errors (4xxx)
	ErrCodeCopyFailed  ErrorCode = "MKTF4001"
	ErrCodeMergeFailed ErrorCode = "MKTF4002"

	// Data quality errors (5xxx)
	ErrCodeCheckFailed ErrorCode = "MKTF5001"

	// Feature errors (6xxx)
	ErrCodeFeatureFailed   ErrorCode = "MKTF6001"
	ErrCodeCatalogMismatch ErrorCode = "MKTF6002"

	// System errors (9xxx)
	ErrCodeInternal ErrorCode = "MKTF9001"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "CRITICAL" // Run cannot start
	SeverityError    ErrorSeverity = "ERROR"    // Step failed, run aborted
	SeverityWarning  ErrorSeverity = "WARNING"
)

// AppError represents a structured application error with context
type AppError struct {
	Code        ErrorCode
	Message     string
	Severity    ErrorSeverity
	Context     map[string]interface{}
	Cause       error
	Stack       string
	Timestamp   time.Time
	Suggestions []string
}

// Error implements the error interface
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\nCaused by: %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  %d. %s", i+1, suggestion))
		}
	}

	return b.String()
}

// Detail returns the message and cause on a single line, without suggestions.
// It is the form written to audit tables.
func (e *AppError) Detail() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

// Unwrap returns the cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  SeverityError,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
		Timestamp: time.Now(),
	}
}

// Wrap wraps an existing error with AppError
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	appErr := New(code, message)
	appErr.Cause = err

	// If wrapping another AppError, inherit its context
	var ae *AppError
	if errors.As(err, &ae) {
		for k, v := range ae.Context {
			appErr.Context[k] = v
		}
	}

	return appErr
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity sets the error severity
func (e *AppError) WithSeverity(severity ErrorSeverity) *AppError {
	e.Severity = severity
	return e
}

// WithSuggestions adds recovery suggestions
func (e *AppError) WithSuggestions(suggestions ...string) *AppError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// captureStack captures the current stack trace
func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			b.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}

	return b.String()
}

// Common error constructors

// ConnectionError creates a warehouse session error. It is always fatal for the run.
func ConnectionError(message string, cause error) *AppError {
	err := New(ErrCodeConnectionFailed, message).
		WithSeverity(SeverityCritical).
		WithSuggestions(
			"Check SNOWFLAKE_ACCOUNT and network access to Snowflake",
			"Verify the user, password or private key",
			"Verify the warehouse, database and schema exist and are granted",
		)
	err.Cause = cause
	if cause != nil && strings.Contains(strings.ToLower(cause.Error()), "authentication") {
		err.Code = ErrCodeAuthenticationFailed
	}
	return err
}

// ConfigError creates a configuration-related error
func ConfigError(message string, field string) *AppError {
	return New(ErrCodeConfigMissing, message).
		WithSeverity(SeverityCritical).
		WithContext("field", field).
		WithSuggestions(
			fmt.Sprintf("Set the '%s' configuration value", field),
			"Values are read from the environment, a .env file, or --config",
		)
}

// LoadError creates an error for a failed COPY or MERGE statement
func LoadError(code ErrorCode, message string, query string, cause error) *AppError {
	err := Wrap(cause, code, message).
		WithContext("query", truncateString(strings.TrimSpace(query), 200))

	if cause != nil {
		msg := strings.ToLower(cause.Error())
		if strings.Contains(msg, "does not exist") || strings.Contains(msg, "not authorized") {
			_ = err.WithSuggestions(
				"Verify the stage, file format and table exist in the target schema",
				"Verify the role has USAGE on the stage and INSERT on the table",
			)
		}
	}

	return err
}

// SourceError creates an object store read or decode error
func SourceError(code ErrorCode, message string, key string, cause error) *AppError {
	return Wrap(cause, code, message).WithContext("key", key)
}

// CheckError creates an error for a data quality check that could not be evaluated
func CheckError(check string, cause error) *AppError {
	return Wrap(cause, ErrCodeCheckFailed, fmt.Sprintf("Data quality check %s could not run", check)).
		WithContext("check", check)
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Detail returns the single-line description of err suitable for an audit row.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Detail()
	}
	return err.Error()
}

// truncateString truncates a string to maxLen runes
func truncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
