package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorType represents the category of error
type ErrorType int

const (
	// A single log record could not be parsed. Recoverable: callers usually skip and count it.
	ErrorTypeMalformedEntry ErrorType = iota
	// A threshold, window or other analysis parameter is out of range
	ErrorTypeInvalidConfig
	// The commit log stream failed mid-read
	ErrorTypeSourceRead
	// FileSystem errors - archive and log file I/O
	ErrorTypeFileSystem
	// External errors - graph database or other services
	ErrorTypeExternal
	// Internal errors - unexpected internal state
	ErrorTypeInternal
)

// Severity represents how critical an error is
type Severity int

const (
	// SeverityLow - can continue with degraded functionality
	SeverityLow Severity = iota
	// SeverityMedium - should be addressed but not fatal
	SeverityMedium
	// SeverityHigh - significant issue, may impact functionality
	SeverityHigh
	// SeverityCritical - must be addressed, stops execution
	SeverityCritical
)

// Error represents a structured error with context
type Error struct {
	Type       ErrorType
	Severity   Severity
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace string
}

// Sentinels usable as errors.Is targets; matching is by Type only.
var (
	ErrMalformedLogEntry    = &Error{Type: ErrorTypeMalformedEntry}
	ErrInvalidConfiguration = &Error{Type: ErrorTypeInvalidConfig}
	ErrSourceReadFailure    = &Error{Type: ErrorTypeSourceRead}
)

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", typeString(e.Type), e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", typeString(e.Type), e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Is checks if this error matches the target error type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// IsFatal returns true if this error should stop execution
func (e *Error) IsFatal() bool {
	return e.Severity == SeverityCritical
}

// Parameter returns the offending configuration parameter, if recorded.
func (e *Error) Parameter() string {
	if p, ok := e.Context["parameter"].(string); ok {
		return p
	}
	return ""
}

// DetailedString returns a detailed error message with context
func (e *Error) DetailedString() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] [%s] %s\n",
		severityString(e.Severity),
		typeString(e.Type),
		e.Message))

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("Caused by: %v\n", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("Context:\n")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, e.Context[k]))
		}
	}

	if e.StackTrace != "" {
		sb.WriteString(fmt.Sprintf("Stack trace:\n%s\n", e.StackTrace))
	}

	return sb.String()
}

func typeString(t ErrorType) string {
	switch t {
	case ErrorTypeMalformedEntry:
		return "MalformedLogEntry"
	case ErrorTypeInvalidConfig:
		return "InvalidConfiguration"
	case ErrorTypeSourceRead:
		return "SourceReadFailure"
	case ErrorTypeFileSystem:
		return "FileSystem"
	case ErrorTypeExternal:
		return "External"
	case ErrorTypeInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

func severityString(s Severity) string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// captureStackTrace captures the current stack trace
func captureStackTrace(skip int) string {
	var sb strings.Builder
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			break
		}
		sb.WriteString(fmt.Sprintf("  %s:%d %s\n", file, line, fn.Name()))
	}
	return sb.String()
}

// New creates a new error with the given type, severity, and message
func New(errType ErrorType, severity Severity, message string) *Error {
	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(3),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Cause:      err,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(3),
	}
}

// MalformedEntryf reports one unparsable log record. Low severity: the reader keeps going.
func MalformedEntryf(format string, args ...interface{}) *Error {
	return New(ErrorTypeMalformedEntry, SeverityLow, fmt.Sprintf(format, args...))
}

// InvalidConfigf reports an out-of-range parameter and names it.
func InvalidConfigf(parameter, format string, args ...interface{}) *Error {
	e := New(ErrorTypeInvalidConfig, SeverityCritical,
		fmt.Sprintf("invalid %s: %s", parameter, fmt.Sprintf(format, args...)))
	return e.WithContext("parameter", parameter)
}

// SourceReadError wraps a failure of the underlying log stream.
func SourceReadError(err error, message string) *Error {
	return Wrap(err, ErrorTypeSourceRead, SeverityHigh, message)
}

// FileSystemErrorf wraps a filesystem error with formatting
func FileSystemErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeFileSystem, SeverityHigh, fmt.Sprintf(format, args...))
}

// ExternalErrorf wraps an external service error with formatting
func ExternalErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeExternal, SeverityMedium, fmt.Sprintf(format, args...))
}

// InternalErrorf creates an internal error with formatting
func InternalErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeInternal, SeverityCritical, fmt.Sprintf(format, args...))
}

// IsType reports whether err, or anything it wraps, is an *Error of the given type.
func IsType(err error, t ErrorType) bool {
	return stderrors.Is(err, &Error{Type: t})
}

// IsFatal checks if an error is fatal (should stop execution)
func IsFatal(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.IsFatal()
	}
	return false
}

// As is errors.As, so callers need only this package
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Param returns the offending parameter of an InvalidConfiguration error, or "".
func Param(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Parameter()
	}
	return ""
}

// GetType returns the type of an error
func GetType(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}
