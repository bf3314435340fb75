// Package errs provides the structured error type shared across the
// knowledge base service. Validation, auth, extraction and not-found
// failures are returned as a *ServiceError, so callers at the transport
// boundary can map a Kind to a status code without string matching.
// Storage and index-build failures may surface as plain wrapped errors;
// KindOf reports those as Internal.
package errs

import "fmt"

// Kind classifies a ServiceError for status-code mapping and logging.
type Kind string

const (
	// NotFound indicates a project, FAQ, KB record, or attachment absent.
	NotFound Kind = "NOT_FOUND"
	// Unauthenticated indicates a missing, invalid, or expired credential.
	Unauthenticated Kind = "UNAUTHENTICATED"
	// Forbidden indicates a valid credential with insufficient scope.
	Forbidden Kind = "FORBIDDEN"
	// BadRequest indicates a schema violation or invalid parameter.
	BadRequest Kind = "BAD_REQUEST"
	// UnsupportedMime indicates an upload with an unrecognized MIME type.
	UnsupportedMime Kind = "UNSUPPORTED_MIME"
	// EmptyContent indicates extraction produced no text.
	EmptyContent Kind = "EMPTY_CONTENT"
	// Conflict is reserved; the current data model has no conflicting state.
	Conflict Kind = "CONFLICT"
	// Timeout indicates a handler deadline was exceeded.
	Timeout Kind = "TIMEOUT"
	// ToolFailure indicates a registered tool's execution failed.
	ToolFailure Kind = "TOOL_FAILURE"
	// CompleterFailure indicates the Completer was unavailable or timed out.
	CompleterFailure Kind = "COMPLETER_FAILURE"
	// BuildFailure indicates the Indexer raised during a rebuild.
	BuildFailure Kind = "BUILD_FAILURE"
	// Internal indicates an unexpected, non-actionable error.
	Internal Kind = "INTERNAL"
)

// ServiceError is the structured error type for the knowledge base service.
type ServiceError struct {
	Kind    Kind
	Message string
	Details map[string]string
	Cause   error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// Is enables errors.Is to match ServiceErrors by Kind.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail attaches a key-value detail and returns the error for chaining.
func (e *ServiceError) WithDetail(key, value string) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError of the given kind.
func New(kind Kind, message string) *ServiceError {
	return &ServiceError{Kind: kind, Message: message}
}

// Wrap creates a ServiceError of the given kind from an existing cause.
// Returns nil if err is nil, so call sites can write:
//
//	return errs.Wrap(errs.Internal, "rebuild failed", err)
func Wrap(kind Kind, message string, cause error) *ServiceError {
	if cause == nil {
		return nil
	}
	return &ServiceError{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) a *ServiceError,
// otherwise Internal.
func KindOf(err error) Kind {
	var se *ServiceError
	if As(err, &se) {
		return se.Kind
	}
	return Internal
}

// As is a thin wrapper so callers don't need a separate stdlib errors
// import purely for this package's error chain walking.
func As(err error, target **ServiceError) bool {
	for err != nil {
		if se, ok := err.(*ServiceError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
