package sqlcoord

import "fmt"

// ErrorCode enumerates the coordinator's error categories.
type ErrorCode int

const (
	// Unknown represents an unspecified error condition.
	Unknown ErrorCode = iota
	// ConnectionBroken indicates use of a session after it has been closed.
	ConnectionBroken
	// TableOrViewAlreadyExists indicates a duplicate temp table/view name.
	TableOrViewAlreadyExists
	// IndexAlreadyExists indicates a duplicate temp index name.
	IndexAlreadyExists
	// ConstraintAlreadyExists indicates a duplicate temp constraint name.
	ConstraintAlreadyExists
	// CommitRollbackNotAllowed indicates commit/rollback was attempted while the
	// commit-disabled flag is set and locks are held (protects nested statements).
	CommitRollbackNotAllowed
	// StatementWasCanceled indicates a statement was canceled or its timeout elapsed.
	StatementWasCanceled
	// LockTimeout indicates a lock wait exceeded the session's lock timeout.
	LockTimeout
	// AccessDeniedToClass indicates a user-class policy violation.
	AccessDeniedToClass
	// ClassNotFound indicates a referenced user class could not be resolved.
	ClassNotFound
	// DeserializationFailed indicates a LOB or session variable failed to decode.
	DeserializationFailed
	// SerializationFailed indicates a LOB or session variable failed to encode.
	SerializationFailed
	// InvalidValue indicates an unknown isolation level or setting value.
	InvalidValue
)

// Error is the coordinator-wide error type, carrying a code, the wrapped cause and optional
// user data (e.g. the offending object name or session id).
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

// Error implements the error interface by formatting the code, user data, and wrapped error.
func (e Error) Error() string {
	return fmt.Errorf("error code: %d, user data: %v, details: %w", e.Code, e.UserData, e.Err).Error()
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e Error) Unwrap() error {
	return e.Err
}

// NewError constructs an Error with the given code, cause and optional user data.
func NewError(code ErrorCode, err error, userData any) Error {
	return Error{Code: code, Err: err, UserData: userData}
}
