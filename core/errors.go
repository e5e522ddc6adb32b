package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTableNotFound is returned when a table does not exist
	ErrTableNotFound = errors.New("table not found")

	// ErrRowNotFound is returned when a row does not exist in the table
	ErrRowNotFound = errors.New("row not found")

	// ErrUserNotFound is returned when a user does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrShareNotFound is returned when a table has no grant for an email
	ErrShareNotFound = errors.New("share not found")

	// ErrInvalidTable is returned when a table definition is malformed
	ErrInvalidTable = errors.New("invalid table definition")
)

// Validation error codes.
const (
	CodeMissingRequired = "missing_required"
	CodeInvalidOption   = "invalid_option"
	CodeInvalidType     = "invalid_type"
	CodeUnknownField    = "unknown_field"
)

// ValidationError reports a single field that failed validation or coercion.
type ValidationError struct {
	Field string
	Value interface{}
	Code  string
}

func (e *ValidationError) Error() string {
	switch e.Code {
	case CodeMissingRequired:
		return fmt.Sprintf("field %q is required", e.Field)
	case CodeInvalidOption:
		return fmt.Sprintf("value %v is not a valid option for field %q", e.Value, e.Field)
	case CodeUnknownField:
		return fmt.Sprintf("field %q does not exist", e.Field)
	default:
		return fmt.Sprintf("invalid value %v for field %q", e.Value, e.Field)
	}
}

// MissingRequiredField returns the error for an absent required field.
func MissingRequiredField(name string) *ValidationError {
	return &ValidationError{Field: name, Code: CodeMissingRequired}
}

// InvalidOption returns the error for a SELECT value outside the option set.
func InvalidOption(name string, value interface{}) *ValidationError {
	return &ValidationError{Field: name, Value: value, Code: CodeInvalidOption}
}

// DuplicateValueError reports a value that violates a unique field.
type DuplicateValueError struct {
	Field string
	Value interface{}
}

func (e *DuplicateValueError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("unique field %q has duplicate values", e.Field)
	}
	return fmt.Sprintf("value %v already exists for unique field %q", e.Value, e.Field)
}

// FieldErrors aggregates every per-field failure of one write. The write is
// rejected as a whole when it is non-empty.
type FieldErrors []error

func (fe FieldErrors) Error() string {
	msgs := make([]string, len(fe))
	for i, err := range fe {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (fe FieldErrors) Unwrap() []error {
	return fe
}

// PermissionKind classifies a denied access.
type PermissionKind string

const (
	PermissionNotShared        PermissionKind = "not_shared"
	PermissionBlocked          PermissionKind = "blocked"
	PermissionNetworkDenied    PermissionKind = "network_denied"
	PermissionTimeDenied       PermissionKind = "time_denied"
	PermissionReadOnly         PermissionKind = "read_only"
	PermissionFieldNotWritable PermissionKind = "field_not_writable"
	PermissionRowOutOfScope    PermissionKind = "row_out_of_scope"
	PermissionOwnerOnly        PermissionKind = "owner_only"
)

// PermissionError is returned when the caller may not perform an operation.
// Callers surface it with a uniform message; Kind is for logs and tests.
type PermissionError struct {
	Kind  PermissionKind
	Field string
}

func (e *PermissionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("permission denied (%s: %s)", e.Kind, e.Field)
	}
	return fmt.Sprintf("permission denied (%s)", e.Kind)
}

// IsPermissionKind reports whether err is a PermissionError of the given kind.
func IsPermissionKind(err error, kind PermissionKind) bool {
	var pe *PermissionError
	return errors.As(err, &pe) && pe.Kind == kind
}
