package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure. Unknown email and wrong password share it.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserInactive indicates the account exists but is not active.
	ErrUserInactive = errors.New("user inactive")
	// ErrUserNotFound indicates a verified token points at a user that no longer exists.
	ErrUserNotFound = errors.New("user not found")
	// ErrTokenMissing occurs when no bearer token was presented.
	ErrTokenMissing = errors.New("token missing")
	// ErrTokenFormat occurs when the authorization header is not a bearer credential.
	ErrTokenFormat = errors.New("invalid token format")
	// ErrTokenMalformed occurs when the token cannot be parsed or its signature is invalid.
	ErrTokenMalformed = errors.New("invalid token")
	// ErrTokenExpired occurs when the token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrNotAuthenticated occurs when a predicate runs without a hydrated identity.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrInsufficientPermission occurs when a permission predicate fails.
	ErrInsufficientPermission = errors.New("insufficient permission")
	// ErrInsufficientRole occurs when a role predicate fails.
	ErrInsufficientRole = errors.New("insufficient role")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrWrongPassword indicates the current password given on change-password is wrong.
	ErrWrongPassword = errors.New("current password incorrect")
	// ErrDuplicate indicates a uniqueness conflict.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrUnknownReference indicates an assignment referenced a missing row.
	ErrUnknownReference = errors.New("unknown reference")
	// ErrSystemProtected indicates an attempt to delete or rename a system row.
	ErrSystemProtected = errors.New("system row is protected")
	// ErrInUse indicates a delete blocked by existing assignments.
	ErrInUse = errors.New("still in use")
	// ErrSelfDelete indicates a user tried to delete their own account.
	ErrSelfDelete = errors.New("cannot delete own account")
	// ErrTooManyAttempts indicates the login throttle is engaged for the subject.
	ErrTooManyAttempts = errors.New("too many login attempts")
	// ErrPrivilegeEscalation indicates a grant of access the acting user does not hold.
	ErrPrivilegeEscalation = errors.New("privilege escalation")
)

// Predicate modes carried by DeniedError.
const (
	MatchOne = "one"
	MatchAny = "any"
	MatchAll = "all"
)

// DeniedError describes a failed authorization predicate.
type DeniedError struct {
	Reason      error
	Mode        string
	Required    []string
	Missing     []string
	Permissions []string
	Roles       []string
}

func (e *DeniedError) Error() string {
	msg := e.Reason.Error() + ": requires " + strings.Join(e.Required, ", ")
	if len(e.Missing) > 0 {
		msg += " (missing " + strings.Join(e.Missing, ", ") + ")"
	}
	return msg
}

func (e *DeniedError) Unwrap() error { return e.Reason }

// ValidationError carries per-field messages.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError with a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InUseError reports how many rows block a delete.
type InUseError struct {
	Entity string
	Count  int
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("%s still assigned to %d record(s)", e.Entity, e.Count)
}

func (e *InUseError) Unwrap() error { return ErrInUse }

// ReferenceError lists ids that do not exist.
type ReferenceError struct {
	Entity string
	IDs    []int64
}

func (e *ReferenceError) Error() string {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("unknown %s id(s): %s", e.Entity, strings.Join(ids, ", "))
}

func (e *ReferenceError) Unwrap() error { return ErrUnknownReference }
