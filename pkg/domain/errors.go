package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnregisteredType is returned when an object's type has no descriptor.
	ErrUnregisteredType = errors.New("type not registered in model")
	// ErrIdentityMismatch is returned when a cell is asked to track an object
	// of a different identity, or when it is not in a replaceable state.
	ErrIdentityMismatch = errors.New("identity mismatch")
	// ErrMissingIdentity is returned when an existing object is attached
	// without a complete identity.
	ErrMissingIdentity = errors.New("object has no identity")
	// ErrMultipleLocalTransactions is returned when a second storage
	// collaborator is needed while a local transaction is open on another.
	ErrMultipleLocalTransactions = errors.New("multiple storage collaborators in one local transaction")
	// ErrDuplicateInsertion is raised by storage collaborators when an insert
	// collides with an existing key.
	ErrDuplicateInsertion = errors.New("duplicate insertion")
	// ErrConcurrencyConflict is raised by storage collaborators when a
	// concurrency attribute no longer holds its original value.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrNotFound is raised by storage collaborators for unknown rows.
	ErrNotFound = errors.New("row not found")
	// ErrNoTransaction is returned by Commit/Rollback without Begin.
	ErrNoTransaction = errors.New("no transaction in progress")
)

// UnregisteredTypeError names the type that had no descriptor.
type UnregisteredTypeError struct {
	Type string
}

func (e UnregisteredTypeError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnregisteredType, e.Type)
}

// Unwrap allows errors.Is(err, ErrUnregisteredType).
func (e UnregisteredTypeError) Unwrap() error { return ErrUnregisteredType }

// DuplicateInsertionError names the colliding row.
type DuplicateInsertionError struct {
	Type     string
	Identity string
}

func (e DuplicateInsertionError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrDuplicateInsertion, e.Type, e.Identity)
}

// Unwrap allows errors.Is(err, ErrDuplicateInsertion).
func (e DuplicateInsertionError) Unwrap() error { return ErrDuplicateInsertion }

// ConcurrencyConflictError names the row and attribute that failed the check.
type ConcurrencyConflictError struct {
	Type      string
	Identity  string
	Attribute string
}

func (e ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s: %s %s attribute %s", ErrConcurrencyConflict, e.Type, e.Identity, e.Attribute)
}

// Unwrap allows errors.Is(err, ErrConcurrencyConflict).
func (e ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }

// NotFoundError names the missing row.
type NotFoundError struct {
	Type     string
	Identity string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Type, e.Identity)
}

// Unwrap allows errors.Is(err, ErrNotFound).
func (e NotFoundError) Unwrap() error { return ErrNotFound }
