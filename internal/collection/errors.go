package collection

import (
	"errors"
	"fmt"

	"famhub/backend"
)

// ErrNotFound is returned by toggles when the id is not in the collection.
var ErrNotFound = errors.New("item not found")

// Op names a mutation.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// MutationError is returned when the server rejects a create, update or
// delete. By the time the caller sees it the optimistic change has already
// been rolled back.
type MutationError struct {
	Op       Op
	Resource string
	ID       string
	Err      error
}

// Error implements the error interface.
func (e *MutationError) Error() string {
	if e.ID == "" || backend.IsTempID(e.ID) {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Resource, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Resource, e.ID, e.Err)
}

// Unwrap returns the collaborator error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// TransientFetchError is a failed refresh. Background refreshes log and
// drop it; only an explicit Refresh returns it.
type TransientFetchError struct {
	Resource string
	Scope    backend.Scope
	Err      error
}

// Error implements the error interface.
func (e *TransientFetchError) Error() string {
	if key := e.Scope.Key(); key != "" {
		return fmt.Sprintf("refresh %s (%s): %v", e.Resource, key, e.Err)
	}
	return fmt.Sprintf("refresh %s: %v", e.Resource, e.Err)
}

// Unwrap returns the collaborator error.
func (e *TransientFetchError) Unwrap() error {
	return e.Err
}
