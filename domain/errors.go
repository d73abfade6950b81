package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports a missing or malformed request field. No
// persistence is attempted when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports that a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s does not exist", e.Entity, e.ID)
}

// ConflictError reports a create that collided with an existing row.
type ConflictError struct {
	Entity string
	ID     string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Entity, e.ID)
}

// StorageError wraps a persistence collaborator failure.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e StorageError) Unwrap() error { return e.Err }

// ErrPartialResequence marks a sibling renumbering that failed after
// the primary write already committed. The primary entity is durable;
// sibling order stays stale until the next mutation on the same set.
var ErrPartialResequence = errors.New("sibling resequence incomplete")
