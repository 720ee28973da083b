package tree

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches any *NotFoundError.
	ErrNotFound = errors.New("node not found")
	// ErrInvariant matches any *InvariantViolation.
	ErrInvariant = errors.New("tree invariant violated")

	ErrCycle       = errors.New("move would make a folder its own descendant")
	ErrNotFolder   = errors.New("target is not a folder")
	ErrInvalidName = errors.New("invalid name")
	ErrKindChange  = errors.New("node kind cannot change")
	ErrInvalidDrop = errors.New("invalid drop")
	ErrExists      = errors.New("node already exists")
)

// NotFoundError reports an id that does not exist in the store.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("node %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InvariantViolation describes the first structural invariant found broken.
// It signals a programming error, never a user error.
type InvariantViolation struct {
	Invariant int
	NodeID    string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant %d violated at %q: %s", e.Invariant, e.NodeID, e.Detail)
}

func (e *InvariantViolation) Is(target error) bool {
	return target == ErrInvariant
}

func notFound(id string) error {
	return &NotFoundError{ID: id}
}

func unknownKind(n Node) string {
	return fmt.Sprintf("tree: unknown node type %T", n)
}
