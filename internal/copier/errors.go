package copier

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches any *NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrOwnership matches any *OwnershipError.
	ErrOwnership = errors.New("ownership mismatch")
	// ErrStorage matches any *StorageError.
	ErrStorage = errors.New("storage operation failed")

	// ErrNothingCopied is returned with the result when every item failed.
	ErrNothingCopied = errors.New("no items were copied")
	// ErrInvalidRequest reports a malformed request.
	ErrInvalidRequest = errors.New("invalid copy request")
)

// NotFoundError reports a record that does not exist or is not visible.
type NotFoundError struct {
	Kind string // "file", "folder", "link", "workspace"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// OwnershipError reports a record that does not belong to the asserted
// link, workspace or user.
type OwnershipError struct {
	Kind   string
	ID     string
	Detail string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, e.ID, e.Detail)
}

func (e *OwnershipError) Is(target error) bool {
	return target == ErrOwnership
}

// StorageError reports a failed blob operation.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}
