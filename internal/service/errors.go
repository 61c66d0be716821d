package service

import (
	"errors"
	"fmt"

	"github.com/listsync/listsync/internal/docstore"
	"github.com/listsync/listsync/internal/repository"
)

// Synchronization failure kinds. Every error returned by a synchronizer
// matches exactly one of them with errors.Is.
var (
	ErrCreateFailed          = errors.New("identity create failed")
	ErrAggregateWriteFailed  = errors.New("aggregate write failed")
	ErrReadbackMissing       = errors.New("aggregate not readable after write")
	ErrAggregateReadFailed   = errors.New("aggregate read failed")
	ErrIdentityReadFailed    = errors.New("identity read failed")
	ErrParentNotFound        = errors.New("parent list not found")
	ErrItemCreateFailed      = errors.New("item identity create failed")
	ErrItemPersistMismatch   = errors.New("item not present after write")
	ErrIdentityDeleteFailed  = errors.New("identity delete failed")
	ErrAggregateDeleteFailed = errors.New("aggregate delete failed")
	ErrVersionConflict       = errors.New("list was modified concurrently")
	ErrListNotFound          = errors.New("list not found")
	ErrUserNotFound          = errors.New("user not found")
	ErrInvalidList           = errors.New("invalid list")
	ErrInvalidItem           = errors.New("invalid list item")
	ErrInvalidEmail          = errors.New("invalid email")
	ErrListExists            = errors.New("list id already taken by another owner")
	ErrItemParentMismatch    = errors.New("item belongs to another list")
)

// Entity kinds carried by SyncError.
const (
	EntityUser     = repository.EntityUser
	EntityList     = repository.EntityList
	EntityListItem = repository.EntityListItem
)

// SyncError is a failed synchronization step. The message names the entity
// and its key. Kind is one of the package sentinels; Err is the store error
// behind it, if any.
type SyncError struct {
	Kind   error
	Entity string
	Key    string
	Err    error
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Entity, e.Key, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Entity, e.Key, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *SyncError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether repeating the whole operation may succeed.
func (e *SyncError) Retryable() bool {
	if e.Err == nil {
		return false
	}
	return repository.IsRetryable(e.Err) || docstore.IsRetryable(e.Err)
}

// IsNotFound reports whether err is a not-found outcome rather than a
// failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrParentNotFound) ||
		errors.Is(err, ErrListNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

// IsRetryable reports whether err is a SyncError worth retrying.
func IsRetryable(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Retryable()
}

func syncErr(kind error, entity string, key fmt.Stringer, cause error) *SyncError {
	return &SyncError{Kind: kind, Entity: entity, Key: key.String(), Err: cause}
}
