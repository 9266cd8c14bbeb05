package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidKind     = errors.New("invalid transaction kind")
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidMonth    = errors.New("invalid month")
	ErrEmptyCategory   = errors.New("empty category")
	ErrUnknownCategory = errors.New("unknown category")
	ErrEmptyPatch      = errors.New("nothing to update")

	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks retryable I/O failures (locked database, network hiccup).
	ErrTransient = errors.New("transient i/o error")
	// ErrUnauthorized is matched by every AuthorizationError.
	ErrUnauthorized = errors.New("unauthorized chat")
)

// ValidationError is a user-correctable problem with a single field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NotFoundError reports an unknown transaction id.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("transaction %d not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AuthorizationError reports a chat that is not on the allow-list.
type AuthorizationError struct {
	ChatID int64
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("chat %d is not allowed", e.ChatID)
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrUnauthorized }

// PersistenceError is a durable write or read that failed for good.
// The operation failed; the process keeps running.
type PersistenceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("persist %s after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
