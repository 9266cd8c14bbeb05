package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"log/slog"
	"strings"
	"time"

	"jizhang/internal/core"
)

// RetryPolicy bounds how long a single store operation may keep retrying
// transient SQLite failures.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns sensible defaults
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 4,
		Backoff:  25 * time.Millisecond,
		MaxDelay: 500 * time.Millisecond,
	}
}

// isTransient reports whether err is worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, core.ErrTransient) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// isDomain reports errors that describe the request rather than the storage.
func isDomain(err error) bool {
	return errors.Is(err, core.ErrNotFound) || core.IsValidation(err)
}

// withRetry runs fn until it succeeds, returns a domain error, fails with a
// non-transient error or the attempts run out. Storage failures come back as
// *core.PersistenceError.
func (r *SQLiteRepository) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := max(r.retry.Attempts, 1)
	delay := r.retry.Backoff

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || isDomain(err) {
			return err
		}
		if !isTransient(err) {
			return &core.PersistenceError{Op: op, Attempts: attempt, Err: err}
		}
		if attempt == attempts {
			break
		}

		slog.WarnContext(ctx, "Transient storage error, retrying",
			"operation", op,
			"attempt", attempt,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return &core.PersistenceError{Op: op, Attempts: attempt, Err: errors.Join(err, ctx.Err())}
		case <-time.After(delay):
		}
		delay = min(delay*2, r.retry.MaxDelay)
	}

	return &core.PersistenceError{Op: op, Attempts: attempts, Err: errors.Join(core.ErrTransient, err)}
}
