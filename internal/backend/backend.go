// Package backend holds the contract shared by every component that talks to an
// external store (Redis, Postgres): bounded calls and a single unavailability error.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout bounds a store call when no timeout is configured
const DefaultTimeout = 500 * time.Millisecond

// ErrUnavailable indicates a store could not be reached within its time budget.
// Callers apply their fail-open or fail-closed policy when they see it.
var ErrUnavailable = errors.New("dependency unavailable")

// Unavailable wraps a transport error so it matches ErrUnavailable
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// Call runs fn under a deadline of at most timeout. A deadline hit inside fn is
// reported as ErrUnavailable; any other error is returned unchanged.
func Call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
