// Package governor enforces hard deadlines on probe operations.
package governor

import (
	"context"
	"errors"
	"time"
)

// Default deadlines for each probe kind.
const (
	PortTimeout   = 3 * time.Second
	TraceTimeout  = 30 * time.Second
	PingTimeout   = 5 * time.Second
	VendorTimeout = 5 * time.Second
)

// ErrTimedOut is returned when an operation did not complete within its deadline.
var ErrTimedOut = errors.New("deadline exceeded")

// IsTimeout returns true if the error indicates a governor timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimedOut)
}

type outcome[T any] struct {
	value T
	err   error
}

// Run executes op with a context bounded by d and returns either the
// operation's result or ErrTimedOut, never both.
//
// When the deadline passes, the context handed to op is cancelled and op is
// abandoned; it must return promptly once its context is done. If the parent
// context is cancelled first, the parent's error is returned instead of
// ErrTimedOut.
func Run[T any](ctx context.Context, d time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	dl := NewDeadline(ctx, d)
	defer dl.Stop()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := op(dl.Context())
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case out := <-done:
		// An error that surfaces after expiry is the expiry's doing.
		if out.err == nil || !dl.Expired() {
			return out.value, out.err
		}
	case <-dl.Done():
		// A result that raced the expiry still counts.
		select {
		case out := <-done:
			if out.err == nil {
				return out.value, nil
			}
		default:
		}
	}

	var zero T
	if dl.Expired() {
		return zero, ErrTimedOut
	}
	return zero, ctx.Err()
}
