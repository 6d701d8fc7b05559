package governor

import (
	"context"
	"errors"
	"time"
)

// Deadline is a cancelable deadline owned by a single request.
//
// It wraps a context so that blocking work can observe it, and distinguishes
// its own expiry from cancellation of the parent context.
type Deadline struct {
	ctx      context.Context
	cancel   context.CancelFunc
	parent   context.Context
	duration time.Duration
	start    time.Time
}

// NewDeadline creates a deadline that expires d after now.
// A non-positive d expires immediately.
func NewDeadline(parent context.Context, d time.Duration) *Deadline {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, d)
	return &Deadline{
		ctx:      ctx,
		cancel:   cancel,
		parent:   parent,
		duration: d,
		start:    time.Now(),
	}
}

// Context returns the context bounded by this deadline.
func (d *Deadline) Context() context.Context {
	return d.ctx
}

// Done is closed when the deadline expires, the parent is cancelled, or Stop is called.
func (d *Deadline) Done() <-chan struct{} {
	return d.ctx.Done()
}

// Expired reports whether the deadline itself fired. It returns false when
// the parent context was cancelled or Stop was called first.
func (d *Deadline) Expired() bool {
	if d.parent.Err() != nil {
		return false
	}
	return errors.Is(d.ctx.Err(), context.DeadlineExceeded)
}

// Canceled reports whether the parent context was cancelled.
func (d *Deadline) Canceled() bool {
	return d.parent.Err() != nil
}

// Remaining returns the time left before expiry (zero once expired).
func (d *Deadline) Remaining() time.Duration {
	left := d.duration - time.Since(d.start)
	if left < 0 {
		return 0
	}
	return left
}

// Duration returns the configured bound.
func (d *Deadline) Duration() time.Duration {
	return d.duration
}

// Stop releases the deadline's timer. It is safe to call more than once.
func (d *Deadline) Stop() {
	d.cancel()
}
