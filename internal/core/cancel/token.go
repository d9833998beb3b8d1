// Package cancel provides the stop signal shared between the supervisor and
// a running stream worker.
package cancel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Token is a one-shot cancellation flag. The supervisor calls Cancel; the
// worker polls Cancelled at its checkpoints and selects on Done while
// sleeping.
type Token struct {
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// New returns an unset token.
func New() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel sets the token. Safe to call more than once.
func (t *Token) Cancel() {
	t.once.Do(func() {
		t.cancelled.Store(true)
		close(t.done)
	})
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// Done returns a channel closed on Cancel.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Sleep waits for d or until the token is cancelled. It returns false if the
// wait was cut short by cancellation.
func (t *Token) Sleep(d time.Duration) bool {
	if t.Cancelled() {
		return false
	}
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-t.done:
		return false
	case <-timer.C:
		return true
	}
}

// Context returns a child of parent that is cancelled together with the
// token, so blocking network calls unblock as soon as a stop is requested.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
