// Package loop provides the single processing context. Transport
// completions, stream frames and timer ticks are posted here so that cache
// mutations never race each other.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrStopped is returned when work is posted to a loop that has exited.
var ErrStopped = errors.New("loop stopped")

// ErrPanicked is returned by Do when the posted function panicked.
var ErrPanicked = errors.New("task panicked")

// Executor runs posted functions in FIFO order on one goroutine.
type Executor interface {
	Post(fn func()) bool
}

// Loop is an unbounded FIFO executor. Posting never blocks, so transport
// goroutines can hand off work while the loop is busy.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
	done    chan struct{}
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues fn and reports whether the loop accepted it.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run processes posted work until ctx is cancelled. Work still queued at
// that point is discarded.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				break
			}
			l.run(fn)
		}

		select {
		case <-ctx.Done():
			l.stop()
			return
		case <-l.wake:
		}
	}
}

func (l *Loop) stop() {
	l.mu.Lock()
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("processing task panicked", "panic", r)
		}
	}()
	fn()
}

// Do posts fn and waits until it has run. A panic in fn is logged by the
// loop and returned as ErrPanicked.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	var panicked any
	if !l.Post(func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				panicked = r
				panic(r)
			}
		}()
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		if panicked != nil {
			return fmt.Errorf("%w: %v", ErrPanicked, panicked)
		}
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Inline runs posted work immediately on the caller's goroutine.
type Inline struct{}

func (Inline) Post(fn func()) bool {
	fn()
	return true
}
