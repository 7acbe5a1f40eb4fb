// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package async

import (
	"context"
	"log/slog"
	"sync"
)

// Loop is the single-threaded action path. Tasks run one at a time in
// submission order on the goroutine that called Run.
//
// The queue is unbounded so tasks may safely submit follow-up tasks to the
// Loop they are running on.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
	running bool
}

// NewLoop creates a Loop. Call Run to start processing tasks.
func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Context reports ActionPath.
func (l *Loop) Context() Context { return ActionPath }

// Submit enqueues fn. Returns false once the Loop has been stopped.
func (l *Loop) Submit(fn func()) bool {
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

// Run processes tasks until ctx is cancelled or Stop is called. Tasks queued
// before the stop are drained. Run returns ctx.Err() on cancellation and nil
// after Stop.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrRejected
	}
	l.running = true
	l.mu.Unlock()
	defer close(l.done)

	for {
		for {
			task, ok := l.next()
			if !ok {
				break
			}
			l.run(task)
		}

		l.mu.Lock()
		stopped := l.stopped && len(l.queue) == 0
		l.mu.Unlock()
		if stopped {
			return nil
		}

		select {
		case <-ctx.Done():
			l.Stop()
			l.drain()
			return ctx.Err() //nolint:wrapcheck // cancellation cause is the caller's own error
		case <-l.wake:
		}
	}
}

// Stop prevents further submissions. Already queued tasks still run.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

func (l *Loop) drain() {
	for {
		task, ok := l.next()
		if !ok {
			return
		}
		l.run(task)
	}
}

func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("action task panicked", "panic", r)
		}
	}()
	task()
}

// Inline is an Executor that runs tasks immediately on the submitting
// goroutine. It is intended for tests and tools that have no action path.
type Inline struct{}

// Submit runs fn synchronously.
func (Inline) Submit(fn func()) bool {
	fn()
	return true
}

// Context reports ActionPath.
func (Inline) Context() Context { return ActionPath }
