// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package async

import (
	"context"
	"sync"
)

// Future is a value that becomes available once a pipeline stage completes.
// A Future resolves exactly once.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
}

// NewFuture returns an unresolved Future and the function that resolves it.
// Calls to resolve after the first are ignored.
func NewFuture[T any]() (*Future[T], func(T)) {
	f := &Future[T]{done: make(chan struct{})}
	return f, f.resolve
}

// Resolved returns a Future that already holds v.
func Resolved[T any](v T) *Future[T] {
	f, resolve := NewFuture[T]()
	resolve(v)
	return f
}

func (f *Future[T]) resolve(v T) {
	f.once.Do(func() {
		f.value = v
		close(f.done)
	})
}

// Done is closed when the value is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Value returns the value and whether the Future has resolved.
func (f *Future[T]) Value() (T, bool) {
	select {
	case <-f.done:
		return f.value, true
	default:
		var zero T
		return zero, false
	}
}

// Await blocks until the Future resolves or ctx is done.
// Never call Await from a task running on the Loop the pipeline depends on.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err() //nolint:wrapcheck // cancellation belongs to the caller
	}
}

// Go runs fn on exec and returns a Future for its result. If exec rejects or
// drops the task, or fn panics, the Future resolves with the zero value.
func Go[T any](exec Executor, fn func() T) *Future[T] {
	f, resolve := NewFuture[T]()
	submit(exec, func() {
		var v T
		defer func() {
			resolve(v)
			if r := recover(); r != nil {
				panic(r)
			}
		}()
		v = fn()
	}, resolveZero(resolve))
	return f
}

// Then runs fn on exec with the value of f once f resolves. This is the
// explicit hop between execution contexts.
func Then[T, U any](f *Future[T], exec Executor, fn func(T) U) *Future[U] {
	next, resolve := NewFuture[U]()
	go func() {
		<-f.done
		v := f.value
		submit(exec, func() {
			var out U
			defer func() {
				resolve(out)
				if r := recover(); r != nil {
					panic(r)
				}
			}()
			out = fn(v)
		}, resolveZero(resolve))
	}()
	return next
}

// FlatThen is Then for stages that themselves return a Future.
func FlatThen[T, U any](f *Future[T], exec Executor, fn func(T) *Future[U]) *Future[U] {
	next, resolve := NewFuture[U]()
	go func() {
		<-f.done
		v := f.value
		submit(exec, func() {
			inner := func() (inner *Future[U]) {
				defer func() {
					if r := recover(); r != nil {
						var zero U
						resolve(zero)
						panic(r)
					}
				}()
				return fn(v)
			}()
			if inner == nil {
				var zero U
				resolve(zero)
				return
			}
			go func() {
				<-inner.done
				resolve(inner.value)
			}()
		}, resolveZero(resolve))
	}()
	return next
}

// Start runs fn on exec and adopts the Future it returns. Use it to begin a
// pipeline whose first stage must run on a specific executor.
func Start[T any](exec Executor, fn func() *Future[T]) *Future[T] {
	return FlatThen(Resolved(struct{}{}), exec, func(struct{}) *Future[T] { return fn() })
}

// All resolves once every future in fs has resolved, with their values in
// order.
func All[T any](fs []*Future[T]) *Future[[]T] {
	out, resolve := NewFuture[[]T]()
	go func() {
		vals := make([]T, len(fs))
		for i, f := range fs {
			<-f.done
			vals[i] = f.value
		}
		resolve(vals)
	}()
	return out
}

func resolveZero[T any](resolve func(T)) func() {
	return func() {
		var zero T
		resolve(zero)
	}
}
