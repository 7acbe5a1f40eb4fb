// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package async

import "github.com/samber/oops"

// Context identifies which execution context runs a task.
type Context int

// Execution contexts.
const (
	ActionPath Context = iota + 1
	Background
)

// String returns the context name used in logs and metrics.
func (c Context) String() string {
	switch c {
	case ActionPath:
		return "action"
	case Background:
		return "background"
	default:
		return "unknown"
	}
}

// ErrRejected is returned when an executor no longer accepts work.
var ErrRejected = oops.Code("EXECUTOR_REJECTED").Errorf("executor is not accepting work")

// Executor runs tasks in a specific execution context.
type Executor interface {
	// Submit schedules fn. Returns false if the executor is stopped.
	Submit(fn func()) bool

	// Context reports the execution context tasks run in.
	Context() Context
}

// DropNotifier is implemented by executors that may discard a task after
// accepting it. SubmitOr schedules fn and calls dropped instead if fn will
// never run.
type DropNotifier interface {
	SubmitOr(fn, dropped func()) bool
}

// submit schedules fn on exec, calling dropped if exec rejects it or
// discards it later.
func submit(exec Executor, fn, dropped func()) {
	if d, ok := exec.(DropNotifier); ok {
		if !d.SubmitOr(fn, dropped) {
			dropped()
		}
		return
	}
	if !exec.Submit(fn) {
		dropped()
	}
}
