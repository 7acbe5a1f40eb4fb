// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package async provides the two execution contexts used by gatehouse.
//
// # Execution Contexts
//
//   - Loop - the single-threaded action path. Every mutation of user-visible
//     state runs as a task on the Loop, so tasks never interleave.
//   - Pool - the bounded background context where store I/O and password
//     hashing run.
//
// # Pipelines
//
// A Future carries a value produced by a stage. Stages are chained with Then,
// which names the Executor the next stage runs on. Moving a result from the
// Pool back to the Loop is therefore an explicit step:
//
//	verified := async.Go(pool, func(ctx context.Context) bool { return creds.Verify(ctx, u, pw) })
//	done := async.Then(verified, loop, func(ok bool) Outcome { return apply(ok) })
//
// An executor that rejects a stage (stopped Loop, closed Pool) resolves the
// downstream Future with its zero value. Zero values are the safe negative
// outcome throughout gatehouse, so a pipeline never hangs and never panics
// into the action path.
package async
