// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package async_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/gatehouse/internal/async"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// startLoop runs a Loop until the test ends.
func startLoop(t *testing.T) *async.Loop {
	t.Helper()
	loop := async.NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop
}

func awaitValue[T any](t *testing.T, f *async.Future[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	require.NoError(t, err)
	return v
}

// taggingExecutor records the context of every task it runs.
type taggingExecutor struct {
	async.Executor
	mu   sync.Mutex
	seen []async.Context
}

func (e *taggingExecutor) Submit(fn func()) bool {
	return e.Executor.Submit(func() {
		e.mu.Lock()
		e.seen = append(e.seen, e.Executor.Context())
		e.mu.Unlock()
		fn()
	})
}

func (e *taggingExecutor) contexts() []async.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]async.Context(nil), e.seen...)
}

func TestLoop_RunsTasksInOrder(t *testing.T) {
	loop := startLoop(t)

	var got []int
	done := make(chan struct{})
	for i := range 100 {
		require.True(t, loop.Submit(func() { got = append(got, i) }))
	}
	require.True(t, loop.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not drain")
	}
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.Len(t, got, 100)
}

func TestLoop_TaskCanSubmitToItself(t *testing.T) {
	loop := startLoop(t)

	done := make(chan struct{})
	loop.Submit(func() {
		loop.Submit(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested submit never ran")
	}
}

func TestLoop_StopRejectsNewWorkButDrainsQueued(t *testing.T) {
	loop := async.NewLoop(nil)

	var ran atomic.Int32
	loop.Submit(func() { ran.Add(1) })
	loop.Submit(func() { ran.Add(1) })
	loop.Stop()
	assert.False(t, loop.Submit(func() { ran.Add(1) }))

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, int32(2), ran.Load())
}

func TestLoop_PanickingTaskDoesNotKillLoop(t *testing.T) {
	loop := startLoop(t)

	loop.Submit(func() { panic("boom") })
	f := async.Go[int](loop, func() int { return 7 })
	assert.Equal(t, 7, awaitValue(t, f))
}

func TestThen_HopsFromBackgroundToActionPath(t *testing.T) {
	pool := async.NewPool(2, nil)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })
	bg := &taggingExecutor{Executor: pool}
	action := &taggingExecutor{Executor: startLoop(t)}

	computed := async.Go[int](bg, func() int { return 20 })
	applied := async.Then(computed, action, func(v int) int { return v + 1 })

	assert.Equal(t, 21, awaitValue(t, applied))
	assert.Equal(t, []async.Context{async.Background}, bg.contexts())
	assert.Equal(t, []async.Context{async.ActionPath}, action.contexts())
}

func TestGo_RejectedExecutorResolvesZero(t *testing.T) {
	pool := async.NewPool(1, nil)
	require.NoError(t, pool.Close(context.Background()))

	f := async.Go[bool](pool, func() bool { return true })
	assert.False(t, awaitValue(t, f))
}

func TestThen_RejectedExecutorResolvesZero(t *testing.T) {
	loop := async.NewLoop(nil)
	loop.Stop()

	f := async.Then(async.Resolved(5), loop, func(v int) int { return v * 2 })
	assert.Zero(t, awaitValue(t, f))
}

func TestGo_PanicResolvesZero(t *testing.T) {
	pool := async.NewPool(1, nil)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })

	f := async.Go[string](pool, func() string { panic("store exploded") })
	assert.Empty(t, awaitValue(t, f))
}

func TestStart_AdoptsInnerFuture(t *testing.T) {
	pool := async.NewPool(1, nil)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })
	loop := startLoop(t)

	f := async.Start(loop, func() *async.Future[string] {
		return async.Go[string](pool, func() string { return "hashed" })
	})
	assert.Equal(t, "hashed", awaitValue(t, f))
}

func TestStart_NilInnerResolvesZero(t *testing.T) {
	f := async.Start(async.Inline{}, func() *async.Future[int] { return nil })
	assert.Zero(t, awaitValue(t, f))
}

func TestFuture_ResolvesOnce(t *testing.T) {
	f, resolve := async.NewFuture[int]()
	_, ok := f.Value()
	assert.False(t, ok)

	resolve(1)
	resolve(2)

	v, ok := f.Value()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestFuture_AwaitHonorsContext(t *testing.T) {
	f, _ := async.NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	pool := async.NewPool(2, nil)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()
	require.NoError(t, pool.Close(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_CloseWaitsForInFlight(t *testing.T) {
	pool := async.NewPool(1, nil)

	var finished atomic.Bool
	pool.Submit(func() {
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	})

	require.NoError(t, pool.Close(context.Background()))
	assert.True(t, finished.Load())
	assert.False(t, pool.Submit(func() {}))
}

func TestPool_CloseResolvesDroppedFutures(t *testing.T) {
	pool := async.NewPool(1, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	pool.Submit(func() {
		close(started)
		<-release
	})
	<-started

	queued := async.Go[bool](pool, func() bool { return true })
	chained := async.Then(async.Resolved(2), pool, func(v int) int { return v * 2 })
	time.AfterFunc(50*time.Millisecond, func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Close(ctx), context.DeadlineExceeded)

	assert.False(t, awaitValue(t, queued), "dropped task resolves zero")
	assert.Zero(t, awaitValue(t, chained))
}

func TestContext_String(t *testing.T) {
	assert.Equal(t, "action", async.ActionPath.String())
	assert.Equal(t, "background", async.Background.String())
	assert.Equal(t, "unknown", async.Context(0).String())
}

func TestAll_PreservesOrder(t *testing.T) {
	pool := async.NewPool(2, nil)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })

	slow := async.Go(pool, func() int {
		time.Sleep(20 * time.Millisecond)
		return 1
	})
	fast := async.Go(pool, func() int { return 2 })

	assert.Equal(t, []int{1, 2}, awaitValue(t, async.All([]*async.Future[int]{slow, fast})))
}

func TestAll_EmptyResolvesImmediately(t *testing.T) {
	assert.Empty(t, awaitValue(t, async.All[int](nil)))
}
