// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package async

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool runs background tasks with bounded concurrency.
type Pool struct {
	logger *slog.Logger
	sem    *semaphore.Weighted

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a Pool running at most width tasks at once.
// A width below one is treated as one.
func NewPool(width int, logger *slog.Logger) *Pool {
	if width < 1 {
		width = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger: logger,
		sem:    semaphore.NewWeighted(int64(width)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context reports Background.
func (p *Pool) Context() Context { return Background }

// Submit schedules fn on a background goroutine. It never blocks the caller
// waiting for a free slot. Returns false once Close has been called.
func (p *Pool) Submit(fn func()) bool {
	return p.SubmitOr(fn, nil)
}

// SubmitOr is Submit, calling dropped if Close discards fn before it gets a
// slot.
func (p *Pool) SubmitOr(fn, dropped func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			p.logger.Debug("background task dropped", "error", err)
			if dropped != nil {
				p.run(dropped)
			}
			return
		}
		defer p.sem.Release(1)
		p.run(fn)
	}()
	return true
}

// Close stops accepting tasks and waits for in-flight and queued tasks to
// finish or for ctx to expire, whichever comes first. Tasks still waiting for
// a slot when ctx expires are dropped.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err() //nolint:wrapcheck // deadline belongs to the caller
	}
}

func (p *Pool) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background task panicked", "panic", r)
		}
	}()
	fn()
}
