// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"
	"sync"

	"github.com/holomush/gatehouse/internal/auth"
)

// logPresenter stands in for the world when gatehouse runs on its own. It
// logs every presentation call and remembers the last released snapshot of
// each identity so logout and shutdown have something to save.
type logPresenter struct {
	logger *slog.Logger

	mu        sync.Mutex
	snapshots map[string]auth.Snapshot
}

func newLogPresenter(logger *slog.Logger) *logPresenter {
	return &logPresenter{
		logger:    logger.With("component", "presenter"),
		snapshots: make(map[string]auth.Snapshot),
	}
}

func (p *logPresenter) Confine(id auth.Identity) {
	p.mu.Lock()
	delete(p.snapshots, id.Key())
	p.mu.Unlock()
	p.logger.Info("identity confined", "username", id.Key())
}

func (p *logPresenter) Release(id auth.Identity, snapshot auth.Snapshot) {
	p.mu.Lock()
	p.snapshots[id.Key()] = snapshot.Clone()
	p.mu.Unlock()
	p.logger.Info("identity released", "username", id.Key(), "world", snapshot.World)
}

func (p *logPresenter) Notify(id auth.Identity, notice auth.Notice) {
	p.logger.Info("notice", "username", id.Key(), "notice", string(notice))
}

func (p *logPresenter) CaptureSnapshot(id auth.Identity) (auth.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.snapshots[id.Key()]
	if !ok {
		return auth.Snapshot{}, false
	}
	return s.Clone(), true
}

var _ auth.Presenter = (*logPresenter)(nil)
