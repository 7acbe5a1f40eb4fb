// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package authtest

import (
	"sync"

	"github.com/holomush/gatehouse/internal/auth"
)

// Audit records every auth.AuditRecord it receives.
type Audit struct {
	mu      sync.Mutex
	records []auth.AuditRecord
}

// Record implements auth.AuditSink.
func (a *Audit) Record(rec auth.AuditRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
}

// Records returns a copy of everything recorded so far.
func (a *Audit) Records() []auth.AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]auth.AuditRecord, len(a.records))
	copy(out, a.records)
	return out
}

// Actions returns the action types recorded so far, in order.
func (a *Audit) Actions() []auth.ActionType {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]auth.ActionType, 0, len(a.records))
	for _, r := range a.records {
		out = append(out, r.Action)
	}
	return out
}

// Count returns how many records of the given action were recorded.
func (a *Audit) Count(action auth.ActionType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, r := range a.records {
		if r.Action == action {
			n++
		}
	}
	return n
}

// Event is one call observed by Presenter.
type Event struct {
	Kind     string // "confine", "release" or "notify"
	Username string
	Notice   auth.Notice
	Snapshot auth.Snapshot
}

// Presenter records presentation calls and serves snapshots from a map.
type Presenter struct {
	mu        sync.Mutex
	events    []Event
	snapshots map[string]auth.Snapshot
}

// NewPresenter creates an empty Presenter.
func NewPresenter() *Presenter {
	return &Presenter{snapshots: make(map[string]auth.Snapshot)}
}

// SetSnapshot sets what CaptureSnapshot returns for username.
func (p *Presenter) SetSnapshot(username string, s auth.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots[auth.NormalizeUsername(username)] = s
}

// Confine implements auth.Presenter.
func (p *Presenter) Confine(id auth.Identity) {
	p.add(Event{Kind: "confine", Username: id.Key()})
}

// Release implements auth.Presenter.
func (p *Presenter) Release(id auth.Identity, s auth.Snapshot) {
	p.add(Event{Kind: "release", Username: id.Key(), Snapshot: s})
}

// Notify implements auth.Presenter.
func (p *Presenter) Notify(id auth.Identity, n auth.Notice) {
	p.add(Event{Kind: "notify", Username: id.Key(), Notice: n})
}

// CaptureSnapshot implements auth.Presenter.
func (p *Presenter) CaptureSnapshot(id auth.Identity) (auth.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.snapshots[id.Key()]
	return s, ok
}

func (p *Presenter) add(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

// Events returns every call observed for username.
func (p *Presenter) Events(username string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := auth.NormalizeUsername(username)
	var out []Event
	for _, e := range p.events {
		if e.Username == key {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent call observed for username.
func (p *Presenter) Last(username string) (Event, bool) {
	events := p.Events(username)
	if len(events) == 0 {
		return Event{}, false
	}
	return events[len(events)-1], true
}

// Notices returns the notices sent to username, in order.
func (p *Presenter) Notices(username string) []auth.Notice {
	var out []auth.Notice
	for _, e := range p.Events(username) {
		if e.Kind == "notify" {
			out = append(out, e.Notice)
		}
	}
	return out
}

var (
	_ auth.AuditSink = (*Audit)(nil)
	_ auth.Presenter = (*Presenter)(nil)
)
