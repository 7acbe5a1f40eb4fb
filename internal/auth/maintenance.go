// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/gatehouse/internal/async"
	"github.com/holomush/gatehouse/pkg/errutil"
)

// DefaultMaintenanceInterval is the default time between maintenance passes.
const DefaultMaintenanceInterval = 5 * time.Minute

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	SessionsSwept  int64
	SourcesSwept   int
	SnapshotsSaved int
	CacheExpired   int
	SessionsPruned int64
	AuditPruned    int64
}

// cachedState is what maintenance and shutdown need from one cache entry.
type cachedState struct {
	username  string
	tokenHash string
	expiresAt time.Time
	snapshot  Snapshot
}

// RunMaintenance runs one maintenance pass: it sweeps expired sessions of
// accounts not in the cache, sweeps expired rate limit entries, saves
// snapshots of authenticated identities when autosave is on, drops cache
// entries whose session ended, and prunes old rows.
func (o *Orchestrator) RunMaintenance(ctx context.Context) *async.Future[MaintenanceReport] {
	return async.Start(o.loop, func() *async.Future[MaintenanceReport] {
		if o.closing {
			return async.Resolved(MaintenanceReport{})
		}
		states := o.captureCached()
		protected := o.cache.Usernames()

		type result struct {
			report MaintenanceReport
			live   map[string]bool
		}
		var saves []*async.Future[bool]
		if o.cfg.Autosave {
			for _, st := range states {
				saves = append(saves, o.persist(st.username, st.snapshot, nil))
			}
		}

		work := async.Then(async.All(saves), o.bg, func(saved []bool) result {
			var r result
			r.report.SessionsSwept = o.sessions.SweepExpired(ctx, protected)
			r.report.SourcesSwept = o.limiter.SweepExpired()
			for _, ok := range saved {
				if ok {
					r.report.SnapshotsSaved++
				}
			}

			hashes := make([]string, 0, len(states))
			for _, st := range states {
				hashes = append(hashes, st.tokenHash)
			}
			r.live, _ = o.sessions.FilterLive(ctx, hashes)

			if o.cfg.SessionRetention > 0 {
				r.report.SessionsPruned = o.sessions.PruneInactive(ctx, o.cfg.SessionRetention)
			}
			if o.cfg.AuditRetention > 0 && o.auditPruner != nil {
				n, err := o.auditPruner.Prune(ctx, o.clock.Now().Add(-o.cfg.AuditRetention))
				if err != nil {
					recordStoreFault("prune_audit")
					errutil.LogError(o.logger, "audit prune failed", oops.Code("STORE_FAULT").
						With("operation", "prune_audit").
						Wrap(err))
				}
				r.report.AuditPruned = n
			}
			return r
		})

		return async.Then(work, o.loop, func(r result) MaintenanceReport {
			now := o.clock.Now()
			for _, st := range states {
				ended := !now.Before(st.expiresAt)
				if r.live != nil && !r.live[st.tokenHash] {
					ended = true
				}
				if ended && o.expire(st) {
					r.report.CacheExpired++
				}
			}
			maintenanceRuns.Inc()
			o.logger.Debug("maintenance pass complete",
				"sessions_swept", r.report.SessionsSwept,
				"sources_swept", r.report.SourcesSwept,
				"snapshots_saved", r.report.SnapshotsSaved,
				"cache_expired", r.report.CacheExpired,
				"sessions_pruned", r.report.SessionsPruned,
				"audit_pruned", r.report.AuditPruned)
			return r.report
		})
	})
}

// expire drops the cache entry described by st unless it was replaced since
// it was captured, and confines the identity if it is connected. Runs on
// the loop.
func (o *Orchestrator) expire(st cachedState) bool {
	entry, ok := o.cache.Get(st.username)
	if ok && entry.TokenHash != st.tokenHash {
		return false
	}
	if _, removed := o.cache.Remove(st.username); !removed {
		return false
	}
	delete(o.issued, st.username)
	if conn := o.present[st.username]; conn != nil {
		o.presenter.Confine(conn.identity)
		o.presenter.Notify(conn.identity, NoticeSessionExpired)
	}
	return true
}

// captureCached reads the state of every cache entry, taking live snapshots
// from connected identities. Runs on the loop.
func (o *Orchestrator) captureCached() []cachedState {
	entries := o.cache.Entries()
	states := make([]cachedState, 0, len(entries))
	for _, e := range entries {
		key := NormalizeUsername(e.Account.Username)
		st := cachedState{
			username:  key,
			tokenHash: e.TokenHash,
			expiresAt: e.ExpiresAt,
			snapshot:  e.Account.Snapshot,
		}
		if conn := o.present[key]; conn != nil {
			if captured, ok := o.presenter.CaptureSnapshot(conn.identity); ok {
				st.snapshot = captured
				o.cache.UpdateSnapshot(key, captured)
			}
		}
		states = append(states, st)
	}
	return states
}

// RunMaintenanceLoop runs RunMaintenance every interval until ctx is done.
// A pass that is still running when the next tick fires delays that tick.
func (o *Orchestrator) RunMaintenanceLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}
	ticker := o.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if _, err := o.RunMaintenance(ctx).Await(ctx); err != nil {
				return nil
			}
		}
	}
}

// Shutdown stops accepting operations, waits for operations already in
// flight, saves the snapshot of every cached account, and deactivates all
// active sessions. Results of operations that finish after Shutdown began
// are not applied, and sessions they created are deactivated.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := async.Start(o.loop, func() *async.Future[int] {
		o.closing = true
		for key := range o.evictions {
			o.cancelEviction(key)
		}
		inflight := slices.Collect(maps.Values(o.inflight))

		return async.FlatThen(async.All(inflight), o.loop, func([]struct{}) *async.Future[int] {
			states := o.captureCached()
			saves := make([]*async.Future[bool], 0, len(states))
			for _, st := range states {
				saves = append(saves, o.persist(st.username, st.snapshot, nil))
			}
			outstanding := slices.Collect(maps.Values(o.writes))

			final := async.Then(async.All(outstanding), o.bg, func([]bool) int {
				saved := 0
				for _, f := range saves {
					if ok, _ := f.Value(); ok {
						saved++
					}
				}
				sessions := o.sessions
				if o.seal != nil {
					sessions = o.sessions.WithRepository(o.seal())
				}
				ended := sessions.DeactivateAllActive(ctx)
				o.logger.Info("sessions closed for shutdown", "snapshots_saved", saved, "sessions_ended", ended)
				return saved
			})

			return async.Then(final, o.loop, func(saved int) int {
				for _, name := range o.cache.Usernames() {
					o.cache.Remove(name)
				}
				clear(o.issued)
				return saved
			})
		})
	})

	if _, err := done.Await(ctx); err != nil {
		return oops.Code("SHUTDOWN_TIMEOUT").Wrap(err)
	}
	return nil
}
