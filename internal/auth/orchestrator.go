// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/gatehouse/internal/async"
)

// Orchestrator defaults.
const (
	DefaultDisconnectGrace = 30 * time.Second
	DefaultIPChangeGrace   = 30 * time.Minute
)

// Reason explains a rejected operation. Values are safe to show to users.
type Reason string

// Rejection reasons.
const (
	ReasonNone                 Reason = ""
	ReasonNotConnected         Reason = "not connected"
	ReasonBusy                 Reason = "another request is still being processed"
	ReasonShuttingDown         Reason = "the server is shutting down"
	ReasonAlreadyAuthenticated Reason = "already logged in"
	ReasonAlreadyRegistered    Reason = "this name is already registered"
	ReasonBlocked              Reason = "too many failed attempts, try again later"
	ReasonInvalidCredentials   Reason = "invalid username or password"
	ReasonAddressChanged       Reason = "login from a new address is not allowed yet"
	ReasonInvalidUsername      Reason = "this name cannot be registered"
	ReasonPasswordPolicy       Reason = "password does not meet the requirements"
	ReasonUnavailable          Reason = "authentication is temporarily unavailable"
)

// LoginOutcome is the result of a login attempt.
type LoginOutcome struct {
	Success               bool
	Blocked               bool
	RemainingBlockSeconds int
	Reason                Reason
	Snapshot              Snapshot
}

// RegisterOutcome is the result of a registration attempt. A registered
// account whose session could not be created is Success without
// Authenticated.
type RegisterOutcome struct {
	Success       bool
	Authenticated bool
	Reason        Reason
	Detail        string // policy message, when Reason is ReasonPasswordPolicy
}

// RestoreOutcome is the result of reconnect restore.
type RestoreOutcome struct {
	Restored       bool
	Snapshot       Snapshot
	AddressChanged bool
}

// Stats summarizes authentication state. Store-backed counts are -1 when the
// store could not be read.
type Stats struct {
	ActiveSessions     int64
	RegisteredAccounts int64
	CachedAccounts     int
	Connected          int
	ThrottledSources   int
}

// Config tunes the Orchestrator. Zero durations take defaults.
type Config struct {
	// DisconnectGrace is how long a cache entry survives its connection.
	DisconnectGrace time.Duration

	// IPCheck enables the rapid address change guard.
	IPCheck bool

	// IPChangeGrace is the minimum time between logins from different addresses.
	IPChangeGrace time.Duration

	// Autosave persists snapshots of authenticated identities during maintenance.
	Autosave bool

	// SessionRetention and AuditRetention bound how long inactive session
	// rows and security log rows are kept. Zero disables pruning.
	SessionRetention time.Duration
	AuditRetention   time.Duration

	Policy PasswordPolicy
}

// AuditPruner deletes security log records older than cutoff.
type AuditPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Credentials *CredentialService
	Sessions    *SessionService
	Limiter     *RateLimiter
	Cache       *SessionCache
	Presenter   Presenter

	// Loop is the action path; Background runs store calls.
	Loop       async.Executor
	Background async.Executor

	Audit       AuditSink   // optional
	AuditPruner AuditPruner // optional
	Clock       clockwork.Clock
	Logger      *slog.Logger

	// Seal, if set, is called during shutdown after snapshots are saved. It
	// stops the store from accepting new work and returns a repository that
	// can still reach it for the final session deactivation.
	Seal func() SessionRepository
}

// connection is one arrival of an identity. Results of operations started
// for an earlier connection are not applied to a later one.
type connection struct {
	id       ulid.ULID
	identity Identity
	source   string
}

// issuedToken is the last token handed to an account, kept past cache
// eviction so a reconnect can restore without credentials.
type issuedToken struct {
	token  string
	source string
}

// Orchestrator drives login, registration, logout, restore and shutdown.
//
// Public methods may be called from any goroutine. State is owned by the
// action loop: every method hops onto it before reading or changing the
// fields below, and store calls run on the background executor.
type Orchestrator struct {
	cfg         Config
	credentials *CredentialService
	sessions    *SessionService
	limiter     *RateLimiter
	cache       *SessionCache
	presenter   Presenter
	loop        async.Executor
	bg          async.Executor
	audit       AuditSink
	auditPruner AuditPruner
	clock       clockwork.Clock
	logger      *slog.Logger
	seal        func() SessionRepository

	connected atomic.Int64

	// loop-owned
	present   map[string]*connection
	pending   map[string]bool
	inflight  map[string]*async.Future[struct{}]
	issued    map[string]issuedToken
	evictions map[string]clockwork.Timer
	writes    map[string]*async.Future[bool]
	closing   bool
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Credentials == nil:
		return nil, oops.Errorf("credential service is required")
	case deps.Sessions == nil:
		return nil, oops.Errorf("session service is required")
	case deps.Limiter == nil:
		return nil, oops.Errorf("rate limiter is required")
	case deps.Cache == nil:
		return nil, oops.Errorf("session cache is required")
	case deps.Presenter == nil:
		return nil, oops.Errorf("presenter is required")
	case deps.Loop == nil:
		return nil, oops.Errorf("action loop is required")
	case deps.Background == nil:
		return nil, oops.Errorf("background executor is required")
	}
	if deps.Audit == nil {
		deps.Audit = NopAuditSink{}
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.DisconnectGrace < 0 {
		cfg.DisconnectGrace = 0
	}
	if cfg.IPChangeGrace <= 0 {
		cfg.IPChangeGrace = DefaultIPChangeGrace
	}

	return &Orchestrator{
		cfg:         cfg,
		credentials: deps.Credentials,
		sessions:    deps.Sessions,
		limiter:     deps.Limiter,
		cache:       deps.Cache,
		presenter:   deps.Presenter,
		loop:        deps.Loop,
		bg:          deps.Background,
		audit:       deps.Audit,
		auditPruner: deps.AuditPruner,
		clock:       deps.Clock,
		logger:      deps.Logger,
		seal:        deps.Seal,
		present:     make(map[string]*connection),
		pending:     make(map[string]bool),
		inflight:    make(map[string]*async.Future[struct{}]),
		issued:      make(map[string]issuedToken),
		evictions:   make(map[string]clockwork.Timer),
		writes:      make(map[string]*async.Future[bool]),
	}, nil
}

// IsAuthenticated reports whether the identity may act normally. It reads
// the cache only and never blocks on the store.
func (o *Orchestrator) IsAuthenticated(id Identity) bool {
	return o.cache.IsAuthenticated(id.Key())
}

// Connect registers the arrival of id from source and tries to restore its
// previous session. An identity that cannot be restored is confined.
func (o *Orchestrator) Connect(id Identity, source string) *async.Future[RestoreOutcome] {
	return async.Start(o.loop, func() *async.Future[RestoreOutcome] {
		if o.closing {
			return async.Resolved(RestoreOutcome{})
		}
		key := id.Key()
		conn := o.attach(id, source)

		if entry, ok := o.cache.Get(key); ok && entry.Source == source {
			recordAttempt("restore", "cached")
			return async.Resolved(o.restored(conn, entry.Account.Snapshot))
		}
		o.cache.Remove(key)
		o.presenter.Confine(id)

		if o.pending[key] {
			return async.Resolved(RestoreOutcome{})
		}
		o.pending[key] = true
		tok, hasTok := o.issued[key]

		type result struct {
			session *Session
			account *Account
		}
		lookup := async.Then(o.after(key), o.bg, func(bool) result {
			ctx := context.Background()
			var r result
			if hasTok && tok.source == source {
				r.session, _ = o.sessions.Resume(ctx, tok.token, key, source)
			}
			r.account = o.credentials.Load(ctx, key)
			return r
		})

		out := async.Then(lookup, o.loop, func(r result) RestoreOutcome {
			o.settle(key)
			if o.closing || !o.isCurrent(conn) {
				return RestoreOutcome{}
			}
			if r.session != nil && r.account != nil {
				o.cache.Put(CacheEntry{
					Account:         r.account,
					Token:           tok.token,
					TokenHash:       r.session.TokenHash,
					Source:          source,
					AuthenticatedAt: o.clock.Now(),
					ExpiresAt:       r.session.ExpiresAt,
				})
				recordAttempt("restore", "session")
				return o.restored(conn, r.account.Snapshot)
			}

			if hasTok {
				delete(o.issued, key)
			}
			recordAttempt("restore", "none")
			changed := r.account != nil && r.account.AddressChangedSince(source)
			if changed {
				o.presenter.Notify(id, NoticeAddressChanged)
			}
			return RestoreOutcome{AddressChanged: changed}
		})
		o.inflight[key] = settled(out)
		return out
	})
}

// restored releases conn with snapshot. Runs on the loop.
func (o *Orchestrator) restored(conn *connection, snapshot Snapshot) RestoreOutcome {
	o.presenter.Release(conn.identity, snapshot)
	o.presenter.Notify(conn.identity, NoticeSessionRestored)
	o.record(conn.identity.Key(), conn.source, ActionSessionRestore, true, "")
	return RestoreOutcome{Restored: true, Snapshot: snapshot}
}

// Login authenticates id with password. source is the address the attempt
// comes from and is the key of the rate limiter.
func (o *Orchestrator) Login(id Identity, password, source string) *async.Future[LoginOutcome] {
	return async.Start(o.loop, func() *async.Future[LoginOutcome] {
		key := id.Key()
		switch {
		case o.closing:
			return async.Resolved(LoginOutcome{Reason: ReasonShuttingDown})
		case o.present[key] == nil:
			return async.Resolved(LoginOutcome{Reason: ReasonNotConnected})
		case o.limiter.IsBlocked(source):
			recordAttempt("login", "blocked")
			o.record(key, source, ActionLoginBlocked, false, "source is throttled")
			return async.Resolved(o.blockedOutcome(source))
		case o.cache.IsAuthenticated(key):
			return async.Resolved(LoginOutcome{Reason: ReasonAlreadyAuthenticated})
		case o.pending[key]:
			return async.Resolved(LoginOutcome{Reason: ReasonBusy})
		}
		conn := o.present[key]
		o.pending[key] = true

		type result struct {
			verified       bool
			addressBlocked bool
			account        *Account
			issued         IssuedSession
		}
		attempt := async.Then(o.after(key), o.bg, func(bool) result {
			ctx := context.Background()
			account, ok := o.credentials.Verify(ctx, key, password)
			if !ok {
				return result{}
			}
			r := result{verified: true, account: account}
			if o.rapidAddressChange(account, source) {
				r.addressBlocked = true
				return r
			}
			if r.issued, ok = o.sessions.Create(ctx, key, source); ok {
				o.credentials.RecordLogin(key, source)
			}
			return r
		})

		out := async.Then(attempt, o.loop, func(r result) LoginOutcome {
			o.settle(key)
			if o.closing {
				if r.issued.Session != nil {
					o.discard(key, r.issued)
				}
				return LoginOutcome{Reason: ReasonShuttingDown}
			}
			if !r.verified {
				recordAttempt("login", "invalid")
				o.limiter.RecordFailure(source, key)
				out := LoginOutcome{Reason: ReasonInvalidCredentials}
				if o.limiter.IsBlocked(source) {
					out = o.blockedOutcome(source)
					out.Reason = ReasonInvalidCredentials
				}
				return out
			}
			o.limiter.Clear(source)

			if r.addressBlocked {
				recordAttempt("login", "address_changed")
				o.record(key, source, ActionIPChangeBlocked, false, "previous login from "+r.account.LastIP)
				return LoginOutcome{Reason: ReasonAddressChanged}
			}
			if r.issued.Session == nil {
				recordAttempt("login", "unavailable")
				return LoginOutcome{Reason: ReasonUnavailable}
			}

			o.issued[key] = issuedToken{token: r.issued.Token, source: source}
			if !o.isCurrent(conn) {
				return LoginOutcome{Reason: ReasonNotConnected}
			}
			account := r.account
			account.LastIP = source
			account.LastLoginAt = r.issued.Session.CreatedAt
			o.authenticate(conn, account, r.issued)

			recordAttempt("login", "success")
			o.record(key, source, ActionLogin, true, "")
			return LoginOutcome{Success: true, Snapshot: account.Snapshot}
		})
		o.inflight[key] = settled(out)
		return out
	})
}

// rapidAddressChange reports whether a login from source comes too soon
// after a login from a different address.
func (o *Orchestrator) rapidAddressChange(account *Account, source string) bool {
	if !o.cfg.IPCheck || !account.AddressChangedSince(source) || account.LastLoginAt.IsZero() {
		return false
	}
	return o.clock.Since(account.LastLoginAt) < o.cfg.IPChangeGrace
}

func (o *Orchestrator) blockedOutcome(source string) LoginOutcome {
	remaining := o.limiter.RemainingBlockTime(source)
	return LoginOutcome{
		Blocked:               true,
		RemainingBlockSeconds: int((remaining + time.Second - 1) / time.Second),
		Reason:                ReasonBlocked,
	}
}

// Register creates an account for id and logs it in. localID is the world's
// stable identifier for the user; uuid.Nil uses id.LocalID.
func (o *Orchestrator) Register(id Identity, password string, localID uuid.UUID) *async.Future[RegisterOutcome] {
	if localID == uuid.Nil {
		localID = id.LocalID
	}
	return async.Start(o.loop, func() *async.Future[RegisterOutcome] {
		key := id.Key()
		conn := o.present[key]
		switch {
		case o.closing:
			return async.Resolved(RegisterOutcome{Reason: ReasonShuttingDown})
		case conn == nil:
			return async.Resolved(RegisterOutcome{Reason: ReasonNotConnected})
		case o.cache.IsAuthenticated(key):
			return async.Resolved(RegisterOutcome{Reason: ReasonAlreadyAuthenticated})
		case o.limiter.IsBlocked(conn.source):
			recordAttempt("register", "blocked")
			return async.Resolved(RegisterOutcome{Reason: ReasonBlocked})
		case o.pending[key]:
			return async.Resolved(RegisterOutcome{Reason: ReasonBusy})
		}
		if err := ValidateUsername(key); err != nil {
			return async.Resolved(RegisterOutcome{Reason: ReasonInvalidUsername})
		}
		if localID == uuid.Nil {
			return async.Resolved(RegisterOutcome{Reason: ReasonInvalidUsername})
		}
		if err := o.cfg.Policy.Validate(key, password); err != nil {
			recordAttempt("register", "policy")
			return async.Resolved(RegisterOutcome{Reason: ReasonPasswordPolicy, Detail: err.Error()})
		}
		o.pending[key] = true
		source := conn.source

		type result struct {
			taken   bool
			account *Account
			issued  IssuedSession
		}
		attempt := async.Then(o.after(key), o.bg, func(bool) result {
			ctx := context.Background()
			if o.credentials.IsRegistered(ctx, key) {
				return result{taken: true}
			}
			account := o.credentials.Register(ctx, key, password, localID)
			if account == nil {
				return result{taken: o.credentials.IsRegistered(ctx, key)}
			}
			r := result{account: account}
			if issued, ok := o.sessions.Create(ctx, key, source); ok {
				r.issued = issued
				o.credentials.RecordLogin(key, source)
			}
			return r
		})

		out := async.Then(attempt, o.loop, func(r result) RegisterOutcome {
			o.settle(key)
			switch {
			case r.taken:
				recordAttempt("register", "taken")
				return RegisterOutcome{Reason: ReasonAlreadyRegistered}
			case r.account == nil:
				recordAttempt("register", "unavailable")
				return RegisterOutcome{Reason: ReasonUnavailable}
			}

			recordAttempt("register", "success")
			o.record(key, source, ActionRegistration, true, "")
			if o.closing {
				if r.issued.Session != nil {
					o.discard(key, r.issued)
				}
				return RegisterOutcome{Success: true, Reason: ReasonShuttingDown}
			}
			if r.issued.Session == nil {
				return RegisterOutcome{Success: true, Reason: ReasonUnavailable}
			}

			o.issued[key] = issuedToken{token: r.issued.Token, source: source}
			if !o.isCurrent(conn) {
				return RegisterOutcome{Success: true}
			}
			r.account.LastIP = source
			r.account.LastLoginAt = r.issued.Session.CreatedAt
			o.authenticate(conn, r.account, r.issued)
			o.record(key, source, ActionAutoLogin, true, "")
			return RegisterOutcome{Success: true, Authenticated: true}
		})
		o.inflight[key] = settled(out)
		return out
	})
}

// authenticate caches account and releases conn. Runs on the loop.
func (o *Orchestrator) authenticate(conn *connection, account *Account, issued IssuedSession) {
	o.cache.Put(CacheEntry{
		Account:         account,
		Token:           issued.Token,
		TokenHash:       issued.Session.TokenHash,
		Source:          conn.source,
		AuthenticatedAt: o.clock.Now(),
		ExpiresAt:       issued.Session.ExpiresAt,
	})
	o.presenter.Release(conn.identity, account.Snapshot)
}

// Logout ends the session of id. Its snapshot is saved before the session is
// deactivated. Returns false if id was not authenticated.
func (o *Orchestrator) Logout(id Identity) *async.Future[bool] {
	return async.Start(o.loop, func() *async.Future[bool] {
		key := id.Key()
		entry, ok := o.cache.Remove(key)
		if !ok {
			return async.Resolved(false)
		}
		o.cancelEviction(key)
		delete(o.issued, key)

		snapshot := entry.Account.Snapshot
		source := entry.Source
		if conn := o.present[key]; conn != nil {
			if captured, ok := o.presenter.CaptureSnapshot(conn.identity); ok {
				snapshot = captured
			}
			o.presenter.Confine(conn.identity)
			o.presenter.Notify(conn.identity, NoticeLoggedOut)
			source = conn.source
		}
		o.record(key, source, ActionLogout, true, "")

		return o.persist(key, snapshot, func(ctx context.Context) {
			o.sessions.Deactivate(ctx, entry.Token)
		})
	})
}

// ForceLogout ends every session of username, whether or not it is
// connected. Returns false if there was nothing to end.
func (o *Orchestrator) ForceLogout(username string) *async.Future[bool] {
	return async.Start(o.loop, func() *async.Future[bool] {
		key := NormalizeUsername(username)
		entry, cached := o.cache.Remove(key)
		o.cancelEviction(key)
		delete(o.issued, key)

		var snapshot *Snapshot
		if cached {
			s := entry.Account.Snapshot
			snapshot = &s
		}
		if conn := o.present[key]; conn != nil && cached {
			if captured, ok := o.presenter.CaptureSnapshot(conn.identity); ok {
				snapshot = &captured
			}
			o.presenter.Confine(conn.identity)
			o.presenter.Notify(conn.identity, NoticeForcedLogout)
		}
		o.record(key, "", ActionForceLogout, true, "")

		var ended atomic.Int64
		var saved *async.Future[bool]
		deactivate := func(ctx context.Context) {
			ended.Store(o.sessions.DeactivateAll(ctx, key))
		}
		if snapshot != nil {
			saved = o.persist(key, *snapshot, deactivate)
		} else {
			saved = async.Then(o.after(key), o.bg, func(bool) bool {
				deactivate(context.Background())
				return true
			})
		}
		return async.Then(saved, async.Inline{}, func(bool) bool {
			return cached || ended.Load() > 0
		})
	})
}

// Disconnect records that id left. The snapshot is saved, and once the save
// completes the cache entry is kept for the disconnect grace period so a
// quick reconnect skips the store. The presentation layer must call it
// while the identity's state can still be captured.
func (o *Orchestrator) Disconnect(id Identity) *async.Future[bool] {
	return async.Start(o.loop, func() *async.Future[bool] {
		key := id.Key()
		conn := o.present[key]
		if conn == nil {
			return async.Resolved(false)
		}
		delete(o.present, key)
		o.connected.Add(-1)

		entry, ok := o.cache.Get(key)
		if !ok {
			o.cache.Remove(key)
			return async.Resolved(false)
		}
		snapshot := entry.Account.Snapshot
		if captured, ok := o.presenter.CaptureSnapshot(conn.identity); ok {
			snapshot = captured
			o.cache.UpdateSnapshot(key, captured)
		}

		saved := o.persist(key, snapshot, nil)
		async.Then(saved, o.loop, func(bool) struct{} {
			o.scheduleEviction(key)
			return struct{}{}
		})
		return saved
	})
}

// LinkExternalIdentity records an external identity for username.
func (o *Orchestrator) LinkExternalIdentity(username string, external uuid.UUID) *async.Future[bool] {
	key := NormalizeUsername(username)
	linked := async.Go(o.bg, func() bool {
		return o.credentials.LinkExternalIdentity(context.Background(), key, external)
	})
	return async.Then(linked, o.loop, func(ok bool) bool {
		if ok {
			o.cache.Update(key, func(a *Account) { a.ExternalIdentity = &external })
		}
		o.record(key, "", ActionLinkExternal, ok, external.String())
		return ok
	})
}

// Stats returns current counts.
func (o *Orchestrator) Stats() *async.Future[Stats] {
	return async.Go(o.bg, func() Stats {
		ctx := context.Background()
		return Stats{
			ActiveSessions:     o.sessions.CountActive(ctx),
			RegisteredAccounts: o.credentials.Count(ctx),
			CachedAccounts:     o.cache.Len(),
			Connected:          int(o.connected.Load()),
			ThrottledSources:   o.limiter.Len(),
		}
	})
}

// attach records a new connection of id, cancelling a pending eviction.
// Runs on the loop.
func (o *Orchestrator) attach(id Identity, source string) *connection {
	key := id.Key()
	if o.present[key] == nil {
		o.connected.Add(1)
	}
	conn := &connection{id: ulid.Make(), identity: id, source: source}
	o.present[key] = conn
	o.cancelEviction(key)
	return conn
}

// isCurrent reports whether conn is still the live connection of its
// identity. Runs on the loop.
func (o *Orchestrator) isCurrent(conn *connection) bool {
	cur := o.present[conn.identity.Key()]
	return cur != nil && cur.id == conn.id
}

// after returns the latest pending write for key, or a resolved future.
// Runs on the loop.
func (o *Orchestrator) after(key string) *async.Future[bool] {
	if w, ok := o.writes[key]; ok {
		return w
	}
	return async.Resolved(true)
}

// persist saves snapshot for key after any earlier write, then runs then.
// Later reads of the account wait for it. Runs on the loop.
func (o *Orchestrator) persist(key string, snapshot Snapshot, then func(ctx context.Context)) *async.Future[bool] {
	return o.chain(key, func(ctx context.Context) bool {
		ok := o.credentials.SaveSnapshot(ctx, key, snapshot)
		if then != nil {
			then(ctx)
		}
		return ok
	})
}

// discard deactivates a session issued to an operation whose result is not
// applied. Runs on the loop.
func (o *Orchestrator) discard(key string, issued IssuedSession) {
	o.chain(key, func(ctx context.Context) bool {
		return o.sessions.Deactivate(ctx, issued.Token)
	})
}

// chain runs write on the background executor after any earlier write for
// key. Runs on the loop.
func (o *Orchestrator) chain(key string, write func(ctx context.Context) bool) *async.Future[bool] {
	f := async.Then(o.after(key), o.bg, func(bool) bool {
		return write(context.Background())
	})
	o.writes[key] = f
	async.Then(f, o.loop, func(bool) struct{} {
		if o.writes[key] == f {
			delete(o.writes, key)
		}
		return struct{}{}
	})
	return f
}

// settle ends the per-key operation of key. Runs on the loop.
func (o *Orchestrator) settle(key string) {
	delete(o.pending, key)
	delete(o.inflight, key)
}

func settled[T any](f *async.Future[T]) *async.Future[struct{}] {
	return async.Then(f, async.Inline{}, func(T) struct{} { return struct{}{} })
}

// scheduleEviction removes the cache entry of key after the disconnect
// grace period unless the identity reconnects first. Runs on the loop.
func (o *Orchestrator) scheduleEviction(key string) {
	if o.present[key] != nil || o.closing {
		return
	}
	o.cancelEviction(key)
	if o.cfg.DisconnectGrace == 0 {
		o.cache.Remove(key)
		return
	}

	var timer clockwork.Timer
	timer = o.clock.AfterFunc(o.cfg.DisconnectGrace, func() {
		o.loop.Submit(func() {
			if o.evictions[key] != timer {
				return
			}
			delete(o.evictions, key)
			if o.present[key] == nil {
				o.cache.Remove(key)
			}
		})
	})
	o.evictions[key] = timer
}

// cancelEviction stops a scheduled eviction of key. Runs on the loop.
func (o *Orchestrator) cancelEviction(key string) {
	if timer, ok := o.evictions[key]; ok {
		timer.Stop()
		delete(o.evictions, key)
	}
}

func (o *Orchestrator) record(actor, source string, action ActionType, success bool, details string) {
	o.audit.Record(AuditRecord{
		Actor:   actor,
		Source:  source,
		Action:  action,
		Success: success,
		Details: details,
		At:      o.clock.Now(),
	})
}
