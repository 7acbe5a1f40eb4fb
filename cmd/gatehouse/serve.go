// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatehouse/internal/async"
	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/internal/auth/postgres"
	"github.com/holomush/gatehouse/internal/config"
	"github.com/holomush/gatehouse/internal/observability"
	"github.com/holomush/gatehouse/internal/store"
)

// shutdownTimeout bounds the whole shutdown sequence.
const shutdownTimeout = 30 * time.Second

func newServeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication orchestrator",
		Long: `Connect to the store, start the action loop, the background pool and
the maintenance pass, and serve metrics and health probes until SIGINT or
SIGTERM. On shutdown, snapshots of authenticated identities are saved and
every active session is ended.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadDatabaseConfig(cmd, deps)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger, deps)
		},
	}
}

// server is a running gatehouse process.
type server struct {
	cfg    *config.Config
	logger *slog.Logger

	store        *store.Store
	audit        *postgres.AuditWriter
	loop         *async.Loop
	pool         *async.Pool
	orchestrator *auth.Orchestrator
	observer     *observability.Server
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *Deps) error {
	logger.Info("starting gatehouse", "version", version, "workers", cfg.Workers)

	st, err := deps.OpenStore(ctx, storeConfig(cfg, logger))
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}

	s, err := newServer(cfg, logger, st, deps)
	if err != nil {
		st.Close()
		return err
	}
	return s.run(ctx)
}

func newServer(cfg *config.Config, logger *slog.Logger, st *store.Store, deps *Deps) (*server, error) {
	s := &server{
		cfg:    cfg,
		logger: logger,
		store:  st,
		loop:   async.NewLoop(logger.With("component", "loop")),
		pool:   async.NewPool(cfg.Workers, logger.With("component", "pool")),
	}
	s.audit = postgres.NewAuditWriter(st, postgres.AuditWriterConfig{
		Clock:  deps.Clock,
		Logger: logger.With("component", "security_log"),
	})

	svcCfg := auth.ServiceConfig{
		Clock:      deps.Clock,
		Logger:     logger.With("component", "store"),
		Timeout:    cfg.StoreTimeout,
		Background: s.pool,
	}
	credentials, err := auth.NewCredentialService(
		postgres.NewAccountRepository(st, postgres.WithAccountLogger(logger.With("component", "accounts"))),
		auth.NewBcryptHasher(cfg.Security.WorkFactor), svcCfg)
	if err != nil {
		return nil, err //nolint:wrapcheck // constructor errors are descriptive
	}
	sessions, err := auth.NewSessionService(postgres.NewSessionRepository(st), cfg.Session.TTL, svcCfg)
	if err != nil {
		return nil, err //nolint:wrapcheck // constructor errors are descriptive
	}

	s.orchestrator, err = auth.NewOrchestrator(cfg.Orchestrator(), auth.Deps{
		Credentials: credentials,
		Sessions:    sessions,
		Limiter: auth.NewRateLimiter(auth.RateLimiterConfig{
			MaxAttempts:   cfg.Security.MaxLoginAttempts,
			BlockDuration: cfg.Security.LoginBlockDuration,
			Clock:         deps.Clock,
			Audit:         s.audit,
		}),
		Cache:       auth.NewSessionCache(deps.Clock),
		Presenter:   newLogPresenter(logger),
		Loop:        s.loop,
		Background:  s.pool,
		Audit:       s.audit,
		AuditPruner: s.audit,
		Clock:       deps.Clock,
		Logger:      logger.With("component", "orchestrator"),
		Seal: func() auth.SessionRepository {
			st.Seal()
			return postgres.NewSessionRepository(st.Privileged())
		},
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // constructor errors are descriptive
	}

	if cfg.Metrics.Addr != "" {
		s.observer = observability.NewServer(cfg.Metrics.Addr, st.Ping, logger.With("component", "observability"),
			observability.BuildInfo(version),
			auth.RegisterMetrics,
			postgres.RegisterMetrics,
		)
	}
	return s, nil
}

func (s *server) run(ctx context.Context) error {
	loopDone := make(chan error, 1)
	go func() { loopDone <- s.loop.Run(context.Background()) }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.observer != nil {
		errCh, err := s.observer.Start()
		if err != nil {
			cancel()
			s.shutdown(loopDone)
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, errCh, s.logger)
	}

	maintenanceDone := make(chan struct{})
	go func() {
		defer close(maintenanceDone)
		//nolint:errcheck // returns nil on cancellation
		s.orchestrator.RunMaintenanceLoop(ctx, s.cfg.Maintenance.Interval)
	}()

	s.logger.Info("gatehouse ready",
		"session_ttl", s.cfg.Session.TTL,
		"maintenance_interval", s.cfg.Maintenance.Interval,
		"metrics_addr", s.cfg.Metrics.Addr)

	<-ctx.Done()
	s.logger.Info("shutting down")
	<-maintenanceDone
	return s.shutdown(loopDone)
}

// shutdown saves state, ends sessions and releases every resource in
// dependency order.
func (s *server) shutdown(loopDone <-chan error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var result error
	if err := s.orchestrator.Shutdown(ctx); err != nil {
		s.logger.Error("orchestrator shutdown incomplete", "error", err)
		result = err
	}

	if s.observer != nil {
		if err := s.observer.Stop(ctx); err != nil {
			s.logger.Warn("failed to stop observability server", "error", err)
		}
	}

	s.loop.Stop()
	select {
	case <-loopDone:
	case <-ctx.Done():
		s.logger.Warn("action loop did not drain before the deadline")
	}

	if err := s.pool.Close(ctx); err != nil {
		s.logger.Warn("background pool did not drain before the deadline", "error", err)
	}
	if err := s.audit.Close(ctx); err != nil {
		s.logger.Warn("security log writer did not flush before the deadline", "error", err)
	}
	s.store.Close()

	s.logger.Info("gatehouse stopped")
	return result
}

// monitorServerErrors cancels the server when a listener fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, logger *slog.Logger) {
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok && err != nil {
			logger.Error("observability server failed, shutting down", "error", err)
			cancel()
		}
	}
}
