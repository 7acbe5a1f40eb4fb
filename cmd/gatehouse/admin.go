// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/internal/config"
)

func newAdminCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator commands against the account store",
		Long: `Operator commands that act on the store directly. A running server
keeps its in-memory cache; a forced logout there takes effect at its next
maintenance pass.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "force-logout USERNAME",
		Short: "End every active session of USERNAME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, deps, func(ctx context.Context, s *adminServices) error {
				return runForceLogout(ctx, cmd, s, args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show registered accounts and active sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, deps, func(ctx context.Context, s *adminServices) error {
				return runStats(ctx, cmd, s)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "info USERNAME",
		Short: "Show registration, last login and session of USERNAME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, deps, func(ctx context.Context, s *adminServices) error {
				return runInfo(ctx, cmd, s, args[0])
			})
		},
	})

	return cmd
}

// errStoreUnavailable reports a store fault that the services already logged.
var errStoreUnavailable = oops.Code("STORE_UNAVAILABLE").Errorf("the store is unavailable, see the log for details")

type adminServices struct {
	credentials *auth.CredentialService
	sessions    *auth.SessionService
}

func withServices(cmd *cobra.Command, deps *Deps, fn func(context.Context, *adminServices) error) error {
	cfg, logger, err := loadDatabaseConfig(cmd, deps)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	repos, err := deps.OpenRepositories(ctx, cfg, logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	defer repos.Close()

	s, err := newAdminServices(cfg, repos, deps, logger)
	if err != nil {
		return err
	}
	return fn(ctx, s)
}

func newAdminServices(cfg *config.Config, repos *Repositories, deps *Deps, logger *slog.Logger) (*adminServices, error) {
	svcCfg := auth.ServiceConfig{
		Clock:   deps.Clock,
		Logger:  logger,
		Timeout: cfg.StoreTimeout,
	}
	credentials, err := auth.NewCredentialService(repos.Accounts, auth.NewBcryptHasher(cfg.Security.WorkFactor), svcCfg)
	if err != nil {
		return nil, err //nolint:wrapcheck // constructor errors are descriptive
	}
	sessions, err := auth.NewSessionService(repos.Sessions, cfg.Session.TTL, svcCfg)
	if err != nil {
		return nil, err //nolint:wrapcheck // constructor errors are descriptive
	}
	return &adminServices{credentials: credentials, sessions: sessions}, nil
}

func runForceLogout(ctx context.Context, cmd *cobra.Command, s *adminServices, username string) error {
	key := auth.NormalizeUsername(username)
	if !s.credentials.IsRegistered(ctx, key) {
		return oops.Code("ACCOUNT_NOT_FOUND").With("username", key).Errorf("no account named %q", key)
	}
	ended := s.sessions.DeactivateAll(ctx, key)
	if ended < 0 {
		return errStoreUnavailable
	}
	cmd.Printf("Ended %d session(s) for %s\n", ended, key)
	return nil
}

func runStats(ctx context.Context, cmd *cobra.Command, s *adminServices) error {
	accounts := s.credentials.Count(ctx)
	sessions := s.sessions.CountActive(ctx)
	if accounts < 0 || sessions < 0 {
		return errStoreUnavailable
	}
	cmd.Printf("Registered accounts: %d\n", accounts)
	cmd.Printf("Active sessions:     %d\n", sessions)
	return nil
}

func runInfo(ctx context.Context, cmd *cobra.Command, s *adminServices, username string) error {
	key := auth.NormalizeUsername(username)
	account := s.credentials.Load(ctx, key)
	if account == nil {
		return oops.Code("ACCOUNT_NOT_FOUND").With("username", key).Errorf("no account named %q", key)
	}

	cmd.Printf("Username:      %s\n", account.Username)
	cmd.Printf("Registered:    %s\n", account.RegisteredAt.UTC().Format(time.RFC3339))
	if account.LastLoginAt.IsZero() {
		cmd.Println("Last login:    never")
	} else {
		cmd.Printf("Last login:    %s from %s\n", account.LastLoginAt.UTC().Format(time.RFC3339), account.LastIP)
	}
	if account.ExternalIdentity != nil {
		cmd.Printf("External ID:   %s\n", account.ExternalIdentity)
	}

	if session, ok := s.sessions.Active(ctx, key); ok {
		cmd.Printf("Session:       active from %s until %s\n",
			session.SourceAddress, session.ExpiresAt.UTC().Format(time.RFC3339))
	} else {
		cmd.Println("Session:       none")
	}
	return nil
}
