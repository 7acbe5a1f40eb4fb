// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jonboulle/clockwork"

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/internal/auth/postgres"
	"github.com/holomush/gatehouse/internal/config"
	"github.com/holomush/gatehouse/internal/store"
)

// Migrator is the part of store.Migrator the migrate commands drive.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Status() (store.Status, error)
	Close() error
}

// Repositories are the account and session repositories the admin commands
// read and write.
type Repositories struct {
	Accounts auth.AccountRepository
	Sessions auth.SessionRepository
	close    func()
}

// Close releases the connection behind the repositories.
func (r *Repositories) Close() {
	if r.close != nil {
		r.close()
	}
}

// Deps contains injectable dependencies for the commands.
// Nil fields use their default implementations.
type Deps struct {
	// NewMigrator creates a migrator for a database URL.
	// Default: store.NewMigrator
	NewMigrator func(databaseURL string) (Migrator, error)

	// OpenStore connects to the database.
	// Default: store.Open
	OpenStore func(ctx context.Context, cfg store.Config) (*store.Store, error)

	// OpenRepositories connects the admin commands to the database.
	// Default: OpenStore wrapped in the postgres repositories
	OpenRepositories func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Repositories, error)

	// Getenv reads the environment.
	// Default: os.Getenv
	Getenv func(string) string

	// Clock drives every timer.
	// Default: the real clock
	Clock clockwork.Clock
}

func (d *Deps) withDefaults() *Deps {
	if d == nil {
		d = &Deps{}
	}
	if d.NewMigrator == nil {
		d.NewMigrator = func(url string) (Migrator, error) {
			return store.NewMigrator(url) //nolint:wrapcheck // store errors carry codes
		}
	}
	if d.OpenStore == nil {
		d.OpenStore = store.Open
	}
	if d.OpenRepositories == nil {
		d.OpenRepositories = func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Repositories, error) {
			st, err := d.OpenStore(ctx, storeConfig(cfg, logger))
			if err != nil {
				return nil, err
			}
			return &Repositories{
				Accounts: postgres.NewAccountRepository(st),
				Sessions: postgres.NewSessionRepository(st),
				close:    st.Close,
			}, nil
		}
	}
	if d.Getenv == nil {
		d.Getenv = os.Getenv
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	return d
}

func storeConfig(cfg *config.Config, logger *slog.Logger) store.Config {
	return store.Config{
		URL:             cfg.Database.URL,
		ConnectAttempts: cfg.Database.ConnectAttempts,
		MaxConns:        int32(min(cfg.Workers+2, 64)), //nolint:gosec // bounded above
		Logger:          logger,
	}
}
