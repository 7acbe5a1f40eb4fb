// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func newMigrateCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
		Long: `Apply or roll back the embedded schema migrations. With no
subcommand, applies all pending migrations.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, runMigrateUp)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, runMigrateUp)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long: `Roll back the most recent migration, or --steps of them. --all
rolls back everything and drops every gatehouse table.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, err := cmd.Flags().GetBool("all")
			if err != nil {
				return err //nolint:wrapcheck // flag is registered below
			}
			return withMigrator(cmd, deps, func(cmd *cobra.Command, m Migrator) error {
				return runMigrateDown(cmd, m, steps, all)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	down.Flags().Bool("all", false, "roll back every migration")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, runMigrateVersion)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it",
		Long: `Record VERSION as the applied schema version and clear the dirty
flag. Use it to recover after a migration failed partway and the schema was
repaired by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").With("version", args[0]).Wrap(err)
			}
			return withMigrator(cmd, deps, func(cmd *cobra.Command, m Migrator) error {
				return runMigrateForce(cmd, m, v)
			})
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, deps *Deps, fn func(*cobra.Command, Migrator) error) error {
	cfg, logger, err := loadDatabaseConfig(cmd, deps)
	if err != nil {
		return err
	}

	m, err := deps.NewMigrator(cfg.Database.URL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	return fn(cmd, m)
}

func runMigrateUp(cmd *cobra.Command, m Migrator) error {
	before, _, err := m.Version()
	if err != nil {
		return err //nolint:wrapcheck // migrator errors carry codes
	}
	if err := m.Up(); err != nil {
		return err //nolint:wrapcheck // migrator errors carry codes
	}
	after, _, err := m.Version()
	if err != nil {
		return err //nolint:wrapcheck // migrator errors carry codes
	}

	if after == before {
		cmd.Printf("Schema is up to date at version %d\n", after)
		return nil
	}
	cmd.Printf("Migrated from version %d to %d\n", before, after)
	return nil
}

func runMigrateDown(cmd *cobra.Command, m Migrator, steps int, all bool) error {
	if all {
		if err := m.Down(); err != nil {
			return err //nolint:wrapcheck // migrator errors carry codes
		}
		cmd.Println("Rolled back all migrations")
		return nil
	}
	if steps < 1 {
		return oops.Code("INVALID_STEPS").With("steps", steps).Errorf("--steps must be at least 1")
	}
	if err := m.Steps(-steps); err != nil {
		return err //nolint:wrapcheck // migrator errors carry codes
	}
	v, _, err := m.Version()
	if err != nil {
		return err //nolint:wrapcheck // migrator errors carry codes
	}
	cmd.Printf("Rolled back %d migration(s), now at version %d\n", steps, v)
	return nil
}

func runMigrateVersion(cmd *cobra.Command, m Migrator) error {
	st, err := m.Status()
	if err != nil {
		return err //nolint:wrapcheck // migrator errors carry codes
	}

	name := st.Name
	if name == "" {
		name = "none"
	}
	cmd.Printf("Version: %d (%s)\n", st.Version, name)
	if st.Dirty {
		cmd.Println("State:   dirty, repair the schema and run 'migrate force'")
	}
	if len(st.Pending) == 0 {
		cmd.Println("Pending: none")
		return nil
	}
	cmd.Printf("Pending: %v\n", st.Pending)
	return nil
}

func runMigrateForce(cmd *cobra.Command, m Migrator, version int) error {
	if err := m.Force(version); err != nil {
		return err //nolint:wrapcheck // migrator errors carry codes
	}
	cmd.Printf("Forced schema version to %d\n", version)
	return nil
}
