// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/gatehouse/internal/config"
	"github.com/holomush/gatehouse/internal/logging"
)

const serviceName = "gatehouse"

// NewRootCmd creates the root command for the gatehouse CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   serviceName,
		Short: "gatehouse - account authentication for a live multi-user world",
		Long: `gatehouse keeps unauthenticated users confined until they log in or
register, restores sessions on reconnect, throttles failed attempts per
source address and persists world snapshots on logout and shutdown.`,
		SilenceUsage: true,
	}

	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(deps))
	cmd.AddCommand(newMigrateCmd(deps))
	cmd.AddCommand(newAdminCmd(deps))

	return cmd
}

// loadConfig loads configuration from the command's flags and builds the
// logger it names.
func loadConfig(cmd *cobra.Command, deps *Deps) (*config.Config, *slog.Logger, error) {
	opts := config.OptionsFromFlags(cmd.Flags())
	opts.Getenv = deps.Getenv

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // config errors carry codes
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // validated by Load
	}
	return cfg, logging.Setup(serviceName, version, cfg.Log.Format, level, cmd.ErrOrStderr()), nil
}

// loadDatabaseConfig is loadConfig for commands that need the database.
func loadDatabaseConfig(cmd *cobra.Command, deps *Deps) (*config.Config, *slog.Logger, error) {
	cfg, logger, err := loadConfig(cmd, deps)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, nil, err //nolint:wrapcheck // config errors carry codes
	}
	return cfg, logger, nil
}
