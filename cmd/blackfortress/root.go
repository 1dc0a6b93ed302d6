// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/blackfortress/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the blackfortress CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil, nil)
}

func newRootCmd(serveDeps *ServeDeps, migrateDeps *MigrateDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blackfortress",
		Short: "Blackfortress - account registration and login service",
		Long: `Blackfortress registers user accounts, verifies credentials with
brute-force lockout, and issues signed session tokens over HTTP.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd(serveDeps))
	cmd.AddCommand(newMigrateCmd(migrateDeps))
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadOptions builds config loader options for cmd.
func loadOptions(cmd *cobra.Command) config.Options {
	return config.Options{File: configFile, Flags: cmd.Flags()}
}
