// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/emailpassword/internal/config"
	"github.com/holomush/emailpassword/internal/xdg"
)

// NewRootCmd creates the root command. Every configuration key is also a
// persistent flag.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emailpassword",
		Short: "Email/password credential service",
		Long: `emailpassword manages email/password identities: registration,
connecting an email to an existing account, email change, password reset
and login, recorded as events in PostgreSQL.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (default: $XDG_CONFIG_HOME/emailpassword/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewRebuildCmd())
	cmd.AddCommand(NewKeyCmd())

	return cmd
}

// loadConfig resolves the configuration for a command. An explicit
// --config file must exist; the default one is optional.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
	}
	required := path != ""
	if path == "" {
		if path, err = xdg.ConfigFile(); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(path, required, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
