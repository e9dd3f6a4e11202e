// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/emailpassword/internal/config"
	"github.com/holomush/emailpassword/internal/core"
	"github.com/holomush/emailpassword/internal/emailpassword/postgres"
	"github.com/holomush/emailpassword/internal/store"
)

// NewRebuildCmd creates the rebuild subcommand.
func NewRebuildCmd() *cobra.Command {
	var pageSize int

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the read model from the event log",
		Long: `Empty the PostgreSQL read model tables and replay every event into them.
Stop the service first: writes made during a rebuild may be lost.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			n, err := runRebuild(cmd.Context(), cfg, pageSize)
			if err != nil {
				return err
			}
			cmd.Printf("Replayed %d event(s)\n", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&pageSize, "page-size", core.DefaultRebuildPageSize, "events per replay transaction")

	return cmd
}

func runRebuild(ctx context.Context, cfg *config.Config, pageSize int) (int, error) {
	if cfg.Backend != config.BackendPostgres {
		return 0, oops.Code("CONFIG_INVALID").With("key", "backend").
			Errorf("rebuild requires the postgres backend")
	}

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return 0, err
	}
	defer pool.Close()

	if err := postgres.Reset(ctx, pool); err != nil {
		return 0, err
	}
	events := store.NewPostgresEventStore(pool)
	return core.Rebuild(ctx, events, pageSize, postgres.NewReplayer(pool, postgres.NewProjector()))
}
