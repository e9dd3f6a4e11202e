// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"io"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	ep "github.com/holomush/emailpassword/internal/emailpassword"
)

// NewKeyCmd creates the key subcommand.
func NewKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key <token>",
		Short: "Show a verification key",
		Long: `Show the state of a verification key as YAML. Password hashes are
never printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			b, err := openBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer b.close()

			view, err := b.service.GetKey(cmd.Context(), ep.KeyInput{Key: args[0]})
			if err != nil {
				return err
			}
			return printKey(cmd.OutOrStdout(), view)
		},
	}
}

func printKey(w io.Writer, view *ep.KeyView) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	if err := enc.Close(); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	return nil
}
