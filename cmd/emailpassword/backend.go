// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/emailpassword/internal/config"
	"github.com/holomush/emailpassword/internal/core"
	ep "github.com/holomush/emailpassword/internal/emailpassword"
	"github.com/holomush/emailpassword/internal/emailpassword/memory"
	"github.com/holomush/emailpassword/internal/emailpassword/postgres"
	"github.com/holomush/emailpassword/internal/notify"
	"github.com/holomush/emailpassword/internal/store"
)

// backend is a wired Service with the resources behind it.
type backend struct {
	service *ep.Service
	ping    func(ctx context.Context) error
	close   func()
}

// openBackend builds the Service for the configured backend. Tests replace
// it to avoid a database.
var openBackend = newBackend

func newBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	deps := ep.Deps{
		Mailer:   notify.NewLogMailer(logger),
		Triggers: notify.NewLogTriggers(logger),
		Feed:     core.NewBroadcaster(),
	}
	b := &backend{
		ping:  func(context.Context) error { return nil },
		close: func() {},
	}

	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		deps.Events = store.NewPostgresEventStore(pool, postgres.NewProjector())
		deps.Identities = postgres.NewIdentityRepository(pool)
		deps.Keys = postgres.NewKeyRepository(pool)
		deps.Users = postgres.NewUserRepository(pool)
		b.ping = pool.Ping
		b.close = pool.Close
	case config.BackendMemory:
		proj := memory.New()
		deps.Events = core.NewMemoryEventStore(proj)
		deps.Identities = proj
		deps.Keys = proj.Keys()
		deps.Users = proj.Users()
	default:
		return nil, oops.Code("CONFIG_INVALID").With("key", "backend").Errorf("unknown backend %q", cfg.Backend)
	}

	svc, err := ep.NewService(deps, cfg.Service(), ep.WithLogger(logger))
	if err != nil {
		b.close()
		return nil, oops.Code("SERVICE_INIT_FAILED").Wrap(err)
	}
	b.service = svc
	return b, nil
}
