// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/emailpassword/internal/core"
	ep "github.com/holomush/emailpassword/internal/emailpassword"
	"github.com/holomush/emailpassword/internal/store"
)

// Projector folds emailpassword events into the read model tables.
type Projector struct{}

// NewProjector creates a Projector.
func NewProjector() *Projector {
	return &Projector{}
}

// ProjectTx applies events with tx. Events of unknown types are skipped.
func (p *Projector) ProjectTx(ctx context.Context, tx pgx.Tx, events ...core.Event) error {
	for _, e := range events {
		payload, err := ep.DecodePayload(e)
		if err != nil {
			return err
		}
		if payload == nil {
			continue
		}
		if err := apply(ctx, tx, e, payload); err != nil {
			return oops.With("event_id", e.ID.String()).
				With("type", string(e.Type)).
				Wrap(err)
		}
	}
	return nil
}

func apply(ctx context.Context, tx pgx.Tx, e core.Event, payload any) error {
	switch ev := payload.(type) {
	case *ep.KeyGenerated:
		k := ep.KeyFromEvent(ev, e.Timestamp)
		return exec(ctx, tx,
			`INSERT INTO email_keys (key, action, expire, email, old_email, new_email, email_hash,
				user_id, password_hash, user_data, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (key) DO NOTHING`,
			k.Key, string(k.Action), k.Expire, k.Email, k.OldEmail, k.NewEmail, k.EmailHash,
			k.User.String(), k.PasswordHash, k.UserData, k.CreatedAt)
	case *ep.KeyProlonged:
		return exec(ctx, tx, `UPDATE email_keys SET expire = $2 WHERE key = $1`, ev.Key, ev.Expire)
	case *ep.KeyUsed:
		return exec(ctx, tx, `UPDATE email_keys SET used = TRUE WHERE key = $1`, ev.Key)
	case *ep.EmailPasswordCreated:
		return exec(ctx, tx,
			`INSERT INTO email_passwords (email, password_hash, user_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $4)`,
			ev.Email, ev.PasswordHash, ev.User.String(), e.Timestamp)
	case *ep.EmailPasswordUpdated:
		return exec(ctx, tx,
			`UPDATE email_passwords SET password_hash = $2, updated_at = $3 WHERE email = $1`,
			ev.Email, ev.PasswordHash, e.Timestamp)
	case *ep.EmailPasswordDeleted:
		return exec(ctx, tx, `DELETE FROM email_passwords WHERE email = $1`, ev.Email)
	case *ep.UserCreated:
		roles := ev.Roles
		if roles == nil {
			roles = []string{}
		}
		return exec(ctx, tx,
			`INSERT INTO users (id, user_data, roles, created_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO NOTHING`,
			ev.User.String(), ev.UserData, roles, e.Timestamp)
	case *ep.UserDeleted:
		if err := exec(ctx, tx, `DELETE FROM user_login_methods WHERE user_id = $1`, ev.User.String()); err != nil {
			return err
		}
		return exec(ctx, tx, `DELETE FROM users WHERE id = $1`, ev.User.String())
	case *ep.LoginMethodChanged:
		// Re-adding a method moves it to the end of the list.
		if err := exec(ctx, tx,
			`DELETE FROM user_login_methods WHERE user_id = $1 AND type = $2 AND method_id = $3`,
			ev.User.String(), ev.Method.Type, ev.Method.ID); err != nil {
			return err
		}
		if e.Type != ep.EventLoginMethodAdded {
			return nil
		}
		return exec(ctx, tx,
			`INSERT INTO user_login_methods (user_id, type, method_id, email)
			 SELECT $1, $2, $3, $4 WHERE EXISTS (SELECT 1 FROM users WHERE id = $1)`,
			ev.User.String(), ev.Method.Type, ev.Method.ID, ev.Method.Email)
	}
	return nil
}

func exec(ctx context.Context, tx pgx.Tx, sql string, args ...any) error {
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return err //nolint:wrapcheck // callers attach event context
	}
	return nil
}

// Reset empties the read model tables, ahead of a rebuild.
func Reset(ctx context.Context, pool store.Pool) error {
	if _, err := pool.Exec(ctx,
		`TRUNCATE email_passwords, email_keys, users, user_login_methods`); err != nil {
		return oops.Code("PROJECTION_RESET_FAILED").Wrap(err)
	}
	return nil
}

// Replayer adapts a Projector to core.Projector for core.Rebuild. Every
// page is applied in its own transaction.
type Replayer struct {
	pool      store.Pool
	projector *Projector
}

// NewReplayer creates a Replayer.
func NewReplayer(pool store.Pool, projector *Projector) *Replayer {
	return &Replayer{pool: pool, projector: projector}
}

// Project applies events in a fresh transaction.
func (r *Replayer) Project(ctx context.Context, events ...core.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := r.projector.ProjectTx(ctx, tx, events...); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ store.TxProjector = (*Projector)(nil)
	_ core.Projector    = (*Replayer)(nil)
)
