// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements the emailpassword read models on PostgreSQL.
// Tables are written by Projector inside the event store's append
// transaction and read through the repositories.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	ep "github.com/holomush/emailpassword/internal/emailpassword"
	"github.com/holomush/emailpassword/internal/store"
)

// IdentityRepository reads the email_passwords table.
type IdentityRepository struct {
	pool store.Pool
}

// NewIdentityRepository creates an IdentityRepository.
func NewIdentityRepository(pool store.Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

const selectIdentity = `SELECT email, password_hash, user_id, created_at, updated_at FROM email_passwords`

// Get returns the identity bound to email.
func (r *IdentityRepository) Get(ctx context.Context, email string) (*ep.Identity, error) {
	row := r.pool.QueryRow(ctx, selectIdentity+` WHERE email = $1`, email)
	id, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ep.ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_QUERY_FAILED").With("email", email).Wrap(err)
	}
	return id, nil
}

// ListByUser returns the identities of a user, oldest first.
func (r *IdentityRepository) ListByUser(ctx context.Context, user ulid.ULID) ([]*ep.Identity, error) {
	rows, err := r.pool.Query(ctx,
		selectIdentity+` WHERE user_id = $1 ORDER BY created_at, email`, user.String())
	if err != nil {
		return nil, oops.Code("IDENTITY_QUERY_FAILED").With("user", user.String()).Wrap(err)
	}
	defer rows.Close()

	var out []*ep.Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, oops.Code("IDENTITY_QUERY_FAILED").With("user", user.String()).Wrap(err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("IDENTITY_QUERY_FAILED").With("user", user.String()).Wrap(err)
	}
	return out, nil
}

func scanIdentity(row pgx.Row) (*ep.Identity, error) {
	var (
		id   ep.Identity
		user string
	)
	if err := row.Scan(&id.Email, &id.PasswordHash, &user, &id.CreatedAt, &id.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := ulid.Parse(user)
	if err != nil {
		return nil, oops.Code("IDENTITY_CORRUPT").With("user", user).Wrap(err)
	}
	id.User = parsed
	return &id, nil
}

// KeyRepository reads the email_keys table.
type KeyRepository struct {
	pool store.Pool
}

// NewKeyRepository creates a KeyRepository.
func NewKeyRepository(pool store.Pool) *KeyRepository {
	return &KeyRepository{pool: pool}
}

const selectKey = `SELECT key, action, used, expire, email, old_email, new_email, email_hash,
	user_id, password_hash, user_data, created_at FROM email_keys`

// Get returns the key for a token.
func (r *KeyRepository) Get(ctx context.Context, key string) (*ep.Key, error) {
	k, err := scanKey(r.pool.QueryRow(ctx, selectKey+` WHERE key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ep.ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("KEY_QUERY_FAILED").Wrap(err)
	}
	return k, nil
}

// FindLive returns the live keys of an action for a subject email hash.
func (r *KeyRepository) FindLive(ctx context.Context, emailHash string, action ep.KeyAction, now time.Time) ([]*ep.Key, error) {
	rows, err := r.pool.Query(ctx,
		selectKey+` WHERE email_hash = $1 AND action = $2 AND NOT used AND expire > $3 ORDER BY created_at`,
		emailHash, string(action), now)
	if err != nil {
		return nil, oops.Code("KEY_QUERY_FAILED").With("action", string(action)).Wrap(err)
	}
	defer rows.Close()

	var out []*ep.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, oops.Code("KEY_QUERY_FAILED").With("action", string(action)).Wrap(err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("KEY_QUERY_FAILED").With("action", string(action)).Wrap(err)
	}
	return out, nil
}

func scanKey(row pgx.Row) (*ep.Key, error) {
	var (
		k      ep.Key
		action string
		user   string
	)
	if err := row.Scan(&k.Key, &action, &k.Used, &k.Expire, &k.Email, &k.OldEmail, &k.NewEmail,
		&k.EmailHash, &user, &k.PasswordHash, &k.UserData, &k.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := ulid.Parse(user)
	if err != nil {
		return nil, oops.Code("KEY_CORRUPT").With("user", user).Wrap(err)
	}
	k.Action = ep.KeyAction(action)
	k.User = parsed
	return &k, nil
}

// UserRepository reads the users and user_login_methods tables.
type UserRepository struct {
	pool store.Pool
}

// NewUserRepository creates a UserRepository.
func NewUserRepository(pool store.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Get returns a user with its login methods in the order they were added.
func (r *UserRepository) Get(ctx context.Context, id ulid.ULID) (*ep.User, error) {
	u := ep.User{ID: id}
	err := r.pool.QueryRow(ctx,
		`SELECT user_data, roles, created_at FROM users WHERE id = $1`, id.String()).
		Scan(&u.UserData, &u.Roles, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ep.ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").With("user", id.String()).Wrap(err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT type, method_id, email FROM user_login_methods WHERE user_id = $1 ORDER BY position`,
		id.String())
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").With("user", id.String()).Wrap(err)
	}
	defer rows.Close()

	for rows.Next() {
		var m ep.LoginMethod
		if err := rows.Scan(&m.Type, &m.ID, &m.Email); err != nil {
			return nil, oops.Code("USER_QUERY_FAILED").With("user", id.String()).Wrap(err)
		}
		u.LoginMethods = append(u.LoginMethods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").With("user", id.String()).Wrap(err)
	}
	return &u, nil
}

// FindByLoginEmail returns the user owning a login method with email.
func (r *UserRepository) FindByLoginEmail(ctx context.Context, email string) (*ep.User, error) {
	var user string
	err := r.pool.QueryRow(ctx,
		`SELECT user_id FROM user_login_methods WHERE email = $1 ORDER BY position LIMIT 1`, email).
		Scan(&user)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ep.ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").With("email", email).Wrap(err)
	}
	id, err := ulid.Parse(user)
	if err != nil {
		return nil, oops.Code("USER_CORRUPT").With("user", user).Wrap(err)
	}
	return r.Get(ctx, id)
}

// Compile-time interface checks.
var (
	_ ep.IdentityRepository = (*IdentityRepository)(nil)
	_ ep.KeyRepository      = (*KeyRepository)(nil)
	_ ep.UserRepository     = (*UserRepository)(nil)
)
