// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory folds emailpassword events into in-memory read models.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/emailpassword/internal/core"
	ep "github.com/holomush/emailpassword/internal/emailpassword"
)

type indexKey struct {
	emailHash string
	action    ep.KeyAction
}

// Projection holds identities, keys and users. It is a core.Projector and
// implements the emailpassword repositories.
type Projection struct {
	mu         sync.RWMutex
	identities map[string]*ep.Identity
	keys       map[string]*ep.Key
	index      map[indexKey][]string // tokens in generation order
	users      map[ulid.ULID]*ep.User
}

// New creates an empty projection.
func New() *Projection {
	return &Projection{
		identities: make(map[string]*ep.Identity),
		keys:       make(map[string]*ep.Key),
		index:      make(map[indexKey][]string),
		users:      make(map[ulid.ULID]*ep.User),
	}
}

// Project decodes every event first and then applies them under one lock.
func (p *Projection) Project(_ context.Context, events ...core.Event) error {
	payloads := make([]any, len(events))
	for i, e := range events {
		payload, err := ep.DecodePayload(e)
		if err != nil {
			return err
		}
		payloads[i] = payload
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range events {
		p.apply(e.Timestamp, payloads[i], e.Type)
	}
	return nil
}

func (p *Projection) apply(at time.Time, payload any, typ core.EventType) {
	switch ev := payload.(type) {
	case *ep.KeyGenerated:
		k := ep.KeyFromEvent(ev, at)
		p.keys[k.Key] = k
		ik := indexKey{emailHash: k.EmailHash, action: k.Action}
		p.index[ik] = append(p.index[ik], k.Key)
	case *ep.KeyProlonged:
		if k, ok := p.keys[ev.Key]; ok {
			k.Expire = ev.Expire
		}
	case *ep.KeyUsed:
		if k, ok := p.keys[ev.Key]; ok {
			k.Used = true
		}
	case *ep.EmailPasswordCreated:
		p.identities[ev.Email] = &ep.Identity{
			Email:        ev.Email,
			PasswordHash: ev.PasswordHash,
			User:         ev.User,
			CreatedAt:    at,
			UpdatedAt:    at,
		}
	case *ep.EmailPasswordUpdated:
		if ident, ok := p.identities[ev.Email]; ok {
			ident.PasswordHash = ev.PasswordHash
			ident.UpdatedAt = at
		}
	case *ep.EmailPasswordDeleted:
		delete(p.identities, ev.Email)
	case *ep.UserCreated:
		p.users[ev.User] = &ep.User{
			ID:        ev.User,
			UserData:  ev.UserData,
			Roles:     ev.Roles,
			CreatedAt: at,
		}
	case *ep.UserDeleted:
		delete(p.users, ev.User)
	case *ep.LoginMethodChanged:
		u, ok := p.users[ev.User]
		if !ok {
			return
		}
		u.LoginMethods = slices.DeleteFunc(u.LoginMethods, func(m ep.LoginMethod) bool {
			return m.Type == ev.Method.Type && m.ID == ev.Method.ID
		})
		if typ == ep.EventLoginMethodAdded {
			u.LoginMethods = append(u.LoginMethods, ev.Method)
		}
	}
}

// Get returns the identity bound to email.
func (p *Projection) Get(_ context.Context, email string) (*ep.Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ident, ok := p.identities[email]
	if !ok {
		return nil, ep.ErrNotFound
	}
	out := *ident
	return &out, nil
}

// ListByUser returns the identities of a user, oldest first.
func (p *Projection) ListByUser(_ context.Context, user ulid.ULID) ([]*ep.Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*ep.Identity
	for _, ident := range p.identities {
		if ident.User == user {
			c := *ident
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *ep.Identity) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Email, b.Email)
	})
	return out, nil
}

// Keys returns the key repository view of the projection.
func (p *Projection) Keys() ep.KeyRepository { return keyRepo{p} }

// Users returns the user repository view of the projection.
func (p *Projection) Users() ep.UserRepository { return userRepo{p} }

type keyRepo struct{ p *Projection }

func copyKey(k *ep.Key) *ep.Key {
	out := *k
	out.UserData = maps.Clone(k.UserData)
	return &out
}

func (r keyRepo) Get(_ context.Context, key string) (*ep.Key, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	k, ok := r.p.keys[key]
	if !ok {
		return nil, ep.ErrNotFound
	}
	return copyKey(k), nil
}

func (r keyRepo) FindLive(_ context.Context, emailHash string, action ep.KeyAction, now time.Time) ([]*ep.Key, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var out []*ep.Key
	for _, token := range r.p.index[indexKey{emailHash: emailHash, action: action}] {
		if k := r.p.keys[token]; k.LiveAt(now) {
			out = append(out, copyKey(k))
		}
	}
	return out, nil
}

type userRepo struct{ p *Projection }

func copyUser(u *ep.User) *ep.User {
	out := *u
	out.UserData = maps.Clone(u.UserData)
	out.Roles = slices.Clone(u.Roles)
	out.LoginMethods = slices.Clone(u.LoginMethods)
	return &out
}

func (r userRepo) Get(_ context.Context, id ulid.ULID) (*ep.User, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	u, ok := r.p.users[id]
	if !ok {
		return nil, ep.ErrNotFound
	}
	return copyUser(u), nil
}

func (r userRepo) FindByLoginEmail(_ context.Context, email string) (*ep.User, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, u := range r.p.users {
		for _, m := range u.LoginMethods {
			if m.Email == email {
				return copyUser(u), nil
			}
		}
	}
	return nil, ep.ErrNotFound
}

// Compile-time interface checks.
var (
	_ core.Projector        = (*Projection)(nil)
	_ ep.IdentityRepository = (*Projection)(nil)
	_ ep.KeyRepository      = keyRepo{}
	_ ep.UserRepository     = userRepo{}
)
