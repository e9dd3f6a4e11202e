// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword

import (
	"context"
)

// StartConnect issues a connect key binding an email to the authenticated
// caller's existing account.
func (s *Service) StartConnect(ctx context.Context, c Client, in CredentialsInput) (err error) {
	ctx, done := s.begin(ctx, "start_connect")
	defer done(&err)

	if !c.Authenticated() {
		return errNotAuthorized()
	}
	if err := ValidateInput(&in); err != nil {
		return err
	}

	var key *KeyGenerated
	err = s.commit(ctx, "start_connect", actorOf(c), func(ctx context.Context, b *batch) error {
		if err := s.pin(ctx, b, EmailStream(in.Email)); err != nil {
			return err
		}
		if err := s.pin(ctx, b, UserStream(c.User)); err != nil {
			return err
		}

		st, err := s.validator.Lookup(ctx, in.Email)
		if err != nil {
			return err
		}
		if st.Identity != nil {
			if st.Identity.User == c.User {
				return errAlreadyConnected(in.Email)
			}
			return errTaken("email", in.Email)
		}
		if err := st.Check(in.Email); err != nil {
			return err
		}

		user, err := s.getUser(ctx, c.User)
		if err != nil {
			return err
		}
		if user == nil {
			return errNotFound("user", "")
		}

		k, err := s.newKey(b, KeyGenerated{
			Action:       ActionConnect,
			User:         c.User,
			Email:        in.Email,
			PasswordHash: in.PasswordHash,
		})
		key = k
		return err
	})
	if err != nil {
		return err
	}

	return s.sendMail(ctx, EmailConnect, in.Email, key.Key, map[string]any{"email": in.Email})
}

// FinishConnect consumes a connect key. The email is bound to the user
// stored on the key, whoever the caller is.
func (s *Service) FinishConnect(ctx context.Context, c Client, in KeyInput) (_ *User, err error) {
	ctx, done := s.begin(ctx, "finish_connect")
	defer done(&err)

	if err := ValidateInput(&in); err != nil {
		return nil, err
	}

	var (
		key      *Key
		loggedIn bool
	)
	err = s.commit(ctx, "finish_connect", actorOf(c), func(ctx context.Context, b *batch) error {
		k, err := s.loadKey(ctx, b, in.Key, ActionConnect)
		if err != nil {
			return err
		}
		userStream := UserStream(k.User)
		if err := s.pin(ctx, b, userStream); err != nil {
			return err
		}

		ident, err := s.getIdentity(ctx, k.Email)
		if err != nil {
			return err
		}
		if ident != nil {
			return errAlreadyAdded(k.Email)
		}
		user, err := s.getUser(ctx, k.User)
		if err != nil {
			return err
		}
		if user == nil {
			return errNotFound("user", "")
		}

		emailStream := EmailStream(k.Email)
		b.emit(emailStream, EventKeyUsed, KeyUsed{Key: k.Key})
		b.emit(emailStream, EventEmailPasswordCreated, EmailPasswordCreated{
			Email:        k.Email,
			User:         k.User,
			PasswordHash: k.PasswordHash,
		})
		b.emit(userStream, EventLoginMethodAdded, LoginMethodChanged{User: k.User, Method: emailPasswordMethod(k.Email)})
		loggedIn = s.emitLogin(b, c, k.User, user.Roles)
		key = k
		return nil
	})
	if err != nil {
		return nil, err
	}

	user, err := s.getUser(ctx, key.User)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errInternal("connected user missing from users view")
	}
	if loggedIn {
		s.trigger(ctx, Trigger{Type: TriggerLogin, User: key.User, Session: c.Session})
	}
	return user, nil
}
