// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword

import (
	"context"
	"maps"

	"github.com/samber/oops"

	"github.com/holomush/emailpassword/internal/core"
)

// StartRegister issues a register key for an unbound email and mails it.
// The profile data is stored on the key with the email merged in.
func (s *Service) StartRegister(ctx context.Context, c Client, in StartRegisterInput) (err error) {
	ctx, done := s.begin(ctx, "start_register")
	defer done(&err)

	if err := ValidateInput(&in); err != nil {
		return err
	}
	if err := s.validator.Check(ctx, in.Email); err != nil {
		return err
	}

	userData := maps.Clone(in.UserData)
	if userData == nil {
		userData = make(map[string]any, 1)
	}
	userData["email"] = in.Email
	user := core.NewULID()

	var key *KeyGenerated
	err = s.commit(ctx, "start_register", actorOf(c), func(ctx context.Context, b *batch) error {
		if err := s.pin(ctx, b, EmailStream(in.Email)); err != nil {
			return err
		}
		if err := s.validator.Check(ctx, in.Email); err != nil {
			return err
		}
		k, err := s.newKey(b, KeyGenerated{
			Action:       ActionRegister,
			User:         user,
			Email:        in.Email,
			PasswordHash: in.PasswordHash,
			UserData:     userData,
		})
		key = k
		return err
	})
	if err != nil {
		return err
	}

	if err := s.sendMail(ctx, EmailRegister, in.Email, key.Key, userData); err != nil {
		return err
	}
	s.trigger(ctx, Trigger{Type: TriggerRegisterStart, User: user, Session: c.Session, UserData: userData})
	return nil
}

// ResendRegisterKey extends the live register key of an email and mails
// the same token again.
func (s *Service) ResendRegisterKey(ctx context.Context, c Client, in EmailInput) (err error) {
	ctx, done := s.begin(ctx, "resend_register_key")
	defer done(&err)

	if err := ValidateInput(&in); err != nil {
		return err
	}

	var key *Key
	err = s.commit(ctx, "resend_register_key", actorOf(c), func(ctx context.Context, b *batch) error {
		stream := EmailStream(in.Email)
		if err := s.pin(ctx, b, stream); err != nil {
			return err
		}
		live, err := s.keys.FindLive(ctx, HashEmail(in.Email), ActionRegister, s.now())
		if err != nil {
			return oops.With("operation", "find pending registrations").With("email", in.Email).Wrap(err)
		}
		if len(live) == 0 {
			return errNotFound("key", "email")
		}
		key = live[len(live)-1]
		b.emit(stream, EventKeyProlonged, KeyProlonged{Key: key.Key, Expire: s.now().Add(s.cfg.KeyTTL)})
		return nil
	})
	if err != nil {
		return err
	}

	return s.sendMail(ctx, EmailRegister, in.Email, key.Key, key.UserData)
}

// FinishRegister consumes a register key: it binds the email, creates the
// user and, when the caller has a session, logs it in.
func (s *Service) FinishRegister(ctx context.Context, c Client, in KeyInput) (_ *User, err error) {
	ctx, done := s.begin(ctx, "finish_register")
	defer done(&err)

	if err := ValidateInput(&in); err != nil {
		return nil, err
	}

	var (
		key      *Key
		loggedIn bool
	)
	err = s.commit(ctx, "finish_register", actorOf(c), func(ctx context.Context, b *batch) error {
		k, err := s.loadKey(ctx, b, in.Key, ActionRegister)
		if err != nil {
			return err
		}
		ident, err := s.getIdentity(ctx, k.Email)
		if err != nil {
			return err
		}
		if ident != nil {
			return errAlreadyAdded(k.Email)
		}

		emailStream, userStream := EmailStream(k.Email), UserStream(k.User)
		b.expect(userStream, 0)
		b.emit(emailStream, EventKeyUsed, KeyUsed{Key: k.Key})
		b.emit(emailStream, EventEmailPasswordCreated, EmailPasswordCreated{
			Email:        k.Email,
			User:         k.User,
			PasswordHash: k.PasswordHash,
		})
		b.emit(userStream, EventUserCreated, UserCreated{User: k.User, UserData: k.UserData})
		b.emit(userStream, EventLoginMethodAdded, LoginMethodChanged{User: k.User, Method: emailPasswordMethod(k.Email)})
		loggedIn = s.emitLogin(b, c, k.User, nil)
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
		return nil, errInternal("registered user missing from users view")
	}

	s.trigger(ctx, Trigger{Type: TriggerRegister, User: key.User, Session: c.Session, UserData: key.UserData})
	s.trigger(ctx, Trigger{Type: TriggerRegisterComplete, User: key.User, Session: c.Session, UserData: key.UserData})
	if loggedIn {
		s.trigger(ctx, Trigger{Type: TriggerLogin, User: key.User, Session: c.Session})
	}
	return user, nil
}
