// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword

import (
	"context"

	"github.com/samber/oops"
)

// StartEmailChange issues an email change key for the caller's current
// email after re-checking their password. The key is mailed to the new
// address.
func (s *Service) StartEmailChange(ctx context.Context, c Client, in StartEmailChangeInput) (err error) {
	ctx, done := s.begin(ctx, "start_email_change")
	defer done(&err)

	if !c.Authenticated() {
		return errNotAuthorized()
	}
	if err := ValidateInput(&in); err != nil {
		return err
	}

	var key *KeyGenerated
	err = s.commit(ctx, "start_email_change", actorOf(c), func(ctx context.Context, b *batch) error {
		if err := s.pin(ctx, b, UserStream(c.User)); err != nil {
			return err
		}
		idents, err := s.identities.ListByUser(ctx, c.User)
		if err != nil {
			return oops.With("operation", "list identities").With("user_id", c.User.String()).Wrap(err)
		}
		if len(idents) == 0 {
			return errNotFound("identity", "")
		}

		oldEmail := idents[0].Email
		if err := s.pin(ctx, b, EmailStream(oldEmail)); err != nil {
			return err
		}
		if err := s.pin(ctx, b, EmailStream(in.NewEmail)); err != nil {
			return err
		}

		taken, err := s.getIdentity(ctx, in.NewEmail)
		if err != nil {
			return err
		}
		if taken != nil {
			return errTaken("newEmail", in.NewEmail)
		}
		old, err := s.getIdentity(ctx, oldEmail)
		if err != nil {
			return err
		}
		if old == nil {
			return errNotFound("identity", "")
		}
		if old.User != c.User {
			return errNotAuthorized()
		}
		if !hashesEqual(old.PasswordHash, in.PasswordHash) {
			return errWrongPassword("passwordHash")
		}

		k, err := s.newKey(b, KeyGenerated{
			Action:   ActionEmailChange,
			User:     c.User,
			OldEmail: old.Email,
			NewEmail: in.NewEmail,
		})
		key = k
		return err
	})
	if IsCode(err, CodeWrongPassword) {
		s.audit(ctx, c, ReasonWrongPassword, "")
	}
	if err != nil {
		return err
	}

	return s.sendMail(ctx, EmailChange, in.NewEmail, key.Key, map[string]any{
		"oldEmail": key.OldEmail,
		"newEmail": key.NewEmail,
	})
}

// FinishEmailChange consumes an email change key, moving the caller's
// binding from the old email to the new one in a single commit.
func (s *Service) FinishEmailChange(ctx context.Context, c Client, in KeyInput) (err error) {
	ctx, done := s.begin(ctx, "finish_email_change")
	defer done(&err)

	if err := ValidateInput(&in); err != nil {
		return err
	}

	return s.commit(ctx, "finish_email_change", actorOf(c), func(ctx context.Context, b *batch) error {
		k, err := s.loadKey(ctx, b, in.Key, ActionEmailChange)
		if err != nil {
			return err
		}
		oldStream, newStream, userStream := EmailStream(k.OldEmail), EmailStream(k.NewEmail), UserStream(k.User)
		if err := s.pin(ctx, b, oldStream); err != nil {
			return err
		}
		if err := s.pin(ctx, b, userStream); err != nil {
			return err
		}

		taken, err := s.getIdentity(ctx, k.NewEmail)
		if err != nil {
			return err
		}
		if taken != nil {
			return errTaken("newEmail", k.NewEmail)
		}
		old, err := s.getIdentity(ctx, k.OldEmail)
		if err != nil {
			return err
		}
		if old == nil || old.User != k.User {
			return errNotFound("identity", "oldEmail")
		}

		b.emit(newStream, EventEmailPasswordCreated, EmailPasswordCreated{
			Email:        k.NewEmail,
			User:         k.User,
			PasswordHash: old.PasswordHash,
		})
		b.emit(newStream, EventKeyUsed, KeyUsed{Key: k.Key})
		b.emit(oldStream, EventEmailPasswordDeleted, EmailPasswordDeleted{Email: k.OldEmail})
		b.emit(userStream, EventLoginMethodAdded, LoginMethodChanged{User: k.User, Method: emailPasswordMethod(k.NewEmail)})
		b.emit(userStream, EventLoginMethodRemoved, LoginMethodChanged{User: k.User, Method: emailPasswordMethod(k.OldEmail)})
		return nil
	})
}
