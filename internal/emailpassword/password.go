// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword

import (
	"context"
	"errors"
	"slices"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/emailpassword/internal/core"
)

// StartPasswordReset issues a reset key for a bound email and mails it.
func (s *Service) StartPasswordReset(ctx context.Context, c Client, in EmailInput) (err error) {
	ctx, done := s.begin(ctx, "start_password_reset")
	defer done(&err)

	if err := ValidateInput(&in); err != nil {
		return err
	}

	var key *KeyGenerated
	err = s.commit(ctx, "start_password_reset", actorOf(c), func(ctx context.Context, b *batch) error {
		if err := s.pin(ctx, b, EmailStream(in.Email)); err != nil {
			return err
		}
		st, err := s.validator.Lookup(ctx, in.Email)
		if err != nil {
			return err
		}
		if st.Identity == nil {
			if len(st.Pending) > 0 {
				return errRegistrationNotConfirmed(in.Email)
			}
			return s.unknownResetEmail(ctx, in.Email)
		}

		user, err := s.getUser(ctx, st.Identity.User)
		if err != nil {
			return err
		}
		if user == nil {
			return errInternal("identity references missing user")
		}

		k, err := s.newKey(b, KeyGenerated{
			Action: ActionResetPassword,
			User:   user.ID,
			Email:  in.Email,
		})
		key = k
		return err
	})
	if err != nil {
		return err
	}

	return s.sendMail(ctx, EmailResetPassword, in.Email, key.Key, map[string]any{"email": in.Email})
}

// unknownResetEmail builds the failure for resetting an unbound email.
func (s *Service) unknownResetEmail(ctx context.Context, email string) error {
	if s.cfg.ThirdPartyResetPolicy == ResetPolicyHint {
		user, err := s.users.FindByLoginEmail(ctx, email)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return oops.With("operation", "find user by login email").With("email", email).Wrap(err)
		default:
			for _, m := range user.LoginMethods {
				if m.Email == email && m.Type != LoginMethodEmailPassword {
					return errThirdPartyLogin(email, m.Type)
				}
			}
		}
	}
	return errNotFound("identity", "email")
}

// FinishPasswordReset consumes a reset key and sets the new password on
// every email owned by the key's user.
func (s *Service) FinishPasswordReset(ctx context.Context, c Client, in FinishPasswordResetInput) (err error) {
	ctx, done := s.begin(ctx, "finish_password_reset")
	defer done(&err)

	if err := ValidateInput(&in); err != nil {
		return err
	}

	var user ulid.ULID
	err = s.commit(ctx, "finish_password_reset", actorOf(c), func(ctx context.Context, b *batch) error {
		k, err := s.loadKey(ctx, b, in.Key, ActionResetPassword)
		if err != nil {
			return err
		}
		ident, err := s.getIdentity(ctx, k.Email)
		if err != nil {
			return err
		}
		if ident == nil {
			return errNotFound("identity", "email")
		}

		b.emit(EmailStream(k.Email), EventKeyUsed, KeyUsed{Key: k.Key})
		user = ident.User
		return s.planPasswordChange(ctx, b, ident.User, in.PasswordHash, nil)
	})
	if err != nil {
		return err
	}

	s.trigger(ctx, Trigger{Type: TriggerPasswordChange, User: user, Session: c.Session})
	return nil
}

// planPasswordChange emits EmailPasswordUpdated for every identity of user
// and userPasswordChanged on the user stream. verify, if set, sees the
// identities first and can veto the whole change.
func (s *Service) planPasswordChange(ctx context.Context, b *batch, user ulid.ULID, hash string, verify func([]*Identity) error) error {
	if err := s.pin(ctx, b, UserStream(user)); err != nil {
		return err
	}
	idents, err := s.listIdentities(ctx, user)
	if err != nil {
		return err
	}
	if len(idents) == 0 {
		return errNotFound("identity", "")
	}
	for _, ident := range idents {
		if err := s.pin(ctx, b, EmailStream(ident.Email)); err != nil {
			return err
		}
	}
	// Re-read so the hashes are no older than the pinned versions.
	if idents, err = s.listIdentities(ctx, user); err != nil {
		return err
	}

	if verify != nil {
		if err := verify(idents); err != nil {
			return err
		}
	}
	for _, ident := range idents {
		b.emit(EmailStream(ident.Email), EventEmailPasswordUpdated, EmailPasswordUpdated{Email: ident.Email, PasswordHash: hash})
	}
	b.emit(UserStream(user), EventUserPasswordChanged, UserPasswordChanged{User: user})
	return nil
}

func (s *Service) listIdentities(ctx context.Context, user ulid.ULID) ([]*Identity, error) {
	idents, err := s.identities.ListByUser(ctx, user)
	if err != nil {
		return nil, oops.With("operation", "list identities").With("user_id", user.String()).Wrap(err)
	}
	return idents, nil
}

// OnPasswordChange sets a user's password on all of their emails.
func (s *Service) OnPasswordChange(ctx context.Context, in PasswordChangeInput) (err error) {
	ctx, done := s.begin(ctx, "on_password_change")
	defer done(&err)

	if err := ValidateInput(&in); err != nil {
		return err
	}
	user, err := parseUserID(in.User)
	if err != nil {
		return err
	}

	return s.commit(ctx, "on_password_change", core.SystemActor, func(ctx context.Context, b *batch) error {
		return s.planPasswordChange(ctx, b, user, in.PasswordHash, nil)
	})
}

// UpdatePasswordByUser checks the old password on one of the caller's
// emails, then sets the new password on every email of the caller.
func (s *Service) UpdatePasswordByUser(ctx context.Context, c Client, in UpdatePasswordInput) (err error) {
	ctx, done := s.begin(ctx, "update_password")
	defer done(&err)

	if !c.Authenticated() {
		return errNotAuthorized()
	}
	if err := ValidateInput(&in); err != nil {
		return err
	}

	err = s.commit(ctx, "update_password", actorOf(c), func(ctx context.Context, b *batch) error {
		if err := s.pin(ctx, b, EmailStream(in.Email)); err != nil {
			return err
		}
		ident, err := s.getIdentity(ctx, in.Email)
		if err != nil {
			return err
		}
		switch {
		case ident == nil:
			return errNotFound("identity", "email")
		case ident.User != c.User:
			return errNotAuthorized()
		}
		return s.planPasswordChange(ctx, b, c.User, in.NewPasswordHash, func(idents []*Identity) error {
			i := slices.IndexFunc(idents, func(id *Identity) bool { return id.Email == in.Email })
			if i < 0 {
				return errNotFound("identity", "email")
			}
			if !hashesEqual(idents[i].PasswordHash, in.OldPasswordHash) {
				return errWrongPassword("oldPasswordHash")
			}
			return nil
		})
	})
	if IsCode(err, CodeWrongPassword) {
		s.audit(ctx, c, ReasonWrongPassword, in.Email)
	}
	if err != nil {
		return err
	}

	s.trigger(ctx, Trigger{Type: TriggerPasswordChange, User: c.User, Session: c.Session})
	return nil
}

// UpdateAllPasswordsByUser changes the password of every email of the
// caller. Every identity must match the old password or nothing changes.
func (s *Service) UpdateAllPasswordsByUser(ctx context.Context, c Client, in UpdateAllPasswordsInput) (err error) {
	ctx, done := s.begin(ctx, "update_all_passwords")
	defer done(&err)

	if !c.Authenticated() {
		return errNotAuthorized()
	}
	if err := ValidateInput(&in); err != nil {
		return err
	}

	err = s.commit(ctx, "update_all_passwords", actorOf(c), func(ctx context.Context, b *batch) error {
		return s.planPasswordChange(ctx, b, c.User, in.NewPasswordHash, func(idents []*Identity) error {
			for _, ident := range idents {
				if !hashesEqual(ident.PasswordHash, in.OldPasswordHash) {
					return errWrongPassword("oldPasswordHash")
				}
			}
			return nil
		})
	})
	if IsCode(err, CodeWrongPassword) {
		s.audit(ctx, c, ReasonWrongPassword, "")
	}
	if err != nil {
		return err
	}

	s.trigger(ctx, Trigger{Type: TriggerPasswordChange, User: c.User, Session: c.Session})
	return nil
}
