// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/emailpassword/internal/core"
)

// IdentityView is the public form of an Identity. It never carries the
// password hash.
type IdentityView struct {
	Email     string    `json:"email" yaml:"email"`
	User      ulid.ULID `json:"user" yaml:"user"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// GetIdentity returns the binding of an email.
func (s *Service) GetIdentity(ctx context.Context, in EmailInput) (_ *IdentityView, err error) {
	ctx, done := s.begin(ctx, "get_identity")
	defer done(&err)

	if err := ValidateInput(&in); err != nil {
		return nil, err
	}
	ident, err := s.getIdentity(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, errNotFound("identity", "email")
	}
	return &IdentityView{
		Email:     ident.Email,
		User:      ident.User,
		CreatedAt: ident.CreatedAt,
		UpdatedAt: ident.UpdatedAt,
	}, nil
}

// CreateUserWithEmailPassword creates a user bound to an unbound email
// without a verification key.
func (s *Service) CreateUserWithEmailPassword(ctx context.Context, c Client, in CredentialsInput) (_ *User, err error) {
	ctx, done := s.begin(ctx, "create_user_with_email_password")
	defer done(&err)

	if err := ValidateInput(&in); err != nil {
		return nil, err
	}

	user := core.NewULID()
	err = s.commit(ctx, "create_user_with_email_password", actorOf(c), func(ctx context.Context, b *batch) error {
		emailStream, userStream := EmailStream(in.Email), UserStream(user)
		if err := s.pin(ctx, b, emailStream); err != nil {
			return err
		}
		if err := s.validator.Check(ctx, in.Email); err != nil {
			return err
		}
		b.expect(userStream, 0)
		b.emit(emailStream, EventEmailPasswordCreated, EmailPasswordCreated{Email: in.Email, User: user, PasswordHash: in.PasswordHash})
		b.emit(userStream, EventUserCreated, UserCreated{User: user, UserData: map[string]any{"email": in.Email}})
		b.emit(userStream, EventLoginMethodAdded, LoginMethodChanged{User: user, Method: emailPasswordMethod(in.Email)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	created, err := s.getUser(ctx, user)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, errInternal("created user missing from users view")
	}
	return created, nil
}

// CreateEmailPassword binds an unbound email to an existing user.
func (s *Service) CreateEmailPassword(ctx context.Context, c Client, in CreateEmailPasswordInput) (err error) {
	ctx, done := s.begin(ctx, "create_email_password")
	defer done(&err)

	if err := ValidateInput(&in); err != nil {
		return err
	}
	user, err := parseUserID(in.User)
	if err != nil {
		return err
	}

	return s.commit(ctx, "create_email_password", actorOf(c), func(ctx context.Context, b *batch) error {
		emailStream, userStream := EmailStream(in.Email), UserStream(user)
		if err := s.pin(ctx, b, emailStream); err != nil {
			return err
		}
		if err := s.pin(ctx, b, userStream); err != nil {
			return err
		}
		if err := s.validator.Check(ctx, in.Email); err != nil {
			return err
		}
		u, err := s.getUser(ctx, user)
		if err != nil {
			return err
		}
		if u == nil {
			return errNotFound("user", "user")
		}
		b.emit(emailStream, EventEmailPasswordCreated, EmailPasswordCreated{Email: in.Email, User: user, PasswordHash: in.PasswordHash})
		b.emit(userStream, EventLoginMethodAdded, LoginMethodChanged{User: user, Method: emailPasswordMethod(in.Email)})
		return nil
	})
}

// UpdateEmailPassword sets a new password on an email and every other
// email of the same user.
func (s *Service) UpdateEmailPassword(ctx context.Context, c Client, in CredentialsInput) (err error) {
	ctx, done := s.begin(ctx, "update_email_password")
	defer done(&err)

	if err := ValidateInput(&in); err != nil {
		return err
	}

	var user ulid.ULID
	err = s.commit(ctx, "update_email_password", actorOf(c), func(ctx context.Context, b *batch) error {
		if err := s.pin(ctx, b, EmailStream(in.Email)); err != nil {
			return err
		}
		ident, err := s.getIdentity(ctx, in.Email)
		if err != nil {
			return err
		}
		if ident == nil {
			return errNotFound("identity", "email")
		}
		user = ident.User
		return s.planPasswordChange(ctx, b, ident.User, in.PasswordHash, nil)
	})
	if err != nil {
		return err
	}

	s.trigger(ctx, Trigger{Type: TriggerPasswordChange, User: user, Session: c.Session})
	return nil
}

// DeleteEmailPassword unbinds an email.
func (s *Service) DeleteEmailPassword(ctx context.Context, c Client, in EmailInput) (err error) {
	ctx, done := s.begin(ctx, "delete_email_password")
	defer done(&err)

	if err := ValidateInput(&in); err != nil {
		return err
	}

	return s.commit(ctx, "delete_email_password", actorOf(c), func(ctx context.Context, b *batch) error {
		emailStream := EmailStream(in.Email)
		if err := s.pin(ctx, b, emailStream); err != nil {
			return err
		}
		ident, err := s.getIdentity(ctx, in.Email)
		if err != nil {
			return err
		}
		if ident == nil {
			return errNotFound("identity", "email")
		}
		userStream := UserStream(ident.User)
		if err := s.pin(ctx, b, userStream); err != nil {
			return err
		}
		u, err := s.getUser(ctx, ident.User)
		if err != nil {
			return err
		}
		if u == nil {
			return errNotFound("user", "")
		}
		b.emit(emailStream, EventEmailPasswordDeleted, EmailPasswordDeleted{Email: in.Email})
		b.emit(userStream, EventLoginMethodRemoved, LoginMethodChanged{User: ident.User, Method: emailPasswordMethod(in.Email)})
		return nil
	})
}

// OnUserDeleted removes every email bound to a deleted user.
func (s *Service) OnUserDeleted(ctx context.Context, in UserInput) (err error) {
	ctx, done := s.begin(ctx, "on_user_deleted")
	defer done(&err)

	if err := ValidateInput(&in); err != nil {
		return err
	}
	user, err := parseUserID(in.User)
	if err != nil {
		return err
	}

	return s.commit(ctx, "on_user_deleted", core.SystemActor, func(ctx context.Context, b *batch) error {
		userStream := UserStream(user)
		if err := s.pin(ctx, b, userStream); err != nil {
			return err
		}
		idents, err := s.listIdentities(ctx, user)
		if err != nil {
			return err
		}
		for _, ident := range idents {
			if err := s.pin(ctx, b, EmailStream(ident.Email)); err != nil {
				return err
			}
		}
		if idents, err = s.listIdentities(ctx, user); err != nil {
			return err
		}
		for _, ident := range idents {
			b.emit(EmailStream(ident.Email), EventEmailPasswordDeleted, EmailPasswordDeleted{Email: ident.Email})
		}
		b.emit(userStream, EventUserDeleted, UserDeleted{User: user})
		return nil
	})
}
