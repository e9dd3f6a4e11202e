// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword

import (
	"context"

	"github.com/holomush/emailpassword/internal/core"
	"github.com/holomush/emailpassword/pkg/errutil"
)

// Login failure reasons recorded on login-failed events.
const (
	ReasonUnknownEmail  = "unknownEmail"
	ReasonWrongPassword = "wrongPassword"
)

// Login checks an email and password hash. On success the caller's session,
// if any, is logged in and the user returned.
func (s *Service) Login(ctx context.Context, c Client, in CredentialsInput) (_ *User, err error) {
	ctx, done := s.begin(ctx, "login")
	defer done(&err)

	if err := ValidateInput(&in); err != nil {
		return nil, err
	}

	st, err := s.validator.Lookup(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	ident := st.Identity
	switch {
	case ident == nil && len(st.Pending) > 0:
		return nil, errRegistrationNotConfirmed(in.Email)
	case ident == nil:
		s.audit(ctx, c, ReasonUnknownEmail, in.Email)
		return nil, errNotFound("identity", "email")
	case !hashesEqual(ident.PasswordHash, in.PasswordHash):
		s.audit(ctx, c, ReasonWrongPassword, in.Email)
		return nil, errWrongPassword("passwordHash")
	}

	user, err := s.getUser(ctx, ident.User)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errInternal("identity references missing user")
	}

	var loggedIn bool
	err = s.commit(ctx, "login", actorOf(c), func(_ context.Context, b *batch) error {
		loggedIn = s.emitLogin(b, c, user.ID, user.Roles)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if loggedIn {
		s.trigger(ctx, Trigger{Type: TriggerLogin, User: user.ID, Session: c.Session})
	}
	return user, nil
}

// audit records a login-failed security event and forwards it to the
// trigger sink. It runs on every credential failure path, before the error
// is returned.
func (s *Service) audit(ctx context.Context, c Client, reason, email string) {
	RecordLoginFailure(reason)

	record := LoginFailed{Reason: reason, Email: email, IP: c.IP, Session: c.Session}
	if c.Authenticated() {
		record.User = c.User.String()
	}

	e, err := core.NewEvent(SecurityStream, EventLoginFailed, actorOf(c), record)
	if err == nil {
		err = s.events.Append(ctx, core.Append{
			Stream:          SecurityStream,
			ExpectedVersion: core.AnyVersion,
			Events:          []core.Event{e},
		})
	}
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to record security event", err, "reason", reason)
	}

	s.trigger(ctx, Trigger{
		Type:     TriggerSecurityEvent,
		User:     c.User,
		Session:  c.Session,
		Security: &record,
	})
}
