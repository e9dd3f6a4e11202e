// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"
)

// EmailStatus is what the projections know about an email.
type EmailStatus struct {
	Identity *Identity // nil when unbound
	Pending  []*Key    // live register keys
}

// Check decides whether the email can become the subject of a new binding.
func (st EmailStatus) Check(email string) error {
	if st.Identity != nil {
		return errAlreadyAdded(email)
	}
	if len(st.Pending) > 0 {
		return errRegistrationNotConfirmed(email)
	}
	return nil
}

// Validator answers whether an email is free for a new binding.
type Validator struct {
	identities IdentityRepository
	keys       KeyRepository
	now        func() time.Time
}

// NewValidator creates a Validator.
func NewValidator(identities IdentityRepository, keys KeyRepository, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{identities: identities, keys: keys, now: now}
}

// Lookup reads the identity and the pending register keys of email concurrently.
func (v *Validator) Lookup(ctx context.Context, email string) (EmailStatus, error) {
	var st EmailStatus
	now := v.now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ident, err := v.identities.Get(gctx, email)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return oops.With("operation", "get identity").With("email", email).Wrap(err)
		}
		st.Identity = ident
		return nil
	})
	g.Go(func() error {
		keys, err := v.keys.FindLive(gctx, HashEmail(email), ActionRegister, now)
		if err != nil {
			return oops.With("operation", "find pending registrations").With("email", email).Wrap(err)
		}
		st.Pending = keys
		return nil
	})
	if err := g.Wait(); err != nil {
		return EmailStatus{}, err
	}
	return st, nil
}

// Check runs Lookup and EmailStatus.Check.
func (v *Validator) Check(ctx context.Context, email string) error {
	st, err := v.Lookup(ctx, email)
	if err != nil {
		return err
	}
	return st.Check(email)
}

// CheckNewUserEmail is the pre-submission validation of a registration
// email. Its answer may be stale by the time the registration commits; the
// workflow re-checks while deciding.
func (s *Service) CheckNewUserEmail(ctx context.Context, in EmailInput) (err error) {
	ctx, done := s.begin(ctx, "check_new_user_email")
	defer done(&err)

	if err := ValidateInput(&in); err != nil {
		return err
	}
	return s.validator.Check(ctx, in.Email)
}
