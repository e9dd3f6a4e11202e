// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/emailpassword/internal/core"
	ep "github.com/holomush/emailpassword/internal/emailpassword"
	"github.com/holomush/emailpassword/pkg/errutil"
)

func TestCreateUserWithEmailPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	user, err := f.svc.CreateUserWithEmailPassword(ctx, ep.Client{}, ep.CredentialsInput{Email: "a@x.com", PasswordHash: "H"})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", user.UserData["email"])

	_, err = f.svc.Login(ctx, session("s1"), ep.CredentialsInput{Email: "a@x.com", PasswordHash: "H"})
	require.NoError(t, err)

	_, err = f.svc.CreateUserWithEmailPassword(ctx, ep.Client{}, ep.CredentialsInput{Email: "a@x.com", PasswordHash: "H"})
	errutil.AssertErrorCode(t, err, ep.CodeAlreadyAdded)
}

func TestCreateEmailPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	user := f.register(t, "a@x.com", "H")

	t.Run("unknown user", func(t *testing.T) {
		err := f.svc.CreateEmailPassword(ctx, ep.Client{}, ep.CreateEmailPasswordInput{
			Email: "b@x.com", PasswordHash: "H", User: core.NewULID().String(),
		})
		errutil.AssertErrorField(t, err, ep.CodeNotFound, "user")
	})

	t.Run("binds to an existing user", func(t *testing.T) {
		require.NoError(t, f.svc.CreateEmailPassword(ctx, ep.Client{}, ep.CreateEmailPasswordInput{
			Email: "b@x.com", PasswordHash: "Hb", User: user.ID.String(),
		}))
		ident := f.identity(t, "b@x.com")
		require.NotNil(t, ident)
		assert.Equal(t, user.ID, ident.User)
	})

	t.Run("bound email", func(t *testing.T) {
		err := f.svc.CreateEmailPassword(ctx, ep.Client{}, ep.CreateEmailPasswordInput{
			Email: "a@x.com", PasswordHash: "H", User: user.ID.String(),
		})
		errutil.AssertErrorCode(t, err, ep.CodeAlreadyAdded)
	})
}

func TestUpdateEmailPassword_FansOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	user := f.register(t, "a@x.com", "H")
	f.connect(t, user, "b@x.com", "Hb")

	require.NoError(t, f.svc.UpdateEmailPassword(ctx, ep.Client{}, ep.CredentialsInput{Email: "b@x.com", PasswordHash: "H2"}))
	assert.Equal(t, "H2", f.identity(t, "a@x.com").PasswordHash)
	assert.Equal(t, "H2", f.identity(t, "b@x.com").PasswordHash)

	err := f.svc.UpdateEmailPassword(ctx, ep.Client{}, ep.CredentialsInput{Email: "c@x.com", PasswordHash: "H2"})
	errutil.AssertErrorCode(t, err, ep.CodeNotFound)
}

func TestDeleteEmailPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	user := f.register(t, "a@x.com", "H")

	require.NoError(t, f.svc.DeleteEmailPassword(ctx, ep.Client{}, ep.EmailInput{Email: "a@x.com"}))
	assert.Nil(t, f.identity(t, "a@x.com"))

	u, err := f.proj.Users().Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, u.LoginMethods)

	_, err = f.svc.Login(ctx, session("s1"), ep.CredentialsInput{Email: "a@x.com", PasswordHash: "H"})
	errutil.AssertErrorCode(t, err, ep.CodeNotFound)

	err = f.svc.DeleteEmailPassword(ctx, ep.Client{}, ep.EmailInput{Email: "a@x.com"})
	errutil.AssertErrorCode(t, err, ep.CodeNotFound)
}

func TestOnUserDeleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	user := f.register(t, "a@x.com", "H")
	f.connect(t, user, "b@x.com", "H")
	other := f.register(t, "c@x.com", "H")

	require.NoError(t, f.svc.OnUserDeleted(ctx, ep.UserInput{User: user.ID.String()}))

	assert.Nil(t, f.identity(t, "a@x.com"))
	assert.Nil(t, f.identity(t, "b@x.com"))
	assert.NotNil(t, f.identity(t, "c@x.com"))
	_, err := f.proj.Users().Get(ctx, user.ID)
	assert.ErrorIs(t, err, ep.ErrNotFound)
	_, err = f.proj.Users().Get(ctx, other.ID)
	assert.NoError(t, err)

	// The addresses are free again.
	assert.NoError(t, f.svc.CheckNewUserEmail(ctx, ep.EmailInput{Email: "a@x.com"}))
}

func TestGetIdentity_HidesPasswordHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	user := f.register(t, "a@x.com", "secret-hash")

	view, err := f.svc.GetIdentity(ctx, ep.EmailInput{Email: "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, view.User)

	data, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-hash")

	_, err = f.svc.GetIdentity(ctx, ep.EmailInput{Email: "b@x.com"})
	errutil.AssertErrorCode(t, err, ep.CodeNotFound)
}
