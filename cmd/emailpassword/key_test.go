// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/emailpassword/internal/config"
	"github.com/holomush/emailpassword/internal/core"
	ep "github.com/holomush/emailpassword/internal/emailpassword"
	"github.com/holomush/emailpassword/internal/emailpassword/memory"
	"github.com/holomush/emailpassword/internal/notify"
	"github.com/holomush/emailpassword/pkg/errutil"
)

type captureMailer struct {
	mu   sync.Mutex
	sent []ep.Email
}

func (m *captureMailer) Send(_ context.Context, email ep.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, email)
	return nil
}

// useMemoryBackend replaces openBackend with a single shared in-memory
// backend for the duration of the test.
func useMemoryBackend(t *testing.T, mailer ep.Mailer) *ep.Service {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	proj := memory.New()
	svc, err := ep.NewService(ep.Deps{
		Events:     core.NewMemoryEventStore(proj),
		Identities: proj,
		Keys:       proj.Keys(),
		Users:      proj.Users(),
		Mailer:     mailer,
		Triggers:   notify.NewLogTriggers(logger),
		Feed:       core.NewBroadcaster(),
	}, ep.DefaultConfig(), ep.WithLogger(logger))
	require.NoError(t, err)

	orig := openBackend
	openBackend = func(context.Context, *config.Config, *slog.Logger) (*backend, error) {
		return &backend{
			service: svc,
			ping:    func(context.Context) error { return nil },
			close:   func() {},
		}, nil
	}
	t.Cleanup(func() { openBackend = orig })
	return svc
}

func TestKeyCommand(t *testing.T) {
	t.Run("prints a pending registration key", func(t *testing.T) {
		isolateConfig(t)
		mailer := &captureMailer{}
		svc := useMemoryBackend(t, mailer)

		require.NoError(t, svc.StartRegister(context.Background(), ep.Client{}, ep.StartRegisterInput{
			Email: "ada@example.com", PasswordHash: "secret-hash",
		}))
		require.Len(t, mailer.sent, 1)

		output, err := execute(t, "--backend", "memory", "key", mailer.sent[0].Key)
		require.NoError(t, err)
		assert.Contains(t, output, "action: register")
		assert.Contains(t, output, "email: ada@example.com")
		assert.Contains(t, output, "used: false")
		assert.NotContains(t, output, "secret-hash")
	})

	t.Run("unknown key", func(t *testing.T) {
		isolateConfig(t)
		useMemoryBackend(t, &captureMailer{})

		_, err := execute(t, "--backend", "memory", "key", "nope")
		errutil.AssertErrorCode(t, err, ep.CodeNotFound)
	})

	t.Run("requires a token", func(t *testing.T) {
		isolateConfig(t)
		_, err := execute(t, "--backend", "memory", "key")
		require.Error(t, err)
	})
}

func TestNewBackend_Memory(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendMemory

	b, err := newBackend(context.Background(), &cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer b.close()

	require.NoError(t, b.ping(context.Background()))
	_, err = b.service.GetKey(context.Background(), ep.KeyInput{Key: "missing"})
	errutil.AssertErrorCode(t, err, ep.CodeNotFound)
}

func TestNewBackend_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "redis"

	_, err := newBackend(context.Background(), &cfg, slog.New(slog.DiscardHandler))
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestPrintKey(t *testing.T) {
	user := ulid.MustParse("01HZY3M7Q4J1K2N3P4R5S6T7V8")
	view := &ep.KeyView{
		Key:       "tok",
		Action:    ep.ActionEmailChange,
		Expire:    time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		OldEmail:  "old@x.com",
		NewEmail:  "new@x.com",
		User:      user,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	require.NoError(t, printKey(&buf, view))

	out := buf.String()
	assert.Contains(t, out, "key: tok")
	assert.Contains(t, out, "action: emailChange")
	assert.Contains(t, out, "oldEmail: old@x.com")
	assert.Contains(t, out, "newEmail: new@x.com")
	assert.Contains(t, out, "user: "+user.String())
	assert.NotContains(t, out, "userData", "empty fields are omitted")
}
