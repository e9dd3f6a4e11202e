// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/emailpassword/internal/core"
	ep "github.com/holomush/emailpassword/internal/emailpassword"
	"github.com/holomush/emailpassword/internal/emailpassword/memory"
)

// mailbox records sent emails.
type mailbox struct {
	mu   sync.Mutex
	sent []ep.Email
}

func (m *mailbox) Send(_ context.Context, email ep.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, email)
	return nil
}

func (m *mailbox) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mailbox) last(t *testing.T) ep.Email {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no email sent")
	return m.sent[len(m.sent)-1]
}

// triggerLog records triggers.
type triggerLog struct {
	mu  sync.Mutex
	got []ep.Trigger
}

func (l *triggerLog) Trigger(_ context.Context, t ep.Trigger) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, t)
	return nil
}

func (l *triggerLog) types() []ep.TriggerType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ep.TriggerType, 0, len(l.got))
	for _, t := range l.got {
		out = append(out, t.Type)
	}
	return out
}

func (l *triggerLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = nil
}

// mockMailer is a mock for ep.Mailer.
type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, email ep.Email) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc      *ep.Service
	store    *core.MemoryEventStore
	proj     *memory.Projection
	mail     *mailbox
	triggers *triggerLog
	clock    *clock
	feed     *core.Broadcaster
}

type fixtureOption func(*ep.Config, *ep.Deps)

func withPolicy(p ep.ResetPolicy) fixtureOption {
	return func(c *ep.Config, _ *ep.Deps) { c.ThirdPartyResetPolicy = p }
}

func withMailer(m ep.Mailer) fixtureOption {
	return func(_ *ep.Config, d *ep.Deps) { d.Mailer = m }
}

func withEvents(wrap func(*core.MemoryEventStore) core.EventStore) fixtureOption {
	return func(_ *ep.Config, d *ep.Deps) { d.Events = wrap(d.Events.(*core.MemoryEventStore)) }
}

func newFixture(t *testing.T, extra []core.Projector, opts ...fixtureOption) *fixture {
	t.Helper()

	proj := memory.New()
	store := core.NewMemoryEventStore(append([]core.Projector{proj}, extra...)...)
	f := &fixture{
		store:    store,
		proj:     proj,
		mail:     &mailbox{},
		triggers: &triggerLog{},
		clock:    &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		feed:     core.NewBroadcaster(),
	}

	cfg := ep.Config{KeyTTL: 24 * time.Hour, CommitRetries: 5, CommitBackoff: time.Millisecond}
	deps := ep.Deps{
		Events:     store,
		Identities: proj,
		Keys:       proj.Keys(),
		Users:      proj.Users(),
		Mailer:     f.mail,
		Triggers:   f.triggers,
		Feed:       f.feed,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	svc, err := ep.NewService(deps, cfg,
		ep.WithClock(f.clock.now),
		ep.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func session(id string) ep.Client {
	return ep.Client{Session: id, IP: "10.0.0.1"}
}

// register runs a full registration and returns the new user.
func (f *fixture) register(t *testing.T, email, hash string) *ep.User {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.StartRegister(ctx, ep.Client{}, ep.StartRegisterInput{Email: email, PasswordHash: hash}))
	user, err := f.svc.FinishRegister(ctx, ep.Client{}, ep.KeyInput{Key: f.mail.last(t).Key})
	require.NoError(t, err)
	return user
}

// connect binds another email to an existing user.
func (f *fixture) connect(t *testing.T, user *ep.User, email, hash string) {
	t.Helper()
	ctx := context.Background()
	c := ep.Client{User: user.ID, Session: "s-connect"}
	require.NoError(t, f.svc.StartConnect(ctx, c, ep.CredentialsInput{Email: email, PasswordHash: hash}))
	_, err := f.svc.FinishConnect(ctx, ep.Client{}, ep.KeyInput{Key: f.mail.last(t).Key})
	require.NoError(t, err)
}

func (f *fixture) identity(t *testing.T, email string) *ep.Identity {
	t.Helper()
	ident, err := f.proj.Get(context.Background(), email)
	if err != nil {
		require.ErrorIs(t, err, ep.ErrNotFound)
		return nil
	}
	return ident
}

// eventsOf returns the types of the events in a stream.
func (f *fixture) eventsOf(t *testing.T, stream string) []core.EventType {
	t.Helper()
	events, err := f.store.Replay(context.Background(), stream, 0, 1000)
	require.NoError(t, err)
	out := make([]core.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func count(types []core.EventType, typ core.EventType) int {
	n := 0
	for _, t := range types {
		if t == typ {
			n++
		}
	}
	return n
}
