// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/holomush/emailpassword/internal/core"
	"github.com/holomush/emailpassword/pkg/errutil"
)

var tracer = otel.Tracer("emailpassword")

// ResetPolicy decides how password reset treats an email known only
// through a third-party login method.
type ResetPolicy string

// Reset policies.
const (
	ResetPolicyHint   ResetPolicy = "hint"   // fail THIRD_PARTY_LOGIN naming the method
	ResetPolicyIgnore ResetPolicy = "ignore" // fail NOT_FOUND like any unknown email
)

// Config holds the tunables of the Service.
type Config struct {
	KeyTTL                time.Duration
	CommitRetries         uint64
	CommitBackoff         time.Duration
	ThirdPartyResetPolicy ResetPolicy
}

// Defaults.
const (
	DefaultKeyTTL        = 24 * time.Hour
	DefaultCommitRetries = 5
	DefaultCommitBackoff = 10 * time.Millisecond
)

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		KeyTTL:                DefaultKeyTTL,
		CommitRetries:         DefaultCommitRetries,
		CommitBackoff:         DefaultCommitBackoff,
		ThirdPartyResetPolicy: ResetPolicyHint,
	}
}

// Deps are the collaborators of the Service. Feed is optional.
type Deps struct {
	Events     core.EventStore
	Identities IdentityRepository
	Keys       KeyRepository
	Users      UserRepository
	Mailer     Mailer
	Triggers   TriggerSink
	Feed       *core.Broadcaster
}

// Service runs the credential workflows.
type Service struct {
	events     core.EventStore
	identities IdentityRepository
	keys       KeyRepository
	users      UserRepository
	mailer     Mailer
	triggers   TriggerSink
	feed       *core.Broadcaster
	validator  *Validator

	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a Service. Zero config values take their defaults.
func NewService(deps Deps, cfg Config, opts ...Option) (*Service, error) {
	switch {
	case deps.Events == nil:
		return nil, oops.Errorf("event store is required")
	case deps.Identities == nil:
		return nil, oops.Errorf("identity repository is required")
	case deps.Keys == nil:
		return nil, oops.Errorf("key repository is required")
	case deps.Users == nil:
		return nil, oops.Errorf("user repository is required")
	case deps.Mailer == nil:
		return nil, oops.Errorf("mailer is required")
	case deps.Triggers == nil:
		return nil, oops.Errorf("trigger sink is required")
	}

	def := DefaultConfig()
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = def.KeyTTL
	}
	if cfg.CommitRetries == 0 {
		cfg.CommitRetries = def.CommitRetries
	}
	if cfg.CommitBackoff <= 0 {
		cfg.CommitBackoff = def.CommitBackoff
	}
	if cfg.ThirdPartyResetPolicy == "" {
		cfg.ThirdPartyResetPolicy = def.ThirdPartyResetPolicy
	}

	s := &Service{
		events:     deps.Events,
		identities: deps.Identities,
		keys:       deps.Keys,
		users:      deps.Users,
		mailer:     deps.Mailer,
		triggers:   deps.Triggers,
		feed:       deps.Feed,
		cfg:        cfg,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.validator = NewValidator(s.identities, s.keys, s.now)
	return s, nil
}

// isDomainError reports whether err is one of the taxonomy errors returned
// to callers, as opposed to an infrastructure failure.
func isDomainError(err error) bool {
	switch Code(err) {
	case CodeNotFound, CodeAlreadyAdded, CodeTaken, CodeAlreadyConnected,
		CodeRegistrationNotConfirmed, CodeExpired, CodeAlreadyUsed,
		CodeKeyTypeMismatch, CodeWrongPassword, CodeNotAuthorized,
		CodeInvalidInput, CodeThirdPartyLogin, CodeConcurrentModification:
		return true
	}
	return false
}

// begin opens the span of a workflow step. The returned func must be
// deferred with a pointer to the step's named error result.
func (s *Service) begin(ctx context.Context, op string) (context.Context, func(*error)) {
	ctx, span := tracer.Start(ctx, "emailpassword."+op)
	start := time.Now()

	return ctx, func(errp *error) {
		defer span.End()

		status := StatusSuccess
		if err := *errp; err != nil {
			code := Code(err)
			span.SetAttributes(attribute.String("emailpassword.code", code))
			if isDomainError(err) {
				status = StatusFailure
				s.logger.InfoContext(ctx, "operation rejected", "operation", op, "code", code)
			} else {
				status = StatusError
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				errutil.LogErrorContext(ctx, s.logger, "operation failed", err, "operation", op)
			}
		}
		RecordOperation(op, status, time.Since(start))
	}
}

func actorOf(c Client) core.Actor {
	switch {
	case c.Authenticated():
		return core.Actor{Kind: core.ActorUser, ID: c.User.String()}
	case c.Session != "":
		return core.Actor{Kind: core.ActorSession, ID: c.Session}
	default:
		return core.SystemActor
	}
}

// batch collects the events a decide step emits together with the stream
// versions it observed. Streams pinned without events still take part in
// the version check.
type batch struct {
	actor   core.Actor
	order   []string
	streams map[string]*core.Append
	err     error
}

func newBatch(actor core.Actor) *batch {
	return &batch{actor: actor, streams: make(map[string]*core.Append)}
}

func (b *batch) stream(name string, version int64) *core.Append {
	a, ok := b.streams[name]
	if !ok {
		a = &core.Append{Stream: name, ExpectedVersion: version}
		b.streams[name] = a
		b.order = append(b.order, name)
	}
	return a
}

// expect records the version observed for a stream. The first observation wins.
func (b *batch) expect(stream string, version int64) {
	b.stream(stream, version)
}

// emit queues an event. Streams never pinned are appended at any version.
func (b *batch) emit(stream string, typ core.EventType, payload any) {
	if b.err != nil {
		return
	}
	e, err := core.NewEvent(stream, typ, b.actor, payload)
	if err != nil {
		b.err = err
		return
	}
	a := b.stream(stream, core.AnyVersion)
	a.Events = append(a.Events, e)
}

func (b *batch) appends() ([]core.Append, int, error) {
	if b.err != nil {
		return nil, 0, b.err
	}
	out := make([]core.Append, 0, len(b.order))
	n := 0
	for _, name := range b.order {
		a := b.streams[name]
		n += len(a.Events)
		out = append(out, *a)
	}
	return out, n, nil
}

// pin reads the current version of stream into the batch. Projections read
// after pinning are at least as new as the pinned version.
func (s *Service) pin(ctx context.Context, b *batch, stream string) error {
	v, err := s.events.StreamVersion(ctx, stream)
	if err != nil {
		return oops.With("operation", "read stream version").With("stream", stream).Wrap(err)
	}
	b.expect(stream, v)
	return nil
}

// commit runs decide and appends what it emitted, re-running decide from
// scratch whenever a pinned stream moved in between. Once retries are
// exhausted the step fails CONCURRENT_MODIFICATION.
func (s *Service) commit(ctx context.Context, op string, actor core.Actor, decide func(ctx context.Context, b *batch) error) error {
	var committed []core.Append
	backoff := retry.WithMaxRetries(s.cfg.CommitRetries, retry.NewExponential(s.cfg.CommitBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b := newBatch(actor)
		if err := decide(ctx, b); err != nil {
			return err
		}
		appends, n, err := b.appends()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if err := s.events.Append(ctx, appends...); err != nil {
			if errors.Is(err, core.ErrConcurrencyConflict) {
				RecordCommitConflict(op)
				s.logger.DebugContext(ctx, "commit conflict, retrying", "operation", op)
				return retry.RetryableError(err)
			}
			return oops.With("operation", op).Wrap(err)
		}
		committed = appends
		return nil
	})
	if err != nil {
		if errors.Is(err, core.ErrConcurrencyConflict) {
			return oops.Code(CodeConcurrentModification).
				With("operation", op).
				With("retries", s.cfg.CommitRetries).
				Errorf("concurrent modification: %s", err.Error())
		}
		return err
	}

	if s.feed != nil && len(committed) > 0 {
		s.feed.Publish(committed...)
	}
	return nil
}

// getIdentity returns the identity bound to email, or nil.
func (s *Service) getIdentity(ctx context.Context, email string) (*Identity, error) {
	ident, err := s.identities.Get(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.With("operation", "get identity").With("email", email).Wrap(err)
	}
	return ident, nil
}

// getUser returns a user, or nil.
func (s *Service) getUser(ctx context.Context, id ulid.ULID) (*User, error) {
	user, err := s.users.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.With("operation", "get user").With("user_id", id.String()).Wrap(err)
	}
	return user, nil
}

// loadKey pins the stream of the key behind token and validates it for a
// finish step of the given action.
func (s *Service) loadKey(ctx context.Context, b *batch, token string, action KeyAction) (*Key, error) {
	k, err := s.keys.Get(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil, errNotFound("key", "key")
	}
	if err != nil {
		return nil, oops.With("operation", "get key").Wrap(err)
	}

	if err := s.pin(ctx, b, EmailStream(k.Subject())); err != nil {
		return nil, err
	}
	if k, err = s.keys.Get(ctx, token); err != nil {
		return nil, oops.With("operation", "get key").Wrap(err)
	}

	switch {
	case k.Action != action:
		return nil, errKeyTypeMismatch(token, action, k.Action)
	case k.Used:
		return nil, errAlreadyUsed(token)
	case k.ExpiredAt(s.now()):
		return nil, errExpired(token)
	}
	return k, nil
}

// newKey emits keyGenerated for a fresh token on the subject's stream.
func (s *Service) newKey(b *batch, p KeyGenerated) (*KeyGenerated, error) {
	subject := (&Key{Action: p.Action, Email: p.Email, NewEmail: p.NewEmail}).Subject()
	token, err := GenerateKey(subject)
	if err != nil {
		return nil, err
	}
	p.Key = token
	p.Expire = s.now().Add(s.cfg.KeyTTL)
	b.emit(EmailStream(subject), EventKeyGenerated, p)
	return &p, nil
}

func (s *Service) sendMail(ctx context.Context, kind EmailKind, to, key string, data map[string]any) error {
	if err := s.mailer.Send(ctx, Email{Kind: kind, To: to, Key: key, Data: data}); err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("kind", string(kind)).
			With("email", to).
			Wrap(err)
	}
	return nil
}

// trigger notifies collaborators. Failures are logged; the events that
// caused the trigger are already committed.
func (s *Service) trigger(ctx context.Context, t Trigger) {
	if err := s.triggers.Trigger(ctx, t); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "trigger failed", err, "trigger", string(t.Type))
	}
}

// emitLogin queues a loggedIn event for the caller's session, if any.
func (s *Service) emitLogin(b *batch, c Client, user ulid.ULID, roles []string) bool {
	if c.Session == "" {
		return false
	}
	if roles == nil {
		roles = []string{}
	}
	b.emit(SessionStream(c.Session), EventLoggedIn, LoggedIn{User: user, Session: c.Session, Roles: roles})
	return true
}
