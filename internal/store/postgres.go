// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store provides the PostgreSQL event store and schema migrations.
package store

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/emailpassword/internal/core"
)

// Pool is the subset of *pgxpool.Pool used by the stores. pgxmock pools
// satisfy it too.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxProjector folds events into tables inside the append transaction, so
// projected rows commit or roll back together with the events.
type TxProjector interface {
	ProjectTx(ctx context.Context, tx pgx.Tx, events ...core.Event) error
}

// PostgresEventStore implements core.EventStore using PostgreSQL.
type PostgresEventStore struct {
	pool       Pool
	projectors []TxProjector
}

// NewPostgresEventStore creates an event store over an existing pool.
func NewPostgresEventStore(pool Pool, projectors ...TxProjector) *PostgresEventStore {
	return &PostgresEventStore{pool: pool, projectors: projectors}
}

// Connect opens a connection pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return pool, nil
}

// Append persists every group in one transaction. Stream rows are locked in
// name order, so concurrent batches touching the same streams serialize
// instead of deadlocking.
func (s *PostgresEventStore) Append(ctx context.Context, batch ...core.Append) error {
	if len(batch) == 0 {
		return nil
	}
	groups := slices.Clone(batch)
	slices.SortStableFunc(groups, func(a, b core.Append) int {
		return strings.Compare(a.Stream, b.Stream)
	})

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var appended []core.Event
	for _, a := range groups {
		events, err := appendStream(ctx, tx, a)
		if err != nil {
			return err
		}
		appended = append(appended, events...)
	}

	for _, p := range s.projectors {
		if err := p.ProjectTx(ctx, tx, appended...); err != nil {
			if conflict := asConflict(err); conflict != nil {
				return conflict
			}
			return oops.Code("PROJECTION_FAILED").With("events", len(appended)).Wrap(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if conflict := asConflict(err); conflict != nil {
			return conflict
		}
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

func appendStream(ctx context.Context, tx pgx.Tx, a core.Append) ([]core.Event, error) {
	// Materialize the stream row first so that even an empty stream can be
	// locked; a concurrent creator blocks here until we finish.
	if _, err := tx.Exec(ctx,
		`INSERT INTO event_streams (stream, version) VALUES ($1, 0) ON CONFLICT (stream) DO NOTHING`,
		a.Stream); err != nil {
		return nil, appendError(err, a.Stream, "create stream")
	}

	var current int64
	if err := tx.QueryRow(ctx,
		`SELECT version FROM event_streams WHERE stream = $1 FOR UPDATE`,
		a.Stream).Scan(&current); err != nil {
		return nil, appendError(err, a.Stream, "lock stream")
	}

	if a.ExpectedVersion != core.AnyVersion && a.ExpectedVersion != current {
		return nil, oops.Code("EVENT_VERSION_CONFLICT").
			With("stream", a.Stream).
			With("expected_version", a.ExpectedVersion).
			With("current_version", current).
			Wrap(core.ErrConcurrencyConflict)
	}
	if len(a.Events) == 0 {
		return nil, nil
	}

	events := make([]core.Event, 0, len(a.Events))
	for _, e := range a.Events {
		current++
		e.Stream = a.Stream
		e.Version = current
		if _, err := tx.Exec(ctx,
			`INSERT INTO events (id, stream, version, type, actor_kind, actor_id, payload, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID.String(),
			e.Stream,
			e.Version,
			string(e.Type),
			int16(e.Actor.Kind),
			e.Actor.ID,
			e.Payload,
			e.Timestamp,
		); err != nil {
			return nil, appendError(err, a.Stream, "insert event")
		}
		events = append(events, e)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE event_streams SET version = $2 WHERE stream = $1`,
		a.Stream, current); err != nil {
		return nil, appendError(err, a.Stream, "bump version")
	}
	return events, nil
}

func appendError(err error, stream, operation string) error {
	if conflict := asConflict(err); conflict != nil {
		return conflict
	}
	return oops.Code("EVENT_APPEND_FAILED").
		With("stream", stream).
		With("operation", operation).
		Wrap(err)
}

// asConflict maps errors PostgreSQL raises when two writers race on the
// same rows to core.ErrConcurrencyConflict. It returns nil for anything else.
func asConflict(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation, pgerrcode.DeadlockDetected, pgerrcode.SerializationFailure:
		return oops.Code("EVENT_VERSION_CONFLICT").
			With("pg_code", pgErr.Code).
			With("constraint", pgErr.ConstraintName).
			Wrapf(core.ErrConcurrencyConflict, "%s", pgErr.Message)
	default:
		return nil
	}
}

// StreamVersion returns the current version of a stream, 0 if it has none.
func (s *PostgresEventStore) StreamVersion(ctx context.Context, stream string) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT version FROM event_streams WHERE stream = $1`, stream).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, oops.Code("STREAM_VERSION_FAILED").With("stream", stream).Wrap(err)
	}
	return version, nil
}

const selectEvents = `SELECT id, stream, version, type, actor_kind, actor_id, payload, created_at FROM events`

// Replay returns events from a stream with Version > afterVersion.
func (s *PostgresEventStore) Replay(ctx context.Context, stream string, afterVersion int64, limit int) ([]core.Event, error) {
	rows, err := s.pool.Query(ctx,
		selectEvents+` WHERE stream = $1 AND version > $2 ORDER BY version LIMIT $3`,
		stream, afterVersion, limit)
	if err != nil {
		return nil, oops.Code("EVENT_QUERY_FAILED").With("stream", stream).Wrap(err)
	}
	return scanEvents(rows)
}

// ReplayAll returns events across all streams in append order.
func (s *PostgresEventStore) ReplayAll(ctx context.Context, afterID ulid.ULID, limit int) ([]core.Event, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if afterID.Compare(ulid.ULID{}) == 0 {
		rows, err = s.pool.Query(ctx, selectEvents+` ORDER BY seq LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			selectEvents+` WHERE seq > (SELECT seq FROM events WHERE id = $1) ORDER BY seq LIMIT $2`,
			afterID.String(), limit)
	}
	if err != nil {
		return nil, oops.Code("EVENT_QUERY_FAILED").With("after", afterID.String()).Wrap(err)
	}
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]core.Event, error) {
	defer rows.Close()

	var events []core.Event
	for rows.Next() {
		var (
			e     core.Event
			idStr string
			typ   string
			kind  int16
		)
		if err := rows.Scan(&idStr, &e.Stream, &e.Version, &typ, &kind, &e.Actor.ID, &e.Payload, &e.Timestamp); err != nil {
			return nil, oops.Code("EVENT_SCAN_FAILED").Wrap(err)
		}
		id, err := ulid.Parse(idStr)
		if err != nil {
			return nil, oops.Code("EVENT_CORRUPT").
				With("stream", e.Stream).
				With("id", idStr).
				Wrap(err)
		}
		e.ID = id
		e.Type = core.EventType(typ)
		e.Actor.Kind = core.ActorKind(kind) //nolint:gosec // stored from an ActorKind
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("EVENT_SCAN_FAILED").Wrap(err)
	}
	return events, nil
}

// Compile-time interface check.
var _ core.EventStore = (*PostgresEventStore)(nil)
