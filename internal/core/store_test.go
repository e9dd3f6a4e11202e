// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package core

import (
	"context"
	"errors"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	batches [][]Event
	err     error
}

func (r *recorder) Project(_ context.Context, events ...Event) error {
	r.batches = append(r.batches, events)
	return r.err
}

func testEvent(t *testing.T, typ EventType) Event {
	t.Helper()
	e, err := NewEvent("", typ, SystemActor, map[string]string{"type": string(typ)})
	require.NoError(t, err)
	return e
}

func TestMemoryEventStore_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns versions per stream", func(t *testing.T) {
		s := NewMemoryEventStore()
		require.NoError(t, s.Append(ctx, Append{
			Stream: "a", ExpectedVersion: 0, Events: []Event{testEvent(t, "x"), testEvent(t, "y")},
		}))
		require.NoError(t, s.Append(ctx, Append{
			Stream: "a", ExpectedVersion: 2, Events: []Event{testEvent(t, "z")},
		}))

		v, err := s.StreamVersion(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, int64(3), v)

		events, err := s.Replay(ctx, "a", 0, 10)
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, e := range events {
			assert.Equal(t, int64(i+1), e.Version)
			assert.Equal(t, "a", e.Stream)
		}
	})

	t.Run("stale version writes nothing", func(t *testing.T) {
		s := NewMemoryEventStore()
		require.NoError(t, s.Append(ctx, Append{Stream: "b", ExpectedVersion: 0, Events: []Event{testEvent(t, "x")}}))

		err := s.Append(ctx,
			Append{Stream: "a", ExpectedVersion: 0, Events: []Event{testEvent(t, "x")}},
			Append{Stream: "b", ExpectedVersion: 0, Events: []Event{testEvent(t, "y")}},
		)
		require.ErrorIs(t, err, ErrConcurrencyConflict)

		v, err := s.StreamVersion(ctx, "a")
		require.NoError(t, err)
		assert.Zero(t, v, "no group of a rejected batch is applied")
	})

	t.Run("empty group is a version check", func(t *testing.T) {
		s := NewMemoryEventStore()
		require.NoError(t, s.Append(ctx, Append{Stream: "a", ExpectedVersion: 0}))
		require.ErrorIs(t, s.Append(ctx, Append{Stream: "a", ExpectedVersion: 1}), ErrConcurrencyConflict)
	})

	t.Run("any version always appends", func(t *testing.T) {
		s := NewMemoryEventStore()
		for range 3 {
			require.NoError(t, s.Append(ctx, Append{
				Stream: "security", ExpectedVersion: AnyVersion, Events: []Event{testEvent(t, "x")},
			}))
		}
		v, err := s.StreamVersion(ctx, "security")
		require.NoError(t, err)
		assert.Equal(t, int64(3), v)
	})

	t.Run("projectors see the whole batch at once", func(t *testing.T) {
		rec := &recorder{}
		s := NewMemoryEventStore(rec)
		require.NoError(t, s.Append(ctx,
			Append{Stream: "a", ExpectedVersion: 0, Events: []Event{testEvent(t, "x")}},
			Append{Stream: "b", ExpectedVersion: 0, Events: []Event{testEvent(t, "y")}},
		))
		require.Len(t, rec.batches, 1)
		assert.Len(t, rec.batches[0], 2)
	})

	t.Run("projector failure discards the batch", func(t *testing.T) {
		rec := &recorder{}
		s := NewMemoryEventStore(rec)
		require.NoError(t, s.Append(ctx, Append{Stream: "a", ExpectedVersion: 0, Events: []Event{testEvent(t, "x")}}))

		rec.err = errors.New("boom")
		err := s.Append(ctx,
			Append{Stream: "a", ExpectedVersion: 1, Events: []Event{testEvent(t, "y")}},
			Append{Stream: "b", ExpectedVersion: 0, Events: []Event{testEvent(t, "z")}},
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")

		va, err := s.StreamVersion(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, int64(1), va)
		vb, err := s.StreamVersion(ctx, "b")
		require.NoError(t, err)
		assert.Zero(t, vb)
		all, err := s.ReplayAll(ctx, ulid.ULID{}, 10)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		rec.err = nil
		require.NoError(t, s.Append(ctx, Append{Stream: "a", ExpectedVersion: 1, Events: []Event{testEvent(t, "y")}}),
			"a retry decides against the version before the failed batch")
	})
}

func TestMemoryEventStore_Replay(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEventStore()
	for range 5 {
		require.NoError(t, s.Append(ctx, Append{Stream: "a", ExpectedVersion: AnyVersion, Events: []Event{testEvent(t, "x")}}))
	}

	tests := []struct {
		name  string
		after int64
		limit int
		want  []int64
	}{
		{"from start", 0, 10, []int64{1, 2, 3, 4, 5}},
		{"after version", 3, 10, []int64{4, 5}},
		{"limited", 1, 2, []int64{2, 3}},
		{"past end", 5, 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := s.Replay(ctx, "a", tt.after, tt.limit)
			require.NoError(t, err)
			var got []int64
			for _, e := range events {
				got = append(got, e.Version)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemoryEventStore_ReplayAll(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEventStore()
	for _, stream := range []string{"a", "b", "a", "c"} {
		require.NoError(t, s.Append(ctx, Append{Stream: stream, ExpectedVersion: AnyVersion, Events: []Event{testEvent(t, "x")}}))
	}

	first, err := s.ReplayAll(ctx, ulid.ULID{}, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, []string{"a", "b", "a"}, []string{first[0].Stream, first[1].Stream, first[2].Stream})

	rest, err := s.ReplayAll(ctx, first[2].ID, 3)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].Stream)

	none, err := s.ReplayAll(ctx, rest[0].ID, 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEventStore()
	for range 7 {
		require.NoError(t, s.Append(ctx, Append{Stream: "a", ExpectedVersion: AnyVersion, Events: []Event{testEvent(t, "x")}}))
	}

	rec := &recorder{}
	n, err := Rebuild(ctx, s, 3, rec)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	require.Len(t, rec.batches, 3)
	assert.Len(t, rec.batches[2], 1)

	_, err = Rebuild(ctx, s, 0, &recorder{err: errors.New("boom")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
