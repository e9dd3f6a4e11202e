// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package core

import (
	"context"
	"errors"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// AnyVersion disables the expected-version check for an append.
const AnyVersion int64 = -1

// ErrConcurrencyConflict is returned when a stream moved past the version
// the caller decided against.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// Append is a group of events for a single stream. ExpectedVersion is the
// stream version observed when the events were decided; 0 means the stream
// must still be empty.
type Append struct {
	Stream          string
	ExpectedVersion int64
	Events          []Event
}

// EventStore persists and retrieves events.
type EventStore interface {
	// Append persists every group atomically. If any stream's current version
	// differs from its ExpectedVersion nothing is written and
	// ErrConcurrencyConflict is returned. Registered projections observe the
	// events before Append returns.
	Append(ctx context.Context, batch ...Append) error

	// StreamVersion returns the current version of a stream, 0 if empty.
	StreamVersion(ctx context.Context, stream string) (int64, error)

	// Replay returns up to limit events from a stream with Version > afterVersion.
	Replay(ctx context.Context, stream string, afterVersion int64, limit int) ([]Event, error)

	// ReplayAll returns up to limit events across all streams in append
	// order, starting after afterID. A zero afterID starts from the beginning.
	ReplayAll(ctx context.Context, afterID ulid.ULID, limit int) ([]Event, error)
}

// Projector folds events into a read model. Events of one Append call are
// handed over together and must become visible to readers all at once.
type Projector interface {
	Project(ctx context.Context, events ...Event) error
}

// MemoryEventStore is an in-memory EventStore for tests and single-process use.
type MemoryEventStore struct {
	mu         sync.RWMutex
	streams    map[string][]Event
	log        []Event
	projectors []Projector
}

// NewMemoryEventStore creates a new in-memory event store.
func NewMemoryEventStore(projectors ...Projector) *MemoryEventStore {
	return &MemoryEventStore{
		streams:    make(map[string][]Event),
		projectors: projectors,
	}
}

// Append persists the batch and folds it into the registered projectors
// while holding the write lock, so readers never see a half-applied batch.
// A projector failure discards the whole batch.
func (s *MemoryEventStore) Append(ctx context.Context, batch ...Append) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range batch {
		current := int64(len(s.streams[a.Stream]))
		if a.ExpectedVersion != AnyVersion && a.ExpectedVersion != current {
			return oops.Code("EVENT_VERSION_CONFLICT").
				With("stream", a.Stream).
				With("expected_version", a.ExpectedVersion).
				With("current_version", current).
				Wrap(ErrConcurrencyConflict)
		}
	}

	lengths := make(map[string]int, len(batch))
	for _, a := range batch {
		lengths[a.Stream] = len(s.streams[a.Stream])
	}
	logLen := len(s.log)

	var appended []Event
	for _, a := range batch {
		version := int64(len(s.streams[a.Stream]))
		for _, e := range a.Events {
			version++
			e.Stream = a.Stream
			e.Version = version
			s.streams[a.Stream] = append(s.streams[a.Stream], e)
			appended = append(appended, e)
		}
	}
	s.log = append(s.log, appended...)

	for _, p := range s.projectors {
		if err := p.Project(ctx, appended...); err != nil {
			for stream, n := range lengths {
				s.streams[stream] = s.streams[stream][:n]
			}
			s.log = s.log[:logLen]
			return oops.Code("PROJECTION_FAILED").
				With("events", len(appended)).
				Wrap(err)
		}
	}
	return nil
}

// StreamVersion returns the number of events in a stream.
func (s *MemoryEventStore) StreamVersion(_ context.Context, stream string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.streams[stream])), nil
}

// Replay returns events from a stream after the given version.
func (s *MemoryEventStore) Replay(_ context.Context, stream string, afterVersion int64, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.streams[stream]
	startIdx := int(max(afterVersion, 0))
	if startIdx >= len(events) {
		return nil, nil
	}
	endIdx := min(startIdx+limit, len(events))

	result := make([]Event, endIdx-startIdx)
	copy(result, events[startIdx:endIdx])
	return result, nil
}

// ReplayAll returns events across all streams in append order.
func (s *MemoryEventStore) ReplayAll(_ context.Context, afterID ulid.ULID, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	startIdx := 0
	if afterID.Compare(ulid.ULID{}) != 0 {
		for i, e := range s.log {
			if e.ID == afterID {
				startIdx = i + 1
				break
			}
		}
	}
	if startIdx >= len(s.log) {
		return nil, nil
	}
	endIdx := min(startIdx+limit, len(s.log))

	result := make([]Event, endIdx-startIdx)
	copy(result, s.log[startIdx:endIdx])
	return result, nil
}

// Compile-time interface check.
var _ EventStore = (*MemoryEventStore)(nil)
