// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package core contains the event log primitives shared by every projection
// and workflow: events, streams, the EventStore contract and an in-memory
// implementation.
package core

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// EventType identifies the kind of event.
type EventType string

// ActorKind identifies what type of entity caused an event.
type ActorKind uint8

const (
	ActorSystem ActorKind = iota
	ActorUser
	ActorSession
)

func (a ActorKind) String() string {
	switch a {
	case ActorSystem:
		return "system"
	case ActorUser:
		return "user"
	case ActorSession:
		return "session"
	default:
		return "unknown"
	}
}

// Actor represents who or what caused an event.
type Actor struct {
	Kind ActorKind
	ID   string // user ID, session ID, or "system"
}

// SystemActor is the actor recorded for events with no authenticated caller.
var SystemActor = Actor{Kind: ActorSystem, ID: "system"}

// Event is one immutable entry of a stream.
type Event struct {
	ID        ulid.ULID
	Stream    string // e.g., "email:a@x.com", "user:01XYZ"
	Version   int64  // 1-based position within Stream, assigned on append
	Type      EventType
	Timestamp time.Time
	Actor     Actor
	Payload   []byte // JSON
}

// NewEvent builds an event with a fresh ID and a JSON-encoded payload.
// Version is left zero; the store assigns it.
func NewEvent(stream string, typ EventType, actor Actor, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, oops.Code("EVENT_ENCODE_FAILED").
			With("stream", stream).
			With("type", string(typ)).
			Wrap(err)
	}
	return Event{
		ID:        NewULID(),
		Stream:    stream,
		Type:      typ,
		Timestamp: time.Now(),
		Actor:     actor,
		Payload:   data,
	}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return oops.Code("EVENT_DECODE_FAILED").
			With("event_id", e.ID.String()).
			With("stream", e.Stream).
			With("type", string(e.Type)).
			Wrap(err)
	}
	return nil
}
