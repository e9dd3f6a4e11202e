// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package core

import (
	"log/slog"
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 64

// Broadcaster fans committed events out to in-process subscribers of a stream.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[string][]chan Event),
	}
}

// Subscribe creates a channel for receiving events on a stream.
func (b *Broadcaster) Subscribe(stream string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	b.subs[stream] = append(b.subs[stream], ch)
	return ch
}

// Unsubscribe removes a channel from a stream and closes it.
func (b *Broadcaster) Unsubscribe(stream string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[stream]
	for i, sub := range subs {
		if sub == ch {
			b.subs[stream] = append(subs[:i], subs[i+1:]...)
			if len(b.subs[stream]) == 0 {
				delete(b.subs, stream)
			}
			close(ch)
			return
		}
	}
}

// Publish delivers every event of a committed batch to the subscribers of
// its stream. Slow subscribers miss events rather than block the writer.
func (b *Broadcaster) Publish(batch ...Append) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, a := range batch {
		for _, event := range a.Events {
			event.Stream = a.Stream
			for _, ch := range b.subs[a.Stream] {
				select {
				case ch <- event:
				default:
					slog.Warn("event dropped: subscriber buffer full",
						"stream", a.Stream,
						"event_id", event.ID.String(),
						"event_type", event.Type,
					)
				}
			}
		}
	}
}
