// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/emailpassword/internal/core"
	"github.com/holomush/emailpassword/internal/store"
)

func event(typ core.EventType) core.Event {
	e, err := core.NewEvent("", typ, core.Actor{Kind: core.ActorUser, ID: "01HUSER"}, map[string]string{"k": "v"})
	Expect(err).NotTo(HaveOccurred())
	return e
}

var _ = Describe("PostgresEventStore", func() {
	var (
		ctx        context.Context
		eventStore *store.PostgresEventStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx)
		eventStore = store.NewPostgresEventStore(pool)
	})

	Describe("Append", func() {
		It("assigns consecutive versions per stream", func() {
			Expect(eventStore.Append(ctx, core.Append{
				Stream: "email:a@x.com", ExpectedVersion: 0,
				Events: []core.Event{event("created"), event("keyUsed")},
			})).To(Succeed())

			version, err := eventStore.StreamVersion(ctx, "email:a@x.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(Equal(int64(2)))

			events, err := eventStore.Replay(ctx, "email:a@x.com", 0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(2))
			Expect(events[0].Version).To(Equal(int64(1)))
			Expect(events[1].Version).To(Equal(int64(2)))
			Expect(events[1].Actor).To(Equal(core.Actor{Kind: core.ActorUser, ID: "01HUSER"}))
		})

		It("writes nothing when one stream is stale", func() {
			Expect(eventStore.Append(ctx, core.Append{
				Stream: "user:01", ExpectedVersion: 0, Events: []core.Event{event("UserCreated")},
			})).To(Succeed())

			err := eventStore.Append(ctx,
				core.Append{Stream: "email:b@x.com", ExpectedVersion: 0, Events: []core.Event{event("created")}},
				core.Append{Stream: "user:01", ExpectedVersion: 0, Events: []core.Event{event("methodAdded")}},
			)
			Expect(err).To(MatchError(core.ErrConcurrencyConflict))

			version, err := eventStore.StreamVersion(ctx, "email:b@x.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(BeZero())
		})

		It("lets exactly one of two racing writers win an empty stream", func() {
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				conflicts int
			)
			for range 2 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					err := eventStore.Append(ctx, core.Append{
						Stream: "email:race@x.com", ExpectedVersion: 0, Events: []core.Event{event("created")},
					})
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						successes++
					} else {
						Expect(err).To(MatchError(core.ErrConcurrencyConflict))
						conflicts++
					}
				}()
			}
			wg.Wait()

			Expect(successes).To(Equal(1))
			Expect(conflicts).To(Equal(1))
		})
	})

	Describe("ReplayAll", func() {
		It("pages through the log in append order", func() {
			for _, stream := range []string{"a", "b", "c"} {
				Expect(eventStore.Append(ctx, core.Append{
					Stream: stream, ExpectedVersion: core.AnyVersion, Events: []core.Event{event("t")},
				})).To(Succeed())
			}

			first, err := eventStore.ReplayAll(ctx, ulid.ULID{}, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(HaveLen(2))
			Expect(first[0].Stream).To(Equal("a"))

			rest, err := eventStore.ReplayAll(ctx, first[1].ID, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(rest).To(HaveLen(1))
			Expect(rest[0].Stream).To(Equal("c"))
		})
	})
})
