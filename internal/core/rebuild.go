// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package core

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultRebuildPageSize is the number of events folded per page by Rebuild.
const DefaultRebuildPageSize = 500

// Rebuild replays the whole log in append order and folds it into the
// given projectors. Projectors are expected to start empty.
// Returns the number of events folded.
func Rebuild(ctx context.Context, store EventStore, pageSize int, projectors ...Projector) (int, error) {
	if pageSize <= 0 {
		pageSize = DefaultRebuildPageSize
	}

	var (
		after ulid.ULID
		total int
	)
	for {
		events, err := store.ReplayAll(ctx, after, pageSize)
		if err != nil {
			return total, oops.Code("REBUILD_FAILED").
				With("operation", "replay").
				With("after", after.String()).
				Wrap(err)
		}
		if len(events) == 0 {
			return total, nil
		}
		for _, p := range projectors {
			if err := p.Project(ctx, events...); err != nil {
				return total, oops.Code("REBUILD_FAILED").
					With("operation", "project").
					With("after", after.String()).
					Wrap(err)
			}
		}
		total += len(events)
		after = events[len(events)-1].ID
	}
}
