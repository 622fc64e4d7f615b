package kvdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/piwi3910/kvbench/internal/metrics"
)

// GetEvents returns completed contexts.
//
// In queue mode it drains up to max contexts without blocking; an empty
// result is valid. In polling mode it blocks until at least min (and at
// least one) completions have been reaped, up to max, which is clamped to
// PolledBatch. Contexts returned in polling mode are reused by the next
// call.
func (db *Database) GetEvents(ctx context.Context, min, max int) ([]*IoContext, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	if max <= 0 {
		return nil, nil
	}

	if db.mode != ModePolling {
		out := db.completed.PopN(make([]*IoContext, 0, max), max)
		metrics.AddEventsHarvested(db.mode.String(), len(out))
		return out, nil
	}

	if max > PolledBatch {
		max = PolledBatch
	}
	if min > max {
		min = max
	}

	_, err := db.ks.ReapEvents(ctx, min, max)

	db.polledMu.Lock()
	n := db.cursor
	out := make([]*IoContext, n)
	for i := range out {
		out[i] = &db.polled[i]
	}
	db.cursor = 0
	db.polledMu.Unlock()

	metrics.AddEventsHarvested(db.mode.String(), n)

	if err != nil {
		return out, fmt.Errorf("failed to reap events on database %d: %w", db.id, err)
	}
	return out, nil
}

// ReleaseContexts hands harvested contexts back to the pool. It is a no-op
// in polling mode.
func (db *Database) ReleaseContexts(ctxs []*IoContext) error {
	if db.mode == ModePolling {
		return nil
	}

	var errs []error
	for _, c := range ctxs {
		if c == nil {
			continue
		}
		c.reset()
		if err := db.contexts.Release(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
