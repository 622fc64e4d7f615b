package kvdb

import (
	"context"
	"strconv"
	"time"
)

const drainPollInterval = time.Millisecond

// InFlight returns the number of submitted operations whose completion has
// not reached the dispatcher yet.
func (db *Database) InFlight() int64 {
	return int64(db.keys.Outstanding())
}

// Drain harvests and discards completions until nothing is in flight and
// no completed context is waiting in the queue.
func (db *Database) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		if db.closed.Load() {
			return nil
		}

		inFlight := db.InFlight()
		if inFlight == 0 && db.Completed() == 0 {
			return nil
		}

		if db.mode == ModePolling {
			if inFlight > 0 {
				if _, err := db.GetEvents(ctx, 1, PolledBatch); err != nil {
					return err
				}
				continue
			}
			db.polledMu.Lock()
			db.cursor = 0
			db.polledMu.Unlock()
			continue
		}

		events, err := db.GetEvents(ctx, 0, PolledBatch)
		if err != nil {
			return err
		}
		if err := db.ReleaseContexts(events); err != nil {
			return err
		}
		if len(events) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// InFlightCount returns the in-flight operation count across open databases.
func (e *Env) InFlightCount() int64 {
	var n int64
	for _, db := range e.Databases() {
		n += db.InFlight()
	}
	return n
}

// WaitForDrain drains every open database.
func (e *Env) WaitForDrain(ctx context.Context) error {
	for _, db := range e.Databases() {
		if err := db.Drain(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Name identifies the database in logs.
func (db *Database) Name() string {
	return "db" + strconv.Itoa(db.id)
}
