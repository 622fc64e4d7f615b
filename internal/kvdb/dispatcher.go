package kvdb

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/piwi3910/kvbench/internal/correlation"
	"github.com/piwi3910/kvbench/internal/kvs"
	"github.com/piwi3910/kvbench/internal/metrics"
)

// completion is a device completion with its origin resolved.
type completion struct {
	db     *Database
	op     kvs.OpKind
	result kvs.Result
	key    *kvs.Key
	value  *kvs.Value
	page   *kvs.IteratorList
	start  time.Time
	timed  bool
}

// recoverable reports whether r is an outcome the caller handles itself.
func recoverable(op kvs.OpKind, r kvs.Result) bool {
	switch r {
	case kvs.ResultSuccess, kvs.ResultKeyNotExist:
		return true
	case kvs.ResultBufferSmall:
		return op == kvs.OpRetrieve
	default:
		return false
	}
}

// onComplete is the kvs.Callback for every asynchronous request. It runs on
// a device goroutine in queue mode and inside GetEvents in polling mode.
func (e *Env) onComplete(c *kvs.Completion) {
	e.completions.Add(1)

	comp, ok := e.resolve(c)
	if !ok {
		log.Warn().
			Str("op", c.Op.String()).
			Uint64("token", c.Token).
			Uint64("keyspace", uint64(c.Keyspace)).
			Msg("Completion without a matching request, dropping it")
		metrics.RecordOrphanCompletion(c.Op.String())
		return
	}

	if !recoverable(c.Op, c.Result) {
		if c.Op != kvs.OpIterNext {
			_ = comp.db.releaseDescriptors(comp.key, comp.value)
		}
		metrics.RecordCompletion(c.Op.String(), c.Result.String())
		_ = e.fatalf("%w: %s failed on database %d: %s", ErrDeviceFailure, c.Op, comp.db.id, c.Result)
		return
	}

	comp.db.dispatch(comp)
}

// resolve finds the database a completion belongs to.
func (e *Env) resolve(c *kvs.Completion) (completion, bool) {
	comp := completion{
		op:     c.Op,
		result: c.Result,
		key:    c.Key,
		value:  c.Value,
		page:   c.Page,
	}

	if req, ok := c.Private.(*request); ok && req != nil {
		comp.db = req.db
		comp.start = req.start
		comp.timed = req.timed
		return comp, true
	}

	var (
		entry correlation.Entry
		found bool
	)
	if c.Op == kvs.OpIterNext {
		entry, found = e.corr.LookupIterator(c.Keyspace)
	} else {
		entry, found = e.corr.Take(c.Op, c.Token)
	}
	if !found {
		return comp, false
	}

	db, ok := entry.Owner.(*Database)
	if !ok || db == nil {
		return comp, false
	}

	comp.db = db
	comp.start = entry.Start
	comp.timed = entry.Timed
	return comp, true
}

// dispatch fills a context for comp, returns descriptors to their pools,
// records latency and publishes the context.
func (db *Database) dispatch(comp completion) {
	var (
		ctx *IoContext
		err error
	)

	if db.mode == ModePolling {
		db.polledMu.Lock()
		if db.cursor >= PolledBatch {
			db.polledMu.Unlock()
			_ = db.releaseDescriptors(comp.key, comp.value)
			_ = db.env.fatalf("%w: database %d", ErrPolledOverflow, db.id)
			return
		}
		ctx = &db.polled[db.cursor]
		db.polledMu.Unlock()
	} else {
		ctx, err = db.contexts.Acquire()
		if err != nil {
			metrics.RecordPoolExhausted(db.contexts.Name())
			if comp.op != kvs.OpIterNext {
				_ = db.releaseDescriptors(comp.key, comp.value)
			}
			_ = db.env.fatalf("no elem in the context pool: %w", err)
			return
		}
	}

	ctx.reset()
	ctx.Op = comp.op
	ctx.Result = comp.result
	ctx.Database = db.id

	switch comp.op {
	case kvs.OpStore:
		ctx.Key = comp.key.Data
		ctx.Value = comp.value.Data
	case kvs.OpRetrieve:
		ctx.Key = comp.key.Data
		n := len(comp.value.Data)
		if int(comp.value.ActualSize) < n {
			n = int(comp.value.ActualSize)
		}
		ctx.Value = comp.value.Data[:n]
		ctx.ActualSize = comp.value.ActualSize
	case kvs.OpDelete:
		ctx.Key = comp.key.Data
	case kvs.OpIterNext:
		if err := db.iter.Complete(comp.page); err != nil {
			log.Warn().Err(err).Int("database", db.id).Msg("Failed to decode iterator page")
		}
		metrics.RecordIteratorPage()
	}

	if comp.op != kvs.OpIterNext {
		if err := db.releaseDescriptors(comp.key, comp.value); err != nil {
			_ = db.env.fatalf("failed to release descriptors: %w", err)
			return
		}
	}

	if comp.timed {
		elapsed := time.Since(comp.start)
		if stat := db.LatencyStats().For(comp.op); stat != nil {
			stat.Record(uint64(elapsed.Microseconds()))
		}
		metrics.ObserveLatency(comp.op.String(), elapsed)
	}

	metrics.RecordCompletion(comp.op.String(), comp.result.String())

	if db.mode == ModePolling {
		db.polledMu.Lock()
		db.cursor++
		db.polledMu.Unlock()
		return
	}
	db.completed.Push(ctx)
}
