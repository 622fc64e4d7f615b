package kvdb

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/piwi3910/kvbench/internal/config"
	"github.com/piwi3910/kvbench/internal/correlation"
	"github.com/piwi3910/kvbench/internal/iterator"
	"github.com/piwi3910/kvbench/internal/kvs"
	"github.com/piwi3910/kvbench/internal/latency"
	"github.com/piwi3910/kvbench/internal/metrics"
	"github.com/piwi3910/kvbench/internal/pool"
)

// Database is one open keyspace with its resource pools.
type Database struct {
	env  *Env
	id   int
	path string
	dev  kvs.Device
	ks   kvs.Keyspace
	mode EventMode

	contexts  *pool.Pool[IoContext]
	keys      *pool.Pool[kvs.Key]
	values    *pool.Pool[kvs.Value]
	completed *pool.FIFO[*IoContext]

	polledMu sync.Mutex
	polled   [PolledBatch]IoContext
	cursor   int

	latMu   sync.RWMutex
	latency *latency.Set

	iter *iterator.Session

	closed atomic.Bool
}

// request rides in kvs.Request.Private for the direct API variant.
type request struct {
	db    *Database
	start time.Time
	timed bool
}

// Open opens the device at path, replaces any keyspaces left on it with a
// fresh one and allocates the database's pools.
func (e *Env) Open(path string, id int) (*Database, error) {
	dev, err := e.drv.OpenDevice(path)
	if err != nil {
		return nil, fmt.Errorf("device open failed %s: %w", path, err)
	}

	ks, err := provision(dev)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}

	sizes := e.cfg.Database
	if sizes.ContextPoolSize <= 0 {
		sizes.ContextPoolSize = DefaultContextPoolSize
	}
	if sizes.KeyPoolSize <= 0 {
		sizes.KeyPoolSize = sizes.ContextPoolSize
	}
	if sizes.ValuePoolSize <= 0 {
		sizes.ValuePoolSize = sizes.ContextPoolSize
	}

	db := &Database{
		env:       e,
		id:        id,
		path:      path,
		dev:       dev,
		ks:        ks,
		mode:      e.mode,
		contexts:  pool.New[IoContext]("contexts", sizes.ContextPoolSize, nil),
		keys:      pool.New[kvs.Key]("keys", sizes.KeyPoolSize, nil),
		values:    pool.New[kvs.Value]("values", sizes.ValuePoolSize, nil),
		completed: pool.NewFIFO[*IoContext](),
		latency:   e.latency,
		iter:      iterator.NewSession(ks),
	}

	e.mu.Lock()
	e.dbs[db] = struct{}{}
	e.mu.Unlock()

	db.publishPoolMetrics()

	log.Info().Str("path", path).Int("database", id).Str("mode", db.mode.String()).Msg("Device open")

	return db, nil
}

func provision(dev kvs.Device) (kvs.Keyspace, error) {
	names, err := dev.ListKeyspaces(provisionListMax)
	if err != nil {
		return nil, fmt.Errorf("failed to list keyspaces: %w", err)
	}
	for _, name := range names {
		if err := dev.DeleteKeyspace(name); err != nil {
			log.Warn().Err(err).Str("keyspace", name).Msg("Failed to delete stale keyspace")
		}
	}

	err = dev.CreateKeyspace(KeyspaceName, kvs.KeyspaceOption{Order: kvs.KeyOrderNone})
	if err != nil {
		return nil, fmt.Errorf("failed to create keyspace %s: %w", KeyspaceName, err)
	}

	ks, err := dev.OpenKeyspace(KeyspaceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyspace %s: %w", KeyspaceName, err)
	}
	return ks, nil
}

// ID returns the database id given at Open.
func (db *Database) ID() int { return db.id }

// Mode returns the completion delivery mode.
func (db *Database) Mode() EventMode { return db.mode }

// Keyspace returns the underlying keyspace handle.
func (db *Database) Keyspace() kvs.Keyspace { return db.ks }

// Close closes the iterator session and the keyspace, deletes the keyspace
// and closes the device. In-flight operations complete before the keyspace
// closes; contexts still queued are discarded.
func (db *Database) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if err := db.closeIterator(); err != nil {
		errs = append(errs, err)
	}
	if err := db.ks.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close keyspace: %w", err))
	}
	if err := db.dev.DeleteKeyspace(KeyspaceName); err != nil {
		errs = append(errs, fmt.Errorf("failed to delete keyspace: %w", err))
	}
	if err := db.dev.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close device: %w", err))
	}

	db.env.forget(db)

	log.Info().Str("path", db.path).Int("database", db.id).Msg("Database closed")

	return errors.Join(errs...)
}

func (db *Database) ioMode(m IOMode) IOMode {
	if m == IODefault {
		return db.env.writeMode
	}
	return m
}

// Save stores docs. Synchronous saves store every doc in order;
// asynchronous saves take exactly one doc.
func (db *Database) Save(docs []Doc, opts Options) error {
	if db.closed.Load() {
		return ErrClosed
	}

	if db.ioMode(opts.Mode) == IOSync {
		for _, d := range docs {
			r := db.ks.Store(&kvs.Key{Data: d.Key}, &kvs.Value{Data: d.Value}, kvs.StoreOption{Type: kvs.StorePost})
			if r != kvs.ResultSuccess {
				return db.env.fatalf("%w: store tuple sync failed %q: %s", ErrDeviceFailure, d.Key, r)
			}
			metrics.RecordOperation(kvs.OpStore.String(), IOSync.String())
		}
		return nil
	}

	if len(docs) != 1 {
		return fmt.Errorf("%w: got %d", ErrAsyncBatch, len(docs))
	}

	key, value, err := db.acquireDescriptors(true)
	if err != nil {
		return err
	}
	key.Data = docs[0].Key
	value.Data = docs[0].Value

	return db.submit(&kvs.Request{
		Op:    kvs.OpStore,
		Key:   key,
		Value: value,
		Store: kvs.StoreOption{Type: kvs.StorePost},
	}, opts.MeasureLatency)
}

// Get retrieves key into buf. A synchronous Get returns the device result;
// not-found and buffer-too-small are reported, not fatal. An asynchronous
// Get returns ResultSuccess once submitted and reports the device result
// in the completed context.
func (db *Database) Get(key, buf []byte, opts Options) (kvs.Result, error) {
	if db.closed.Load() {
		return kvs.ResultDeviceClosed, ErrClosed
	}

	if db.ioMode(opts.Mode) == IOSync {
		v := &kvs.Value{Data: buf}
		r := db.ks.Retrieve(&kvs.Key{Data: key}, v)
		switch r {
		case kvs.ResultSuccess, kvs.ResultKeyNotExist, kvs.ResultBufferSmall:
			metrics.RecordOperation(kvs.OpRetrieve.String(), IOSync.String())
			return r, nil
		default:
			return r, db.env.fatalf("%w: retrieve tuple sync failed for %q: %s", ErrDeviceFailure, key, r)
		}
	}

	k, v, err := db.acquireDescriptors(true)
	if err != nil {
		return kvs.ResultSuccess, err
	}
	k.Data = key
	v.Data = buf

	return kvs.ResultSuccess, db.submit(&kvs.Request{Op: kvs.OpRetrieve, Key: k, Value: v}, opts.MeasureLatency)
}

// Delete removes key. A synchronous delete of a missing key reports
// not-found; any other failure is fatal.
func (db *Database) Delete(key []byte, opts Options) (kvs.Result, error) {
	if db.closed.Load() {
		return kvs.ResultDeviceClosed, ErrClosed
	}

	if db.ioMode(opts.Mode) == IOSync {
		r := db.ks.Delete(&kvs.Key{Data: key})
		switch r {
		case kvs.ResultSuccess, kvs.ResultKeyNotExist:
			metrics.RecordOperation(kvs.OpDelete.String(), IOSync.String())
			return r, nil
		default:
			return r, db.env.fatalf("%w: delete tuple sync failed for %q: %s", ErrDeviceFailure, key, r)
		}
	}

	k, _, err := db.acquireDescriptors(false)
	if err != nil {
		return kvs.ResultSuccess, err
	}
	k.Data = key

	return kvs.ResultSuccess, db.submit(&kvs.Request{Op: kvs.OpDelete, Key: k}, opts.MeasureLatency)
}

// acquireDescriptors takes a key descriptor and, when withValue is set, a
// value descriptor. Exhaustion of either pool is fatal.
func (db *Database) acquireDescriptors(withValue bool) (*kvs.Key, *kvs.Value, error) {
	k, err := db.keys.Acquire()
	if err != nil {
		metrics.RecordPoolExhausted(db.keys.Name())
		return nil, nil, db.env.fatalf("no elem in the key pool: %w", err)
	}
	*k = kvs.Key{}

	if !withValue {
		return k, nil, nil
	}

	v, err := db.values.Acquire()
	if err != nil {
		_ = db.keys.Release(k)
		metrics.RecordPoolExhausted(db.values.Name())
		return nil, nil, db.env.fatalf("no elem in the value pool: %w", err)
	}
	*v = kvs.Value{}

	return k, v, nil
}

func (db *Database) releaseDescriptors(k *kvs.Key, v *kvs.Value) error {
	var errs []error
	if k != nil {
		k.Data = nil
		if err := db.keys.Release(k); err != nil {
			errs = append(errs, err)
		}
	}
	if v != nil {
		v.Data = nil
		if err := db.values.Release(v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// submit tags req with its origin and hands it to the device. For the
// keyspace variant the correlation entry exists before the device sees the
// request.
func (db *Database) submit(req *kvs.Request, timed bool) error {
	var start time.Time
	if timed {
		start = time.Now()
	}

	keyspaceAPI := db.env.api == config.APIKeyspace
	tracked := keyspaceAPI && req.Op != kvs.OpIterNext

	if keyspaceAPI {
		if tracked {
			req.Token = db.env.corr.NextToken()
			db.env.corr.Put(req.Op, req.Token, correlation.Entry{Owner: db, Start: start, Timed: timed})
		}
	} else {
		req.Private = &request{db: db, start: start, timed: timed}
	}

	if err := db.ks.Submit(req, db.env.onComplete); err != nil {
		if tracked {
			db.env.corr.Take(req.Op, req.Token)
		}
		if req.Op != kvs.OpIterNext {
			_ = db.releaseDescriptors(req.Key, req.Value)
		}
		return db.env.fatalf("%w: %s: %v", ErrSubmit, req.Op, err)
	}

	metrics.RecordOperation(req.Op.String(), IOAsync.String())
	return nil
}

// SetLatencyStats makes the database record latency into set.
func (db *Database) SetLatencyStats(set *latency.Set) {
	db.latMu.Lock()
	db.latency = set
	db.latMu.Unlock()
}

// LatencyStats returns the set the database records into.
func (db *Database) LatencyStats() *latency.Set {
	db.latMu.RLock()
	defer db.latMu.RUnlock()
	return db.latency
}

// PoolStats returns the counters of the context and descriptor pools.
func (db *Database) PoolStats() []pool.Stats {
	stats := []pool.Stats{db.contexts.Stats(), db.keys.Stats(), db.values.Stats()}
	for _, s := range stats {
		metrics.SetPoolAvailable(strconv.Itoa(db.id), s.Name, s.Available)
	}
	return stats
}

func (db *Database) publishPoolMetrics() {
	_ = db.PoolStats()
}

// Completed returns the number of contexts waiting to be harvested.
func (db *Database) Completed() int {
	if db.mode == ModePolling {
		db.polledMu.Lock()
		defer db.polledMu.Unlock()
		return db.cursor
	}
	return db.completed.Len()
}
