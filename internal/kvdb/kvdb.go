// Package kvdb is the benchmark-facing database layer over a kvs device.
//
// An Env initializes the driver once per process. Each Database opened from
// it owns one keyspace and a fixed set of pre-allocated resources: I/O
// contexts, key descriptors and value descriptors. Asynchronous operations
// borrow descriptors from those pools; the completion dispatcher returns
// them, records latency and publishes a context that the caller harvests
// with GetEvents.
//
// Completions are delivered in one of two ways, fixed at SetupDevice:
//
//   - Queue mode: the device invokes the dispatcher on its own goroutines;
//     the dispatcher pushes contexts onto a completed queue and GetEvents
//     drains it without blocking.
//   - Polling mode: the dispatcher only runs inside GetEvents, on the
//     calling goroutine, while the device reaps its completion queue.
//     Contexts live in a fixed per-database array reused on every call.
//
// Device errors other than not-found and buffer-too-small, and exhaustion of
// any pool, are fatal to the run and are routed to the Env's FatalFunc.
package kvdb

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/piwi3910/kvbench/internal/kvs"
	"github.com/piwi3910/kvbench/internal/pool"
)

// Errors
var (
	ErrDeviceFailure  = errors.New("kvdb: non-recoverable device error")
	ErrAsyncBatch     = errors.New("kvdb: asynchronous store takes exactly one document")
	ErrClosed         = errors.New("kvdb: database closed")
	ErrPolledOverflow = errors.New("kvdb: more completions than the polled batch holds")
	ErrSubmit         = errors.New("kvdb: device rejected request")
)

const (
	// DefaultContextPoolSize is the number of I/O contexts per database.
	DefaultContextPoolSize = 36000

	// PolledBatch is the size of the per-database context array used in
	// polling mode, and the most events one GetEvents call returns there.
	PolledBatch = 256

	// KeyspaceName is the keyspace every database provisions and uses.
	KeyspaceName = "container1"

	// provisionListMax is how many stale keyspaces are cleared at open.
	provisionListMax = 2
)

// EventMode is how completions reach GetEvents.
type EventMode int

const (
	ModeQueue EventMode = iota
	ModePolling
)

func (m EventMode) String() string {
	if m == ModePolling {
		return "polling"
	}
	return "queue"
}

// IOMode selects synchronous or asynchronous submission.
type IOMode int

const (
	// IODefault uses the environment's configured write mode.
	IODefault IOMode = iota
	IOSync
	IOAsync
)

func (m IOMode) String() string {
	switch m {
	case IOSync:
		return "sync"
	case IOAsync:
		return "async"
	default:
		return "default"
	}
}

// Options are per-call options.
type Options struct {
	Mode IOMode
	// MeasureLatency records the completion latency of async operations.
	MeasureLatency bool
}

// Doc is a key and value to store.
type Doc struct {
	Key   []byte
	Value []byte
}

// IoContext is a completed operation as seen by the caller.
//
// In queue mode a context belongs to the caller from GetEvents until it is
// handed back with ReleaseContexts. In polling mode contexts are reused by
// the next GetEvents call and need not be released.
type IoContext struct {
	Op     kvs.OpKind
	Result kvs.Result
	// Key and Value reference the caller's buffers of the operation.
	// Value is nil for deletes and iterator pages; for retrieves it is
	// trimmed to the bytes the device filled.
	Key   []byte
	Value []byte
	// ActualSize is the full stored length reported by a retrieve.
	ActualSize uint32
	// Database is the id of the owning database.
	Database int
}

func (c *IoContext) reset() {
	*c = IoContext{}
}

// FatalFunc handles non-recoverable errors. It is expected not to return.
type FatalFunc func(err error)

func defaultFatal(err error) {
	log.Fatal().Err(err).Msg("Benchmark aborted")
}

// AlignedBuffer allocates a page-aligned buffer of size bytes for device I/O.
func AlignedBuffer(size int) []byte {
	return pool.Aligned(size, pool.PageAlignment)
}
