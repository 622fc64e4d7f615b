// Package correlation tracks in-flight requests for drivers whose
// completions do not carry the caller's own request record.
//
// Every asynchronous request is tagged with a request id drawn from
// NextToken before it is handed to the device. The entry is inserted first,
// so a completion racing ahead of the submit call still finds it.
package correlation

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/piwi3910/kvbench/internal/kvs"
)

// Entry is the benchmark-side state tied to one in-flight request.
type Entry struct {
	// Owner is the database handle that issued the request.
	Owner any
	// Start is the submission time. It is only meaningful when Timed is set.
	Start time.Time
	Timed bool
}

// Elapsed returns the microseconds since Start.
func (e Entry) Elapsed(now time.Time) uint64 {
	d := now.Sub(e.Start)
	if d < 0 {
		return 0
	}
	return uint64(d / time.Microsecond)
}

type shard struct {
	mu      sync.Mutex
	entries map[uint64]Entry
}

// Table maps request ids to entries, one shard per operation kind, plus a
// separate map of iterator sessions keyed by keyspace handle.
type Table struct {
	next atomic.Uint64

	store    shard
	retrieve shard
	delete   shard

	iterMu sync.Mutex
	iters  map[kvs.KeyspaceHandle]Entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{
		store:    shard{entries: make(map[uint64]Entry)},
		retrieve: shard{entries: make(map[uint64]Entry)},
		delete:   shard{entries: make(map[uint64]Entry)},
		iters:    make(map[kvs.KeyspaceHandle]Entry),
	}
}

// NextToken returns a fresh request id. Zero is never returned.
func (t *Table) NextToken() uint64 {
	return t.next.Add(1)
}

func (t *Table) shard(op kvs.OpKind) *shard {
	switch op {
	case kvs.OpStore:
		return &t.store
	case kvs.OpRetrieve:
		return &t.retrieve
	case kvs.OpDelete:
		return &t.delete
	default:
		return nil
	}
}

// Put records e for the request (op, token). It reports false when op has
// no table or the token is already in use.
func (t *Table) Put(op kvs.OpKind, token uint64, e Entry) bool {
	s := t.shard(op)
	if s == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.entries[token]; dup {
		return false
	}
	s.entries[token] = e
	return true
}

// Take removes and returns the entry for (op, token).
func (t *Table) Take(op kvs.OpKind, token uint64) (Entry, bool) {
	s := t.shard(op)
	if s == nil {
		return Entry{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[token]
	if ok {
		delete(s.entries, token)
	}
	return e, ok
}

// Pending returns the number of in-flight entries for op.
func (t *Table) Pending(op kvs.OpKind) int {
	if op == kvs.OpIterNext {
		t.iterMu.Lock()
		defer t.iterMu.Unlock()
		return len(t.iters)
	}

	s := t.shard(op)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// PutIterator records the iterator session of the keyspace h. Iteration
// pages are correlated by keyspace since one session per keyspace is open
// at a time. An existing entry is replaced.
func (t *Table) PutIterator(h kvs.KeyspaceHandle, e Entry) {
	t.iterMu.Lock()
	t.iters[h] = e
	t.iterMu.Unlock()
}

// LookupIterator returns the session entry of h without removing it.
func (t *Table) LookupIterator(h kvs.KeyspaceHandle) (Entry, bool) {
	t.iterMu.Lock()
	defer t.iterMu.Unlock()
	e, ok := t.iters[h]
	return e, ok
}

// RemoveIterator drops the session entry of h, if any.
func (t *Table) RemoveIterator(h kvs.KeyspaceHandle) {
	t.iterMu.Lock()
	delete(t.iters, h)
	t.iterMu.Unlock()
}
