// Package latency stores raw completion latency samples.
//
// A Stat is a fixed-capacity ring: once it has seen more samples than it can
// hold, the oldest are overwritten, so it always reflects the most recent
// Cap() observations. Percentiles are computed elsewhere from Samples().
package latency

import (
	"sync"
	"sync/atomic"

	"github.com/piwi3910/kvbench/internal/kvs"
)

// DefaultMaxSample is the per-kind ring capacity used when none is set.
const DefaultMaxSample = 1000000

// Stat is a ring buffer of elapsed-microsecond samples for one operation kind.
type Stat struct {
	mu       sync.Mutex
	samples  []uint64
	cursor   uint64
	nsamples atomic.Uint64
	total    atomic.Uint64
}

// NewStat returns a Stat holding up to capacity samples.
func NewStat(capacity int) *Stat {
	if capacity <= 0 {
		capacity = DefaultMaxSample
	}
	return &Stat{samples: make([]uint64, capacity)}
}

// Record appends one sample, overwriting the oldest once full.
func (s *Stat) Record(elapsedUS uint64) {
	s.mu.Lock()
	capacity := uint64(len(s.samples))
	if s.cursor >= capacity {
		s.cursor %= capacity
	}
	s.samples[s.cursor] = elapsedUS
	s.cursor++
	if n := s.nsamples.Load(); n < capacity {
		s.nsamples.Store(n + 1)
	}
	s.mu.Unlock()

	s.total.Add(1)
}

// Count returns the number of valid samples. It does not lock and may lag a
// concurrent Record.
func (s *Stat) Count() int { return int(s.nsamples.Load()) }

// Total returns the number of samples ever recorded.
func (s *Stat) Total() uint64 { return s.total.Load() }

// Cap returns the ring capacity.
func (s *Stat) Cap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// Cursor returns the slot the next sample is written to, before wrapping.
func (s *Stat) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.cursor)
}

// Samples returns a copy of the valid samples in slot order.
func (s *Stat) Samples() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.nsamples.Load()
	out := make([]uint64, n)
	copy(out, s.samples[:n])
	return out
}

// Ordered returns a copy of the valid samples from oldest to newest.
func (s *Stat) Ordered() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.nsamples.Load()
	capacity := uint64(len(s.samples))
	out := make([]uint64, 0, n)
	if n < capacity {
		return append(out, s.samples[:n]...)
	}

	start := s.cursor % capacity
	out = append(out, s.samples[start:]...)
	return append(out, s.samples[:start]...)
}

// Reset discards all samples and resizes the ring to capacity.
func (s *Stat) Reset(capacity int) {
	if capacity <= 0 {
		capacity = DefaultMaxSample
	}
	s.mu.Lock()
	s.samples = make([]uint64, capacity)
	s.cursor = 0
	s.nsamples.Store(0)
	s.mu.Unlock()
	s.total.Store(0)
}

// Set holds one Stat per latency-tracked operation kind.
type Set struct {
	Read   *Stat
	Write  *Stat
	Delete *Stat
}

// NewSet returns a Set whose rings hold maxSample samples each.
func NewSet(maxSample int) *Set {
	return &Set{
		Read:   NewStat(maxSample),
		Write:  NewStat(maxSample),
		Delete: NewStat(maxSample),
	}
}

// For returns the Stat that tracks op, or nil for kinds without one.
func (s *Set) For(op kvs.OpKind) *Stat {
	if s == nil {
		return nil
	}
	switch op {
	case kvs.OpStore:
		return s.Write
	case kvs.OpRetrieve:
		return s.Read
	case kvs.OpDelete:
		return s.Delete
	default:
		return nil
	}
}

// SetMaxSample resizes every ring, discarding collected samples.
func (s *Set) SetMaxSample(n int) {
	s.Read.Reset(n)
	s.Write.Reset(n)
	s.Delete.Reset(n)
}
