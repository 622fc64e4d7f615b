// Package pool implements fixed-capacity arenas of reusable records.
//
// A Pool allocates every item up front and hands out exclusive ownership
// through Acquire. Ownership comes back with Release. The pool never grows:
// running out of items is reported as ErrExhausted instead of allocating, so
// a misconfigured run fails loudly rather than consuming unbounded memory.
//
// Acquire and Release may be called concurrently from issuing goroutines and
// from device completion goroutines.
package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/eapache/queue"
)

// Pool errors.
var (
	ErrExhausted     = errors.New("pool: exhausted")
	ErrDoubleRelease = errors.New("pool: item released twice")
	ErrForeign       = errors.New("pool: item does not belong to this pool")
)

// Pool is a fixed arena of *T items with a FIFO free list.
type Pool[T any] struct {
	name  string
	items []*T
	index map[*T]int // immutable after New

	mu   sync.Mutex
	free *queue.Queue // of int slot indices
	held []bool
}

// New allocates capacity items using newItem and places them all on the
// free list. newItem receives the slot index of the item it creates.
func New[T any](name string, capacity int, newItem func(slot int) *T) *Pool[T] {
	if capacity <= 0 {
		panic(fmt.Sprintf("pool %s: capacity must be positive", name))
	}

	p := &Pool[T]{
		name:  name,
		items: make([]*T, capacity),
		index: make(map[*T]int, capacity),
		free:  queue.New(),
		held:  make([]bool, capacity),
	}

	for i := range p.items {
		var it *T
		if newItem != nil {
			it = newItem(i)
		}
		if it == nil {
			it = new(T)
		}
		p.items[i] = it
		p.index[it] = i
		p.free.Add(i)
	}

	return p
}

// Name returns the pool name used in diagnostics.
func (p *Pool[T]) Name() string { return p.name }

// Cap returns the fixed pool capacity.
func (p *Pool[T]) Cap() int { return len(p.items) }

// Acquire removes the head of the free list and returns it.
func (p *Pool[T]) Acquire() (*T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.free.Length() == 0 {
		return nil, fmt.Errorf("%w: %s (capacity %d)", ErrExhausted, p.name, len(p.items))
	}

	slot := p.free.Remove().(int)
	p.held[slot] = true

	return p.items[slot], nil
}

// AcquireN acquires n items atomically: either all n are returned or none.
func (p *Pool[T]) AcquireN(n int) ([]*T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.free.Length() < n {
		return nil, fmt.Errorf("%w: %s wants %d, %d available", ErrExhausted, p.name, n, p.free.Length())
	}

	out := make([]*T, n)
	for i := range out {
		slot := p.free.Remove().(int)
		p.held[slot] = true
		out[i] = p.items[slot]
	}

	return out, nil
}

// Release returns it to the tail of the free list.
func (p *Pool[T]) Release(it *T) error {
	slot, ok := p.index[it]
	if !ok {
		return fmt.Errorf("%w: %s", ErrForeign, p.name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.held[slot] {
		return fmt.Errorf("%w: %s slot %d", ErrDoubleRelease, p.name, slot)
	}

	p.held[slot] = false
	p.free.Add(slot)

	return nil
}

// Slot returns the arena index of it, or -1 if it is not from this pool.
func (p *Pool[T]) Slot(it *T) int {
	if slot, ok := p.index[it]; ok {
		return slot
	}
	return -1
}

// Available returns the number of items on the free list.
func (p *Pool[T]) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.Length()
}

// Outstanding returns the number of items currently acquired.
func (p *Pool[T]) Outstanding() int {
	return p.Cap() - p.Available()
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Name        string `json:"name"`
	Capacity    int    `json:"capacity"`
	Available   int    `json:"available"`
	Outstanding int    `json:"outstanding"`
}

// Stats returns the current pool counters.
func (p *Pool[T]) Stats() Stats {
	avail := p.Available()
	return Stats{
		Name:        p.name,
		Capacity:    p.Cap(),
		Available:   avail,
		Outstanding: p.Cap() - avail,
	}
}
