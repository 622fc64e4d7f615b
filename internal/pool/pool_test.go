package pool

import (
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	slot int
	data []byte
}

func newRecordPool(capacity int) *Pool[record] {
	return New("records", capacity, func(slot int) *record {
		return &record{slot: slot}
	})
}

func TestAcquireRelease(t *testing.T) {
	p := newRecordPool(4)
	assert.Equal(t, 4, p.Cap())
	assert.Equal(t, 4, p.Available())

	r, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 0, r.slot, "free list is FIFO starting at slot 0")
	assert.Equal(t, 0, p.Slot(r))
	assert.Equal(t, 1, p.Outstanding())

	require.NoError(t, p.Release(r))
	assert.Equal(t, 4, p.Available())

	// Released items go to the tail.
	next, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 1, next.slot)
}

func TestExhaustion(t *testing.T) {
	p := newRecordPool(2)

	_, err := p.Acquire()
	require.NoError(t, err)
	_, err = p.Acquire()
	require.NoError(t, err)

	r, err := p.Acquire()
	assert.Nil(t, r)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 0, p.Available())
}

func TestAcquireNIsAllOrNothing(t *testing.T) {
	p := newRecordPool(3)

	got, err := p.AcquireN(2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = p.AcquireN(2)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, p.Available(), "failed AcquireN must not take anything")
}

func TestDoubleRelease(t *testing.T) {
	p := newRecordPool(2)

	r, err := p.Acquire()
	require.NoError(t, err)
	require.NoError(t, p.Release(r))

	err = p.Release(r)
	assert.ErrorIs(t, err, ErrDoubleRelease)
	assert.Equal(t, 2, p.Available(), "double release must not grow the free list")
}

func TestForeignRelease(t *testing.T) {
	p := newRecordPool(1)
	err := p.Release(&record{})
	assert.ErrorIs(t, err, ErrForeign)
	assert.Equal(t, -1, p.Slot(&record{}))
}

func TestStats(t *testing.T) {
	p := newRecordPool(5)
	_, _ = p.Acquire()
	_, _ = p.Acquire()

	s := p.Stats()
	assert.Equal(t, Stats{Name: "records", Capacity: 5, Available: 3, Outstanding: 2}, s)
}

func TestConcurrentOwnership(t *testing.T) {
	const (
		capacity = 64
		workers  = 8
		rounds   = 2000
	)

	p := newRecordPool(capacity)
	var owners sync.Map

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				r, err := p.Acquire()
				if err != nil {
					continue
				}
				if prev, loaded := owners.LoadOrStore(r.slot, id); loaded {
					t.Errorf("slot %d handed to %d while held by %v", r.slot, id, prev)
				}
				owners.Delete(r.slot)
				if err := p.Release(r); err != nil {
					t.Errorf("release: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, capacity, p.Available())
}

func TestProperty_NoDoubleHandout(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// true = acquire, false = release the oldest outstanding item
	properties.Property("outstanding items are distinct and Available == Cap - outstanding", prop.ForAll(
		func(capacity int, ops []bool) bool {
			p := newRecordPool(capacity)
			var held []*record
			inUse := map[*record]bool{}

			for _, acquire := range ops {
				if acquire {
					r, err := p.Acquire()
					if len(held) == capacity {
						if err == nil {
							return false
						}
						continue
					}
					if err != nil || inUse[r] {
						return false
					}
					inUse[r] = true
					held = append(held, r)
				} else if len(held) > 0 {
					r := held[0]
					held = held[1:]
					delete(inUse, r)
					if p.Release(r) != nil {
						return false
					}
				}

				if p.Available() != capacity-len(held) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 16),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

func TestFIFO(t *testing.T) {
	f := NewFIFO[int]()
	assert.Empty(t, f.PopN(nil, 4), "empty queue yields nothing")

	for i := 0; i < 5; i++ {
		f.Push(i)
	}
	assert.Equal(t, 5, f.Len())

	got := f.PopN(nil, 3)
	assert.Equal(t, []int{0, 1, 2}, got)

	got = f.PopN(got[:0], 10)
	assert.Equal(t, []int{3, 4}, got)
	assert.Equal(t, 0, f.Len())
}
