package pool

import (
	"sync"

	"github.com/eapache/queue"
)

// FIFO is a mutex-guarded unbounded queue used to hand completed records
// from completion goroutines to the goroutine that harvests them.
type FIFO[T any] struct {
	mu sync.Mutex
	q  *queue.Queue
}

// NewFIFO returns an empty FIFO.
func NewFIFO[T any]() *FIFO[T] {
	return &FIFO[T]{q: queue.New()}
}

// Push appends v.
func (f *FIFO[T]) Push(v T) {
	f.mu.Lock()
	f.q.Add(v)
	f.mu.Unlock()
}

// PopN removes up to max values from the head and appends them to dst.
// It never blocks; an empty queue yields dst unchanged.
func (f *FIFO[T]) PopN(dst []T, max int) []T {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := 0; i < max && f.q.Length() > 0; i++ {
		dst = append(dst, f.q.Remove().(T))
	}

	return dst
}

// Len returns the number of queued values.
func (f *FIFO[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.q.Length()
}
