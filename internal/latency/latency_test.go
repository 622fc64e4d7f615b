package latency

import (
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/kvbench/internal/kvs"
)

func TestRecordBelowCapacity(t *testing.T) {
	s := NewStat(4)
	s.Record(10)
	s.Record(20)

	assert.Equal(t, 2, s.Count())
	assert.Equal(t, 2, s.Cursor())
	assert.Equal(t, []uint64{10, 20}, s.Samples())
	assert.Equal(t, []uint64{10, 20}, s.Ordered())
}

func TestRecordWraps(t *testing.T) {
	s := NewStat(3)
	for _, v := range []uint64{1, 2, 3, 4, 5} {
		s.Record(v)
	}

	assert.Equal(t, 3, s.Count(), "count saturates at capacity")
	assert.Equal(t, uint64(5), s.Total())
	assert.Equal(t, []uint64{4, 5, 3}, s.Samples())
	assert.Equal(t, []uint64{3, 4, 5}, s.Ordered())
}

func TestRecordKeepsCountAcrossManyWraps(t *testing.T) {
	s := NewStat(3)
	for v := uint64(1); v <= 11; v++ {
		s.Record(v)
		if v >= 3 {
			require.Equal(t, 3, s.Count(), "after %d records", v)
		}
	}

	assert.Equal(t, []uint64{10, 11, 9}, s.Samples())
	assert.Equal(t, []uint64{9, 10, 11}, s.Ordered())
}

func TestResetResizes(t *testing.T) {
	s := NewStat(2)
	s.Record(7)
	s.Reset(8)

	assert.Equal(t, 0, s.Count())
	assert.Equal(t, 8, s.Cap())
	assert.Empty(t, s.Samples())
}

func TestDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultMaxSample, NewStat(0).Cap())
}

func TestSetFor(t *testing.T) {
	set := NewSet(16)
	assert.Same(t, set.Write, set.For(kvs.OpStore))
	assert.Same(t, set.Read, set.For(kvs.OpRetrieve))
	assert.Same(t, set.Delete, set.For(kvs.OpDelete))
	assert.Nil(t, set.For(kvs.OpIterNext))

	var nilSet *Set
	assert.Nil(t, nilSet.For(kvs.OpStore))

	set.Write.Record(1)
	set.SetMaxSample(4)
	assert.Equal(t, 4, set.Write.Cap())
	assert.Equal(t, 0, set.Write.Count())
}

func TestConcurrentRecord(t *testing.T) {
	s := NewStat(128)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				s.Record(uint64(i))
				_ = s.Count()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 128, s.Count())
	assert.Equal(t, uint64(4000), s.Total())
}

func TestProperty_RingKeepsLastK(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("after M inserts a ring of K holds v[M-K..M-1]", prop.ForAll(
		func(k int, values []uint64) bool {
			s := NewStat(k)
			for _, v := range values {
				s.Record(v)
			}

			want := values
			if len(values) > k {
				want = values[len(values)-k:]
			}
			if s.Count() != len(want) {
				return false
			}

			got := s.Ordered()
			if len(got) != len(want) {
				return false
			}
			for i := range want {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 32),
		gen.SliceOf(gen.UInt64()),
	))

	properties.TestingRun(t)
}

func TestOrderedAfterExactFill(t *testing.T) {
	s := NewStat(3)
	for _, v := range []uint64{1, 2, 3} {
		s.Record(v)
	}
	require.Equal(t, 3, s.Count())
	assert.Equal(t, []uint64{1, 2, 3}, s.Ordered())
}
