package workload

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/piwi3910/kvbench/internal/iterator"
)

func TestKey(t *testing.T) {
	assert.Equal(t, []byte("0000000000000042"), Key(42, 16))
	assert.Equal(t, []byte("00000007"), Key(7, 8))
	assert.True(t, bytes.HasPrefix(Key(123456, 32), []byte(iterator.PrefixKV)))
	assert.Len(t, Key(123456, 32), 32)
}

func TestKeyMatchesIteratorFilter(t *testing.T) {
	f := iterator.DefaultFilter()
	for _, i := range []int{0, 1, 9999, 12345678} {
		assert.True(t, f.Match(Key(i, 16)))
	}
}

func TestKeyCapacity(t *testing.T) {
	assert.Equal(t, uint64(0), KeyCapacity(4))
	assert.Equal(t, uint64(10000), KeyCapacity(8))
	assert.Equal(t, uint64(1000000000000), KeyCapacity(16))
	assert.Equal(t, ^uint64(0), KeyCapacity(64))
}

func TestOrderDeterministic(t *testing.T) {
	a := Order(100, 7)
	b := Order(100, 7)
	c := Order(100, 8)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Empty(t, Order(0, 1))
}

func TestFillValue(t *testing.T) {
	a := make([]byte, 37)
	b := make([]byte, 37)
	fillValue(a, 1)
	fillValue(b, 1)

	assert.Equal(t, a, b)
	assert.NotEqual(t, make([]byte, 37), a)
}

func TestProperty_OrderIsPermutation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every index appears exactly once", prop.ForAll(
		func(n int, seed uint32) bool {
			order := Order(n, seed)
			if len(order) != n {
				return false
			}
			seen := make([]bool, n)
			for _, i := range order {
				if i < 0 || i >= n || seen[i] {
					return false
				}
				seen[i] = true
			}
			return true
		},
		gen.IntRange(0, 2000),
		gen.UInt32(),
	))

	properties.TestingRun(t)
}
