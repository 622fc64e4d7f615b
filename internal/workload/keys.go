package workload

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/spaolacci/murmur3"

	"github.com/piwi3910/kvbench/internal/iterator"
)

// ErrKeySpace is returned when the key length cannot hold the operation count.
var ErrKeySpace = fmt.Errorf("workload: key length too short for operation count")

// KeyCapacity returns how many distinct keys of length width exist.
func KeyCapacity(width int) uint64 {
	digits := width - len(iterator.PrefixKV)
	if digits <= 0 {
		return 0
	}
	if digits >= 19 {
		return math.MaxUint64
	}
	n := uint64(1)
	for i := 0; i < digits; i++ {
		n *= 10
	}
	return n
}

// Key returns key i: the iterator prefix followed by i in decimal,
// zero-padded to width bytes.
func Key(i, width int) []byte {
	digits := width - len(iterator.PrefixKV)
	return []byte(fmt.Sprintf("%s%0*d", iterator.PrefixKV, digits, i))
}

// Order returns a seeded permutation of [0, n) so keys reach the device
// out of key order.
func Order(n int, seed uint32) []int {
	type ranked struct {
		i    int
		rank uint64
	}

	rs := make([]ranked, n)
	var buf [8]byte
	for i := range rs {
		binary.LittleEndian.PutUint64(buf[:], uint64(i))
		rs[i] = ranked{i: i, rank: murmur3.Sum64WithSeed(buf[:], seed)}
	}
	sort.Slice(rs, func(a, b int) bool {
		if rs[a].rank == rs[b].rank {
			return rs[a].i < rs[b].i
		}
		return rs[a].rank < rs[b].rank
	})

	out := make([]int, n)
	for k, r := range rs {
		out[k] = r.i
	}
	return out
}

// fillValue writes a pattern derived from seed into buf.
func fillValue(buf []byte, seed uint32) {
	var word [4]byte
	h := seed
	for off := 0; off < len(buf); off += len(word) {
		binary.LittleEndian.PutUint32(word[:], h)
		h = murmur3.Sum32WithSeed(word[:], seed)
		copy(buf[off:], word[:])
	}
}
