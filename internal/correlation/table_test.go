package correlation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/kvbench/internal/kvs"
)

func TestPutTake(t *testing.T) {
	tbl := New()
	tok := tbl.NextToken()
	require.NotZero(t, tok)

	require.True(t, tbl.Put(kvs.OpStore, tok, Entry{Owner: "db0"}))
	assert.Equal(t, 1, tbl.Pending(kvs.OpStore))
	assert.Equal(t, 0, tbl.Pending(kvs.OpRetrieve))

	_, ok := tbl.Take(kvs.OpRetrieve, tok)
	assert.False(t, ok, "kinds are kept apart")

	e, ok := tbl.Take(kvs.OpStore, tok)
	require.True(t, ok)
	assert.Equal(t, "db0", e.Owner)

	_, ok = tbl.Take(kvs.OpStore, tok)
	assert.False(t, ok, "entries are consumed once")
}

func TestPutRejectsDuplicateAndUnknownKind(t *testing.T) {
	tbl := New()
	assert.True(t, tbl.Put(kvs.OpDelete, 7, Entry{}))
	assert.False(t, tbl.Put(kvs.OpDelete, 7, Entry{}))
	assert.False(t, tbl.Put(kvs.OpIterNext, 8, Entry{}))
}

func TestTokensAreUnique(t *testing.T) {
	tbl := New()
	seen := sync.Map{}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_, dup := seen.LoadOrStore(tbl.NextToken(), struct{}{})
				assert.False(t, dup)
			}
		}()
	}
	wg.Wait()
}

func TestIteratorEntries(t *testing.T) {
	tbl := New()
	h := kvs.KeyspaceHandle(3)

	_, ok := tbl.LookupIterator(h)
	assert.False(t, ok)

	tbl.PutIterator(h, Entry{Owner: 1})
	e, ok := tbl.LookupIterator(h)
	require.True(t, ok)
	assert.Equal(t, 1, e.Owner)
	assert.Equal(t, 1, tbl.Pending(kvs.OpIterNext))

	tbl.RemoveIterator(h)
	tbl.RemoveIterator(h)
	_, ok = tbl.LookupIterator(h)
	assert.False(t, ok)
}

func TestElapsed(t *testing.T) {
	start := time.Now()
	e := Entry{Start: start, Timed: true}
	assert.Equal(t, uint64(1500), e.Elapsed(start.Add(1500*time.Microsecond)))
	assert.Zero(t, e.Elapsed(start.Add(-time.Second)))
}
