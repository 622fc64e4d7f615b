package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/piwi3910/kvbench/internal/kvdb"
)

// AssertNoFatal asserts that nothing reached the fatal handler.
func AssertNoFatal(t testing.TB, rec *FatalRecorder) {
	t.Helper()
	assert.Empty(t, rec.Errors(), "unexpected fatal errors")
}

// AssertPoolsIdle asserts that every pool of every database has all of its
// items back on the free list.
func AssertPoolsIdle(t testing.TB, dbs ...*kvdb.Database) {
	t.Helper()

	for _, db := range dbs {
		for _, p := range db.PoolStats() {
			assert.Zero(t, p.Outstanding, "db%d pool %s has outstanding items", db.ID(), p.Name)
		}
		assert.Zero(t, db.InFlight(), "db%d has operations in flight", db.ID())
	}
}
