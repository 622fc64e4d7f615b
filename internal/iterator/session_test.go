package iterator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/kvbench/internal/kvs"
)

// stubKeyspace serves iterator calls only.
type stubKeyspace struct {
	openResult  kvs.Result
	closeResult kvs.Result
	opened      int
	closed      int
}

func (k *stubKeyspace) Handle() kvs.KeyspaceHandle { return 1 }

func (k *stubKeyspace) Store(*kvs.Key, *kvs.Value, kvs.StoreOption) kvs.Result {
	return kvs.ResultInvalidOption
}

func (k *stubKeyspace) Retrieve(*kvs.Key, *kvs.Value) kvs.Result { return kvs.ResultInvalidOption }

func (k *stubKeyspace) Delete(*kvs.Key) kvs.Result { return kvs.ResultInvalidOption }

func (k *stubKeyspace) Submit(*kvs.Request, kvs.Callback) error { return kvs.ErrInvalidRequest }

func (k *stubKeyspace) ReapEvents(context.Context, int, int) (int, error) {
	return 0, kvs.ErrNotPolling
}

func (k *stubKeyspace) OpenIterator(kvs.IteratorType, kvs.IteratorFilter) (kvs.IteratorHandle, kvs.Result) {
	k.opened++
	return 5, k.openResult
}

func (k *stubKeyspace) CloseIterator(kvs.IteratorHandle) kvs.Result {
	k.closed++
	return k.closeResult
}

func (k *stubKeyspace) Close() error { return nil }

func fillPage(t *testing.T, page *kvs.IteratorList, keys ...string) {
	t.Helper()
	off := 0
	for _, k := range keys {
		var ok bool
		off, ok = Append(page.Buf, off, kvs.IteratorKey, []byte(k), nil)
		require.True(t, ok)
	}
	page.NumEntries = uint32(len(keys))
}

func TestSessionLifecycle(t *testing.T) {
	ks := &stubKeyspace{}
	s := NewSession(ks)
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, s.HasFinished())

	require.NoError(t, s.Open(kvs.IteratorKey, DefaultFilter()))
	assert.Equal(t, StateOpen, s.State())
	assert.ErrorIs(t, s.Open(kvs.IteratorKey, DefaultFilter()), ErrAlreadyOpen)
	assert.Equal(t, 1, ks.opened)

	var pending *kvs.Request
	require.NoError(t, s.Next(func(req *kvs.Request) error {
		pending = req
		return nil
	}))
	require.NotNil(t, pending)
	assert.Equal(t, kvs.OpIterNext, pending.Op)
	assert.Equal(t, kvs.IteratorHandle(5), pending.Iterator)
	assert.Len(t, pending.Page.Buf, kvs.IteratorPageSize)
	assert.False(t, s.HasFinished())
	assert.ErrorIs(t, s.Next(func(*kvs.Request) error { return nil }), ErrPending)

	fillPage(t, pending.Page, "0000a", "0000b")
	pending.Page.End = true
	require.NoError(t, s.Complete(pending.Page))

	assert.True(t, s.HasFinished())
	assert.Equal(t, StatePageReady, s.State())
	assert.Equal(t, uint32(2), s.EntryCount())
	assert.True(t, s.End())
	require.Len(t, s.Entries(), 2)
	assert.Equal(t, "0000b", string(s.Entries()[1].Key))

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, ks.closed)

	require.NoError(t, s.Close(), "double close is a no-op")
	assert.Equal(t, 1, ks.closed)
}

func TestSessionToleratesAlreadyOpen(t *testing.T) {
	ks := &stubKeyspace{openResult: kvs.ResultIteratorOpen}
	s := NewSession(ks)

	require.NoError(t, s.Open(kvs.IteratorKeyValue, DefaultFilter()))
	assert.Equal(t, StateOpen, s.State())
	assert.Equal(t, kvs.IteratorKeyValue, s.Type())
}

func TestSessionOpenFailure(t *testing.T) {
	ks := &stubKeyspace{openResult: kvs.ResultIteratorMax}
	s := NewSession(ks)

	err := s.Open(kvs.IteratorKey, DefaultFilter())
	var rerr *kvs.ResultError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, kvs.ResultIteratorMax, rerr.Result)
	assert.Equal(t, StateClosed, s.State())
	require.NoError(t, s.Close())
	assert.Zero(t, ks.closed)
}

func TestSessionNextRequiresOpen(t *testing.T) {
	s := NewSession(&stubKeyspace{})
	assert.ErrorIs(t, s.Next(func(*kvs.Request) error { return nil }), ErrNotOpen)
	assert.ErrorIs(t, s.Complete(nil), ErrNotOpen)
}

func TestSessionSubmitFailureRestoresState(t *testing.T) {
	s := NewSession(&stubKeyspace{})
	require.NoError(t, s.Open(kvs.IteratorKey, DefaultFilter()))

	boom := errors.New("queue full")
	assert.ErrorIs(t, s.Next(func(*kvs.Request) error { return boom }), boom)
	assert.Equal(t, StateOpen, s.State())
	assert.True(t, s.HasFinished())
}

func TestSessionCorruptPageEndsEnumeration(t *testing.T) {
	s := NewSession(&stubKeyspace{})
	require.NoError(t, s.Open(kvs.IteratorKey, DefaultFilter()))

	var page *kvs.IteratorList
	require.NoError(t, s.Next(func(req *kvs.Request) error {
		page = req.Page
		return nil
	}))
	page.NumEntries = kvs.IteratorPageSize

	assert.ErrorIs(t, s.Complete(page), ErrCorruptPage)
	assert.True(t, s.HasFinished())
	assert.True(t, s.End())
	assert.Zero(t, s.EntryCount())
}

func TestSessionNextClearsPreviousPage(t *testing.T) {
	s := NewSession(&stubKeyspace{})
	require.NoError(t, s.Open(kvs.IteratorKey, DefaultFilter()))

	var page *kvs.IteratorList
	submit := func(req *kvs.Request) error {
		page = req.Page
		return nil
	}

	require.NoError(t, s.Next(submit))
	fillPage(t, page, "0000a")
	require.NoError(t, s.Complete(page))
	require.Equal(t, uint32(1), s.EntryCount())

	require.NoError(t, s.Next(submit))
	assert.Zero(t, s.EntryCount())
	assert.Zero(t, page.NumEntries)
	assert.Equal(t, make([]byte, 16), page.Buf[:16])
}
