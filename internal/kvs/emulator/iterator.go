package emulator

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/piwi3910/kvbench/internal/iterator"
	"github.com/piwi3910/kvbench/internal/kvs"
)

type iterState struct {
	typ    kvs.IteratorType
	filter kvs.IteratorFilter
	last   []byte
	done   bool
}

// OpenIterator opens an iterator over the keys matching f. Opening an
// iterator identical to one already open rewinds and returns that one with
// ResultIteratorOpen.
func (k *Keyspace) OpenIterator(t kvs.IteratorType, f kvs.IteratorFilter) (kvs.IteratorHandle, kvs.Result) {
	k.iterMu.Lock()
	defer k.iterMu.Unlock()

	for h, st := range k.iters {
		if st.typ == t && st.filter == f {
			st.last = nil
			st.done = false
			return h, kvs.ResultIteratorOpen
		}
	}

	if len(k.iters) >= kvs.MaxIterators {
		return 0, kvs.ResultIteratorMax
	}

	k.nextIter++
	k.iters[k.nextIter] = &iterState{typ: t, filter: f}

	return k.nextIter, kvs.ResultSuccess
}

// CloseIterator releases h.
func (k *Keyspace) CloseIterator(h kvs.IteratorHandle) kvs.Result {
	k.iterMu.Lock()
	defer k.iterMu.Unlock()

	if _, ok := k.iters[h]; !ok {
		return kvs.ResultIteratorNotExist
	}
	delete(k.iters, h)
	return kvs.ResultSuccess
}

// iterateNext fills page with the records following the iterator's cursor
// in key order.
func (k *Keyspace) iterateNext(h kvs.IteratorHandle, page *kvs.IteratorList) kvs.Result {
	k.iterMu.Lock()
	st, ok := k.iters[h]
	var (
		done   bool
		cursor []byte
	)
	if ok {
		done, cursor = st.done, st.last
	}
	k.iterMu.Unlock()

	if !ok {
		return kvs.ResultIteratorNotExist
	}
	if len(page.Buf) == 0 {
		return kvs.ResultBufferSmall
	}

	page.NumEntries = 0
	page.End = false
	if done {
		page.End = true
		return kvs.ResultSuccess
	}

	seek := k.prefix
	if cursor != nil {
		seek = append(k.dbKey(cursor), 0)
	}

	var (
		off  int
		n    uint32
		more bool
		last []byte
	)

	err := k.dev.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = k.prefix
		opts.PrefetchValues = st.typ == kvs.IteratorKeyValue

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)[len(k.prefix):]
			if !st.filter.Match(key) {
				continue
			}

			var value []byte
			if st.typ == kvs.IteratorKeyValue {
				stored, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				if value, err = k.dev.decode(stored); err != nil {
					return err
				}
			}

			next, fits := iterator.Append(page.Buf, off, st.typ, key, value)
			if !fits {
				more = true
				return nil
			}
			off = next
			n++
			last = key
		}
		return nil
	})
	if err != nil {
		return toResult(err)
	}

	if more && n == 0 {
		return kvs.ResultBufferSmall
	}

	k.iterMu.Lock()
	if last != nil {
		st.last = last
	}
	st.done = !more
	k.iterMu.Unlock()

	page.NumEntries = n
	page.End = !more

	return kvs.ResultSuccess
}
