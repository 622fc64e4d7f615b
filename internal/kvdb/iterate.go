package kvdb

import (
	"errors"
	"fmt"

	"github.com/piwi3910/kvbench/internal/config"
	"github.com/piwi3910/kvbench/internal/correlation"
	"github.com/piwi3910/kvbench/internal/iterator"
	"github.com/piwi3910/kvbench/internal/kvs"
)

// IteratorOpen opens the database's iterator with the default key filter.
// Opening an open iterator returns iterator.ErrAlreadyOpen; any other
// device failure is fatal.
func (db *Database) IteratorOpen(t kvs.IteratorType) error {
	if db.closed.Load() {
		return ErrClosed
	}

	if err := db.iter.Open(t, iterator.DefaultFilter()); err != nil {
		if errors.Is(err, iterator.ErrAlreadyOpen) {
			return err
		}
		return db.env.fatalf("%w: iterator open failed on database %d: %v", ErrDeviceFailure, db.id, err)
	}

	if db.env.api == config.APIKeyspace {
		db.env.corr.PutIterator(db.ks.Handle(), correlation.Entry{Owner: db})
	}
	return nil
}

// IteratorNext submits an asynchronous read of the next page. Poll
// IteratorHasFinished for completion.
func (db *Database) IteratorNext() error {
	if db.closed.Load() {
		return ErrClosed
	}
	return db.iter.Next(func(req *kvs.Request) error {
		return db.submit(req, false)
	})
}

// IteratorClose closes the iterator. Closing a closed iterator is a no-op.
func (db *Database) IteratorClose() error {
	return db.closeIterator()
}

func (db *Database) closeIterator() error {
	if db.env.api == config.APIKeyspace {
		db.env.corr.RemoveIterator(db.ks.Handle())
	}
	if err := db.iter.Close(); err != nil {
		return fmt.Errorf("failed to close iterator on database %d: %w", db.id, err)
	}
	return nil
}

// IteratorHasFinished reports whether no page read is in flight.
func (db *Database) IteratorHasFinished() bool { return db.iter.HasFinished() }

// IteratorEntryCount returns the number of entries in the last page.
func (db *Database) IteratorEntryCount() uint32 { return db.iter.EntryCount() }

// IteratorEnd reports whether the last page was the final one.
func (db *Database) IteratorEnd() bool { return db.iter.End() }

// IteratorEntries returns the decoded entries of the last page.
func (db *Database) IteratorEntries() []iterator.Entry { return db.iter.Entries() }
