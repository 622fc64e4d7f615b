// Package iterator implements paginated enumeration of a keyspace.
//
// A Session wraps one device iterator and a fixed page buffer. Pages are
// fetched asynchronously: Next submits a page read and returns at once; the
// completion path calls Complete, after which HasFinished reports true and
// the decoded entries are available.
package iterator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/piwi3910/kvbench/internal/kvs"
	"github.com/piwi3910/kvbench/internal/pool"
)

// Session errors.
var (
	ErrAlreadyOpen = errors.New("iterator: session already open")
	ErrNotOpen     = errors.New("iterator: session not open")
	ErrPending     = errors.New("iterator: page read in flight")
)

// State is the session life-cycle state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StatePagePending
	StatePageReady
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StatePagePending:
		return "page_pending"
	case StatePageReady:
		return "page_ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PrefixKV is the key prefix benchmark keys carry and iterators select on.
const PrefixKV = "0000"

// DefaultFilter selects keys whose first two bytes are "00".
func DefaultFilter() kvs.IteratorFilter {
	f := kvs.IteratorFilter{BitMask: [4]byte{0xff, 0xff, 0x00, 0x00}}
	copy(f.BitPattern[:], PrefixKV)
	return f
}

// Session is the iterator state of one database. It is safe for one issuing
// goroutine and one completion goroutine.
type Session struct {
	ks kvs.Keyspace

	mu      sync.Mutex
	state   State
	typ     kvs.IteratorType
	handle  kvs.IteratorHandle
	page    *kvs.IteratorList
	entries []Entry
	count   uint32
	end     bool
}

// NewSession returns a closed session over ks.
func NewSession(ks kvs.Keyspace) *Session {
	return &Session{ks: ks}
}

// Open acquires a device iterator and a page buffer. A device report that
// the iterator is already open is tolerated and the returned handle used.
func (s *Session) Open(t kvs.IteratorType, f kvs.IteratorFilter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateClosed {
		return ErrAlreadyOpen
	}

	h, res := s.ks.OpenIterator(t, f)
	switch res {
	case kvs.ResultSuccess:
	case kvs.ResultIteratorOpen:
		log.Debug().Uint32("handle", uint32(h)).Msg("Device reports iterator already open, reusing it")
	default:
		return res.AsError("open iterator")
	}

	s.typ = t
	s.handle = h
	s.page = &kvs.IteratorList{Buf: pool.Aligned(kvs.IteratorPageSize, pool.PageAlignment)}
	s.entries = nil
	s.count = 0
	s.end = false
	s.state = StateOpen

	return nil
}

// Next clears the page buffer and hands a page read to submit. The session
// stays pending until Complete is called.
func (s *Session) Next(submit func(req *kvs.Request) error) error {
	s.mu.Lock()

	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrNotOpen
	case StatePagePending:
		s.mu.Unlock()
		return ErrPending
	}

	prev := s.state
	clear(s.page.Buf)
	s.page.NumEntries = 0
	s.page.End = false
	s.entries = nil
	s.count = 0
	s.state = StatePagePending

	req := &kvs.Request{Op: kvs.OpIterNext, Iterator: s.handle, Page: s.page}
	s.mu.Unlock()

	// submit may complete synchronously and re-enter Complete.
	if err := submit(req); err != nil {
		s.mu.Lock()
		if s.state == StatePagePending {
			s.state = prev
		}
		s.mu.Unlock()
		return err
	}

	return nil
}

// Complete decodes the page delivered by the device and marks it ready.
// A corrupt page is reported as ready and final with no entries.
func (s *Session) Complete(page *kvs.IteratorList) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePagePending {
		return fmt.Errorf("%w: completion in state %s", ErrNotOpen, s.state)
	}
	if page == nil {
		page = s.page
	}

	entries, err := Decode(page.Buf, page.NumEntries, s.typ)
	s.state = StatePageReady
	if err != nil {
		s.entries = nil
		s.count = 0
		s.end = true
		return err
	}

	s.entries = entries
	s.count = page.NumEntries
	s.end = page.End

	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		for i, e := range entries {
			log.Debug().Int("index", i).Bytes("key", e.Key).Int("value_len", len(e.Value)).
				Msg("Iterator entry")
		}
	}

	return nil
}

// Close releases the device iterator and the page buffer. Closing a closed
// session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}

	res := s.ks.CloseIterator(s.handle)

	s.page = nil
	s.entries = nil
	s.count = 0
	s.end = false
	s.handle = 0
	s.state = StateClosed

	if res != kvs.ResultSuccess && res != kvs.ResultIteratorNotExist {
		return res.AsError("close iterator")
	}
	return nil
}

// HasFinished reports whether no page read is in flight.
func (s *Session) HasFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StatePagePending
}

// EntryCount returns the number of entries in the last ready page.
func (s *Session) EntryCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// End reports whether the device signalled the end of the enumeration.
func (s *Session) End() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end
}

// Entries returns the entries of the last ready page.
func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries
}

// State returns the current life-cycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Type returns the page layout of the open iterator.
func (s *Session) Type() kvs.IteratorType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typ
}
