package iterator

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/piwi3910/kvbench/internal/kvs"
)

// ErrCorruptPage is returned when a page's declared entries do not fit in
// its buffer.
var ErrCorruptPage = errors.New("iterator: corrupt page")

const lengthPrefix = 4

// Entry is one decoded page record. Key and Value alias the page buffer and
// are only valid until the next page is requested.
type Entry struct {
	Key   []byte
	Value []byte
}

// Decode splits the first n records out of page using the layout of t.
//
// Key pages are a sequence of {u32 length, key}. Key-value pages are a
// sequence of {16-byte key, u32 value length, value}; fixed keys shorter
// than 16 bytes are NUL padded and the padding is trimmed. Decode never
// reads past n records nor past the end of page.
func Decode(page []byte, n uint32, t kvs.IteratorType) ([]Entry, error) {
	// Every record takes at least a length prefix, so a page cannot hold
	// more than len(page)/lengthPrefix of them whatever n claims.
	entries := make([]Entry, 0, min(int64(n), int64(len(page)/lengthPrefix)))
	off := 0

	for i := uint32(0); i < n; i++ {
		var e Entry

		switch t {
		case kvs.IteratorKeyValue:
			if len(page)-off < kvs.IteratorKeyLength+lengthPrefix {
				return entries, fmt.Errorf("%w: entry %d header past end of page", ErrCorruptPage, i)
			}
			e.Key = bytes.TrimRight(page[off:off+kvs.IteratorKeyLength], "\x00")
			off += kvs.IteratorKeyLength

			vlen := int(binary.LittleEndian.Uint32(page[off:]))
			off += lengthPrefix
			if vlen > len(page)-off {
				return entries, fmt.Errorf("%w: entry %d value of %d bytes past end of page", ErrCorruptPage, i, vlen)
			}
			e.Value = page[off : off+vlen]
			off += vlen

		default:
			if len(page)-off < lengthPrefix {
				return entries, fmt.Errorf("%w: entry %d header past end of page", ErrCorruptPage, i)
			}
			klen := int(binary.LittleEndian.Uint32(page[off:]))
			off += lengthPrefix
			if klen > len(page)-off {
				return entries, fmt.Errorf("%w: entry %d key of %d bytes past end of page", ErrCorruptPage, i, klen)
			}
			e.Key = page[off : off+klen]
			off += klen
		}

		entries = append(entries, e)
	}

	return entries, nil
}

// EncodedLen returns the number of page bytes one record occupies.
func EncodedLen(t kvs.IteratorType, keyLen, valueLen int) int {
	if t == kvs.IteratorKeyValue {
		return kvs.IteratorKeyLength + lengthPrefix + valueLen
	}
	return lengthPrefix + keyLen
}

// Append writes one record at off and returns the new offset. It returns
// false without writing when the record does not fit.
func Append(page []byte, off int, t kvs.IteratorType, key, value []byte) (int, bool) {
	if off+EncodedLen(t, len(key), len(value)) > len(page) {
		return off, false
	}

	if t == kvs.IteratorKeyValue {
		fixed := page[off : off+kvs.IteratorKeyLength]
		clear(fixed)
		copy(fixed, key)
		off += kvs.IteratorKeyLength

		binary.LittleEndian.PutUint32(page[off:], uint32(len(value)))
		off += lengthPrefix
		off += copy(page[off:], value)
		return off, true
	}

	binary.LittleEndian.PutUint32(page[off:], uint32(len(key)))
	off += lengthPrefix
	off += copy(page[off:], key)
	return off, true
}
