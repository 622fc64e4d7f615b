// Package kvs defines the contract between the benchmark core and a
// key-value device driver.
//
// The driver issues operations against a keyspace on the device and reports
// each asynchronous operation back through a Callback, invoked on a
// goroutine owned by the driver. Completions carry either the opaque
// Private value or the Token supplied at submission time, depending on which
// flavour of the driver API the caller uses:
//
//   - Direct-callback API: the caller stores its own request record in
//     Request.Private and receives it back verbatim.
//   - Keyspace API: the caller assigns a request id to Request.Token and
//     keeps its own table of in-flight requests keyed by that id.
//
// Buffer layouts of iterator pages are fixed by the device and documented
// on IteratorList.
package kvs

import "fmt"

// Key and value limits enforced by devices.
const (
	MinKeyLength   = 1
	MaxKeyLength   = 255
	MaxValueLength = 2 << 20

	// IteratorKeyLength is the fixed key width used in key-value iterator pages.
	IteratorKeyLength = 16

	// IteratorPageSize is the size of the buffer handed to IterateNext.
	IteratorPageSize = 32 * 1024

	// MaxIterators is the number of iterators a keyspace may have open.
	MaxIterators = 16
)

// OpKind identifies the kind of a device operation.
type OpKind int

const (
	OpStore OpKind = iota
	OpRetrieve
	OpDelete
	OpIterNext
)

func (o OpKind) String() string {
	switch o {
	case OpStore:
		return "store"
	case OpRetrieve:
		return "retrieve"
	case OpDelete:
		return "delete"
	case OpIterNext:
		return "iterate_next"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Result is the status code a device reports for an operation.
type Result int

const (
	ResultSuccess Result = iota
	ResultKeyNotExist
	ResultBufferSmall
	ResultKeyExist
	ResultIteratorOpen
	ResultIteratorNotExist
	ResultIteratorMax
	ResultKeyspaceNotExist
	ResultKeyspaceExist
	ResultInvalidKeyLength
	ResultInvalidValueLength
	ResultInvalidOption
	ResultDeviceClosed
	ResultIOError
)

var resultNames = map[Result]string{
	ResultSuccess:            "success",
	ResultKeyNotExist:        "key does not exist",
	ResultBufferSmall:        "buffer too small",
	ResultKeyExist:           "key already exists",
	ResultIteratorOpen:       "iterator already open",
	ResultIteratorNotExist:   "iterator does not exist",
	ResultIteratorMax:        "too many open iterators",
	ResultKeyspaceNotExist:   "keyspace does not exist",
	ResultKeyspaceExist:      "keyspace already exists",
	ResultInvalidKeyLength:   "invalid key length",
	ResultInvalidValueLength: "invalid value length",
	ResultInvalidOption:      "invalid option",
	ResultDeviceClosed:       "device closed",
	ResultIOError:            "device i/o error",
}

func (r Result) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}
	return fmt.Sprintf("result(0x%x)", int(r))
}

// OK reports whether r is ResultSuccess.
func (r Result) OK() bool { return r == ResultSuccess }

// Key is a device-facing key descriptor.
type Key struct {
	Data []byte
}

// Len returns the key length in bytes.
func (k *Key) Len() int { return len(k.Data) }

// Value is a device-facing value descriptor. For retrieves, Data is the
// caller's buffer; the device fills it from Offset and sets ActualSize to
// the full stored length.
type Value struct {
	Data       []byte
	ActualSize uint32
	Offset     uint32
}

// StoreType selects the store semantics.
type StoreType int

const (
	// StorePost inserts or overwrites.
	StorePost StoreType = iota
	// StoreUpdateOnly fails with ResultKeyNotExist when the key is absent.
	StoreUpdateOnly
	// StoreNoOverwrite fails with ResultKeyExist when the key is present.
	StoreNoOverwrite
)

// StoreOption carries per-store options.
type StoreOption struct {
	Type     StoreType
	Compress bool
}

// KeyOrder is the ordering a keyspace is created with.
type KeyOrder int

const (
	KeyOrderNone KeyOrder = iota
	KeyOrderAscending
)

// KeyspaceOption carries keyspace creation options.
type KeyspaceOption struct {
	Order KeyOrder
}

// KeyspaceHandle identifies an open keyspace.
type KeyspaceHandle uint64

// IteratorHandle identifies an open iterator within a keyspace.
type IteratorHandle uint32

// IteratorType selects the iterator page layout.
type IteratorType int

const (
	// IteratorKey pages hold keys only: repeated {u32 key length, key bytes}.
	IteratorKey IteratorType = iota
	// IteratorKeyValue pages hold fixed 16-byte keys followed by
	// {u32 value length, value bytes}.
	IteratorKeyValue
)

func (t IteratorType) String() string {
	if t == IteratorKeyValue {
		return "key_value"
	}
	return "key"
}

// IteratorFilter selects keys whose first four bytes, masked with BitMask,
// equal BitPattern masked the same way. Missing key bytes compare as zero.
type IteratorFilter struct {
	BitMask    [4]byte
	BitPattern [4]byte
}

// Match reports whether key passes the filter.
func (f IteratorFilter) Match(key []byte) bool {
	for i := 0; i < 4; i++ {
		var b byte
		if i < len(key) {
			b = key[i]
		}
		if b&f.BitMask[i] != f.BitPattern[i]&f.BitMask[i] {
			return false
		}
	}
	return true
}

// IteratorList is the page buffer for one IterateNext call. All integers in
// the page are little-endian.
type IteratorList struct {
	Buf        []byte
	NumEntries uint32
	End        bool
}

// Request is one asynchronous operation.
type Request struct {
	Op    OpKind
	Key   *Key
	Value *Value
	Store StoreOption

	// Iterator and Page are used by OpIterNext.
	Iterator IteratorHandle
	Page     *IteratorList

	// Private is returned verbatim in the completion.
	Private any
	// Token is returned verbatim in the completion.
	Token uint64
}

// Completion describes a finished asynchronous operation. It is owned by the
// driver and only valid for the duration of the callback.
type Completion struct {
	Op       OpKind
	Result   Result
	Key      *Key
	Value    *Value
	Keyspace KeyspaceHandle
	Iterator IteratorHandle
	Page     *IteratorList
	Private  any
	Token    uint64
}

// Callback is invoked once per completed asynchronous operation.
type Callback func(c *Completion)
