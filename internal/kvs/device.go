package kvs

import (
	"context"
	"errors"
	"fmt"
)

// Driver errors.
var (
	ErrNotInitialized = errors.New("kvs: driver not initialized")
	ErrDeviceNotFound = errors.New("kvs: device not found")
	ErrDeviceClosed   = errors.New("kvs: device closed")
	ErrInvalidRequest = errors.New("kvs: invalid request")
	ErrNotPolling     = errors.New("kvs: device is not in polling mode")
)

// ResultError wraps a non-success Result returned by a device call.
type ResultError struct {
	Op     string
	Result Result
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("kvs: %s: %s", e.Op, e.Result)
}

// AsError returns nil for ResultSuccess and a *ResultError otherwise.
func (r Result) AsError(op string) error {
	if r == ResultSuccess {
		return nil
	}
	return &ResultError{Op: op, Result: r}
}

// EnvOptions configures a driver environment.
type EnvOptions struct {
	// QueueDepth is the per-device submission queue depth.
	QueueDepth int
	// AIOThreads is the number of completion goroutines per device.
	AIOThreads int
	// IOCoreMask is the CPU mask of the issuing core.
	IOCoreMask uint64
	// UserDriver selects the polling user-space driver.
	UserDriver bool
	// Polling selects polled completion delivery for the kernel driver.
	Polling bool
	// SyncIO is the user-space driver synchronous I/O switch.
	SyncIO bool
	// CoreMask and CQThreadMask are user-space driver core assignments.
	CoreMask     string
	CQThreadMask string
	// MemSizeMB is the user-space driver hugepage budget.
	MemSizeMB uint32
	// ConfigFile is the emulator configuration path, if any.
	ConfigFile string
}

// Driver opens devices within an initialized environment.
type Driver interface {
	Init(opts EnvOptions) error
	OpenDevice(path string) (Device, error)
	Exit() error
}

// Device manages keyspaces on one device.
type Device interface {
	ListKeyspaces(max int) ([]string, error)
	CreateKeyspace(name string, opt KeyspaceOption) error
	DeleteKeyspace(name string) error
	OpenKeyspace(name string) (Keyspace, error)
	Close() error
}

// Keyspace issues I/O against one open keyspace.
type Keyspace interface {
	Handle() KeyspaceHandle

	Store(key *Key, value *Value, opt StoreOption) Result
	Retrieve(key *Key, value *Value) Result
	Delete(key *Key) Result

	// Submit queues an asynchronous operation. cb is invoked exactly once
	// per accepted request. A non-nil error means the request was not
	// accepted and cb will not be invoked.
	Submit(req *Request, cb Callback) error

	// ReapEvents delivers queued completions on the calling goroutine when
	// the device runs in polling mode. It blocks until at least min (and at
	// least one) completions have been delivered, then drains whatever else
	// is ready up to max. It returns the number delivered.
	ReapEvents(ctx context.Context, min, max int) (int, error)

	OpenIterator(t IteratorType, f IteratorFilter) (IteratorHandle, Result)
	CloseIterator(h IteratorHandle) Result

	Close() error
}
