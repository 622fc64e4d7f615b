// Package emulator provides an in-process key-value device.
//
// The emulator implements the kvs driver contract on top of an in-memory
// badger store. Each keyspace is a key prefix within the device's store.
// Asynchronous requests are executed by a fixed set of worker goroutines per
// keyspace; completions are delivered either directly from the worker
// (interrupt mode) or queued until the caller reaps them (polling mode).
package emulator

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/piwi3910/kvbench/internal/codec"
	"github.com/piwi3910/kvbench/internal/kvs"
)

const (
	defaultQueueDepth          = 64
	defaultAIOThreads          = 2
	defaultCompletionQueueSize = 1 << 16
)

// ErrAlreadyInitialized is returned by Init when the driver is in use.
var ErrAlreadyInitialized = errors.New("emulator: driver already initialized")

// Config configures the emulated device.
type Config struct {
	// Codec compresses values stored with StoreOption.Compress.
	Codec codec.Algorithm
	// Latency is added to every asynchronous request before it completes.
	Latency time.Duration
	// CompletionQueueSize bounds the number of unreaped completions per
	// keyspace in polling mode.
	CompletionQueueSize int
}

// Driver is an emulated kvs.Driver.
type Driver struct {
	cfg Config

	mu          sync.Mutex
	opts        kvs.EnvOptions
	initialized bool
	devices     map[*Device]struct{}

	nextHandle atomic.Uint64

	faultMu sync.Mutex
	faults  map[kvs.OpKind][]kvs.Result
}

// New returns an uninitialized driver.
func New(cfg Config) *Driver {
	if cfg.CompletionQueueSize <= 0 {
		cfg.CompletionQueueSize = defaultCompletionQueueSize
	}
	if cfg.Codec == "" {
		cfg.Codec = codec.AlgorithmNone
	}

	return &Driver{
		cfg:     cfg,
		devices: make(map[*Device]struct{}),
		faults:  make(map[kvs.OpKind][]kvs.Result),
	}
}

// Init prepares the environment.
func (d *Driver) Init(opts kvs.EnvOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return ErrAlreadyInitialized
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = defaultQueueDepth
	}
	if opts.AIOThreads <= 0 {
		opts.AIOThreads = defaultAIOThreads
	}

	d.opts = opts
	d.initialized = true

	log.Debug().
		Int("queue_depth", opts.QueueDepth).
		Int("aio_threads", opts.AIOThreads).
		Bool("user_driver", opts.UserDriver).
		Bool("polling", d.polling()).
		Str("codec", string(d.cfg.Codec)).
		Msg("Emulated device environment initialized")

	return nil
}

func (d *Driver) polling() bool {
	return d.opts.Polling && !d.opts.UserDriver
}

// Options returns the options the environment was initialized with.
func (d *Driver) Options() kvs.EnvOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts
}

// OpenDevice opens a new emulated device. Every open yields an independent
// device; path only labels it.
func (d *Driver) OpenDevice(path string) (kvs.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil, kvs.ErrNotInitialized
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", kvs.ErrDeviceNotFound)
	}

	comp, err := codec.New(d.cfg.Codec)
	if err != nil {
		return nil, err
	}

	dev, err := openDevice(d, path, comp)
	if err != nil {
		return nil, err
	}
	d.devices[dev] = struct{}{}

	return dev, nil
}

func (d *Driver) forget(dev *Device) {
	d.mu.Lock()
	delete(d.devices, dev)
	d.mu.Unlock()
}

// Exit closes any devices left open and tears down the environment.
func (d *Driver) Exit() error {
	d.mu.Lock()
	devices := make([]*Device, 0, len(d.devices))
	for dev := range d.devices {
		devices = append(devices, dev)
	}
	d.initialized = false
	d.mu.Unlock()

	var errs []error
	for _, dev := range devices {
		if err := dev.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// InjectFault makes the next asynchronous request of kind op complete with
// result r instead of executing. Faults queue up in call order.
func (d *Driver) InjectFault(op kvs.OpKind, r kvs.Result) {
	d.faultMu.Lock()
	d.faults[op] = append(d.faults[op], r)
	d.faultMu.Unlock()
}

func (d *Driver) takeFault(op kvs.OpKind) (kvs.Result, bool) {
	d.faultMu.Lock()
	defer d.faultMu.Unlock()

	q := d.faults[op]
	if len(q) == 0 {
		return kvs.ResultSuccess, false
	}
	d.faults[op] = q[1:]
	return q[0], true
}

func (d *Driver) newHandle() kvs.KeyspaceHandle {
	return kvs.KeyspaceHandle(d.nextHandle.Add(1))
}
