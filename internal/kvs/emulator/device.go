package emulator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"

	"github.com/piwi3910/kvbench/internal/codec"
	"github.com/piwi3910/kvbench/internal/kvs"
)

const (
	memTableSize = 16 << 20
	dropChunk    = 1000
)

// Device is one emulated device backed by an in-memory badger store.
type Device struct {
	drv   *Driver
	path  string
	db    *badger.DB
	codec codec.Compressor

	mu        sync.Mutex
	keyspaces map[string]uint32
	nextID    uint32
	open      map[kvs.KeyspaceHandle]*Keyspace
	closed    bool
}

func openDevice(drv *Driver, path string, comp codec.Compressor) (*Device, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithMemTableSize(memTableSize)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open emulated device %s: %w", path, err)
	}

	log.Debug().Str("path", path).Msg("Emulated device opened")

	return &Device{
		drv:       drv,
		path:      path,
		db:        db,
		codec:     comp,
		keyspaces: make(map[string]uint32),
		open:      make(map[kvs.KeyspaceHandle]*Keyspace),
	}, nil
}

// Path returns the path the device was opened with.
func (d *Device) Path() string { return d.path }

// ListKeyspaces returns up to max keyspace names in name order.
func (d *Device) ListKeyspaces(max int) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, kvs.ErrDeviceClosed
	}

	names := make([]string, 0, len(d.keyspaces))
	for name := range d.keyspaces {
		names = append(names, name)
	}
	sort.Strings(names)

	if max >= 0 && len(names) > max {
		names = names[:max]
	}
	return names, nil
}

// CreateKeyspace registers an empty keyspace.
func (d *Device) CreateKeyspace(name string, _ kvs.KeyspaceOption) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return kvs.ErrDeviceClosed
	}
	if _, ok := d.keyspaces[name]; ok {
		return kvs.ResultKeyspaceExist.AsError("create keyspace " + name)
	}

	d.nextID++
	d.keyspaces[name] = d.nextID
	return nil
}

// DeleteKeyspace drops a keyspace and all of its keys. Open handles on it
// are closed first.
func (d *Device) DeleteKeyspace(name string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return kvs.ErrDeviceClosed
	}
	id, ok := d.keyspaces[name]
	if !ok {
		d.mu.Unlock()
		return kvs.ResultKeyspaceNotExist.AsError("delete keyspace " + name)
	}
	delete(d.keyspaces, name)

	var stale []*Keyspace
	for _, ks := range d.open {
		if ks.id == id {
			stale = append(stale, ks)
		}
	}
	d.mu.Unlock()

	for _, ks := range stale {
		_ = ks.Close()
	}

	if err := d.dropKeys(keyspacePrefix(id)); err != nil {
		return fmt.Errorf("failed to drop keyspace %s: %w", name, err)
	}
	return nil
}

func (d *Device) dropKeys(prefix []byte) error {
	var keys [][]byte
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	for len(keys) > 0 {
		n := min(len(keys), dropChunk)
		chunk := keys[:n]
		keys = keys[n:]

		err := d.db.Update(func(txn *badger.Txn) error {
			for _, k := range chunk {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// OpenKeyspace opens an existing keyspace and starts its workers.
func (d *Device) OpenKeyspace(name string) (kvs.Keyspace, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, kvs.ErrDeviceClosed
	}
	id, ok := d.keyspaces[name]
	if !ok {
		return nil, kvs.ResultKeyspaceNotExist.AsError("open keyspace " + name)
	}

	opts := d.drv.Options()
	ks := newKeyspace(d, name, id, d.drv.newHandle(), opts, d.drv.cfg)
	d.open[ks.handle] = ks

	return ks, nil
}

func (d *Device) forget(ks *Keyspace) {
	d.mu.Lock()
	delete(d.open, ks.handle)
	d.mu.Unlock()
}

// Close closes all open keyspaces and releases the store.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	open := make([]*Keyspace, 0, len(d.open))
	for _, ks := range d.open {
		open = append(open, ks)
	}
	d.mu.Unlock()

	for _, ks := range open {
		_ = ks.Close()
	}

	d.drv.forget(d)

	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close emulated device %s: %w", d.path, err)
	}
	return nil
}

func keyspacePrefix(id uint32) []byte {
	p := make([]byte, 4)
	binary.BigEndian.PutUint32(p, id)
	return p
}

// Stored values carry a one byte header naming their encoding.
const (
	encodingRaw        byte = 0
	encodingCompressed byte = 1
)

func (d *Device) encode(value []byte, compress bool) ([]byte, error) {
	if compress && d.codec.Algorithm() != codec.AlgorithmNone {
		packed, err := d.codec.Compress(value)
		if err != nil {
			return nil, err
		}
		return append([]byte{encodingCompressed}, packed...), nil
	}
	return append([]byte{encodingRaw}, value...), nil
}

var errBadEncoding = errors.New("emulator: unknown value encoding")

func (d *Device) decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, errBadEncoding
	}
	switch stored[0] {
	case encodingRaw:
		return stored[1:], nil
	case encodingCompressed:
		return d.codec.Decompress(stored[1:])
	default:
		return nil, fmt.Errorf("%w: 0x%x", errBadEncoding, stored[0])
	}
}
