package emulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"

	"github.com/piwi3910/kvbench/internal/kvs"
)

type submission struct {
	req *kvs.Request
	cb  kvs.Callback
}

type delivery struct {
	c  *kvs.Completion
	cb kvs.Callback
}

// Keyspace is an open keyspace of an emulated device.
type Keyspace struct {
	dev     *Device
	name    string
	id      uint32
	handle  kvs.KeyspaceHandle
	prefix  []byte
	polling bool
	latency time.Duration

	mu      sync.RWMutex
	closed  bool
	submitq chan submission
	cq      chan delivery
	done    chan struct{}
	wg      sync.WaitGroup

	iterMu   sync.Mutex
	iters    map[kvs.IteratorHandle]*iterState
	nextIter kvs.IteratorHandle
}

func newKeyspace(dev *Device, name string, id uint32, h kvs.KeyspaceHandle, opts kvs.EnvOptions, cfg Config) *Keyspace {
	k := &Keyspace{
		dev:     dev,
		name:    name,
		id:      id,
		handle:  h,
		prefix:  keyspacePrefix(id),
		polling: opts.Polling && !opts.UserDriver,
		latency: cfg.Latency,
		submitq: make(chan submission, opts.QueueDepth),
		done:    make(chan struct{}),
		iters:   make(map[kvs.IteratorHandle]*iterState),
	}
	if k.polling {
		k.cq = make(chan delivery, cfg.CompletionQueueSize)
	}

	for i := 0; i < opts.AIOThreads; i++ {
		k.wg.Add(1)
		go k.worker()
	}

	return k
}

// Handle returns the keyspace handle.
func (k *Keyspace) Handle() kvs.KeyspaceHandle { return k.handle }

// Polling reports whether completions are delivered through ReapEvents.
func (k *Keyspace) Polling() bool { return k.polling }

func (k *Keyspace) dbKey(key []byte) []byte {
	out := make([]byte, 0, len(k.prefix)+len(key))
	out = append(out, k.prefix...)
	return append(out, key...)
}

func checkKey(key *kvs.Key) kvs.Result {
	if key == nil || key.Len() < kvs.MinKeyLength || key.Len() > kvs.MaxKeyLength {
		return kvs.ResultInvalidKeyLength
	}
	return kvs.ResultSuccess
}

type resultErr kvs.Result

func (r resultErr) Error() string { return kvs.Result(r).String() }

func toResult(err error) kvs.Result {
	if err == nil {
		return kvs.ResultSuccess
	}
	var r resultErr
	if errors.As(err, &r) {
		return kvs.Result(r)
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return kvs.ResultDeviceClosed
	}
	log.Warn().Err(err).Msg("Emulated device i/o error")
	return kvs.ResultIOError
}

// Store writes value under key with the semantics of opt.Type.
func (k *Keyspace) Store(key *kvs.Key, value *kvs.Value, opt kvs.StoreOption) kvs.Result {
	if r := checkKey(key); r != kvs.ResultSuccess {
		return r
	}
	if value == nil || len(value.Data) > kvs.MaxValueLength {
		return kvs.ResultInvalidValueLength
	}
	if opt.Type < kvs.StorePost || opt.Type > kvs.StoreNoOverwrite {
		return kvs.ResultInvalidOption
	}

	stored, err := k.dev.encode(value.Data, opt.Compress)
	if err != nil {
		return toResult(err)
	}
	dbKey := k.dbKey(key.Data)

	err = k.dev.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(dbKey)
		exists := err == nil
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		switch {
		case opt.Type == kvs.StoreUpdateOnly && !exists:
			return resultErr(kvs.ResultKeyNotExist)
		case opt.Type == kvs.StoreNoOverwrite && exists:
			return resultErr(kvs.ResultKeyExist)
		}

		return txn.Set(dbKey, stored)
	})

	return toResult(err)
}

// Retrieve copies the value of key, starting at value.Offset, into
// value.Data and sets value.ActualSize to the stored length. When the buffer
// is too short the leading part is copied and ResultBufferSmall returned.
func (k *Keyspace) Retrieve(key *kvs.Key, value *kvs.Value) kvs.Result {
	if r := checkKey(key); r != kvs.ResultSuccess {
		return r
	}
	if value == nil {
		return kvs.ResultInvalidValueLength
	}

	var stored []byte
	err := k.dev.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k.dbKey(key.Data))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return resultErr(kvs.ResultKeyNotExist)
		}
		if err != nil {
			return err
		}

		stored, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return toResult(err)
	}

	plain, err := k.dev.decode(stored)
	if err != nil {
		return toResult(err)
	}

	value.ActualSize = uint32(len(plain))
	if int(value.Offset) > len(plain) {
		return kvs.ResultInvalidOption
	}

	rest := plain[value.Offset:]
	copy(value.Data, rest)
	if len(rest) > len(value.Data) {
		return kvs.ResultBufferSmall
	}

	return kvs.ResultSuccess
}

// Delete removes key.
func (k *Keyspace) Delete(key *kvs.Key) kvs.Result {
	if r := checkKey(key); r != kvs.ResultSuccess {
		return r
	}
	dbKey := k.dbKey(key.Data)

	err := k.dev.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(dbKey); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return resultErr(kvs.ResultKeyNotExist)
			}
			return err
		}
		return txn.Delete(dbKey)
	})

	return toResult(err)
}

// Submit queues req for a worker. It blocks while the submission queue is
// full.
func (k *Keyspace) Submit(req *kvs.Request, cb kvs.Callback) error {
	if req == nil || cb == nil {
		return fmt.Errorf("%w: nil request or callback", kvs.ErrInvalidRequest)
	}
	switch req.Op {
	case kvs.OpStore, kvs.OpRetrieve, kvs.OpDelete:
		if req.Key == nil {
			return fmt.Errorf("%w: %s without key", kvs.ErrInvalidRequest, req.Op)
		}
	case kvs.OpIterNext:
		if req.Page == nil {
			return fmt.Errorf("%w: %s without page", kvs.ErrInvalidRequest, req.Op)
		}
	default:
		return fmt.Errorf("%w: unknown op %s", kvs.ErrInvalidRequest, req.Op)
	}

	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return kvs.ErrDeviceClosed
	}

	k.submitq <- submission{req: req, cb: cb}
	return nil
}

func (k *Keyspace) worker() {
	defer k.wg.Done()

	for s := range k.submitq {
		if k.latency > 0 {
			time.Sleep(k.latency)
		}

		c := k.execute(s.req)

		if !k.polling {
			s.cb(c)
			continue
		}

		select {
		case k.cq <- delivery{c: c, cb: s.cb}:
		case <-k.done:
			log.Debug().Str("op", c.Op.String()).Msg("Dropping completion of closed keyspace")
		}
	}
}

func (k *Keyspace) execute(req *kvs.Request) *kvs.Completion {
	c := &kvs.Completion{
		Op:       req.Op,
		Key:      req.Key,
		Value:    req.Value,
		Keyspace: k.handle,
		Iterator: req.Iterator,
		Page:     req.Page,
		Private:  req.Private,
		Token:    req.Token,
	}

	if r, ok := k.dev.drv.takeFault(req.Op); ok {
		c.Result = r
		return c
	}

	switch req.Op {
	case kvs.OpStore:
		c.Result = k.Store(req.Key, req.Value, req.Store)
	case kvs.OpRetrieve:
		c.Result = k.Retrieve(req.Key, req.Value)
	case kvs.OpDelete:
		c.Result = k.Delete(req.Key)
	case kvs.OpIterNext:
		c.Result = k.iterateNext(req.Iterator, req.Page)
	}

	return c
}

// ReapEvents delivers queued completions on the calling goroutine. It
// blocks until at least max(min, 1) completions have been delivered, ctx is
// done, or the keyspace is closed, then drains whatever else is ready up to
// max.
func (k *Keyspace) ReapEvents(ctx context.Context, min, max int) (int, error) {
	if !k.polling {
		return 0, kvs.ErrNotPolling
	}
	if max <= 0 {
		return 0, nil
	}

	want := min
	if want < 1 {
		want = 1
	}
	if want > max {
		want = max
	}

	n := 0
	for n < want {
		select {
		case d := <-k.cq:
			d.cb(d.c)
			n++
		case <-ctx.Done():
			return n, ctx.Err()
		case <-k.done:
			return n, kvs.ErrDeviceClosed
		}
	}

	for n < max {
		select {
		case d := <-k.cq:
			d.cb(d.c)
			n++
		default:
			return n, nil
		}
	}

	return n, nil
}

// Close stops accepting requests and waits for in-flight ones to complete.
// Completions not yet reaped in polling mode are discarded.
func (k *Keyspace) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	close(k.submitq)
	k.mu.Unlock()

	if k.polling {
		close(k.done)
		k.wg.Wait()
	} else {
		k.wg.Wait()
		close(k.done)
	}

	k.iterMu.Lock()
	k.iters = make(map[kvs.IteratorHandle]*iterState)
	k.iterMu.Unlock()

	k.dev.forget(k)

	log.Debug().Str("keyspace", k.name).Uint64("handle", uint64(k.handle)).Msg("Keyspace closed")

	return nil
}
