// Package workload drives a benchmark run against open databases.
//
// Each database is driven by its own goroutine through the phases load,
// read, iterate and delete. Asynchronous phases keep a fixed number of
// operations in flight and harvest completions with GetEvents.
package workload

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/piwi3910/kvbench/internal/config"
	"github.com/piwi3910/kvbench/internal/kvdb"
	"github.com/piwi3910/kvbench/internal/kvs"
	"github.com/piwi3910/kvbench/internal/report"
)

// Phase names.
const (
	PhaseLoad    = "load"
	PhaseRead    = "read"
	PhaseIterate = "iterate"
	PhaseDelete  = "delete"
)

// ErrIncomplete is returned when a phase saw fewer completions than it issued.
var ErrIncomplete = errors.New("workload: phase did not complete")

// Result summarizes a run.
type Result struct {
	Phases    []report.Phase
	Misses    int
	Iterated  int
	Databases int
}

// Runner drives the configured workload.
type Runner struct {
	cfg  config.WorkloadConfig
	sync bool
}

// New returns a runner for cfg.
func New(cfg *config.Config) (*Runner, error) {
	w := cfg.Workload
	if uint64(w.Operations) > KeyCapacity(w.KeyLength) {
		return nil, fmt.Errorf("%w: %d keys of %d bytes", ErrKeySpace, w.Operations, w.KeyLength)
	}
	if w.Outstanding <= 0 {
		w.Outstanding = 1
	}
	if w.BatchSize <= 0 {
		w.BatchSize = w.Outstanding
	}
	return &Runner{cfg: w, sync: cfg.Device.WriteMode == config.WriteModeSync}, nil
}

// Run drives every database concurrently and merges their phase results.
func (r *Runner) Run(ctx context.Context, dbs []*kvdb.Database) (*Result, error) {
	var (
		mu      sync.Mutex
		results []dbResult
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, db := range dbs {
		g.Go(func() error {
			res, err := r.runDatabase(ctx, db)
			if err != nil {
				return fmt.Errorf("database %d: %w", db.ID(), err)
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return merge(results), nil
}

type dbResult struct {
	phases   []report.Phase
	misses   int
	iterated int
}

// merge sums operations and keeps the slowest database's elapsed time per
// phase, since databases run concurrently.
func merge(results []dbResult) *Result {
	out := &Result{Databases: len(results)}
	index := map[string]int{}

	for _, res := range results {
		out.Misses += res.misses
		out.Iterated += res.iterated
		for _, p := range res.phases {
			i, ok := index[p.Name]
			if !ok {
				index[p.Name] = len(out.Phases)
				out.Phases = append(out.Phases, p)
				continue
			}
			out.Phases[i].Operations += p.Operations
			if p.Elapsed > out.Phases[i].Elapsed {
				out.Phases[i].Elapsed = p.Elapsed
			}
		}
	}

	order := map[string]int{PhaseLoad: 0, PhaseRead: 1, PhaseIterate: 2, PhaseDelete: 3}
	sort.SliceStable(out.Phases, func(a, b int) bool { return order[out.Phases[a].Name] < order[out.Phases[b].Name] })

	return out
}

func (r *Runner) runDatabase(ctx context.Context, db *kvdb.Database) (dbResult, error) {
	var res dbResult

	seed := r.cfg.Seed + uint32(db.ID())
	order := Order(r.cfg.Operations, seed)

	value := kvdb.AlignedBuffer(r.cfg.ValueLength)
	fillValue(value, seed)

	opts := kvdb.Options{MeasureLatency: r.cfg.MeasureLatency}

	// Load
	p, err := r.drive(ctx, db, PhaseLoad, func(k int) error {
		key := Key(order[k], r.cfg.KeyLength)
		return db.Save([]kvdb.Doc{{Key: key, Value: value}}, opts)
	}, nil)
	if err != nil {
		return res, err
	}
	res.phases = append(res.phases, p)

	// Read
	bufs := make(chan []byte, r.cfg.Outstanding)
	for i := 0; i < r.cfg.Outstanding; i++ {
		bufs <- kvdb.AlignedBuffer(r.cfg.ValueLength)
	}
	p, err = r.drive(ctx, db, PhaseRead, func(k int) error {
		buf := <-bufs
		key := Key(order[k], r.cfg.KeyLength)
		result, err := db.Get(key, buf, opts)
		if r.sync {
			bufs <- buf
			if result == kvs.ResultKeyNotExist {
				res.misses++
			}
		}
		return err
	}, func(c *kvdb.IoContext) {
		if c.Result == kvs.ResultKeyNotExist {
			res.misses++
		}
		bufs <- c.Value[:cap(c.Value)]
	})
	if err != nil {
		return res, err
	}
	res.phases = append(res.phases, p)
	if res.misses > 0 {
		log.Warn().Int("database", db.ID()).Int("misses", res.misses).Msg("Stored keys not found on read")
	}

	if r.cfg.Iterate {
		p, err = r.iterate(ctx, db)
		if err != nil {
			return res, err
		}
		res.iterated = p.Operations
		res.phases = append(res.phases, p)
		if p.Operations != r.cfg.Operations {
			log.Warn().Int("database", db.ID()).Int("iterated", p.Operations).Int("stored", r.cfg.Operations).
				Msg("Iterator key count differs from stored key count")
		}
	}

	if r.cfg.Delete {
		p, err = r.drive(ctx, db, PhaseDelete, func(k int) error {
			_, err := db.Delete(Key(order[k], r.cfg.KeyLength), opts)
			return err
		}, nil)
		if err != nil {
			return res, err
		}
		res.phases = append(res.phases, p)
	}

	return res, nil
}

// drive issues n operations, keeping up to Outstanding in flight when
// asynchronous, and calls onEvent for every completion before its context
// is released.
func (r *Runner) drive(ctx context.Context, db *kvdb.Database, name string, issue func(k int) error, onEvent func(c *kvdb.IoContext)) (report.Phase, error) {
	n := r.cfg.Operations
	phase := report.Phase{Name: name, Operations: n}
	start := time.Now()

	if r.sync {
		for k := 0; k < n; k++ {
			if err := ctx.Err(); err != nil {
				return phase, err
			}
			if err := issue(k); err != nil {
				return phase, err
			}
		}
		phase.Elapsed = time.Since(start)
		r.logPhase(db, phase)
		return phase, nil
	}

	var next, inflight, done int
	for done < n {
		if err := ctx.Err(); err != nil {
			return phase, err
		}

		for inflight < r.cfg.Outstanding && next < n {
			if err := issue(next); err != nil {
				return phase, err
			}
			next++
			inflight++
		}

		evs, err := db.GetEvents(ctx, 1, r.cfg.BatchSize)
		if err != nil {
			return phase, err
		}
		if len(evs) == 0 {
			runtime.Gosched()
			continue
		}

		for _, c := range evs {
			if onEvent != nil {
				onEvent(c)
			}
		}
		if err := db.ReleaseContexts(evs); err != nil {
			return phase, err
		}

		done += len(evs)
		inflight -= len(evs)
	}

	if inflight != 0 {
		return phase, fmt.Errorf("%w: %s has %d in flight", ErrIncomplete, name, inflight)
	}

	phase.Elapsed = time.Since(start)
	r.logPhase(db, phase)
	return phase, nil
}

// iterate reads every page of the database's iterator and counts entries.
func (r *Runner) iterate(ctx context.Context, db *kvdb.Database) (report.Phase, error) {
	phase := report.Phase{Name: PhaseIterate}
	start := time.Now()

	t := kvs.IteratorKey
	if r.cfg.IterateMode == config.IterateKeyValue {
		t = kvs.IteratorKeyValue
	}

	if err := db.IteratorOpen(t); err != nil {
		return phase, err
	}
	defer func() {
		if err := db.IteratorClose(); err != nil {
			log.Warn().Err(err).Int("database", db.ID()).Msg("Failed to close iterator")
		}
	}()

	for {
		if err := db.IteratorNext(); err != nil {
			return phase, err
		}

		// Every page read publishes one context; the page is decoded before
		// the context is published.
		for {
			if err := ctx.Err(); err != nil {
				return phase, err
			}
			evs, err := db.GetEvents(ctx, 1, 1)
			if err != nil {
				return phase, err
			}
			if len(evs) == 0 {
				runtime.Gosched()
				continue
			}
			if err := db.ReleaseContexts(evs); err != nil {
				return phase, err
			}
			break
		}
		if !db.IteratorHasFinished() {
			return phase, fmt.Errorf("%w: %s page still pending", ErrIncomplete, PhaseIterate)
		}

		phase.Operations += int(db.IteratorEntryCount())
		if db.IteratorEnd() {
			break
		}
	}

	phase.Elapsed = time.Since(start)
	r.logPhase(db, phase)
	return phase, nil
}

func (r *Runner) logPhase(db *kvdb.Database, p report.Phase) {
	log.Info().
		Int("database", db.ID()).
		Str("phase", p.Name).
		Int("ops", p.Operations).
		Dur("elapsed", p.Elapsed).
		Float64("ops_per_sec", p.OpsPerSecond()).
		Msg("Phase complete")
}
