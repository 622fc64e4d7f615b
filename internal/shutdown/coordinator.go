// Package shutdown sequences the teardown of a benchmark run.
//
// Teardown runs in fixed phases:
//
//  1. Draining - harvest completions still in flight on the device
//  2. HTTP Servers - stop the stats server
//  3. Databases - close keyspaces and devices
//  4. Environment - exit the device environment
//
// Each phase has its own timeout and the whole sequence is bounded by
// TotalTimeout. Progress is exported as kvbench_shutdown_* metrics.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Phase represents a shutdown phase.
type Phase string

// Shutdown phases in order of execution.
const (
	PhaseNone           Phase = "none"
	PhaseDraining       Phase = "draining"
	PhaseHTTPServers    Phase = "http_servers"
	PhaseDatabases      Phase = "databases"
	PhaseEnvironment    Phase = "environment"
	PhaseComplete       Phase = "complete"
	PhaseForcedShutdown Phase = "forced_shutdown"
)

// Config holds shutdown timeouts.
type Config struct {
	// TotalTimeout bounds the whole sequence.
	TotalTimeout time.Duration

	// DrainTimeout is the time to wait for in-flight device operations.
	DrainTimeout time.Duration

	// HTTPTimeout is the time to wait for HTTP servers to stop.
	HTTPTimeout time.Duration

	// DatabaseTimeout is the time to wait for all databases to close.
	DatabaseTimeout time.Duration

	// ForceTimeout is added to TotalTimeout before the coordinator reports
	// a forced shutdown.
	ForceTimeout time.Duration
}

// DefaultConfig returns the default shutdown configuration.
func DefaultConfig() Config {
	return Config{
		TotalTimeout:    30 * time.Second,
		DrainTimeout:    15 * time.Second,
		HTTPTimeout:     5 * time.Second,
		DatabaseTimeout: 10 * time.Second,
		ForceTimeout:    5 * time.Second,
	}
}

// Closeable is a named component with a Close method.
type Closeable interface {
	Name() string
	Close() error
}

// HTTPServerShutdown wraps an HTTP server for shutdown.
type HTTPServerShutdown interface {
	Name() string
	Shutdown(ctx context.Context) error
}

// InFlightTracker tracks submitted device operations.
type InFlightTracker interface {
	// InFlightCount returns the number of operations awaiting completion.
	InFlightCount() int64
	// WaitForDrain harvests completions until nothing is in flight.
	WaitForDrain(ctx context.Context) error
}

// Environment is the device environment torn down last.
type Environment interface {
	Exit() error
}

// Components holds everything the coordinator tears down.
type Components struct {
	InFlight    InFlightTracker
	HTTPServers []HTTPServerShutdown
	Databases   []Closeable
	Environment Environment
}

// Hook is a function called at the end of a phase.
type Hook func(ctx context.Context) error

// Coordinator runs the shutdown sequence once.
type Coordinator struct {
	config   Config
	mu       sync.RWMutex
	phase    Phase
	started  time.Time
	errors   []error
	hooks    map[Phase][]Hook
	doneCh   chan struct{}
	shutdown atomic.Bool
}

// NewCoordinator creates a new shutdown coordinator with the given configuration.
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{
		config: cfg,
		phase:  PhaseNone,
		hooks:  make(map[Phase][]Hook),
		doneCh: make(chan struct{}),
	}
}

// RegisterHook registers a hook run after the components of phase.
func (c *Coordinator) RegisterHook(phase Phase, hook Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks[phase] = append(c.hooks[phase], hook)
}

// Phase returns the current shutdown phase.
func (c *Coordinator) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.phase
}

// IsShuttingDown returns true if shutdown has been initiated.
func (c *Coordinator) IsShuttingDown() bool {
	return c.shutdown.Load()
}

// Done returns a channel that is closed when shutdown is complete.
func (c *Coordinator) Done() <-chan struct{} {
	return c.doneCh
}

// Errors returns the errors collected during shutdown.
func (c *Coordinator) Errors() []error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]error{}, c.errors...)
}

func (c *Coordinator) setPhase(phase Phase) {
	c.mu.Lock()
	oldPhase := c.phase
	c.phase = phase
	c.mu.Unlock()

	log.Debug().
		Str("from_phase", string(oldPhase)).
		Str("to_phase", string(phase)).
		Dur("elapsed", time.Since(c.started)).
		Msg("Shutdown phase transition")

	SetShutdownPhase(phase)
}

func (c *Coordinator) addError(err error) {
	c.mu.Lock()
	c.errors = append(c.errors, err)
	c.mu.Unlock()

	IncrementShutdownErrors()
}

func (c *Coordinator) runHooks(ctx context.Context, phase Phase) {
	c.mu.RLock()
	hooks := c.hooks[phase]
	c.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			log.Error().Err(err).Str("phase", string(phase)).Msg("Shutdown hook failed")
			c.addError(err)
		}
	}
}

// Shutdown runs the teardown sequence and returns the joined errors of
// every phase. Calls after the first return nil immediately.
func (c *Coordinator) Shutdown(ctx context.Context, components Components) error {
	if !c.shutdown.CompareAndSwap(false, true) {
		log.Warn().Msg("Shutdown already in progress")
		return nil
	}

	c.started = time.Now()
	SetShutdownStartTime(c.started)

	shutdownCtx, cancel := context.WithTimeout(ctx, c.config.TotalTimeout)
	defer cancel()

	go c.watchForceTimeout(shutdownCtx)

	c.drain(shutdownCtx, components.InFlight)
	c.stopHTTPServers(shutdownCtx, components.HTTPServers)
	c.closeDatabases(shutdownCtx, components.Databases)
	c.exitEnvironment(shutdownCtx, components.Environment)

	c.setPhase(PhaseComplete)
	close(c.doneCh)

	duration := time.Since(c.started)
	SetShutdownDuration(duration)

	errs := c.Errors()
	if len(errs) > 0 {
		log.Warn().
			Int("error_count", len(errs)).
			Dur("duration", duration).
			Msg("Shutdown completed with errors")
	} else {
		log.Debug().Dur("duration", duration).Msg("Shutdown completed")
	}

	return errors.Join(errs...)
}

func (c *Coordinator) watchForceTimeout(ctx context.Context) {
	forceDeadline := c.config.TotalTimeout + c.config.ForceTimeout
	timer := time.NewTimer(forceDeadline)

	defer timer.Stop()

	select {
	case <-timer.C:
		c.setPhase(PhaseForcedShutdown)
		log.Warn().
			Dur("timeout", forceDeadline).
			Msg("Force timeout reached, forcing shutdown")
	case <-c.doneCh:
	case <-ctx.Done():
	}
}

func (c *Coordinator) drain(ctx context.Context, tracker InFlightTracker) {
	c.setPhase(PhaseDraining)
	defer c.runHooks(ctx, PhaseDraining)

	if tracker == nil {
		return
	}

	inFlight := tracker.InFlightCount()
	SetInFlightOperations(inFlight)
	if inFlight == 0 {
		return
	}

	log.Info().Int64("in_flight", inFlight).Msg("Waiting for in-flight operations")

	drainCtx, cancel := context.WithTimeout(ctx, c.config.DrainTimeout)
	defer cancel()

	if err := tracker.WaitForDrain(drainCtx); err != nil {
		remaining := tracker.InFlightCount()
		SetInFlightOperations(remaining)
		log.Warn().Err(err).Int64("remaining", remaining).Msg("Drain timed out")
		c.addError(fmt.Errorf("drain: %w", err))
		return
	}

	SetInFlightOperations(0)
}

func (c *Coordinator) stopHTTPServers(ctx context.Context, servers []HTTPServerShutdown) {
	c.setPhase(PhaseHTTPServers)
	defer c.runHooks(ctx, PhaseHTTPServers)

	if len(servers) == 0 {
		return
	}

	httpCtx, cancel := context.WithTimeout(ctx, c.config.HTTPTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(s HTTPServerShutdown) {
			defer wg.Done()
			if err := s.Shutdown(httpCtx); err != nil {
				log.Error().Err(err).Str("server", s.Name()).Msg("HTTP server shutdown failed")
				c.addError(fmt.Errorf("%s: %w", s.Name(), err))
			}
		}(srv)
	}
	wg.Wait()
}

func (c *Coordinator) closeDatabases(ctx context.Context, dbs []Closeable) {
	c.setPhase(PhaseDatabases)
	defer c.runHooks(ctx, PhaseDatabases)

	if len(dbs) == 0 {
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, c.config.DatabaseTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, db := range dbs {
			if err := db.Close(); err != nil {
				log.Error().Err(err).Str("database", db.Name()).Msg("Failed to close database")
				c.addError(fmt.Errorf("%s: %w", db.Name(), err))
				continue
			}
			IncrementDatabasesClosed()
		}
	}()

	select {
	case <-done:
	case <-dbCtx.Done():
		log.Warn().Msg("Timed out closing databases")
		c.addError(fmt.Errorf("close databases: %w", dbCtx.Err()))
	}
}

func (c *Coordinator) exitEnvironment(ctx context.Context, env Environment) {
	c.setPhase(PhaseEnvironment)
	defer c.runHooks(ctx, PhaseEnvironment)

	if env == nil {
		return
	}

	if err := env.Exit(); err != nil {
		log.Error().Err(err).Msg("Failed to exit device environment")
		c.addError(fmt.Errorf("environment: %w", err))
	}
}
