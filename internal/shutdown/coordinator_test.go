package shutdown_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/kvbench/internal/shutdown"
)

func fastConfig() shutdown.Config {
	return shutdown.Config{
		TotalTimeout:    500 * time.Millisecond,
		DrainTimeout:    50 * time.Millisecond,
		HTTPTimeout:     50 * time.Millisecond,
		DatabaseTimeout: 50 * time.Millisecond,
		ForceTimeout:    50 * time.Millisecond,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := shutdown.DefaultConfig()

	assert.Equal(t, 30*time.Second, cfg.TotalTimeout)
	assert.Equal(t, 15*time.Second, cfg.DrainTimeout)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 10*time.Second, cfg.DatabaseTimeout)
	assert.Equal(t, 5*time.Second, cfg.ForceTimeout)
}

func TestNewCoordinator(t *testing.T) {
	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())

	require.NotNil(t, coord)
	assert.Equal(t, shutdown.PhaseNone, coord.Phase())
	assert.False(t, coord.IsShuttingDown())
	assert.Empty(t, coord.Errors())
}

func TestCoordinatorEmptyComponents(t *testing.T) {
	coord := shutdown.NewCoordinator(fastConfig())

	require.NoError(t, coord.Shutdown(context.Background(), shutdown.Components{}))
	assert.Equal(t, shutdown.PhaseComplete, coord.Phase())
	assert.True(t, coord.IsShuttingDown())

	select {
	case <-coord.Done():
	default:
		t.Fatal("Done channel was not closed")
	}
}

func TestCoordinatorShutdownOnlyOnce(t *testing.T) {
	coord := shutdown.NewCoordinator(fastConfig())
	db := &mockDatabase{name: "db0", err: errors.New("boom")}
	components := shutdown.Components{Databases: []shutdown.Closeable{db}}

	require.Error(t, coord.Shutdown(context.Background(), components))
	require.NoError(t, coord.Shutdown(context.Background(), components))
	assert.Equal(t, int32(1), db.closes.Load())
}

func TestCoordinatorPhaseOrder(t *testing.T) {
	coord := shutdown.NewCoordinator(fastConfig())

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	components := shutdown.Components{
		InFlight:    &mockTracker{count: 3, onWait: func() { record("drain") }},
		HTTPServers: []shutdown.HTTPServerShutdown{&mockHTTPServer{name: "stats", onShutdown: func() { record("http") }}},
		Databases: []shutdown.Closeable{
			&mockDatabase{name: "db0", onClose: func() { record("db0") }},
			&mockDatabase{name: "db1", onClose: func() { record("db1") }},
		},
		Environment: &mockEnv{onExit: func() { record("env") }},
	}

	require.NoError(t, coord.Shutdown(context.Background(), components))
	assert.Equal(t, []string{"drain", "http", "db0", "db1", "env"}, order)
	assert.Empty(t, coord.Errors())
}

func TestCoordinatorSkipsDrainWhenIdle(t *testing.T) {
	coord := shutdown.NewCoordinator(fastConfig())
	tracker := &mockTracker{}

	require.NoError(t, coord.Shutdown(context.Background(), shutdown.Components{InFlight: tracker}))
	assert.False(t, tracker.waitCalled.Load())
}

func TestCoordinatorDrainTimeout(t *testing.T) {
	coord := shutdown.NewCoordinator(fastConfig())
	tracker := &mockTracker{count: 2, block: true}
	env := &mockEnv{}

	err := coord.Shutdown(context.Background(), shutdown.Components{InFlight: tracker, Environment: env})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, env.exited.Load(), "later phases still run after a drain timeout")
}

func TestCoordinatorCollectsErrors(t *testing.T) {
	coord := shutdown.NewCoordinator(fastConfig())
	httpErr := errors.New("listener stuck")
	dbErr := errors.New("keyspace busy")
	envErr := errors.New("driver exit")

	err := coord.Shutdown(context.Background(), shutdown.Components{
		HTTPServers: []shutdown.HTTPServerShutdown{&mockHTTPServer{name: "stats", err: httpErr}},
		Databases: []shutdown.Closeable{
			&mockDatabase{name: "db0", err: dbErr},
			&mockDatabase{name: "db1"},
		},
		Environment: &mockEnv{err: envErr},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, httpErr)
	assert.ErrorIs(t, err, dbErr)
	assert.ErrorIs(t, err, envErr)
	assert.Len(t, coord.Errors(), 3)
	assert.Contains(t, err.Error(), "db0")
}

func TestCoordinatorConcurrentHTTPServerShutdown(t *testing.T) {
	cfg := fastConfig()
	cfg.HTTPTimeout = 200 * time.Millisecond
	coord := shutdown.NewCoordinator(cfg)

	servers := []*mockHTTPServer{
		{name: "a", delay: 50 * time.Millisecond},
		{name: "b", delay: 50 * time.Millisecond},
		{name: "c", delay: 50 * time.Millisecond},
	}
	components := shutdown.Components{}
	for _, s := range servers {
		components.HTTPServers = append(components.HTTPServers, s)
	}

	start := time.Now()
	require.NoError(t, coord.Shutdown(context.Background(), components))

	for _, s := range servers {
		assert.True(t, s.called.Load())
	}
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestCoordinatorDatabaseTimeout(t *testing.T) {
	coord := shutdown.NewCoordinator(fastConfig())

	err := coord.Shutdown(context.Background(), shutdown.Components{
		Databases: []shutdown.Closeable{&mockDatabase{name: "slow", delay: 200 * time.Millisecond}},
	})

	require.Error(t, err)
	require.Len(t, coord.Errors(), 1)
	assert.ErrorIs(t, coord.Errors()[0], context.DeadlineExceeded)
}

func TestCoordinatorHooks(t *testing.T) {
	coord := shutdown.NewCoordinator(fastConfig())

	var calls []shutdown.Phase
	for _, p := range []shutdown.Phase{shutdown.PhaseDraining, shutdown.PhaseDatabases, shutdown.PhaseEnvironment} {
		phase := p
		coord.RegisterHook(phase, func(context.Context) error {
			calls = append(calls, phase)
			return nil
		})
	}
	hookErr := errors.New("hook failed")
	coord.RegisterHook(shutdown.PhaseHTTPServers, func(context.Context) error { return hookErr })

	err := coord.Shutdown(context.Background(), shutdown.Components{})

	assert.ErrorIs(t, err, hookErr)
	assert.Equal(t, []shutdown.Phase{shutdown.PhaseDraining, shutdown.PhaseDatabases, shutdown.PhaseEnvironment}, calls)
}

type mockHTTPServer struct {
	name       string
	err        error
	delay      time.Duration
	onShutdown func()
	called     atomic.Bool
}

func (m *mockHTTPServer) Name() string { return m.name }

func (m *mockHTTPServer) Shutdown(_ context.Context) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.called.Store(true)
	if m.onShutdown != nil {
		m.onShutdown()
	}
	return m.err
}

type mockDatabase struct {
	name    string
	err     error
	delay   time.Duration
	onClose func()
	closes  atomic.Int32
}

func (m *mockDatabase) Name() string { return m.name }

func (m *mockDatabase) Close() error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.closes.Add(1)
	if m.onClose != nil {
		m.onClose()
	}
	return m.err
}

type mockEnv struct {
	err    error
	onExit func()
	exited atomic.Bool
}

func (m *mockEnv) Exit() error {
	m.exited.Store(true)
	if m.onExit != nil {
		m.onExit()
	}
	return m.err
}

type mockTracker struct {
	count      int64
	block      bool
	onWait     func()
	waitCalled atomic.Bool
}

func (m *mockTracker) InFlightCount() int64 {
	return atomic.LoadInt64(&m.count)
}

func (m *mockTracker) WaitForDrain(ctx context.Context) error {
	m.waitCalled.Store(true)
	if m.onWait != nil {
		m.onWait()
	}
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	atomic.StoreInt64(&m.count, 0)
	return nil
}
