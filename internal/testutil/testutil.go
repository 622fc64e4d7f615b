// Package testutil provides shared setup for tests that drive a benchmark
// environment on top of the emulated device.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//		cfg := testutil.Config(t)
//		env, fatals := testutil.NewEnv(t, cfg)
//		dbs := testutil.OpenDatabases(t, env, 2)
//
//		// Drive dbs...
//		testutil.AssertNoFatal(t, fatals)
//		testutil.AssertPoolsIdle(t, dbs...)
//	}
package testutil

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/piwi3910/kvbench/internal/config"
	"github.com/piwi3910/kvbench/internal/kvdb"
	"github.com/piwi3910/kvbench/internal/kvs/emulator"
	"github.com/piwi3910/kvbench/internal/latency"
)

// EmulatedDevice is the kernel-driver style path tests open.
const EmulatedDevice = "/dev/kvemul"

// Config returns a small asynchronous configuration for the emulated
// device. The environment file goes to a per-test directory.
func Config(t testing.TB) *config.Config {
	t.Helper()

	return &config.Config{
		RunID: "test-run",
		Device: config.DeviceConfig{
			Path:          EmulatedDevice,
			QueueDepth:    16,
			AIOThreads:    2,
			WriteMode:     config.WriteModeAsync,
			API:           config.APIDirect,
			EnvConfigPath: filepath.Join(t.TempDir(), "env_init.conf"),
		},
		Database: config.DatabaseConfig{ContextPoolSize: 128, KeyPoolSize: 128, ValuePoolSize: 128},
		Latency:  config.LatencyConfig{MaxSample: 10000, Percentiles: []float64{50, 99}},
	}
}

// FatalRecorder collects errors routed to the environment's fatal handler.
// Fatal errors can be raised on device goroutines, so it records instead of
// failing the test directly.
type FatalRecorder struct {
	mu   sync.Mutex
	errs []error
}

// Record is a kvdb.FatalFunc.
func (r *FatalRecorder) Record(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

// Errors returns the recorded errors.
func (r *FatalRecorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// NewEnv sets up an environment on a fresh emulated driver. The
// environment is exited when the test ends.
func NewEnv(t testing.TB, cfg *config.Config, opts ...emulator.Config) (*kvdb.Env, *FatalRecorder) {
	t.Helper()

	var ecfg emulator.Config
	if len(opts) > 0 {
		ecfg = opts[0]
	}

	rec := &FatalRecorder{}
	env, err := kvdb.SetupDevice(cfg, emulator.New(ecfg),
		kvdb.WithFatalFunc(rec.Record),
		kvdb.WithLatencySet(latency.NewSet(cfg.Latency.MaxSample)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Exit() })

	return env, rec
}

// OpenDatabases opens n databases with ids 0..n-1 on the configured device.
func OpenDatabases(t testing.TB, env *kvdb.Env, n int) []*kvdb.Database {
	t.Helper()

	dbs := make([]*kvdb.Database, 0, n)
	for id := 0; id < n; id++ {
		db, err := env.Open(EmulatedDevice, id)
		require.NoError(t, err)
		dbs = append(dbs, db)
	}
	return dbs
}
