package workload

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/kvbench/internal/config"
	"github.com/piwi3910/kvbench/internal/kvdb"
	"github.com/piwi3910/kvbench/internal/kvs"
	"github.com/piwi3910/kvbench/internal/report"
	"github.com/piwi3910/kvbench/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := testutil.Config(t)
	cfg.Workload = config.WorkloadConfig{
		Databases:      2,
		Operations:     300,
		KeyLength:      16,
		ValueLength:    512,
		Outstanding:    32,
		BatchSize:      16,
		MeasureLatency: true,
		Iterate:        true,
		IterateMode:    config.IterateKey,
		Delete:         true,
		Seed:           3,
	}
	return cfg
}

func runWorkload(t *testing.T, cfg *config.Config) (*Result, *kvdb.Env, []*kvdb.Database) {
	t.Helper()

	env, fatals := testutil.NewEnv(t, cfg)
	dbs := testutil.OpenDatabases(t, env, cfg.Workload.Databases)

	runner, err := New(cfg)
	require.NoError(t, err)

	res, err := runner.Run(context.Background(), dbs)
	require.NoError(t, err)
	testutil.AssertNoFatal(t, fatals)

	return res, env, dbs
}

func phaseOps(res *Result) map[string]int {
	out := map[string]int{}
	for _, p := range res.Phases {
		out[p.Name] = p.Operations
	}
	return out
}

func TestRunModes(t *testing.T) {
	tests := []struct {
		name      string
		polling   bool
		api       string
		writeMode string
		iterate   string
	}{
		{name: "queue", api: config.APIDirect, writeMode: config.WriteModeAsync, iterate: config.IterateKey},
		{name: "polling", polling: true, api: config.APIDirect, writeMode: config.WriteModeAsync, iterate: config.IterateKey},
		{name: "keyspace", api: config.APIKeyspace, writeMode: config.WriteModeAsync, iterate: config.IterateKeyValue},
		{name: "sync", api: config.APIDirect, writeMode: config.WriteModeSync, iterate: config.IterateKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Device.Polling = tt.polling
			cfg.Device.API = tt.api
			cfg.Device.WriteMode = tt.writeMode
			cfg.Workload.IterateMode = tt.iterate

			res, env, dbs := runWorkload(t, cfg)

			assert.Equal(t, 2, res.Databases)
			assert.Zero(t, res.Misses)
			assert.Equal(t, 600, res.Iterated)
			assert.Equal(t, map[string]int{
				PhaseLoad:    600,
				PhaseRead:    600,
				PhaseIterate: 600,
				PhaseDelete:  600,
			}, phaseOps(res))
			assert.Equal(t, []string{PhaseLoad, PhaseRead, PhaseIterate, PhaseDelete},
				[]string{res.Phases[0].Name, res.Phases[1].Name, res.Phases[2].Name, res.Phases[3].Name})

			for _, db := range dbs {
				testutil.AssertPoolsIdle(t, db)
				r, err := db.Get(Key(0, 16), make([]byte, 512), kvdb.Options{Mode: kvdb.IOSync})
				require.NoError(t, err)
				assert.Equal(t, kvs.ResultKeyNotExist, r, "delete phase removed every key")
			}

			if tt.writeMode == config.WriteModeAsync {
				assert.Equal(t, 600, env.LatencyStats().For(kvs.OpStore).Count())
				assert.Equal(t, 600, env.LatencyStats().For(kvs.OpRetrieve).Count())
				assert.Equal(t, 600, env.LatencyStats().For(kvs.OpDelete).Count())
			}
		})
	}
}

func TestRunWithoutOptionalPhases(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workload.Databases = 1
	cfg.Workload.Iterate = false
	cfg.Workload.Delete = false

	res, _, dbs := runWorkload(t, cfg)

	assert.Equal(t, map[string]int{PhaseLoad: 300, PhaseRead: 300}, phaseOps(res))

	buf := make([]byte, 512)
	r, err := dbs[0].Get(Key(299, 16), buf, kvdb.Options{Mode: kvdb.IOSync})
	require.NoError(t, err)
	assert.Equal(t, kvs.ResultSuccess, r)
}

func TestRunCanceled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workload.Databases = 1

	env, _ := testutil.NewEnv(t, cfg)
	dbs := testutil.OpenDatabases(t, env, 1)

	runner, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = runner.Run(ctx, dbs)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsSmallKeySpace(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workload.KeyLength = 8
	cfg.Workload.Operations = 20000

	_, err := New(cfg)
	require.ErrorIs(t, err, ErrKeySpace)
}

func TestMerge(t *testing.T) {
	res := merge([]dbResult{
		{phases: []report.Phase{{Name: PhaseRead, Operations: 10, Elapsed: 5}, {Name: PhaseLoad, Operations: 10, Elapsed: 3}}, misses: 1},
		{phases: []report.Phase{{Name: PhaseLoad, Operations: 20, Elapsed: 7}, {Name: PhaseRead, Operations: 20, Elapsed: 2}}, iterated: 4},
	})

	require.Len(t, res.Phases, 2)
	assert.Equal(t, PhaseLoad, res.Phases[0].Name)
	assert.Equal(t, 30, res.Phases[0].Operations)
	assert.Equal(t, int64(7), int64(res.Phases[0].Elapsed))
	assert.Equal(t, int64(5), int64(res.Phases[1].Elapsed))
	assert.Equal(t, 1, res.Misses)
	assert.Equal(t, 4, res.Iterated)
	assert.Equal(t, 2, res.Databases)
}
