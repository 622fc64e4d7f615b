package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/kvbench/internal/config"
	"github.com/piwi3910/kvbench/internal/kvdb"
	"github.com/piwi3910/kvbench/internal/kvs"
	"github.com/piwi3910/kvbench/internal/testutil"
)

func setupServer(t *testing.T) (*Server, *kvdb.Env, *kvdb.Database) {
	t.Helper()

	cfg := testutil.Config(t)
	cfg.RunID = "run-1"
	cfg.Device.QueueDepth = 8
	cfg.Device.AIOThreads = 1
	cfg.Database = config.DatabaseConfig{ContextPoolSize: 16, KeyPoolSize: 16, ValuePoolSize: 16}
	cfg.Latency = config.LatencyConfig{MaxSample: 100, Percentiles: []float64{50, 99}}
	cfg.Stats = config.StatsConfig{Listen: "127.0.0.1:0", CORSAllowedOrigins: []string{"*"}}

	env, fatals := testutil.NewEnv(t, cfg)
	t.Cleanup(func() { testutil.AssertNoFatal(t, fatals) })

	db, err := env.Open(cfg.Device.Path, 7)
	require.NoError(t, err)

	return New(cfg, env), env, db
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestGetStats(t *testing.T) {
	s, env, db := setupServer(t)

	err := db.Save([]kvdb.Doc{{Key: []byte("key1"), Value: []byte("v")}}, kvdb.Options{Mode: kvdb.IOAsync, MeasureLatency: true})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return db.Completed() == 1 }, 5*time.Second, time.Millisecond)

	w := get(t, s, "/api/v1/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, "run-1", stats.RunID)
	assert.Equal(t, "/dev/kvemul", stats.Device)
	assert.Equal(t, config.APIDirect, stats.API)
	assert.Equal(t, "queue", stats.Mode)
	assert.Equal(t, int64(1), stats.Completions)

	require.Len(t, stats.Databases, 1)
	assert.Equal(t, 7, stats.Databases[0].ID)
	assert.Equal(t, 1, stats.Databases[0].Completed)
	require.Len(t, stats.Databases[0].Pools, 3)
	assert.Equal(t, "contexts", stats.Databases[0].Pools[0].Name)
	assert.Equal(t, 1, stats.Databases[0].Pools[0].Outstanding)

	require.Len(t, stats.Latency, 1)
	assert.Equal(t, kvs.OpStore.String(), stats.Latency[0].Op)
	assert.Len(t, stats.Latency[0].Percentiles, 2)

	assert.Equal(t, int64(1), env.Completions())
}

func TestGetDatabase(t *testing.T) {
	s, _, _ := setupServer(t)

	w := get(t, s, "/api/v1/stats/databases/7")
	require.Equal(t, http.StatusOK, w.Code)

	var db DatabaseStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &db))
	assert.Equal(t, 7, db.ID)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/v1/stats/databases/3").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/v1/stats/databases/x").Code)
}

func TestResetCompletions(t *testing.T) {
	s, env, db := setupServer(t)

	_, err := db.Get([]byte("missing"), make([]byte, 8), kvdb.Options{Mode: kvdb.IOAsync})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.Completions() == 1 }, 5*time.Second, time.Millisecond)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/stats/completions", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, env.Completions())
}

func TestHealthEndpoints(t *testing.T) {
	s, _, db := setupServer(t)

	assert.Equal(t, http.StatusOK, get(t, s, "/health").Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/health/live").Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/health/ready").Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/api/v1/health/detailed").Code)

	require.NoError(t, db.Close())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/health/ready").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := setupServer(t)

	w := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "kvbench_pool_available")
}

func TestStartStopsOnCancel(t *testing.T) {
	s, _, _ := setupServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
