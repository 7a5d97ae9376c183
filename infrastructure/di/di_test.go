package di

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"topicgrader/application/commands"
	"topicgrader/application/ports"
	"topicgrader/application/queries"
	"topicgrader/domain/core/valueobjects"
	"topicgrader/infrastructure/config"
	"topicgrader/pkg/observability"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	cfg := config.Default()
	cfg.Environment = "test"
	cfg.LogLevel = "error"
	return cfg
}

func TestProvideTreeStore(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		setup   func(t *testing.T, cfg *config.Config)
		wantErr bool
	}{
		{name: "memory", backend: config.StoreMemory},
		{name: "badger in memory", backend: config.StoreBadger},
		{name: "badger on disk", backend: config.StoreBadger, setup: func(t *testing.T, cfg *config.Config) {
			cfg.BadgerDir = t.TempDir()
		}},
		{name: "sqlite", backend: config.StoreSQLite, setup: func(t *testing.T, cfg *config.Config) {
			cfg.SQLiteDSN = "file:" + filepath.Join(t.TempDir(), "trees.db")
		}},
		{name: "unknown", backend: "etcd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.StoreBackend = tt.backend
			if tt.setup != nil {
				tt.setup(t, cfg)
			}

			store, cleanup, err := ProvideTreeStore(cfg, nil, zap.NewNop())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer cleanup()

			ids, err := store.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}
}

func TestProvideMetricsAndTracer(t *testing.T) {
	cfg := testConfig(t)
	collector := ProvideCollector()

	assert.IsType(t, ports.NoopMetrics{}, ProvideMetrics(cfg, collector))
	assert.IsType(t, ports.NoopTracer{}, ProvideTracer(cfg))

	cfg.EnableMetrics = true
	cfg.EnableTracing = true
	assert.Same(t, collector, ProvideMetrics(cfg, collector))
	assert.IsType(t, &observability.Tracer{}, ProvideTracer(cfg))
}

func TestProvideCleanupLocker(t *testing.T) {
	cfg := testConfig(t)
	assert.Nil(t, ProvideCleanupLocker(cfg, nil, zap.NewNop()))
}

func TestInMemoryCache(t *testing.T) {
	cache := NewInMemoryCache(0)
	defer cache.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a", 1, 10))
	v, ok := cache.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(11 * time.Second)
	_, ok = cache.Get(ctx, "a")
	assert.False(t, ok)

	cache.evict()
	assert.Zero(t, cache.Len())
}

func TestInitializeContainer_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnableMetrics = true
	ctx := context.Background()

	c, cleanup, err := InitializeContainer(ctx, cfg)
	require.NoError(t, err)
	defer cleanup()

	out, err := c.CommandBus.Send(ctx, &commands.CreateSessionCommand{})
	require.NoError(t, err)
	sessionID, ok := out.(valueobjects.SessionID)
	require.True(t, ok)

	score := 80.0
	out, err = c.CommandBus.Send(ctx, &commands.AddQAPairCommand{
		Question: "What is a goroutine?",
		Answer:   "A lightweight thread managed by the Go runtime.",
		Score:    &score,
	})
	require.NoError(t, err)
	added := out.(commands.AddQAPairResult)
	assert.Equal(t, sessionID.String(), added.SessionID)

	out, err = c.QueryBus.Ask(ctx, &queries.GetStatsQuery{})
	require.NoError(t, err)
	stats := out.(queries.StatsDTO)
	assert.Equal(t, 1, stats.TotalNodes)

	_, err = c.CommandBus.Send(ctx, &commands.SaveSessionCommand{})
	require.NoError(t, err)

	out, err = c.QueryBus.Ask(ctx, &queries.ListSessionsQuery{Stored: true})
	require.NoError(t, err)
	assert.Equal(t, []valueobjects.SessionID{sessionID}, out)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Collector.QAPairs.WithLabelValues(string(valueobjects.RelationshipNewRoot))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Collector.StoreOperations.WithLabelValues("save", "success")))
}
