package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"topicgrader/application/ports"
	"topicgrader/application/queries"
	"topicgrader/application/queries/bus"
	"topicgrader/application/services"
	"topicgrader/domain/config"
	"topicgrader/domain/core/valueobjects"
	pkgerrors "topicgrader/pkg/errors"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string]interface{}
	hits int
}

func (c *mapCache) Get(_ context.Context, key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key string, value interface{}, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

type fixture struct {
	bus     *bus.QueryBus
	manager *services.SessionManager
	cache   *mapCache
	rootID  valueobjects.NodeID
	childID valueobjects.NodeID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	manager := services.NewSessionManager(config.DefaultDomainConfig(), nil, zap.NewNop())
	handler := NewTopicQueryHandler(manager)
	cache := &mapCache{data: make(map[string]interface{})}
	b := bus.NewQueryBus(
		bus.TracingMiddleware(ports.NoopTracer{}, zap.NewNop()),
		bus.NewCachingMiddleware(cache, 60, handler.VersionLookup()).Wrap,
	)
	require.NoError(t, handler.RegisterAll(b))

	id, err := manager.CreateSession(ctx, "q", nil)
	require.NoError(t, err)
	system, err := manager.GetSystem(id)
	require.NoError(t, err)

	ai, err := valueobjects.NewQAPair("What is AI?", "AI is the simulation of human intelligence by machines.", time.Time{}, nil)
	require.NoError(t, err)
	ml, err := valueobjects.NewQAPair("What is machine learning in AI?",
		"Machine learning is a subset of AI where systems learn patterns from data.", time.Time{}, nil)
	require.NoError(t, err)
	rootID, err := system.AddQAPair(ctx, ai, nil)
	require.NoError(t, err)
	childID, err := system.AddQAPair(ctx, ml, nil)
	require.NoError(t, err)

	return fixture{bus: b, manager: manager, cache: cache, rootID: rootID, childID: childID}
}

func TestTopicQueryHandler_Reads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tree, err := f.bus.Ask(ctx, &queries.GetTopicTreeQuery{})
	require.NoError(t, err)
	dto := tree.(queries.TopicTreeDTO)
	assert.Equal(t, "q", dto.SessionID)
	assert.Equal(t, []string{f.rootID.String()}, dto.RootNodes)
	require.Len(t, dto.Nodes, 2)
	assert.Equal(t, "ai", dto.Nodes[0].Topic)
	assert.Equal(t, []string{f.childID.String()}, dto.Nodes[0].Children)
	assert.Len(t, dto.Nodes[1].QAPairs, 1)

	current, err := f.bus.Ask(ctx, &queries.GetCurrentTopicQuery{SessionID: "q"})
	require.NoError(t, err)
	assert.Equal(t, f.childID.String(), current.(*queries.TopicDTO).ID)

	next, err := f.bus.Ask(ctx, &queries.GetDeepestUnvisitedBranchQuery{})
	require.NoError(t, err)
	assert.Equal(t, "machine learning", next.(*queries.TopicDTO).Topic)

	depth, err := f.bus.Ask(ctx, &queries.GetDepthFromRootQuery{NodeID: f.childID.String()})
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	ancestors, err := f.bus.Ask(ctx, &queries.GetAncestorsQuery{NodeID: f.childID.String()})
	require.NoError(t, err)
	require.Len(t, ancestors.([]queries.TopicDTO), 1)
	assert.Equal(t, f.rootID.String(), ancestors.([]queries.TopicDTO)[0].ID)

	stats, err := f.bus.Ask(ctx, &queries.GetStatsQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.(queries.StatsDTO).TotalNodes)
	assert.Equal(t, 2, stats.(queries.StatsDTO).MaxDepth)

	sessions, err := f.bus.Ask(ctx, &queries.ListSessionsQuery{})
	require.NoError(t, err)
	require.Len(t, sessions.([]services.SessionInfo), 1)
	assert.Equal(t, 2, sessions.([]services.SessionInfo)[0].NodeCount)
}

func TestTopicQueryHandler_CacheFollowsVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.bus.Ask(ctx, &queries.GetStatsQuery{})
	require.NoError(t, err)
	_, err = f.bus.Ask(ctx, &queries.GetStatsQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits)

	system, err := f.manager.GetSystem("q")
	require.NoError(t, err)
	_, err = system.MarkTopicAsVisited(ctx, f.childID)
	require.NoError(t, err)

	after, err := f.bus.Ask(ctx, &queries.GetStatsQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits, "a mutation bumps the version and misses the cache")
	assert.Zero(t, first.(queries.StatsDTO).VisitedCount)
	assert.Equal(t, 1, after.(queries.StatsDTO).VisitedCount)
}

func TestTopicQueryHandler_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		query   bus.Query
		wantErr error
	}{
		{name: "unknown session", query: &queries.GetStatsQuery{SessionID: "missing"}, wantErr: pkgerrors.ErrSessionNotFound},
		{name: "unknown node", query: &queries.GetDepthFromRootQuery{NodeID: valueobjects.NewNodeID().String()}, wantErr: pkgerrors.ErrTopicNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.bus.Ask(ctx, tt.query)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := f.bus.Ask(ctx, &queries.GetAncestorsQuery{NodeID: "nope"})
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = f.bus.Ask(ctx, &queries.ListSessionsQuery{Stored: true})
	assert.True(t, pkgerrors.IsPersistence(err), "no store configured")
}
