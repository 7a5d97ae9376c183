package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topicgrader/domain/config"
	"topicgrader/domain/core/aggregates"
	"topicgrader/domain/core/valueobjects"
)

func TestTreeStore(t *testing.T) {
	ctx := context.Background()
	store := NewTreeStore()
	tree := aggregates.NewTopicTree("alpha", config.DefaultDomainConfig())
	node, err := tree.AddNode(aggregates.NodeSpec{Topic: "ai"})
	require.NoError(t, err)
	snap := tree.Snapshot()

	require.NoError(t, store.Save(ctx, "alpha", snap))
	require.NoError(t, store.Save(ctx, "beta", snap))

	// later mutations of the live tree do not reach the stored copy
	_, err = tree.MarkVisited(node.ID())
	require.NoError(t, err)

	loaded, found, err := store.Load(ctx, "alpha")
	require.NoError(t, err)
	require.True(t, found)
	stored, ok := loaded.Node(node.ID())
	require.True(t, ok)
	assert.Equal(t, 0, stored.VisitCount())

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []valueobjects.SessionID{"alpha", "beta"}, ids)

	require.NoError(t, store.Delete(ctx, "alpha"))
	exists, err := store.Exists(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, exists)

	_, found, err = store.Load(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, found)
}
