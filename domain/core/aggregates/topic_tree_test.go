package aggregates

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topicgrader/domain/config"
	"topicgrader/domain/core/entities"
	"topicgrader/domain/core/valueobjects"
	"topicgrader/domain/events"
	pkgerrors "topicgrader/pkg/errors"
)

func fixedClock() func() time.Time {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return base }
}

func newTestTree(t *testing.T, mutate ...func(*config.DomainConfig)) *TopicTree {
	t.Helper()
	cfg := config.DefaultDomainConfig()
	for _, m := range mutate {
		m(cfg)
	}
	return NewTopicTree(valueobjects.SessionID("test-session"), cfg, WithClock(fixedClock()))
}

func mustAdd(t *testing.T, tree *TopicTree, topic string, parent valueobjects.NodeID) *entities.TopicNode {
	t.Helper()
	node, err := tree.AddNode(NodeSpec{Topic: topic, ParentID: parent})
	require.NoError(t, err)
	return node
}

// assertInvariants checks the structural rules every snapshot must satisfy
func assertInvariants(t *testing.T, tree *TopicTree) {
	t.Helper()
	require.NoError(t, tree.Validate())

	snap := tree.Snapshot()
	nav := NewTreeNavigator(snap)
	for id, node := range snap.Nodes {
		depth, err := nav.Depth(id)
		require.NoError(t, err)
		assert.Equal(t, depth, node.Depth(), "depth of %s", node.Topic())
		if node.IsRoot() {
			assert.Contains(t, snap.RootNodes, id)
		} else {
			parent, ok := snap.Node(node.ParentID())
			require.True(t, ok)
			assert.True(t, parent.HasChild(id))
		}
	}
	for i := 1; i < len(snap.CurrentPath); i++ {
		child := snap.Nodes[snap.CurrentPath[i]]
		assert.Equal(t, snap.CurrentPath[i-1], child.ParentID())
	}
}

func TestTopicTree_AddNode(t *testing.T) {
	tree := newTestTree(t)

	root := mustAdd(t, tree, "ai", valueobjects.NodeID{})
	child := mustAdd(t, tree, "machine learning", root.ID())
	grandchild := mustAdd(t, tree, "neural networks", child.ID())

	assert.Equal(t, 1, root.Depth())
	assert.Equal(t, 2, child.Depth())
	assert.Equal(t, 3, grandchild.Depth())
	assert.Equal(t, 3, tree.Size())
	assert.Len(t, tree.GetRootNodes(), 1)

	children, err := tree.GetChildren(root.ID())
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID(), children[0].ID())

	parent, err := tree.GetParent(grandchild.ID())
	require.NoError(t, err)
	assert.Equal(t, child.ID(), parent.ID())

	rootParent, err := tree.GetParent(root.ID())
	require.NoError(t, err)
	assert.Nil(t, rootParent)

	assertInvariants(t, tree)
}

func TestTopicTree_AddNode_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, tree *TopicTree) NodeSpec
		sentinel *pkgerrors.DomainError
		kind     pkgerrors.ErrorType
	}{
		{
			name: "blank topic",
			setup: func(t *testing.T, tree *TopicTree) NodeSpec {
				return NodeSpec{Topic: "   "}
			},
			sentinel: pkgerrors.ErrInvalidTopic,
			kind:     pkgerrors.ErrorTypeValidation,
		},
		{
			name: "score out of range",
			setup: func(t *testing.T, tree *TopicTree) NodeSpec {
				s := 101.0
				return NodeSpec{Topic: "ai", Score: &s}
			},
			sentinel: pkgerrors.ErrInvalidScore,
			kind:     pkgerrors.ErrorTypeValidation,
		},
		{
			name: "missing parent",
			setup: func(t *testing.T, tree *TopicTree) NodeSpec {
				return NodeSpec{Topic: "orphan", ParentID: valueobjects.NewNodeID()}
			},
			sentinel: pkgerrors.ErrParentNotFound,
			kind:     pkgerrors.ErrorTypeTreeIntegrity,
		},
		{
			name: "duplicate id",
			setup: func(t *testing.T, tree *TopicTree) NodeSpec {
				existing := mustAdd(t, tree, "ai", valueobjects.NodeID{})
				return NodeSpec{ID: existing.ID(), Topic: "again"}
			},
			sentinel: pkgerrors.ErrDuplicateTopic,
			kind:     pkgerrors.ErrorTypeTreeIntegrity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := newTestTree(t)
			spec := tt.setup(t, tree)
			before := tree.Snapshot()

			_, err := tree.AddNode(spec)

			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)
			assert.True(t, pkgerrors.IsType(err, tt.kind))
			after := tree.Snapshot()
			assert.Equal(t, before.Size(), after.Size())
			assert.Equal(t, before.Version, after.Version)
		})
	}
}

func TestTopicTree_MaxDepthRollsBack(t *testing.T) {
	tree := newTestTree(t, func(c *config.DomainConfig) { c.MaxTreeDepth = 2 })
	root := mustAdd(t, tree, "ai", valueobjects.NodeID{})
	child := mustAdd(t, tree, "machine learning", root.ID())
	version := tree.Version()

	_, err := tree.AddNode(NodeSpec{Topic: "too deep", ParentID: child.ID()})

	require.Error(t, err)
	assert.True(t, errors.Is(err, pkgerrors.ErrMaxDepthExceeded))
	assert.Equal(t, 2, tree.Size())
	assert.Equal(t, version, tree.Version())
	parent, err := tree.GetNode(child.ID())
	require.NoError(t, err)
	assert.False(t, parent.HasChildren(), "rolled back insert must not leave a child link")
	assertInvariants(t, tree)
}

func TestTopicTree_MaxNodes(t *testing.T) {
	tree := newTestTree(t, func(c *config.DomainConfig) { c.MaxNodesPerTree = 2 })
	mustAdd(t, tree, "one", valueobjects.NodeID{})
	mustAdd(t, tree, "two", valueobjects.NodeID{})

	_, err := tree.AddNode(NodeSpec{Topic: "three"})

	assert.True(t, errors.Is(err, pkgerrors.ErrMaxNodesExceeded))
	assert.Equal(t, 2, tree.Size())
}

func TestTopicTree_UpdateNode_Reparent(t *testing.T) {
	tree := newTestTree(t)
	a := mustAdd(t, tree, "a", valueobjects.NodeID{})
	b := mustAdd(t, tree, "b", a.ID())
	c := mustAdd(t, tree, "c", b.ID())
	other := mustAdd(t, tree, "other", valueobjects.NodeID{})

	t.Run("move subtree under another root", func(t *testing.T) {
		target := other.ID()
		moved, err := tree.UpdateNode(b.ID(), NodeUpdate{Parent: &target})
		require.NoError(t, err)
		assert.Equal(t, other.ID(), moved.ParentID())
		assert.Equal(t, 2, moved.Depth())

		grandchild, err := tree.GetNode(c.ID())
		require.NoError(t, err)
		assert.Equal(t, 3, grandchild.Depth())

		oldParent, err := tree.GetNode(a.ID())
		require.NoError(t, err)
		assert.False(t, oldParent.HasChild(b.ID()))
		assertInvariants(t, tree)
	})

	t.Run("move to root", func(t *testing.T) {
		root := valueobjects.NodeID{}
		moved, err := tree.UpdateNode(b.ID(), NodeUpdate{Parent: &root})
		require.NoError(t, err)
		assert.True(t, moved.IsRoot())
		assert.Equal(t, 1, moved.Depth())
		assert.Len(t, tree.GetRootNodes(), 3)
		assertInvariants(t, tree)
	})

	t.Run("cycle is refused and rolled back", func(t *testing.T) {
		before := tree.Snapshot()
		target := c.ID()

		_, err := tree.UpdateNode(b.ID(), NodeUpdate{Parent: &target})

		require.Error(t, err)
		assert.True(t, errors.Is(err, pkgerrors.ErrCyclicDependency))
		assert.True(t, pkgerrors.IsTreeIntegrity(err))
		after := tree.Snapshot()
		assert.Equal(t, before.RootNodes, after.RootNodes)
		assert.Equal(t, before.Version, after.Version)
		assertInvariants(t, tree)
	})

	t.Run("self parent is refused", func(t *testing.T) {
		target := b.ID()
		_, err := tree.UpdateNode(b.ID(), NodeUpdate{Parent: &target})
		assert.True(t, errors.Is(err, pkgerrors.ErrCyclicDependency))
	})
}

func TestTopicTree_UpdateNode_Fields(t *testing.T) {
	tree := newTestTree(t)
	node := mustAdd(t, tree, "ai", valueobjects.NodeID{})
	qa, err := valueobjects.NewQAPair("What is AI?", "Machines that think.", time.Time{}, nil)
	require.NoError(t, err)

	score := 72.5
	topic := "artificial intelligence"
	exhausted := true
	updated, err := tree.UpdateNode(node.ID(), NodeUpdate{
		Topic:         &topic,
		Score:         &score,
		AppendQAPairs: []valueobjects.QAPair{qa},
		AddKeywords:   []string{"ai"},
		Exhausted:     &exhausted,
	})

	require.NoError(t, err)
	assert.Equal(t, topic, updated.Topic())
	require.NotNil(t, updated.Score())
	assert.Equal(t, score, *updated.Score())
	assert.Len(t, updated.QAPairs(), 1)
	assert.True(t, updated.IsExhausted())
	assert.True(t, updated.UpdatedAt().After(node.UpdatedAt()))

	bad := 150.0
	_, err = tree.UpdateNode(node.ID(), NodeUpdate{Score: &bad})
	assert.True(t, pkgerrors.IsValidation(err))
	current, err := tree.GetNode(node.ID())
	require.NoError(t, err)
	assert.Equal(t, score, *current.Score())
}

func TestTopicTree_RemoveNode(t *testing.T) {
	tests := []struct {
		name      string
		removeMid bool
	}{
		{name: "inner node promotes children to its parent", removeMid: true},
		{name: "root promotes children to roots", removeMid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := newTestTree(t)
			root := mustAdd(t, tree, "root", valueobjects.NodeID{})
			first := mustAdd(t, tree, "first", root.ID())
			mid := mustAdd(t, tree, "mid", root.ID())
			last := mustAdd(t, tree, "last", root.ID())
			x := mustAdd(t, tree, "x", mid.ID())
			y := mustAdd(t, tree, "y", mid.ID())
			require.NoError(t, tree.SetCurrentNode(x.ID()))

			target := root
			if tt.removeMid {
				target = mid
			}
			require.NoError(t, tree.RemoveNode(target.ID()))

			assert.False(t, tree.HasNode(target.ID()))
			assertInvariants(t, tree)
			assert.NotContains(t, tree.CurrentPath(), target.ID())

			if tt.removeMid {
				children, err := tree.GetChildren(root.ID())
				require.NoError(t, err)
				ids := make([]valueobjects.NodeID, len(children))
				for i, c := range children {
					ids[i] = c.ID()
				}
				assert.Equal(t, []valueobjects.NodeID{first.ID(), x.ID(), y.ID(), last.ID()}, ids)
				moved, err := tree.GetNode(x.ID())
				require.NoError(t, err)
				assert.Equal(t, 2, moved.Depth())
			} else {
				roots := tree.GetRootNodes()
				assert.Len(t, roots, 3)
				grand, err := tree.GetNode(y.ID())
				require.NoError(t, err)
				assert.Equal(t, 2, grand.Depth())
			}
		})
	}

	t.Run("unknown id", func(t *testing.T) {
		tree := newTestTree(t)
		err := tree.RemoveNode(valueobjects.NewNodeID())
		assert.True(t, errors.Is(err, pkgerrors.ErrTopicNotFound))
	})
}

func TestTopicTree_CurrentPath(t *testing.T) {
	tree := newTestTree(t)
	_, ok := tree.CurrentNode()
	assert.False(t, ok)

	root := mustAdd(t, tree, "root", valueobjects.NodeID{})
	child := mustAdd(t, tree, "child", root.ID())
	require.NoError(t, tree.SetCurrentNode(child.ID()))

	assert.Equal(t, []valueobjects.NodeID{root.ID(), child.ID()}, tree.CurrentPath())
	current, ok := tree.CurrentNode()
	require.True(t, ok)
	assert.Equal(t, child.ID(), current.ID())

	err := tree.SetCurrentNode(valueobjects.NewNodeID())
	assert.True(t, errors.Is(err, pkgerrors.ErrTopicNotFound))
}

func TestTopicTree_DeepestUnvisitedBranch(t *testing.T) {
	tree := newTestTree(t)
	_, ok := tree.FindDeepestUnvisitedBranch()
	assert.False(t, ok, "empty tree has no branch")

	root := mustAdd(t, tree, "root", valueobjects.NodeID{})
	left := mustAdd(t, tree, "left", root.ID())
	right := mustAdd(t, tree, "right", root.ID())

	branch, ok := tree.FindDeepestUnvisitedBranch()
	require.True(t, ok)
	assert.Equal(t, left.ID(), branch.ID(), "equally deep leaves go to the earliest inserted")

	_, err := tree.MarkVisited(left.ID())
	require.NoError(t, err)
	branch, ok = tree.FindDeepestUnvisitedBranch()
	require.True(t, ok)
	assert.Equal(t, right.ID(), branch.ID())

	exhausted := true
	_, err = tree.UpdateNode(right.ID(), NodeUpdate{Exhausted: &exhausted})
	require.NoError(t, err)
	_, ok = tree.FindDeepestUnvisitedBranch()
	assert.False(t, ok, "every leaf is visited or exhausted")

	deep := mustAdd(t, tree, "deep", left.ID())
	branch, ok = tree.FindDeepestUnvisitedBranch()
	require.True(t, ok)
	assert.Equal(t, deep.ID(), branch.ID())
	assert.Equal(t, 3, branch.Depth())
}

func TestTopicTree_ClearAndEvents(t *testing.T) {
	tree := newTestTree(t)
	root := mustAdd(t, tree, "root", valueobjects.NodeID{})
	_, err := tree.MarkVisited(root.ID())
	require.NoError(t, err)

	tree.Clear()

	assert.Equal(t, 0, tree.Size())
	assert.Empty(t, tree.CurrentPath())

	var types []string
	for _, e := range tree.GetUncommittedEvents() {
		types = append(types, e.GetEventType())
	}
	assert.Equal(t, []string{events.TypeTopicCreated, events.TypeTopicVisited, events.TypeTreeCleared}, types)

	tree.MarkEventsAsCommitted()
	assert.Empty(t, tree.GetUncommittedEvents())
}

func TestTopicTree_TimestampsStrictlyIncrease(t *testing.T) {
	tree := newTestTree(t)
	a := mustAdd(t, tree, "a", valueobjects.NodeID{})
	b := mustAdd(t, tree, "b", valueobjects.NodeID{})

	assert.True(t, b.UpdatedAt().After(a.UpdatedAt()), "a frozen clock must still order updates")
}

func TestRestoreTopicTree(t *testing.T) {
	tree := newTestTree(t)
	root := mustAdd(t, tree, "root", valueobjects.NodeID{})
	child := mustAdd(t, tree, "child", root.ID())
	require.NoError(t, tree.SetCurrentNode(child.ID()))
	_, err := tree.MarkVisited(child.ID())
	require.NoError(t, err)

	t.Run("valid snapshot", func(t *testing.T) {
		restored, err := RestoreTopicTree(tree.Snapshot(), config.DefaultDomainConfig())
		require.NoError(t, err)
		assert.Equal(t, tree.Size(), restored.Size())
		assert.Equal(t, tree.CurrentPath(), restored.CurrentPath())
		node, err := restored.GetNode(child.ID())
		require.NoError(t, err)
		assert.Equal(t, 1, node.VisitCount())
	})

	t.Run("broken depth is rejected", func(t *testing.T) {
		snap := tree.Snapshot()
		state := snap.Nodes[child.ID()].State()
		state.Depth = 5
		broken, err := entities.ReconstructTopicNode(state)
		require.NoError(t, err)
		snap.Nodes[child.ID()] = broken

		_, err = RestoreTopicTree(snap, config.DefaultDomainConfig())
		require.Error(t, err)
		assert.True(t, pkgerrors.IsTreeIntegrity(err))
	})
}
