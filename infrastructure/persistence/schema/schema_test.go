package schema

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topicgrader/domain/config"
	"topicgrader/domain/core/aggregates"
	"topicgrader/domain/core/valueobjects"
	pkgerrors "topicgrader/pkg/errors"
)

func buildTree(t *testing.T) aggregates.ConversationTree {
	t.Helper()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tree := aggregates.NewTopicTree(valueobjects.SessionID("schema-test"), config.DefaultDomainConfig(),
		aggregates.WithClock(func() time.Time { return base }))

	qa, err := valueobjects.NewQAPair("What is AI?", "Artificial intelligence.", base, map[string]string{"source": "test"})
	require.NoError(t, err)
	score := 72.5

	root, err := tree.AddNode(aggregates.NodeSpec{Topic: "ai", Score: &score, Keywords: []string{"ai"}, QAPairs: []valueobjects.QAPair{qa}})
	require.NoError(t, err)
	child, err := tree.AddNode(aggregates.NodeSpec{Topic: "machine learning", ParentID: root.ID()})
	require.NoError(t, err)
	_, err = tree.MarkVisited(child.ID())
	require.NoError(t, err)
	require.NoError(t, tree.SetCurrentNode(child.ID()))
	exhausted := true
	_, err = tree.UpdateNode(root.ID(), aggregates.NodeUpdate{Exhausted: &exhausted})
	require.NoError(t, err)

	return tree.Snapshot()
}

func TestEncodeDecode_PreservesTree(t *testing.T) {
	tree := buildTree(t)

	data, err := Encode(tree, time.Now())
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, tree.SessionID, decoded.SessionID)
	assert.Equal(t, tree.Version, decoded.Version)
	assert.Equal(t, tree.RootNodes, decoded.RootNodes)
	assert.Equal(t, tree.CurrentPath, decoded.CurrentPath)
	assert.Equal(t, tree.NodeOrder, decoded.NodeOrder)

	for _, want := range tree.OrderedNodes() {
		got, ok := decoded.Node(want.ID())
		require.True(t, ok)
		assert.Equal(t, want.Topic(), got.Topic())
		assert.Equal(t, want.ParentID(), got.ParentID())
		assert.Equal(t, want.Depth(), got.Depth())
		assert.Equal(t, want.Score(), got.Score())
		assert.Equal(t, want.VisitCount(), got.VisitCount())
		assert.Equal(t, want.IsExhausted(), got.IsExhausted())
		assert.Len(t, got.Metadata().QAPairs, len(want.Metadata().QAPairs))
	}

	restored, err := aggregates.RestoreTopicTree(decoded, config.DefaultDomainConfig())
	require.NoError(t, err)
	assert.NoError(t, restored.Validate())
}

func TestDecode_ChecksumMismatch(t *testing.T) {
	data, err := Encode(buildTree(t), time.Now())
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	nodes := raw["nodes"].([]interface{})
	nodes[0].(map[string]interface{})["topic"] = "tampered"
	tampered, err := json.Marshal(raw)
	require.NoError(t, err)

	_, err = Decode(tampered)

	require.Error(t, err)
	assert.True(t, pkgerrors.IsPersistence(err))
	assert.True(t, errors.Is(err, pkgerrors.ErrChecksumMismatch))
}

func TestDecode_UnsupportedVersion(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "newer than supported", data: `{"schema_version": 99, "session_id": "x"}`},
		{name: "not a number", data: `{"schema_version": "two", "session_id": "x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))

			require.Error(t, err)
			assert.True(t, pkgerrors.IsPersistence(err))
			assert.True(t, errors.Is(err, pkgerrors.ErrUnsupportedSchema))
		})
	}
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := Decode([]byte("{not json"))

	require.Error(t, err)
	assert.True(t, pkgerrors.IsPersistence(err))
}

func TestDecode_UpgradesVersionOne(t *testing.T) {
	v1 := `{
		"session_id": "legacy",
		"created_at": "2023-01-01T00:00:00Z",
		"updated_at": "2023-01-01T00:05:00Z",
		"version": 3,
		"root_nodes": ["7f1c1f5e-8a1b-4c57-9a53-2d3f3b8f0a01"],
		"current_path": ["7f1c1f5e-8a1b-4c57-9a53-2d3f3b8f0a01"],
		"nodes": [{
			"id": "7f1c1f5e-8a1b-4c57-9a53-2d3f3b8f0a01",
			"topic": "databases",
			"depth": 1,
			"created_at": "2023-01-01T00:00:00Z",
			"updated_at": "2023-01-01T00:05:00Z",
			"visit_count": 2,
			"exhausted": true,
			"qa_pairs": [{"question": "Which index?", "answer": "A B-tree.", "timestamp": "2023-01-01T00:01:00Z"}]
		}]
	}`

	tree, err := Decode([]byte(v1))

	require.NoError(t, err)
	assert.Equal(t, valueobjects.SessionID("legacy"), tree.SessionID)
	require.Equal(t, 1, tree.Size())
	node := tree.OrderedNodes()[0]
	assert.Equal(t, "databases", node.Topic())
	assert.Equal(t, 2, node.VisitCount())
	assert.True(t, node.IsExhausted())
	assert.Len(t, node.Metadata().QAPairs, 1)

	_, err = aggregates.RestoreTopicTree(tree, config.DefaultDomainConfig())
	assert.NoError(t, err)
}

func TestSchemaEvolution_RegisterMigration(t *testing.T) {
	noop := func(RawRecord) error { return nil }

	tests := []struct {
		name      string
		migration Migration
		wantErr   bool
	}{
		{name: "single step", migration: Migration{FromVersion: 2, ToVersion: 3, Up: noop}},
		{name: "skips a version", migration: Migration{FromVersion: 2, ToVersion: 4, Up: noop}, wantErr: true},
		{name: "missing up", migration: Migration{FromVersion: 2, ToVersion: 3}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evolution := NewSchemaEvolution(3)
			err := evolution.RegisterMigration(tt.migration)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Error(t, evolution.RegisterMigration(tt.migration), "duplicate registration")
		})
	}
}

func TestSchemaEvolution_UpgradeChain(t *testing.T) {
	evolution := NewSchemaEvolution(3)
	var applied []int
	for v := 1; v < 3; v++ {
		from := v
		require.NoError(t, evolution.RegisterMigration(Migration{
			FromVersion: from,
			ToVersion:   from + 1,
			Description: "step",
			Up: func(RawRecord) error {
				applied = append(applied, from)
				return nil
			},
		}))
	}

	record := RawRecord{"schema_version": float64(1)}
	from, err := evolution.Upgrade(record)

	require.NoError(t, err)
	assert.Equal(t, 1, from)
	assert.Equal(t, []int{1, 2}, applied)
	assert.Equal(t, float64(3), record["schema_version"])
	assert.Len(t, evolution.Descriptions(), 2)
}

func TestSchemaEvolution_MissingStep(t *testing.T) {
	evolution := NewSchemaEvolution(3)
	require.NoError(t, evolution.RegisterMigration(Migration{FromVersion: 2, ToVersion: 3, Up: func(RawRecord) error { return nil }}))

	_, err := evolution.Upgrade(RawRecord{})

	assert.ErrorContains(t, err, "no migration found from version 1")
}
