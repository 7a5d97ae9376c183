package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topicgrader/domain/config"
	"topicgrader/domain/core/entities"
	"topicgrader/domain/core/valueobjects"
)

func qaPair(t *testing.T, question, answer string) valueobjects.QAPair {
	t.Helper()
	qa, err := valueobjects.NewQAPair(question, answer, time.Time{}, nil)
	require.NoError(t, err)
	return qa
}

var analyzerBase = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// node builds a detached node; depth and parent are set straight from state
func node(t *testing.T, topic string, parent *entities.TopicNode, updatedOffset time.Duration) *entities.TopicNode {
	t.Helper()
	n, err := entities.NewTopicNode(topic, nil, analyzerBase)
	require.NoError(t, err)
	state := n.State()
	state.UpdatedAt = analyzerBase.Add(updatedOffset)
	if parent != nil {
		state.ParentID = parent.ID()
		state.Depth = parent.Depth() + 1
	}
	n, err = entities.ReconstructTopicNode(state)
	require.NoError(t, err)
	return n
}

func TestKeywordTopicAnalyzer_ExtractTopics(t *testing.T) {
	analyzer := NewKeywordTopicAnalyzer(config.DefaultDomainConfig())
	ctx := context.Background()

	tests := []struct {
		name     string
		question string
		answer   string
		want     []string
	}{
		{
			name:     "question term dominates",
			question: "What is AI?",
			answer:   "AI is the simulation of human intelligence by machines.",
			want:     []string{"ai", "ai simulation human", "simulation human intelligence"},
		},
		{
			name:     "longer phrase wins a frequency tie",
			question: "What is machine learning in AI?",
			answer:   "Machine learning is a subset of AI where systems learn patterns from data.",
			want:     []string{"machine learning", "machine", "learning"},
		},
		{
			name:     "only stop words fall back",
			question: "What is it?",
			answer:   "It is what it is.",
			want:     []string{"general discussion"},
		},
		{
			name:     "stop phrases are dropped",
			question: "Thanks!",
			answer:   "Thanks, thanks.",
			want:     []string{"general discussion"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := analyzer.ExtractTopics(ctx, qaPair(t, tt.question, tt.answer))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeywordTopicAnalyzer_ExtractTopics_Cancelled(t *testing.T) {
	analyzer := NewKeywordTopicAnalyzer(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := analyzer.ExtractTopics(ctx, qaPair(t, "q", "a"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeywordTopicAnalyzer_Similarity(t *testing.T) {
	analyzer := NewKeywordTopicAnalyzer(nil)

	tests := []struct {
		name  string
		left  string
		right string
		want  float64
	}{
		{name: "identical after normalizing", left: "The Databases", right: "databases", want: 1},
		{name: "related group only", left: "machine learning", right: "ai", want: 0.3},
		{name: "unrelated", left: "cooking pasta", right: "kubernetes", want: 0},
		{name: "jaccard half", left: "python decorators", right: "python generators", want: 1.0 / 3.0},
		{name: "prefix partial", left: "testing", right: "tests", want: 0.3 + 0.1},
		{name: "partial capped", left: "database index", right: "databases indexing indexes", want: 0.3 + 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := analyzer.Similarity(tt.left, tt.right)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.InDelta(t, got, analyzer.Similarity(tt.right, tt.left), 1e-9, "similarity is symmetric")
		})
	}
}

func TestKeywordTopicAnalyzer_DetermineRelationship(t *testing.T) {
	analyzer := NewKeywordTopicAnalyzer(nil)
	ctx := context.Background()

	ai := node(t, "ai", nil, 0)
	databases := node(t, "databases", nil, time.Second)
	sql := node(t, "sql query tuning", databases, 2*time.Second)

	tests := []struct {
		name     string
		topic    string
		existing []*entities.TopicNode
		wantType valueobjects.RelationshipType
		parent   valueobjects.NodeID
		related  valueobjects.NodeID
		conf     float64
	}{
		{
			name:     "empty tree",
			topic:    "anything",
			wantType: valueobjects.RelationshipNewRoot,
			conf:     1,
		},
		{
			name:     "continuation attaches to most recently updated",
			topic:    "tell more",
			existing: []*entities.TopicNode{ai, sql, databases},
			wantType: valueobjects.RelationshipContinuation,
			parent:   sql.ID(),
			conf:     0.8,
		},
		{
			name:     "related band finds broader contextual parent",
			topic:    "machine learning",
			existing: []*entities.TopicNode{ai, databases},
			wantType: valueobjects.RelationshipChildOf,
			parent:   ai.ID(),
			conf:     0.3,
		},
		{
			name:     "strong match becomes child",
			topic:    "sql query tuning tips",
			existing: []*entities.TopicNode{ai, databases, sql},
			wantType: valueobjects.RelationshipChildOf,
			parent:   sql.ID(),
			conf:     1,
		},
		{
			name:     "unrelated topic is a new root",
			topic:    "cooking pasta",
			existing: []*entities.TopicNode{ai, databases},
			wantType: valueobjects.RelationshipNewRoot,
			conf:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel, err := analyzer.DetermineRelationship(ctx, tt.topic, tt.existing)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, rel.Type)
			assert.Equal(t, tt.parent, rel.ParentNodeID)
			assert.Equal(t, tt.related, rel.RelatedNodeID)
			assert.InDelta(t, tt.conf, rel.Confidence, 1e-9)
		})
	}
}

func TestKeywordTopicAnalyzer_SiblingAndRelatedRoot(t *testing.T) {
	analyzer := NewKeywordTopicAnalyzer(nil)
	ctx := context.Background()

	t.Run("sibling band under a parent", func(t *testing.T) {
		root := node(t, "golang", nil, 0)
		child := node(t, "golang channels buffering", root, time.Second)

		// {golang, channels, buffering} vs {golang, channels, select, statements}: 2/5
		rel, err := analyzer.DetermineRelationship(ctx, "golang channels select statements",
			[]*entities.TopicNode{root, child})
		require.NoError(t, err)

		assert.Equal(t, valueobjects.RelationshipSiblingOf, rel.Type)
		assert.Equal(t, root.ID(), rel.ParentNodeID)
		assert.Equal(t, child.ID(), rel.RelatedNodeID)
		assert.InDelta(t, 0.4, rel.Confidence, 1e-9)
	})

	t.Run("sibling band at a root becomes child", func(t *testing.T) {
		root := node(t, "golang channels buffering", nil, 0)

		rel, err := analyzer.DetermineRelationship(ctx, "golang channels select statements",
			[]*entities.TopicNode{root})
		require.NoError(t, err)

		assert.Equal(t, valueobjects.RelationshipChildOf, rel.Type)
		assert.Equal(t, root.ID(), rel.ParentNodeID)
	})

	t.Run("related band without broader parent", func(t *testing.T) {
		root := node(t, "deep learning", nil, 0)

		// same group, but the existing label is not broader
		rel, err := analyzer.DetermineRelationship(ctx, "ai", []*entities.TopicNode{root})
		require.NoError(t, err)

		assert.Equal(t, valueobjects.RelationshipNewRoot, rel.Type)
		assert.Equal(t, root.ID(), rel.RelatedNodeID)
		assert.InDelta(t, 0.8, rel.Confidence, 1e-9)
	})
}

func TestKeywordTopicAnalyzer_WithVocabulary(t *testing.T) {
	vocab := DefaultVocabulary()
	vocab.ContinuationPhrases = []string{"moving on"}
	analyzer := NewKeywordTopicAnalyzer(nil, WithVocabulary(vocab))

	assert.True(t, analyzer.IsContinuation("moving on"))
	assert.False(t, analyzer.IsContinuation("tell me more"))
	assert.Equal(t, []string{"artificial-intelligence"}, analyzer.RelatedGroups("neural networks"))
}
