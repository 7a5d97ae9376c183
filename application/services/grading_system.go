package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"topicgrader/application/ports"
	"topicgrader/domain/config"
	"topicgrader/domain/core/aggregates"
	"topicgrader/domain/core/entities"
	"topicgrader/domain/core/validators"
	"topicgrader/domain/core/valueobjects"
	domainservices "topicgrader/domain/services"
	pkgerrors "topicgrader/pkg/errors"
)

// ConversationGradingSystem grows one conversation's topic tree from
// incoming Q&A pairs and scores each pair as it lands.
//
// Mutating calls are serialized by a single-slot semaphore, so at most one
// is in flight per session. Reads never wait on it: they see the snapshot
// published by the last completed mutation.
type ConversationGradingSystem struct {
	sessionID valueobjects.SessionID
	cfg       *config.DomainConfig
	tree      *aggregates.TopicTree
	gate      *semaphore.Weighted

	// analyzer and engine are only swapped while holding gate
	analyzer domainservices.TopicAnalyzer
	engine   *domainservices.ScoringEngine

	mu      sync.RWMutex
	history []valueobjects.QAPair

	committed atomic.Pointer[aggregates.ConversationTree]

	qaValidator *validators.QAPairValidator
	publisher   ports.EventPublisher
	metrics     ports.Metrics
	tracer      ports.Tracer
	logger      *zap.Logger
	treeOpts    []aggregates.TreeOption
}

// GradingOption customizes a ConversationGradingSystem
type GradingOption func(*ConversationGradingSystem)

// WithTopicAnalyzer sets the classifier
func WithTopicAnalyzer(a domainservices.TopicAnalyzer) GradingOption {
	return func(s *ConversationGradingSystem) {
		if a != nil {
			s.analyzer = a
		}
	}
}

// WithScoringStrategy sets the scorer
func WithScoringStrategy(strategy domainservices.ScoringStrategy) GradingOption {
	return func(s *ConversationGradingSystem) {
		if strategy != nil {
			s.engine = s.engine.WithStrategy(strategy)
		}
	}
}

// WithEventPublisher sets where domain events go after each mutation
func WithEventPublisher(p ports.EventPublisher) GradingOption {
	return func(s *ConversationGradingSystem) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m ports.Metrics) GradingOption {
	return func(s *ConversationGradingSystem) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer
func WithTracer(t ports.Tracer) GradingOption {
	return func(s *ConversationGradingSystem) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) GradingOption {
	return func(s *ConversationGradingSystem) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTreeOptions passes options through to the topic tree
func WithTreeOptions(opts ...aggregates.TreeOption) GradingOption {
	return func(s *ConversationGradingSystem) {
		s.treeOpts = append(s.treeOpts, opts...)
	}
}

func newGradingSystem(sessionID valueobjects.SessionID, cfg *config.DomainConfig, opts []GradingOption) *ConversationGradingSystem {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	analyzer := domainservices.NewKeywordTopicAnalyzer(cfg)
	s := &ConversationGradingSystem{
		sessionID:   sessionID,
		cfg:         cfg,
		gate:        semaphore.NewWeighted(1),
		analyzer:    analyzer,
		qaValidator: validators.NewQAPairValidator(cfg.MaxQuestionLength, cfg.MaxAnswerLength),
		publisher:   ports.NoopPublisher{},
		metrics:     ports.NoopMetrics{},
		tracer:      ports.NoopTracer{},
		logger:      zap.NewNop(),
	}
	s.engine = domainservices.NewScoringEngine(
		domainservices.NewHeuristicScoringStrategy(analyzer), cfg.DefaultScore, cfg.ScoringTimeout, nil)
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session_id", sessionID.String()))
	s.engine = domainservices.NewScoringEngine(s.engine.Strategy(), cfg.DefaultScore, cfg.ScoringTimeout, s.logger,
		domainservices.WithScoringObserver(s.metrics))
	return s
}

// NewConversationGradingSystem creates a grading system over an empty tree
func NewConversationGradingSystem(sessionID valueobjects.SessionID, cfg *config.DomainConfig, opts ...GradingOption) *ConversationGradingSystem {
	s := newGradingSystem(sessionID, cfg, opts)
	s.tree = aggregates.NewTopicTree(sessionID, s.cfg, s.treeOpts...)
	s.commit()
	return s
}

// RestoreConversationGradingSystem wraps an already rebuilt tree. History is
// recovered from the pairs stored on its nodes, in timestamp order.
func RestoreConversationGradingSystem(tree *aggregates.TopicTree, cfg *config.DomainConfig, opts ...GradingOption) *ConversationGradingSystem {
	s := newGradingSystem(tree.SessionID(), cfg, opts)
	s.tree = tree
	s.history = historyFromTree(tree.Snapshot())
	s.tree.MarkEventsAsCommitted()
	s.commit()
	return s
}

// SessionID returns the session this system belongs to
func (s *ConversationGradingSystem) SessionID() valueobjects.SessionID {
	return s.sessionID
}

// AddQAPair files a Q&A pair into the tree and scores it. It returns the id of
// the node the pair was attached to, whether new or existing. A nil score asks
// the configured strategy; an explicit one must lie in [0, 100].
func (s *ConversationGradingSystem) AddQAPair(ctx context.Context, qa valueobjects.QAPair, score *float64) (id valueobjects.NodeID, err error) {
	if err := s.acquire(ctx, "add_qa_pair"); err != nil {
		return valueobjects.NodeID{}, err
	}
	defer s.gate.Release(1)

	ctx, end := s.tracer.Start(ctx, "AddQAPair")
	defer func() { end(err) }()

	if err := s.qaValidator.Validate(qa); err != nil {
		return valueobjects.NodeID{}, err
	}
	if err := s.qaValidator.ValidateScore(score); err != nil {
		return valueobjects.NodeID{}, err
	}

	topics, err := s.analyzer.ExtractTopics(ctx, qa)
	if err != nil {
		return valueobjects.NodeID{}, pkgerrors.NewClassificationError("extract_topics", err)
	}
	if len(topics) == 0 {
		topics = []string{s.cfg.FallbackTopic}
	}
	label := topics[0]

	existing := s.tree.Nodes()
	rel, err := s.analyzer.DetermineRelationship(ctx, label, existing)
	if err != nil {
		return valueobjects.NodeID{}, pkgerrors.NewClassificationError("determine_relationship", err)
	}

	node, err := s.place(label, topics, rel, qa)
	if err != nil {
		s.logger.Error("Failed to place Q&A pair", zap.String("relationship", rel.String()), zap.Error(err))
		return valueobjects.NodeID{}, err
	}

	s.mu.Lock()
	s.history = append(s.history, qa)
	history := append([]valueobjects.QAPair(nil), s.history...)
	s.mu.Unlock()

	final, fallback := 0.0, false
	if score != nil {
		final = *score
	} else {
		final, fallback = s.engine.Score(ctx, qa, domainservices.ScoringContext{
			CurrentTopic: node.Clone(),
			History:      history,
			TopicDepth:   node.Depth(),
		})
	}
	if _, err := s.tree.UpdateNode(node.ID(), aggregates.NodeUpdate{Score: &final, DefaultScore: fallback}); err != nil {
		return valueobjects.NodeID{}, err
	}
	if err := s.tree.SetCurrentNode(node.ID()); err != nil {
		return valueobjects.NodeID{}, err
	}

	s.metrics.QAPairAdded(rel.Type)
	s.logger.Debug("Q&A pair added",
		zap.String("node_id", node.ID().String()),
		zap.String("topic", node.Topic()),
		zap.String("relationship", string(rel.Type)),
		zap.Float64("confidence", rel.Confidence),
		zap.Float64("score", final),
		zap.Bool("default_score", fallback))

	s.commit()
	s.publish(ctx)
	return node.ID(), nil
}

// place turns a relationship into a tree mutation and returns the touched node
func (s *ConversationGradingSystem) place(label string, topics []string, rel valueobjects.TopicRelationship, qa valueobjects.QAPair) (*entities.TopicNode, error) {
	attach := func(id valueobjects.NodeID) (*entities.TopicNode, error) {
		return s.tree.UpdateNode(id, aggregates.NodeUpdate{
			AppendQAPairs: []valueobjects.QAPair{qa},
			AddKeywords:   topics,
		})
	}

	var parentID valueobjects.NodeID
	switch rel.Type {
	case valueobjects.RelationshipContinuation:
		return attach(rel.ParentNodeID)

	case valueobjects.RelationshipChildOf:
		target, err := s.tree.GetNode(rel.ParentNodeID)
		if err != nil {
			return nil, pkgerrors.NewClassificationError("determine_relationship", err)
		}
		if strings.EqualFold(strings.TrimSpace(target.Topic()), strings.TrimSpace(label)) {
			return attach(target.ID())
		}
		parentID = target.ID()

	case valueobjects.RelationshipSiblingOf:
		parentID = rel.ParentNodeID

	case valueobjects.RelationshipNewRoot:
		// stays zero

	default:
		return nil, pkgerrors.NewClassificationError("determine_relationship",
			pkgerrors.NewValidationError("unknown relationship type "+string(rel.Type)))
	}

	// A full branch grows sideways: the new topic joins its would-be parent's siblings
	if !parentID.IsZero() {
		parent, err := s.tree.GetNode(parentID)
		if err != nil {
			return nil, pkgerrors.NewClassificationError("determine_relationship", err)
		}
		if parent.Depth() >= s.cfg.MaxTreeDepth {
			s.logger.Debug("Parent at depth limit, placing topic beside it",
				zap.String("parent_id", parentID.String()),
				zap.Int("depth", parent.Depth()))
			parentID = parent.ParentID()
		}
	}

	return s.tree.AddNode(aggregates.NodeSpec{
		Topic:    label,
		ParentID: parentID,
		Keywords: topics,
		QAPairs:  []valueobjects.QAPair{qa},
	})
}

// MarkTopicAsVisited increments the node's visit count and stamps lastVisited
func (s *ConversationGradingSystem) MarkTopicAsVisited(ctx context.Context, id valueobjects.NodeID) (*entities.TopicNode, error) {
	if err := s.acquire(ctx, "mark_visited"); err != nil {
		return nil, err
	}
	defer s.gate.Release(1)

	node, err := s.tree.MarkVisited(id)
	if err != nil {
		return nil, err
	}
	s.commit()
	s.publish(ctx)
	return node, nil
}

// MarkTopicExhausted flags a topic as fully explored so navigation skips it
func (s *ConversationGradingSystem) MarkTopicExhausted(ctx context.Context, id valueobjects.NodeID, exhausted bool) (*entities.TopicNode, error) {
	if err := s.acquire(ctx, "mark_exhausted"); err != nil {
		return nil, err
	}
	defer s.gate.Release(1)

	node, err := s.tree.UpdateNode(id, aggregates.NodeUpdate{Exhausted: &exhausted})
	if err != nil {
		return nil, err
	}
	s.commit()
	s.publish(ctx)
	return node, nil
}

// RemoveTopic deletes a node; its children move up one level
func (s *ConversationGradingSystem) RemoveTopic(ctx context.Context, id valueobjects.NodeID) error {
	if err := s.acquire(ctx, "remove_topic"); err != nil {
		return err
	}
	defer s.gate.Release(1)

	if err := s.tree.RemoveNode(id); err != nil {
		return err
	}
	s.commit()
	s.publish(ctx)
	return nil
}

// Clear resets the tree and the history
func (s *ConversationGradingSystem) Clear(ctx context.Context) error {
	if err := s.acquire(ctx, "clear"); err != nil {
		return err
	}
	defer s.gate.Release(1)

	s.tree.Clear()
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
	s.commit()
	s.publish(ctx)
	return nil
}

// SetScoringStrategy swaps the scorer for subsequent pairs
func (s *ConversationGradingSystem) SetScoringStrategy(ctx context.Context, strategy domainservices.ScoringStrategy) error {
	if strategy == nil {
		return pkgerrors.NewValidationError("scoring strategy cannot be nil")
	}
	if err := s.acquire(ctx, "set_scoring_strategy"); err != nil {
		return err
	}
	defer s.gate.Release(1)
	s.engine = s.engine.WithStrategy(strategy)
	return nil
}

// SetTopicAnalyzer swaps the classifier for subsequent pairs
func (s *ConversationGradingSystem) SetTopicAnalyzer(ctx context.Context, analyzer domainservices.TopicAnalyzer) error {
	if analyzer == nil {
		return pkgerrors.NewValidationError("topic analyzer cannot be nil")
	}
	if err := s.acquire(ctx, "set_topic_analyzer"); err != nil {
		return err
	}
	defer s.gate.Release(1)
	s.analyzer = analyzer
	return nil
}

// Read side. Everything below works on the last committed snapshot.

func (s *ConversationGradingSystem) snapshot() aggregates.ConversationTree {
	return *s.committed.Load()
}

// GetTopicTree returns a private copy of the tree
func (s *ConversationGradingSystem) GetTopicTree() aggregates.ConversationTree {
	return s.snapshot().Clone()
}

// GetCurrentTopic returns the last node of the current path
func (s *ConversationGradingSystem) GetCurrentTopic() (*entities.TopicNode, bool) {
	node, ok := s.snapshot().CurrentNode()
	if !ok {
		return nil, false
	}
	return node.Clone(), true
}

// GetDepthFromRoot returns the node's depth, 1 for a root
func (s *ConversationGradingSystem) GetDepthFromRoot(id valueobjects.NodeID) (int, error) {
	return s.navigator().Depth(id)
}

// GetDeepestUnvisitedBranch returns the next topic to explore, if any
func (s *ConversationGradingSystem) GetDeepestUnvisitedBranch() (*entities.TopicNode, bool) {
	node, ok := s.navigator().DeepestUnvisitedBranch()
	if !ok {
		return nil, false
	}
	return node.Clone(), true
}

// GetAncestors returns the chain above id, nearest parent first
func (s *ConversationGradingSystem) GetAncestors(id valueobjects.NodeID) ([]*entities.TopicNode, error) {
	ancestors, err := s.navigator().Ancestors(id)
	if err != nil {
		return nil, err
	}
	out := make([]*entities.TopicNode, len(ancestors))
	for i, a := range ancestors {
		out[i] = a.Clone()
	}
	return out, nil
}

// GetStats summarizes the tree
func (s *ConversationGradingSystem) GetStats() aggregates.TreeStats {
	return s.navigator().Stats()
}

// Version returns the tree version of the last committed mutation
func (s *ConversationGradingSystem) Version() int {
	return s.snapshot().Version
}

// NodeCount returns the number of topics
func (s *ConversationGradingSystem) NodeCount() int {
	return s.snapshot().Size()
}

// History returns every accepted pair in arrival order
func (s *ConversationGradingSystem) History() []valueobjects.QAPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]valueobjects.QAPair(nil), s.history...)
}

func (s *ConversationGradingSystem) navigator() *aggregates.TreeNavigator {
	return aggregates.NewTreeNavigator(s.snapshot())
}

// Private helper methods

func (s *ConversationGradingSystem) acquire(ctx context.Context, op string) error {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return pkgerrors.NewTimeoutError(op).WithCause(err)
	}
	return nil
}

func (s *ConversationGradingSystem) commit() {
	snap := s.tree.Snapshot()
	s.committed.Store(&snap)
}

// publish drains the tree's pending events. Delivery failures are logged only.
func (s *ConversationGradingSystem) publish(ctx context.Context) {
	pending := s.tree.GetUncommittedEvents()
	if len(pending) == 0 {
		return
	}
	if err := s.publisher.PublishBatch(ctx, pending); err != nil {
		s.logger.Warn("Failed to publish domain events",
			zap.Int("count", len(pending)),
			zap.String("error_code", pkgerrors.ErrEventPublishFailed.Code),
			zap.Error(err))
	}
	s.tree.MarkEventsAsCommitted()
}

func historyFromTree(tree aggregates.ConversationTree) []valueobjects.QAPair {
	var history []valueobjects.QAPair
	for _, id := range tree.ReplayOrder() {
		history = append(history, tree.Nodes[id].QAPairs()...)
	}
	sortByTimestamp(history)
	return history
}

func sortByTimestamp(pairs []valueobjects.QAPair) {
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Timestamp().Before(pairs[j].Timestamp())
	})
}
