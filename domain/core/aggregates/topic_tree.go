package aggregates

import (
	"sync"
	"time"

	"topicgrader/domain/config"
	"topicgrader/domain/core/entities"
	"topicgrader/domain/core/valueobjects"
	"topicgrader/domain/core/validators"
	"topicgrader/domain/events"
	pkgerrors "topicgrader/pkg/errors"
)

// TopicTree is the aggregate root for one conversation's topic forest.
// Every mutation is validated against the full set of tree invariants and
// rolled back if any of them would break.
type TopicTree struct {
	mu sync.RWMutex

	sessionID   valueobjects.SessionID
	nodes       map[valueobjects.NodeID]*entities.TopicNode
	order       []valueobjects.NodeID
	rootNodes   []valueobjects.NodeID
	currentPath []valueobjects.NodeID
	createdAt   time.Time
	updatedAt   time.Time
	version     int
	events      []events.DomainEvent

	validator *validators.TreeValidator
	clock     func() time.Time
	lastStamp time.Time
}

// TreeOption customizes a TopicTree
type TreeOption func(*TopicTree)

// WithClock replaces the time source
func WithClock(clock func() time.Time) TreeOption {
	return func(t *TopicTree) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// NodeSpec describes a node to insert
type NodeSpec struct {
	ID       valueobjects.NodeID // generated when zero
	Topic    string
	ParentID valueobjects.NodeID // zero for a new root
	Score    *float64
	Keywords []string
	QAPairs  []valueobjects.QAPair
}

// NodeUpdate is a partial update; nil fields are left untouched
type NodeUpdate struct {
	Topic *string
	Score *float64
	// DefaultScore marks Score as the scoring engine's fallback value
	DefaultScore bool
	// Parent re-links the node. A pointer to the zero NodeID moves it to the roots.
	Parent        *valueobjects.NodeID
	AppendQAPairs []valueobjects.QAPair
	AddKeywords   []string
	Exhausted     *bool
}

func (u NodeUpdate) changedFields() []string {
	var fields []string
	if u.Topic != nil {
		fields = append(fields, "topic")
	}
	if u.Score != nil {
		fields = append(fields, "score")
	}
	if len(u.AppendQAPairs) > 0 {
		fields = append(fields, "qa_pairs")
	}
	if len(u.AddKeywords) > 0 {
		fields = append(fields, "keywords")
	}
	if u.Exhausted != nil {
		fields = append(fields, "is_exhausted")
	}
	return fields
}

// NewTopicTree creates an empty tree for a session
func NewTopicTree(sessionID valueobjects.SessionID, cfg *config.DomainConfig, opts ...TreeOption) *TopicTree {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	t := &TopicTree{
		sessionID: sessionID,
		nodes:     make(map[valueobjects.NodeID]*entities.TopicNode),
		validator: validators.NewTreeValidator(cfg.MaxNodesPerTree, cfg.MaxTreeDepth),
		clock:     func() time.Time { return time.Now().UTC() },
		version:   1,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.createdAt = t.now()
	t.updatedAt = t.createdAt
	return t
}

// RestoreTopicTree rebuilds a tree from a snapshot without replaying it.
// The snapshot must satisfy every invariant or a TREE_INTEGRITY error is returned.
func RestoreTopicTree(snapshot ConversationTree, cfg *config.DomainConfig, opts ...TreeOption) (*TopicTree, error) {
	t := NewTopicTree(snapshot.SessionID, cfg, opts...)
	if !snapshot.CreatedAt.IsZero() {
		t.createdAt = snapshot.CreatedAt
	}
	if !snapshot.UpdatedAt.IsZero() {
		t.updatedAt = snapshot.UpdatedAt
	}

	order := snapshot.NodeOrder
	if len(order) != len(snapshot.Nodes) {
		order = snapshot.ReplayOrder()
	}
	for _, id := range order {
		node, ok := snapshot.Nodes[id]
		if !ok {
			return nil, pkgerrors.TreeIntegrity(pkgerrors.ErrTopicNotFound, "node order lists missing node %s", id)
		}
		t.nodes[id] = node.Clone()
		t.order = append(t.order, id)
		if node.UpdatedAt().After(t.lastStamp) {
			t.lastStamp = node.UpdatedAt()
		}
	}
	if len(t.order) != len(snapshot.Nodes) {
		return nil, pkgerrors.TreeIntegrity(pkgerrors.ErrBrokenParentLink,
			"%d of %d nodes are unreachable from the roots", len(snapshot.Nodes)-len(t.order), len(snapshot.Nodes))
	}
	t.rootNodes = append([]valueobjects.NodeID(nil), snapshot.RootNodes...)
	t.currentPath = append([]valueobjects.NodeID(nil), snapshot.CurrentPath...)
	if snapshot.Version > 0 {
		t.version = snapshot.Version
	}

	if err := t.validator.Validate(t.view()); err != nil {
		return nil, err
	}
	return t, nil
}

// SessionID returns the owning session
func (t *TopicTree) SessionID() valueobjects.SessionID {
	return t.sessionID
}

// Version increments on every successful mutation
func (t *TopicTree) Version() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Size returns the number of nodes
func (t *TopicTree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Snapshot returns a deep copy of the tree
func (t *TopicTree) Snapshot() ConversationTree {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

// Navigator returns a navigator over a fresh snapshot
func (t *TopicTree) Navigator() *TreeNavigator {
	return NewTreeNavigator(t.Snapshot())
}

// AddNode inserts a node and returns a copy of it
func (t *TopicTree) AddNode(spec NodeSpec) (*entities.TopicNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	node, err := entities.NewTopicNode(spec.Topic, spec.Keywords, now)
	if err != nil {
		return nil, err
	}
	if spec.Score != nil && !entities.ValidScore(*spec.Score) {
		return nil, pkgerrors.Validation(pkgerrors.ErrInvalidScore, "score %v is outside [0, 100]", *spec.Score)
	}

	state := node.State()
	if !spec.ID.IsZero() {
		state.ID = spec.ID
	}
	state.Score = spec.Score
	state.Metadata.QAPairs = spec.QAPairs
	node, err = entities.ReconstructTopicNode(state)
	if err != nil {
		return nil, err
	}

	if _, exists := t.nodes[node.ID()]; exists {
		return nil, pkgerrors.TreeIntegrity(pkgerrors.ErrDuplicateTopic, "topic %s already exists", node.ID())
	}
	if len(t.nodes) >= t.validator.MaxNodes() {
		return nil, pkgerrors.TreeIntegrity(pkgerrors.ErrMaxNodesExceeded,
			"tree already holds %d nodes", len(t.nodes))
	}

	var parent *entities.TopicNode
	if !spec.ParentID.IsZero() {
		var ok bool
		if parent, ok = t.nodes[spec.ParentID]; !ok {
			return nil, pkgerrors.TreeIntegrity(pkgerrors.ErrParentNotFound, "parent %s not found", spec.ParentID)
		}
	}

	err = t.mutate(func() error {
		t.nodes[node.ID()] = node
		t.order = append(t.order, node.ID())
		if parent == nil {
			t.rootNodes = append(t.rootNodes, node.ID())
			return nil
		}
		if parent.Depth()+1 > t.validator.MaxDepth() {
			return pkgerrors.TreeIntegrity(pkgerrors.ErrMaxDepthExceeded,
				"depth %d under %s exceeds limit %d", parent.Depth()+1, parent.ID(), t.validator.MaxDepth())
		}
		node.SetParent(parent.ID(), parent.Depth()+1, now)
		parent.AddChild(node.ID())
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.addEvent(events.NewTopicCreated(t.sessionID, t.version, node.ID(), node.ParentID(), node.Topic(), node.Depth(), now))
	return node.Clone(), nil
}

// UpdateNode applies a partial update, re-parenting when asked
func (t *TopicTree) UpdateNode(id valueobjects.NodeID, update NodeUpdate) (*entities.TopicNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return nil, pkgerrors.TreeIntegrity(pkgerrors.ErrTopicNotFound, "topic %s not found", id)
	}
	oldParent := node.ParentID()
	now := t.now()

	err := t.mutate(func() error {
		if update.Parent != nil && !update.Parent.Equals(node.ParentID()) {
			if err := t.reparentLocked(node, *update.Parent, now); err != nil {
				return err
			}
		}
		if update.Topic != nil {
			if err := node.SetTopic(*update.Topic, now); err != nil {
				return err
			}
		}
		if update.Score != nil {
			if err := node.SetScore(*update.Score, now); err != nil {
				return err
			}
		}
		for _, qa := range update.AppendQAPairs {
			node.AttachQAPair(qa, now)
		}
		if len(update.AddKeywords) > 0 {
			node.AddKeywords(update.AddKeywords)
		}
		if update.Exhausted != nil {
			node.SetExhausted(*update.Exhausted, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated := t.nodes[id]
	if !oldParent.Equals(updated.ParentID()) {
		t.addEvent(events.NewTopicMoved(t.sessionID, t.version, id, oldParent, updated.ParentID(), now))
	}
	if fields := update.changedFields(); len(fields) > 0 {
		t.addEvent(events.NewTopicUpdated(t.sessionID, t.version, id, fields, now))
		if update.Score != nil {
			t.addEvent(events.NewTopicScored(t.sessionID, t.version, id, *update.Score, update.DefaultScore, now))
		}
		if update.Exhausted != nil && *update.Exhausted {
			t.addEvent(events.NewTopicExhausted(t.sessionID, t.version, id, now))
		}
	}
	return updated.Clone(), nil
}

// reparentLocked moves node under newParent, or to the roots for the zero id
func (t *TopicTree) reparentLocked(node *entities.TopicNode, newParent valueobjects.NodeID, now time.Time) error {
	id := node.ID()
	depth := 1
	if !newParent.IsZero() {
		parent, ok := t.nodes[newParent]
		if !ok {
			return pkgerrors.TreeIntegrity(pkgerrors.ErrParentNotFound, "parent %s not found", newParent)
		}
		if newParent.Equals(id) || t.isAncestorLocked(id, newParent) {
			return pkgerrors.TreeIntegrity(pkgerrors.ErrCyclicDependency,
				"cannot move %s under its own descendant %s", id, newParent)
		}
		depth = parent.Depth() + 1
	}

	t.detachLocked(node)
	node.SetParent(newParent, depth, now)
	if newParent.IsZero() {
		t.rootNodes = append(t.rootNodes, id)
	} else {
		t.nodes[newParent].AddChild(id)
	}
	t.refreshDepthsLocked(id)

	// Keep the path pointing at the same conversation position
	if len(t.currentPath) > 0 {
		t.currentPath = t.chainLocked(t.currentPath[len(t.currentPath)-1])
	}
	return nil
}

// RemoveNode deletes a node. Its children move up to its parent, taking its
// place in the sibling order, or become roots when it had none.
func (t *TopicTree) RemoveNode(id valueobjects.NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return pkgerrors.TreeIntegrity(pkgerrors.ErrTopicNotFound, "topic %s not found", id)
	}
	children := node.Children()
	now := t.now()

	err := t.mutate(func() error {
		parentID := node.ParentID()
		for _, childID := range children {
			child := t.nodes[childID]
			child.SetParent(parentID, node.Depth(), now)
			t.refreshDepthsLocked(childID)
		}

		if parentID.IsZero() {
			t.rootNodes = spliceIDs(t.rootNodes, id, children)
		} else {
			parent := t.nodes[parentID]
			parent.InsertChildren(id, children)
			parent.RemoveChild(id)
		}

		delete(t.nodes, id)
		t.order = removeID(t.order, id)
		t.currentPath = removeID(t.currentPath, id)
		return nil
	})
	if err != nil {
		return err
	}

	t.addEvent(events.NewTopicRemoved(t.sessionID, t.version, id, node.Topic(), children, now))
	return nil
}

// MarkVisited increments a node's visit count
func (t *TopicTree) MarkVisited(id valueobjects.NodeID) (*entities.TopicNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return nil, pkgerrors.TreeIntegrity(pkgerrors.ErrTopicNotFound, "topic %s not found", id)
	}
	now := t.now()
	_ = t.mutate(func() error {
		node.MarkVisited(now)
		return nil
	})
	t.addEvent(events.NewTopicVisited(t.sessionID, t.version, id, node.VisitCount(), now))
	return node.Clone(), nil
}

// SetCurrentNode points the current path at the root-to-id chain
func (t *TopicTree) SetCurrentNode(id valueobjects.NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.nodes[id]; !ok {
		return pkgerrors.TreeIntegrity(pkgerrors.ErrTopicNotFound, "topic %s not found", id)
	}
	return t.mutate(func() error {
		t.currentPath = t.chainLocked(id)
		return nil
	})
}

// CurrentNode returns a copy of the last node on the current path
func (t *TopicTree) CurrentNode() (*entities.TopicNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.currentPath) == 0 {
		return nil, false
	}
	return t.nodes[t.currentPath[len(t.currentPath)-1]].Clone(), true
}

// CurrentPath returns the ids from a root to the current node
func (t *TopicTree) CurrentPath() []valueobjects.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]valueobjects.NodeID(nil), t.currentPath...)
}

// Clear empties the tree
func (t *TopicTree) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := len(t.nodes)
	t.nodes = make(map[valueobjects.NodeID]*entities.TopicNode)
	t.order = nil
	t.rootNodes = nil
	t.currentPath = nil
	t.version++
	now := t.now()
	t.updatedAt = now
	t.addEvent(events.NewTreeCleared(t.sessionID, t.version, removed, now))
}

// GetNode returns a copy of a node
func (t *TopicTree) GetNode(id valueobjects.NodeID) (*entities.TopicNode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[id]
	if !ok {
		return nil, pkgerrors.TreeIntegrity(pkgerrors.ErrTopicNotFound, "topic %s not found", id)
	}
	return node.Clone(), nil
}

// HasNode reports whether id is in the tree
func (t *TopicTree) HasNode(id valueobjects.NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.nodes[id]
	return ok
}

// Nodes returns copies of every node in insertion order
func (t *TopicTree) Nodes() []*entities.TopicNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*entities.TopicNode, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.nodes[id].Clone())
	}
	return out
}

// GetRootNodes returns copies of the roots in order
func (t *TopicTree) GetRootNodes() []*entities.TopicNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*entities.TopicNode, 0, len(t.rootNodes))
	for _, id := range t.rootNodes {
		out = append(out, t.nodes[id].Clone())
	}
	return out
}

// GetChildren returns copies of a node's children in order
func (t *TopicTree) GetChildren(id valueobjects.NodeID) ([]*entities.TopicNode, error) {
	return t.Navigator().Children(id)
}

// GetParent returns a copy of the parent, or nil for a root
func (t *TopicTree) GetParent(id valueobjects.NodeID) (*entities.TopicNode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[id]
	if !ok {
		return nil, pkgerrors.TreeIntegrity(pkgerrors.ErrTopicNotFound, "topic %s not found", id)
	}
	if node.IsRoot() {
		return nil, nil
	}
	return t.nodes[node.ParentID()].Clone(), nil
}

// CalculateDepth walks the parent chain of id
func (t *TopicTree) CalculateDepth(id valueobjects.NodeID) (int, error) {
	return t.Navigator().Depth(id)
}

// GetStats summarizes the tree
func (t *TopicTree) GetStats() TreeStats {
	return t.Navigator().Stats()
}

// FindDeepestUnvisitedBranch returns the navigation target, if any
func (t *TopicTree) FindDeepestUnvisitedBranch() (*entities.TopicNode, bool) {
	return t.Navigator().DeepestUnvisitedBranch()
}

// Validate checks every invariant against the current state
func (t *TopicTree) Validate() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.validator.Validate(t.view())
}

// GetUncommittedEvents returns all uncommitted domain events
func (t *TopicTree) GetUncommittedEvents() []events.DomainEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]events.DomainEvent, len(t.events))
	copy(out, t.events)
	return out
}

// MarkEventsAsCommitted clears all uncommitted events
func (t *TopicTree) MarkEventsAsCommitted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// Private helper methods

// mutate runs fn against the live state and validates the result.
// Any error, from fn or from validation, restores the prior state.
func (t *TopicTree) mutate(fn func() error) error {
	backup := t.backupLocked()
	if err := fn(); err != nil {
		t.restoreLocked(backup)
		return err
	}
	if err := t.validator.Validate(t.view()); err != nil {
		t.restoreLocked(backup)
		return err
	}
	t.version++
	t.updatedAt = t.lastStamp
	return nil
}

type treeBackup struct {
	nodes       map[valueobjects.NodeID]*entities.TopicNode
	order       []valueobjects.NodeID
	rootNodes   []valueobjects.NodeID
	currentPath []valueobjects.NodeID
}

func (t *TopicTree) backupLocked() treeBackup {
	nodes := make(map[valueobjects.NodeID]*entities.TopicNode, len(t.nodes))
	for id, n := range t.nodes {
		nodes[id] = n.Clone()
	}
	return treeBackup{
		nodes:       nodes,
		order:       append([]valueobjects.NodeID(nil), t.order...),
		rootNodes:   append([]valueobjects.NodeID(nil), t.rootNodes...),
		currentPath: append([]valueobjects.NodeID(nil), t.currentPath...),
	}
}

func (t *TopicTree) restoreLocked(b treeBackup) {
	t.nodes = b.nodes
	t.order = b.order
	t.rootNodes = b.rootNodes
	t.currentPath = b.currentPath
}

func (t *TopicTree) snapshotLocked() ConversationTree {
	b := t.backupLocked()
	return ConversationTree{
		SessionID:   t.sessionID,
		CreatedAt:   t.createdAt,
		UpdatedAt:   t.updatedAt,
		Version:     t.version,
		Nodes:       b.nodes,
		NodeOrder:   b.order,
		RootNodes:   b.rootNodes,
		CurrentPath: b.currentPath,
	}
}

func (t *TopicTree) view() validators.TreeView {
	return validators.TreeView{
		Nodes:       t.nodes,
		RootNodes:   t.rootNodes,
		CurrentPath: t.currentPath,
	}
}

// now returns a strictly increasing timestamp so "most recently updated" is never ambiguous
func (t *TopicTree) now() time.Time {
	now := t.clock()
	if !now.After(t.lastStamp) {
		now = t.lastStamp.Add(time.Nanosecond)
	}
	t.lastStamp = now
	return now
}

func (t *TopicTree) detachLocked(node *entities.TopicNode) {
	if node.IsRoot() {
		t.rootNodes = removeID(t.rootNodes, node.ID())
		return
	}
	if parent, ok := t.nodes[node.ParentID()]; ok {
		parent.RemoveChild(node.ID())
	}
}

// refreshDepthsLocked recomputes depths below id after a move
func (t *TopicTree) refreshDepthsLocked(id valueobjects.NodeID) {
	queue := []valueobjects.NodeID{id}
	visited := make(map[valueobjects.NodeID]bool)
	for len(queue) > 0 {
		current := t.nodes[queue[0]]
		queue = queue[1:]
		if current == nil || visited[current.ID()] {
			continue
		}
		visited[current.ID()] = true
		for _, childID := range current.Children() {
			if child, ok := t.nodes[childID]; ok {
				child.SetDepth(current.Depth() + 1)
				queue = append(queue, childID)
			}
		}
	}
}

func (t *TopicTree) isAncestorLocked(ancestor, id valueobjects.NodeID) bool {
	current, ok := t.nodes[id]
	for steps := 0; ok && !current.IsRoot() && steps <= len(t.nodes); steps++ {
		if current.ParentID().Equals(ancestor) {
			return true
		}
		current, ok = t.nodes[current.ParentID()]
	}
	return false
}

func (t *TopicTree) chainLocked(id valueobjects.NodeID) []valueobjects.NodeID {
	var chain []valueobjects.NodeID
	current, ok := t.nodes[id]
	for steps := 0; ok && steps <= len(t.nodes); steps++ {
		chain = append(chain, current.ID())
		if current.IsRoot() {
			break
		}
		current, ok = t.nodes[current.ParentID()]
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func (t *TopicTree) addEvent(event events.DomainEvent) {
	t.events = append(t.events, event)
}

func removeID(ids []valueobjects.NodeID, id valueobjects.NodeID) []valueobjects.NodeID {
	out := make([]valueobjects.NodeID, 0, len(ids))
	for _, existing := range ids {
		if !existing.Equals(id) {
			out = append(out, existing)
		}
	}
	return out
}

// spliceIDs replaces target in ids with replacement, keeping order
func spliceIDs(ids []valueobjects.NodeID, target valueobjects.NodeID, replacement []valueobjects.NodeID) []valueobjects.NodeID {
	out := make([]valueobjects.NodeID, 0, len(ids)+len(replacement))
	for _, id := range ids {
		if id.Equals(target) {
			out = append(out, replacement...)
			continue
		}
		out = append(out, id)
	}
	return out
}
