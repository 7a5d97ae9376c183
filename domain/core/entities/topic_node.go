package entities

import (
	"math"
	"strings"
	"time"

	"topicgrader/domain/core/valueobjects"
	pkgerrors "topicgrader/pkg/errors"
)

// NodeMetadata is the exploration evidence accumulated on a topic
type NodeMetadata struct {
	QAPairs     []valueobjects.QAPair
	VisitCount  int
	LastVisited *time.Time
	IsExhausted bool
	Keywords    []string
}

func (m NodeMetadata) clone() NodeMetadata {
	out := NodeMetadata{
		VisitCount:  m.VisitCount,
		IsExhausted: m.IsExhausted,
	}
	if m.QAPairs != nil {
		out.QAPairs = append([]valueobjects.QAPair(nil), m.QAPairs...)
	}
	if m.Keywords != nil {
		out.Keywords = append([]string(nil), m.Keywords...)
	}
	if m.LastVisited != nil {
		t := *m.LastVisited
		out.LastVisited = &t
	}
	return out
}

// TopicNode is one vertex of a conversation topic tree.
// The parent reference is a lookup key only; the parent's children list
// is what links a node into the tree.
type TopicNode struct {
	id        valueobjects.NodeID
	topic     string
	parentID  valueobjects.NodeID
	children  []valueobjects.NodeID
	depth     int
	score     *float64
	createdAt time.Time
	updatedAt time.Time
	version   int
	metadata  NodeMetadata
}

// NewTopicNode creates a detached node at depth 1
func NewTopicNode(topic string, keywords []string, now time.Time) (*TopicNode, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, pkgerrors.Validation(pkgerrors.ErrInvalidTopic, "topic cannot be empty")
	}

	return &TopicNode{
		id:        valueobjects.NewNodeID(),
		topic:     topic,
		depth:     1,
		createdAt: now,
		updatedAt: now,
		version:   1,
		metadata:  NodeMetadata{Keywords: append([]string(nil), keywords...)},
	}, nil
}

// TopicNodeState carries every field of a stored node
type TopicNodeState struct {
	ID        valueobjects.NodeID
	Topic     string
	ParentID  valueobjects.NodeID
	Children  []valueobjects.NodeID
	Depth     int
	Score     *float64
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  NodeMetadata
}

// ReconstructTopicNode rebuilds a node from stored state.
// Structural consistency is checked by the tree it is restored into.
func ReconstructTopicNode(state TopicNodeState) (*TopicNode, error) {
	errs := pkgerrors.NewValidationErrors()
	if state.ID.IsZero() {
		errs.AddError(pkgerrors.ErrInvalidNodeID)
	}
	if strings.TrimSpace(state.Topic) == "" {
		errs.AddError(pkgerrors.ErrInvalidTopic)
	}
	if state.Score != nil && !ValidScore(*state.Score) {
		errs.AddError(pkgerrors.ErrInvalidScore)
	}
	if state.Depth < 1 {
		errs.Add("depth", "depth must be at least 1")
	}
	if state.Metadata.VisitCount < 0 {
		errs.Add("visitCount", "visit count cannot be negative")
	}
	if err := errs.AsAppError(); err != nil {
		return nil, err
	}

	node := &TopicNode{
		id:        state.ID,
		topic:     strings.TrimSpace(state.Topic),
		parentID:  state.ParentID,
		children:  append([]valueobjects.NodeID(nil), state.Children...),
		depth:     state.Depth,
		createdAt: state.CreatedAt,
		updatedAt: state.UpdatedAt,
		version:   1,
		metadata:  state.Metadata.clone(),
	}
	if state.Score != nil {
		s := *state.Score
		node.score = &s
	}
	return node, nil
}

// State exports a copy of every field
func (n *TopicNode) State() TopicNodeState {
	return TopicNodeState{
		ID:        n.id,
		Topic:     n.topic,
		ParentID:  n.parentID,
		Children:  n.Children(),
		Depth:     n.depth,
		Score:     n.Score(),
		CreatedAt: n.createdAt,
		UpdatedAt: n.updatedAt,
		Metadata:  n.metadata.clone(),
	}
}

// ValidScore reports whether s is a usable score
func ValidScore(s float64) bool {
	return !math.IsNaN(s) && !math.IsInf(s, 0) && s >= 0 && s <= 100
}

// ID returns the node's unique identifier
func (n *TopicNode) ID() valueobjects.NodeID { return n.id }

// Topic returns the topic label
func (n *TopicNode) Topic() string { return n.topic }

// ParentID returns the parent id, or the zero NodeID for roots
func (n *TopicNode) ParentID() valueobjects.NodeID { return n.parentID }

// IsRoot reports whether the node has no parent
func (n *TopicNode) IsRoot() bool { return n.parentID.IsZero() }

// Children returns a copy of the ordered child ids
func (n *TopicNode) Children() []valueobjects.NodeID {
	return append([]valueobjects.NodeID(nil), n.children...)
}

// HasChildren reports whether the node has any child
func (n *TopicNode) HasChildren() bool { return len(n.children) > 0 }

// HasChild reports whether id is a direct child
func (n *TopicNode) HasChild(id valueobjects.NodeID) bool {
	for _, c := range n.children {
		if c.Equals(id) {
			return true
		}
	}
	return false
}

// Depth returns the node depth, 1 for roots
func (n *TopicNode) Depth() int { return n.depth }

// Score returns a copy of the score, nil until scored
func (n *TopicNode) Score() *float64 {
	if n.score == nil {
		return nil
	}
	s := *n.score
	return &s
}

// CreatedAt returns when the node was created
func (n *TopicNode) CreatedAt() time.Time { return n.createdAt }

// UpdatedAt returns when the node was last changed
func (n *TopicNode) UpdatedAt() time.Time { return n.updatedAt }

// Version increments on every change
func (n *TopicNode) Version() int { return n.version }

// Metadata returns a copy of the node metadata
func (n *TopicNode) Metadata() NodeMetadata { return n.metadata.clone() }

// QAPairs returns a copy of the attached pairs in arrival order
func (n *TopicNode) QAPairs() []valueobjects.QAPair {
	return append([]valueobjects.QAPair(nil), n.metadata.QAPairs...)
}

// VisitCount returns how often the topic was marked visited
func (n *TopicNode) VisitCount() int { return n.metadata.VisitCount }

// IsExhausted reports whether the topic was marked as fully explored
func (n *TopicNode) IsExhausted() bool { return n.metadata.IsExhausted }

// IsUnvisitedLeaf reports whether the node is a navigation candidate
func (n *TopicNode) IsUnvisitedLeaf() bool {
	return len(n.children) == 0 && n.metadata.VisitCount == 0 && !n.metadata.IsExhausted
}

// Clone returns a deep copy
func (n *TopicNode) Clone() *TopicNode {
	c := *n
	c.children = n.Children()
	c.score = n.Score()
	c.metadata = n.metadata.clone()
	return &c
}

// Mutators below are driven by the owning tree, which revalidates after each call.

// SetTopic relabels the node
func (n *TopicNode) SetTopic(topic string, now time.Time) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return pkgerrors.Validation(pkgerrors.ErrInvalidTopic, "topic cannot be empty")
	}
	n.topic = topic
	n.touch(now)
	return nil
}

// SetScore stores a score in [0, 100]
func (n *TopicNode) SetScore(score float64, now time.Time) error {
	if !ValidScore(score) {
		return pkgerrors.Validation(pkgerrors.ErrInvalidScore, "score %v is outside [0, 100]", score)
	}
	n.score = &score
	n.touch(now)
	return nil
}

// AttachQAPair appends a pair to the node evidence
func (n *TopicNode) AttachQAPair(qa valueobjects.QAPair, now time.Time) {
	n.metadata.QAPairs = append(n.metadata.QAPairs, qa)
	n.touch(now)
}

// AddKeywords merges labels into the keyword list, skipping duplicates
func (n *TopicNode) AddKeywords(keywords []string) {
	for _, k := range keywords {
		found := false
		for _, existing := range n.metadata.Keywords {
			if existing == k {
				found = true
				break
			}
		}
		if !found {
			n.metadata.Keywords = append(n.metadata.Keywords, k)
		}
	}
}

// MarkVisited increments the visit count and stamps lastVisited
func (n *TopicNode) MarkVisited(now time.Time) {
	n.metadata.VisitCount++
	t := now
	n.metadata.LastVisited = &t
	n.touch(now)
}

// SetExhausted sets the exhausted flag
func (n *TopicNode) SetExhausted(exhausted bool, now time.Time) {
	n.metadata.IsExhausted = exhausted
	n.touch(now)
}

// SetParent re-links the node under parent at the given depth; zero parent makes it a root
func (n *TopicNode) SetParent(parent valueobjects.NodeID, depth int, now time.Time) {
	n.parentID = parent
	n.depth = depth
	n.touch(now)
}

// SetDepth updates depth only; used when an ancestor moves
func (n *TopicNode) SetDepth(depth int) {
	n.depth = depth
}

// AddChild appends a child id if absent
func (n *TopicNode) AddChild(id valueobjects.NodeID) {
	if !n.HasChild(id) {
		n.children = append(n.children, id)
	}
}

// InsertChildren splices ids into the child list at the position of before,
// or appends them when before is not a child
func (n *TopicNode) InsertChildren(before valueobjects.NodeID, ids []valueobjects.NodeID) {
	at := len(n.children)
	for i, c := range n.children {
		if c.Equals(before) {
			at = i
			break
		}
	}
	merged := make([]valueobjects.NodeID, 0, len(n.children)+len(ids))
	merged = append(merged, n.children[:at]...)
	merged = append(merged, ids...)
	merged = append(merged, n.children[at:]...)
	n.children = merged
}

// RemoveChild drops a child id, reporting whether it was present
func (n *TopicNode) RemoveChild(id valueobjects.NodeID) bool {
	for i, c := range n.children {
		if c.Equals(id) {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return true
		}
	}
	return false
}

func (n *TopicNode) touch(now time.Time) {
	n.updatedAt = now
	n.version++
}
