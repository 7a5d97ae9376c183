package aggregates

import (
	"time"

	"topicgrader/domain/core/entities"
	"topicgrader/domain/core/valueobjects"
	"topicgrader/domain/core/validators"
)

// ConversationTree is a point-in-time copy of a session's topic forest.
// Nodes are clones, so holding a snapshot never observes later mutations.
type ConversationTree struct {
	SessionID   valueobjects.SessionID
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int
	Nodes       map[valueobjects.NodeID]*entities.TopicNode
	NodeOrder   []valueobjects.NodeID
	RootNodes   []valueobjects.NodeID
	CurrentPath []valueobjects.NodeID
}

// Clone returns a deep copy that shares nothing with c
func (c ConversationTree) Clone() ConversationTree {
	out := c
	out.Nodes = make(map[valueobjects.NodeID]*entities.TopicNode, len(c.Nodes))
	for id, n := range c.Nodes {
		out.Nodes[id] = n.Clone()
	}
	out.NodeOrder = append([]valueobjects.NodeID(nil), c.NodeOrder...)
	out.RootNodes = append([]valueobjects.NodeID(nil), c.RootNodes...)
	out.CurrentPath = append([]valueobjects.NodeID(nil), c.CurrentPath...)
	return out
}

// Size returns the number of nodes
func (c ConversationTree) Size() int {
	return len(c.Nodes)
}

// IsEmpty reports whether the tree has no nodes
func (c ConversationTree) IsEmpty() bool {
	return len(c.Nodes) == 0
}

// Node looks up a node by id
func (c ConversationTree) Node(id valueobjects.NodeID) (*entities.TopicNode, bool) {
	n, ok := c.Nodes[id]
	return n, ok
}

// OrderedNodes returns nodes in insertion order
func (c ConversationTree) OrderedNodes() []*entities.TopicNode {
	out := make([]*entities.TopicNode, 0, len(c.NodeOrder))
	for _, id := range c.NodeOrder {
		if n, ok := c.Nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// CurrentNode returns the last node of the current path
func (c ConversationTree) CurrentNode() (*entities.TopicNode, bool) {
	if len(c.CurrentPath) == 0 {
		return nil, false
	}
	return c.Node(c.CurrentPath[len(c.CurrentPath)-1])
}

// ReplayOrder lists node ids parent-before-child: breadth first from the
// roots, following each node's child order
func (c ConversationTree) ReplayOrder() []valueobjects.NodeID {
	order := make([]valueobjects.NodeID, 0, len(c.Nodes))
	queue := append([]valueobjects.NodeID(nil), c.RootNodes...)
	seen := make(map[valueobjects.NodeID]bool, len(c.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		node, ok := c.Nodes[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		order = append(order, id)
		queue = append(queue, node.Children()...)
	}
	return order
}

func (c ConversationTree) view() validators.TreeView {
	return validators.TreeView{
		Nodes:       c.Nodes,
		RootNodes:   c.RootNodes,
		CurrentPath: c.CurrentPath,
	}
}
