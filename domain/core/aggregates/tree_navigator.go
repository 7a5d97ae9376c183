package aggregates

import (
	"topicgrader/domain/core/entities"
	"topicgrader/domain/core/valueobjects"
	pkgerrors "topicgrader/pkg/errors"
)

// TreeNavigator answers read-only structural questions about a snapshot.
// It holds no state besides the snapshot and never mutates it.
type TreeNavigator struct {
	tree ConversationTree
}

// NewTreeNavigator creates a navigator over tree
func NewTreeNavigator(tree ConversationTree) *TreeNavigator {
	return &TreeNavigator{tree: tree}
}

// Tree returns the snapshot being navigated
func (n *TreeNavigator) Tree() ConversationTree {
	return n.tree
}

func (n *TreeNavigator) node(id valueobjects.NodeID) (*entities.TopicNode, error) {
	node, ok := n.tree.Nodes[id]
	if !ok {
		return nil, pkgerrors.TreeIntegrity(pkgerrors.ErrTopicNotFound, "topic %s not found", id)
	}
	return node, nil
}

// Ancestors returns the chain above id, nearest parent first
func (n *TreeNavigator) Ancestors(id valueobjects.NodeID) ([]*entities.TopicNode, error) {
	node, err := n.node(id)
	if err != nil {
		return nil, err
	}

	var out []*entities.TopicNode
	for steps := 0; !node.IsRoot(); steps++ {
		if steps > len(n.tree.Nodes) {
			return nil, pkgerrors.TreeIntegrity(pkgerrors.ErrCyclicDependency, "cycle above %s", id)
		}
		parent, err := n.node(node.ParentID())
		if err != nil {
			return nil, err
		}
		out = append(out, parent)
		node = parent
	}
	return out, nil
}

// PathFromRoot returns the root-to-id chain of ids, id included
func (n *TreeNavigator) PathFromRoot(id valueobjects.NodeID) ([]valueobjects.NodeID, error) {
	ancestors, err := n.Ancestors(id)
	if err != nil {
		return nil, err
	}
	path := make([]valueobjects.NodeID, 0, len(ancestors)+1)
	for i := len(ancestors) - 1; i >= 0; i-- {
		path = append(path, ancestors[i].ID())
	}
	return append(path, id), nil
}

// Depth counts the nodes on the root-to-id chain
func (n *TreeNavigator) Depth(id valueobjects.NodeID) (int, error) {
	ancestors, err := n.Ancestors(id)
	if err != nil {
		return 0, err
	}
	return len(ancestors) + 1, nil
}

// Descendants returns every node below id in pre-order, following child order
func (n *TreeNavigator) Descendants(id valueobjects.NodeID) ([]*entities.TopicNode, error) {
	node, err := n.node(id)
	if err != nil {
		return nil, err
	}

	var out []*entities.TopicNode
	stack := reversed(node.Children())
	seen := map[valueobjects.NodeID]bool{id: true}
	for len(stack) > 0 {
		childID := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[childID] {
			return nil, pkgerrors.TreeIntegrity(pkgerrors.ErrCyclicDependency, "cycle below %s", id)
		}
		seen[childID] = true

		child, err := n.node(childID)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
		stack = append(stack, reversed(child.Children())...)
	}
	return out, nil
}

// Children returns the direct children of id in order
func (n *TreeNavigator) Children(id valueobjects.NodeID) ([]*entities.TopicNode, error) {
	node, err := n.node(id)
	if err != nil {
		return nil, err
	}
	out := make([]*entities.TopicNode, 0, len(node.Children()))
	for _, childID := range node.Children() {
		child, err := n.node(childID)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

// Siblings returns the nodes sharing id's parent, id excluded. Roots are siblings of each other.
func (n *TreeNavigator) Siblings(id valueobjects.NodeID) ([]*entities.TopicNode, error) {
	node, err := n.node(id)
	if err != nil {
		return nil, err
	}

	candidates := n.tree.RootNodes
	if !node.IsRoot() {
		parent, err := n.node(node.ParentID())
		if err != nil {
			return nil, err
		}
		candidates = parent.Children()
	}

	var out []*entities.TopicNode
	for _, sid := range candidates {
		if sid.Equals(id) {
			continue
		}
		sibling, err := n.node(sid)
		if err != nil {
			return nil, err
		}
		out = append(out, sibling)
	}
	return out, nil
}

// Leaves returns every node without children, in insertion order
func (n *TreeNavigator) Leaves() []*entities.TopicNode {
	var out []*entities.TopicNode
	for _, node := range n.tree.OrderedNodes() {
		if !node.HasChildren() {
			out = append(out, node)
		}
	}
	return out
}

// DeepestUnvisitedBranch returns the deepest leaf that is neither visited nor
// exhausted. Among equally deep candidates the earliest inserted wins.
func (n *TreeNavigator) DeepestUnvisitedBranch() (*entities.TopicNode, bool) {
	var best *entities.TopicNode
	for _, leaf := range n.Leaves() {
		if !leaf.IsUnvisitedLeaf() {
			continue
		}
		if best == nil || leaf.Depth() > best.Depth() {
			best = leaf
		}
	}
	return best, best != nil
}

// IsAncestor reports whether ancestor lies on the chain above id
func (n *TreeNavigator) IsAncestor(ancestor, id valueobjects.NodeID) (bool, error) {
	if _, err := n.node(ancestor); err != nil {
		return false, err
	}
	chain, err := n.Ancestors(id)
	if err != nil {
		return false, err
	}
	for _, a := range chain {
		if a.ID().Equals(ancestor) {
			return true, nil
		}
	}
	return false, nil
}

// IsDescendant reports whether id lies somewhere below ancestor
func (n *TreeNavigator) IsDescendant(id, ancestor valueobjects.NodeID) (bool, error) {
	return n.IsAncestor(ancestor, id)
}

// FindPath returns the node ids walked from one node to another through
// their lowest common ancestor, both ends included
func (n *TreeNavigator) FindPath(from, to valueobjects.NodeID) ([]valueobjects.NodeID, error) {
	fromPath, err := n.PathFromRoot(from)
	if err != nil {
		return nil, err
	}
	toPath, err := n.PathFromRoot(to)
	if err != nil {
		return nil, err
	}
	if !fromPath[0].Equals(toPath[0]) {
		return nil, pkgerrors.NewNotFoundError("path between " + from.String() + " and " + to.String())
	}

	common := 0
	for common < len(fromPath) && common < len(toPath) && fromPath[common].Equals(toPath[common]) {
		common++
	}

	// Walk up from "from" to the common ancestor, then down to "to"
	path := make([]valueobjects.NodeID, 0, len(fromPath)+len(toPath))
	for i := len(fromPath) - 1; i >= common-1; i-- {
		path = append(path, fromPath[i])
	}
	path = append(path, toPath[common:]...)
	return path, nil
}

// Stats summarizes the snapshot
func (n *TreeNavigator) Stats() TreeStats {
	stats := TreeStats{
		TotalNodes: len(n.tree.Nodes),
		RootCount:  len(n.tree.RootNodes),
	}

	var scoreSum float64
	for _, node := range n.tree.Nodes {
		if !node.HasChildren() {
			stats.LeafCount++
		}
		if node.Depth() > stats.MaxDepth {
			stats.MaxDepth = node.Depth()
		}
		if node.VisitCount() > 0 {
			stats.VisitedCount++
		}
		if node.IsExhausted() {
			stats.ExhaustedCount++
		}
		if node.IsUnvisitedLeaf() {
			stats.UnvisitedLeafCount++
		}
		if s := node.Score(); s != nil {
			stats.ScoredCount++
			scoreSum += *s
		}
		stats.QAPairCount += len(node.QAPairs())
	}
	if stats.ScoredCount > 0 {
		stats.AverageScore = scoreSum / float64(stats.ScoredCount)
	}
	return stats
}

// TreeStats are aggregate counts over a tree
type TreeStats struct {
	TotalNodes         int     `json:"total_nodes" yaml:"total_nodes"`
	RootCount          int     `json:"root_count" yaml:"root_count"`
	LeafCount          int     `json:"leaf_count" yaml:"leaf_count"`
	MaxDepth           int     `json:"max_depth" yaml:"max_depth"`
	VisitedCount       int     `json:"visited_count" yaml:"visited_count"`
	ExhaustedCount     int     `json:"exhausted_count" yaml:"exhausted_count"`
	UnvisitedLeafCount int     `json:"unvisited_leaf_count" yaml:"unvisited_leaf_count"`
	ScoredCount        int     `json:"scored_count" yaml:"scored_count"`
	AverageScore       float64 `json:"average_score" yaml:"average_score"`
	QAPairCount        int     `json:"qa_pair_count" yaml:"qa_pair_count"`
}

func reversed(ids []valueobjects.NodeID) []valueobjects.NodeID {
	out := make([]valueobjects.NodeID, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}
