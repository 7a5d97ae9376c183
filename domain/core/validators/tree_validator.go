package validators

import (
	"topicgrader/domain/core/entities"
	"topicgrader/domain/core/valueobjects"
	"topicgrader/pkg/errors"
)

// TreeView is the read-only shape of a tree the validator inspects
type TreeView struct {
	Nodes       map[valueobjects.NodeID]*entities.TopicNode
	RootNodes   []valueobjects.NodeID
	CurrentPath []valueobjects.NodeID
}

// TreeValidator checks structural invariants of a topic tree
type TreeValidator struct {
	maxNodes int
	maxDepth int
}

// NewTreeValidator creates a validator enforcing the given limits
func NewTreeValidator(maxNodes, maxDepth int) *TreeValidator {
	return &TreeValidator{
		maxNodes: maxNodes,
		maxDepth: maxDepth,
	}
}

// MaxDepth returns the configured depth limit
func (v *TreeValidator) MaxDepth() int { return v.maxDepth }

// MaxNodes returns the configured size limit
func (v *TreeValidator) MaxNodes() int { return v.maxNodes }

// Validate returns the first invariant violation found, as a TREE_INTEGRITY error
func (v *TreeValidator) Validate(view TreeView) error {
	if len(view.Nodes) > v.maxNodes {
		return errors.TreeIntegrity(errors.ErrMaxNodesExceeded,
			"tree holds %d nodes, limit is %d", len(view.Nodes), v.maxNodes)
	}

	if err := v.validateRoots(view); err != nil {
		return err
	}

	for id, node := range view.Nodes {
		if !node.ID().Equals(id) {
			return errors.TreeIntegrity(errors.ErrBrokenParentLink, "node %s is stored under key %s", node.ID(), id)
		}
		if err := v.validateLinks(view, node); err != nil {
			return err
		}
	}

	// Depth and cycle checks walk parent chains, so links must be sound first
	for _, node := range view.Nodes {
		if err := v.validateAncestry(view, node); err != nil {
			return err
		}
	}

	return v.ValidatePath(view, view.CurrentPath)
}

func (v *TreeValidator) validateRoots(view TreeView) error {
	seen := make(map[valueobjects.NodeID]bool, len(view.RootNodes))
	for _, id := range view.RootNodes {
		node, ok := view.Nodes[id]
		if !ok {
			return errors.TreeIntegrity(errors.ErrInvalidRoot, "root %s does not exist", id)
		}
		if !node.IsRoot() {
			return errors.TreeIntegrity(errors.ErrInvalidRoot, "root %s has parent %s", id, node.ParentID())
		}
		if seen[id] {
			return errors.TreeIntegrity(errors.ErrInvalidRoot, "root %s is listed twice", id)
		}
		seen[id] = true
	}

	for id, node := range view.Nodes {
		if node.IsRoot() && !seen[id] {
			return errors.TreeIntegrity(errors.ErrInvalidRoot, "node %s has no parent but is not a root", id)
		}
	}
	return nil
}

func (v *TreeValidator) validateLinks(view TreeView, node *entities.TopicNode) error {
	if !node.IsRoot() {
		parent, ok := view.Nodes[node.ParentID()]
		if !ok {
			return errors.TreeIntegrity(errors.ErrParentNotFound,
				"node %s references missing parent %s", node.ID(), node.ParentID())
		}
		if !parent.HasChild(node.ID()) {
			return errors.TreeIntegrity(errors.ErrBrokenParentLink,
				"parent %s does not list child %s", parent.ID(), node.ID())
		}
	}

	seen := make(map[valueobjects.NodeID]bool)
	for _, childID := range node.Children() {
		if seen[childID] {
			return errors.TreeIntegrity(errors.ErrBrokenParentLink, "node %s lists child %s twice", node.ID(), childID)
		}
		seen[childID] = true

		child, ok := view.Nodes[childID]
		if !ok {
			return errors.TreeIntegrity(errors.ErrBrokenParentLink, "node %s lists missing child %s", node.ID(), childID)
		}
		if !child.ParentID().Equals(node.ID()) {
			return errors.TreeIntegrity(errors.ErrBrokenParentLink,
				"child %s of %s points at parent %s", childID, node.ID(), child.ParentID())
		}
	}
	return nil
}

func (v *TreeValidator) validateAncestry(view TreeView, node *entities.TopicNode) error {
	steps := 1
	current := node
	for !current.IsRoot() {
		current = view.Nodes[current.ParentID()]
		steps++
		if current.ID().Equals(node.ID()) || steps > len(view.Nodes) {
			return errors.TreeIntegrity(errors.ErrCyclicDependency, "node %s is its own ancestor", node.ID())
		}
	}

	if node.Depth() != steps {
		return errors.TreeIntegrity(errors.ErrInvalidDepth,
			"node %s records depth %d but sits at depth %d", node.ID(), node.Depth(), steps)
	}
	if steps > v.maxDepth {
		return errors.TreeIntegrity(errors.ErrMaxDepthExceeded,
			"node %s sits at depth %d, limit is %d", node.ID(), steps, v.maxDepth)
	}
	return nil
}

// ValidatePath checks that path is empty or a root-to-node chain
func (v *TreeValidator) ValidatePath(view TreeView, path []valueobjects.NodeID) error {
	for i, id := range path {
		node, ok := view.Nodes[id]
		if !ok {
			return errors.TreeIntegrity(errors.ErrInvalidCurrentPath, "path entry %s does not exist", id)
		}
		if i == 0 {
			if !node.IsRoot() {
				return errors.TreeIntegrity(errors.ErrInvalidCurrentPath, "path starts at non-root %s", id)
			}
			continue
		}
		if !node.ParentID().Equals(path[i-1]) {
			return errors.TreeIntegrity(errors.ErrInvalidCurrentPath,
				"path entry %s is not a child of %s", id, path[i-1])
		}
	}
	return nil
}
