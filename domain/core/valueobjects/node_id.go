package valueobjects

import (
	"github.com/google/uuid"

	pkgerrors "topicgrader/pkg/errors"
)

// NodeID identifies a topic node within a conversation tree.
// The zero value is "no node" and is used for absent parent references.
type NodeID struct {
	value uuid.UUID
}

// NewNodeID creates a new random NodeID
func NewNodeID() NodeID {
	return NodeID{value: uuid.New()}
}

// ParseNodeID parses a NodeID from its string form
func ParseNodeID(s string) (NodeID, error) {
	if s == "" {
		return NodeID{}, pkgerrors.Validation(pkgerrors.ErrInvalidNodeID, "node id cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return NodeID{}, pkgerrors.Validation(pkgerrors.ErrInvalidNodeID, "node id %q is not a valid UUID", s)
	}
	return NodeID{value: id}, nil
}

// String returns the canonical UUID text, or "" for the zero value
func (id NodeID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.value.String()
}

// Equals checks if two NodeIDs are equal
func (id NodeID) Equals(other NodeID) bool {
	return id.value == other.value
}

// IsZero checks if the NodeID is the zero value
func (id NodeID) IsZero() bool {
	return id.value == uuid.Nil
}

// MarshalText implements encoding.TextMarshaler so NodeIDs work as JSON and YAML map keys
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler; empty text yields the zero value
func (id *NodeID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*id = NodeID{}
		return nil
	}
	parsed, err := ParseNodeID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
