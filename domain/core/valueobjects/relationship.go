package valueobjects

import "fmt"

// RelationshipType is how a new topic relates to the existing tree
type RelationshipType string

const (
	RelationshipNewRoot      RelationshipType = "new_root"
	RelationshipChildOf      RelationshipType = "child_of"
	RelationshipSiblingOf    RelationshipType = "sibling_of"
	RelationshipContinuation RelationshipType = "continuation"
)

// IsValid reports whether t is a known relationship type
func (t RelationshipType) IsValid() bool {
	switch t {
	case RelationshipNewRoot, RelationshipChildOf, RelationshipSiblingOf, RelationshipContinuation:
		return true
	}
	return false
}

// TopicRelationship is the transient result of classifying a new topic
type TopicRelationship struct {
	Type          RelationshipType
	ParentNodeID  NodeID
	RelatedNodeID NodeID
	Confidence    float64
}

// NewRoot builds a new_root relationship
func NewRoot(confidence float64) TopicRelationship {
	return TopicRelationship{Type: RelationshipNewRoot, Confidence: clampUnit(confidence)}
}

// RelatedRoot builds a new_root relationship that remembers a related node
func RelatedRoot(related NodeID, confidence float64) TopicRelationship {
	return TopicRelationship{Type: RelationshipNewRoot, RelatedNodeID: related, Confidence: clampUnit(confidence)}
}

// ChildOf builds a child_of relationship
func ChildOf(parent NodeID, confidence float64) TopicRelationship {
	return TopicRelationship{Type: RelationshipChildOf, ParentNodeID: parent, Confidence: clampUnit(confidence)}
}

// SiblingOf builds a sibling_of relationship: the new node goes under parent, next to related
func SiblingOf(parent, related NodeID, confidence float64) TopicRelationship {
	return TopicRelationship{
		Type:          RelationshipSiblingOf,
		ParentNodeID:  parent,
		RelatedNodeID: related,
		Confidence:    clampUnit(confidence),
	}
}

// Continuation builds a continuation relationship onto parent
func Continuation(parent NodeID, confidence float64) TopicRelationship {
	return TopicRelationship{Type: RelationshipContinuation, ParentNodeID: parent, Confidence: clampUnit(confidence)}
}

// HasParent reports whether the relationship names a parent node
func (r TopicRelationship) HasParent() bool {
	return !r.ParentNodeID.IsZero()
}

// String renders the relationship for logs
func (r TopicRelationship) String() string {
	return fmt.Sprintf("%s(parent=%s related=%s confidence=%.2f)", r.Type, r.ParentNodeID, r.RelatedNodeID, r.Confidence)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
