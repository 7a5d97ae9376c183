package events

import (
	"time"

	"topicgrader/domain/core/valueobjects"
)

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

// Event type names
const (
	TypeTopicCreated   = "topic.created"
	TypeTopicUpdated   = "topic.updated"
	TypeTopicMoved     = "topic.moved"
	TypeTopicRemoved   = "topic.removed"
	TypeTopicVisited   = "topic.visited"
	TypeTopicExhausted = "topic.exhausted"
	TypeTopicScored    = "topic.scored"
	TypeTreeCleared    = "tree.cleared"
	TypeSessionCreated = "session.created"
	TypeSessionDeleted = "session.deleted"
	TypeSessionExpired = "session.expired"
	TypeSessionLoaded  = "session.loaded"
)

func newBase(sessionID valueobjects.SessionID, eventType string, timestamp time.Time, version int) BaseEvent {
	return BaseEvent{
		AggregateID: sessionID.String(),
		EventType:   eventType,
		Timestamp:   timestamp,
		Version:     version,
	}
}

// Topic Events

// TopicCreated is raised when a node joins the tree
type TopicCreated struct {
	BaseEvent
	NodeID   valueobjects.NodeID `json:"node_id"`
	Topic    string              `json:"topic"`
	ParentID valueobjects.NodeID `json:"parent_id"`
	Depth    int                 `json:"depth"`
}

// NewTopicCreated creates a TopicCreated event
func NewTopicCreated(sessionID valueobjects.SessionID, version int, nodeID, parentID valueobjects.NodeID, topic string, depth int, timestamp time.Time) TopicCreated {
	return TopicCreated{
		BaseEvent: newBase(sessionID, TypeTopicCreated, timestamp, version),
		NodeID:    nodeID,
		Topic:     topic,
		ParentID:  parentID,
		Depth:     depth,
	}
}

// TopicUpdated is raised when node fields other than the parent change
type TopicUpdated struct {
	BaseEvent
	NodeID valueobjects.NodeID `json:"node_id"`
	Fields []string            `json:"fields"`
}

// NewTopicUpdated creates a TopicUpdated event
func NewTopicUpdated(sessionID valueobjects.SessionID, version int, nodeID valueobjects.NodeID, fields []string, timestamp time.Time) TopicUpdated {
	return TopicUpdated{
		BaseEvent: newBase(sessionID, TypeTopicUpdated, timestamp, version),
		NodeID:    nodeID,
		Fields:    fields,
	}
}

// TopicMoved is raised when a node is re-parented
type TopicMoved struct {
	BaseEvent
	NodeID      valueobjects.NodeID `json:"node_id"`
	OldParentID valueobjects.NodeID `json:"old_parent_id"`
	NewParentID valueobjects.NodeID `json:"new_parent_id"`
}

// NewTopicMoved creates a TopicMoved event
func NewTopicMoved(sessionID valueobjects.SessionID, version int, nodeID, oldParent, newParent valueobjects.NodeID, timestamp time.Time) TopicMoved {
	return TopicMoved{
		BaseEvent:   newBase(sessionID, TypeTopicMoved, timestamp, version),
		NodeID:      nodeID,
		OldParentID: oldParent,
		NewParentID: newParent,
	}
}

// TopicRemoved is raised when a node leaves the tree
type TopicRemoved struct {
	BaseEvent
	NodeID          valueobjects.NodeID   `json:"node_id"`
	Topic           string                `json:"topic"`
	ReparentedNodes []valueobjects.NodeID `json:"reparented_nodes"`
}

// NewTopicRemoved creates a TopicRemoved event
func NewTopicRemoved(sessionID valueobjects.SessionID, version int, nodeID valueobjects.NodeID, topic string, reparented []valueobjects.NodeID, timestamp time.Time) TopicRemoved {
	return TopicRemoved{
		BaseEvent:       newBase(sessionID, TypeTopicRemoved, timestamp, version),
		NodeID:          nodeID,
		Topic:           topic,
		ReparentedNodes: reparented,
	}
}

// TopicVisited is raised by markTopicAsVisited
type TopicVisited struct {
	BaseEvent
	NodeID     valueobjects.NodeID `json:"node_id"`
	VisitCount int                 `json:"visit_count"`
}

// NewTopicVisited creates a TopicVisited event
func NewTopicVisited(sessionID valueobjects.SessionID, version int, nodeID valueobjects.NodeID, visitCount int, timestamp time.Time) TopicVisited {
	return TopicVisited{
		BaseEvent:  newBase(sessionID, TypeTopicVisited, timestamp, version),
		NodeID:     nodeID,
		VisitCount: visitCount,
	}
}

// TopicExhausted is raised when a topic is flagged as fully explored
type TopicExhausted struct {
	BaseEvent
	NodeID valueobjects.NodeID `json:"node_id"`
}

// NewTopicExhausted creates a TopicExhausted event
func NewTopicExhausted(sessionID valueobjects.SessionID, version int, nodeID valueobjects.NodeID, timestamp time.Time) TopicExhausted {
	return TopicExhausted{
		BaseEvent: newBase(sessionID, TypeTopicExhausted, timestamp, version),
		NodeID:    nodeID,
	}
}

// TopicScored is raised when a score lands on a node
type TopicScored struct {
	BaseEvent
	NodeID   valueobjects.NodeID `json:"node_id"`
	Score    float64             `json:"score"`
	Fallback bool                `json:"fallback"`
}

// NewTopicScored creates a TopicScored event
func NewTopicScored(sessionID valueobjects.SessionID, version int, nodeID valueobjects.NodeID, score float64, fallback bool, timestamp time.Time) TopicScored {
	return TopicScored{
		BaseEvent: newBase(sessionID, TypeTopicScored, timestamp, version),
		NodeID:    nodeID,
		Score:     score,
		Fallback:  fallback,
	}
}

// TreeCleared is raised when a tree is reset to empty
type TreeCleared struct {
	BaseEvent
	RemovedNodes int `json:"removed_nodes"`
}

// NewTreeCleared creates a TreeCleared event
func NewTreeCleared(sessionID valueobjects.SessionID, version int, removed int, timestamp time.Time) TreeCleared {
	return TreeCleared{
		BaseEvent:    newBase(sessionID, TypeTreeCleared, timestamp, version),
		RemovedNodes: removed,
	}
}

// Session Events

// SessionLifecycle is raised on session creation, deletion, expiry and load
type SessionLifecycle struct {
	BaseEvent
	SessionID valueobjects.SessionID `json:"session_id"`
	NodeCount int                    `json:"node_count"`
}

// NewSessionCreated creates a session.created event
func NewSessionCreated(sessionID valueobjects.SessionID, timestamp time.Time) SessionLifecycle {
	return SessionLifecycle{
		BaseEvent: newBase(sessionID, TypeSessionCreated, timestamp, 1),
		SessionID: sessionID,
	}
}

// NewSessionDeleted creates a session.deleted event
func NewSessionDeleted(sessionID valueobjects.SessionID, nodeCount int, timestamp time.Time) SessionLifecycle {
	return SessionLifecycle{
		BaseEvent: newBase(sessionID, TypeSessionDeleted, timestamp, 1),
		SessionID: sessionID,
		NodeCount: nodeCount,
	}
}

// NewSessionExpired creates a session.expired event
func NewSessionExpired(sessionID valueobjects.SessionID, nodeCount int, timestamp time.Time) SessionLifecycle {
	return SessionLifecycle{
		BaseEvent: newBase(sessionID, TypeSessionExpired, timestamp, 1),
		SessionID: sessionID,
		NodeCount: nodeCount,
	}
}

// NewSessionLoaded creates a session.loaded event
func NewSessionLoaded(sessionID valueobjects.SessionID, nodeCount int, timestamp time.Time) SessionLifecycle {
	return SessionLifecycle{
		BaseEvent: newBase(sessionID, TypeSessionLoaded, timestamp, 1),
		SessionID: sessionID,
		NodeCount: nodeCount,
	}
}
