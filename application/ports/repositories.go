package ports

import (
	"context"
	"time"

	"topicgrader/domain/core/aggregates"
	"topicgrader/domain/core/valueobjects"
	"topicgrader/domain/events"
)

// TreeStore persists conversation trees keyed by session.
// This is a port in hexagonal architecture - the domain doesn't know about the implementation
type TreeStore interface {
	// Save writes the tree, replacing any earlier copy for the session
	Save(ctx context.Context, sessionID valueobjects.SessionID, tree aggregates.ConversationTree) error

	// Load returns the stored tree; found is false when nothing is stored
	Load(ctx context.Context, sessionID valueobjects.SessionID) (tree aggregates.ConversationTree, found bool, err error)

	// Delete removes the stored tree. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID valueobjects.SessionID) error

	// List returns every stored session id in ascending order
	List(ctx context.Context) ([]valueobjects.SessionID, error)

	// Exists reports whether a tree is stored for the session
	Exists(ctx context.Context, sessionID valueobjects.SessionID) (bool, error)
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}

// Clock is the time source for session bookkeeping
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

// Now returns the current UTC time
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// NoopPublisher drops every event
type NoopPublisher struct{}

// Publish does nothing
func (NoopPublisher) Publish(context.Context, events.DomainEvent) error { return nil }

// PublishBatch does nothing
func (NoopPublisher) PublishBatch(context.Context, []events.DomainEvent) error { return nil }

// Tracer opens spans around units of work; the returned function ends the span
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, func(err error))
}

// NoopTracer records nothing
type NoopTracer struct{}

// Start returns ctx unchanged
func (NoopTracer) Start(ctx context.Context, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// Metrics receives grading and session counters
type Metrics interface {
	QAPairAdded(relationship valueobjects.RelationshipType)
	ObserveScoring(strategy string, elapsed time.Duration, fallback bool)
	SessionsActive(count int)
	SessionsExpired(count int)
	PersistenceOp(operation string, err error)
}

// NoopMetrics discards everything
type NoopMetrics struct{}

func (NoopMetrics) QAPairAdded(valueobjects.RelationshipType) {}
func (NoopMetrics) ObserveScoring(string, time.Duration, bool) {}
func (NoopMetrics) SessionsActive(int) {}
func (NoopMetrics) SessionsExpired(int) {}
func (NoopMetrics) PersistenceOp(string, error) {}
