// Package logging publishes domain events as structured log lines.
package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"topicgrader/application/ports"
	"topicgrader/domain/events"
)

// Publisher writes every event to the logger at a fixed level
type Publisher struct {
	logger *zap.Logger
	level  zapcore.Level
}

var _ ports.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a publisher logging at level
func NewPublisher(logger *zap.Logger, level zapcore.Level) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger.Named("events"), level: level}
}

// Publish logs one event
func (p *Publisher) Publish(_ context.Context, event events.DomainEvent) error {
	if ce := p.logger.Check(p.level, "Domain event"); ce != nil {
		ce.Write(
			zap.String("event_type", event.GetEventType()),
			zap.String("session_id", event.GetAggregateID()),
			zap.Int("version", event.GetVersion()),
			zap.Time("timestamp", event.GetTimestamp()),
			zap.Any("event", event),
		)
	}
	return nil
}

// PublishBatch logs each event in order
func (p *Publisher) PublishBatch(ctx context.Context, domainEvents []events.DomainEvent) error {
	for _, event := range domainEvents {
		if err := p.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
