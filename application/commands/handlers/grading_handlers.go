package handlers

import (
	"context"

	"topicgrader/application/commands"
	"topicgrader/application/services"
	"topicgrader/domain/core/valueobjects"
)

// GradingCommandHandler handles commands that mutate a session's topic tree
type GradingCommandHandler struct {
	manager *services.SessionManager
}

// NewGradingCommandHandler creates a new handler
func NewGradingCommandHandler(manager *services.SessionManager) *GradingCommandHandler {
	return &GradingCommandHandler{manager: manager}
}

// AddQAPair grades one pair and reports the node it landed on
func (h *GradingCommandHandler) AddQAPair(ctx context.Context, cmd *commands.AddQAPairCommand) (interface{}, error) {
	sessionID, system, err := resolveSystem(h.manager, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	qa, err := valueobjects.NewQAPair(cmd.Question, cmd.Answer, cmd.Timestamp, cmd.Metadata)
	if err != nil {
		return nil, err
	}

	nodeID, err := system.AddQAPair(ctx, qa, cmd.Score)
	if err != nil {
		return nil, err
	}

	result := commands.AddQAPairResult{SessionID: sessionID.String(), NodeID: nodeID.String()}
	if node, ok := system.GetTopicTree().Node(nodeID); ok {
		result.Topic = node.Topic()
		result.Depth = node.Depth()
		result.Score = node.Score()
	}
	return result, nil
}

// MarkTopicVisited increments a topic's visit count
func (h *GradingCommandHandler) MarkTopicVisited(ctx context.Context, cmd *commands.MarkTopicVisitedCommand) (interface{}, error) {
	_, system, err := resolveSystem(h.manager, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	nodeID, err := valueobjects.ParseNodeID(cmd.NodeID)
	if err != nil {
		return nil, err
	}
	return system.MarkTopicAsVisited(ctx, nodeID)
}

// MarkTopicExhausted flags or unflags a topic as fully explored
func (h *GradingCommandHandler) MarkTopicExhausted(ctx context.Context, cmd *commands.MarkTopicExhaustedCommand) (interface{}, error) {
	_, system, err := resolveSystem(h.manager, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	nodeID, err := valueobjects.ParseNodeID(cmd.NodeID)
	if err != nil {
		return nil, err
	}
	return system.MarkTopicExhausted(ctx, nodeID, cmd.Exhausted)
}

// RemoveTopic deletes a topic
func (h *GradingCommandHandler) RemoveTopic(ctx context.Context, cmd *commands.RemoveTopicCommand) (interface{}, error) {
	_, system, err := resolveSystem(h.manager, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	nodeID, err := valueobjects.ParseNodeID(cmd.NodeID)
	if err != nil {
		return nil, err
	}
	return nil, system.RemoveTopic(ctx, nodeID)
}

// ClearSession empties a session without removing it
func (h *GradingCommandHandler) ClearSession(ctx context.Context, cmd *commands.ClearSessionCommand) (interface{}, error) {
	_, system, err := resolveSystem(h.manager, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	return nil, system.Clear(ctx)
}
