package commands

import (
	"time"

	"topicgrader/pkg/utils"
)

// Commands below address a session by id; an empty SessionID means the active session.

// AddQAPairCommand submits one question and answer for grading
type AddQAPairCommand struct {
	SessionID string            `json:"session_id" validate:"omitempty,sessionid"`
	Question  string            `json:"question" validate:"notblank"`
	Answer    string            `json:"answer" validate:"notblank"`
	Score     *float64          `json:"score,omitempty" validate:"omitempty,gte=0,lte=100"`
	Timestamp time.Time         `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate validates the command
func (c *AddQAPairCommand) Validate() error {
	return utils.ValidateStruct(c)
}

// AddQAPairResult reports where a pair landed
type AddQAPairResult struct {
	SessionID string   `json:"session_id" yaml:"session_id"`
	NodeID    string   `json:"node_id" yaml:"node_id"`
	Topic     string   `json:"topic" yaml:"topic"`
	Depth     int      `json:"depth" yaml:"depth"`
	Score     *float64 `json:"score,omitempty" yaml:"score,omitempty"`
}

// MarkTopicVisitedCommand records a visit to a topic
type MarkTopicVisitedCommand struct {
	SessionID string `json:"session_id" validate:"omitempty,sessionid"`
	NodeID    string `json:"node_id" validate:"required,uuid"`
}

// Validate validates the command
func (c *MarkTopicVisitedCommand) Validate() error {
	return utils.ValidateStruct(c)
}

// MarkTopicExhaustedCommand sets or clears a topic's exhausted flag
type MarkTopicExhaustedCommand struct {
	SessionID string `json:"session_id" validate:"omitempty,sessionid"`
	NodeID    string `json:"node_id" validate:"required,uuid"`
	Exhausted bool   `json:"exhausted"`
}

// Validate validates the command
func (c *MarkTopicExhaustedCommand) Validate() error {
	return utils.ValidateStruct(c)
}

// RemoveTopicCommand deletes a topic; its children move up a level
type RemoveTopicCommand struct {
	SessionID string `json:"session_id" validate:"omitempty,sessionid"`
	NodeID    string `json:"node_id" validate:"required,uuid"`
}

// Validate validates the command
func (c *RemoveTopicCommand) Validate() error {
	return utils.ValidateStruct(c)
}

// ClearSessionCommand empties a session's tree and history
type ClearSessionCommand struct {
	SessionID string `json:"session_id" validate:"omitempty,sessionid"`
}

// Validate validates the command
func (c *ClearSessionCommand) Validate() error {
	return utils.ValidateStruct(c)
}
