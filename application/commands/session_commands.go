package commands

import (
	"time"

	pkgerrors "topicgrader/pkg/errors"
	"topicgrader/pkg/utils"
)

// CreateSessionCommand opens a new conversation. An empty SessionID asks for a generated one.
type CreateSessionCommand struct {
	SessionID string            `json:"session_id" validate:"omitempty,sessionid"`
	Metadata  map[string]string `json:"metadata,omitempty" validate:"max=32"`
}

// Validate validates the command
func (c *CreateSessionCommand) Validate() error {
	return utils.ValidateStruct(c)
}

// SwitchSessionCommand makes a session the active one
type SwitchSessionCommand struct {
	SessionID string `json:"session_id" validate:"required,sessionid"`
}

// Validate validates the command
func (c *SwitchSessionCommand) Validate() error {
	return utils.ValidateStruct(c)
}

// DeleteSessionCommand drops a session. Purge also removes the stored copy.
type DeleteSessionCommand struct {
	SessionID string `json:"session_id" validate:"required,sessionid"`
	Purge     bool   `json:"purge"`
}

// Validate validates the command
func (c *DeleteSessionCommand) Validate() error {
	return utils.ValidateStruct(c)
}

// SaveSessionCommand persists one session, or every live session when All is set
type SaveSessionCommand struct {
	SessionID string `json:"session_id" validate:"omitempty,sessionid"`
	All       bool   `json:"all"`
}

// Validate validates the command
func (c *SaveSessionCommand) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return err
	}
	if c.All && c.SessionID != "" {
		return pkgerrors.NewValidationError("session_id and all are mutually exclusive")
	}
	return nil
}

// LoadSessionCommand rebuilds a stored session
type LoadSessionCommand struct {
	SessionID string `json:"session_id" validate:"required,sessionid"`
}

// Validate validates the command
func (c *LoadSessionCommand) Validate() error {
	return utils.ValidateStruct(c)
}

// CleanupExpiredSessionsCommand evicts idle sessions. A zero MaxAge uses the configured default.
type CleanupExpiredSessionsCommand struct {
	MaxAge time.Duration `json:"max_age" validate:"gte=0"`
}

// Validate validates the command
func (c *CleanupExpiredSessionsCommand) Validate() error {
	return utils.ValidateStruct(c)
}
