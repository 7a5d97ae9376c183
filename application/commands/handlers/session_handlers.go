package handlers

import (
	"context"

	"go.uber.org/zap"

	"topicgrader/application/commands"
	"topicgrader/application/services"
	"topicgrader/domain/config"
	"topicgrader/domain/core/valueobjects"
)

// SessionCommandHandler handles session lifecycle commands
type SessionCommandHandler struct {
	manager *services.SessionManager
	cfg     *config.DomainConfig
	logger  *zap.Logger
}

// NewSessionCommandHandler creates a new handler
func NewSessionCommandHandler(manager *services.SessionManager, cfg *config.DomainConfig, logger *zap.Logger) *SessionCommandHandler {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionCommandHandler{manager: manager, cfg: cfg, logger: logger}
}

// CreateSession returns the new session's id
func (h *SessionCommandHandler) CreateSession(ctx context.Context, cmd *commands.CreateSessionCommand) (interface{}, error) {
	return h.manager.CreateSession(ctx, cmd.SessionID, cmd.Metadata)
}

// SwitchSession changes the active session
func (h *SessionCommandHandler) SwitchSession(_ context.Context, cmd *commands.SwitchSessionCommand) (interface{}, error) {
	return nil, h.manager.SwitchSession(valueobjects.SessionID(cmd.SessionID))
}

// DeleteSession drops a session, and its stored copy when purging
func (h *SessionCommandHandler) DeleteSession(ctx context.Context, cmd *commands.DeleteSessionCommand) (interface{}, error) {
	id := valueobjects.SessionID(cmd.SessionID)
	if cmd.Purge {
		return nil, h.manager.PurgeSession(ctx, id)
	}
	return nil, h.manager.DeleteSession(ctx, id)
}

// SaveSession persists one session, the active one, or all of them
func (h *SessionCommandHandler) SaveSession(ctx context.Context, cmd *commands.SaveSessionCommand) (interface{}, error) {
	if cmd.All {
		return nil, h.manager.SaveAll(ctx)
	}
	id := valueobjects.SessionID(cmd.SessionID)
	if id.IsZero() {
		active, _, err := h.manager.ActiveSession()
		if err != nil {
			return nil, err
		}
		id = active
	}
	return id, h.manager.SaveSession(ctx, id)
}

// LoadSession rebuilds a stored session
func (h *SessionCommandHandler) LoadSession(ctx context.Context, cmd *commands.LoadSessionCommand) (interface{}, error) {
	id := valueobjects.SessionID(cmd.SessionID)
	return id, h.manager.LoadSession(ctx, id)
}

// CleanupExpiredSessions returns how many sessions were evicted
func (h *SessionCommandHandler) CleanupExpiredSessions(ctx context.Context, cmd *commands.CleanupExpiredSessionsCommand) (interface{}, error) {
	maxAge := cmd.MaxAge
	if maxAge == 0 {
		maxAge = h.cfg.SessionMaxAge
	}
	removed := h.manager.CleanupExpiredSessions(ctx, maxAge)
	if removed > 0 {
		h.logger.Info("Expired sessions cleaned up", zap.Int("removed", removed), zap.Duration("max_age", maxAge))
	}
	return removed, nil
}
