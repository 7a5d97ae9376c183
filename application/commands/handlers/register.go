package handlers

import (
	"context"
	"fmt"

	"topicgrader/application/commands"
	"topicgrader/application/commands/bus"
	"topicgrader/application/services"
	"topicgrader/domain/core/valueobjects"
	pkgerrors "topicgrader/pkg/errors"
)

// handlerFor adapts a typed handler function to bus.CommandHandler
func handlerFor[C bus.Command](fn func(ctx context.Context, cmd C) (interface{}, error)) bus.CommandHandler {
	return bus.CommandHandlerFunc(func(ctx context.Context, cmd bus.Command) (interface{}, error) {
		typed, ok := cmd.(C)
		if !ok {
			return nil, pkgerrors.NewInternalError(fmt.Sprintf("handler received %T", cmd))
		}
		return fn(ctx, typed)
	})
}

// RegisterAll wires every session and grading command into b
func RegisterAll(b *bus.CommandBus, sessions *SessionCommandHandler, grading *GradingCommandHandler) error {
	registrations := []struct {
		cmd     bus.Command
		handler bus.CommandHandler
	}{
		{&commands.CreateSessionCommand{}, handlerFor(sessions.CreateSession)},
		{&commands.SwitchSessionCommand{}, handlerFor(sessions.SwitchSession)},
		{&commands.DeleteSessionCommand{}, handlerFor(sessions.DeleteSession)},
		{&commands.SaveSessionCommand{}, handlerFor(sessions.SaveSession)},
		{&commands.LoadSessionCommand{}, handlerFor(sessions.LoadSession)},
		{&commands.CleanupExpiredSessionsCommand{}, handlerFor(sessions.CleanupExpiredSessions)},
		{&commands.AddQAPairCommand{}, handlerFor(grading.AddQAPair)},
		{&commands.MarkTopicVisitedCommand{}, handlerFor(grading.MarkTopicVisited)},
		{&commands.MarkTopicExhaustedCommand{}, handlerFor(grading.MarkTopicExhausted)},
		{&commands.RemoveTopicCommand{}, handlerFor(grading.RemoveTopic)},
		{&commands.ClearSessionCommand{}, handlerFor(grading.ClearSession)},
	}
	for _, r := range registrations {
		if err := b.Register(r.cmd, r.handler); err != nil {
			return err
		}
	}
	return nil
}

// resolveSystem finds the grading system for id, or the active one when id is empty
func resolveSystem(manager *services.SessionManager, id string) (valueobjects.SessionID, *services.ConversationGradingSystem, error) {
	if id == "" {
		return manager.ActiveSession()
	}
	sessionID, err := valueobjects.ParseSessionID(id)
	if err != nil {
		return "", nil, err
	}
	system, err := manager.GetSystem(sessionID)
	if err != nil {
		return "", nil, err
	}
	return sessionID, system, nil
}
