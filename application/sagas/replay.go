package sagas

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"topicgrader/application/commands"
	"topicgrader/application/commands/bus"
	"topicgrader/domain/core/valueobjects"
	pkgerrors "topicgrader/pkg/errors"
)

// Sender dispatches commands; *bus.CommandBus satisfies it
type Sender interface {
	Send(ctx context.Context, cmd bus.Command) (interface{}, error)
}

// Turn is one question and answer of a transcript
type Turn struct {
	Question  string
	Answer    string
	Score     *float64
	Timestamp time.Time
	Metadata  map[string]string
}

// ReplayRequest describes a transcript to grade into a new session
type ReplayRequest struct {
	SessionID string
	Metadata  map[string]string
	Turns     []Turn
	Save      bool
}

// ReplayResult reports where every turn landed
type ReplayResult struct {
	SessionID string
	Turns     []commands.AddQAPairResult
	Saved     bool
}

// saveAttempts bounds retries of a failing store
const saveAttempts = 3

// ReplayTranscript creates a session, grades every turn into it and
// optionally saves it. If any step fails the session is dropped again, or
// cleared when it is the active one, so no half-graded session remains. The
// store is never touched by the rollback.
func ReplayTranscript(ctx context.Context, sender Sender, req ReplayRequest, logger *zap.Logger) (ReplayResult, error) {
	var result ReplayResult
	saga := NewSaga("replay-transcript", logger)

	saga.AddStep(SagaStep{
		Name: "create-session",
		Execute: func(ctx context.Context) error {
			out, err := sender.Send(ctx, &commands.CreateSessionCommand{SessionID: req.SessionID, Metadata: req.Metadata})
			if err != nil {
				return err
			}
			result.SessionID = out.(valueobjects.SessionID).String()
			return nil
		},
		Compensate: func(ctx context.Context) error {
			_, err := sender.Send(ctx, &commands.DeleteSessionCommand{SessionID: result.SessionID})
			if pkgerrors.IsConflict(err) {
				_, err = sender.Send(ctx, &commands.ClearSessionCommand{SessionID: result.SessionID})
			}
			return err
		},
	})

	saga.AddStep(SagaStep{
		Name: "grade-turns",
		Execute: func(ctx context.Context) error {
			for i, t := range req.Turns {
				out, err := sender.Send(ctx, &commands.AddQAPairCommand{
					SessionID: result.SessionID,
					Question:  t.Question,
					Answer:    t.Answer,
					Score:     t.Score,
					Timestamp: t.Timestamp,
					Metadata:  t.Metadata,
				})
				if err != nil {
					return fmt.Errorf("turn %d: %w", i+1, err)
				}
				result.Turns = append(result.Turns, out.(commands.AddQAPairResult))
			}
			return nil
		},
	})

	if req.Save {
		saga.AddStep(SagaStep{
			Name: "save-session",
			Execute: func(ctx context.Context) error {
				_, err := sender.Send(ctx, &commands.SaveSessionCommand{SessionID: result.SessionID})
				return err
			},
			MaxRetries: saveAttempts,
			RetryDelay: 200 * time.Millisecond,
			Retryable:  pkgerrors.IsPersistence,
		})
	}

	if err := saga.Execute(ctx); err != nil {
		return ReplayResult{SessionID: result.SessionID}, err
	}
	result.Saved = req.Save
	return result, nil
}
