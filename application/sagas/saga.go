// Package sagas runs multi-step workflows whose completed steps are undone
// when a later step fails.
package sagas

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// SagaStep represents a single step in a saga
type SagaStep struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
	// MaxRetries counts attempts; zero means one
	MaxRetries int
	RetryDelay time.Duration
	// Retryable decides whether a failed attempt is tried again; nil retries every error
	Retryable func(error) bool
}

// SagaState represents the current state of a saga execution
type SagaState string

const (
	SagaStatePending      SagaState = "PENDING"
	SagaStateRunning      SagaState = "RUNNING"
	SagaStateCompleted    SagaState = "COMPLETED"
	SagaStateFailed       SagaState = "FAILED"
	SagaStateCompensating SagaState = "COMPENSATING"
	SagaStateCompensated  SagaState = "COMPENSATED"
)

// Saga orchestrates a series of steps with compensation logic
type Saga struct {
	id          string
	name        string
	steps       []SagaStep
	state       SagaState
	currentStep int
	logger      *zap.Logger
}

// NewSaga creates a new saga instance
func NewSaga(name string, logger *zap.Logger) *Saga {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := ulid.Make().String()
	return &Saga{
		id:     id,
		name:   name,
		state:  SagaStatePending,
		logger: logger.With(zap.String("saga_id", id), zap.String("saga_name", name)),
	}
}

// AddStep adds a step to the saga
func (s *Saga) AddStep(step SagaStep) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Execute runs the steps in order. When one fails, the compensations of the
// steps that completed run in reverse order with a context that outlives
// cancellation of ctx.
func (s *Saga) Execute(ctx context.Context) error {
	s.state = SagaStateRunning
	s.logger.Debug("Starting saga", zap.Int("total_steps", len(s.steps)))

	for i, step := range s.steps {
		s.currentStep = i
		if err := s.executeStepWithRetry(ctx, step); err != nil {
			s.state = SagaStateFailed
			s.logger.Warn("Saga step failed", zap.String("step_name", step.Name), zap.Error(err))

			if cerr := s.compensate(context.WithoutCancel(ctx), i); cerr != nil {
				return fmt.Errorf("saga %s failed at step %s: %w", s.name, step.Name, errors.Join(err, cerr))
			}
			s.state = SagaStateCompensated
			return fmt.Errorf("saga %s failed at step %s: %w", s.name, step.Name, err)
		}
	}

	s.state = SagaStateCompleted
	s.logger.Debug("Saga completed", zap.Int("completed_steps", len(s.steps)))
	return nil
}

func (s *Saga) executeStepWithRetry(ctx context.Context, step SagaStep) error {
	attempts := step.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	delay := step.RetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			s.logger.Debug("Retrying saga step", zap.String("step_name", step.Name), zap.Int("attempt", attempt+1))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = step.Execute(ctx)
		if lastErr == nil {
			return nil
		}
		if step.Retryable != nil && !step.Retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// compensate undoes the first n steps, newest first, and reports every failure
func (s *Saga) compensate(ctx context.Context, n int) error {
	s.state = SagaStateCompensating
	var errs []error
	for i := n - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			s.logger.Error("Compensation failed", zap.String("step_name", step.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("compensating %s: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}

// GetState returns the current state
func (s *Saga) GetState() SagaState {
	return s.state
}

// GetID returns the saga ID
func (s *Saga) GetID() string {
	return s.id
}

// GetCurrentStep returns the index of the step being or last executed
func (s *Saga) GetCurrentStep() int {
	return s.currentStep
}
