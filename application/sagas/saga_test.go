package sagas

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"topicgrader/application/commands/bus"
	"topicgrader/application/commands/handlers"
	"topicgrader/application/services"
	"topicgrader/domain/core/aggregates"
	"topicgrader/domain/core/valueobjects"
	pkgerrors "topicgrader/pkg/errors"
)

func TestSaga_CompensatesInReverseOrder(t *testing.T) {
	var trail []string
	step := func(name string, fail bool) SagaStep {
		return SagaStep{
			Name: name,
			Execute: func(context.Context) error {
				trail = append(trail, "do "+name)
				if fail {
					return errors.New(name + " broke")
				}
				return nil
			},
			Compensate: func(context.Context) error {
				trail = append(trail, "undo "+name)
				return nil
			},
		}
	}

	saga := NewSaga("test", zap.NewNop()).
		AddStep(step("a", false)).
		AddStep(step("b", false)).
		AddStep(step("c", true))

	err := saga.Execute(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "c broke")
	assert.Equal(t, []string{"do a", "do b", "do c", "undo b", "undo a"}, trail)
	assert.Equal(t, SagaStateCompensated, saga.GetState())
	assert.Equal(t, 2, saga.GetCurrentStep())
	assert.NotEmpty(t, saga.GetID())
}

func TestSaga_Retry(t *testing.T) {
	transient := errors.New("transient")
	permanent := errors.New("permanent")

	tests := []struct {
		name      string
		failures  []error
		retryable func(error) bool
		wantCalls int
		wantErr   error
	}{
		{name: "succeeds after retries", failures: []error{transient, transient}, wantCalls: 3},
		{name: "gives up after max attempts", failures: []error{transient, transient, transient, transient}, wantCalls: 3, wantErr: transient},
		{
			name:      "stops on non-retryable error",
			failures:  []error{permanent},
			retryable: func(err error) bool { return errors.Is(err, transient) },
			wantCalls: 1,
			wantErr:   permanent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			saga := NewSaga("retry", nil).AddStep(SagaStep{
				Name: "flaky",
				Execute: func(context.Context) error {
					calls++
					if calls <= len(tt.failures) {
						return tt.failures[calls-1]
					}
					return nil
				},
				MaxRetries: 3,
				RetryDelay: time.Millisecond,
				Retryable:  tt.retryable,
			})

			err := saga.Execute(context.Background())

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, SagaStateCompensated, saga.GetState())
			} else {
				assert.NoError(t, err)
				assert.Equal(t, SagaStateCompleted, saga.GetState())
			}
		})
	}
}

func TestSaga_RetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	saga := NewSaga("cancel", nil).AddStep(SagaStep{
		Name: "slow",
		Execute: func(context.Context) error {
			cancel()
			return errors.New("failed")
		},
		MaxRetries: 5,
		RetryDelay: time.Hour,
	})

	err := saga.Execute(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

// flakyStore fails the first failures saves
type flakyStore struct {
	mu       sync.Mutex
	failures int
	saves    int
	trees    map[valueobjects.SessionID]aggregates.ConversationTree
}

func newFlakyStore(failures int) *flakyStore {
	return &flakyStore{failures: failures, trees: make(map[valueobjects.SessionID]aggregates.ConversationTree)}
}

func (s *flakyStore) Save(_ context.Context, id valueobjects.SessionID, tree aggregates.ConversationTree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saves <= s.failures {
		return errors.New("throttled")
	}
	s.trees[id] = tree
	return nil
}

func (s *flakyStore) Load(_ context.Context, id valueobjects.SessionID) (aggregates.ConversationTree, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, ok := s.trees[id]
	return tree, ok, nil
}

func (s *flakyStore) Delete(_ context.Context, id valueobjects.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trees, id)
	return nil
}

func (s *flakyStore) List(context.Context) ([]valueobjects.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []valueobjects.SessionID
	for id := range s.trees {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *flakyStore) Exists(_ context.Context, id valueobjects.SessionID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.trees[id]
	return ok, nil
}

func newBus(t *testing.T, store *flakyStore) (*bus.CommandBus, *services.SessionManager) {
	t.Helper()
	manager := services.NewSessionManager(nil, store, zap.NewNop())
	b := bus.NewCommandBus()
	require.NoError(t, handlers.RegisterAll(b,
		handlers.NewSessionCommandHandler(manager, nil, nil),
		handlers.NewGradingCommandHandler(manager),
	))
	return b, manager
}

func turns() []Turn {
	return []Turn{
		{Question: "How do channels work?", Answer: "They pass values between goroutines with synchronization."},
		{Question: "What is a buffered channel?", Answer: "A channel with capacity that only blocks when full."},
	}
}

func TestReplayTranscript_SavesWithRetry(t *testing.T) {
	store := newFlakyStore(2)
	b, _ := newBus(t, store)

	result, err := ReplayTranscript(context.Background(), b, ReplayRequest{
		SessionID: "replay-1",
		Turns:     turns(),
		Save:      true,
	}, zap.NewNop())

	require.NoError(t, err)
	assert.Equal(t, "replay-1", result.SessionID)
	assert.True(t, result.Saved)
	assert.Len(t, result.Turns, 2)
	assert.Equal(t, 3, store.saves)
	ok, _ := store.Exists(context.Background(), "replay-1")
	assert.True(t, ok)
}

func TestReplayTranscript_RollsBack(t *testing.T) {
	tests := []struct {
		name        string
		otherActive bool
		turns       []Turn
		failures    int
		wantErr     func(error) bool
	}{
		{name: "bad turn drops the session", otherActive: true, turns: append(turns(), Turn{Question: "Why?", Answer: " "}), wantErr: pkgerrors.IsValidation},
		{name: "store down drops the session", otherActive: true, turns: turns(), failures: 10, wantErr: pkgerrors.IsPersistence},
		{name: "active session is cleared", turns: turns(), failures: 10, wantErr: pkgerrors.IsPersistence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newFlakyStore(tt.failures)
			b, manager := newBus(t, store)
			if tt.otherActive {
				_, err := manager.CreateSession(ctx, "already-active", nil)
				require.NoError(t, err)
			}

			_, err := ReplayTranscript(ctx, b, ReplayRequest{SessionID: "doomed", Turns: tt.turns, Save: true}, zap.NewNop())

			require.Error(t, err)
			assert.True(t, tt.wantErr(err), err.Error())

			system, gerr := manager.GetSystem("doomed")
			if tt.otherActive {
				assert.True(t, pkgerrors.IsNotFound(gerr))
			} else {
				require.NoError(t, gerr)
				assert.Zero(t, system.NodeCount())
			}
			ok, _ := store.Exists(ctx, "doomed")
			assert.False(t, ok)
		})
	}
}
