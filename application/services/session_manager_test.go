package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"topicgrader/application/ports"
	"topicgrader/domain/config"
	"topicgrader/domain/core/aggregates"
	"topicgrader/domain/core/valueobjects"
	pkgerrors "topicgrader/pkg/errors"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTreeStore struct {
	mu      sync.Mutex
	trees   map[valueobjects.SessionID]aggregates.ConversationTree
	loadErr error
	saveErr error
}

func newFakeTreeStore() *fakeTreeStore {
	return &fakeTreeStore{trees: make(map[valueobjects.SessionID]aggregates.ConversationTree)}
}

func (s *fakeTreeStore) Save(_ context.Context, id valueobjects.SessionID, tree aggregates.ConversationTree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.trees[id] = tree.Clone()
	return nil
}

func (s *fakeTreeStore) Load(_ context.Context, id valueobjects.SessionID) (aggregates.ConversationTree, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return aggregates.ConversationTree{}, false, s.loadErr
	}
	tree, ok := s.trees[id]
	if !ok {
		return aggregates.ConversationTree{}, false, nil
	}
	return tree.Clone(), true, nil
}

func (s *fakeTreeStore) Delete(_ context.Context, id valueobjects.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trees, id)
	return nil
}

func (s *fakeTreeStore) List(context.Context) ([]valueobjects.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]valueobjects.SessionID, 0, len(s.trees))
	for id := range s.trees {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *fakeTreeStore) Exists(_ context.Context, id valueobjects.SessionID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.trees[id]
	return ok, nil
}

func newTestManager(t *testing.T, store *fakeTreeStore, opts ...SessionOption) (*SessionManager, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
	opts = append([]SessionOption{WithSessionClock(clock)}, opts...)
	var ts ports.TreeStore
	if store != nil {
		ts = store
	}
	return NewSessionManager(config.DefaultDomainConfig(), ts, zap.NewNop(), opts...), clock
}

func TestSessionManager_CreateSession(t *testing.T) {
	manager, _ := newTestManager(t, newFakeTreeStore())
	ctx := context.Background()

	first, err := manager.CreateSession(ctx, "interview-1", map[string]string{"candidate": "c-17"})
	require.NoError(t, err)
	generated, err := manager.CreateSession(ctx, "", nil)
	require.NoError(t, err)

	assert.Equal(t, valueobjects.SessionID("interview-1"), first)
	assert.NotEmpty(t, generated)

	active, _, err := manager.ActiveSession()
	require.NoError(t, err)
	assert.Equal(t, first, active, "the first session becomes active")

	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{name: "duplicate id", id: "interview-1", wantErr: pkgerrors.ErrSessionExists},
		{name: "invalid characters", id: "bad id!", wantErr: pkgerrors.ErrInvalidSessionID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.CreateSession(ctx, tt.id, nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Len(t, manager.ListSessions(), 2)
}

func TestSessionManager_SwitchAndDelete(t *testing.T) {
	manager, _ := newTestManager(t, nil)
	ctx := context.Background()

	a, err := manager.CreateSession(ctx, "a", nil)
	require.NoError(t, err)
	b, err := manager.CreateSession(ctx, "b", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, manager.SwitchSession("missing"), pkgerrors.ErrSessionNotFound)

	require.NoError(t, manager.SwitchSession(b))
	active, _, err := manager.ActiveSession()
	require.NoError(t, err)
	assert.Equal(t, b, active)

	err = manager.DeleteSession(ctx, b)
	assert.ErrorIs(t, err, pkgerrors.ErrActiveSessionDelete)
	assert.True(t, pkgerrors.IsConflict(err))

	require.NoError(t, manager.DeleteSession(ctx, a))
	assert.ErrorIs(t, manager.DeleteSession(ctx, a), pkgerrors.ErrSessionNotFound)

	_, err = manager.GetSystem(a)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestSessionManager_SessionsAreIsolated(t *testing.T) {
	manager, _ := newTestManager(t, nil)
	ctx := context.Background()

	a, err := manager.CreateSession(ctx, "a", nil)
	require.NoError(t, err)
	b, err := manager.CreateSession(ctx, "b", nil)
	require.NoError(t, err)

	systemA, err := manager.GetSystem(a)
	require.NoError(t, err)
	_, err = systemA.AddQAPair(ctx, aiQA(t), nil)
	require.NoError(t, err)

	systemB, err := manager.GetSystem(b)
	require.NoError(t, err)
	assert.Equal(t, 1, systemA.NodeCount())
	assert.Zero(t, systemB.NodeCount())
	assert.Empty(t, systemB.History())
}

func TestSessionManager_ListSessions(t *testing.T) {
	manager, clock := newTestManager(t, nil)
	ctx := context.Background()

	_, err := manager.CreateSession(ctx, "zeta", nil)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = manager.CreateSession(ctx, "alpha", map[string]string{"role": "backend"})
	require.NoError(t, err)

	sessions := manager.ListSessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, valueobjects.SessionID("zeta"), sessions[0].ID, "oldest first")
	assert.True(t, sessions[0].Active)
	assert.Equal(t, "backend", sessions[1].Metadata["role"])
	assert.False(t, sessions[1].Active)
}

func TestSessionManager_CleanupExpiredSessions(t *testing.T) {
	manager, clock := newTestManager(t, nil)
	ctx := context.Background()

	active, err := manager.CreateSession(ctx, "active", nil)
	require.NoError(t, err)
	_, err = manager.CreateSession(ctx, "stale", nil)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	fresh, err := manager.CreateSession(ctx, "fresh", nil)
	require.NoError(t, err)

	removed := manager.CleanupExpiredSessions(ctx, time.Hour)

	assert.Equal(t, 1, removed)
	var ids []valueobjects.SessionID
	for _, s := range manager.ListSessions() {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []valueobjects.SessionID{active, fresh}, ids, "the active session survives even when idle")
	assert.Zero(t, manager.CleanupExpiredSessions(ctx, time.Hour))
}

func TestSessionManager_SaveAndLoad(t *testing.T) {
	tests := []struct {
		name        string
		mode        RestoreMode
		preserveIDs bool
	}{
		{name: "replay", mode: RestoreReplay},
		{name: "snapshot", mode: RestoreSnapshot, preserveIDs: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			store := newFakeTreeStore()
			ctx := context.Background()
			source, _ := newTestManager(t, store)
			id, err := source.CreateSession(ctx, "persisted", nil)
			require.NoError(t, err)
			system, err := source.GetSystem(id)
			require.NoError(t, err)
			rootID, err := system.AddQAPair(ctx, aiQA(t), nil)
			require.NoError(t, err)
			_, err = system.AddQAPair(ctx, mlQA(t), nil)
			require.NoError(t, err)
			require.NoError(t, source.SaveSession(ctx, id))

			target, _ := newTestManager(t, store, WithRestoreMode(tt.mode))

			// Act
			err = target.LoadSession(ctx, id)

			// Assert
			require.NoError(t, err)
			loaded, err := target.GetSystem(id)
			require.NoError(t, err)
			tree := loaded.GetTopicTree()
			require.Equal(t, 2, tree.Size())
			require.Len(t, tree.RootNodes, 1)
			assert.Equal(t, "ai", tree.Nodes[tree.RootNodes[0]].Topic())
			assert.Len(t, loaded.History(), 2)
			assert.Equal(t, tt.preserveIDs, tree.RootNodes[0] == rootID)

			active, _, err := target.ActiveSession()
			require.NoError(t, err)
			assert.Equal(t, id, active)
		})
	}
}

func TestSessionManager_LoadFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing session", func(t *testing.T) {
		manager, _ := newTestManager(t, newFakeTreeStore())
		assert.ErrorIs(t, manager.LoadSession(ctx, "nope"), pkgerrors.ErrSessionNotFound)
	})

	t.Run("no store", func(t *testing.T) {
		manager, _ := newTestManager(t, nil)
		assert.True(t, pkgerrors.IsPersistence(manager.LoadSession(ctx, "nope")))
	})

	t.Run("store failure keeps the live session", func(t *testing.T) {
		store := newFakeTreeStore()
		manager, _ := newTestManager(t, store)
		id, err := manager.CreateSession(ctx, "live", nil)
		require.NoError(t, err)
		system, err := manager.GetSystem(id)
		require.NoError(t, err)
		_, err = system.AddQAPair(ctx, aiQA(t), nil)
		require.NoError(t, err)

		store.loadErr = errors.New("disk gone")
		err = manager.LoadSession(ctx, id)

		assert.True(t, pkgerrors.IsPersistence(err))
		after, err := manager.GetSystem(id)
		require.NoError(t, err)
		assert.Same(t, system, after)
		assert.Equal(t, 1, after.NodeCount())
	})

	t.Run("corrupt snapshot is rejected", func(t *testing.T) {
		store := newFakeTreeStore()
		source, _ := newTestManager(t, store)
		id, err := source.CreateSession(ctx, "corrupt", nil)
		require.NoError(t, err)
		system, err := source.GetSystem(id)
		require.NoError(t, err)
		_, err = system.AddQAPair(ctx, aiQA(t), nil)
		require.NoError(t, err)
		require.NoError(t, source.SaveSession(ctx, id))

		tree := store.trees[id]
		tree.RootNodes = nil
		store.trees[id] = tree

		target, _ := newTestManager(t, store, WithRestoreMode(RestoreSnapshot))
		err = target.LoadSession(ctx, id)

		assert.True(t, pkgerrors.IsTreeIntegrity(err))
		assert.Empty(t, target.ListSessions())
	})
}

func TestSessionManager_SaveAllAndPurge(t *testing.T) {
	store := newFakeTreeStore()
	manager, _ := newTestManager(t, store)
	ctx := context.Background()

	for _, id := range []string{"one", "two", "three"} {
		_, err := manager.CreateSession(ctx, id, nil)
		require.NoError(t, err)
	}

	require.NoError(t, manager.SaveAll(ctx))
	stored, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []valueobjects.SessionID{"one", "three", "two"}, stored)

	require.NoError(t, manager.PurgeSession(ctx, "two"))
	exists, err := store.Exists(ctx, "two")
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = manager.GetSystem("two")
	assert.True(t, pkgerrors.IsNotFound(err))

	store.saveErr = errors.New("throttled")
	assert.True(t, pkgerrors.IsPersistence(manager.SaveAll(ctx)))
}
