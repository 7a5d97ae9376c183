package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"topicgrader/application/ports"
	"topicgrader/domain/config"
	"topicgrader/domain/core/aggregates"
	"topicgrader/domain/core/valueobjects"
	"topicgrader/domain/events"
	pkgerrors "topicgrader/pkg/errors"
)

// RestoreMode selects how LoadSession rebuilds a stored tree
type RestoreMode string

const (
	// RestoreReplay re-submits every stored pair, recomputing structure and scores
	RestoreReplay RestoreMode = "replay"
	// RestoreSnapshot rebuilds the stored tree exactly, keeping ids and scores
	RestoreSnapshot RestoreMode = "snapshot"
)

// IsValid reports whether m is a known mode
func (m RestoreMode) IsValid() bool {
	return m == RestoreReplay || m == RestoreSnapshot
}

// SessionInfo describes one live session
type SessionInfo struct {
	ID             valueobjects.SessionID `json:"id" yaml:"id"`
	CreatedAt      time.Time              `json:"created_at" yaml:"created_at"`
	LastAccessedAt time.Time              `json:"last_accessed_at" yaml:"last_accessed_at"`
	Metadata       map[string]string      `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	NodeCount      int                    `json:"node_count" yaml:"node_count"`
	Active         bool                   `json:"active" yaml:"active"`
}

type session struct {
	id           valueobjects.SessionID
	system       *ConversationGradingSystem
	createdAt    time.Time
	lastAccessed time.Time
	metadata     map[string]string
}

// SessionManager owns every live conversation. Each session has its own
// grading system; the registry itself is safe for concurrent use.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[valueobjects.SessionID]*session
	active   valueobjects.SessionID

	cfg         *config.DomainConfig
	store       ports.TreeStore
	restoreMode RestoreMode
	gradingOpts []GradingOption
	publisher   ports.EventPublisher
	metrics     ports.Metrics
	clock       ports.Clock
	logger      *zap.Logger
}

// SessionOption customizes a SessionManager
type SessionOption func(*SessionManager)

// WithRestoreMode picks replay or snapshot loading
func WithRestoreMode(mode RestoreMode) SessionOption {
	return func(m *SessionManager) {
		if mode.IsValid() {
			m.restoreMode = mode
		}
	}
}

// WithGradingOptions applies opts to every grading system the manager creates
func WithGradingOptions(opts ...GradingOption) SessionOption {
	return func(m *SessionManager) {
		m.gradingOpts = append(m.gradingOpts, opts...)
	}
}

// WithSessionPublisher sets where session lifecycle events go
func WithSessionPublisher(p ports.EventPublisher) SessionOption {
	return func(m *SessionManager) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithSessionMetrics sets the metrics sink
func WithSessionMetrics(metrics ports.Metrics) SessionOption {
	return func(m *SessionManager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithSessionClock replaces the time source used for access tracking
func WithSessionClock(c ports.Clock) SessionOption {
	return func(m *SessionManager) {
		if c != nil {
			m.clock = c
		}
	}
}

// NewSessionManager creates a manager. store may be nil, in which case
// SaveSession and LoadSession fail with a persistence error.
func NewSessionManager(cfg *config.DomainConfig, store ports.TreeStore, logger *zap.Logger, opts ...SessionOption) *SessionManager {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &SessionManager{
		sessions:    make(map[valueobjects.SessionID]*session),
		cfg:         cfg,
		store:       store,
		restoreMode: RestoreReplay,
		publisher:   ports.NoopPublisher{},
		metrics:     ports.NoopMetrics{},
		clock:       ports.SystemClock{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *SessionManager) newSystem(id valueobjects.SessionID) *ConversationGradingSystem {
	opts := append([]GradingOption{WithLogger(m.logger)}, m.gradingOpts...)
	return NewConversationGradingSystem(id, m.cfg, opts...)
}

// CreateSession registers a new session. An empty id generates one. The first
// session ever created becomes the active one.
func (m *SessionManager) CreateSession(ctx context.Context, id string, metadata map[string]string) (valueobjects.SessionID, error) {
	sessionID := valueobjects.NewSessionID()
	if id != "" {
		parsed, err := valueobjects.ParseSessionID(id)
		if err != nil {
			return "", err
		}
		sessionID = parsed
	}

	system := m.newSystem(sessionID)
	now := m.clock.Now()

	m.mu.Lock()
	if _, exists := m.sessions[sessionID]; exists {
		m.mu.Unlock()
		return "", pkgerrors.NewConflictError("session " + sessionID.String() + " already exists").
			WithCause(pkgerrors.ErrSessionExists)
	}
	m.sessions[sessionID] = &session{
		id:           sessionID,
		system:       system,
		createdAt:    now,
		lastAccessed: now,
		metadata:     copyStrings(metadata),
	}
	if m.active.IsZero() {
		m.active = sessionID
	}
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SessionsActive(count)
	m.logger.Info("Session created", zap.String("session_id", sessionID.String()))
	m.announce(ctx, events.NewSessionCreated(sessionID, now))
	return sessionID, nil
}

// SwitchSession makes id the active session
func (m *SessionManager) SwitchSession(id valueobjects.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return sessionNotFound(id)
	}
	m.active = id
	s.lastAccessed = m.clock.Now()
	return nil
}

// DeleteSession drops a session from memory. The active session cannot be deleted.
func (m *SessionManager) DeleteSession(ctx context.Context, id valueobjects.SessionID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return sessionNotFound(id)
	}
	if id == m.active {
		m.mu.Unlock()
		return pkgerrors.NewConflictError("cannot delete the active session " + id.String()).
			WithCause(pkgerrors.ErrActiveSessionDelete)
	}
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SessionsActive(count)
	m.logger.Info("Session deleted", zap.String("session_id", id.String()))
	m.announce(ctx, events.NewSessionDeleted(id, s.system.NodeCount(), m.clock.Now()))
	return nil
}

// PurgeSession deletes a session from memory, if present, and from the store
func (m *SessionManager) PurgeSession(ctx context.Context, id valueobjects.SessionID) error {
	if err := m.DeleteSession(ctx, id); err != nil && !pkgerrors.IsNotFound(err) {
		return err
	}
	if m.store == nil {
		return errNoStore("delete")
	}
	if err := m.store.Delete(ctx, id); err != nil {
		m.metrics.PersistenceOp("delete", err)
		return pkgerrors.NewPersistenceError("delete", err)
	}
	m.metrics.PersistenceOp("delete", nil)
	return nil
}

// ListSessions returns every live session, oldest first
func (m *SessionManager) ListSessions() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, SessionInfo{
			ID:             s.id,
			CreatedAt:      s.createdAt,
			LastAccessedAt: s.lastAccessed,
			Metadata:       copyStrings(s.metadata),
			NodeCount:      s.system.NodeCount(),
			Active:         s.id == m.active,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// StoredSessions lists the session ids held by the store
func (m *SessionManager) StoredSessions(ctx context.Context) ([]valueobjects.SessionID, error) {
	if m.store == nil {
		return nil, errNoStore("list")
	}
	ids, err := m.store.List(ctx)
	m.metrics.PersistenceOp("list", err)
	if err != nil {
		if pkgerrors.IsPersistence(err) {
			return nil, err
		}
		return nil, pkgerrors.NewPersistenceError("list", err)
	}
	return ids, nil
}

// GetSystem returns a session's grading system and records the access
func (m *SessionManager) GetSystem(id valueobjects.SessionID) (*ConversationGradingSystem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, sessionNotFound(id)
	}
	s.lastAccessed = m.clock.Now()
	return s.system, nil
}

// PeekSystem returns a session's grading system without touching its access time
func (m *SessionManager) PeekSystem(id valueobjects.SessionID) (*ConversationGradingSystem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, sessionNotFound(id)
	}
	return s.system, nil
}

// ActiveID returns the active session id, empty when there is none
func (m *SessionManager) ActiveID() valueobjects.SessionID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// ActiveSession returns the active session and its grading system
func (m *SessionManager) ActiveSession() (valueobjects.SessionID, *ConversationGradingSystem, error) {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()

	if active.IsZero() {
		return "", nil, pkgerrors.NewNotFoundError("active session").WithCause(pkgerrors.ErrSessionNotFound)
	}
	system, err := m.GetSystem(active)
	if err != nil {
		return "", nil, err
	}
	return active, system, nil
}

// CleanupExpiredSessions removes every session idle for longer than maxAge and
// returns how many went. The active session is never removed.
func (m *SessionManager) CleanupExpiredSessions(ctx context.Context, maxAge time.Duration) int {
	now := m.clock.Now()
	cutoff := now.Add(-maxAge)

	m.mu.Lock()
	var expired []*session
	for id, s := range m.sessions {
		if id == m.active || !s.lastAccessed.Before(cutoff) {
			continue
		}
		expired = append(expired, s)
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}
	m.metrics.SessionsActive(count)
	m.metrics.SessionsExpired(len(expired))
	for _, s := range expired {
		m.logger.Info("Session expired",
			zap.String("session_id", s.id.String()),
			zap.Time("last_accessed_at", s.lastAccessed))
		m.announce(ctx, events.NewSessionExpired(s.id, s.system.NodeCount(), now))
	}
	return len(expired)
}

// SaveSession writes a session's tree to the store
func (m *SessionManager) SaveSession(ctx context.Context, id valueobjects.SessionID) error {
	system, err := m.GetSystem(id)
	if err != nil {
		return err
	}
	if m.store == nil {
		return errNoStore("save")
	}

	err = m.store.Save(ctx, id, system.GetTopicTree())
	m.metrics.PersistenceOp("save", err)
	if err != nil {
		m.logger.Error("Failed to save session", zap.String("session_id", id.String()), zap.Error(err))
		if pkgerrors.IsPersistence(err) {
			return err
		}
		return pkgerrors.NewPersistenceError("save", err)
	}
	m.logger.Debug("Session saved", zap.String("session_id", id.String()))
	return nil
}

// SaveAll writes every live session concurrently and returns the first failure
func (m *SessionManager) SaveAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]valueobjects.SessionID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			err := m.SaveSession(gctx, id)
			if pkgerrors.IsNotFound(err) {
				// deleted while we were saving
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// LoadSession rebuilds a stored session into a fresh grading system and then
// registers it, replacing any live session with the same id. Nothing in the
// registry changes unless the whole rebuild succeeds.
func (m *SessionManager) LoadSession(ctx context.Context, id valueobjects.SessionID) error {
	if m.store == nil {
		return errNoStore("load")
	}
	tree, found, err := m.store.Load(ctx, id)
	m.metrics.PersistenceOp("load", err)
	if err != nil {
		if pkgerrors.IsPersistence(err) {
			return err
		}
		return pkgerrors.NewPersistenceError("load", err)
	}
	if !found {
		return sessionNotFound(id)
	}

	var system *ConversationGradingSystem
	switch m.restoreMode {
	case RestoreSnapshot:
		system, err = m.restoreSnapshot(id, tree)
	default:
		system, err = m.replay(ctx, id, tree)
	}
	if err != nil {
		m.logger.Error("Failed to load session", zap.String("session_id", id.String()),
			zap.String("mode", string(m.restoreMode)), zap.Error(err))
		return err
	}

	now := m.clock.Now()
	createdAt := tree.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		existing.system = system
		existing.lastAccessed = now
	} else {
		m.sessions[id] = &session{id: id, system: system, createdAt: createdAt, lastAccessed: now}
	}
	if m.active.IsZero() {
		m.active = id
	}
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SessionsActive(count)
	m.logger.Info("Session loaded",
		zap.String("session_id", id.String()),
		zap.String("mode", string(m.restoreMode)),
		zap.Int("nodes", system.NodeCount()))
	m.announce(ctx, events.NewSessionLoaded(id, system.NodeCount(), now))
	return nil
}

// replay feeds every stored pair through a fresh system, parents before children
func (m *SessionManager) replay(ctx context.Context, id valueobjects.SessionID, tree aggregates.ConversationTree) (*ConversationGradingSystem, error) {
	system := m.newSystem(id)
	for _, nodeID := range tree.ReplayOrder() {
		for _, qa := range tree.Nodes[nodeID].QAPairs() {
			if _, err := system.AddQAPair(ctx, qa, nil); err != nil {
				return nil, pkgerrors.Wrapf(err, "replaying session %s", id)
			}
		}
	}
	return system, nil
}

func (m *SessionManager) restoreSnapshot(id valueobjects.SessionID, tree aggregates.ConversationTree) (*ConversationGradingSystem, error) {
	tree.SessionID = id
	restored, err := aggregates.RestoreTopicTree(tree, m.cfg)
	if err != nil {
		return nil, err
	}
	opts := append([]GradingOption{WithLogger(m.logger)}, m.gradingOpts...)
	return RestoreConversationGradingSystem(restored, m.cfg, opts...), nil
}

// Private helper methods

func (m *SessionManager) announce(ctx context.Context, event events.DomainEvent) {
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Warn("Failed to publish session event",
			zap.String("event_type", event.GetEventType()),
			zap.Error(err))
	}
}

func sessionNotFound(id valueobjects.SessionID) error {
	return pkgerrors.NewNotFoundError("session " + id.String()).WithCause(pkgerrors.ErrSessionNotFound)
}

func errNoStore(op string) error {
	return pkgerrors.NewPersistenceError(op, pkgerrors.NewInternalError("no tree store configured"))
}

func copyStrings(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
