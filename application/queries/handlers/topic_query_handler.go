package handlers

import (
	"context"
	"fmt"

	"topicgrader/application/queries"
	"topicgrader/application/queries/bus"
	"topicgrader/application/services"
	"topicgrader/domain/core/valueobjects"
	pkgerrors "topicgrader/pkg/errors"
)

// TopicQueryHandler answers read-only questions about sessions and their trees.
// Every answer comes from the session's last committed snapshot.
type TopicQueryHandler struct {
	manager *services.SessionManager
}

// NewTopicQueryHandler creates a new query handler
func NewTopicQueryHandler(manager *services.SessionManager) *TopicQueryHandler {
	return &TopicQueryHandler{manager: manager}
}

// RegisterAll wires every query into b
func (h *TopicQueryHandler) RegisterAll(b *bus.QueryBus) error {
	registrations := []struct {
		query   bus.Query
		handler bus.QueryHandler
	}{
		{&queries.GetTopicTreeQuery{}, handlerFor(h.GetTopicTree)},
		{&queries.GetCurrentTopicQuery{}, handlerFor(h.GetCurrentTopic)},
		{&queries.GetDeepestUnvisitedBranchQuery{}, handlerFor(h.GetDeepestUnvisitedBranch)},
		{&queries.GetDepthFromRootQuery{}, handlerFor(h.GetDepthFromRoot)},
		{&queries.GetAncestorsQuery{}, handlerFor(h.GetAncestors)},
		{&queries.GetStatsQuery{}, handlerFor(h.GetStats)},
		{&queries.ListSessionsQuery{}, handlerFor(h.ListSessions)},
	}
	for _, r := range registrations {
		if err := b.Register(r.query, r.handler); err != nil {
			return err
		}
	}
	return nil
}

// VersionLookup resolves sessions for the caching middleware. It does not
// count as an access for expiry purposes.
func (h *TopicQueryHandler) VersionLookup() bus.VersionLookup {
	return func(session string) (string, int, bool) {
		id := valueobjects.SessionID(session)
		if id.IsZero() {
			id = h.manager.ActiveID()
		}
		system, err := h.manager.PeekSystem(id)
		if err != nil {
			return "", 0, false
		}
		return id.String(), system.Version(), true
	}
}

// GetTopicTree returns a queries.TopicTreeDTO
func (h *TopicQueryHandler) GetTopicTree(_ context.Context, q *queries.GetTopicTreeQuery) (interface{}, error) {
	system, err := h.system(q.SessionID)
	if err != nil {
		return nil, err
	}
	return queries.ToTopicTreeDTO(system.GetTopicTree()), nil
}

// GetCurrentTopic returns a *queries.TopicDTO, nil when the tree is empty
func (h *TopicQueryHandler) GetCurrentTopic(_ context.Context, q *queries.GetCurrentTopicQuery) (interface{}, error) {
	system, err := h.system(q.SessionID)
	if err != nil {
		return nil, err
	}
	node, ok := system.GetCurrentTopic()
	if !ok {
		return (*queries.TopicDTO)(nil), nil
	}
	dto := queries.ToTopicDTO(node)
	return &dto, nil
}

// GetDeepestUnvisitedBranch returns a *queries.TopicDTO, nil when every leaf is done
func (h *TopicQueryHandler) GetDeepestUnvisitedBranch(_ context.Context, q *queries.GetDeepestUnvisitedBranchQuery) (interface{}, error) {
	system, err := h.system(q.SessionID)
	if err != nil {
		return nil, err
	}
	node, ok := system.GetDeepestUnvisitedBranch()
	if !ok {
		return (*queries.TopicDTO)(nil), nil
	}
	dto := queries.ToTopicDTO(node)
	return &dto, nil
}

// GetDepthFromRoot returns an int
func (h *TopicQueryHandler) GetDepthFromRoot(_ context.Context, q *queries.GetDepthFromRootQuery) (interface{}, error) {
	system, err := h.system(q.SessionID)
	if err != nil {
		return nil, err
	}
	nodeID, err := valueobjects.ParseNodeID(q.NodeID)
	if err != nil {
		return nil, err
	}
	return system.GetDepthFromRoot(nodeID)
}

// GetAncestors returns []queries.TopicDTO
func (h *TopicQueryHandler) GetAncestors(_ context.Context, q *queries.GetAncestorsQuery) (interface{}, error) {
	system, err := h.system(q.SessionID)
	if err != nil {
		return nil, err
	}
	nodeID, err := valueobjects.ParseNodeID(q.NodeID)
	if err != nil {
		return nil, err
	}
	ancestors, err := system.GetAncestors(nodeID)
	if err != nil {
		return nil, err
	}
	out := make([]queries.TopicDTO, len(ancestors))
	for i, a := range ancestors {
		out[i] = queries.ToTopicDTO(a)
	}
	return out, nil
}

// GetStats returns a queries.StatsDTO
func (h *TopicQueryHandler) GetStats(_ context.Context, q *queries.GetStatsQuery) (interface{}, error) {
	system, err := h.system(q.SessionID)
	if err != nil {
		return nil, err
	}
	return queries.StatsDTO{
		SessionID: system.SessionID().String(),
		Version:   system.Version(),
		TreeStats: system.GetStats(),
	}, nil
}

// ListSessions returns []services.SessionInfo, or []valueobjects.SessionID for stored sessions
func (h *TopicQueryHandler) ListSessions(ctx context.Context, q *queries.ListSessionsQuery) (interface{}, error) {
	if q.Stored {
		return h.manager.StoredSessions(ctx)
	}
	return h.manager.ListSessions(), nil
}

func (h *TopicQueryHandler) system(id string) (*services.ConversationGradingSystem, error) {
	if id == "" {
		_, system, err := h.manager.ActiveSession()
		return system, err
	}
	sessionID, err := valueobjects.ParseSessionID(id)
	if err != nil {
		return nil, err
	}
	return h.manager.GetSystem(sessionID)
}

func handlerFor[Q bus.Query](fn func(ctx context.Context, q Q) (interface{}, error)) bus.QueryHandler {
	return bus.QueryHandlerFunc(func(ctx context.Context, query bus.Query) (interface{}, error) {
		typed, ok := query.(Q)
		if !ok {
			return nil, pkgerrors.NewInternalError(fmt.Sprintf("handler received %T", query))
		}
		return fn(ctx, typed)
	})
}
