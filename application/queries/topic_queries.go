package queries

import (
	"topicgrader/pkg/utils"
)

// Queries below address a session by id; an empty SessionID means the active session.

// GetTopicTreeQuery returns a session's whole tree
type GetTopicTreeQuery struct {
	SessionID string `json:"session_id" validate:"omitempty,sessionid"`
}

// Validate validates the query
func (q *GetTopicTreeQuery) Validate() error { return utils.ValidateStruct(q) }

// Session implements bus.SessionScoped
func (q *GetTopicTreeQuery) Session() string { return q.SessionID }

// GetCurrentTopicQuery returns the topic at the end of the current path
type GetCurrentTopicQuery struct {
	SessionID string `json:"session_id" validate:"omitempty,sessionid"`
}

// Validate validates the query
func (q *GetCurrentTopicQuery) Validate() error { return utils.ValidateStruct(q) }

// Session implements bus.SessionScoped
func (q *GetCurrentTopicQuery) Session() string { return q.SessionID }

// GetDeepestUnvisitedBranchQuery returns the next topic worth exploring
type GetDeepestUnvisitedBranchQuery struct {
	SessionID string `json:"session_id" validate:"omitempty,sessionid"`
}

// Validate validates the query
func (q *GetDeepestUnvisitedBranchQuery) Validate() error { return utils.ValidateStruct(q) }

// Session implements bus.SessionScoped
func (q *GetDeepestUnvisitedBranchQuery) Session() string { return q.SessionID }

// GetDepthFromRootQuery returns a topic's depth, 1 for a root
type GetDepthFromRootQuery struct {
	SessionID string `json:"session_id" validate:"omitempty,sessionid"`
	NodeID    string `json:"node_id" validate:"required,uuid"`
}

// Validate validates the query
func (q *GetDepthFromRootQuery) Validate() error { return utils.ValidateStruct(q) }

// Session implements bus.SessionScoped
func (q *GetDepthFromRootQuery) Session() string { return q.SessionID }

// GetAncestorsQuery returns the chain above a topic, nearest first
type GetAncestorsQuery struct {
	SessionID string `json:"session_id" validate:"omitempty,sessionid"`
	NodeID    string `json:"node_id" validate:"required,uuid"`
}

// Validate validates the query
func (q *GetAncestorsQuery) Validate() error { return utils.ValidateStruct(q) }

// Session implements bus.SessionScoped
func (q *GetAncestorsQuery) Session() string { return q.SessionID }

// GetStatsQuery summarizes a session's tree
type GetStatsQuery struct {
	SessionID string `json:"session_id" validate:"omitempty,sessionid"`
}

// Validate validates the query
func (q *GetStatsQuery) Validate() error { return utils.ValidateStruct(q) }

// Session implements bus.SessionScoped
func (q *GetStatsQuery) Session() string { return q.SessionID }

// ListSessionsQuery lists live sessions, or stored ones when Stored is set
type ListSessionsQuery struct {
	Stored bool `json:"stored"`
}

// Validate validates the query
func (q *ListSessionsQuery) Validate() error { return nil }
