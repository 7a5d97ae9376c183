package queries

import (
	"time"

	"topicgrader/domain/core/aggregates"
	"topicgrader/domain/core/entities"
)

// QAPairDTO is a data transfer object for Q&A pairs
type QAPairDTO struct {
	Question  string            `json:"question" yaml:"question"`
	Answer    string            `json:"answer" yaml:"answer"`
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// TopicDTO is a data transfer object for topic nodes
type TopicDTO struct {
	ID          string      `json:"id" yaml:"id"`
	Topic       string      `json:"topic" yaml:"topic"`
	ParentID    string      `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Children    []string    `json:"children,omitempty" yaml:"children,omitempty"`
	Depth       int         `json:"depth" yaml:"depth"`
	Score       *float64    `json:"score,omitempty" yaml:"score,omitempty"`
	Keywords    []string    `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	QAPairs     []QAPairDTO `json:"qa_pairs,omitempty" yaml:"qa_pairs,omitempty"`
	VisitCount  int         `json:"visit_count" yaml:"visit_count"`
	LastVisited *time.Time  `json:"last_visited,omitempty" yaml:"last_visited,omitempty"`
	IsExhausted bool        `json:"is_exhausted" yaml:"is_exhausted"`
	CreatedAt   time.Time   `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" yaml:"updated_at"`
}

// TopicTreeDTO is the whole forest of one session
type TopicTreeDTO struct {
	SessionID   string     `json:"session_id" yaml:"session_id"`
	Version     int        `json:"version" yaml:"version"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at"`
	RootNodes   []string   `json:"root_nodes" yaml:"root_nodes"`
	CurrentPath []string   `json:"current_path" yaml:"current_path"`
	Nodes       []TopicDTO `json:"nodes" yaml:"nodes"`
}

// StatsDTO wraps tree statistics with the session they describe
type StatsDTO struct {
	SessionID string `json:"session_id" yaml:"session_id"`
	Version   int    `json:"version" yaml:"version"`

	aggregates.TreeStats `yaml:",inline"`
}

// ToTopicDTO converts a node for display
func ToTopicDTO(node *entities.TopicNode) TopicDTO {
	meta := node.Metadata()
	dto := TopicDTO{
		ID:          node.ID().String(),
		Topic:       node.Topic(),
		ParentID:    node.ParentID().String(),
		Depth:       node.Depth(),
		Score:       node.Score(),
		Keywords:    meta.Keywords,
		VisitCount:  meta.VisitCount,
		LastVisited: meta.LastVisited,
		IsExhausted: meta.IsExhausted,
		CreatedAt:   node.CreatedAt(),
		UpdatedAt:   node.UpdatedAt(),
	}
	for _, child := range node.Children() {
		dto.Children = append(dto.Children, child.String())
	}
	for _, qa := range meta.QAPairs {
		dto.QAPairs = append(dto.QAPairs, QAPairDTO{
			Question:  qa.Question(),
			Answer:    qa.Answer(),
			Timestamp: qa.Timestamp(),
			Metadata:  qa.Metadata(),
		})
	}
	return dto
}

// ToTopicTreeDTO converts a snapshot, listing nodes in insertion order
func ToTopicTreeDTO(tree aggregates.ConversationTree) TopicTreeDTO {
	dto := TopicTreeDTO{
		SessionID:   tree.SessionID.String(),
		Version:     tree.Version,
		CreatedAt:   tree.CreatedAt,
		UpdatedAt:   tree.UpdatedAt,
		RootNodes:   make([]string, 0, len(tree.RootNodes)),
		CurrentPath: make([]string, 0, len(tree.CurrentPath)),
		Nodes:       make([]TopicDTO, 0, tree.Size()),
	}
	for _, id := range tree.RootNodes {
		dto.RootNodes = append(dto.RootNodes, id.String())
	}
	for _, id := range tree.CurrentPath {
		dto.CurrentPath = append(dto.CurrentPath, id.String())
	}
	for _, node := range tree.OrderedNodes() {
		dto.Nodes = append(dto.Nodes, ToTopicDTO(node))
	}
	return dto
}
