package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"topicgrader/domain/core/aggregates"
	"topicgrader/domain/core/entities"
	"topicgrader/domain/core/valueobjects"
	pkgerrors "topicgrader/pkg/errors"
)

// CurrentVersion is the schema version written by Encode
const CurrentVersion = 2

// TreeRecord is the stored form of one session's tree
type TreeRecord struct {
	SchemaVersion int          `json:"schema_version"`
	SessionID     string       `json:"session_id"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	SavedAt       time.Time    `json:"saved_at"`
	Version       int          `json:"version"`
	Checksum      string       `json:"checksum"`
	RootNodes     []string     `json:"root_nodes"`
	CurrentPath   []string     `json:"current_path"`
	Nodes         []NodeRecord `json:"nodes"`
}

// NodeRecord is the stored form of a topic node
type NodeRecord struct {
	ID        string         `json:"id"`
	Topic     string         `json:"topic"`
	ParentID  string         `json:"parent_id,omitempty"`
	Children  []string       `json:"children,omitempty"`
	Depth     int            `json:"depth"`
	Score     *float64       `json:"score,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  MetadataRecord `json:"metadata"`
}

// MetadataRecord is the stored form of a node's exploration metadata
type MetadataRecord struct {
	QAPairs     []QAPairRecord `json:"qa_pairs"`
	VisitCount  int            `json:"visit_count"`
	LastVisited *time.Time     `json:"last_visited,omitempty"`
	IsExhausted bool           `json:"is_exhausted"`
	Keywords    []string       `json:"keywords,omitempty"`
}

// QAPairRecord is the stored form of a Q&A pair
type QAPairRecord struct {
	Question  string            `json:"question"`
	Answer    string            `json:"answer"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// FromTree builds a record, nodes in insertion order, and stamps its checksum
func FromTree(tree aggregates.ConversationTree, savedAt time.Time) (TreeRecord, error) {
	record := TreeRecord{
		SchemaVersion: CurrentVersion,
		SessionID:     tree.SessionID.String(),
		CreatedAt:     tree.CreatedAt,
		UpdatedAt:     tree.UpdatedAt,
		SavedAt:       savedAt,
		Version:       tree.Version,
		RootNodes:     idStrings(tree.RootNodes),
		CurrentPath:   idStrings(tree.CurrentPath),
		Nodes:         make([]NodeRecord, 0, tree.Size()),
	}
	for _, node := range tree.OrderedNodes() {
		record.Nodes = append(record.Nodes, nodeRecord(node))
	}

	sum, err := record.ComputeChecksum()
	if err != nil {
		return TreeRecord{}, err
	}
	record.Checksum = sum
	return record, nil
}

// ComputeChecksum hashes the structural payload: roots, current path and nodes
func (r TreeRecord) ComputeChecksum() (string, error) {
	payload := struct {
		RootNodes   []string     `json:"root_nodes"`
		CurrentPath []string     `json:"current_path"`
		Nodes       []NodeRecord `json:"nodes"`
	}{r.RootNodes, r.CurrentPath, r.Nodes}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", pkgerrors.NewPersistenceError("checksum", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChecksum reports a PERSISTENCE error when the stored checksum does not match
func (r TreeRecord) VerifyChecksum() error {
	sum, err := r.ComputeChecksum()
	if err != nil {
		return err
	}
	if sum != r.Checksum {
		return pkgerrors.NewPersistenceError("decode", pkgerrors.ErrChecksumMismatch).
			WithDetail("session_id", r.SessionID)
	}
	return nil
}

// ToTree rebuilds the snapshot. Structural validation is left to the tree it
// is restored into.
func (r TreeRecord) ToTree() (aggregates.ConversationTree, error) {
	sessionID, err := valueobjects.ParseSessionID(r.SessionID)
	if err != nil {
		return aggregates.ConversationTree{}, err
	}
	tree := aggregates.ConversationTree{
		SessionID: sessionID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Version:   r.Version,
		Nodes:     make(map[valueobjects.NodeID]*entities.TopicNode, len(r.Nodes)),
		NodeOrder: make([]valueobjects.NodeID, 0, len(r.Nodes)),
	}
	if tree.RootNodes, err = parseIDs(r.RootNodes); err != nil {
		return aggregates.ConversationTree{}, err
	}
	if tree.CurrentPath, err = parseIDs(r.CurrentPath); err != nil {
		return aggregates.ConversationTree{}, err
	}

	for _, nr := range r.Nodes {
		node, err := nr.toNode()
		if err != nil {
			return aggregates.ConversationTree{}, pkgerrors.Wrapf(err, "node %s", nr.ID)
		}
		tree.Nodes[node.ID()] = node
		tree.NodeOrder = append(tree.NodeOrder, node.ID())
	}
	return tree, nil
}

func (nr NodeRecord) toNode() (*entities.TopicNode, error) {
	id, err := valueobjects.ParseNodeID(nr.ID)
	if err != nil {
		return nil, err
	}
	var parent valueobjects.NodeID
	if nr.ParentID != "" {
		if parent, err = valueobjects.ParseNodeID(nr.ParentID); err != nil {
			return nil, err
		}
	}
	children, err := parseIDs(nr.Children)
	if err != nil {
		return nil, err
	}

	pairs := make([]valueobjects.QAPair, 0, len(nr.Metadata.QAPairs))
	for _, qr := range nr.Metadata.QAPairs {
		qa, err := valueobjects.NewQAPair(qr.Question, qr.Answer, qr.Timestamp, qr.Metadata)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, qa)
	}

	return entities.ReconstructTopicNode(entities.TopicNodeState{
		ID:        id,
		Topic:     nr.Topic,
		ParentID:  parent,
		Children:  children,
		Depth:     nr.Depth,
		Score:     nr.Score,
		CreatedAt: nr.CreatedAt,
		UpdatedAt: nr.UpdatedAt,
		Metadata: entities.NodeMetadata{
			QAPairs:     pairs,
			VisitCount:  nr.Metadata.VisitCount,
			LastVisited: nr.Metadata.LastVisited,
			IsExhausted: nr.Metadata.IsExhausted,
			Keywords:    nr.Metadata.Keywords,
		},
	})
}

func nodeRecord(node *entities.TopicNode) NodeRecord {
	meta := node.Metadata()
	nr := NodeRecord{
		ID:        node.ID().String(),
		Topic:     node.Topic(),
		ParentID:  node.ParentID().String(),
		Children:  idStrings(node.Children()),
		Depth:     node.Depth(),
		Score:     node.Score(),
		CreatedAt: node.CreatedAt(),
		UpdatedAt: node.UpdatedAt(),
		Metadata: MetadataRecord{
			QAPairs:     make([]QAPairRecord, 0, len(meta.QAPairs)),
			VisitCount:  meta.VisitCount,
			LastVisited: meta.LastVisited,
			IsExhausted: meta.IsExhausted,
			Keywords:    meta.Keywords,
		},
	}
	for _, qa := range meta.QAPairs {
		nr.Metadata.QAPairs = append(nr.Metadata.QAPairs, QAPairRecord{
			Question:  qa.Question(),
			Answer:    qa.Answer(),
			Timestamp: qa.Timestamp(),
			Metadata:  qa.Metadata(),
		})
	}
	return nr
}

func idStrings(ids []valueobjects.NodeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseIDs(raw []string) ([]valueobjects.NodeID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]valueobjects.NodeID, 0, len(raw))
	for _, s := range raw {
		id, err := valueobjects.ParseNodeID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
