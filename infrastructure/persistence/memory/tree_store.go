// Package memory is the process-local tree store used by default and in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"topicgrader/application/ports"
	"topicgrader/domain/core/aggregates"
	"topicgrader/domain/core/valueobjects"
	"topicgrader/infrastructure/persistence/schema"
)

// TreeStore holds encoded records so callers never share node pointers
// with the store
type TreeStore struct {
	mu      sync.RWMutex
	records map[valueobjects.SessionID][]byte
}

var _ ports.TreeStore = (*TreeStore)(nil)

// NewTreeStore creates an empty store
func NewTreeStore() *TreeStore {
	return &TreeStore{records: make(map[valueobjects.SessionID][]byte)}
}

// Save encodes and stores the tree
func (s *TreeStore) Save(_ context.Context, sessionID valueobjects.SessionID, tree aggregates.ConversationTree) error {
	data, err := schema.Encode(tree, time.Now().UTC())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[sessionID] = data
	return nil
}

// Load decodes the stored tree
func (s *TreeStore) Load(_ context.Context, sessionID valueobjects.SessionID) (aggregates.ConversationTree, bool, error) {
	s.mu.RLock()
	data, ok := s.records[sessionID]
	s.mu.RUnlock()
	if !ok {
		return aggregates.ConversationTree{}, false, nil
	}
	tree, err := schema.Decode(data)
	if err != nil {
		return aggregates.ConversationTree{}, false, err
	}
	return tree, true, nil
}

// Delete drops the record
func (s *TreeStore) Delete(_ context.Context, sessionID valueobjects.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sessionID)
	return nil
}

// List returns stored ids in ascending order
func (s *TreeStore) List(_ context.Context) ([]valueobjects.SessionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]valueobjects.SessionID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Exists reports whether a record is stored
func (s *TreeStore) Exists(_ context.Context, sessionID valueobjects.SessionID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[sessionID]
	return ok, nil
}
