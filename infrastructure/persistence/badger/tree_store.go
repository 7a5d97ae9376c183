package badger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"topicgrader/application/ports"
	"topicgrader/domain/core/aggregates"
	"topicgrader/domain/core/valueobjects"
	"topicgrader/infrastructure/persistence/schema"
	pkgerrors "topicgrader/pkg/errors"
)

const treePrefix = "tree/"

// TreeStore keeps one encoded record per session under tree/<id>
type TreeStore struct {
	db     *DB
	logger *zap.Logger
	now    func() time.Time
}

var _ ports.TreeStore = (*TreeStore)(nil)

// NewTreeStore creates a store over an open database
func NewTreeStore(db *DB, logger *zap.Logger) *TreeStore {
	return &TreeStore{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func treeKey(sessionID valueobjects.SessionID) []byte {
	return []byte(treePrefix + sessionID.String())
}

// Save writes the record in a single transaction
func (s *TreeStore) Save(ctx context.Context, sessionID valueobjects.SessionID, tree aggregates.ConversationTree) error {
	if err := ctx.Err(); err != nil {
		return pkgerrors.NewPersistenceError("save", err)
	}
	payload, err := schema.Encode(tree, s.now())
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(treeKey(sessionID), payload)
	})
	if err != nil {
		return pkgerrors.NewPersistenceError("save", err)
	}
	s.logger.Debug("Tree saved", zap.String("sessionID", sessionID.String()), zap.Int("bytes", len(payload)))
	return nil
}

// Load reads and decodes the session's record
func (s *TreeStore) Load(ctx context.Context, sessionID valueobjects.SessionID) (aggregates.ConversationTree, bool, error) {
	if err := ctx.Err(); err != nil {
		return aggregates.ConversationTree{}, false, pkgerrors.NewPersistenceError("load", err)
	}
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(treeKey(sessionID))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return aggregates.ConversationTree{}, false, nil
	}
	if err != nil {
		return aggregates.ConversationTree{}, false, pkgerrors.NewPersistenceError("load", err)
	}

	tree, err := schema.Decode(payload)
	if err != nil {
		return aggregates.ConversationTree{}, false, err
	}
	return tree, true, nil
}

// Delete removes the record if present
func (s *TreeStore) Delete(ctx context.Context, sessionID valueobjects.SessionID) error {
	if err := ctx.Err(); err != nil {
		return pkgerrors.NewPersistenceError("delete", err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(treeKey(sessionID))
	})
	if err != nil {
		return pkgerrors.NewPersistenceError("delete", err)
	}
	return nil
}

// List walks the tree/ prefix; badger iterates keys in byte order
func (s *TreeStore) List(ctx context.Context) ([]valueobjects.SessionID, error) {
	var ids []valueobjects.SessionID
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(treePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := string(it.Item().Key())
			ids = append(ids, valueobjects.SessionID(strings.TrimPrefix(key, treePrefix)))
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.NewPersistenceError("list", err)
	}
	return ids, nil
}

// Exists checks for the key without reading the value
func (s *TreeStore) Exists(ctx context.Context, sessionID valueobjects.SessionID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, pkgerrors.NewPersistenceError("exists", err)
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(treeKey(sessionID))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, pkgerrors.NewPersistenceError("exists", err)
	}
	return true, nil
}
