// Package sqlite stores conversation trees in SQLite through the ncruces
// database/sql driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"topicgrader/application/ports"
	"topicgrader/domain/core/aggregates"
	"topicgrader/domain/core/valueobjects"
	"topicgrader/infrastructure/persistence/schema"
	pkgerrors "topicgrader/pkg/errors"
)

const ddl = `
CREATE TABLE IF NOT EXISTS trees (
    session_id TEXT PRIMARY KEY,
    version INTEGER NOT NULL,
    schema_version INTEGER NOT NULL,
    node_count INTEGER NOT NULL,
    saved_at INTEGER NOT NULL,
    payload BLOB NOT NULL
);
`

// TreeStore keeps one row per session
type TreeStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

var _ ports.TreeStore = (*TreeStore)(nil)

// Open opens the database at dsn and creates the schema.
// Use ":memory:" for a private in-memory database.
func Open(dsn string, logger *zap.Logger) (*TreeStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps an in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &TreeStore{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the database connection
func (s *TreeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save upserts the session's row
func (s *TreeStore) Save(ctx context.Context, sessionID valueobjects.SessionID, tree aggregates.ConversationTree) error {
	savedAt := s.now()
	payload, err := schema.Encode(tree, savedAt)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trees (session_id, version, schema_version, node_count, saved_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			version = excluded.version,
			schema_version = excluded.schema_version,
			node_count = excluded.node_count,
			saved_at = excluded.saved_at,
			payload = excluded.payload`,
		sessionID.String(), tree.Version, schema.CurrentVersion, tree.Size(), savedAt.UnixMilli(), payload)
	if err != nil {
		return pkgerrors.NewPersistenceError("save", err)
	}
	s.logger.Debug("Tree saved", zap.String("sessionID", sessionID.String()), zap.Int("version", tree.Version))
	return nil
}

// Load reads and decodes the session's row
func (s *TreeStore) Load(ctx context.Context, sessionID valueobjects.SessionID) (aggregates.ConversationTree, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM trees WHERE session_id = ?`, sessionID.String()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
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

// Delete removes the session's row
func (s *TreeStore) Delete(ctx context.Context, sessionID valueobjects.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trees WHERE session_id = ?`, sessionID.String()); err != nil {
		return pkgerrors.NewPersistenceError("delete", err)
	}
	return nil
}

// List returns stored session ids in ascending order
func (s *TreeStore) List(ctx context.Context) ([]valueobjects.SessionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM trees ORDER BY session_id`)
	if err != nil {
		return nil, pkgerrors.NewPersistenceError("list", err)
	}
	defer rows.Close()

	var ids []valueobjects.SessionID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, pkgerrors.NewPersistenceError("list", err)
		}
		ids = append(ids, valueobjects.SessionID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewPersistenceError("list", err)
	}
	return ids, nil
}

// Exists reports whether a row is stored for the session
func (s *TreeStore) Exists(ctx context.Context, sessionID valueobjects.SessionID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM trees WHERE session_id = ?`, sessionID.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, pkgerrors.NewPersistenceError("exists", err)
	}
	return true, nil
}

// Summary is the row metadata shown by session listings
type Summary struct {
	SessionID valueobjects.SessionID
	Version   int
	NodeCount int
	SavedAt   time.Time
}

// Summaries lists stored sessions without decoding their payloads
func (s *TreeStore) Summaries(ctx context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT session_id, version, node_count, saved_at FROM trees ORDER BY session_id`)
	if err != nil {
		return nil, pkgerrors.NewPersistenceError("list", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			id      string
			savedAt int64
		)
		if err := rows.Scan(&id, &sum.Version, &sum.NodeCount, &savedAt); err != nil {
			return nil, pkgerrors.NewPersistenceError("list", err)
		}
		sum.SessionID = valueobjects.SessionID(id)
		sum.SavedAt = time.UnixMilli(savedAt).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}
