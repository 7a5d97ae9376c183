package schema

import (
	"fmt"
	"sort"
)

// RawRecord is a stored record decoded generically, before it is known to be
// at the current version
type RawRecord map[string]interface{}

// Migration upgrades a raw record by exactly one version
type Migration struct {
	FromVersion int
	ToVersion   int
	Description string
	Up          MigrationFunc
}

// MigrationFunc rewrites a raw record in place
type MigrationFunc func(record RawRecord) error

// SchemaEvolution holds the forward migrations between record versions
type SchemaEvolution struct {
	currentVersion int
	migrations     map[int]Migration
}

// NewSchemaEvolution creates a registry that upgrades records to currentVersion
func NewSchemaEvolution(currentVersion int) *SchemaEvolution {
	return &SchemaEvolution{
		currentVersion: currentVersion,
		migrations:     make(map[int]Migration),
	}
}

// RegisterMigration registers a new migration
func (s *SchemaEvolution) RegisterMigration(migration Migration) error {
	if migration.ToVersion != migration.FromVersion+1 {
		return fmt.Errorf("invalid migration %d->%d: migrations step one version at a time",
			migration.FromVersion, migration.ToVersion)
	}
	if migration.Up == nil {
		return fmt.Errorf("migration %d->%d has no Up function", migration.FromVersion, migration.ToVersion)
	}
	if _, exists := s.migrations[migration.FromVersion]; exists {
		return fmt.Errorf("migration from %d to %d already exists",
			migration.FromVersion, migration.ToVersion)
	}
	s.migrations[migration.FromVersion] = migration
	return nil
}

// Upgrade walks record forward to the current version and returns the
// version it started at
func (s *SchemaEvolution) Upgrade(record RawRecord) (int, error) {
	from, err := recordVersion(record)
	if err != nil {
		return 0, err
	}
	if from > s.currentVersion {
		return from, fmt.Errorf("record version %d is newer than supported version %d", from, s.currentVersion)
	}

	for v := from; v < s.currentVersion; v++ {
		migration, ok := s.migrations[v]
		if !ok {
			return from, fmt.Errorf("no migration found from version %d to %d", v, v+1)
		}
		if err := migration.Up(record); err != nil {
			return from, fmt.Errorf("migration %d->%d failed: %w", migration.FromVersion, migration.ToVersion, err)
		}
		record["schema_version"] = float64(migration.ToVersion)
	}
	return from, nil
}

// GetCurrentVersion returns the current schema version
func (s *SchemaEvolution) GetCurrentVersion() int {
	return s.currentVersion
}

// Descriptions lists the registered migrations in order
func (s *SchemaEvolution) Descriptions() []string {
	froms := make([]int, 0, len(s.migrations))
	for from := range s.migrations {
		froms = append(froms, from)
	}
	sort.Ints(froms)
	out := make([]string, len(froms))
	for i, from := range froms {
		m := s.migrations[from]
		out[i] = fmt.Sprintf("%d->%d: %s", m.FromVersion, m.ToVersion, m.Description)
	}
	return out
}

func recordVersion(record RawRecord) (int, error) {
	raw, ok := record["schema_version"]
	if !ok {
		// the first format carried no version field
		return 1, nil
	}
	v, ok := raw.(float64)
	if !ok || v < 1 || v != float64(int(v)) {
		return 0, fmt.Errorf("schema_version %v is not a positive integer", raw)
	}
	return int(v), nil
}

// DefaultEvolution returns the registry of every migration shipped so far
func DefaultEvolution() *SchemaEvolution {
	evolution := NewSchemaEvolution(CurrentVersion)
	_ = evolution.RegisterMigration(Migration{
		FromVersion: 1,
		ToVersion:   2,
		Description: "move visit and exhaustion fields into node metadata",
		Up:          nestNodeMetadata,
	})
	return evolution
}

// nestNodeMetadata lifts the version 1 flat node layout
// ({qa_pairs, visit_count, last_visited, exhausted} beside the topic) into the
// metadata object used since version 2
func nestNodeMetadata(record RawRecord) error {
	nodes, _ := record["nodes"].([]interface{})
	for i, raw := range nodes {
		node, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("node %d is not an object", i)
		}
		meta, _ := node["metadata"].(map[string]interface{})
		if meta == nil {
			meta = make(map[string]interface{})
		}
		move := map[string]string{
			"qa_pairs":     "qa_pairs",
			"visit_count":  "visit_count",
			"last_visited": "last_visited",
			"exhausted":    "is_exhausted",
		}
		for oldKey, newKey := range move {
			if v, ok := node[oldKey]; ok {
				meta[newKey] = v
				delete(node, oldKey)
			}
		}
		if _, ok := meta["qa_pairs"]; !ok {
			meta["qa_pairs"] = []interface{}{}
		}
		node["metadata"] = meta
	}
	return nil
}
