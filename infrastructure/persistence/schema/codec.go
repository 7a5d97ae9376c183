package schema

import (
	"encoding/json"
	"time"

	"topicgrader/domain/core/aggregates"
	pkgerrors "topicgrader/pkg/errors"
)

var defaultEvolution = DefaultEvolution()

// Encode serializes a tree as a current-version JSON record
func Encode(tree aggregates.ConversationTree, savedAt time.Time) ([]byte, error) {
	record, err := FromTree(tree, savedAt)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, pkgerrors.NewPersistenceError("encode", err)
	}
	return data, nil
}

// Decode parses a stored record of any supported version. Records written at
// the current version must carry a matching checksum; upgraded records are
// re-stamped after migration.
func Decode(data []byte) (aggregates.ConversationTree, error) {
	record, err := DecodeRecord(data)
	if err != nil {
		return aggregates.ConversationTree{}, err
	}
	tree, err := record.ToTree()
	if err != nil {
		return aggregates.ConversationTree{}, pkgerrors.NewPersistenceError("decode", err)
	}
	return tree, nil
}

// DecodeRecord parses and upgrades a stored record without rebuilding the tree
func DecodeRecord(data []byte) (TreeRecord, error) {
	var raw RawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return TreeRecord{}, pkgerrors.NewPersistenceError("decode", err)
	}

	from, err := defaultEvolution.Upgrade(raw)
	if err != nil {
		return TreeRecord{}, pkgerrors.NewPersistenceError("decode", pkgerrors.ErrUnsupportedSchema).
			WithDetail("reason", err.Error())
	}

	upgraded, err := json.Marshal(raw)
	if err != nil {
		return TreeRecord{}, pkgerrors.NewPersistenceError("decode", err)
	}
	var record TreeRecord
	if err := json.Unmarshal(upgraded, &record); err != nil {
		return TreeRecord{}, pkgerrors.NewPersistenceError("decode", err)
	}

	if from == CurrentVersion {
		if err := record.VerifyChecksum(); err != nil {
			return TreeRecord{}, err
		}
		return record, nil
	}
	if record.Checksum, err = record.ComputeChecksum(); err != nil {
		return TreeRecord{}, err
	}
	return record, nil
}
