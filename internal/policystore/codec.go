// Package policystore persists bandit snapshots. File keeps one JSON document
// on a hackpadfs filesystem; SQLite keeps every saved version and marks the
// active one.
package policystore

import (
	"encoding/json"
	"fmt"

	"github.com/mohammad-safakhou/spinloop/internal/bandit"
)

func encode(snap bandit.Snapshot) ([]byte, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

func decode(b []byte) (*bandit.Snapshot, error) {
	var snap bandit.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// New opens the backend named by kind ("file" or "sqlite") at path. keep
// bounds the SQLite version history; <= 0 means DefaultKeep.
func New(kind, path string, keep int) (bandit.PolicyStore, error) {
	switch kind {
	case "", "file":
		return NewOSFile(path)
	case "sqlite":
		if keep <= 0 {
			keep = DefaultKeep
		}
		return NewSQLite(path, keep)
	default:
		return nil, fmt.Errorf("unknown policy backend %q", kind)
	}
}
