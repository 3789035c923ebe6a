package bandit

import "time"

// SnapshotVersion is the current layout of Snapshot.
const SnapshotVersion = 1

// Snapshot is the durable form of an agent: encoder generation, one model
// per action and the full interaction history.
type Snapshot struct {
	Version int                   `json:"version"`
	SavedAt time.Time             `json:"saved_at"`
	Actions []Action              `json:"actions"`
	Encoder EncoderState          `json:"encoder"`
	Models  map[Action]ModelState `json:"models"`
	History []Interaction         `json:"history"`
}

// PolicyStore persists snapshots. Save replaces the previous snapshot as a
// whole; Load returns ErrNoSnapshot when nothing was saved yet.
type PolicyStore interface {
	Save(snap Snapshot) error
	Load() (*Snapshot, error)
}

func sameActions(a, b []Action) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
