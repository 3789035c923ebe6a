package policystore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mohammad-safakhou/spinloop/internal/bandit"
)

// DefaultKeep is how many snapshot versions SQLite retains.
const DefaultKeep = 20

const schema = `
CREATE TABLE IF NOT EXISTS policy_snapshots (
	version_id  TEXT PRIMARY KEY,
	seq         INTEGER NOT NULL,
	history_len INTEGER NOT NULL,
	vocab_len   INTEGER NOT NULL,
	body        TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS policy_snapshots_seq ON policy_snapshots (seq);

CREATE TABLE IF NOT EXISTS active_policy (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	version_id  TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES policy_snapshots(version_id)
);
`

// SQLite keeps versioned snapshots. Each Save inserts a version and points
// active_policy at it in one transaction; older versions beyond keep are
// pruned.
type SQLite struct {
	db   *sql.DB
	keep int
}

// Version describes one stored snapshot.
type Version struct {
	ID         string
	HistoryLen int
	VocabLen   int
	CreatedAt  time.Time
	Active     bool
}

// NewSQLite opens (or creates) the database at dsn. keep <= 0 retains
// every version.
func NewSQLite(dsn string, keep int) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db, keep: keep}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Save(snap bandit.Snapshot) error {
	body, err := encode(snap)
	if err != nil {
		return err
	}
	id := uuid.New().String()
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM policy_snapshots`).Scan(&seq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO policy_snapshots (version_id, seq, history_len, vocab_len, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, seq, len(snap.History), len(snap.Encoder.Terms), string(body), now.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO active_policy (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`, id,
	); err != nil {
		return fmt.Errorf("activate snapshot: %w", err)
	}
	if s.keep > 0 {
		if _, err := tx.Exec(`DELETE FROM policy_snapshots WHERE seq <= ?`, seq-int64(s.keep)); err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLite) Load() (*bandit.Snapshot, error) {
	var body string
	err := s.db.QueryRow(
		`SELECT p.body FROM active_policy a
		 JOIN policy_snapshots p ON p.version_id = a.version_id
		 WHERE a.id = 1`,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bandit.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load active snapshot: %w", err)
	}
	return decode([]byte(body))
}

// Versions lists stored snapshots, newest first.
func (s *SQLite) Versions() ([]Version, error) {
	rows, err := s.db.Query(
		`SELECT p.version_id, p.history_len, p.vocab_len, p.created_at,
		        COALESCE(a.id, 0)
		 FROM policy_snapshots p
		 LEFT JOIN active_policy a ON a.version_id = p.version_id
		 ORDER BY p.seq DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		var (
			v       Version
			created string
			active  int
		)
		if err := rows.Scan(&v.ID, &v.HistoryLen, &v.VocabLen, &created, &active); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		v.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		v.Active = active == 1
		out = append(out, v)
	}
	return out, rows.Err()
}

// Activate points the store at an earlier version, so the next Load
// restores it.
func (s *SQLite) Activate(versionID string) error {
	res, err := s.db.Exec(`UPDATE active_policy SET version_id = ? WHERE id = 1
		AND EXISTS (SELECT 1 FROM policy_snapshots WHERE version_id = ?)`, versionID, versionID)
	if err != nil {
		return fmt.Errorf("activate %s: %w", versionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("activate %s: version not found", versionID)
	}
	return nil
}
