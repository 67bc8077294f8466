package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"rcagent/internal/tuf"
)

// Schema for the apply-history journal. Append-only: the journal is an
// audit trail for operators and is never read back into client state.
const historySchema = `
CREATE TABLE IF NOT EXISTS apply_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    recorded_at INTEGER NOT NULL,
    action      TEXT NOT NULL,
    path        TEXT NOT NULL,
    product     TEXT NOT NULL,
    config_id   TEXT NOT NULL,
    version     INTEGER NOT NULL,
    apply_state INTEGER NOT NULL,
    apply_error TEXT
);

CREATE INDEX IF NOT EXISTS idx_history_recorded ON apply_history(recorded_at);
CREATE INDEX IF NOT EXISTS idx_history_path ON apply_history(path, recorded_at);
`

// History is the SQLite-backed apply-history journal.
type History struct {
	db *sql.DB
}

var _ Recorder = (*History)(nil)

// OpenHistory opens or creates the journal database at the given path.
func OpenHistory(path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &History{db: db}, nil
}

// Close closes the journal database.
func (h *History) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

// Record appends one cycle's apply/remove outcomes in a single transaction.
func (h *History) Record(recs []ApplyRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO apply_history (recorded_at, action, path, product, config_id, version, apply_state, apply_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.Exec(r.Time.UnixNano(), r.Action, r.Path, r.Product, r.ConfigID, r.Version, int(r.ApplyState), r.ApplyError); err != nil {
			return fmt.Errorf("insert history record: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit journal entries, newest first.
func (h *History) Recent(limit int) ([]ApplyRecord, error) {
	rows, err := h.db.Query(`
		SELECT recorded_at, action, path, product, config_id, version, apply_state, apply_error
		FROM apply_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var recs []ApplyRecord
	for rows.Next() {
		var r ApplyRecord
		var ns int64
		var state int
		if err := rows.Scan(&ns, &r.Action, &r.Path, &r.Product, &r.ConfigID, &r.Version, &state, &r.ApplyError); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		r.Time = time.Unix(0, ns).UTC()
		r.ApplyState = tuf.ApplyState(state)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
