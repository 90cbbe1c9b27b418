// Package journal keeps a per-workspace sqlite record of every
// enforcement decision: routes, activations, hook verdicts, and
// middleware outcomes. The journal is an audit surface, not a control
// surface — writes that fail are logged and swallowed so a broken
// database never blocks a tool call.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"skillgate/internal/logging"
)

// Decision kinds recorded in the journal.
const (
	KindRoute         = "route"
	KindActivate      = "activate"
	KindPreToolUse    = "pre_tool_use"
	KindStop          = "stop"
	KindClear         = "clear"
	KindResponseCheck = "response_check"
)

// Entry is one journaled decision.
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	RequestID string    `json:"request_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Intents   []string  `json:"intents,omitempty"`
	Verdict   string    `json:"verdict"`
	Reason    string    `json:"reason,omitempty"`
}

// Journal is the sqlite-backed decision log for one workspace.
type Journal struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

const decisionsTable = `
CREATE TABLE IF NOT EXISTS decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	kind TEXT NOT NULL,
	request_id TEXT DEFAULT '',
	session_id TEXT DEFAULT '',
	tool TEXT DEFAULT '',
	intents TEXT DEFAULT '[]',
	verdict TEXT NOT NULL,
	reason TEXT DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts);
CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id);
`

// Open initializes the journal database under the workspace dotdir.
func Open(workspace string) (*Journal, error) {
	path := filepath.Join(workspace, ".skillgate", "journal.db")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("journal: create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.JournalWarn("set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.JournalWarn("set journal_mode=WAL: %v", err)
	}

	if _, err := db.Exec(decisionsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}

	logging.Journal("journal open at %s", path)
	return &Journal{db: db, dbPath: path}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record inserts one decision. Errors are logged and swallowed: the
// journal must never fail the operation it records. Safe on a nil
// receiver so callers can run without a journal.
func (j *Journal) Record(e Entry) {
	if j == nil || j.db == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	intents, err := json.Marshal(e.Intents)
	if err != nil {
		intents = []byte("[]")
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.db.Exec(
		`INSERT INTO decisions (ts, kind, request_id, session_id, tool, intents, verdict, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UnixMilli(), e.Kind, e.RequestID, e.SessionID, e.Tool, string(intents), e.Verdict, e.Reason,
	)
	if err != nil {
		logging.JournalWarn("record %s decision: %v", e.Kind, err)
	}
}

// Recent returns the newest n entries, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal: not open")
	}
	if n <= 0 {
		n = 20
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.Query(
		`SELECT id, ts, kind, request_id, session_id, tool, intents, verdict, reason
		 FROM decisions ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("journal: query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var intents string
		if err := rows.Scan(&e.ID, &ts, &e.Kind, &e.RequestID, &e.SessionID, &e.Tool, &intents, &e.Verdict, &e.Reason); err != nil {
			return nil, fmt.Errorf("journal: scan row: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		if intents != "" && intents != "[]" {
			if err := json.Unmarshal([]byte(intents), &e.Intents); err != nil {
				logging.JournalWarn("decode intents of entry %d: %v", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// BySession returns every entry for one session, oldest first.
func (j *Journal) BySession(sessionID string) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal: not open")
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.Query(
		`SELECT id, ts, kind, request_id, session_id, tool, intents, verdict, reason
		 FROM decisions WHERE session_id = ? ORDER BY ts ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("journal: query session: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var intents string
		if err := rows.Scan(&e.ID, &ts, &e.Kind, &e.RequestID, &e.SessionID, &e.Tool, &intents, &e.Verdict, &e.Reason); err != nil {
			return nil, fmt.Errorf("journal: scan row: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		if intents != "" && intents != "[]" {
			if err := json.Unmarshal([]byte(intents), &e.Intents); err != nil {
				logging.JournalWarn("decode intents of entry %d: %v", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Format renders an entry for the history command.
func (e Entry) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-14s %-7s", e.Timestamp.Format("2006-01-02 15:04:05"), e.Kind, e.Verdict)
	if e.Tool != "" {
		fmt.Fprintf(&b, "  tool=%s", e.Tool)
	}
	if len(e.Intents) > 0 {
		fmt.Fprintf(&b, "  intents=%s", strings.Join(e.Intents, ","))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, "  %s", e.Reason)
	}
	return b.String()
}
