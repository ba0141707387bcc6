// Package history keeps a local audit log of past requests in a sqlite
// database under the mq home directory. Recording is best effort: a failure
// to log never fails the user's command.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at TEXT NOT NULL,
    source TEXT NOT NULL,
    shortname TEXT,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    session_id TEXT,
    prompt TEXT NOT NULL,
    response TEXT,
    error TEXT
);
`

// Entry is one logged request.
type Entry struct {
	ID        int64
	CreatedAt string
	Source    string // ask|continue|batch|test
	Shortname string
	Provider  string
	Model     string
	SessionID string
	Prompt    string
	Response  string
	Error     string
}

// Log is an open history database.
type Log struct {
	db *sql.DB
}

// Enabled reports whether history recording is on. MQ_HISTORY=0 turns it off.
func Enabled() bool {
	return os.Getenv("MQ_HISTORY") != "0"
}

// Open creates or opens <home>/history.db and ensures the schema.
func Open(home string) (*Log, error) {
	path := filepath.Join(home, "history.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history db: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record inserts one entry. CreatedAt is filled in when empty.
func (l *Log) Record(e Entry) error {
	if e.CreatedAt == "" {
		e.CreatedAt = time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
	}
	_, err := l.db.Exec(
		`INSERT INTO requests (created_at, source, shortname, provider, model, session_id, prompt, response, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CreatedAt, e.Source, e.Shortname, e.Provider, e.Model, e.SessionID, e.Prompt, e.Response, e.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record history entry: %w", err)
	}
	return nil
}

// Recent returns up to n entries, most recent first.
func (l *Log) Recent(n int) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := l.db.Query(
		`SELECT id, created_at, source, shortname, provider, model, session_id, prompt, response, error
		 FROM requests ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var shortname, sessionID, response, errText sql.NullString
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.Source, &shortname, &e.Provider, &e.Model, &sessionID, &e.Prompt, &response, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Shortname = shortname.String
		e.SessionID = sessionID.String
		e.Response = response.String
		e.Error = errText.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordBestEffort logs e when history is enabled, warning instead of
// failing on any error.
func RecordBestEffort(home string, e Entry) {
	if !Enabled() {
		return
	}
	l, err := Open(home)
	if err != nil {
		log.Warn().Err(err).Msg("history unavailable")
		return
	}
	defer l.Close()
	if err := l.Record(e); err != nil {
		log.Warn().Err(err).Msg("failed to record history entry")
	}
}
