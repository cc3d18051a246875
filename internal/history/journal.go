// Package history persists relay press decisions to a local SQLite
// database for later inspection.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// writeQueueSize bounds the buffered channel feeding the writer
// goroutine. Presses arrive at human speed; this mostly absorbs the
// burst of a slow disk.
const writeQueueSize = 256

type pressRecord struct {
	ts     time.Time
	keys   string
	script string
	action string
}

// Entry is one journaled press decision.
type Entry struct {
	ID        int64
	Timestamp time.Time
	Keys      string
	Script    string
	Action    string
}

// Journal records press decisions through a single writer goroutine so
// the request path never blocks on the database. Under backpressure
// records are dropped and counted rather than queued unboundedly.
type Journal struct {
	db      *sql.DB
	queue   chan pressRecord
	done    chan struct{}
	dropped atomic.Uint64
}

// Open creates (or reopens) the journal database at path and starts the
// writer goroutine.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal database %s: %w", path, err)
	}

	j := &Journal{
		db:    db,
		queue: make(chan pressRecord, writeQueueSize),
		done:  make(chan struct{}),
	}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	go j.writer()
	return j, nil
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS presses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		keys TEXT NOT NULL,
		script TEXT,
		action TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_presses_timestamp ON presses(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_presses_keys ON presses(keys);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize journal schema: %w", err)
	}
	return nil
}

// Record queues one press decision. Never blocks: if the writer has
// fallen behind, the record is dropped and counted.
func (j *Journal) Record(ts time.Time, keys, script, action string) {
	select {
	case j.queue <- pressRecord{ts: ts, keys: keys, script: script, action: action}:
	default:
		j.dropped.Add(1)
	}
}

// Dropped reports how many records were discarded under backpressure.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

func (j *Journal) writer() {
	defer close(j.done)
	for rec := range j.queue {
		_, err := j.db.Exec(
			`INSERT INTO presses (timestamp, keys, script, action) VALUES (?, ?, ?, ?)`,
			rec.ts.UTC(), rec.keys, rec.script, rec.action,
		)
		if err != nil {
			slog.Warn("[history] failed to record press", "keys", rec.keys, "error", err)
		}
	}
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	rows, err := j.db.Query(
		`SELECT id, timestamp, keys, COALESCE(script, ''), action
		 FROM presses ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Keys, &e.Script, &e.Action); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close drains queued records, stops the writer, and closes the
// database. If records were dropped during the journal's lifetime the
// total is logged once here.
func (j *Journal) Close() error {
	close(j.queue)
	<-j.done
	if n := j.dropped.Load(); n > 0 {
		slog.Warn("[history] records dropped under backpressure", "count", n)
	}
	return j.db.Close()
}
