package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/devzendo/qdx-receiver/pkg/logging"
)

// Event kinds recorded in the session log.
const (
	EventTune       = "TUNE"
	EventBandSelect = "BAND"
	EventCatError   = "CAT_ERROR"
	EventAudioError = "AUDIO_ERROR"
	EventSession    = "SESSION"
)

// Event is one row of the session event log: a tune, a band change, or a
// fault the operator may want to review after the fact.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	Frequency int64     `json:"frequency"`
}

// EventLog is the SQLite-backed session history. Settings are not persisted
// here; the log is operational history only.
type EventLog struct {
	db        *sql.DB
	dbPath    string
	maxEvents int
}

// NewEventLog opens (or creates) the event database. maxEvents bounds the
// table size; oldest rows are pruned past it. maxEvents <= 0 means no limit.
func NewEventLog(dbPath string, maxEvents int) (*EventLog, error) {
	el := &EventLog{
		dbPath:    dbPath,
		maxEvents: maxEvents,
	}

	if err := el.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize event log: %w", err)
	}

	return el, nil
}

// initialize sets up the database connection and creates the schema
func (el *EventLog) initialize() error {
	if el.dbPath == "" {
		el.dbPath = "./qdxd.db"
	}

	if err := os.MkdirAll(filepath.Dir(el.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	connectionString := el.dbPath + "?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on"

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	el.db = db

	if err := el.createSchema(); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	logging.Infof("storage", "Event log initialized: %s (max %d events)", el.dbPath, el.maxEvents)
	return nil
}

func (el *EventLog) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		kind TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		frequency INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`

	_, err := el.db.Exec(schema)
	return err
}

// LogEvent appends an event and prunes the table if it grew past the limit.
func (el *EventLog) LogEvent(kind, detail string, frequency int64) error {
	tx, err := el.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO events (timestamp, kind, detail, frequency) VALUES (?, ?, ?, ?)",
		time.Now().UTC(), kind, detail, frequency,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if err := el.pruneOldEvents(tx); err != nil {
		logging.Warnf("storage", "Failed to prune old events: %v", err)
	}

	return tx.Commit()
}

// RecentEvents returns the newest events, most recent first.
func (el *EventLog) RecentEvents(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := el.db.Query(
		"SELECT id, timestamp, kind, detail, frequency FROM events ORDER BY timestamp DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// EventsByKind returns the newest events of one kind, most recent first.
func (el *EventLog) EventsByKind(kind string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := el.db.Query(
		"SELECT id, timestamp, kind, detail, frequency FROM events WHERE kind = ? ORDER BY timestamp DESC, id DESC LIMIT ?",
		kind, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Kind, &ev.Detail, &ev.Frequency); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountEvents returns the total number of stored events.
func (el *EventLog) CountEvents() (int, error) {
	var count int
	err := el.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count)
	return count, err
}

// PruneOldEvents removes events beyond the maximum limit (exported for
// manual cleanup).
func (el *EventLog) PruneOldEvents() error {
	tx, err := el.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := el.pruneOldEvents(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func (el *EventLog) pruneOldEvents(tx *sql.Tx) error {
	if el.maxEvents <= 0 {
		return nil
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return err
	}

	if count <= el.maxEvents {
		return nil
	}

	query := `
		DELETE FROM events
		WHERE id IN (
			SELECT id FROM events
			ORDER BY timestamp ASC, id ASC
			LIMIT ?
		)
	`
	_, err := tx.Exec(query, count-el.maxEvents)
	return err
}

// Close closes the database connection
func (el *EventLog) Close() error {
	if el.db != nil {
		return el.db.Close()
	}
	return nil
}
