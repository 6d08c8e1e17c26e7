// Package db keeps a local history of tunnel lifecycle events in
// SQLite. The history is advisory: the registry file, not this
// database, is the source of truth for active tunnels.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Event types recorded in the history.
const (
	EventSetup  = "setup"
	EventKill   = "kill"
	EventPruned = "pruned"
)

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the SQLite database at the specified path.
func Open(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		// Checkpoint the WAL so all data lands in the main database file
		db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return db.conn.Close()
	}
	return nil
}

func (db *DB) initSchema() error {
	schema := `
	-- Tunnel lifecycle events
	CREATE TABLE IF NOT EXISTS tunnel_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		bind_port INTEGER NOT NULL,
		remote_host TEXT,
		remote_user TEXT,
		pid INTEGER,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_tunnel_events_timestamp ON tunnel_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_tunnel_events_bind_port ON tunnel_events(bind_port);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Event represents one recorded tunnel lifecycle event.
type Event struct {
	ID         int64
	EventType  string
	BindPort   int
	RemoteHost string
	RemoteUser string
	PID        int
	Details    string
	Timestamp  time.Time
}

// LogEvent records a tunnel lifecycle event.
func (db *DB) LogEvent(eventType string, bindPort int, remoteHost, remoteUser string, pid int, details string) error {
	_, err := db.conn.Exec(
		`INSERT INTO tunnel_events (event_type, bind_port, remote_host, remote_user, pid, details, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		eventType, bindPort, remoteHost, remoteUser, pid, details, time.Now(),
	)
	return err
}

// RecentEvents retrieves the most recent events, newest first.
func (db *DB) RecentEvents(limit int) ([]Event, error) {
	rows, err := db.conn.Query(
		`SELECT id, event_type, bind_port, remote_host, remote_user, pid, details, timestamp
		 FROM tunnel_events
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.EventType, &e.BindPort, &e.RemoteHost, &e.RemoteUser, &e.PID, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
