package db

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestLogAndQueryEvents(t *testing.T) {
	database := openTestDB(t)

	if err := database.LogEvent(EventSetup, 9000, "ssh.example.com", "deploy", 4242, "9000:localhost:1632"); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}
	if err := database.LogEvent(EventKill, 9000, "ssh.example.com", "deploy", 4242, "terminated 1 process(es)"); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	events, err := database.RecentEvents(10)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	// Newest first
	if events[0].EventType != EventKill {
		t.Errorf("expected newest event first, got %q", events[0].EventType)
	}

	e := events[1]
	if e.EventType != EventSetup || e.BindPort != 9000 || e.RemoteHost != "ssh.example.com" ||
		e.RemoteUser != "deploy" || e.PID != 4242 {
		t.Errorf("setup event did not round-trip: %+v", e)
	}
	if e.Timestamp.IsZero() {
		t.Error("event timestamp not recorded")
	}
}

func TestRecentEventsRespectsLimit(t *testing.T) {
	database := openTestDB(t)

	for port := 9000; port < 9005; port++ {
		if err := database.LogEvent(EventPruned, port, "", "", 0, "process no longer running"); err != nil {
			t.Fatal(err)
		}
	}

	events, err := database.RecentEvents(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Errorf("expected 3 events, got %d", len(events))
	}
	if events[0].BindPort != 9004 {
		t.Errorf("expected newest event (port 9004) first, got %d", events[0].BindPort)
	}
}

func TestOpenCreatesMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "history.db")
	database, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed to create parent directories: %v", err)
	}
	database.Close()
}
