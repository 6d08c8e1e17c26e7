// Package registry persists the mapping of remote bind ports to active
// reverse tunnels. The registry file is the only state shared between
// independent invocations of the tool, so every mutation is a
// read-modify-write under an advisory file lock, and every write is an
// atomic replace (temp file + rename).
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Record is one registered reverse tunnel, keyed in the registry by its
// remote bind port.
type Record struct {
	RemoteHost string    `json:"remote_host"`
	RemoteUser string    `json:"remote_user"`
	PID        int32     `json:"pid,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// Registry maps bind ports to tunnel records.
type Registry map[int]Record

// AliveFunc reports whether the process behind a record is still live.
type AliveFunc func(bindPort int, rec Record) bool

// Store reads and writes the registry file.
type Store struct {
	path  string
	alive AliveFunc
}

// NewStore returns a store backed by the file at path. The alive
// function is consulted by Reconcile; a nil alive function disables
// pruning.
func NewStore(path string, alive AliveFunc) *Store {
	return &Store{path: path, alive: alive}
}

// Load returns the persisted registry. A missing or corrupt file is
// replaced with a valid empty registry rather than failing the caller.
func (s *Store) Load() (Registry, error) {
	lock, err := s.acquireLock()
	if err != nil {
		return nil, err
	}
	defer lock.release()

	return s.load()
}

// Save atomically persists the full registry, replacing prior content.
func (s *Store) Save(reg Registry) error {
	lock, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer lock.release()

	return s.save(reg)
}

// Reconcile loads the registry and drops every record whose process is
// no longer alive. If anything was pruned, the pruned registry is
// persisted before returning. The returned slice lists the pruned bind
// ports. This is the source of truth for "what tunnels are active".
func (s *Store) Reconcile() (Registry, []int, error) {
	lock, err := s.acquireLock()
	if err != nil {
		return nil, nil, err
	}
	defer lock.release()

	reg, err := s.load()
	if err != nil {
		return nil, nil, err
	}

	var pruned []int
	for port, rec := range reg {
		if s.alive != nil && !s.alive(port, rec) {
			slog.Debug("Pruning stale registry entry", "bind_port", port, "pid", rec.PID)
			delete(reg, port)
			pruned = append(pruned, port)
		}
	}
	sort.Ints(pruned)

	if len(pruned) > 0 {
		if err := s.save(reg); err != nil {
			return nil, nil, err
		}
	}
	return reg, pruned, nil
}

// Upsert inserts or overwrites the record for bindPort.
func (s *Store) Upsert(bindPort int, rec Record) error {
	lock, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer lock.release()

	reg, err := s.load()
	if err != nil {
		return err
	}
	reg[bindPort] = rec
	return s.save(reg)
}

// Remove deletes the record for bindPort if present. Removing an absent
// port is not an error.
func (s *Store) Remove(bindPort int) error {
	lock, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer lock.release()

	reg, err := s.load()
	if err != nil {
		return err
	}
	delete(reg, bindPort)
	return s.save(reg)
}

// load reads the registry file without taking the lock. Callers hold it.
func (s *Store) load() (Registry, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		reg := Registry{}
		if err := s.save(reg); err != nil {
			return nil, err
		}
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		slog.Warn("Registry file is corrupt, resetting to empty", "path", s.path, "error", err)
		reg = Registry{}
		if err := s.save(reg); err != nil {
			return nil, err
		}
		return reg, nil
	}
	if reg == nil {
		reg = Registry{}
	}
	return reg, nil
}

// save writes the registry atomically: temp file in the same directory,
// then rename over the old file. A crash mid-write never corrupts the
// existing registry.
func (s *Store) save(reg Registry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write registry temp file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath) // Clean up on error
		return fmt.Errorf("failed to replace registry file: %w", err)
	}
	return nil
}
