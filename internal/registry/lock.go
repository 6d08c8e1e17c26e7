package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// fileLock is an advisory flock held for the duration of one
// read-modify-write cycle. It serializes concurrent invocations of the
// tool against the shared registry file; without it two concurrent
// setups could both pass the port collision check before either
// registers.
type fileLock struct {
	f *os.File
}

func (s *Store) acquireLock() (*fileLock, error) {
	lockPath := s.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to lock registry: %w", err)
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) release() {
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	l.f.Close()
}
