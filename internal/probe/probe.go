// Package probe answers liveness questions about tunnel processes and
// terminates them. A tunnel process is identified by a Signature: the
// PID captured at launch (when one was captured) plus a command line
// pattern that can re-discover the process when the PID is stale.
package probe

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const defaultGraceTimeout = 5 * time.Second

// Signature identifies a tunnel process. A zero PID means "unknown,
// discover by pattern"; an empty pattern means "trust the PID".
type Signature struct {
	PID     int32
	Pattern string
}

// TerminateResult reports the outcome of a Terminate call. Matching
// zero processes is not an error; individual failures are collected in
// Errs without aborting termination of the remaining matches.
type TerminateResult struct {
	Killed []int32
	Errs   []error
}

// System probes real OS processes.
type System struct {
	// GraceTimeout is how long to wait after SIGTERM before escalating
	// to SIGKILL. Zero means the default of 5s.
	GraceTimeout time.Duration
}

// IsAlive reports whether at least one process matching the signature
// currently exists. A stored PID is only trusted when that process's
// command line still matches the pattern, which guards against PID
// reuse across reboots; otherwise the pattern is re-discovered.
func (s System) IsAlive(sig Signature) bool {
	if sig.PID > 0 {
		if p, err := process.NewProcess(sig.PID); err == nil {
			if sig.Pattern == "" {
				return true
			}
			if cmdline, err := p.Cmdline(); err == nil && matchesPattern(cmdline, sig.Pattern) {
				return true
			}
			// PID exists but no longer runs our tunnel, fall through to re-discovery
		}
	}

	if sig.Pattern == "" {
		return false
	}
	return len(s.FindAll(sig.Pattern)) > 0
}

// FindAll returns the PIDs of every ssh process whose command line
// contains the given pattern.
func (s System) FindAll(pattern string) []int32 {
	procs, err := process.Processes()
	if err != nil {
		slog.Debug("Failed to list processes", "error", err)
		return nil
	}

	self := int32(os.Getpid())

	var pids []int32
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			// Process exited mid-scan or is inaccessible
			continue
		}
		if matchesPattern(cmdline, pattern) {
			pids = append(pids, p.Pid)
		}
	}
	return pids
}

// Terminate gracefully terminates every process matching the
// signature. Processes that vanish between discovery and signaling are
// skipped, not reported as failures.
func (s System) Terminate(sig Signature) TerminateResult {
	var candidates []int32
	if sig.Pattern != "" {
		candidates = s.FindAll(sig.Pattern)
	}
	if sig.PID > 0 && s.IsAlive(Signature{PID: sig.PID, Pattern: sig.Pattern}) {
		candidates = append(candidates, sig.PID)
	}

	var result TerminateResult
	seen := make(map[int32]bool)
	for _, pid := range candidates {
		if seen[pid] {
			continue
		}
		seen[pid] = true

		p, err := process.NewProcess(pid)
		if err != nil {
			// Gone between discovery and signal
			continue
		}
		if err := gracefulTerminate(p, s.graceTimeout()); err != nil {
			result.Errs = append(result.Errs, fmt.Errorf("pid %d: %w", pid, err))
			continue
		}
		result.Killed = append(result.Killed, pid)
	}
	return result
}

func (s System) graceTimeout() time.Duration {
	if s.GraceTimeout > 0 {
		return s.GraceTimeout
	}
	return defaultGraceTimeout
}

// matchesPattern reports whether a command line belongs to an ssh
// process whose arguments contain the pattern. Requiring "ssh" in the
// command line keeps unrelated processes that merely mention a port
// number out of the match set.
func matchesPattern(cmdline, pattern string) bool {
	if !strings.Contains(cmdline, "ssh") {
		return false
	}
	return strings.Contains(cmdline, pattern)
}

// gracefulTerminate sends SIGTERM first, waits for a graceful exit,
// then falls back to SIGKILL. Polls with liveness checks instead of
// Wait() because the tunnel processes are not our children.
func gracefulTerminate(p *process.Process, timeout time.Duration) error {
	if err := p.Terminate(); err != nil {
		if processGone(err) {
			return nil
		}
		slog.Warn(fmt.Sprintf("Failed to send SIGTERM to pid %d, forcing kill", p.Pid), "error", err)
		return p.Kill()
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		running, err := p.IsRunning()
		if err != nil || !running {
			slog.Debug("Process terminated gracefully", "pid", p.Pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	slog.Warn(fmt.Sprintf("Process %d did not exit within %v, forcing kill", p.Pid, timeout))
	if err := p.Kill(); err != nil && !processGone(err) {
		return err
	}
	return nil
}

func processGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH)
}
