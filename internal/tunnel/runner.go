package tunnel

import (
	"bytes"
	"errors"
	"os/exec"
	"strings"
)

// Result captures the outcome of one external command invocation.
type Result struct {
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner invokes external commands (ssh, ssh-keygen, systemctl). The
// orchestrator only ever talks to the outside world through this
// interface, so tests can substitute a fake without spawning processes.
type Runner interface {
	Run(name string, args ...string) Result
	LookPath(name string) (string, error)
}

// ExecRunner runs real commands via os/exec. Every invocation blocks
// until the command exits.
type ExecRunner struct{}

func (ExecRunner) Run(name string, args ...string) Result {
	cmd := exec.Command(name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// Command never started (not found, permissions)
			exitCode = -1
			if stderr.Len() == 0 {
				stderr.WriteString(err.Error())
			}
		}
	}

	return Result{
		Success:  err == nil,
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		ExitCode: exitCode,
	}
}

func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
