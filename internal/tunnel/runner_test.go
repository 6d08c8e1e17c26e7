package tunnel

import "testing"

func TestExecRunnerCapturesOutput(t *testing.T) {
	result := ExecRunner{}.Run("sh", "-c", "echo out; echo err >&2")
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Stdout != "out" {
		t.Errorf("stdout = %q", result.Stdout)
	}
	if result.Stderr != "err" {
		t.Errorf("stderr = %q", result.Stderr)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d", result.ExitCode)
	}
}

func TestExecRunnerNonZeroExit(t *testing.T) {
	result := ExecRunner{}.Run("sh", "-c", "echo broken >&2; exit 3")
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
	if result.Stderr != "broken" {
		t.Errorf("stderr = %q", result.Stderr)
	}
}

func TestExecRunnerCommandNotFound(t *testing.T) {
	result := ExecRunner{}.Run("definitely-not-a-real-command-xyz")
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Stderr == "" {
		t.Error("expected a diagnostic for a missing command")
	}
}
