package cmd

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.olrik.dev/tether/internal/registry"
)

func TestRenderTunnelsTextEmpty(t *testing.T) {
	out, err := renderTunnels(registry.Registry{}, "text")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No active tunnels") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestRenderTunnelsTextSortedByPort(t *testing.T) {
	reg := registry.Registry{
		9001: {RemoteHost: "b.example.com", RemoteUser: "bob", PID: 222},
		9000: {RemoteHost: "a.example.com", RemoteUser: "alice", PID: 111, CreatedAt: time.Now().Add(-time.Minute)},
	}

	out, err := renderTunnels(reg, "text")
	if err != nil {
		t.Fatal(err)
	}

	first := strings.Index(out, "9000 -> alice@a.example.com")
	second := strings.Index(out, "9001 -> bob@b.example.com")
	if first < 0 || second < 0 {
		t.Fatalf("tunnels missing from output:\n%s", out)
	}
	if first > second {
		t.Errorf("tunnels not sorted by bind port:\n%s", out)
	}
	if !strings.Contains(out, "PID: 111") {
		t.Errorf("PID missing from output:\n%s", out)
	}
}

func TestRenderTunnelsJSON(t *testing.T) {
	reg := registry.Registry{
		9000: {RemoteHost: "a.example.com", RemoteUser: "alice"},
	}

	out, err := renderTunnels(reg, "json")
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]registry.Record
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}
	if decoded["9000"].RemoteHost != "a.example.com" {
		t.Errorf("unexpected decoded output: %+v", decoded)
	}
}

func TestRenderTunnelsUnknownFormat(t *testing.T) {
	if _, err := renderTunnels(registry.Registry{}, "yaml"); err == nil {
		t.Error("expected an error for unknown format")
	}
}
