package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testStore(t *testing.T, alive AliveFunc) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reverse_ssh.json")
	return NewStore(path, alive), path
}

func TestLoadMissingFileSelfHeals(t *testing.T) {
	store, path := testStore(t, nil)

	reg, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(reg) != 0 {
		t.Errorf("expected empty registry, got %d entries", len(reg))
	}

	// A valid empty registry file must exist on disk afterwards
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("registry file not created: %v", err)
	}
	var onDisk map[string]Record
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Errorf("registry file is not valid JSON: %v", err)
	}
}

func TestLoadCorruptFileSelfHeals(t *testing.T) {
	store, path := testStore(t, nil)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	reg, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed on corrupt file: %v", err)
	}
	if len(reg) != 0 {
		t.Errorf("expected empty registry, got %d entries", len(reg))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk map[string]Record
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Errorf("registry file was not rewritten as valid JSON: %v", err)
	}
}

func TestUpsertKeepsBindPortUnique(t *testing.T) {
	store, _ := testStore(t, nil)

	first := Record{RemoteHost: "a.example.com", RemoteUser: "alice", PID: 100}
	second := Record{RemoteHost: "b.example.com", RemoteUser: "bob", PID: 200}

	if err := store.Upsert(9000, first); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(9000, second); err != nil {
		t.Fatal(err)
	}

	reg, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(reg) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(reg))
	}
	if reg[9000].RemoteHost != "b.example.com" {
		t.Errorf("expected overwrite, got %+v", reg[9000])
	}
}

func TestRemoveAbsentPortIsNoError(t *testing.T) {
	store, _ := testStore(t, nil)

	if err := store.Remove(12345); err != nil {
		t.Fatalf("Remove of absent port failed: %v", err)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	store, path := testStore(t, nil)

	if err := store.Save(Registry{8421: {RemoteHost: "h", RemoteUser: "u"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind after save")
	}
}

func TestPersistedShapeUsesStringPorts(t *testing.T) {
	store, path := testStore(t, nil)

	rec := Record{RemoteHost: "ssh.example.com", RemoteUser: "deploy", PID: 4242, CreatedAt: time.Now().UTC()}
	if err := store.Upsert(9000, rec); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"9000"`, `"remote_host"`, `"remote_user"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("registry file missing %s:\n%s", want, data)
		}
	}
}

func TestReconcilePrunesDeadEntries(t *testing.T) {
	dead := map[int]bool{9000: true}
	store, path := testStore(t, func(port int, rec Record) bool {
		return !dead[port]
	})

	store.Upsert(9000, Record{RemoteHost: "a", RemoteUser: "u", PID: 1})
	store.Upsert(9001, Record{RemoteHost: "b", RemoteUser: "u", PID: 2})

	reg, pruned, err := store.Reconcile()
	if err != nil {
		t.Fatal(err)
	}
	if len(pruned) != 1 || pruned[0] != 9000 {
		t.Errorf("expected pruned [9000], got %v", pruned)
	}
	if _, ok := reg[9000]; ok {
		t.Error("dead entry still present after reconcile")
	}
	if _, ok := reg[9001]; !ok {
		t.Error("live entry was pruned")
	}

	// The pruned mapping must be persisted
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"9000"`) {
		t.Error("pruned entry still on disk")
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	dead := map[int]bool{9000: true}
	store, path := testStore(t, func(port int, rec Record) bool {
		return !dead[port]
	})

	store.Upsert(9000, Record{RemoteHost: "a", RemoteUser: "u"})
	store.Upsert(9001, Record{RemoteHost: "b", RemoteUser: "u"})

	first, _, err := store.Reconcile()
	if err != nil {
		t.Fatal(err)
	}

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	second, pruned, err := store.Reconcile()
	if err != nil {
		t.Fatal(err)
	}
	if len(pruned) != 0 {
		t.Errorf("second reconcile pruned %v, expected nothing", pruned)
	}
	if len(first) != len(second) {
		t.Errorf("reconcile not idempotent: %v vs %v", first, second)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("second reconcile rewrote an unchanged registry")
	}
}
