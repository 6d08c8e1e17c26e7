package cmd

import (
	"log/slog"

	"go.olrik.dev/tether/internal/core"
	"go.olrik.dev/tether/internal/db"
	"go.olrik.dev/tether/internal/probe"
	"go.olrik.dev/tether/internal/tunnel"
)

// newOrchestrator wires an orchestrator from the current configuration.
// The returned cleanup closes the history database; call it when done.
func newOrchestrator() (*tunnel.Orchestrator, func()) {
	prober := probe.System{}
	store := tunnel.NewStore(core.GetRegistryPath(), prober)
	keys := tunnel.NewKeyPair(core.GetKeyPath())

	// History is best-effort: an unavailable database never blocks a
	// tunnel operation
	history, err := db.Open(core.GetHistoryPath())
	if err != nil {
		slog.Debug("History database unavailable", "error", err)
		history = nil
	}

	cleanup := func() {
		if history != nil {
			history.Close()
		}
	}

	return tunnel.NewOrchestrator(store, prober, tunnel.ExecRunner{}, keys, history), cleanup
}
