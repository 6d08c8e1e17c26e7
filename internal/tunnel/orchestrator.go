// Package tunnel drives the reverse tunnel lifecycle: the ordered
// precondition sequence for setup (port free, server ready, key
// material valid, key authorized remotely, tunnel launched, record
// registered) and the list/kill operations against the registry.
package tunnel

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.olrik.dev/tether/internal/db"
	"go.olrik.dev/tether/internal/probe"
	"go.olrik.dev/tether/internal/registry"
)

// Params are the connection parameters for one reverse tunnel.
type Params struct {
	RemoteHost string
	RemoteUser string
	RemotePort int // SSH service port on the remote host
	BindPort   int // Remote-side port exposed by the tunnel
	LocalPort  int // Local service the tunnel forwards to
}

// Validate checks the parameters before any external command runs.
func (p Params) Validate() error {
	if p.RemoteHost == "" {
		return fmt.Errorf("remote host is required")
	}
	if p.RemoteUser == "" {
		return fmt.Errorf("remote user is required")
	}
	for name, port := range map[string]int{
		"remote port": p.RemotePort,
		"bind port":   p.BindPort,
		"local port":  p.LocalPort,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s %d is out of range (1-65535)", name, port)
		}
	}
	return nil
}

func (p Params) target() string {
	return fmt.Sprintf("%s@%s", p.RemoteUser, p.RemoteHost)
}

// forwardSpec is the -R argument passed to ssh. It doubles as the
// discovery pattern for the freshly launched tunnel process.
func (p Params) forwardSpec() string {
	return fmt.Sprintf("%d:localhost:%d", p.BindPort, p.LocalPort)
}

// ForwardPattern is the command line fragment that identifies the ssh
// process serving bindPort. The local port is not persisted in the
// registry, so the pattern stops at the bind side of the forward spec.
func ForwardPattern(bindPort int) string {
	return fmt.Sprintf("%d:localhost:", bindPort)
}

// Prober abstracts process discovery and termination. probe.System is
// the real implementation.
type Prober interface {
	IsAlive(sig probe.Signature) bool
	FindAll(pattern string) []int32
	Terminate(sig probe.Signature) probe.TerminateResult
}

// Signature builds the process signature for a registry record: the
// stored PID, cross-checked against the forwarding pattern.
func Signature(bindPort int, rec registry.Record) probe.Signature {
	return probe.Signature{PID: rec.PID, Pattern: ForwardPattern(bindPort)}
}

// NewStore returns a registry store whose reconciliation consults the
// given prober.
func NewStore(path string, prober Prober) *registry.Store {
	return registry.NewStore(path, func(bindPort int, rec registry.Record) bool {
		return prober.IsAlive(Signature(bindPort, rec))
	})
}

// Orchestrator coordinates the registry, the process probe and the
// external tools. One instance serves one command invocation; there is
// no in-process concurrency.
type Orchestrator struct {
	store   *registry.Store
	prober  Prober
	runner  Runner
	keys    KeyPair
	history *db.DB // optional, nil disables event recording
}

func NewOrchestrator(store *registry.Store, prober Prober, runner Runner, keys KeyPair, history *db.DB) *Orchestrator {
	return &Orchestrator{
		store:   store,
		prober:  prober,
		runner:  runner,
		keys:    keys,
		history: history,
	}
}

// Setup runs the precondition sequence and registers the tunnel. Each
// step is a hard gate: failure aborts the whole setup with no partial
// registry mutation.
func (o *Orchestrator) Setup(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}

	// Port free: reconcile first so a stale entry never blocks a port
	reg, pruned, err := o.store.Reconcile()
	if err != nil {
		return err
	}
	o.recordPruned(pruned)
	if rec, ok := reg[params.BindPort]; ok {
		return &ConflictError{
			BindPort:   params.BindPort,
			RemoteHost: rec.RemoteHost,
			RemoteUser: rec.RemoteUser,
		}
	}

	if err := o.ensureServer(); err != nil {
		return err
	}
	if err := o.ensureKeyMaterial(); err != nil {
		return err
	}
	if err := o.authorizeKey(params); err != nil {
		return err
	}
	if err := o.launch(params); err != nil {
		return err
	}

	rec := registry.Record{
		RemoteHost: params.RemoteHost,
		RemoteUser: params.RemoteUser,
		PID:        o.discoverPID(params),
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.store.Upsert(params.BindPort, rec); err != nil {
		return err
	}
	o.logEvent(db.EventSetup, params.BindPort, rec, params.forwardSpec())

	slog.Info("Reverse tunnel established",
		"forward", params.forwardSpec(), "remote", params.target(), "pid", rec.PID)
	return nil
}

// List returns the reconciled registry.
func (o *Orchestrator) List() (registry.Registry, error) {
	reg, pruned, err := o.store.Reconcile()
	if err != nil {
		return nil, err
	}
	o.recordPruned(pruned)
	return reg, nil
}

// KillOutcome reports what Kill found and did for one bind port.
type KillOutcome struct {
	BindPort int
	Tracked  bool // a registry entry existed
	Killed   []int32
}

// Kill terminates the tunnel on bindPort and removes its registry entry
// unconditionally; an orphaned entry pointing at a dead process must
// not persist. Killing a port with no tunnel is a reported no-op.
func (o *Orchestrator) Kill(bindPort int) (KillOutcome, error) {
	outcome := KillOutcome{BindPort: bindPort}

	reg, err := o.store.Load()
	if err != nil {
		return outcome, err
	}

	sig := probe.Signature{Pattern: ForwardPattern(bindPort)}
	rec, tracked := reg[bindPort]
	if tracked {
		sig.PID = rec.PID
	}
	outcome.Tracked = tracked

	result := o.prober.Terminate(sig)
	outcome.Killed = result.Killed
	for _, terr := range result.Errs {
		slog.Warn("Failed to terminate tunnel process", "bind_port", bindPort, "error", terr)
	}

	if err := o.store.Remove(bindPort); err != nil {
		return outcome, err
	}

	if tracked || len(result.Killed) > 0 {
		o.logEvent(db.EventKill, bindPort, rec,
			fmt.Sprintf("terminated %d process(es)", len(result.Killed)))
	}
	return outcome, nil
}

// ensureServer verifies the local SSH server is installed and active.
// Installation is out of scope; a missing or inactive server is fatal.
func (o *Orchestrator) ensureServer() error {
	if _, err := o.runner.LookPath("sshd"); err != nil {
		return &PreconditionError{Reason: "openssh server is not installed (sshd not in PATH)"}
	}

	result := o.runner.Run("systemctl", "is-active", "--quiet", "ssh")
	if !result.Success {
		return &PreconditionError{Reason: "ssh service is not active", Diag: result.Stderr}
	}

	slog.Debug("Local SSH server is installed and running")
	return nil
}

// ensureKeyMaterial validates the key pair and regenerates it when the
// pair is missing or its fingerprints do not match. A pair that is
// still invalid after regeneration is fatal.
func (o *Orchestrator) ensureKeyMaterial() error {
	err := o.keys.Validate()
	if err == nil {
		slog.Debug("SSH key pair valid", "path", o.keys.PrivatePath)
		return nil
	}
	slog.Info("Generating SSH key pair", "path", o.keys.PrivatePath, "reason", err)

	if err := os.MkdirAll(filepath.Dir(o.keys.PrivatePath), 0o700); err != nil {
		return &KeyMaterialError{Reason: fmt.Sprintf("cannot create key directory: %v", err)}
	}

	// Remove leftovers first so ssh-keygen never prompts to overwrite
	o.keys.remove()

	result := o.runner.Run("ssh-keygen",
		"-t", "rsa", "-b", "4096",
		"-f", o.keys.PrivatePath, "-N", "",
	)
	if !result.Success {
		return &KeyMaterialError{Reason: "key generation failed", Diag: result.Stderr}
	}

	if err := o.keys.Validate(); err != nil {
		return &KeyMaterialError{Reason: err.Error()}
	}
	return nil
}

// authorizeKey makes sure the public key is in the remote
// authorized_keys file. Idempotent: the key is checked with an exact
// grep before being appended, so running setup twice never duplicates
// it.
func (o *Orchestrator) authorizeKey(params Params) error {
	pubKey, err := o.keys.PublicKey()
	if err != nil {
		return &KeyMaterialError{Reason: fmt.Sprintf("cannot read public key: %v", err)}
	}

	port := strconv.Itoa(params.RemotePort)

	checkCmd := fmt.Sprintf(`grep -Fxq "%s" ~/.ssh/authorized_keys`, pubKey)
	result := o.runner.Run("ssh", params.target(), "-p", port, checkCmd)
	if result.Success {
		slog.Debug("Public key already authorized on remote host", "remote", params.target())
		return nil
	}

	slog.Info("Authorizing public key on remote host", "remote", params.target())
	pushCmd := fmt.Sprintf(
		`mkdir -p ~/.ssh 2> /dev/null ; echo "%s" >> ~/.ssh/authorized_keys && chmod 600 ~/.ssh/authorized_keys && chmod 700 ~/.ssh`,
		pubKey,
	)
	result = o.runner.Run("ssh", params.target(), "-p", port, pushCmd)
	if !result.Success {
		return &RemoteProvisioningError{Reason: "could not push public key", Diag: result.Stderr}
	}
	return nil
}

// launch starts the background reverse forward via the external ssh
// client. ExitOnForwardFailure makes a port collision on the remote
// side fail the command instead of silently degrading.
func (o *Orchestrator) launch(params Params) error {
	slog.Info("Starting reverse tunnel", "forward", params.forwardSpec(), "remote", params.target())

	result := o.runner.Run("ssh",
		"-fNR", params.forwardSpec(),
		params.target(),
		"-p", strconv.Itoa(params.RemotePort),
		"-o", "ExitOnForwardFailure=yes",
		"-o", "StrictHostKeyChecking=no",
	)
	if !result.Success {
		return &LaunchError{Diag: result.Stderr}
	}
	return nil
}

// discoverPID re-discovers the tunnel PID after a confirmed launch.
// ssh -f forks into the background, so the spawning process's PID is
// not the tunnel's. An empty result is tolerated: launch already
// succeeded and the forwarding pattern remains usable as the signature.
func (o *Orchestrator) discoverPID(params Params) int32 {
	pids := o.prober.FindAll(params.forwardSpec())
	if len(pids) == 0 {
		slog.Debug("Could not re-discover tunnel process after launch", "forward", params.forwardSpec())
		return 0
	}
	return pids[len(pids)-1]
}

func (o *Orchestrator) recordPruned(ports []int) {
	for _, port := range ports {
		slog.Info("Pruned stale tunnel entry", "bind_port", port)
		o.logEvent(db.EventPruned, port, registry.Record{}, "process no longer running")
	}
}

func (o *Orchestrator) logEvent(event string, bindPort int, rec registry.Record, detail string) {
	if o.history == nil {
		return
	}
	if err := o.history.LogEvent(event, bindPort, rec.RemoteHost, rec.RemoteUser, int(rec.PID), detail); err != nil {
		slog.Debug("Failed to record history event", "error", err)
	}
}
