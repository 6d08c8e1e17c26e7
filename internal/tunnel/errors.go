package tunnel

import "fmt"

// ConflictError reports that a bind port already has a live tunnel.
// Raised before any external command runs; no side effects.
type ConflictError struct {
	BindPort   int
	RemoteHost string
	RemoteUser string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("bind port %d already has an active tunnel to %s@%s",
		e.BindPort, e.RemoteUser, e.RemoteHost)
}

// PreconditionError reports that the local SSH server is not ready.
type PreconditionError struct {
	Reason string
	Diag   string
}

func (e *PreconditionError) Error() string {
	return withDiag(fmt.Sprintf("ssh server check failed: %s", e.Reason), e.Diag)
}

// KeyMaterialError reports an unresolvable problem with the local key
// pair (generation failure, or a fingerprint mismatch that regeneration
// did not fix).
type KeyMaterialError struct {
	Reason string
	Diag   string
}

func (e *KeyMaterialError) Error() string {
	return withDiag(fmt.Sprintf("ssh key material: %s", e.Reason), e.Diag)
}

// RemoteProvisioningError reports a failure to check or push the public
// key on the remote host. The push step is idempotent, so re-running
// setup is the recovery path; no rollback is attempted.
type RemoteProvisioningError struct {
	Reason string
	Diag   string
}

func (e *RemoteProvisioningError) Error() string {
	return withDiag(fmt.Sprintf("remote key authorization failed: %s", e.Reason), e.Diag)
}

// LaunchError reports that the external ssh client failed to establish
// the tunnel. The registry is never touched when this is raised.
type LaunchError struct {
	Diag string
}

func (e *LaunchError) Error() string {
	return withDiag("reverse tunnel could not be established", e.Diag)
}

func withDiag(msg, diag string) string {
	if diag == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", msg, diag)
}
