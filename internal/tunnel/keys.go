package tunnel

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

var (
	errKeyMissing          = errors.New("ssh key pair missing")
	errFingerprintMismatch = errors.New("ssh key pair fingerprint mismatch")
)

// KeyPair locates the local SSH key material used for the tunnel
// connection.
type KeyPair struct {
	PrivatePath string
	PublicPath  string
}

// NewKeyPair derives the public key path from the private key path the
// way ssh-keygen lays them out.
func NewKeyPair(privatePath string) KeyPair {
	return KeyPair{
		PrivatePath: privatePath,
		PublicPath:  privatePath + ".pub",
	}
}

// Validate checks that both key files exist and that the SHA256
// fingerprint of the private key's public half matches the public key
// file.
func (k KeyPair) Validate() error {
	privData, err := os.ReadFile(k.PrivatePath)
	if os.IsNotExist(err) {
		return errKeyMissing
	}
	if err != nil {
		return fmt.Errorf("failed to read private key: %w", err)
	}

	pubData, err := os.ReadFile(k.PublicPath)
	if os.IsNotExist(err) {
		return errKeyMissing
	}
	if err != nil {
		return fmt.Errorf("failed to read public key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(privData)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey(pubData)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}

	privFP := ssh.FingerprintSHA256(signer.PublicKey())
	pubFP := ssh.FingerprintSHA256(pub)
	if privFP != pubFP {
		return fmt.Errorf("%w: private %s, public %s", errFingerprintMismatch, privFP, pubFP)
	}
	return nil
}

// PublicKey returns the authorized-keys line for the public key, with
// surrounding whitespace trimmed.
func (k KeyPair) PublicKey() (string, error) {
	data, err := os.ReadFile(k.PublicPath)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// remove deletes both key files so ssh-keygen can regenerate without an
// interactive overwrite prompt.
func (k KeyPair) remove() {
	os.Remove(k.PrivatePath)
	os.Remove(k.PublicPath)
}
