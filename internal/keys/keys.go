// Package keys manages per-repository deploy keys: ed25519 keypairs whose
// public half is handed to the operator for installation on the git remote
// and whose private half only ever exists sealed inside the state store.
package keys

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"dockhand/internal/secrets"
	"dockhand/internal/store"
)

// KeyPair is a freshly generated deploy key. PublicKey is the
// authorized-keys line (algorithm identifier, base64 material, comment);
// SealedPrivateKey is the OpenSSH PEM encrypted with the record cipher.
type KeyPair struct {
	PublicKey        string
	SealedPrivateKey []byte
}

// Generate produces a fresh ed25519 deploy keypair for a repository.
// Each repository gets exactly one; regeneration never happens implicitly.
func Generate(cipher secrets.Cipher, repoName string) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("encode public key: %w", err)
	}
	publicLine := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))) + " dockhand:" + repoName

	block, err := ssh.MarshalPrivateKey(priv, "dockhand:"+repoName)
	if err != nil {
		return nil, fmt.Errorf("encode private key: %w", err)
	}

	sealed, err := cipher.Seal(pem.EncodeToMemory(block))
	if err != nil {
		return nil, fmt.Errorf("seal private key: %w", err)
	}

	return &KeyPair{PublicKey: publicLine, SealedPrivateKey: sealed}, nil
}

// Manager retrieves deploy keys for registered repositories.
type Manager struct {
	store  *store.Store
	cipher secrets.Cipher
}

// NewManager creates a key manager bound to the store and record cipher.
func NewManager(s *store.Store, cipher secrets.Cipher) *Manager {
	return &Manager{store: s, cipher: cipher}
}

// PublicKey returns the stored public key line for a repository. The value
// is stable across calls; there is no regeneration path here.
func (m *Manager) PublicKey(ctx context.Context, repoName string) (string, error) {
	if err := store.ValidateRepoName(repoName); err != nil {
		return "", err
	}

	repo, err := m.store.GetRepository(ctx, repoName)
	if err != nil {
		return "", err
	}
	return repo.PublicKey, nil
}

// Materialize decrypts the private key and writes it to a 0600 file under
// the runtime directory for the duration of one git invocation. The
// returned cleanup removes the file; callers must always invoke it.
func (m *Manager) Materialize(ctx context.Context, repoName string) (string, func(), error) {
	if err := store.ValidateRepoName(repoName); err != nil {
		return "", nil, err
	}

	repo, err := m.store.GetRepository(ctx, repoName)
	if err != nil {
		return "", nil, err
	}

	pemBytes, err := m.cipher.Open(repo.PrivateKey)
	if err != nil {
		return "", nil, fmt.Errorf("deploy key for %s: %w", repoName, store.ErrKeyInvalid)
	}

	dir := filepath.Join(m.store.Root(), "system", "runtime")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", nil, err
	}

	f, err := os.CreateTemp(dir, repoName+"-*.key")
	if err != nil {
		return "", nil, err
	}
	path := f.Name()

	cleanup := func() { _ = os.Remove(path) }

	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, err
	}
	if _, err := f.Write(pemBytes); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}

	return path, cleanup, nil
}
