package secrets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dockhand/internal/store"
)

// Params is the encrypted parameter store. Values are sealed before they
// reach the database and decrypted only on read; nothing is ever written
// unencrypted, in the database or anywhere else.
type Params struct {
	store  *store.Store
	cipher Cipher
}

// NewParams creates a parameter store bound to the given encryption context.
func NewParams(s *store.Store, cipher Cipher) *Params {
	return &Params{store: s, cipher: cipher}
}

// Set creates or overwrites a parameter for a deployment.
func (p *Params) Set(ctx context.Context, deployment, name string, value []byte) error {
	if err := store.ValidateRepoName(deployment); err != nil {
		return err
	}
	if err := store.ValidateParameterName(name); err != nil {
		return err
	}

	sealed, err := p.cipher.Seal(value)
	if err != nil {
		return fmt.Errorf("seal parameter %s/%s: %w", deployment, name, err)
	}

	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.UpsertParameter(tx, deployment, name, sealed)
	})
}

// Get decrypts and returns a parameter value, byte-for-byte as stored.
// A record that cannot be authenticated fails closed with ErrKeyInvalid.
func (p *Params) Get(ctx context.Context, deployment, name string) ([]byte, error) {
	if err := store.ValidateRepoName(deployment); err != nil {
		return nil, err
	}
	if err := store.ValidateParameterName(name); err != nil {
		return nil, err
	}

	sealed, err := p.store.GetParameterValue(ctx, deployment, name)
	if err != nil {
		return nil, err
	}

	value, err := p.cipher.Open(sealed)
	if err != nil {
		if errors.Is(err, ErrDecrypt) {
			return nil, fmt.Errorf("parameter %s/%s: %w", deployment, name, store.ErrKeyInvalid)
		}
		return nil, err
	}
	return value, nil
}

// List returns the parameter names registered for a deployment.
func (p *Params) List(ctx context.Context, deployment string) ([]string, error) {
	if err := store.ValidateRepoName(deployment); err != nil {
		return nil, err
	}
	return p.store.ListParameterNames(ctx, deployment)
}

// ResolveAll decrypts every parameter of a deployment into an environment
// map. Any single decryption failure aborts the whole resolution.
func (p *Params) ResolveAll(ctx context.Context, deployment string) (map[string]string, error) {
	names, err := p.List(ctx, deployment)
	if err != nil {
		return nil, err
	}

	env := make(map[string]string, len(names))
	for _, name := range names {
		value, err := p.Get(ctx, deployment, name)
		if err != nil {
			return nil, err
		}
		env[name] = string(value)
	}
	return env, nil
}
