package store

import "errors"

// Error taxonomy shared by every component that touches persistent state.
// Commands compare with errors.Is and translate to exit codes and
// remediation messages.
var (
	// ErrKeyMissing indicates the database key file is absent.
	ErrKeyMissing = errors.New("database key is missing")
	// ErrKeyInvalid indicates the key does not match what encrypted the
	// data. The store fails closed and never returns garbage.
	ErrKeyInvalid = errors.New("database key is invalid")
	// ErrConflict indicates a unique-name violation (duplicate repository).
	ErrConflict = errors.New("already exists")
	// ErrNotFound indicates an unknown repository, deployment, or parameter.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates a malformed name, remote URL, or branch.
	ErrInvalidInput = errors.New("invalid input")
)
