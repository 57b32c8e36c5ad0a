// Package docstore provides exclusive-write-locked persistence for the two
// JSON document kinds the state manager owns: the shared world document and
// per-player view documents (spec §3, §4.1, §6.3).
//
// The Store interface is intentionally low-level (raw bytes keyed by a flat
// string) — it knows nothing about merge operators or versioning. All of
// that lives one layer up, in internal/statemanager, which is the only
// caller. This mirrors the teacher's statestore.Store: a thin persistence
// seam, generic enough to be backed by a file tree or Redis.
package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document doesn't exist under the given key.
var ErrNotFound = errors.New("docstore: document not found")

// ErrInvalidKey is returned for an empty or malformed key.
var ErrInvalidKey = errors.New("docstore: invalid key")

// Unlock releases a lock acquired by Store.Lock. It is safe to call exactly
// once; calling it more than once is a programmer error.
type Unlock func()

// Store persists opaque JSON document bytes under string keys, with
// exclusive per-key write locking (spec §4.1 step 1, §5 "exclusive-write
// lock per document").
type Store interface {
	// Lock acquires the exclusive write lock for key, blocking until it is
	// available or ctx is done. The returned Unlock must be called to
	// release it.
	Lock(ctx context.Context, key string) (Unlock, error)

	// Load returns the current bytes stored under key, or ErrNotFound.
	// Load does not itself lock; callers that need a consistent
	// read-modify-write cycle call Lock first.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save persists data under key, atomically replacing any previous
	// value. Callers performing read-modify-write must hold the Lock for
	// key across both the Load and the Save.
	Save(ctx context.Context, key string, data []byte) error

	// Delete removes the document stored under key. It is not an error to
	// delete a key that does not exist.
	Delete(ctx context.Context, key string) error

	// List returns every key with the given prefix, for admin sweeps such
	// as "delete all player views for an experience" (spec §4.6 @reset).
	List(ctx context.Context, prefix string) ([]string, error)
}
