// Package backuperr defines the closed error taxonomy the storage engine
// surfaces to its orchestrator and, from there, to the audit log. Callers
// use errors.Is against the sentinels below; wrapped messages carry the
// specifics.
package backuperr

import "errors"

var (
	// ErrChunkMissing means a digest referenced by a manifest has no
	// corresponding file in the chunk store.
	ErrChunkMissing = errors.New("chunk missing")

	// ErrChunkCorrupted means a stored chunk's bytes do not hash to its
	// own filename.
	ErrChunkCorrupted = errors.New("chunk corrupted")

	// ErrManifestCorrupted means the canonical re-serialization of a
	// stored manifest does not match its recorded manifest_hash.
	ErrManifestCorrupted = errors.New("manifest corrupted")

	// ErrMerkleMismatch means a recomputed Merkle root does not match
	// the snapshot record's merkle_root.
	ErrMerkleMismatch = errors.New("merkle root mismatch")

	// ErrRollbackDetected means a snapshot hash-chain invariant was
	// violated: an older snapshot record replaced a newer one, or the
	// chain cannot be reconstructed from genesis.
	ErrRollbackDetected = errors.New("rollback detected")

	// ErrPermissionDenied means the policy predicate rejected the
	// invocation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrJournalCorrupted means a line in the write-ahead log could not
	// be parsed or violates the expected BEGIN/COMMIT framing.
	ErrJournalCorrupted = errors.New("journal corrupted")

	// ErrAuditCorrupted means the audit hash chain failed to verify.
	ErrAuditCorrupted = errors.New("audit corrupted")

	// ErrIO wraps an underlying filesystem failure.
	ErrIO = errors.New("io error")

	// ErrNotFound means a requested snapshot id has no record in the
	// metadata ledger.
	ErrNotFound = errors.New("snapshot not found")
)
