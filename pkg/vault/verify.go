package vault

import (
	"fmt"
	"os"
	"time"

	"github.com/saworbit/snapvault/internal/metrics"
	"github.com/saworbit/snapvault/pkg/backuperr"
	"github.com/saworbit/snapvault/pkg/hashutil"
	"github.com/saworbit/snapvault/pkg/manifest"
	"github.com/saworbit/snapvault/pkg/merkle"
)

// Verify recomputes every integrity fact a snapshot depends on: its
// manifest_hash, every chunk's content hash, its Merkle root, and the
// snapshot hash-chain up to it. The first mismatch short-circuits with the
// taxonomy error that names what failed.
func (s *Store) Verify(sid string) error {
	start := time.Now()

	record, err := s.Ledger.Get(sid)
	if err != nil {
		metrics.ObserveRecovery(start, "verify", "corrupted")
		return err
	}

	data, err := os.ReadFile(s.ManifestPath(sid))
	if err != nil {
		metrics.ObserveRecovery(start, "verify", "corrupted")
		return fmt.Errorf("%w: read manifest %s: %v", backuperr.ErrManifestCorrupted, sid, err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		metrics.ObserveRecovery(start, "verify", "corrupted")
		return fmt.Errorf("%w: %v", backuperr.ErrManifestCorrupted, err)
	}

	canon, err := manifest.Canonicalize(m)
	if err != nil {
		metrics.ObserveRecovery(start, "verify", "corrupted")
		return err
	}
	if got := hashutil.Sum(canon); got != record.ManifestHash {
		metrics.ObserveRecovery(start, "verify", "corrupted")
		return fmt.Errorf("%w: manifest_hash %s != recorded %s for %s", backuperr.ErrManifestCorrupted, got, record.ManifestHash, sid)
	}

	mfFiles := make([]merkle.FileChunks, 0, len(m.Files))
	for _, entry := range m.Files {
		for _, digest := range entry.Chunks {
			if err := s.Chunks.VerifyChunk(digest); err != nil {
				metrics.ObserveRecovery(start, "verify", "corrupted")
				return fmt.Errorf("vault: verify %s: %w", sid, err)
			}
		}
		mfFiles = append(mfFiles, merkle.FileChunks{Path: entry.Path, Chunks: entry.Chunks})
	}

	if root := merkle.RootFromFiles(mfFiles); root != record.MerkleRoot {
		metrics.ObserveRecovery(start, "verify", "corrupted")
		return fmt.Errorf("%w: recomputed root %s != recorded %s for %s", backuperr.ErrMerkleMismatch, root, record.MerkleRoot, sid)
	}

	if err := s.Ledger.VerifyChain(sid); err != nil {
		metrics.ObserveRecovery(start, "verify", "rollback")
		return err
	}

	metrics.ObserveRecovery(start, "verify", "ok")
	return nil
}
