package vault

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/saworbit/snapvault/internal/metrics"
	"github.com/saworbit/snapvault/internal/platform"
	"github.com/saworbit/snapvault/pkg/backuperr"
	"github.com/saworbit/snapvault/pkg/manifest"
)

// Restore reconstructs snapshot sid into target, clobbering any files
// already present at the same relative path. It does not re-verify chunk
// bytes against their digests; that is Verify's job.
func (s *Store) Restore(sid, target string) error {
	start := time.Now()

	if err := s.Ledger.VerifyChain(sid); err != nil {
		metrics.ObserveRecovery(start, "restore", "rollback")
		return fmt.Errorf("vault: restore %s: %w", sid, err)
	}

	data, err := os.ReadFile(s.ManifestPath(sid))
	if err != nil {
		metrics.ObserveRecovery(start, "restore", "corrupted")
		return fmt.Errorf("%w: read manifest %s: %v", backuperr.ErrManifestCorrupted, sid, err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		metrics.ObserveRecovery(start, "restore", "corrupted")
		return fmt.Errorf("%w: %v", backuperr.ErrManifestCorrupted, err)
	}

	for _, entry := range m.Files {
		if err := restoreFile(s, target, entry); err != nil {
			metrics.ObserveRecovery(start, "restore", "corrupted")
			return err
		}
	}

	metrics.ObserveRecovery(start, "restore", "ok")
	log.Printf("[Vault] restore %s -> %s: %d files", sid, target, len(m.Files))
	return nil
}

func restoreFile(s *Store, target string, entry manifest.FileEntry) error {
	destPath := platform.LongPathname(filepath.Join(target, filepath.FromSlash(entry.Path)))

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("%w: create parent dir for %s: %v", backuperr.ErrIO, entry.Path, err)
	}

	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", backuperr.ErrIO, destPath, err)
	}
	defer f.Close()

	for _, digest := range entry.Chunks {
		data, err := s.Chunks.Get(digest)
		if err != nil {
			return fmt.Errorf("vault: restore %s: %w", entry.Path, err)
		}
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("%w: write %s: %v", backuperr.ErrIO, destPath, err)
		}
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %v", backuperr.ErrIO, destPath, err)
	}
	return nil
}
