package vault

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/saworbit/snapvault/pkg/backuperr"
	"github.com/saworbit/snapvault/pkg/journal"
	"github.com/saworbit/snapvault/pkg/ledger"
)

// transaction buffers the lines belonging to one BEGIN..COMMIT span while
// the journal is scanned. The single-writer guarantee (one process holds
// the advisory lock at a time) means transactions never interleave, so a
// single pending buffer is enough.
type transaction struct {
	sid       string
	lines     []string
	committed bool
}

// recover_ runs the unconditional crash-recovery pass: any journal
// transaction that has a BEGIN but no matching COMMIT is the mark of a
// process that died mid-backup. Its effects are rolled back defensively
// (the ledger record and manifest file it might have produced are
// removed) and the journal is compacted to keep only committed
// transactions. Chunk files are never deleted during recovery: a partially
// ingested chunk set is harmless, content-addressed garbage at worst.
func recover_(l layout) error {
	lines, err := journal.ReadLines(l.wal)
	if err != nil {
		return fmt.Errorf("vault: read journal: %w", err)
	}
	if len(lines) == 0 {
		return nil
	}

	var (
		committed []string
		pending   *transaction
	)

	for _, line := range lines {
		rec, err := journal.ParseLine(line)
		if err != nil {
			return fmt.Errorf("vault: recovery: %w", err)
		}
		switch rec.Tag {
		case "BEGIN":
			pending = &transaction{sid: rec.Value, lines: []string{line}}
		case "COMMIT":
			if pending != nil && pending.sid == rec.Value {
				pending.lines = append(pending.lines, line)
				pending.committed = true
				committed = append(committed, pending.lines...)
				pending = nil
			}
		case "MANIFEST", "METADATA":
			if pending != nil {
				pending.lines = append(pending.lines, line)
			}
		default:
			return fmt.Errorf("%w: unrecognized journal tag %q", backuperr.ErrJournalCorrupted, rec.Tag)
		}
	}

	if pending != nil && !pending.committed {
		if err := rollbackTransaction(l, pending.sid); err != nil {
			return err
		}
	}

	if err := journal.Rewrite(l.wal, committed); err != nil {
		return fmt.Errorf("vault: compact journal: %w", err)
	}
	return nil
}

// rollbackTransaction undoes the side effects an incomplete transaction may
// have produced before the crash. Each step is defensive: the ledger
// record and manifest file may or may not exist depending on exactly when
// the process died, and either is a no-op to remove if absent.
func rollbackTransaction(l layout, sid string) error {
	if sid == "" {
		return nil
	}

	led, err := ledger.Open(l.metadata)
	if err != nil {
		return fmt.Errorf("vault: recovery: open ledger: %w", err)
	}
	if err := led.Remove(sid); err != nil {
		return fmt.Errorf("vault: recovery: remove orphan ledger record %s: %w", sid, err)
	}

	manifestPath := filepath.Join(l.manifests, sid+".json")
	if err := os.Remove(manifestPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("vault: recovery: remove orphan manifest %s: %w", manifestPath, err)
	}

	log.Printf("[Vault] recovered incomplete transaction %s (journal BEGIN without COMMIT)", sid)
	return nil
}
