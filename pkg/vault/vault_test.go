package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/saworbit/snapvault/pkg/backuperr"
	"github.com/saworbit/snapvault/pkg/hashutil"
	"github.com/saworbit/snapvault/pkg/journal"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "store")
	if err := Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}
	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, root
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// E1: round-trip backup and restore reproduces file content exactly.
func TestBackupRestoreRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	source := filepath.Join(t.TempDir(), "d")
	writeFile(t, source, "a.txt", "hello")
	writeFile(t, source, "b.txt", strings.Repeat("x", 1_500_000))

	record, err := s.Backup(source, "l1")
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}

	target := t.TempDir()
	if err := s.Restore(record.ID, target); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(target, "a.txt"))
	if err != nil || string(got) != "hello" {
		t.Fatalf("a.txt = %q, %v, want hello", got, err)
	}
	got, err = os.ReadFile(filepath.Join(target, "b.txt"))
	if err != nil || string(got) != strings.Repeat("x", 1_500_000) {
		t.Fatalf("b.txt mismatch: %v", err)
	}

	if err := s.Verify(record.ID); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

// E2: identical content across two files dedups to one chunk on disk.
func TestBackupDedup(t *testing.T) {
	s, _ := newStore(t)
	source := filepath.Join(t.TempDir(), "d")
	content := strings.Repeat("y", 1<<20)
	writeFile(t, source, "one.bin", content)
	writeFile(t, source, "two.bin", content)

	record, err := s.Backup(source, "dedup")
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if record.TotalChunks != 2 {
		t.Fatalf("TotalChunks = %d, want 2", record.TotalChunks)
	}

	stats, err := s.Chunks.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Objects != 1 {
		t.Fatalf("chunk store has %d objects, want 1", stats.Objects)
	}
}

// E3: flipping a byte in a stored chunk is caught by Verify.
func TestVerifyDetectsTamperedChunk(t *testing.T) {
	s, _ := newStore(t)
	source := filepath.Join(t.TempDir(), "d")
	writeFile(t, source, "a.txt", "hello world")

	record, err := s.Backup(source, "")
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}

	digest := hashutil.Sum([]byte("hello world"))
	chunkPath := s.Chunks.Path(digest)
	data, err := os.ReadFile(chunkPath)
	if err != nil {
		t.Fatalf("ReadFile chunk: %v", err)
	}
	data[0] ^= 0xFF
	if err := os.WriteFile(chunkPath, data, 0o644); err != nil {
		t.Fatalf("WriteFile chunk: %v", err)
	}

	err = s.Verify(record.ID)
	if err == nil {
		t.Fatal("expected Verify to fail on tampered chunk")
	}
	if !strings.Contains(err.Error(), "corrupted") && !bytes.Contains([]byte(err.Error()), []byte("corrupt")) {
		t.Fatalf("Verify error %v does not mention corruption", err)
	}
}

// E5: zeroing a successor's prev_root is caught by verify_chain.
func TestVerifyDetectsRollback(t *testing.T) {
	s, root := newStore(t)
	source := filepath.Join(t.TempDir(), "d")
	writeFile(t, source, "a.txt", "v1")
	if _, err := s.Backup(source, "s1"); err != nil {
		t.Fatalf("Backup 1: %v", err)
	}
	writeFile(t, source, "b.txt", "v2")
	second, err := s.Backup(source, "s2")
	if err != nil {
		t.Fatalf("Backup 2: %v", err)
	}
	s.Close()

	metadataPath := filepath.Join(root, "metadata.json")
	raw, err := os.ReadFile(metadataPath)
	if err != nil {
		t.Fatalf("ReadFile metadata: %v", err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("Unmarshal metadata: %v", err)
	}
	snapshots := generic["snapshots"].(map[string]interface{})
	secondRecord := snapshots[second.ID].(map[string]interface{})
	secondRecord["prev_root"] = hashutil.Zero
	tampered, err := json.Marshal(generic)
	if err != nil {
		t.Fatalf("Marshal tampered metadata: %v", err)
	}
	if err := os.WriteFile(metadataPath, tampered, 0o644); err != nil {
		t.Fatalf("WriteFile metadata: %v", err)
	}

	s2, err := Open(root)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if err := s2.Verify(second.ID); err == nil {
		t.Fatal("expected Verify to detect rollback")
	}
}

// E6: a backup that crashes before COMMIT leaves no trace after reopen,
// and recovery is idempotent.
func TestCrashRecoveryDiscardsIncompleteTransaction(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	if err := Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}

	l := layoutFor(root)
	jrn, err := journal.Open(l.wal)
	if err != nil {
		t.Fatalf("open raw journal: %v", err)
	}
	if err := jrn.Begin("snap_1_deadbeef"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	jrn.Close()

	if err := os.WriteFile(filepath.Join(l.manifests, "snap_1_deadbeef.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write orphan manifest: %v", err)
	}

	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open after crash: %v", err)
	}
	if len(s.Ledger.List()) != 0 {
		t.Fatalf("ledger not empty after recovery: %v", s.Ledger.List())
	}
	if _, err := os.Stat(filepath.Join(l.manifests, "snap_1_deadbeef.json")); !os.IsNotExist(err) {
		t.Fatal("orphan manifest not removed by recovery")
	}
	s.Close()

	// Reopening again (recovery runs unconditionally) must be a no-op.
	s2, err := Open(root)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()

	lines, err := os.ReadFile(l.wal)
	if err != nil {
		t.Fatalf("read wal: %v", err)
	}
	if len(bytes.TrimSpace(lines)) != 0 {
		t.Fatalf("journal not compacted to empty: %q", lines)
	}

	source := filepath.Join(t.TempDir(), "d")
	writeFile(t, source, "a.txt", "after crash")
	if _, err := s2.Backup(source, ""); err != nil {
		t.Fatalf("Backup after recovery: %v", err)
	}
}

// A wal.log line that survived a crash mid-write (truncated before its
// first colon) must surface as ErrJournalCorrupted on the next open,
// rather than being silently folded into the pending transaction.
func TestCrashRecoveryRejectsMalformedJournalLine(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	if err := Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}

	l := layoutFor(root)
	jrn, err := journal.Open(l.wal)
	if err != nil {
		t.Fatalf("open raw journal: %v", err)
	}
	if err := jrn.Begin("snap_1_deadbeef"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	jrn.Close()

	f, err := os.OpenFile(l.wal, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("reopen wal for corruption: %v", err)
	}
	if _, err := f.WriteString("truncated-line-no-tag\n"); err != nil {
		t.Fatalf("write corrupt line: %v", err)
	}
	f.Close()

	if _, err := Open(root); !errors.Is(err, backuperr.ErrJournalCorrupted) {
		t.Fatalf("Open() error = %v, want ErrJournalCorrupted", err)
	}
}

// List returns snapshots in the order they were backed up (sequence order).
func TestListOrdersBySequence(t *testing.T) {
	s, _ := newStore(t)
	source := filepath.Join(t.TempDir(), "d")
	writeFile(t, source, "a.txt", "1")
	first, _ := s.Backup(source, "first")
	writeFile(t, source, "b.txt", "2")
	second, _ := s.Backup(source, "second")

	records := s.List()
	if len(records) != 2 {
		t.Fatalf("List() returned %d records, want 2", len(records))
	}
	if records[0].ID != first.ID || records[1].ID != second.ID {
		t.Fatalf("List() order wrong: %v", records)
	}
}

func TestDiscoverFilesSkipsSymlinks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "real.txt", "hi")
	if err := os.Symlink(filepath.Join(dir, "real.txt"), filepath.Join(dir, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	files, err := discoverFiles(dir)
	if err != nil {
		t.Fatalf("discoverFiles: %v", err)
	}
	for _, f := range files {
		if f == "link.txt" {
			t.Fatal("discoverFiles did not skip symlink")
		}
	}
}

func TestWatchDebouncesAutoBackup(t *testing.T) {
	s, _ := newStore(t)
	source := t.TempDir()
	writeFile(t, source, "seed.txt", "seed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, source, "auto", 50*time.Millisecond) }()

	time.Sleep(50 * time.Millisecond)
	writeFile(t, source, "new.txt", "new content")
	time.Sleep(400 * time.Millisecond)
	cancel()
	<-done

	records := s.List()
	if len(records) == 0 {
		t.Fatal("watch did not trigger an auto-backup")
	}
}

func TestDiffSnapshotsReportsAddedAndModified(t *testing.T) {
	s, _ := newStore(t)
	source := filepath.Join(t.TempDir(), "d")
	writeFile(t, source, "a.txt", "one")
	first, err := s.Backup(source, "")
	if err != nil {
		t.Fatalf("Backup 1: %v", err)
	}
	writeFile(t, source, "a.txt", "one-modified")
	writeFile(t, source, "b.txt", "brand new")
	second, err := s.Backup(source, "")
	if err != nil {
		t.Fatalf("Backup 2: %v", err)
	}

	report, err := s.DiffSnapshots(first.ID, second.ID)
	if err != nil {
		t.Fatalf("DiffSnapshots: %v", err)
	}

	var sawAdded, sawModified bool
	for _, f := range report.Files {
		if f.Path == "b.txt" && f.Change == "added" {
			sawAdded = true
		}
		if f.Path == "a.txt" && f.Change == "modified" {
			sawModified = true
		}
	}
	if !sawAdded || !sawModified {
		t.Fatalf("DiffSnapshots missing expected entries: %+v", report.Files)
	}
}

func TestRestoreMissingSnapshotErrorIsWrappedTaxonomy(t *testing.T) {
	s, _ := newStore(t)
	if err := s.Restore("snap_0_missing", t.TempDir()); err == nil {
		t.Fatal("expected Restore of missing snapshot to fail")
	} else if !errorsIsNotFoundOrRollback(err) {
		t.Fatalf("unexpected error type: %v", err)
	}
}

func errorsIsNotFoundOrRollback(err error) bool {
	return errors.Is(err, backuperr.ErrNotFound) || errors.Is(err, backuperr.ErrRollbackDetected)
}
