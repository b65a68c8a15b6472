package vault

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/saworbit/snapvault/internal/metrics"
	"github.com/saworbit/snapvault/pkg/cas"
	"github.com/saworbit/snapvault/pkg/chunk"
	"github.com/saworbit/snapvault/pkg/hashutil"
	"github.com/saworbit/snapvault/pkg/ledger"
	"github.com/saworbit/snapvault/pkg/manifest"
	"github.com/saworbit/snapvault/pkg/merkle"
)

// NewSnapshotID mints an id in the snap_<unix_seconds>_<8hex> shape, using a
// uuid as the hex entropy source rather than crypto/rand directly.
func NewSnapshotID(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("snap_%d_%s", now.Unix(), hex.EncodeToString(id[:4]))
}

// discoverFiles walks source and returns every regular file beneath it as a
// forward-slash, source-relative path, sorted ascending. Symlinks and
// non-regular entries (devices, sockets, pipes) are skipped; WalkDir never
// descends through a symlinked directory, so this also bounds the walk to
// the real tree under source.
func discoverFiles(source string) ([]string, error) {
	var rels []string
	err := filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 || !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(rels)
	return rels, nil
}

// ingestFile streams absPath through the fixed-size chunker, put-if-absent
// into chunks, and returns the resulting manifest entry along with how many
// of its chunks were newly written versus already present.
func ingestFile(chunks *cas.Store, absPath, relPath string) (manifest.FileEntry, int, int, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return manifest.FileEntry{}, 0, 0, fmt.Errorf("vault: open %s: %w", relPath, err)
	}
	defer f.Close()

	var (
		digests  []string
		size     int64
		newCount int
		reuse    int
	)

	c := chunk.NewChunker(f)
	for {
		buf, err := c.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return manifest.FileEntry{}, 0, 0, fmt.Errorf("vault: read %s: %w", relPath, err)
		}
		size += int64(len(buf))
		digest := hashutil.Sum(buf)

		exists, err := chunks.Has(digest)
		if err != nil {
			return manifest.FileEntry{}, 0, 0, err
		}
		if err := chunks.Put(digest, buf); err != nil {
			return manifest.FileEntry{}, 0, 0, err
		}
		if exists {
			reuse++
		} else {
			newCount++
		}
		digests = append(digests, digest)
	}
	if digests == nil {
		digests = []string{}
	}

	return manifest.FileEntry{Path: relPath, Size: size, Chunks: digests}, newCount, reuse, nil
}

// Backup captures source into a new snapshot, following the journaled
// BEGIN -> chunks -> MANIFEST -> METADATA -> ledger append -> COMMIT
// sequence so a crash at any point leaves only an incomplete transaction
// for the next store open to clean up.
func (s *Store) Backup(source, label string) (ledger.Record, error) {
	start := time.Now()

	files, err := discoverFiles(source)
	if err != nil {
		metrics.ObserveCapture(start, "backup", "error")
		return ledger.Record{}, fmt.Errorf("vault: discover files under %s: %w", source, err)
	}

	sid := NewSnapshotID(time.Now())
	log.Printf("[Vault] backup %s: %d files from %s", sid, len(files), source)

	if err := s.Journal.Begin(sid); err != nil {
		metrics.ObserveCapture(start, "backup", "error")
		return ledger.Record{}, err
	}

	entries := make([]manifest.FileEntry, 0, len(files))
	totalChunks := 0
	for _, rel := range files {
		abs := filepath.Join(source, filepath.FromSlash(rel))
		entry, newCount, reuseCount, err := ingestFile(s.Chunks, abs, rel)
		if err != nil {
			metrics.ObserveCapture(start, "backup", "error")
			return ledger.Record{}, fmt.Errorf("vault: ingest %s: %w", rel, err)
		}
		for i := 0; i < newCount; i++ {
			metrics.ObserveChunk("new")
		}
		for i := 0; i < reuseCount; i++ {
			metrics.ObserveChunk("reuse")
		}
		totalChunks += len(entry.Chunks)
		entries = append(entries, entry)
	}

	m := manifest.Manifest{
		Version:    1,
		SnapshotID: sid,
		SourcePath: source,
		CreatedAt:  float64(time.Now().UnixNano()) / 1e9,
		Label:      label,
		Files:      entries,
	}
	canon, err := manifest.Canonicalize(m)
	if err != nil {
		metrics.ObserveCapture(start, "backup", "error")
		return ledger.Record{}, fmt.Errorf("vault: canonicalize manifest: %w", err)
	}
	if err := os.WriteFile(s.ManifestPath(sid), canon, 0o644); err != nil {
		metrics.ObserveCapture(start, "backup", "error")
		return ledger.Record{}, fmt.Errorf("vault: write manifest %s: %w", sid, err)
	}
	manifestHash := hashutil.Sum(canon)
	if err := s.Journal.Manifest(manifestHash); err != nil {
		metrics.ObserveCapture(start, "backup", "error")
		return ledger.Record{}, err
	}

	mfFiles := make([]merkle.FileChunks, 0, len(entries))
	for _, e := range entries {
		mfFiles = append(mfFiles, merkle.FileChunks{Path: e.Path, Chunks: e.Chunks})
	}
	merkleRoot := merkle.RootFromFiles(mfFiles)

	prevRoot := s.Ledger.LatestRoot()
	prevChainHash := s.Ledger.LatestChainHash()
	seq := s.Ledger.NextSequence()
	chainHash := ledger.ComputeChainHash(prevChainHash, merkleRoot, prevRoot)
	ts := time.Now().Unix()

	if err := s.Journal.Metadata(sid, merkleRoot, prevRoot, ts, label); err != nil {
		metrics.ObserveCapture(start, "backup", "error")
		return ledger.Record{}, err
	}

	record := ledger.Record{
		ID:            sid,
		CreatedAt:     ts,
		Label:         label,
		MerkleRoot:    merkleRoot,
		PrevRoot:      prevRoot,
		PrevChainHash: prevChainHash,
		ChainHash:     chainHash,
		ManifestHash:  manifestHash,
		TotalFiles:    len(entries),
		TotalChunks:   totalChunks,
		Sequence:      seq,
	}
	if err := s.Ledger.Append(record); err != nil {
		metrics.ObserveCapture(start, "backup", "error")
		return ledger.Record{}, fmt.Errorf("vault: append ledger record %s: %w", sid, err)
	}

	if err := s.Journal.Commit(sid); err != nil {
		metrics.ObserveCapture(start, "backup", "error")
		return ledger.Record{}, err
	}

	metrics.ObserveCapture(start, "backup", "ok")
	metrics.SetSnapshotsTracked(len(s.Ledger.List()))
	log.Printf("[Vault] backup %s committed: %d files, %d chunks, root %s", sid, len(entries), totalChunks, merkleRoot)
	return record, nil
}
