// Package ledger implements the Metadata Ledger: the append-only,
// sequence-ordered record of snapshots and the hash chain that makes
// silent rollback or substitution of the store detectable.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/saworbit/snapvault/pkg/backuperr"
	"github.com/saworbit/snapvault/pkg/canonjson"
	"github.com/saworbit/snapvault/pkg/hashutil"
)

// Record is one snapshot's persisted metadata.
type Record struct {
	ID            string `json:"id"`
	CreatedAt     int64  `json:"created_at"`
	Label         string `json:"label"`
	MerkleRoot    string `json:"merkle_root"`
	PrevRoot      string `json:"prev_root"`
	PrevChainHash string `json:"prev_chain_hash"`
	ChainHash     string `json:"chain_hash"`
	ManifestHash  string `json:"manifest_hash"`
	TotalFiles    int    `json:"total_files"`
	TotalChunks   int    `json:"total_chunks"`
	Sequence      int    `json:"sequence"`
}

// state is the on-disk shape of the ledger, persisted at
// store/metadata.json in canonical form.
type state struct {
	Snapshots          map[string]Record `json:"snapshots"`
	PrevRootChain      []string          `json:"prev_root_chain"`
	LatestSnapshot     string            `json:"latest_snapshot"`
	LatestSnapshotRoot string            `json:"latest_snapshot_root"`
}

// Ledger is the mutex-guarded, disk-backed Metadata Ledger for one store.
type Ledger struct {
	mu   sync.Mutex
	path string
	st   state
}

// ComputeChainHash derives the chain_hash for a record from its
// predecessor's chain hash and the two Merkle roots involved.
func ComputeChainHash(prevChainHash, merkleRoot, prevRoot string) string {
	return hashutil.Sum([]byte(prevChainHash + merkleRoot + prevRoot))
}

// Open loads the ledger at path, or initializes an empty one if the file
// does not yet exist.
func Open(path string) (*Ledger, error) {
	l := &Ledger{
		path: path,
		st: state{
			Snapshots:     make(map[string]Record),
			PrevRootChain: []string{},
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("%w: read ledger %s: %v", backuperr.ErrIO, path, err)
	}

	var st state
	if err := canonjson.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: parse ledger %s: %v", backuperr.ErrManifestCorrupted, path, err)
	}
	if st.Snapshots == nil {
		st.Snapshots = make(map[string]Record)
	}
	if st.PrevRootChain == nil {
		st.PrevRootChain = []string{}
	}
	l.st = st
	return l, nil
}

func (l *Ledger) save() error {
	canon, err := canonjson.Marshal(l.st)
	if err != nil {
		return fmt.Errorf("ledger: canonicalize: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), "metadata-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp ledger file: %v", backuperr.ErrIO, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(canon); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write temp ledger file: %v", backuperr.ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: sync temp ledger file: %v", backuperr.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close temp ledger file: %v", backuperr.ErrIO, err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename ledger into place: %v", backuperr.ErrIO, err)
	}
	return nil
}

// Append validates record against the ledger's current tail and, on
// success, persists the updated ledger atomically.
func (l *Ledger) Append(record Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	wantSeq := len(l.st.PrevRootChain)
	if record.Sequence != wantSeq {
		return fmt.Errorf("%w: record.sequence %d != expected %d", backuperr.ErrRollbackDetected, record.Sequence, wantSeq)
	}

	wantPrevRoot := hashutil.Zero
	wantPrevChainHash := hashutil.Zero
	if wantSeq > 0 {
		prev, ok := l.st.Snapshots[l.st.LatestSnapshot]
		if !ok {
			return fmt.Errorf("%w: latest snapshot %s missing from ledger", backuperr.ErrRollbackDetected, l.st.LatestSnapshot)
		}
		wantPrevRoot = prev.MerkleRoot
		wantPrevChainHash = prev.ChainHash
	}
	if record.PrevRoot != wantPrevRoot {
		return fmt.Errorf("%w: prev_root %s != expected %s", backuperr.ErrRollbackDetected, record.PrevRoot, wantPrevRoot)
	}
	if record.PrevChainHash != wantPrevChainHash {
		return fmt.Errorf("%w: prev_chain_hash %s != expected %s", backuperr.ErrRollbackDetected, record.PrevChainHash, wantPrevChainHash)
	}
	if want := ComputeChainHash(wantPrevChainHash, record.MerkleRoot, wantPrevRoot); record.ChainHash != want {
		return fmt.Errorf("%w: chain_hash %s != expected %s", backuperr.ErrRollbackDetected, record.ChainHash, want)
	}

	l.st.Snapshots[record.ID] = record
	l.st.PrevRootChain = append(l.st.PrevRootChain, record.MerkleRoot)
	l.st.LatestSnapshot = record.ID
	l.st.LatestSnapshotRoot = record.MerkleRoot

	if err := l.save(); err != nil {
		delete(l.st.Snapshots, record.ID)
		l.st.PrevRootChain = l.st.PrevRootChain[:len(l.st.PrevRootChain)-1]
		return err
	}
	return nil
}

// Flush persists the ledger's current state to disk even if no record has
// been appended, used by store initialization to seed metadata.json so it
// exists immediately after init rather than on first backup.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.save()
}

// Get returns the snapshot record for id.
func (l *Ledger) Get(id string) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.st.Snapshots[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: snapshot %s", backuperr.ErrNotFound, id)
	}
	return rec, nil
}

// List returns every snapshot record ordered by sequence.
func (l *Ledger) List() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0, len(l.st.Snapshots))
	for _, rec := range l.st.Snapshots {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// Remove deletes id from the ledger and truncates prev_root_chain back to
// its sequence, used by journal recovery to undo an incomplete
// transaction that was (defensively) already appended before a crash.
func (l *Ledger) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.st.Snapshots[id]
	if !ok {
		return nil
	}

	delete(l.st.Snapshots, id)
	if rec.Sequence < len(l.st.PrevRootChain) {
		l.st.PrevRootChain = l.st.PrevRootChain[:rec.Sequence]
	}
	if l.st.LatestSnapshot == id {
		l.st.LatestSnapshot = ""
		l.st.LatestSnapshotRoot = ""
		for _, r := range l.st.Snapshots {
			if r.Sequence == len(l.st.PrevRootChain)-1 {
				l.st.LatestSnapshot = r.ID
				l.st.LatestSnapshotRoot = r.MerkleRoot
				break
			}
		}
	}

	return l.save()
}

// ChainError distinguishes the two verify_chain failure modes.
type ChainError struct {
	Reason string
}

func (e *ChainError) Error() string { return e.Reason }

func (e *ChainError) Unwrap() error { return backuperr.ErrRollbackDetected }

// VerifyChain walks the chain from genesis through id's sequence,
// confirming every invariant holds.
func (l *Ledger) VerifyChain(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	target, ok := l.st.Snapshots[id]
	if !ok {
		return fmt.Errorf("%w: snapshot %s", backuperr.ErrNotFound, id)
	}

	bySeq := make(map[int]Record, len(l.st.Snapshots))
	for _, r := range l.st.Snapshots {
		bySeq[r.Sequence] = r
	}

	prevRoot := hashutil.Zero
	prevChainHash := hashutil.Zero
	for seq := 0; seq <= target.Sequence; seq++ {
		rec, ok := bySeq[seq]
		if !ok {
			return &ChainError{Reason: fmt.Sprintf("previous snapshot not found for root at sequence %d", seq)}
		}
		if rec.PrevRoot != prevRoot {
			return &ChainError{Reason: fmt.Sprintf("previous snapshot not found for root at sequence %d", seq)}
		}
		if rec.PrevChainHash != prevChainHash {
			return &ChainError{Reason: fmt.Sprintf("hash chain mismatch at sequence %d", seq)}
		}
		if want := ComputeChainHash(prevChainHash, rec.MerkleRoot, prevRoot); rec.ChainHash != want {
			return &ChainError{Reason: fmt.Sprintf("hash chain mismatch at sequence %d", seq)}
		}
		prevRoot = rec.MerkleRoot
		prevChainHash = rec.ChainHash
	}
	return nil
}

// LatestRoot returns the most recently appended snapshot's merkle_root,
// or hashutil.Zero if the ledger is empty.
func (l *Ledger) LatestRoot() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.st.LatestSnapshotRoot == "" {
		return hashutil.Zero
	}
	return l.st.LatestSnapshotRoot
}

// LatestChainHash returns the most recently appended snapshot's
// chain_hash, or hashutil.Zero if the ledger is empty.
func (l *Ledger) LatestChainHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.st.Snapshots[l.st.LatestSnapshot]
	if !ok {
		return hashutil.Zero
	}
	return rec.ChainHash
}

// NextSequence returns the sequence number the next Append must use.
func (l *Ledger) NextSequence() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.st.PrevRootChain)
}
