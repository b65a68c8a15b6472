// Package cas implements the content-addressed chunk store: immutable
// blobs written once under store/chunks/<hh>/<hash> and never overwritten.
package cas

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/saworbit/snapvault/pkg/backuperr"
	"github.com/saworbit/snapvault/pkg/hashutil"
)

// Store is a filesystem-backed content-addressed blob store rooted at a
// chunks/ directory.
type Store struct {
	root string
}

// Open returns a Store rooted at dir, creating it if necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create chunk store root: %v", backuperr.ErrIO, err)
	}
	return &Store{root: dir}, nil
}

// Path returns the on-disk path for digest, without checking existence.
func (s *Store) Path(digest string) string {
	return filepath.Join(s.root, digest[:2], digest)
}

// Has reports whether digest is present in the store.
func (s *Store) Has(digest string) (bool, error) {
	_, err := os.Stat(s.Path(digest))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat chunk %s: %v", backuperr.ErrIO, digest, err)
}

// Put writes data under digest if absent. Put is put-if-absent: a second
// Put of the same digest is a safe no-op, which is what makes chunk writes
// idempotent across a crash-and-retry.
func (s *Store) Put(digest string, data []byte) error {
	exists, err := s.Has(digest)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	dir := filepath.Join(s.root, digest[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create chunk shard %s: %v", backuperr.ErrIO, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp chunk file: %v", backuperr.ErrIO, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write temp chunk file: %v", backuperr.ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: sync temp chunk file: %v", backuperr.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close temp chunk file: %v", backuperr.ErrIO, err)
	}

	if err := os.Rename(tmpName, s.Path(digest)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename chunk into place: %v", backuperr.ErrIO, err)
	}
	return nil
}

// Get reads the complete bytes stored under digest. It never returns a
// truncated read: the file is read to EOF before returning.
func (s *Store) Get(digest string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", backuperr.ErrChunkMissing, digest)
		}
		return nil, fmt.Errorf("%w: read chunk %s: %v", backuperr.ErrIO, digest, err)
	}
	return data, nil
}

// VerifyChunk reads the chunk at digest and confirms its bytes hash back
// to digest, returning ErrChunkCorrupted on mismatch.
func (s *Store) VerifyChunk(digest string) error {
	data, err := s.Get(digest)
	if err != nil {
		return err
	}
	if actual := hashutil.Sum(data); actual != digest {
		return fmt.Errorf("%w: %s hashes to %s", backuperr.ErrChunkCorrupted, digest, actual)
	}
	return nil
}

// Stats reports the number of distinct chunk files and their total size.
type Stats struct {
	Objects int
	Bytes   int64
}

// Stats walks the chunk store and reports its object count and aggregate
// size. It is not on any hot path.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
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
		st.Objects++
		st.Bytes += info.Size()
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return Stats{}, nil
		}
		return Stats{}, fmt.Errorf("%w: walk chunk store: %v", backuperr.ErrIO, err)
	}
	return st, nil
}
