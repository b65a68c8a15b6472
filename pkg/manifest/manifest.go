// Package manifest defines a snapshot's file-to-chunk mapping and its
// byte-deterministic on-disk encoding.
package manifest

import (
	"fmt"
	"sort"

	"github.com/saworbit/snapvault/pkg/canonjson"
	"github.com/saworbit/snapvault/pkg/hashutil"
)

// FileEntry is one file captured by a snapshot: its source-relative path
// (forward-slash separated), its original byte size, and the ordered list
// of chunk digests whose concatenation reproduces it.
type FileEntry struct {
	Path   string   `json:"path"`
	Size   int64    `json:"size"`
	Chunks []string `json:"chunks"`
}

// Manifest is a snapshot's complete file listing.
type Manifest struct {
	Version    int         `json:"version"`
	SnapshotID string      `json:"snapshot_id"`
	SourcePath string      `json:"source_path"`
	CreatedAt  float64     `json:"created_at"`
	Label      string      `json:"label"`
	Files      []FileEntry `json:"files"`
}

// SortFiles orders Files ascending by path, as the canonical form requires.
func (m *Manifest) SortFiles() {
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
}

// Canonicalize returns the byte-deterministic encoding of m: keys sorted,
// files sorted by path, no insignificant whitespace. This is what gets
// written to disk and hashed into manifest_hash.
func Canonicalize(m Manifest) ([]byte, error) {
	files := make([]FileEntry, len(m.Files))
	copy(files, m.Files)
	for i, f := range files {
		if f.Chunks == nil {
			files[i].Chunks = []string{}
		}
	}
	m.Files = files
	m.SortFiles()

	out, err := canonjson.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("manifest: canonicalize: %w", err)
	}
	return out, nil
}

// Hash returns the manifest_hash for m: the SHA-256 digest of its
// canonical bytes.
func Hash(m Manifest) (string, error) {
	canon, err := Canonicalize(m)
	if err != nil {
		return "", err
	}
	return hashutil.Sum(canon), nil
}

// Parse decodes canonical (or any valid) manifest JSON.
func Parse(data []byte) (Manifest, error) {
	var m Manifest
	if err := canonjson.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: parse: %w", err)
	}
	return m, nil
}
