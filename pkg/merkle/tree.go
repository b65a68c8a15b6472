// Package merkle builds the per-snapshot integrity tree over a manifest's
// files and folds it down to a single root digest.
package merkle

import (
	"strings"

	"github.com/saworbit/snapvault/pkg/hashutil"
)

// Leaf returns the leaf digest for one manifest file entry: the SHA-256 of
// its path joined to its comma-separated chunk digests. Folding the path
// into the leaf means a rename changes the root even when chunk content is
// untouched.
func Leaf(path string, chunks []string) string {
	return hashutil.Sum([]byte(path + "|" + strings.Join(chunks, ",")))
}

// Root folds leaves into a single Merkle root. An odd level is completed by
// duplicating its last element before pairing, rather than promoting it
// unchanged, so every internal node always has two children.
func Root(leaves []string) string {
	if len(leaves) == 0 {
		return hashutil.Zero
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	level := leaves
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashutil.Sum([]byte(level[i]+level[i+1])))
		}
		level = next
	}
	return level[0]
}

// FileChunks is the minimal view of a manifest file entry Root needs: a
// path and its ordered chunk digests.
type FileChunks struct {
	Path   string
	Chunks []string
}

// RootFromFiles computes the Merkle root directly from a file list,
// building and folding leaves in one pass. Callers are responsible for
// passing files in the manifest's canonical (path-sorted) order, since the
// root is order-sensitive.
func RootFromFiles(files []FileChunks) string {
	leaves := make([]string, 0, len(files))
	for _, f := range files {
		leaves = append(leaves, Leaf(f.Path, f.Chunks))
	}
	return Root(leaves)
}
