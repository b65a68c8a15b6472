// Package diff estimates how much of a modified file's content actually
// changed between two snapshot versions, by running a binary patch
// algorithm over the two reconstructed byte streams. It never decides
// which files changed — pkg/vault already knows that from two manifests'
// chunk-digest lists — it only reports the patch footprint for the files
// vault/diff.go has already identified as modified.
package diff

import (
	"fmt"
)

// PatchAlgorithm computes and applies a binary delta between two versions
// of a file's content.
type PatchAlgorithm interface {
	// Delta returns a patch that turns oldBytes into newBytes.
	Delta(oldBytes, newBytes []byte) ([]byte, error)

	// Apply reconstructs newBytes from baseBytes and a patch produced by Delta.
	Apply(baseBytes, deltaBytes []byte) ([]byte, error)

	// Name identifies the algorithm, reported alongside patch statistics.
	Name() string
}

// NewPatchAlgorithm selects a PatchAlgorithm by name.
func NewPatchAlgorithm(name string) (PatchAlgorithm, error) {
	switch name {
	case "bsdiff":
		return NewBsdiffAlgorithm(), nil
	case "xdelta":
		return nil, fmt.Errorf("xdelta support not yet implemented (planned for future release)")
	default:
		return nil, fmt.Errorf("unsupported patch algorithm: %s (must be 'bsdiff' or 'xdelta')", name)
	}
}

// FileChangeReport summarizes one modified file's patch footprint between
// its version in two snapshots.
type FileChangeReport struct {
	Path            string  // manifest-relative path of the changed file
	OldSize         int     // size of the file's content in the earlier snapshot
	NewSize         int     // size of the file's content in the later snapshot
	PatchSize       int     // size of the computed delta
	CompressionRate float64 // PatchSize / NewSize; lower means the delta captured less new data
	Algorithm       string  // name of the PatchAlgorithm that produced PatchSize
}

// Report computes a FileChangeReport for path, given the reconstructed
// byte content of that file in the earlier and later snapshot. It never
// touches the chunk store or any manifest itself — both byte slices must
// already be assembled by the caller (vault.reconstructFile).
func Report(algo PatchAlgorithm, path string, oldBytes, newBytes []byte) (FileChangeReport, error) {
	delta, err := algo.Delta(oldBytes, newBytes)
	if err != nil {
		return FileChangeReport{}, fmt.Errorf("diff: compute delta for %s: %w", path, err)
	}

	report := FileChangeReport{
		Path:      path,
		OldSize:   len(oldBytes),
		NewSize:   len(newBytes),
		PatchSize: len(delta),
		Algorithm: algo.Name(),
	}
	if len(newBytes) > 0 {
		report.CompressionRate = float64(len(delta)) / float64(len(newBytes))
	}
	return report, nil
}
