package diff

import (
	"fmt"

	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/gabstv/go-bsdiff/pkg/bspatch"
)

// BsdiffAlgorithm implements PatchAlgorithm over github.com/gabstv/go-bsdiff.
type BsdiffAlgorithm struct{}

// NewBsdiffAlgorithm constructs a bsdiff-backed PatchAlgorithm.
func NewBsdiffAlgorithm() *BsdiffAlgorithm {
	return &BsdiffAlgorithm{}
}

// Name identifies this algorithm.
func (a *BsdiffAlgorithm) Name() string {
	return "bsdiff"
}

// Delta computes a bsdiff patch from oldBytes to newBytes. A snapshot's
// earlier version of a file is never truly absent (Report is only called
// for files present in both snapshots), but an empty oldBytes is handled
// as a degenerate one-sided patch rather than failing, since bsdiff itself
// has no meaningful diff to compute against zero bytes.
func (a *BsdiffAlgorithm) Delta(oldBytes, newBytes []byte) ([]byte, error) {
	if len(oldBytes) == 0 && len(newBytes) == 0 {
		return []byte{}, nil
	}
	if len(oldBytes) == 0 {
		return newBytes, nil
	}

	patch, err := bsdiff.Bytes(oldBytes, newBytes)
	if err != nil {
		return nil, fmt.Errorf("bsdiff: %w", err)
	}
	return patch, nil
}

// Apply reconstructs newBytes from baseBytes and a delta produced by Delta.
func (a *BsdiffAlgorithm) Apply(baseBytes, deltaBytes []byte) ([]byte, error) {
	if len(deltaBytes) == 0 {
		return baseBytes, nil
	}
	if len(baseBytes) == 0 {
		return deltaBytes, nil
	}

	reconstructed, err := bspatch.Bytes(baseBytes, deltaBytes)
	if err != nil {
		return nil, fmt.Errorf("bspatch: %w", err)
	}
	return reconstructed, nil
}
