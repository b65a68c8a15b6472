// Package chunk splits file contents into the fixed-size blocks the chunk
// store addresses by hash. Size, not content, defines a boundary: this is a
// deliberate simplification over content-defined chunking, which the store
// does not implement.
package chunk

import (
	"bufio"
	"errors"
	"io"
)

// Size is the contract chunk size: every chunk except the last one in a
// file is exactly this many bytes. Treat it as an on-disk format constant,
// not a tunable.
const Size = 1 << 20 // 1 MiB

// Chunker reads fixed-size chunks from a stream. The final chunk of a file
// may be shorter than Size, including absent entirely for an empty file.
type Chunker struct {
	r *bufio.Reader
}

// NewChunker wraps r for fixed-size chunk iteration.
func NewChunker(r io.Reader) *Chunker {
	return &Chunker{r: bufio.NewReaderSize(r, Size)}
}

// Next returns the next chunk, or io.EOF once the stream is exhausted. An
// empty input yields io.EOF on the first call and never produces a
// zero-length chunk.
func (c *Chunker) Next() ([]byte, error) {
	buf := make([]byte, Size)
	n, err := io.ReadFull(c.r, buf)
	switch {
	case n == 0 && errors.Is(err, io.EOF):
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF):
		return buf[:n], nil
	case err != nil:
		return nil, err
	default:
		return buf, nil
	}
}

// Reassemble concatenates chunks back into a single byte slice, so tests
// can check that a chunked stream reproduces its input.
func Reassemble(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
