package chunk

import (
	"bytes"
	"io"
	"testing"
)

func drain(t *testing.T, c *Chunker) [][]byte {
	t.Helper()
	var out [][]byte
	for {
		buf, err := c.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, buf)
	}
	return out
}

func TestEmptyInputYieldsNoChunks(t *testing.T) {
	chunks := drain(t, NewChunker(bytes.NewReader(nil)))
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks for empty input, got %d", len(chunks))
	}
}

func TestSmallInputYieldsOneShortChunk(t *testing.T) {
	data := []byte("hello world")
	chunks := drain(t, NewChunker(bytes.NewReader(data)))
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if !bytes.Equal(chunks[0], data) {
		t.Fatalf("chunk content mismatch")
	}
}

func TestExactMultipleOfSize(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, Size*2)
	chunks := drain(t, NewChunker(bytes.NewReader(data)))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c) != Size {
			t.Fatalf("expected full-size chunk, got %d bytes", len(c))
		}
	}
}

func TestTrailingShortChunk(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, Size+100)
	chunks := drain(t, NewChunker(bytes.NewReader(data)))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != Size || len(chunks[1]) != 100 {
		t.Fatalf("unexpected chunk sizes: %d, %d", len(chunks[0]), len(chunks[1]))
	}
	if !bytes.Equal(Reassemble(chunks), data) {
		t.Fatal("reassembled data does not match original")
	}
}
