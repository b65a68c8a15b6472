package cas

import (
	"errors"
	"os"
	"testing"

	"github.com/saworbit/snapvault/pkg/backuperr"
	"github.com/saworbit/snapvault/pkg/hashutil"
)

func writeRaw(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	data := []byte("hello world")
	digest := hashutil.Sum(data)

	if err := s.Put(digest, data); err != nil {
		t.Fatalf("Put: %v", err)
	}

	has, err := s.Has(digest)
	if err != nil || !has {
		t.Fatalf("Has() = %v, %v; want true, nil", has, err)
	}

	got, err := s.Get(digest)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("Get() = %q, want %q", got, data)
	}
}

func TestPutIsIdempotent(t *testing.T) {
	s, _ := Open(t.TempDir())
	data := []byte("same bytes")
	digest := hashutil.Sum(data)

	if err := s.Put(digest, data); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := s.Put(digest, data); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	got, err := s.Get(digest)
	if err != nil || string(got) != string(data) {
		t.Fatalf("Get after duplicate Put: %q, %v", got, err)
	}
}

func TestGetMissingChunk(t *testing.T) {
	s, _ := Open(t.TempDir())
	_, err := s.Get(hashutil.Zero)
	if !errors.Is(err, backuperr.ErrChunkMissing) {
		t.Fatalf("Get(missing) error = %v, want ErrChunkMissing", err)
	}
}

func TestVerifyChunkDetectsTamper(t *testing.T) {
	s, _ := Open(t.TempDir())
	data := []byte("integrity matters")
	digest := hashutil.Sum(data)
	if err := s.Put(digest, data); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.VerifyChunk(digest); err != nil {
		t.Fatalf("VerifyChunk before tamper: %v", err)
	}

	// Flip a byte directly on disk to simulate corruption.
	tampered := append([]byte(nil), data...)
	tampered[0] ^= 0xFF
	if err := writeRaw(s.Path(digest), tampered); err != nil {
		t.Fatalf("writeRaw: %v", err)
	}

	err := s.VerifyChunk(digest)
	if !errors.Is(err, backuperr.ErrChunkCorrupted) {
		t.Fatalf("VerifyChunk after tamper = %v, want ErrChunkCorrupted", err)
	}
}
