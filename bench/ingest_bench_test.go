package bench

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/saworbit/snapvault/pkg/cas"
	"github.com/saworbit/snapvault/pkg/chunk"
	"github.com/saworbit/snapvault/pkg/hashutil"
)

// benchmarkIngest chunks and puts size bytes of content through a fresh
// chunk store, reporting achieved throughput. dedup controls whether every
// run reuses the same content (every put after the first hits the
// put-if-absent fast path) or generates unique content per iteration and
// per chunk (every put is a new write).
func benchmarkIngest(b *testing.B, size int, dedup bool) {
	dir := b.TempDir()
	store, err := cas.Open(filepath.Join(dir, "chunks"))
	if err != nil {
		b.Fatalf("cas.Open: %v", err)
	}

	content := bytes.Repeat([]byte("s"), size)

	b.ReportAllocs()
	b.SetBytes(int64(size))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		data := content
		if !dedup {
			data = make([]byte, size)
			for off := 0; off+16 <= size; off += chunk.Size {
				binary.LittleEndian.PutUint64(data[off:], uint64(i))
				binary.LittleEndian.PutUint64(data[off+8:], uint64(off))
			}
		}

		c := chunk.NewChunker(bytes.NewReader(data))
		for {
			buf, err := c.Next()
			if err != nil {
				break
			}
			digest := hashutil.Sum(buf)
			if err := store.Put(digest, buf); err != nil {
				b.Fatalf("Put: %v", err)
			}
		}
	}
}

func BenchmarkIngestDedupHit(b *testing.B) {
	benchmarkIngest(b, 4<<20, true)
}

func BenchmarkIngestUniqueContent(b *testing.B) {
	benchmarkIngest(b, 4<<20, false)
}
