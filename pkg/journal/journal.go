// Package journal implements the write-ahead log that makes a backup
// transaction recoverable after a crash: BEGIN, MANIFEST, METADATA and
// COMMIT lines bracket each snapshot so an interrupted transaction can be
// told apart from a durable one on the next store open.
package journal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/saworbit/snapvault/pkg/backuperr"
)

// Record is one parsed journal line, split into its tag and raw field
// string (everything after the first colon).
type Record struct {
	Tag   string
	Value string
}

// Journal is an append-only text file. Every write is flushed and fsynced
// before returning, so a record a caller observed succeed is durable.
type Journal struct {
	path string
	f    *os.File
}

// Open opens (creating if absent) the journal file at path for appending.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open journal %s: %v", backuperr.ErrIO, path, err)
	}
	return &Journal{path: path, f: f}, nil
}

func (j *Journal) writeLine(line string) error {
	if _, err := j.f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("%w: write journal line: %v", backuperr.ErrIO, err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync journal: %v", backuperr.ErrIO, err)
	}
	return nil
}

// Begin marks the start of a transaction for sid.
func (j *Journal) Begin(sid string) error {
	return j.writeLine("BEGIN:" + sid)
}

// Manifest records the manifest_hash written for the in-progress transaction.
func (j *Journal) Manifest(manifestHash string) error {
	return j.writeLine("MANIFEST:" + manifestHash)
}

// Metadata records the snapshot record fields about to be appended to the
// ledger.
func (j *Journal) Metadata(sid, merkleRoot, prevRoot string, ts int64, label string) error {
	return j.writeLine(fmt.Sprintf("METADATA:%s:%s:%s:%d:%s", sid, merkleRoot, prevRoot, ts, label))
}

// Commit marks sid's transaction as durable.
func (j *Journal) Commit(sid string) error {
	return j.writeLine("COMMIT:" + sid)
}

// Close closes the underlying file. It does not remove or compact it.
func (j *Journal) Close() error {
	if err := j.f.Close(); err != nil {
		return fmt.Errorf("%w: close journal: %v", backuperr.ErrIO, err)
	}
	return nil
}

// ParseLine splits one journal line into its tag and value. A line with no
// colon, or an empty tag before the colon, cannot have come from
// writeLine and means the file was truncated mid-write or damaged on disk.
func ParseLine(line string) (Record, error) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return Record{}, fmt.Errorf("%w: malformed line %q", backuperr.ErrJournalCorrupted, line)
	}
	return Record{Tag: line[:idx], Value: line[idx+1:]}, nil
}

// ReadLines reads every non-blank line of the journal file at path in
// order. A missing file yields an empty slice, not an error, since a
// store's first open has no journal yet.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: open journal %s: %v", backuperr.ErrIO, path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan journal %s: %v", backuperr.ErrIO, path, err)
	}
	return lines, nil
}

// Rewrite atomically replaces the journal file's contents with lines,
// used by recovery to compact out fully-processed transactions.
func Rewrite(path string, lines []string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "wal-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp journal: %v", backuperr.ErrIO, err)
	}
	tmpName := tmp.Name()

	for _, line := range lines {
		if _, err := tmp.WriteString(line + "\n"); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("%w: write temp journal: %v", backuperr.ErrIO, err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: sync temp journal: %v", backuperr.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close temp journal: %v", backuperr.ErrIO, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename journal into place: %v", backuperr.ErrIO, err)
	}
	return nil
}
