// Package audit implements the tamper-evident, hash-chained audit log:
// one space-separated line per command invocation, each entry's hash
// folding in the previous entry's hash so any edit or reorder breaks the
// chain from that point forward.
package audit

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/saworbit/snapvault/pkg/backuperr"
	"github.com/saworbit/snapvault/pkg/hashutil"
)

// Status is the outcome recorded for a command invocation.
type Status string

const (
	StatusOK   Status = "OK"
	StatusDeny Status = "DENY"
	StatusFail Status = "FAIL"
)

// Entry is one parsed audit log line.
type Entry struct {
	EntryHash string
	PrevHash  string
	UnixMS    int64
	User      string
	Command   string
	ArgsHash  string
	Status    Status
	ErrorMsg  string
}

// ArgsHash returns the ARGS_SHA256 field for an argument vector: the
// SHA-256 of its elements joined by a single space.
func ArgsHash(args []string) string {
	return hashutil.Sum([]byte(strings.Join(args, " ")))
}

func entryHash(prevHash string, unixMS int64, user, command, argsHash string, status Status) string {
	content := fmt.Sprintf("%s %d %s %s %s %s", prevHash, unixMS, user, command, argsHash, status)
	return hashutil.Sum([]byte(content))
}

// Logger is a mutex-serialized append-only writer for store/audit.log.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	prevHash string
}

// Open opens (creating if absent) the audit log at path, parsing its last
// existing entry to recover the current chain tip. Earlier entries are not
// checked here; Verify walks the whole chain.
func Open(path string) (*Logger, error) {
	prevHash := hashutil.Zero

	if data, err := os.ReadFile(path); err == nil {
		lines := splitLines(string(data))
		if len(lines) > 0 {
			last, err := parseLine(lines[len(lines)-1])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", backuperr.ErrAuditCorrupted, err)
			}
			prevHash = last.EntryHash
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: read audit log %s: %v", backuperr.ErrIO, path, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open audit log %s: %v", backuperr.ErrIO, path, err)
	}

	return &Logger{file: f, prevHash: prevHash}, nil
}

// Append records one command invocation. errorMsg is ignored (written
// empty) unless status is non-OK; it is never hashed.
func (l *Logger) Append(unixMS int64, user, command string, args []string, status Status, errorMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	argsHash := ArgsHash(args)
	hash := entryHash(l.prevHash, unixMS, user, command, argsHash, status)

	line := fmt.Sprintf("%s %s %d %s %s %s %s", hash, l.prevHash, unixMS, user, command, argsHash, status)
	if status != StatusOK && errorMsg != "" {
		line += " " + errorMsg
	}
	line += "\n"

	if _, err := l.file.WriteString(line); err != nil {
		return fmt.Errorf("%w: write audit entry: %v", backuperr.ErrIO, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync audit log: %v", backuperr.ErrIO, err)
	}

	l.prevHash = hash
	return nil
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("%w: close audit log: %v", backuperr.ErrIO, err)
	}
	return nil
}

func splitLines(data string) []string {
	var out []string
	for _, l := range strings.Split(data, "\n") {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// parseLine splits one audit line into its seven leading tokens plus an
// optional trailing error message, per the reader contract: everything
// after the 7th token is the error message, whitespace and all.
func parseLine(line string) (Entry, error) {
	fields := strings.SplitN(line, " ", 8)
	if len(fields) < 7 {
		return Entry{}, fmt.Errorf("malformed audit line: %q", line)
	}

	unixMS, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("malformed unix_ms in audit line: %q", line)
	}

	e := Entry{
		EntryHash: fields[0],
		PrevHash:  fields[1],
		UnixMS:    unixMS,
		User:      fields[3],
		Command:   fields[4],
		ArgsHash:  fields[5],
		Status:    Status(fields[6]),
	}
	if len(fields) == 8 {
		e.ErrorMsg = fields[7]
	}
	return e, nil
}

// Verify reads the audit log at path line by line, recomputing each
// entry's hash and checking the chain link to its predecessor. It reports
// the line number of the first inconsistency, or the final entry hash on
// success.
func Verify(path string) (lastHash string, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return hashutil.Zero, nil
		}
		return "", fmt.Errorf("%w: open audit log %s: %v", backuperr.ErrIO, path, err)
	}
	defer f.Close()

	prevHash := hashutil.Zero
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		e, perr := parseLine(line)
		if perr != nil {
			return "", fmt.Errorf("%w: at line %d: %v", backuperr.ErrAuditCorrupted, lineNo, perr)
		}
		if e.PrevHash != prevHash {
			return "", fmt.Errorf("%w: at line %d", backuperr.ErrAuditCorrupted, lineNo)
		}
		want := entryHash(e.PrevHash, e.UnixMS, e.User, e.Command, e.ArgsHash, e.Status)
		if want != e.EntryHash {
			return "", fmt.Errorf("%w: at line %d", backuperr.ErrAuditCorrupted, lineNo)
		}
		prevHash = e.EntryHash
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: scan audit log %s: %v", backuperr.ErrIO, path, err)
	}

	return prevHash, nil
}
