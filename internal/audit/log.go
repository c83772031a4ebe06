package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ppiankov/carewatch/internal/model"
)

// GenesisHash is the prev_hash for the first entry in a new audit log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Log is an append-only JSONL audit log with SHA-256 hash chaining.
// Each entry's prev_hash is the hash of the previous line, so any rewrite,
// deletion or insertion breaks the chain.
type Log struct {
	path     string
	file     logFile
	prevHash string
	mu       sync.Mutex
}

type logFile interface {
	Write(p []byte) (int, error)
	Sync() error
	Close() error
}

// Open opens (or creates) an audit log for appending and recovers the chain
// tail from the last line of an existing file. A file whose last line is
// not newline-terminated is refused: appending to it would corrupt the chain.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	prevHash, err := chainTail(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}

	return &Log{path: path, file: file, prevHash: prevHash}, nil
}

func chainTail(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return GenesisHash, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("audit: read existing log: %w", err)
	}
	defer f.Close()

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return "", fmt.Errorf("audit: read existing log: %w", err)
	}
	if last[0] != '\n' {
		return "", fmt.Errorf("audit: %s ends with a partial line; repair or move it before appending", path)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var lastLine []byte
	for scanner.Scan() {
		lastLine = append(lastLine[:0], scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("audit: scan existing log: %w", err)
	}
	if len(lastLine) == 0 {
		return GenesisHash, nil
	}
	return HashLine(lastLine), nil
}

// maxLineBytes bounds a single audit line; backend results can be large.
const maxLineBytes = 4 * 1024 * 1024

// Path returns the file the log appends to.
func (l *Log) Path() string {
	return l.path
}

// Record appends ev, chains it to the previous line and fsyncs before returning.
// Once the line is written the chain advances, even if the fsync fails.
func (l *Log) Record(ev model.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := EntryFromEvent(ev)
	entry.PrevHash = l.prevHash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}

	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	l.prevHash = HashLine(line)

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
