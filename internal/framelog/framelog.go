// Package framelog persists a human-readable, append-only record of every
// frame the daemon receives or transmits.
package framelog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/evdash/telemetryd/internal/can"
)

// Direction tags a log line as received or transmitted.
type Direction string

const (
	RX Direction = "RX"
	TX Direction = "TX"
)

// Log is an append-only frame log. The file is opened once and held; every
// record is a single newline-terminated line so lines never interleave.
// Writes are mutex-serialized for any future second writer. A Log is safe for
// concurrent use.
type Log struct {
	mu   sync.Mutex
	path string
	f    *os.File
	now  func() time.Time
}

// Open creates or opens the log file for appending, creating parent
// directories as needed.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("framelog mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("framelog open %s: %w", path, err)
	}
	return &Log{path: path, f: f, now: time.Now}, nil
}

// Record appends one frame as "<RFC3339 timestamp> <RX|TX> <id> [<len>] <bytes>".
// A write failure is returned for the caller to report; the log stays usable
// for subsequent records.
func (l *Log) Record(dir Direction, fr can.Frame) error {
	line := fmt.Sprintf("%s %s %s\n", l.now().UTC().Format(time.RFC3339), dir, fr.String())
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.WriteString(line); err != nil {
		return fmt.Errorf("framelog write: %w", err)
	}
	return nil
}

// Size returns the current byte size of the log file.
func (l *Log) Size() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fi, err := l.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("framelog stat: %w", err)
	}
	return uint64(fi.Size()), nil
}

// Path returns the configured log file path.
func (l *Log) Path() string { return l.path }

// Close releases the file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
