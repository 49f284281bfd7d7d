// Package logsink implements the unified append-only NDJSON log described
// in spec.md §4.1: one physical write per record, daily rotation by
// recomputing the file path on every call, best-effort on I/O failure.
//
// Grounded on original_source/src/log_writer.rs (LogWriter): open in
// append mode, serialize, write a trailing newline, flush. The Rust
// original additionally takes a cross-process flock; this port keeps
// only the in-process mutex spec.md §4.1/§5 actually requires ("a
// process-wide mutex serializing the write") since a single local-logger
// process owns the log directory.
package logsink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/datawizz/local-logger/internal/record"
)

// Sink appends unified log records to daily-rotated NDJSON files.
type Sink struct {
	dir string
	mu  sync.Mutex
}

// New creates a Sink rooted at dir, creating dir if it does not exist.
func New(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logsink: create log dir: %w", err)
	}
	return &Sink{dir: dir}, nil
}

// Dir returns the log directory.
func (s *Sink) Dir() string {
	return s.dir
}

// PathForDate returns the NDJSON file path for a YYYY-MM-DD date string.
func (s *Sink) PathForDate(date string) string {
	return filepath.Join(s.dir, date+".jsonl")
}

// Append serializes r and writes it as one line to today's (r.Date's)
// log file. On any I/O error the failure is written to stderr and the
// record is dropped: logging never propagates into the caller's data
// path, per spec.md §4.1 and §7.
func (s *Sink) Append(r record.Record) {
	line, err := record.Marshal(r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "local-logger: marshal record: %v\n", err)
		return
	}
	line = append(line, '\n')

	path := s.PathForDate(r.Date)

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "local-logger: open log file %s: %v\n", path, err)
		return
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		fmt.Fprintf(os.Stderr, "local-logger: write log file %s: %v\n", path, err)
	}
}
