// ABOUTME: Append-only JSONL ThreadProtocol writers: durable file-backed and no-op variants.
// ABOUTME: Non-blueprint events pass through the condenser; writes are mutex-serialized and fsynced.
package protocol

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Writer persists ThreadProtocol events. WriteEvent is safe for concurrent
// use. Transient events are silently dropped.
type Writer interface {
	WriteEvent(e Event) error
	Close() error
}

// FileWriter is the durable JSONL writer. Each emitted line is flushed to
// disk before WriteEvent returns, so a line is either absent or complete.
type FileWriter struct {
	mu        sync.Mutex
	file      *os.File
	condenser *Condenser
	closed    bool
}

// OpenFileWriter opens (or creates) a JSONL log at path in append mode,
// creating parent directories as needed.
func OpenFileWriter(path string) (*FileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent dirs: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &FileWriter{file: file, condenser: NewCondenser()}, nil
}

// WriteEvent condenses and appends the event. The blueprint event bypasses
// condensation; transient events are never written.
func (w *FileWriter) WriteEvent(e Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if e.Transient() {
		return nil
	}

	if e.Type == TypeBlueprint {
		return w.writeLine(e)
	}

	for _, out := range w.condenser.Feed(e) {
		if out.Transient() {
			continue
		}
		if err := w.writeLine(out); err != nil {
			return err
		}
	}
	return nil
}

func (w *FileWriter) writeLine(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event line: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	return nil
}

// Close discards partial condenser state and closes the file. Partial delta
// families never produce a *-complete line.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.condenser.Reset()
	return w.file.Close()
}

// NoOpWriter satisfies Writer for streaming-only deployments where the client
// owns persistence.
type NoOpWriter struct{}

func (NoOpWriter) WriteEvent(Event) error { return nil }
func (NoOpWriter) Close() error           { return nil }
