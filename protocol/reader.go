// ABOUTME: Line-oriented ThreadProtocol log reader with malformed-line tolerance and tail-follow.
// ABOUTME: Provides event iteration, blueprint extraction, turn counting, usage summing, and repair.
package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxLineBytes bounds a single log line; completed text events can be large.
const maxLineBytes = 4 * 1024 * 1024

// Reader reads a ThreadProtocol JSONL log from disk.
type Reader struct {
	path string
}

// OpenReader creates a reader for the log at path. The file is opened lazily
// per operation so the reader can coexist with a live writer.
func OpenReader(path string) *Reader {
	return &Reader{path: path}
}

// Path returns the underlying file path.
func (r *Reader) Path() string { return r.path }

// Events reads all events in order. Malformed lines are logged and skipped.
func (r *Reader) Events() ([]Event, error) {
	file, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open log for read: %w", err)
	}
	defer func() { _ = file.Close() }()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			log.Printf("component=protocol.reader action=skip_malformed_line path=%s line=%d err=%v", r.path, lineNo, err)
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan log: %w", err)
	}
	return events, nil
}

// EventsOfType returns events whose type is in the given set, in log order.
func (r *Reader) EventsOfType(types ...string) ([]Event, error) {
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	all, err := r.Events()
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, e := range all {
		if want[e.Type] {
			out = append(out, e)
		}
	}
	return out, nil
}

// Blueprint parses line 1 into a validated Blueprint. Surfaces
// ErrVersionMismatch when the log was written by an unsupported engine.
func (r *Reader) Blueprint() (*Blueprint, error) {
	events, err := r.Events()
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("log is empty")
	}
	return ParseBlueprint(events[0])
}

// CountAgentTurns counts completed agent turns (data-agent-finish events).
func (r *Reader) CountAgentTurns() (int, error) {
	events, err := r.EventsOfType(TypeAgentFinish)
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// SumUsage totals the usage records carried by finish-step events.
func (r *Reader) SumUsage() (Usage, error) {
	events, err := r.EventsOfType(TypeFinishStep)
	if err != nil {
		return Usage{}, err
	}
	var total Usage
	for _, e := range events {
		if u, ok := e.StepUsage(); ok {
			total = total.Add(u)
		}
	}
	return total, nil
}

// Follow tails the log, delivering existing events and then new ones as they
// are appended, until the context is cancelled. Malformed and partial trailing
// lines are skipped; a partial line is retried once it is completed by the
// writer.
func (r *Reader) Follow(ctx context.Context) (<-chan Event, error) {
	if _, err := os.Stat(r.path); err != nil {
		return nil, fmt.Errorf("stat log: %w", err)
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		var offset int64
		for {
			offset = r.drainFrom(ctx, offset, out)
			select {
			case <-ctx.Done():
				return
			case <-time.After(250 * time.Millisecond):
			}
		}
	}()
	return out, nil
}

// drainFrom reads complete lines starting at offset and returns the new
// offset past the last complete line.
func (r *Reader) drainFrom(ctx context.Context, offset int64, out chan<- Event) int64 {
	file, err := os.Open(r.path)
	if err != nil {
		return offset
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(offset, 0); err != nil {
		return offset
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// Partial trailing line: leave offset before it so the next
			// poll re-reads the completed line.
			return offset
		}
		offset += int64(len(line))
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(trimmed), &e); err != nil {
			log.Printf("component=protocol.reader action=skip_malformed_line path=%s err=%v", r.path, err)
			continue
		}
		select {
		case out <- e:
		case <-ctx.Done():
			return offset
		}
	}
}

// Repair rewrites the log keeping only complete, parseable lines. Uses a
// temp file + fsync + atomic rename, then fsyncs the parent directory.
// Returns the number of retained events.
func Repair(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open log for repair: %w", err)
	}

	var validLines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Event
		if json.Unmarshal([]byte(line), &e) == nil {
			validLines = append(validLines, scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		_ = file.Close()
		return 0, fmt.Errorf("scan log for repair: %w", err)
	}
	_ = file.Close()

	tmpPath := path + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	for _, line := range validLines {
		if _, err := fmt.Fprintln(tmpFile, line); err != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
			return 0, fmt.Errorf("write valid line: %w", err)
		}
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("fsync temp file: %w", err)
	}
	_ = tmpFile.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("rename temp to original: %w", err)
	}
	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return len(validLines), nil
}
