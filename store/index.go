// ABOUTME: SQLite-backed index of finished threads for list queries.
// ABOUTME: The index is a cache; the JSONL logs stay the source of truth and can rebuild it.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/2389-research/chimera/protocol"
)

// ThreadRow is one indexed thread.
type ThreadRow struct {
	ThreadID     string    `json:"thread_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	AgentTurns   int       `json:"agent_turns"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
}

// ThreadIndex maintains the threads table. Safe for concurrent use; SQLite
// serializes writers and WAL mode keeps readers unblocked.
type ThreadIndex struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS threads (
	thread_id     TEXT PRIMARY KEY,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	agent_turns   INTEGER NOT NULL DEFAULT 0,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_threads_updated ON threads(updated_at DESC);
`

// OpenThreadIndex opens (or creates) the index database at path and applies
// the schema.
func OpenThreadIndex(path string) (*ThreadIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply index schema: %w", err)
	}
	return &ThreadIndex{db: db}, nil
}

// Close releases the database handle.
func (x *ThreadIndex) Close() error { return x.db.Close() }

// IndexLog reads a finished thread log and upserts its summary row. Logs that
// fail to parse are skipped with a logged warning rather than failing the
// caller; the index tolerates partial data.
func (x *ThreadIndex) IndexLog(logPath string) error {
	reader := protocol.OpenReader(logPath)

	bp, err := reader.Blueprint()
	if err != nil {
		return fmt.Errorf("index %s: %w", logPath, err)
	}
	events, err := reader.Events()
	if err != nil {
		return fmt.Errorf("index %s: %w", logPath, err)
	}

	turns := 0
	var usage protocol.Usage
	createdAt := ""
	for _, e := range events {
		if createdAt == "" {
			createdAt = e.GetString("timestamp")
		}
		if e.Type == protocol.TypeAgentStart {
			turns++
		}
		if u, ok := e.StepUsage(); ok && e.Type == protocol.TypeFinishStep {
			usage = usage.Add(u)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if createdAt == "" {
		createdAt = now
	}
	_, err = x.db.Exec(`
INSERT INTO threads (thread_id, created_at, updated_at, agent_turns, input_tokens, output_tokens, total_tokens)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(thread_id) DO UPDATE SET
	updated_at    = excluded.updated_at,
	agent_turns   = excluded.agent_turns,
	input_tokens  = excluded.input_tokens,
	output_tokens = excluded.output_tokens,
	total_tokens  = excluded.total_tokens`,
		bp.ThreadID.String(), createdAt, now,
		turns, usage.InputTokens, usage.OutputTokens, usage.TotalTokens)
	if err != nil {
		return fmt.Errorf("upsert thread %s: %w", bp.ThreadID, err)
	}
	return nil
}

// List returns indexed threads, most recently updated first.
func (x *ThreadIndex) List(limit int) ([]ThreadRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := x.db.Query(`
SELECT thread_id, created_at, updated_at, agent_turns, input_tokens, output_tokens, total_tokens
FROM threads ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []ThreadRow
	for rows.Next() {
		var r ThreadRow
		var created, updated string
		if err := rows.Scan(&r.ThreadID, &created, &updated,
			&r.AgentTurns, &r.InputTokens, &r.OutputTokens, &r.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns one indexed thread, or sql.ErrNoRows.
func (x *ThreadIndex) Get(threadID string) (ThreadRow, error) {
	var r ThreadRow
	var created, updated string
	err := x.db.QueryRow(`
SELECT thread_id, created_at, updated_at, agent_turns, input_tokens, output_tokens, total_tokens
FROM threads WHERE thread_id = ?`, threadID).Scan(
		&r.ThreadID, &created, &updated,
		&r.AgentTurns, &r.InputTokens, &r.OutputTokens, &r.TotalTokens)
	if err != nil {
		return ThreadRow{}, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, created)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return r, nil
}

// RebuildFromDir drops the table contents and re-indexes every .jsonl log in
// dir. Unparseable logs are skipped with a warning.
func (x *ThreadIndex) RebuildFromDir(dir string) error {
	if _, err := x.db.Exec(`DELETE FROM threads`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read log dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := x.IndexLog(path); err != nil {
			log.Printf("component=store.index action=skip_log path=%s err=%v", path, err)
		}
	}
	return nil
}
