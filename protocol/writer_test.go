// ABOUTME: Tests for the file writer and reader: round-trip, condensation-on-write, durability.
// ABOUTME: Covers malformed-line tolerance, version mismatch, transient skip, usage sums, repair.
package protocol_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/2389-research/chimera/protocol"
	"github.com/google/uuid"
)

func testBlueprint(t *testing.T) *protocol.Blueprint {
	t.Helper()
	return &protocol.Blueprint{
		ThreadID:              uuid.New(),
		BlueprintVersion:      protocol.BlueprintVersion,
		ThreadProtocolVersion: protocol.ThreadProtocolVersion,
		Space: protocol.SpaceConfig{
			Kind: protocol.SpaceKindDefault,
			Agents: []protocol.AgentConfig{{
				Kind:       protocol.AgentKindInline,
				Name:       "Helper",
				Identifier: "helper",
				BasePrompt: "You are a helpful assistant.",
			}},
		},
	}
}

func writeBlueprint(t *testing.T, w protocol.Writer, bp *protocol.Blueprint) {
	t.Helper()
	e, err := bp.Event()
	if err != nil {
		t.Fatalf("blueprint event: %v", err)
	}
	if err := w.WriteEvent(e); err != nil {
		t.Fatalf("write blueprint: %v", err)
	}
}

func TestWriterCondensesDeltasToLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thread.jsonl")

	w, err := protocol.OpenFileWriter(path)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	writeBlueprint(t, w, testBlueprint(t))

	events := []protocol.Event{
		protocol.AgentStart("a1", "Helper", "msg_1"),
		protocol.StartMessage("msg_1"),
		protocol.TextStart("msg_1_text_0"),
		protocol.TextDelta("msg_1_text_0", "Hello "),
		protocol.TextDelta("msg_1_text_0", "world"),
		protocol.TextEnd("msg_1_text_0"),
		protocol.FinishMessage(),
		protocol.AgentFinish("a1", "Helper", "msg_1"),
	}
	for _, e := range events {
		if err := w.WriteEvent(e); err != nil {
			t.Fatalf("write event: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	got, err := protocol.OpenReader(path).Events()
	if err != nil {
		t.Fatalf("read events: %v", err)
	}

	wantTypes := []string{
		protocol.TypeBlueprint,
		protocol.TypeAgentStart,
		protocol.TypeTextComplete,
		protocol.TypeAgentFinish,
	}
	if len(got) != len(wantTypes) {
		t.Fatalf("expected %d log lines, got %d: %v", len(wantTypes), len(got), got)
	}
	for i, want := range wantTypes {
		if got[i].Type != want {
			t.Errorf("line %d: type = %s, want %s", i+1, got[i].Type, want)
		}
	}
	if content := got[2].GetString("content"); content != "Hello world" {
		t.Errorf("condensed content = %q, want %q", content, "Hello world")
	}
}

func TestWriterSkipsTransientEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thread.jsonl")

	w, err := protocol.OpenFileWriter(path)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	writeBlueprint(t, w, testBlueprint(t))
	if err := w.WriteEvent(protocol.UsageEvent("msg_1", protocol.Usage{InputTokens: 5})); err != nil {
		t.Fatalf("write transient: %v", err)
	}
	_ = w.Close()

	got, err := protocol.OpenReader(path).Events()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("transient event must not be persisted, got %d lines", len(got))
	}
}

func TestReaderSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thread.jsonl")

	bp := testBlueprint(t)
	e, _ := bp.Event()
	line, _ := json.Marshal(e)
	content := string(line) + "\n" + "{not json\n" + `{"type":"data-agent-start","data":{"agentId":"a1"}}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := protocol.OpenReader(path).Events()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected malformed line skipped, got %d events", len(got))
	}
}

func TestReaderVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thread.jsonl")

	bp := testBlueprint(t)
	bp.ThreadProtocolVersion = "9.9.9"
	data, _ := json.Marshal(bp)
	var fields map[string]any
	_ = json.Unmarshal(data, &fields)
	fields["type"] = protocol.TypeBlueprint
	line, _ := json.Marshal(fields)
	if err := os.WriteFile(path, append(line, '\n'), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, err := protocol.OpenReader(path).Blueprint()
	if err == nil {
		t.Fatal("expected version mismatch error")
	}
	if !errors.Is(err, protocol.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestSumUsageAndCountTurns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thread.jsonl")

	w, err := protocol.OpenFileWriter(path)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	writeBlueprint(t, w, testBlueprint(t))
	events := []protocol.Event{
		protocol.AgentStart("a1", "Helper", "msg_1"),
		protocol.StartStep(),
		protocol.FinishStep(&protocol.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}),
		protocol.StartStep(),
		protocol.FinishStep(&protocol.Usage{InputTokens: 20, OutputTokens: 5, TotalTokens: 25}),
		protocol.AgentFinish("a1", "Helper", "msg_1"),
	}
	for _, e := range events {
		if err := w.WriteEvent(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = w.Close()

	r := protocol.OpenReader(path)
	turns, err := r.CountAgentTurns()
	if err != nil || turns != 1 {
		t.Fatalf("turns = %d (%v), want 1", turns, err)
	}
	usage, err := r.SumUsage()
	if err != nil {
		t.Fatalf("sum usage: %v", err)
	}
	if usage.InputTokens != 30 || usage.OutputTokens != 10 || usage.TotalTokens != 40 {
		t.Errorf("usage = %+v, want 30/10/40", usage)
	}
}

func TestRepairDropsPartialTrailingLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thread.jsonl")

	bp := testBlueprint(t)
	e, _ := bp.Event()
	line, _ := json.Marshal(e)
	content := string(line) + "\n" + `{"type":"text-complete","id":"t1","cont`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	count, err := protocol.Repair(path)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if count != 1 {
		t.Fatalf("repair kept %d lines, want 1", count)
	}
	got, err := protocol.OpenReader(path).Events()
	if err != nil || len(got) != 1 {
		t.Fatalf("after repair: %d events (%v)", len(got), err)
	}
}

func TestFollowDeliversAppendedEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thread.jsonl")

	w, err := protocol.OpenFileWriter(path)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	writeBlueprint(t, w, testBlueprint(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := protocol.OpenReader(path).Follow(ctx)
	if err != nil {
		t.Fatalf("follow: %v", err)
	}

	first := <-ch
	if first.Type != protocol.TypeBlueprint {
		t.Fatalf("first followed event = %s, want blueprint", first.Type)
	}

	if err := w.WriteEvent(protocol.AgentStart("a1", "Helper", "msg_1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = w.Close()

	select {
	case e := <-ch:
		if e.Type != protocol.TypeAgentStart {
			t.Fatalf("followed event = %s, want data-agent-start", e.Type)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for appended event")
	}
}
