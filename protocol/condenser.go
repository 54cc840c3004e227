// ABOUTME: Delta condenser collapsing streaming *-start/delta/end families into *-complete events.
// ABOUTME: Per-connection state machine keyed by part id; orphan deltas are logged and skipped.
package protocol

import (
	"encoding/json"
	"log"
	"strings"
)

type accumulatorKind int

const (
	accText accumulatorKind = iota
	accReasoning
	accToolInput
)

// accumulator gathers deltas for one streaming part.
type accumulator struct {
	kind     accumulatorKind
	toolName string
	buf      strings.Builder
}

// Condenser consumes streaming wire events and yields the condensed events
// that belong in the durable log. Not safe for concurrent use; the writer
// serializes access.
type Condenser struct {
	parts map[string]*accumulator
}

// NewCondenser creates an empty condenser.
func NewCondenser() *Condenser {
	return &Condenser{parts: make(map[string]*accumulator)}
}

// Feed processes one event and returns the condensed events to persist
// (zero or one in practice). Message-scope brackets (start/finish/abort) are
// dropped; deltas accumulate; non-delta events pass through unchanged.
func (c *Condenser) Feed(e Event) []Event {
	switch e.Type {
	case TypeStart, TypeFinish, TypeAbort:
		return nil

	case TypeTextStart:
		c.parts[e.ID()] = &accumulator{kind: accText}
		return nil

	case TypeReasoningStart:
		c.parts[e.ID()] = &accumulator{kind: accReasoning}
		return nil

	case TypeToolInputStart:
		c.parts[e.ToolCallID()] = &accumulator{kind: accToolInput, toolName: e.GetString("toolName")}
		return nil

	case TypeTextDelta, TypeReasoningDelta:
		acc, ok := c.parts[e.ID()]
		if !ok {
			log.Printf("component=protocol.condenser action=orphan_delta type=%s id=%s", e.Type, e.ID())
			return nil
		}
		acc.buf.WriteString(e.GetString("delta"))
		return nil

	case TypeToolInputDelta:
		acc, ok := c.parts[e.ToolCallID()]
		if !ok {
			log.Printf("component=protocol.condenser action=orphan_delta type=%s id=%s", e.Type, e.ToolCallID())
			return nil
		}
		acc.buf.WriteString(e.GetString("inputTextDelta"))
		return nil

	case TypeTextEnd:
		id := e.ID()
		acc, ok := c.parts[id]
		if !ok {
			log.Printf("component=protocol.condenser action=orphan_end type=%s id=%s", e.Type, id)
			return nil
		}
		delete(c.parts, id)
		return []Event{TextComplete(id, acc.buf.String())}

	case TypeReasoningEnd:
		id := e.ID()
		acc, ok := c.parts[id]
		if !ok {
			log.Printf("component=protocol.condenser action=orphan_end type=%s id=%s", e.Type, id)
			return nil
		}
		delete(c.parts, id)
		return []Event{ReasoningComplete(id, acc.buf.String())}

	case TypeToolInputAvailable:
		id := e.ToolCallID()
		acc, ok := c.parts[id]
		if ok {
			delete(c.parts, id)
		}
		// Assemble input from the accumulated JSON string when the event
		// itself does not carry one.
		if !e.Has("input") && acc != nil {
			raw := acc.buf.String()
			var input any
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				input = raw
			}
			e = e.With("input", input)
		}
		return []Event{e}

	default:
		return []Event{e}
	}
}

// Reset discards all partial accumulator state without emitting completes.
// Used when a stream terminates abnormally mid-part.
func (c *Condenser) Reset() {
	c.parts = make(map[string]*accumulator)
}

// Pending returns the number of open accumulators.
func (c *Condenser) Pending() int {
	return len(c.parts)
}
