// ABOUTME: The read-only thread view handed to plugin hooks.

package thread

import (
	"sync"

	"github.com/2389-research/chimera/protocol"
	"github.com/google/uuid"
)

// State implements plugin.ReadableThreadState over the driver's durable
// event history.
type State struct {
	threadID  uuid.UUID
	blueprint *protocol.Blueprint

	mu     sync.Mutex
	events []protocol.Event
}

// NewState seeds the view with the history the client supplied.
func NewState(bp *protocol.Blueprint, events []protocol.Event) *State {
	return &State{threadID: bp.ThreadID, blueprint: bp, events: events}
}

func (s *State) ThreadID() uuid.UUID { return s.threadID }

func (s *State) Blueprint() *protocol.Blueprint { return s.blueprint }

// Events returns a copy of the durable history so far.
func (s *State) Events() []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Append records a durable event into the view.
func (s *State) Append(e protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}
