// ABOUTME: Durable mutation discipline for stateful plugins: save to the log, then apply.
// ABOUTME: StatefulCore is embedded; state changes only ever flow through Mutate or replay.

package plugin

import (
	"encoding/json"
	"fmt"
)

// Stateful is implemented by plugins whose state is reconstructed by replaying
// their own data-app-chimera mutations from the log.
type Stateful interface {
	Plugin

	// MutationSource returns the identity mutations are tagged with, e.g.
	// "widget:Notes:notes-1". Replay matches events on this string.
	MutationSource() string

	// ApplyMutation updates in-memory state from one mutation payload. Called
	// both online (via Mutate) and offline (replay sweep at hydration).
	ApplyMutation(payload json.RawMessage) error
}

// WidgetSource formats the mutation source for a widget instance.
func WidgetSource(className, instanceID string) string {
	return fmt.Sprintf("widget:%s:%s", className, instanceID)
}

// SpaceSource formats the mutation source for a space.
func SpaceSource(className string) string {
	return fmt.Sprintf("space:%s", className)
}

// StatefulCore enforces the save-then-apply order. Embed it in a stateful
// plugin and call Mutate for every state change; direct field writes outside
// ApplyMutation break replay equivalence.
type StatefulCore struct {
	self Stateful
	emit func(source string, payload json.RawMessage) error
}

// Init binds the core to its owning plugin. Call once at construction.
func (c *StatefulCore) Init(self Stateful) {
	c.self = self
}

// BindEmitter wires the log emitter. Until bound, Mutate fails: a stateful
// plugin must not change state outside a running thread.
func (c *StatefulCore) BindEmitter(emit func(source string, payload json.RawMessage) error) {
	c.emit = emit
}

// Mutate persists the mutation and then applies it locally, in that order.
func (c *StatefulCore) Mutate(m any) error {
	if c.self == nil {
		return fmt.Errorf("stateful core not initialized")
	}
	if c.emit == nil {
		return fmt.Errorf("stateful plugin %s has no emitter bound", c.self.MutationSource())
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal mutation: %w", err)
	}
	if err := c.emit(c.self.MutationSource(), payload); err != nil {
		return fmt.Errorf("save mutation: %w", err)
	}
	return c.self.ApplyMutation(payload)
}
