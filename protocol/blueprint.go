// ABOUTME: Blueprint model: the immutable first log event describing agents, space, and widgets.
// ABOUTME: Tagged-union JSON for SpaceConfig and AgentConfig with round-trip fidelity and validation.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// BlueprintVersion is the blueprint document version this engine produces.
const BlueprintVersion = "0.1.0"

// ErrVersionMismatch is returned when a log's threadProtocolVersion differs
// from the engine's supported version.
var ErrVersionMismatch = errors.New("thread protocol version mismatch")

// Blueprint is the declarative thread configuration carried by the first log
// line. It is immutable once written.
type Blueprint struct {
	ThreadID              uuid.UUID   `json:"threadId"`
	BlueprintVersion      string      `json:"blueprintVersion"`
	ThreadProtocolVersion string      `json:"threadProtocolVersion"`
	Space                 SpaceConfig `json:"space"`
	MaxTurns              int         `json:"maxTurns,omitempty"`
	MaxDepth              int         `json:"maxDepth,omitempty"`
}

// Space config kinds.
const (
	SpaceKindDefault    = "default"
	SpaceKindReferenced = "referenced"
)

// SpaceConfig is a tagged variant: Default or Referenced. Both carry the
// ordered agent list and space-level widgets.
type SpaceConfig struct {
	Kind      string
	ClassName string         // referenced only
	Version   string         // referenced only
	Config    map[string]any // referenced only
	Agents    []AgentConfig
	Widgets   []ComponentConfig
}

type spaceConfigJSON struct {
	Type      string            `json:"type"`
	ClassName string            `json:"className,omitempty"`
	Version   string            `json:"version,omitempty"`
	Config    map[string]any    `json:"config,omitempty"`
	Agents    []AgentConfig     `json:"agents"`
	Widgets   []ComponentConfig `json:"widgets,omitempty"`
}

// MarshalJSON serializes the space config with its "type" discriminator.
func (s SpaceConfig) MarshalJSON() ([]byte, error) {
	kind := s.Kind
	if kind == "" {
		kind = SpaceKindDefault
	}
	return json.Marshal(spaceConfigJSON{
		Type:      kind,
		ClassName: s.ClassName,
		Version:   s.Version,
		Config:    s.Config,
		Agents:    s.Agents,
		Widgets:   s.Widgets,
	})
}

// UnmarshalJSON deserializes a tagged space config.
func (s *SpaceConfig) UnmarshalJSON(data []byte) error {
	var j spaceConfigJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	switch j.Type {
	case SpaceKindDefault, SpaceKindReferenced:
	case "":
		j.Type = SpaceKindDefault
	default:
		return fmt.Errorf("unknown space config type: %q", j.Type)
	}
	s.Kind = j.Type
	s.ClassName = j.ClassName
	s.Version = j.Version
	s.Config = j.Config
	s.Agents = j.Agents
	s.Widgets = j.Widgets
	return nil
}

// Agent config kinds.
const (
	AgentKindInline     = "inline"
	AgentKindReferenced = "referenced"
)

// AgentConfig is a tagged variant: Inline (full definition) or Referenced
// (uuid + version + overrides resolved by an external catalog).
type AgentConfig struct {
	Kind string

	// Inline fields.
	ID          string
	Name        string
	Identifier  string
	Description string
	BasePrompt  string
	ModelString string
	Widgets     []ComponentConfig
	Metadata    map[string]any

	// Referenced fields.
	UUID      string
	Version   string
	Overrides map[string]any
}

type agentConfigJSON struct {
	Type        string            `json:"type"`
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name,omitempty"`
	Identifier  string            `json:"identifier,omitempty"`
	Description string            `json:"description,omitempty"`
	BasePrompt  string            `json:"basePrompt,omitempty"`
	ModelString string            `json:"modelString,omitempty"`
	Widgets     []ComponentConfig `json:"widgets,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	UUID        string            `json:"uuid,omitempty"`
	Version     string            `json:"version,omitempty"`
	Overrides   map[string]any    `json:"overrides,omitempty"`
}

// MarshalJSON serializes the agent config with its "type" discriminator.
func (a AgentConfig) MarshalJSON() ([]byte, error) {
	kind := a.Kind
	if kind == "" {
		kind = AgentKindInline
	}
	return json.Marshal(agentConfigJSON{
		Type:        kind,
		ID:          a.ID,
		Name:        a.Name,
		Identifier:  a.Identifier,
		Description: a.Description,
		BasePrompt:  a.BasePrompt,
		ModelString: a.ModelString,
		Widgets:     a.Widgets,
		Metadata:    a.Metadata,
		UUID:        a.UUID,
		Version:     a.Version,
		Overrides:   a.Overrides,
	})
}

// UnmarshalJSON deserializes a tagged agent config.
func (a *AgentConfig) UnmarshalJSON(data []byte) error {
	var j agentConfigJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	switch j.Type {
	case AgentKindInline, AgentKindReferenced:
	case "":
		j.Type = AgentKindInline
	default:
		return fmt.Errorf("unknown agent config type: %q", j.Type)
	}
	a.Kind = j.Type
	a.ID = j.ID
	a.Name = j.Name
	a.Identifier = j.Identifier
	a.Description = j.Description
	a.BasePrompt = j.BasePrompt
	a.ModelString = j.ModelString
	a.Widgets = j.Widgets
	a.Metadata = j.Metadata
	a.UUID = j.UUID
	a.Version = j.Version
	a.Overrides = j.Overrides
	return nil
}

// ComponentConfig describes one widget instance attached to a space or agent.
type ComponentConfig struct {
	ClassName  string         `json:"className"`
	Version    string         `json:"version,omitempty"`
	InstanceID string         `json:"instanceId"`
	Config     map[string]any `json:"config,omitempty"`
}

// Validate enforces the blueprint invariants: at least one agent, unique
// agent identifiers, unique widget instance ids across the blueprint.
func (b *Blueprint) Validate() error {
	if b.ThreadID == uuid.Nil {
		return fmt.Errorf("blueprint missing threadId")
	}
	if len(b.Space.Agents) == 0 {
		return fmt.Errorf("blueprint must declare at least one agent")
	}

	identifiers := make(map[string]bool)
	instances := make(map[string]bool)

	registerWidgets := func(widgets []ComponentConfig) error {
		for _, w := range widgets {
			if w.InstanceID == "" {
				return fmt.Errorf("widget %s missing instanceId", w.ClassName)
			}
			if instances[w.InstanceID] {
				return fmt.Errorf("duplicate widget instanceId: %q", w.InstanceID)
			}
			instances[w.InstanceID] = true
		}
		return nil
	}

	if err := registerWidgets(b.Space.Widgets); err != nil {
		return err
	}
	for i, a := range b.Space.Agents {
		if a.Kind == AgentKindReferenced {
			if a.UUID == "" {
				return fmt.Errorf("referenced agent %d missing uuid", i)
			}
			continue
		}
		if a.Identifier == "" {
			return fmt.Errorf("agent %d missing identifier", i)
		}
		if identifiers[a.Identifier] {
			return fmt.Errorf("duplicate agent identifier: %q", a.Identifier)
		}
		identifiers[a.Identifier] = true
		if err := registerWidgets(a.Widgets); err != nil {
			return err
		}
	}
	return nil
}

// HasWidgetInstance reports whether any widget in the blueprint carries the
// given instance id. Used to check mutation sources against the blueprint.
func (b *Blueprint) HasWidgetInstance(instanceID string) bool {
	for _, w := range b.Space.Widgets {
		if w.InstanceID == instanceID {
			return true
		}
	}
	for _, a := range b.Space.Agents {
		for _, w := range a.Widgets {
			if w.InstanceID == instanceID {
				return true
			}
		}
	}
	return false
}

// Event renders the blueprint as the thread-blueprint log event.
func (b *Blueprint) Event() (Event, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return Event{}, fmt.Errorf("marshal blueprint: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Event{}, fmt.Errorf("reshape blueprint: %w", err)
	}
	return New(TypeBlueprint, fields), nil
}

// ParseBlueprint extracts and validates a Blueprint from a thread-blueprint
// event. Returns ErrVersionMismatch when the log's protocol version is not
// the engine's.
func ParseBlueprint(e Event) (*Blueprint, error) {
	if e.Type != TypeBlueprint {
		return nil, fmt.Errorf("expected %s event, got %q", TypeBlueprint, e.Type)
	}
	data, err := json.Marshal(e.Fields)
	if err != nil {
		return nil, fmt.Errorf("reshape blueprint event: %w", err)
	}
	var b Blueprint
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse blueprint: %w", err)
	}
	if b.ThreadProtocolVersion != ThreadProtocolVersion {
		return nil, fmt.Errorf("%w: log has %q, engine supports %q",
			ErrVersionMismatch, b.ThreadProtocolVersion, ThreadProtocolVersion)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}
