// ABOUTME: Tool and Toolset: the callable surface plugins contribute to the model each turn.
// ABOUTME: Tools carry a JSON-schema parameter description and an optional approval gate.

package plugin

import "context"

// Tool is one callable the model may invoke. Parameters is a JSON Schema
// object; it may be derived from current state at toolset-build time, so a
// tool's accepted values can vary per turn.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any

	// RequiresApproval, when set, gates execution on human approval for the
	// given arguments. A nil func means never.
	RequiresApproval func(args map[string]any) bool

	// Execute runs the tool. The result is serialized into the
	// tool-output-available event.
	Execute func(ctx context.Context, args map[string]any) (any, error)
}

// NeedsApproval reports whether this call must pause for human approval.
func (t *Tool) NeedsApproval(args map[string]any) bool {
	return t.RequiresApproval != nil && t.RequiresApproval(args)
}

// Toolset is an ordered collection of tools from one plugin.
type Toolset struct {
	Tools []Tool
}

// Merge combines toolsets in order. Later tools with duplicate names are
// dropped with the first definition winning.
func Merge(sets ...*Toolset) *Toolset {
	merged := &Toolset{}
	seen := make(map[string]bool)
	for _, set := range sets {
		if set == nil {
			continue
		}
		for _, t := range set.Tools {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			merged.Tools = append(merged.Tools, t)
		}
	}
	return merged
}

// Find returns the named tool, or nil.
func (s *Toolset) Find(name string) *Tool {
	if s == nil {
		return nil
	}
	for i := range s.Tools {
		if s.Tools[i].Name == name {
			return &s.Tools[i]
		}
	}
	return nil
}
