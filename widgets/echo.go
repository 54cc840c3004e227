// ABOUTME: Echo widget: the smallest possible toolset provider, returns its input verbatim.
package widgets

import (
	"context"
	"fmt"

	"github.com/2389-research/chimera/plugin"
	"github.com/2389-research/chimera/protocol"
)

// Echo contributes one tool that returns its argument unchanged. Useful for
// wiring checks and round-trip tests.
type Echo struct {
	plugin.Base
	instanceID string
}

// NewEcho builds an echo widget from its blueprint config.
func NewEcho(cfg protocol.ComponentConfig) (plugin.Plugin, error) {
	return &Echo{instanceID: cfg.InstanceID}, nil
}

func (e *Echo) Manifest() plugin.Manifest {
	return plugin.Manifest{ClassName: "Echo", Version: "1", InstanceID: e.instanceID}
}

func (e *Echo) Hooks() plugin.HookSet {
	return plugin.NewHookSet(plugin.HookToolset)
}

func (e *Echo) Toolset(context.Context, plugin.ReadableThreadState) (*plugin.Toolset, error) {
	return &plugin.Toolset{Tools: []plugin.Tool{{
		Name:        "echo",
		Description: "Return the given string unchanged.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"s": map[string]any{
					"type":        "string",
					"description": "The string to echo back.",
				},
			},
			"required": []any{"s"},
		},
		Execute: func(_ context.Context, args map[string]any) (any, error) {
			s, ok := args["s"].(string)
			if !ok {
				return nil, fmt.Errorf("'s' parameter must be a string")
			}
			return s, nil
		},
	}}}, nil
}
