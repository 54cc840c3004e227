// ABOUTME: Clock widget: injects the current time into the agent's ambient instructions.
package widgets

import (
	"context"
	"fmt"
	"time"

	"github.com/2389-research/chimera/plugin"
	"github.com/2389-research/chimera/protocol"
)

// Clock tells the agent what time it is each turn. Now is swappable for
// deterministic tests.
type Clock struct {
	plugin.Base
	instanceID string
	Now        func() time.Time
}

// NewClock builds a clock widget from its blueprint config.
func NewClock(cfg protocol.ComponentConfig) (plugin.Plugin, error) {
	return &Clock{instanceID: cfg.InstanceID, Now: time.Now}, nil
}

func (c *Clock) Manifest() plugin.Manifest {
	return plugin.Manifest{ClassName: "Clock", Version: "1", InstanceID: c.instanceID}
}

func (c *Clock) Hooks() plugin.HookSet {
	return plugin.NewHookSet(plugin.HookInstructions)
}

func (c *Clock) Instructions(context.Context, plugin.ReadableThreadState) (string, error) {
	return fmt.Sprintf("The current time is %s.", c.Now().UTC().Format(time.RFC1123)), nil
}
