// ABOUTME: The default widget catalog mapping blueprint class names to factories.
package widgets

import "github.com/2389-research/chimera/plugin"

// DefaultRegistry returns a registry with every bundled widget class.
func DefaultRegistry() *plugin.Registry {
	r := plugin.NewRegistry()
	r.Register("Echo", NewEcho)
	r.Register("Notes", NewNotes)
	r.Register("Clock", NewClock)
	r.Register("Delegate", NewDelegate)
	return r
}
