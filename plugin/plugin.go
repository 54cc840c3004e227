// ABOUTME: Plugin framework: lifecycle hooks, hook results, and the read-only thread view.
// ABOUTME: Widgets and spaces implement Plugin; hook dispatch is capability-indexed.

package plugin

import (
	"context"

	"github.com/2389-research/chimera/protocol"
	"github.com/google/uuid"
)

// Hook identifies one lifecycle hook a plugin may implement.
type Hook string

const (
	HookOnUserInput   Hook = "on_user_input"
	HookInstructions  Hook = "get_instructions"
	HookToolset       Hook = "get_toolset"
	HookOnAgentOutput Hook = "on_agent_output"
)

// HookSet declares which hooks a plugin implements. Dispatch skips plugins
// that do not declare a hook, so base no-ops are never called in hot paths.
type HookSet map[Hook]bool

// NewHookSet builds a set from the given hooks.
func NewHookSet(hooks ...Hook) HookSet {
	s := make(HookSet, len(hooks))
	for _, h := range hooks {
		s[h] = true
	}
	return s
}

// Has reports whether the hook is declared.
func (s HookSet) Has(h Hook) bool { return s[h] }

// Manifest identifies one plugin instance.
type Manifest struct {
	ClassName  string
	Version    string
	InstanceID string
}

// ReadableThreadState is the narrow read-only view passed into every hook.
// Plugins observe the thread through it and never hold engine internals.
type ReadableThreadState interface {
	ThreadID() uuid.UUID
	Blueprint() *protocol.Blueprint
	// Events returns the thread's durable history up to now, in log order.
	Events() []protocol.Event
}

// AgentOutput is the plugin-facing summary of one finished agent turn.
type AgentOutput struct {
	AgentID   string
	AgentName string
	MessageID string
	Text      string
	ToolCalls int
	// PendingApprovals is non-empty when the turn paused awaiting the user.
	PendingApprovals []string
}

// HookResult kinds.
const (
	ResultContinue   = "continue"
	ResultOverride   = "override"
	ResultTransform  = "transform"
	ResultBlock      = "block"
	ResultHalt       = "halt"
	ResultAwaitHuman = "await_human"
)

// HookResult is the tagged value a hook returns to steer the engine. A nil
// result means continue.
type HookResult struct {
	Kind string

	Value  any          // override
	Apply  func(any) any // transform
	Reason string       // block, halt, await_human
}

func Continue() *HookResult      { return &HookResult{Kind: ResultContinue} }
func Override(v any) *HookResult { return &HookResult{Kind: ResultOverride, Value: v} }

func Transform(fn func(any) any) *HookResult {
	return &HookResult{Kind: ResultTransform, Apply: fn}
}

func Block(reason string) *HookResult { return &HookResult{Kind: ResultBlock, Reason: reason} }
func Halt(reason string) *HookResult  { return &HookResult{Kind: ResultHalt, Reason: reason} }

func AwaitHuman(reason string) *HookResult {
	return &HookResult{Kind: ResultAwaitHuman, Reason: reason}
}

// Plugin is the uniform widget/space interface. Implementations embed Base
// and override the hooks they declare in Hooks().
type Plugin interface {
	Manifest() Manifest
	Hooks() HookSet

	// OnUserInput runs before the first turn for a user message.
	OnUserInput(ctx context.Context, input *protocol.UserInput, state ReadableThreadState) (*HookResult, error)

	// Instructions returns ambient text appended to the user message each
	// turn. Never placed in the system prompt.
	Instructions(ctx context.Context, state ReadableThreadState) (string, error)

	// Toolset returns the tools this plugin contributes for the turn.
	Toolset(ctx context.Context, state ReadableThreadState) (*Toolset, error)

	// OnAgentOutput runs after each agent turn.
	OnAgentOutput(ctx context.Context, output *AgentOutput, state ReadableThreadState) (*HookResult, error)
}

// Base is the no-op plugin core. Embed it and override what you declare.
type Base struct{}

func (Base) Hooks() HookSet { return nil }

func (Base) OnUserInput(context.Context, *protocol.UserInput, ReadableThreadState) (*HookResult, error) {
	return nil, nil
}

func (Base) Instructions(context.Context, ReadableThreadState) (string, error) {
	return "", nil
}

func (Base) Toolset(context.Context, ReadableThreadState) (*Toolset, error) {
	return nil, nil
}

func (Base) OnAgentOutput(context.Context, *AgentOutput, ReadableThreadState) (*HookResult, error) {
	return nil, nil
}
