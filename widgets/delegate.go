// ABOUTME: Delegate widget: a delegate_task tool that runs a one-shot sub-agent through
// ABOUTME: the mux agent loop and returns its report. Always gated on human approval.
package widgets

import (
	"context"
	"fmt"
	"log"
	"sync"

	muxagent "github.com/2389-research/mux/agent"
	muxllm "github.com/2389-research/mux/llm"
	"github.com/2389-research/mux/tool"

	"github.com/2389-research/chimera/model"
	"github.com/2389-research/chimera/plugin"
	"github.com/2389-research/chimera/protocol"
)

const delegateSystemPrompt = `You are a focused sub-agent completing a single delegated task.
Work through the task, then call report_result exactly once with your findings.
Keep the report self-contained: the delegating agent sees only what you report.`

// Delegate contributes delegate_task: spin up a sub-agent for a self-contained
// task and return its report. Delegation spends tokens on a second agent loop,
// so every call requires approval.
type Delegate struct {
	plugin.Base
	instanceID  string
	modelString string

	// NewLLMClient resolves the sub-agent's model client. Swappable in tests;
	// nil uses the routed Chat Completions client.
	NewLLMClient func(modelString string) (muxllm.Client, error)
}

// NewDelegate builds a delegate widget from its blueprint config. The config
// map may carry "model_string" to pin the sub-agent's model.
func NewDelegate(cfg protocol.ComponentConfig) (plugin.Plugin, error) {
	modelString, _ := cfg.Config["model_string"].(string)
	return &Delegate{instanceID: cfg.InstanceID, modelString: modelString}, nil
}

func (d *Delegate) Manifest() plugin.Manifest {
	return plugin.Manifest{ClassName: "Delegate", Version: "1", InstanceID: d.instanceID}
}

func (d *Delegate) Hooks() plugin.HookSet {
	return plugin.NewHookSet(plugin.HookToolset)
}

func (d *Delegate) Toolset(context.Context, plugin.ReadableThreadState) (*plugin.Toolset, error) {
	return &plugin.Toolset{Tools: []plugin.Tool{{
		Name:        "delegate_task",
		Description: "Delegate a self-contained task to a sub-agent and receive its report. Use for work that benefits from a fresh context.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task": map[string]any{
					"type":        "string",
					"description": "A complete description of the task, including all context the sub-agent needs.",
				},
			},
			"required": []any{"task"},
		},
		RequiresApproval: func(map[string]any) bool { return true },
		Execute:          d.runSubAgent,
	}}}, nil
}

// runSubAgent drives one mux agent loop for the task and returns the report
// the sub-agent filed.
func (d *Delegate) runSubAgent(ctx context.Context, args map[string]any) (any, error) {
	task, ok := args["task"].(string)
	if !ok || task == "" {
		return nil, fmt.Errorf("'task' parameter must be a non-empty string")
	}

	newClient := d.NewLLMClient
	if newClient == nil {
		newClient = func(s string) (muxllm.Client, error) { return model.NewMuxClient(s) }
	}
	client, err := newClient(d.modelString)
	if err != nil {
		return nil, fmt.Errorf("resolve sub-agent model: %w", err)
	}

	report := &reportResultTool{}
	registry := tool.NewRegistry()
	registry.Register(report)

	sub := muxagent.New(muxagent.Config{
		Name:          "delegate-" + d.instanceID,
		Registry:      registry,
		LLMClient:     client,
		SystemPrompt:  delegateSystemPrompt,
		MaxIterations: 10,
	})

	log.Printf("component=widgets.delegate action=run_subagent instance=%s", d.instanceID)
	if err := sub.Run(ctx, task); err != nil {
		return nil, fmt.Errorf("sub-agent failed: %w", err)
	}

	result := report.get()
	if result == "" {
		return nil, fmt.Errorf("sub-agent finished without filing a report")
	}
	return result, nil
}

// reportResultTool captures the sub-agent's single report.
type reportResultTool struct {
	mu     sync.Mutex
	report string
}

func (t *reportResultTool) Name() string { return "report_result" }

func (t *reportResultTool) Description() string {
	return "File your final report for the delegated task. Call exactly once when done."
}

func (t *reportResultTool) RequiresApproval(map[string]any) bool { return false }

func (t *reportResultTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"report": map[string]any{
				"type":        "string",
				"description": "The complete result of the task.",
			},
		},
		"required": []any{"report"},
	}
}

func (t *reportResultTool) Execute(_ context.Context, params map[string]any) (*tool.Result, error) {
	report, ok := params["report"].(string)
	if !ok || report == "" {
		return nil, fmt.Errorf("'report' parameter must be a non-empty string")
	}
	t.mu.Lock()
	t.report = report
	t.mu.Unlock()
	return tool.NewResult("report_result", true, "Report filed", ""), nil
}

func (t *reportResultTool) get() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report
}
