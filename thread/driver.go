// ABOUTME: The thread driver: reconstructs the space from client history, runs the worker
// ABOUTME: loop of turns, and fans events out to the log and the live queue.

package thread

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/2389-research/chimera/agent"
	"github.com/2389-research/chimera/history"
	"github.com/2389-research/chimera/model"
	"github.com/2389-research/chimera/plugin"
	"github.com/2389-research/chimera/protocol"
	"github.com/2389-research/chimera/space"
	"github.com/google/uuid"
)

// defaultMaxTurns bounds multi-turn drives when the blueprint sets no limit.
const defaultMaxTurns = 10

// Driver builds runnable threads from client requests.
type Driver struct {
	// Widgets resolves blueprint component configs.
	Widgets *plugin.Registry

	// DataDir is where thread logs live. Empty means no persistence (the
	// client owns the log).
	DataDir string

	// NewClient resolves model strings; defaults to model.NewClient.
	NewClient func(modelString string) (model.Client, error)

	// OnFinished, when set, runs after a worker completes (used to index the
	// finished thread).
	OnFinished func(threadID uuid.UUID, logPath string)
}

// Thread is one runnable conversation.
type Thread struct {
	ID        uuid.UUID
	Blueprint *protocol.Blueprint
	Queue     *Queue[protocol.Event]

	space     space.Space
	state     *State
	infra     *StreamingInfrastructure
	writer    protocol.Writer
	input     *protocol.UserInput
	newClient func(string) (model.Client, error)
	condenser *protocol.Condenser
	maxTurns  int
	logPath   string
	onDone    func(uuid.UUID, string)
}

// Open validates the request, hydrates the space, replays mutations, and
// prepares the log and queue. The first history event must be the blueprint.
func (d *Driver) Open(events []protocol.Event, input *protocol.UserInput) (*Thread, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("history is empty; first event must be %s", protocol.TypeBlueprint)
	}
	bp, err := protocol.ParseBlueprint(events[0])
	if err != nil {
		return nil, err
	}

	sp, err := space.Hydrate(bp, d.Widgets)
	if err != nil {
		return nil, err
	}
	if err := space.ReplayMutations(sp, events); err != nil {
		return nil, err
	}

	var writer protocol.Writer = protocol.NoOpWriter{}
	logPath := ""
	if d.DataDir != "" {
		logPath = filepath.Join(d.DataDir, bp.ThreadID.String()+".jsonl")
		fw, existing, err := openThreadLog(logPath)
		if err != nil {
			return nil, err
		}
		if !existing {
			for _, e := range events {
				if err := fw.WriteEvent(e); err != nil {
					_ = fw.Close()
					return nil, fmt.Errorf("seed log from history: %w", err)
				}
			}
		}
		writer = fw
	}

	newClient := d.NewClient
	if newClient == nil {
		newClient = model.NewClient
	}
	maxTurns := bp.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	queue := NewQueue[protocol.Event]()
	t := &Thread{
		ID:        bp.ThreadID,
		Blueprint: bp,
		Queue:     queue,
		space:     sp,
		state:     NewState(bp, events),
		infra:     NewStreamingInfrastructure(bp.ThreadID, queue, writer),
		writer:    writer,
		input:     input,
		newClient: newClient,
		condenser: protocol.NewCondenser(),
		maxTurns:  maxTurns,
		logPath:   logPath,
		onDone:    d.OnFinished,
	}
	return t, nil
}

// openThreadLog opens the log in append mode, reporting whether it already
// held events (in which case the client-supplied history is not re-written).
func openThreadLog(path string) (*protocol.FileWriter, bool, error) {
	existing := false
	if events, err := protocol.OpenReader(path).Events(); err == nil && len(events) > 0 {
		existing = true
	}
	fw, err := protocol.OpenFileWriter(path)
	if err != nil {
		return nil, false, err
	}
	return fw, existing, nil
}

// logSink persists one event and mirrors its condensed form into the
// in-memory history used by later turns' transforms.
func (t *Thread) logSink(e protocol.Event) error {
	if err := t.infra.EmitThreadProtocol(e); err != nil {
		return err
	}
	if e.Transient() {
		return nil
	}
	for _, out := range t.condenser.Feed(e) {
		t.state.Append(out)
	}
	return nil
}

// Run drives turns until the space completes, the turn budget is spent, an
// approval pause occurs, or the context is cancelled. Cleanup always closes
// the writer and places the queue sentinel.
func (t *Thread) Run(ctx context.Context) {
	defer func() {
		if err := t.writer.Close(); err != nil {
			log.Printf("component=thread.driver action=close_writer_failed thread=%s err=%v", t.ID, err)
		}
		t.Queue.Close()
		if t.onDone != nil {
			t.onDone(t.ID, t.logPath)
		}
	}()

	space.BindEmitters(t.space, t.logSink)

	runner := &agent.Runner{
		NewClient: t.newClient,
		Sinks: agent.Sinks{
			Stream: t.infra.EmitVSP,
			Log:    t.logSink,
		},
	}

	baseEvents := t.state.Events()
	prompt := ""
	var deferred *history.DeferredToolResults

	switch t.input.Kind {
	case protocol.InputKindMessage, protocol.InputKindScheduled:
		if halted := t.runUserInputHooks(ctx); halted {
			return
		}
		for _, e := range []protocol.Event{
			protocol.UserTurnStart(),
			protocol.UserMessage(t.input.PromptText()),
			protocol.UserTurnEnd(),
		} {
			if err := t.logSink(e); err != nil {
				t.streamError(err)
				return
			}
		}
		prompt = t.input.PromptText()

	case protocol.InputKindDeferredTools:
		bundle, err := history.BuildDeferredResults(baseEvents, t.input)
		if err != nil {
			t.streamError(err)
			return
		}
		deferred = bundle
	}

	modelOverride := ""
	if t.input.ClientContext != nil {
		modelOverride = t.input.ClientContext.Model
	}

	for turn := 0; turn < t.maxTurns; turn++ {
		active, err := t.space.ActiveAgent()
		if err != nil {
			t.streamError(err)
			return
		}
		transformer, err := t.space.Transformer()
		if err != nil {
			t.streamError(err)
			return
		}

		events := baseEvents
		if turn > 0 {
			events = t.state.Events()
		}

		req := &agent.TurnRequest{
			Agent:         active,
			Prompt:        prompt,
			Deferred:      deferred,
			Events:        events,
			Transformer:   transformer,
			Plugins:       t.space.TurnPlugins(),
			State:         t.state,
			ModelOverride: modelOverride,
		}
		if turn == 0 {
			req.Attachments = t.input.Attachments
		}

		result, err := runner.RunTurn(ctx, req)
		if errors.Is(err, agent.ErrHalted) {
			log.Printf("component=thread.driver action=halted thread=%s", t.ID)
			return
		}
		if err != nil {
			// The runner already surfaced the error on the stream.
			log.Printf("component=thread.driver action=turn_failed thread=%s err=%v", t.ID, err)
			return
		}

		deferred = nil
		if t.runAgentOutputHooks(ctx, result) {
			return
		}
		if result.Paused() {
			return
		}

		decision := t.space.ShouldContinue(ctx, result)
		if !decision.Continue {
			return
		}
		prompt = decision.NextPrompt
	}
	log.Printf("component=thread.driver action=max_turns_reached thread=%s max=%d", t.ID, t.maxTurns)
}

// runUserInputHooks dispatches on_user_input; a halt or block result stops
// the drive, a hook error terminates the thread.
func (t *Thread) runUserInputHooks(ctx context.Context) bool {
	for _, p := range space.ProvidersFor(t.space.TurnPlugins(), plugin.HookOnUserInput) {
		res, err := p.OnUserInput(ctx, t.input, t.state)
		if err != nil {
			t.streamError(fmt.Errorf("plugin %s on_user_input: %w", p.Manifest().ClassName, err))
			return true
		}
		if res != nil && (res.Kind == plugin.ResultHalt || res.Kind == plugin.ResultBlock) {
			log.Printf("component=thread.driver action=input_blocked thread=%s class=%s reason=%q",
				t.ID, p.Manifest().ClassName, res.Reason)
			return true
		}
	}
	return false
}

// runAgentOutputHooks dispatches on_agent_output; halt ends the thread.
func (t *Thread) runAgentOutputHooks(ctx context.Context, result *agent.TurnResult) bool {
	for _, p := range space.ProvidersFor(t.space.TurnPlugins(), plugin.HookOnAgentOutput) {
		res, err := p.OnAgentOutput(ctx, result.Output(), t.state)
		if err != nil {
			t.streamError(fmt.Errorf("plugin %s on_agent_output: %w", p.Manifest().ClassName, err))
			return true
		}
		if res != nil && res.Kind == plugin.ResultHalt {
			log.Printf("component=thread.driver action=halted_by_plugin thread=%s class=%s reason=%q",
				t.ID, p.Manifest().ClassName, res.Reason)
			return true
		}
	}
	return false
}

func (t *Thread) streamError(err error) {
	log.Printf("component=thread.driver action=error thread=%s err=%v", t.ID, err)
	if emitErr := t.infra.EmitVSP(protocol.ErrorEvent(err.Error())); emitErr != nil {
		log.Printf("component=thread.driver action=error_emit_failed thread=%s err=%v", t.ID, emitErr)
	}
}
