// ABOUTME: StreamingInfrastructure: the single seam between turn events, the log, and SSE.
// ABOUTME: Injects threadId into boundary events; forwards durable mutations to the stream.

package thread

import (
	"log"
	"os"

	"github.com/2389-research/chimera/protocol"
	"github.com/google/uuid"
)

// StreamingInfrastructure fans events out to the live queue and the durable
// writer. Everything that reaches the client passes through here.
type StreamingInfrastructure struct {
	ThreadID uuid.UUID
	Queue    *Queue[protocol.Event]
	Writer   protocol.Writer

	verbose bool
}

// NewStreamingInfrastructure wires the seam. CHIMERA_VERBOSE_SSE turns on
// full event logging.
func NewStreamingInfrastructure(threadID uuid.UUID, queue *Queue[protocol.Event], writer protocol.Writer) *StreamingInfrastructure {
	return &StreamingInfrastructure{
		ThreadID: threadID,
		Queue:    queue,
		Writer:   writer,
		verbose:  os.Getenv("CHIMERA_VERBOSE_SSE") != "",
	}
}

// EmitVSP enqueues one wire event. Boundary events get threadId injected if
// absent; deltas never carry it.
func (s *StreamingInfrastructure) EmitVSP(e protocol.Event) error {
	if !e.IsDelta() && e.ThreadID() == "" {
		e = e.With("threadId", s.ThreadID.String())
	}
	if s.verbose {
		if data, err := e.MarshalJSON(); err == nil {
			log.Printf("component=thread.infra action=emit_vsp event=%s", data)
		}
	} else if !e.IsDelta() {
		log.Printf("component=thread.infra action=emit_vsp type=%s", e.Type)
	}
	s.Queue.Push(e)
	return nil
}

// EmitThreadProtocol persists one event. Durable mutations are also forwarded
// to the stream so the client sees state changes in real time. Transient
// events skip the log entirely but still stream, so widgets can surface live
// sub-events the client renders without them ever landing in the history.
func (s *StreamingInfrastructure) EmitThreadProtocol(e protocol.Event) error {
	if e.Transient() {
		return s.EmitVSP(e)
	}
	if err := s.Writer.WriteEvent(e); err != nil {
		return err
	}
	if e.Type == protocol.TypeAppMutation {
		return s.EmitVSP(e)
	}
	return nil
}
