// ABOUTME: Multi-agent transformer: other agents' text is prefixed with their name.
// ABOUTME: Tool calls and results stay verbatim; rewriting them confuses models.

package history

import (
	"fmt"

	"github.com/2389-research/chimera/model"
	"github.com/2389-research/chimera/protocol"
)

// MultiAgent wraps the generic projection for one agent's perspective. Text
// produced by another agent is prefixed "(Agent: <Name>) – " so the model can
// tell voices apart.
type MultiAgent struct {
	PerspectiveAgentID string
}

func (m MultiAgent) Transform(events []protocol.Event) ([]model.Message, error) {
	msgs, owners, err := project(events)
	if err != nil {
		return nil, err
	}

	for i := range msgs {
		if msgs[i].Role != model.RoleAssistant {
			continue
		}
		owner := owners[i]
		if owner.AgentID == "" || owner.AgentID == m.PerspectiveAgentID {
			continue
		}
		for j := range msgs[i].Parts {
			p := &msgs[i].Parts[j]
			if p.Kind == model.PartText {
				p.Text = fmt.Sprintf("(Agent: %s) – %s", owner.AgentName, p.Text)
			}
		}
	}
	return msgs, nil
}
