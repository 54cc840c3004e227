// ABOUTME: Wires the log follower into a running Bubble Tea program.
package tail

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/chimera/protocol"
)

// Run follows the log at path and displays it until the user quits or the
// context is cancelled.
func Run(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := protocol.OpenReader(path).Follow(ctx)
	if err != nil {
		return fmt.Errorf("follow log: %w", err)
	}

	p := tea.NewProgram(NewModel(path), tea.WithAltScreen())

	go func() {
		for e := range events {
			p.Send(EventMsg(e))
		}
		p.Send(FollowClosedMsg{})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run observer: %w", err)
	}
	return nil
}
