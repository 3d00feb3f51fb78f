package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	wsclient "github.com/dohr-michael/fastcoder/clients/ws"
)

// Run starts the terminal panel on an already connected client and blocks
// until the user quits or ctx is done.
func Run(ctx context.Context, client *wsclient.Client) error {
	p := tea.NewProgram(NewMainModel(client), tea.WithAltScreen(), tea.WithContext(ctx))

	go pump(client, p.Send)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}

// pump forwards gateway frames to the program until the connection ends.
func pump(client *wsclient.Client, send func(tea.Msg)) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			send(DisconnectedMsg{Err: err})
			return
		}
		if msg := Project(frame); msg != nil {
			send(msg)
		}
	}
}
