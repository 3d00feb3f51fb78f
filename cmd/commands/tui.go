package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/fastcoder/clients/tui"
	wsclient "github.com/dohr-michael/fastcoder/clients/ws"
	"github.com/dohr-michael/fastcoder/internal/config"
	"github.com/dohr-michael/fastcoder/internal/heartbeat"
)

// NewTUICommand returns the tui subcommand.
func NewTUICommand() *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Open a terminal chat panel on a running gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway WebSocket URL (default: the running gateway, else from config)",
			},
		},
		Action: runTUI,
	}
}

func runTUI(ctx context.Context, cmd *cli.Command) error {
	url, err := gatewayURL(cmd)
	if err != nil {
		return err
	}

	client, err := wsclient.Dial(ctx, url)
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	return tui.Run(ctx, client)
}

// gatewayURL resolves the WebSocket URL: flag, then a live heartbeat, then
// the configured listen address.
func gatewayURL(cmd *cli.Command) (string, error) {
	if url := cmd.String("gateway"); url != "" {
		return url, nil
	}

	status, hb, err := heartbeat.Check(heartbeat.Path(config.HomePath()), 2*heartbeat.DefaultInterval)
	if err == nil && status == heartbeat.StatusAlive {
		return hb.WebSocketURL(), nil
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ws://%s:%d/api/ws", cfg.Gateway.Host, cfg.Gateway.Port), nil
}
