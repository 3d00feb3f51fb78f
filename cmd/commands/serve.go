package commands

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/fastcoder/internal/actors"
	modelcallbacks "github.com/dohr-michael/fastcoder/internal/callbacks"
	"github.com/dohr-michael/fastcoder/internal/config"
	"github.com/dohr-michael/fastcoder/internal/events"
	"github.com/dohr-michael/fastcoder/internal/gateway"
	"github.com/dohr-michael/fastcoder/internal/heartbeat"
	"github.com/dohr-michael/fastcoder/internal/sessions"
	"github.com/dohr-michael/fastcoder/internal/storage"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"gateway"},
		Usage:   "Start the gateway and serve the chat panel",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
			providerFlag,
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	// Event bus
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	// Model calls are reported on the bus as model.call events.
	streamer, provider, err := newStreamer(ctx, cmd, cfg, modelcallbacks.NewEventBusHandler(bus))
	if err != nil {
		return err
	}

	// Panels share the model server; bound concurrent streams per provider.
	pool := actors.NewActorPool(cfg.Models.Providers)
	manager := sessions.NewManager(bus, actors.Limit(streamer, pool, provider), streamer.Name())
	defer manager.CloseAll()

	usage := storage.NewUsageTracker(bus)
	defer usage.Close()

	if cfg.Events.LogDir != "" {
		eventLog, err := storage.NewEventLogger(cfg.Events.LogDir, bus)
		if err != nil {
			return err
		}
		defer eventLog.Close()
		slog.Info("event log enabled", "dir", cfg.Events.LogDir)
	}

	server := gateway.NewServer(bus, manager, cfg.Gateway.Host, cfg.Gateway.Port, streamer.Name())
	server.SetUsageTracker(usage)
	server.SetActorPool(pool)

	ln, err := net.Listen("tcp", server.Addr())
	if err != nil {
		return err
	}

	// Lets `status` and `tui` find this gateway.
	hb := heartbeat.NewWriter(heartbeat.Path(config.HomePath()), ln.Addr().String(), streamer.Name())
	if err := hb.Start(); err != nil {
		slog.Warn("heartbeat disabled", "error", err)
	}
	defer hb.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	// Wait for signal or error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
