package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/cloudwego/eino/callbacks"
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/fastcoder/internal/config"
	"github.com/dohr-michael/fastcoder/internal/models"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "fastcoder",
		Usage: "Local coding assistant backed by a local language model",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("debug") {
				slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewAskCommand(),
			NewTUICommand(),
			NewStatusCommand(),
		},
	}
}

// providerFlag selects a configured model provider by name.
var providerFlag = &cli.StringFlag{
	Name:    "provider",
	Aliases: []string{"p"},
	Usage:   "Model provider to use (default: models.default from config)",
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("config not found, using defaults", "path", path)
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newStreamer builds the chat streamer of the selected provider and returns
// the provider name with it.
func newStreamer(ctx context.Context, cmd *cli.Command, cfg *config.Config, handlers ...callbacks.Handler) (*models.EinoStreamer, string, error) {
	registry := models.NewRegistry(cfg.Models)

	name := registry.DefaultName()
	if cmd.IsSet("provider") {
		name = cmd.String("provider")
	}
	if name == "" {
		return nil, "", fmt.Errorf("no model provider configured (have %v)", registry.Names())
	}

	chatModel, err := registry.Get(ctx, name)
	if err != nil {
		return nil, "", fmt.Errorf("init model %q: %w", name, err)
	}
	return models.NewStreamer(chatModel, registry.ModelName(name), handlers...), name, nil
}
