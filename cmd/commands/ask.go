package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	wsclient "github.com/dohr-michael/fastcoder/clients/ws"
	wsprotocol "github.com/dohr-michael/fastcoder/internal/gateway/ws"
	"github.com/dohr-michael/fastcoder/internal/sessions"
)

// NewAskCommand returns the ask subcommand.
func NewAskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Send one prompt to the model and print the response",
		ArgsUsage: "<prompt>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway WebSocket URL (empty = talk to the model directly)",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Response timeout in seconds",
				Value: 300,
			},
			providerFlag,
		},
		Action: runAsk,
	}
}

func runAsk(ctx context.Context, cmd *cli.Command) error {
	prompt := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("usage: fastcoder ask <prompt>: %w", sessions.ErrEmptyInput)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cmd.Int("timeout"))*time.Second)
	defer cancel()

	out := newPrinter(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))

	if url := cmd.String("gateway"); url != "" {
		return askGateway(ctx, url, prompt, out)
	}
	return askLocal(ctx, cmd, prompt, out)
}

// askLocal runs a single turn in-process, without a gateway.
func askLocal(ctx context.Context, cmd *cli.Command, prompt string, out *printer) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	streamer, _, err := newStreamer(ctx, cmd, cfg)
	if err != nil {
		return err
	}

	sess := sessions.New(sessions.Config{
		ID:       "cli",
		Model:    streamer.Name(),
		Streamer: streamer,
		Sink:     out,
	})
	if err := sess.Submit(ctx, prompt); err != nil {
		return err
	}
	return out.Err()
}

// askGateway sends the prompt through a running gateway.
func askGateway(ctx context.Context, url, prompt string, out *printer) error {
	client, err := wsclient.Dial(ctx, url)
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	reqID, err := client.Send(prompt)
	if err != nil {
		return fmt.Errorf("send prompt: %w", err)
	}

	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("timeout waiting for response")
			}
			return fmt.Errorf("read frame: %w", err)
		}

		switch {
		case frame.Type == wsprotocol.FrameTypeResponse && frame.ID == reqID:
			if frame.OK == nil || !*frame.OK {
				return fmt.Errorf("prompt rejected: %s", frame.Error)
			}

		case frame.Event == wsprotocol.EventUpdate:
			var p wsprotocol.UpdatePayload
			if err := json.Unmarshal(frame.Payload, &p); err != nil {
				continue
			}
			out.Update(sessions.Update{Text: p.Text, Final: p.Final, Error: p.Error, Cancelled: p.Cancelled})
			if p.Final {
				return out.Err()
			}
		}
	}
}

var errCancelled = errors.New("response cancelled")

// printer is a Sink that writes the running transcript to a terminal. On a
// terminal it prints fragments as they arrive; otherwise only the final text.
type printer struct {
	w       io.Writer
	live    bool
	printed string
	err     error
}

func newPrinter(w io.Writer, live bool) *printer {
	return &printer{w: w, live: live}
}

func (p *printer) Update(u sessions.Update) {
	switch {
	case u.Error:
		if p.printed != "" {
			fmt.Fprintln(p.w)
		}
		p.err = errors.New(u.Text)
		return
	case u.Cancelled:
		p.err = errCancelled
	}

	if !p.live {
		if u.Final {
			fmt.Fprintln(p.w, u.Text)
		}
		return
	}

	if strings.HasPrefix(u.Text, p.printed) {
		fmt.Fprint(p.w, u.Text[len(p.printed):])
	} else {
		fmt.Fprint(p.w, "\n"+u.Text)
	}
	p.printed = u.Text
	if u.Final {
		fmt.Fprintln(p.w)
	}
}

func (p *printer) Clear() {
	p.printed = ""
}

// Err reports how the turn ended.
func (p *printer) Err() error {
	return p.err
}
