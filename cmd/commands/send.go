package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	wsclient "github.com/dohr-michael/smoothstream/clients/ws"
	"github.com/dohr-michael/smoothstream/internal/chunks"
)

// NewSendCommand returns the send subcommand.
func NewSendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Stream text through a running gateway and print the smoothed output",
		ArgsUsage: "[file]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway WebSocket URL",
				Value: "ws://127.0.0.1:18430/api/ws",
			},
			&cli.IntFlag{
				Name:  "delta-size",
				Usage: "Split the input into text deltas of this many bytes",
				Value: 16,
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Overall timeout in seconds",
				Value: 120,
			},
		},
		Action: runSend,
	}
}

func runSend(ctx context.Context, cmd *cli.Command) error {
	var src io.Reader = os.Stdin
	if path := cmd.Args().First(); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		src = f
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cmd.Int("timeout"))*time.Second)
	defer cancel()

	client, err := wsclient.Dial(ctx, cmd.String("gateway"))
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	return send(client, splitDeltas(string(data), int(cmd.Int("delta-size"))), os.Stdout)
}

// send pushes deltas and a closing step-finish, writing smoothed text to dst
// as it comes back.
func send(client *wsclient.Client, deltas []string, dst io.Writer) error {
	var writeErr error
	write := func(c chunks.Chunk) {
		if d, ok := c.(chunks.TextDelta); ok && writeErr == nil {
			_, writeErr = io.WriteString(dst, d.Text)
		}
	}

	push := func(c chunks.Chunk) error {
		id, err := client.Push(c)
		if err != nil {
			return fmt.Errorf("push: %w", err)
		}
		if err := client.AwaitResponse(id, write); err != nil {
			return err
		}
		return writeErr
	}

	for _, d := range deltas {
		if err := push(chunks.TextDelta{Text: d}); err != nil {
			return err
		}
	}
	return push(chunks.StepFinish{FinishReason: "stop"})
}

// splitDeltas cuts s into pieces of at most size bytes without splitting a
// UTF-8 sequence. size <= 0 yields s whole.
func splitDeltas(s string, size int) []string {
	if s == "" {
		return nil
	}
	if size <= 0 {
		return []string{s}
	}
	var out []string
	for len(s) > size {
		n := size
		for n > 0 && !isRuneStart(s[n]) {
			n--
		}
		if n == 0 {
			n = size
		}
		out = append(out, s[:n])
		s = s[n:]
	}
	return append(out, s)
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
