package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/smoothstream/internal/chunks"
	"github.com/dohr-michael/smoothstream/internal/config"
	"github.com/dohr-michael/smoothstream/internal/smooth"
)

// NewPipeCommand returns the pipe subcommand.
func NewPipeCommand() *cli.Command {
	return &cli.Command{
		Name:      "pipe",
		Usage:     "Smooth text from a file or stdin onto stdout",
		ArgsUsage: "[file]",
		Flags:     smoothingFlags(),
		Action:    runPipe,
	}
}

// smoothingFlags override the smoothing section of the config file.
func smoothingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:  "delay",
			Usage: "Pause between emitted pieces (0 disables pacing)",
		},
		&cli.StringFlag{
			Name:  "chunking",
			Usage: `Piece boundary: "word" or "line"`,
		},
	}
}

// loadConfig reads the config file, falling back to defaults when it is missing.
func loadConfig(cmd *cli.Command) *config.Config {
	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Debug("config not loaded, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}
	return cfg
}

// smoothConfig applies the smoothing flags on top of cfg.
func smoothConfig(cmd *cli.Command, cfg *config.Config) (smooth.Config, error) {
	sc, err := cfg.Smoothing.Smooth()
	if err != nil {
		return smooth.Config{}, err
	}
	if cmd.IsSet("delay") {
		sc.Delay = cmd.Duration("delay")
	}
	if cmd.IsSet("chunking") {
		mode, err := smooth.ParseChunking(cmd.String("chunking"))
		if err != nil {
			return smooth.Config{}, err
		}
		sc.Chunking = mode
	}
	sc.Logger = slog.Default()
	return sc, nil
}

func runPipe(ctx context.Context, cmd *cli.Command) error {
	cfg := loadConfig(cmd)
	setupLogging(cmd, cfg.Log.SlogLevel())

	sc, err := smoothConfig(cmd, cfg)
	if err != nil {
		return err
	}

	var src io.Reader = os.Stdin
	if path := cmd.Args().First(); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		src = f
	}

	return pipe(ctx, src, os.Stdout, smooth.NewFactory(sc)())
}

// pipe streams src through t into dst. Every read becomes one text delta and
// the remainder is flushed once src is exhausted.
func pipe(ctx context.Context, src io.Reader, dst io.Writer, t *smooth.Transform) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan chunks.Chunk)
	out := make(chan chunks.Chunk, 16)

	readErr := make(chan error, 1)
	go func() {
		defer close(in)
		readErr <- readDeltas(ctx, src, in)
	}()

	runErr := make(chan error, 1)
	go func() {
		defer close(out)
		runErr <- smooth.Run(ctx, t, in, out, smooth.FlushOnClose())
	}()

	var writeErr error
	for c := range out {
		d, ok := c.(chunks.TextDelta)
		if !ok || writeErr != nil {
			continue
		}
		if _, err := io.WriteString(dst, d.Text); err != nil {
			writeErr = fmt.Errorf("write output: %w", err)
			cancel()
		}
	}

	if err := <-runErr; err != nil && writeErr == nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}
	return <-readErr
}

func readDeltas(ctx context.Context, src io.Reader, in chan<- chunks.Chunk) error {
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			select {
			case in <- chunks.TextDelta{Text: string(buf[:n])}:
			case <-ctx.Done():
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
	}
}
