// Package smooth re-chunks a bursty text stream into word or line sized
// pieces and paces their emission.
//
// A Transform buffers incoming text deltas, emits every prefix of the buffer
// that ends on a boundary, and sleeps between emissions. Any remainder stays
// buffered until more text arrives or a step-finish chunk flushes it.
// Non-text chunks are forwarded unchanged and in order.
package smooth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dohr-michael/smoothstream/internal/chunks"
)

// DefaultDelay is the pause between two emitted pieces.
const DefaultDelay = 10 * time.Millisecond

var ErrPacing = errors.New("pacing failed")

// SleepFunc suspends the caller for d. It returns early with an error when
// the pause cannot be honored, for example because ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// EmitFunc forwards one chunk downstream.
type EmitFunc func(chunks.Chunk) error

// State reports what a Transform is doing.
type State int

const (
	StateIdle State = iota
	StateDraining
)

func (s State) String() string {
	if s == StateDraining {
		return "draining"
	}
	return "idle"
}

// Transform is a single smoothing stage. It is not safe for concurrent use:
// hosts must deliver chunks one at a time and wait for Process to return.
type Transform struct {
	delay    time.Duration
	chunking Chunking
	sleep    SleepFunc
	match    matcher
	logger   *slog.Logger

	buffer string
	state  State
	err    error
}

// Option configures a Transform.
type Option func(*Transform)

// WithDelay sets the pause between emitted pieces. Zero disables pacing.
func WithDelay(d time.Duration) Option {
	return func(t *Transform) { t.delay = d }
}

func WithChunking(c Chunking) Option {
	return func(t *Transform) { t.chunking = c }
}

// WithSleep replaces the pacing primitive.
func WithSleep(fn SleepFunc) Option {
	return func(t *Transform) {
		if fn != nil {
			t.sleep = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Transform) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a Transform. Without options it splits on words and waits
// DefaultDelay between pieces.
func New(opts ...Option) *Transform {
	t := &Transform{
		delay:    DefaultDelay,
		chunking: ChunkWord,
		sleep:    Sleep,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.match = t.chunking.matcher()
	return t
}

// Process handles one incoming chunk and emits zero or more chunks.
//
// A failure from emit or from the sleep capability terminates the transform:
// the error is returned and every later call returns it again.
func (t *Transform) Process(ctx context.Context, c chunks.Chunk, emit EmitFunc) error {
	if t.err != nil {
		return t.err
	}

	switch c := c.(type) {
	case chunks.StepFinish:
		if err := t.Flush(emit); err != nil {
			return err
		}
		if err := emit(c); err != nil {
			return t.fail(err)
		}
		return nil
	case chunks.TextDelta:
		t.buffer += c.Text
		return t.drain(ctx, emit)
	default:
		if err := emit(c); err != nil {
			return t.fail(err)
		}
		return nil
	}
}

// Flush emits the buffered remainder, if any, as a single text delta.
func (t *Transform) Flush(emit EmitFunc) error {
	if t.err != nil {
		return t.err
	}
	if t.buffer == "" {
		return nil
	}
	if err := emit(chunks.TextDelta{Text: t.buffer}); err != nil {
		return t.fail(err)
	}
	t.buffer = ""
	return nil
}

// Buffered returns the text received but not yet emitted.
func (t *Transform) Buffered() string { return t.buffer }

func (t *Transform) State() State { return t.state }

// Err returns the error that terminated the transform, if any.
func (t *Transform) Err() error { return t.err }

func (t *Transform) Delay() time.Duration { return t.delay }

func (t *Transform) Chunking() Chunking { return t.chunking }

func (t *Transform) drain(ctx context.Context, emit EmitFunc) error {
	t.state = StateDraining
	defer func() { t.state = StateIdle }()

	pieces := 0
	for {
		n := t.match(t.buffer)
		if n == 0 {
			break
		}

		if err := emit(chunks.TextDelta{Text: t.buffer[:n]}); err != nil {
			return t.fail(err)
		}
		t.buffer = t.buffer[n:]
		pieces++

		if t.delay > 0 {
			if err := t.sleep(ctx, t.delay); err != nil {
				return t.fail(fmt.Errorf("%w: %w", ErrPacing, err))
			}
		}
	}

	if pieces > 0 {
		t.logger.Debug("smooth drain",
			"chunking", t.chunking.String(),
			"pieces", pieces,
			"buffered", len(t.buffer))
	}
	return nil
}

func (t *Transform) fail(err error) error {
	t.err = err
	t.logger.Debug("smooth transform stopped", "error", err)
	return err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
