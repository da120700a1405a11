package smooth

import (
	"context"

	"github.com/dohr-michael/smoothstream/internal/chunks"
)

type runOptions struct {
	flushOnClose bool
}

// RunOption configures Run.
type RunOption func(*runOptions)

// FlushOnClose makes Run emit the buffered remainder when in is closed.
// Without it the remainder is dropped unless a step-finish chunk arrived.
func FlushOnClose() RunOption {
	return func(o *runOptions) { o.flushOnClose = true }
}

// Run feeds chunks from in through t and sends the results to out, one input
// at a time. It returns when in is closed, ctx is done or t fails. out is
// never closed by Run.
func Run(ctx context.Context, t *Transform, in <-chan chunks.Chunk, out chan<- chunks.Chunk, opts ...RunOption) error {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	emit := func(c chunks.Chunk) error {
		select {
		case out <- c:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-in:
			if !ok {
				if o.flushOnClose {
					return t.Flush(emit)
				}
				if rest := t.Buffered(); rest != "" {
					t.logger.Debug("smooth input closed with buffered text", "dropped", len(rest))
				}
				return nil
			}
			if err := t.Process(ctx, c, emit); err != nil {
				return err
			}
		}
	}
}

// Collect runs every chunk of in through t and returns what it emitted.
func Collect(ctx context.Context, t *Transform, in []chunks.Chunk) ([]chunks.Chunk, error) {
	var out []chunks.Chunk
	emit := func(c chunks.Chunk) error {
		out = append(out, c)
		return nil
	}
	for _, c := range in {
		if err := t.Process(ctx, c, emit); err != nil {
			return out, err
		}
	}
	return out, nil
}
