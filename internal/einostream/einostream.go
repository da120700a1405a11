// Package einostream smooths eino model output streams.
package einostream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/smoothstream/internal/chunks"
	"github.com/dohr-michael/smoothstream/internal/smooth"
)

var errReaderClosed = errors.New("smoothed stream reader closed")

// FromMessage splits one streamed message into chunks: reasoning, content,
// tool calls, then a step finish when the message carries a finish reason.
func FromMessage(m *schema.Message) []chunks.Chunk {
	if m == nil {
		return nil
	}

	var out []chunks.Chunk
	if m.ReasoningContent != "" {
		out = append(out, chunks.ReasoningDelta{Text: m.ReasoningContent})
	}
	if m.Content != "" {
		out = append(out, chunks.TextDelta{Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		out = append(out, chunks.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if meta := m.ResponseMeta; meta != nil && meta.FinishReason != "" {
		sf := chunks.StepFinish{FinishReason: meta.FinishReason}
		if u := meta.Usage; u != nil {
			sf.Usage = &chunks.Usage{
				PromptTokens:     u.PromptTokens,
				CompletionTokens: u.CompletionTokens,
				TotalTokens:      u.TotalTokens,
			}
		}
		out = append(out, sf)
	}
	return out
}

// Options tunes Smooth.
type Options struct {
	// Capacity of the returned stream (default 16).
	Capacity int
	Logger   *slog.Logger
}

// Smooth consumes src in the background and returns a stream of smoothed
// chunks. When src ends without a final step finish, one is appended so the
// buffered remainder is not lost. Closing the returned reader stops the
// background work; a source or pacing error is delivered through Recv.
func Smooth(ctx context.Context, src *schema.StreamReader[*schema.Message], t *smooth.Transform, opts Options) *schema.StreamReader[chunks.Chunk] {
	if opts.Capacity <= 0 {
		opts.Capacity = 16
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	sr, sw := schema.Pipe[chunks.Chunk](opts.Capacity)
	go pump(ctx, src, t, sw, opts.Logger)
	return sr
}

func pump(ctx context.Context, src *schema.StreamReader[*schema.Message], t *smooth.Transform, sw *schema.StreamWriter[chunks.Chunk], logger *slog.Logger) {
	defer sw.Close()
	defer src.Close()

	emit := func(c chunks.Chunk) error {
		if closed := sw.Send(c, nil); closed {
			return errReaderClosed
		}
		return nil
	}

	fail := func(err error) {
		if errors.Is(err, errReaderClosed) {
			logger.Debug("smoothed stream abandoned by reader")
			return
		}
		sw.Send(nil, err)
	}

	finished := false
	for {
		msg, err := src.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fail(fmt.Errorf("receive model stream: %w", err))
			return
		}

		for _, c := range FromMessage(msg) {
			switch c.(type) {
			case chunks.StepFinish:
				finished = true
			case chunks.TextDelta:
				finished = false
			}
			if err := t.Process(ctx, c, emit); err != nil {
				fail(err)
				return
			}
		}
	}

	if !finished {
		if err := t.Process(ctx, chunks.StepFinish{}, emit); err != nil {
			fail(err)
		}
	}
}

// ReadAll drains sr and returns every chunk it produced.
func ReadAll(sr *schema.StreamReader[chunks.Chunk]) ([]chunks.Chunk, error) {
	defer sr.Close()

	var out []chunks.Chunk
	for {
		c, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
}
