package commands

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/dohr-michael/smoothstream/internal/smooth"
)

func TestPipePreservesText(t *testing.T) {
	const text = "The quick brown fox\njumps over\n\nthe lazy dog"

	tests := []struct {
		name     string
		chunking smooth.Chunking
		oneByte  bool
	}{
		{"word", smooth.ChunkWord, false},
		{"line", smooth.ChunkLine, false},
		{"word one byte reads", smooth.ChunkWord, true},
		{"line one byte reads", smooth.ChunkLine, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r io.Reader = strings.NewReader(text)
			if tt.oneByte {
				r = iotest.OneByteReader(r)
			}

			var dst bytes.Buffer
			tr := smooth.New(smooth.WithDelay(0), smooth.WithChunking(tt.chunking))
			if err := pipe(context.Background(), r, &dst, tr); err != nil {
				t.Fatalf("pipe: %v", err)
			}
			if dst.String() != text {
				t.Errorf("expected %q, got %q", text, dst.String())
			}
		})
	}
}

func TestPipeReadError(t *testing.T) {
	boom := errors.New("boom")
	var dst bytes.Buffer
	tr := smooth.New(smooth.WithDelay(0))

	err := pipe(context.Background(), iotest.ErrReader(boom), &dst, tr)
	if !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestPipeWriteError(t *testing.T) {
	tr := smooth.New(smooth.WithDelay(0))

	err := pipe(context.Background(), strings.NewReader("a b c d "), failWriter{}, tr)
	if err == nil || !strings.Contains(err.Error(), "write output") {
		t.Fatalf("expected write error, got %v", err)
	}
}
