package smooth

import (
	"log/slog"
	"time"
)

// Config is the host-facing description of a smoothing stage.
type Config struct {
	Delay    time.Duration
	Chunking Chunking
	// Sleep overrides the pacing primitive. Nil uses Sleep.
	Sleep  SleepFunc
	Logger *slog.Logger
}

// DefaultConfig returns word chunking with DefaultDelay.
func DefaultConfig() Config {
	return Config{Delay: DefaultDelay, Chunking: ChunkWord}
}

func (c Config) options() []Option {
	return []Option{
		WithDelay(c.Delay),
		WithChunking(c.Chunking),
		WithSleep(c.Sleep),
		WithLogger(c.Logger),
	}
}

// Factory creates independent transforms sharing one configuration.
type Factory func() *Transform

// NewFactory returns a Factory for cfg. Each call yields a transform with its
// own buffer.
func NewFactory(cfg Config) Factory {
	opts := cfg.options()
	return func() *Transform {
		return New(opts...)
	}
}
