package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dohr-michael/smoothstream/internal/smooth"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	content := `{
	// This is a JSONC comment
	"gateway": {
		"host": "0.0.0.0",
		"port": 9999,
	},
	"smoothing": {
		"delay": "${{ .Env.SMOOTH_DELAY }}",
		"chunking": "line"
	},
	"storage": {"sqlite_path": "/tmp/pieces.db"}
}`
	path := writeFile(t, "config.jsonc", content)
	t.Setenv("SMOOTH_DELAY", "25ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Gateway.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Gateway.Port)
	}
	if cfg.Storage.SQLitePath != "/tmp/pieces.db" {
		t.Errorf("expected sqlite path, got %q", cfg.Storage.SQLitePath)
	}

	sc, err := cfg.Smoothing.Smooth()
	if err != nil {
		t.Fatal(err)
	}
	if sc.Delay != 25*time.Millisecond {
		t.Errorf("expected delay 25ms, got %s", sc.Delay)
	}
	if sc.Chunking != smooth.ChunkLine {
		t.Errorf("expected line chunking, got %s", sc.Chunking)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.jsonc", `{}`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("expected default host 127.0.0.1, got %s", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 18430 {
		t.Errorf("expected default port 18430, got %d", cfg.Gateway.Port)
	}
	if cfg.Events.BufferSize != 1024 {
		t.Errorf("expected default buffer size 1024, got %d", cfg.Events.BufferSize)
	}

	sc, err := cfg.Smoothing.Smooth()
	if err != nil {
		t.Fatal(err)
	}
	if sc.Delay != smooth.DefaultDelay {
		t.Errorf("expected default delay, got %s", sc.Delay)
	}
	if sc.Chunking != smooth.ChunkWord {
		t.Errorf("expected word chunking, got %s", sc.Chunking)
	}
}

func TestLoadZeroDelayKept(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.jsonc", `{"smoothing": {"delay": 0}}`))
	if err != nil {
		t.Fatal(err)
	}
	sc, err := cfg.Smoothing.Smooth()
	if err != nil {
		t.Fatal(err)
	}
	if sc.Delay != 0 {
		t.Errorf("expected pacing disabled, got %s", sc.Delay)
	}
}

func TestLoadMillisecondsNumber(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.jsonc", `{"smoothing": {"delay": 40}}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Smoothing.Delay.Duration(); got != 40*time.Millisecond {
		t.Errorf("expected 40ms, got %s", got)
	}
}

func TestLoadYAML(t *testing.T) {
	content := `
gateway:
  port: 7000
smoothing:
  delay: 15ms
  chunking: word
log:
  level: debug
`
	cfg, err := Load(writeFile(t, "config.yaml", content))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 7000 {
		t.Errorf("expected port 7000, got %d", cfg.Gateway.Port)
	}
	if got := cfg.Smoothing.Delay.Duration(); got != 15*time.Millisecond {
		t.Errorf("expected 15ms, got %s", got)
	}
	if cfg.Log.SlogLevel().String() != "DEBUG" {
		t.Errorf("expected debug level, got %s", cfg.Log.SlogLevel())
	}
}

func TestLoadRejectsUnknownChunking(t *testing.T) {
	_, err := Load(writeFile(t, "config.jsonc", `{"smoothing": {"chunking": "sentence"}}`))
	if err == nil {
		t.Fatal("expected error for unknown chunking")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.jsonc")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
