package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dohr-michael/smoothstream/internal/smooth"
)

// Config is the root configuration for smoothstream.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Smoothing SmoothingConfig `json:"smoothing" yaml:"smoothing"`
	Events    EventsConfig    `json:"events" yaml:"events"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// SmoothingConfig configures every smoothing stage the process creates.
type SmoothingConfig struct {
	Delay    *Duration `json:"delay,omitempty" yaml:"delay,omitempty"`       // pause between pieces (default 10ms, 0 disables)
	Chunking string    `json:"chunking,omitempty" yaml:"chunking,omitempty"` // "word" (default) or "line"
}

// Smooth converts the section into a smooth.Config.
func (c SmoothingConfig) Smooth() (smooth.Config, error) {
	mode, err := smooth.ParseChunking(c.Chunking)
	if err != nil {
		return smooth.Config{}, err
	}
	cfg := smooth.Config{Delay: smooth.DefaultDelay, Chunking: mode}
	if c.Delay != nil {
		cfg.Delay = c.Delay.Duration()
	}
	return cfg, nil
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`
}

// StorageConfig selects where smoothed output is recorded. Empty disables a sink.
type StorageConfig struct {
	EventLogDir string `json:"event_log_dir,omitempty" yaml:"event_log_dir,omitempty"`
	SQLitePath  string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
}

// SlogLevel maps the configured level name, defaulting to info.
func (c LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Duration wraps time.Duration for JSON and YAML. It accepts a Go duration
// string ("25ms") or a bare number of milliseconds.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v * float64(time.Millisecond)))
		return nil
	case string:
		return d.parse(v)
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid duration at line %d", node.Line)
	}
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(time.Duration(ms * float64(time.Millisecond)))
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}
