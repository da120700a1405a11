package config

import (
	"os"
	"path/filepath"
)

// HomePath returns the root directory for smoothstream data.
// It uses $SMOOTHSTREAM_PATH if set, otherwise defaults to ~/.smoothstream.
func HomePath() string {
	if v := os.Getenv("SMOOTHSTREAM_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".smoothstream")
	}
	return filepath.Join(home, ".smoothstream")
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	return filepath.Join(HomePath(), "config.jsonc")
}

// DotenvPath returns the path to the .env file.
func DotenvPath() string {
	return filepath.Join(HomePath(), ".env")
}
