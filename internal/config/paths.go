package config

import (
	"os"
	"path/filepath"
)

// HomePath returns the root directory for fastcoder data.
// It uses $FASTCODER_PATH if set, otherwise defaults to ~/.fastcoder.
func HomePath() string {
	if v := os.Getenv("FASTCODER_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".fastcoder")
	}
	return filepath.Join(home, ".fastcoder")
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	return filepath.Join(HomePath(), "config.jsonc")
}

// DotenvPath returns the path to the .env file.
func DotenvPath() string {
	return filepath.Join(HomePath(), ".env")
}
