package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/tailscale/hujson"
)

const (
	DefaultProvider = "ollama"
	DefaultModel    = "deepseek-r1:1.5b"
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 18420
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes JSONC config bytes. Comments and trailing commas are accepted.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvTemplates(string(data))

	std, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = DefaultHost
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = DefaultPort
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}

	if cfg.Models.Providers == nil {
		cfg.Models.Providers = make(map[string]ProviderConfig)
	}
	if len(cfg.Models.Providers) == 0 {
		cfg.Models.Providers[DefaultProvider] = ProviderConfig{
			Driver: "ollama",
			Model:  DefaultModel,
		}
	}
	if cfg.Models.Default == "" {
		if _, ok := cfg.Models.Providers[DefaultProvider]; ok {
			cfg.Models.Default = DefaultProvider
		} else if len(cfg.Models.Providers) == 1 {
			for name := range cfg.Models.Providers {
				cfg.Models.Default = name
			}
		}
	}

	for name, p := range cfg.Models.Providers {
		if p.Driver == "" {
			p.Driver = "ollama"
		}
		if p.Model == "" && p.Driver == "ollama" {
			p.Model = DefaultModel
		}
		cfg.Models.Providers[name] = p
	}
}
