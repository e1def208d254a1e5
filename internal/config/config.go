package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration loaded from file/env.
type Config struct {
	HTTPAddr        string `json:"httpAddr" yaml:"httpAddr"`
	DataDir         string `json:"dataDir" yaml:"dataDir"`
	Fsync           string `json:"fsync" yaml:"fsync"` // always|interval|never
	FsyncIntervalMs int    `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`
	LogLevel        string `json:"logLevel" yaml:"logLevel"`
	LogFormat       string `json:"logFormat" yaml:"logFormat"` // text|json

	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowedOrigins"`
}

// Default returns built-in defaults. DataDir is left empty and resolved
// with DefaultDataDir by the caller so flags can override it first.
func Default() Config {
	return Config{
		HTTPAddr:        ":7470",
		Fsync:           "always",
		FsyncIntervalMs: 5,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If
// path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, cfg.Validate()
}

// Validate rejects values that cannot be mapped onto the runtime.
func (c Config) Validate() error {
	switch c.Fsync {
	case "", "always", "interval", "never":
	default:
		return fmt.Errorf("config: fsync must be always, interval, or never, got %q", c.Fsync)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: logFormat must be text or json, got %q", c.LogFormat)
	}
	return nil
}
