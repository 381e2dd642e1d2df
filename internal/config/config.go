// Package config loads the YAML configuration for the database tooling.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config names the database file the tooling operates on when no path
// is given on the command line.
type Config struct {
	// Path is the database file location.
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{Path: "miro.db"}
}

// Load reads and validates a configuration file. Missing keys keep
// their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Path == "" {
		return cfg, fmt.Errorf("config %s: path must not be empty", path)
	}
	return cfg, nil
}
