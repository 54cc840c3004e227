// ABOUTME: Server configuration from CHIMERA_* environment variables with an
// ABOUTME: optional YAML file; env always wins over file values.
package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultBind is the listen address used when nothing else is configured.
const DefaultBind = "127.0.0.1:7777"

// Config holds the server's runtime settings.
type Config struct {
	// Bind is the listen address (CHIMERA_BIND).
	Bind string `yaml:"bind"`

	// DataDir is where thread logs and the index database live
	// (CHIMERA_DATA_DIR). Empty disables persistence; the client owns logs.
	DataDir string `yaml:"data_dir"`
}

// LoadConfig builds the config from an optional YAML file overlaid with the
// environment. Pass an empty path to use the environment alone.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv("CHIMERA_BIND"); v != "" {
		cfg.Bind = v
	}
	if v := os.Getenv("CHIMERA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if cfg.Bind == "" {
		cfg.Bind = DefaultBind
	}
	return cfg, nil
}
