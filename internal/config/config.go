// Package config loads daemon configuration from defaults, an optional
// YAML file, and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Address is the bus address specification to listen on. Empty
	// means the platform default.
	Address string `env:"BUSD_ADDRESS" yaml:"address"`

	LogLevel string `env:"BUSD_LOG_LEVEL" yaml:"log_level"`
}

func Default() Config {
	return Config{
		LogLevel: "info",
	}
}

// Load builds the effective configuration. path may be empty, in which
// case only defaults and environment variables apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, nil
}
