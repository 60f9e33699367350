// Package config loads allocator settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const (
	envVarPrefix = "BUDDY"
	// ConfigFileEnv names the environment variable holding the config file path
	ConfigFileEnv = envVarPrefix + "_CONFIG_FILE"
)

type Config struct {
	Capacity      uint64   `envconfig:"CAPACITY"       yaml:"capacity"`
	Storage       string   `envconfig:"STORAGE"        yaml:"storage"`
	Addr          string   `envconfig:"ADDR"           yaml:"addr"`
	LogLevel      string   `envconfig:"LOG_LEVEL"      yaml:"logLevel"`
	LogFormat     string   `envconfig:"LOG_FORMAT"     yaml:"logFormat"`
	PreallocSizes []uint64 `envconfig:"PREALLOC_SIZES" yaml:"preallocSizes"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Capacity:  64 * 1024 * 1024,
		Storage:   "heap",
		Addr:      "127.0.0.1:1234",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load starts from Default, applies the YAML file at path (or at
// $BUDDY_CONFIG_FILE when path is empty) if it exists, then applies BUDDY_*
// environment variables.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}

	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.UnmarshalStrict(data, c); err != nil {
				return nil, fmt.Errorf("unmarshaling config file: %w", err)
			}
		}
	}

	if err := envconfig.Process(envVarPrefix, c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	return c, nil
}

// Validate reports the first missing or invalid setting
func (c *Config) Validate() error {
	if y, e := func() (string, string) {
		if c.Capacity == 0 {
			return "capacity", "CAPACITY"
		}
		if c.Storage != "heap" && c.Storage != "mmap" {
			return "storage", "STORAGE"
		}
		if c.Addr == "" {
			return "addr", "ADDR"
		}
		switch c.LogLevel {
		case "debug", "info", "warning", "error", "fatal":
		default:
			return "logLevel", "LOG_LEVEL"
		}
		if c.LogFormat != "text" && c.LogFormat != "json" {
			return "logFormat", "LOG_FORMAT"
		}
		for _, size := range c.PreallocSizes {
			if size == 0 {
				return "preallocSizes", "PREALLOC_SIZES"
			}
		}
		return "", ""
	}(); y != "" {
		return fmt.Errorf(
			"missing or invalid configuration: %s / %s_%s",
			y,
			envVarPrefix,
			e,
		)
	}
	return nil
}
