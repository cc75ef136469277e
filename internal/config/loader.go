package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variable overrides,
	// e.g. ENGRAM_SERVER_PORT=4000 or ENGRAM_MEMORY_DECAY=0.6.
	EnvPrefix = "ENGRAM_"
	delimiter = "."
)

// Load builds the configuration from defaults, an optional YAML file, and
// ENGRAM_* environment variables, in increasing priority. An empty path
// means: use the default location if a file exists there, otherwise skip.
func Load(path string) (Config, error) {
	k := koanf.New(delimiter)

	// The struct provider flattens defaults into individual keys, so a file
	// or env override of one key leaves its siblings at their defaults.
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	explicit := path != ""
	if path == "" {
		path = DefaultConfigPath()
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("load config file %s: %w", path, err)
			}
		} else if explicit {
			return Config{}, fmt.Errorf("config file not found: %s", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, delimiter, func(s string) string {
		// ENGRAM_MEMORY_FORGET_THRESHOLD -> memory.forget_threshold
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		parts := strings.SplitN(s, "_", 2)
		if len(parts) == 2 {
			return parts[0] + delimiter + parts[1]
		}
		return s
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfigPath returns ~/.engram/config.yaml, or "" if the home
// directory cannot be resolved.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".engram", "config.yaml")
}
