package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing.
type Loader struct {
	path       string
	envPattern *regexp.Regexp
}

// NewLoader creates a loader. An empty path means environment only.
func NewLoader(path string) *Loader {
	return &Loader{
		path:       path,
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load builds the configuration from the environment, applies the YAML
// overlay if one was given, and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := FromEnv()

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := l.parseInto(cfg, data); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// parseInto unmarshals YAML bytes over an existing config after expanding
// environment variable references.
func (l *Loader) parseInto(cfg *Config, data []byte) error {
	expanded := l.expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// expandEnvVars substitutes ${VAR} references with environment values.
// Unset variables expand to the empty string.
func (l *Loader) expandEnvVars(s string) string {
	return l.envPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := l.envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
