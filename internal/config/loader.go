package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/jitcov/internal/constants"
	"github.com/coral-mesh/jitcov/internal/safe"
)

// maxConfigSize bounds configuration files.
const maxConfigSize = 1 << 20

// Path returns the configuration file to load: explicit when non-empty,
// else JITCOV_CONFIG.
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return os.Getenv(constants.EnvConfig)
}

// Load builds the configuration by layering defaults, the YAML file at path
// (skipped when path is empty), environment variables and overrides, then
// validates the result. A path that was named explicitly must exist.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := safe.ReadFile(path, &safe.ReadOptions{MaxSize: maxConfigSize, AllowSymlinks: true})
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := LoadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	for _, override := range overrides {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
