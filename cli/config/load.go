package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultFilename is looked up in the working directory when --config is not given.
const DefaultFilename = "tollgate.yaml"

// Load reads a YAML config file, expands environment variables, and
// decodes it strictly: unknown keys are errors.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	cfg, err := Parse([]byte(ExpandEnv(string(data))))
	if err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes already-expanded YAML. An empty document is a zero Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault loads DefaultFilename when present. A missing file yields a
// zero Config and found=false.
func LoadDefault() (cfg *Config, found bool, err error) {
	if _, statErr := os.Stat(DefaultFilename); statErr != nil {
		return &Config{}, false, nil
	}
	cfg, err = Load(DefaultFilename)
	return cfg, err == nil, err
}
