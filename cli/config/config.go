package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pithecene-io/tollgate/lock"
)

// Config represents a tollgate.yaml file.
// All values are optional and act as defaults for flags.
// CLI flags always override config values.
type Config struct {
	Pipeline string         `yaml:"pipeline"`
	Project  string         `yaml:"project"`
	Key      string         `yaml:"key"`
	Workers  int            `yaml:"workers"`
	LogLevel string         `yaml:"log_level"`
	Lock     LockConfig     `yaml:"lock"`
	Source   SourceConfig   `yaml:"source"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Storage  StorageConfig  `yaml:"storage"`
	History  HistoryConfig  `yaml:"history"`
	Adapter  AdapterConfig  `yaml:"adapter"`
}

// LockConfig holds invocation lock defaults.
type LockConfig struct {
	Dir string `yaml:"dir"`
	// Wait is a wait policy string: "none", a duration, or "forever".
	Wait   string   `yaml:"wait"`
	MaxAge Duration `yaml:"max_age"`
}

// SourceConfig selects where changed files come from.
type SourceConfig struct {
	// Type is "git" or "manifest".
	Type     string   `yaml:"type"`
	Repo     string   `yaml:"repo"`
	Base     string   `yaml:"base"`
	Head     string   `yaml:"head"`
	Manifest string   `yaml:"manifest"`
	Root     string   `yaml:"root"`
	Include  []string `yaml:"include,omitempty"`
	// MaxDiffBytes truncates each file's diff.
	MaxDiffBytes int `yaml:"max_diff_bytes"`
}

// AnalyzerConfig selects the per-file analyzer.
type AnalyzerConfig struct {
	// Type is "exec" or "ollama".
	Type    string   `yaml:"type"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
	Env     []string `yaml:"env,omitempty"`
	Dir     string   `yaml:"dir"`
	URL     string   `yaml:"url"`
	Model   string   `yaml:"model"`
	Prompt  string   `yaml:"prompt"`
	Timeout Duration `yaml:"timeout,omitempty"`
	Retries *int     `yaml:"retries,omitempty"`
}

// StorageConfig holds report storage defaults.
type StorageConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// HistoryConfig holds the local run ledger settings.
type HistoryConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// AdapterConfig holds notification adapter defaults.
type AdapterConfig struct {
	Type       string            `yaml:"type"`
	URL        string            `yaml:"url"`
	Channel    string            `yaml:"channel,omitempty"`
	HistoryKey string            `yaml:"history_key,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	Timeout    Duration          `yaml:"timeout,omitempty"`
	Retries    *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	if d.Duration == 0 {
		return "", nil
	}
	return d.String(), nil
}

var (
	sourceTypes   = []string{"", "git", "manifest"}
	analyzerTypes = []string{"", "exec", "ollama"}
	backendTypes  = []string{"", "fs", "s3"}
	adapterTypes  = []string{"", "webhook", "redis"}
)

// Validate checks enumerated values and cross-field requirements.
// Every problem is reported, sorted.
func (c *Config) Validate() error {
	var problems []string
	check := func(field, v string, allowed []string) {
		if !slices.Contains(allowed, v) {
			problems = append(problems, fmt.Sprintf("%s: unknown value %q (want one of %s)",
				field, v, strings.Join(allowed[1:], ", ")))
		}
	}
	check("source.type", c.Source.Type, sourceTypes)
	check("analyzer.type", c.Analyzer.Type, analyzerTypes)
	check("storage.backend", c.Storage.Backend, backendTypes)
	check("adapter.type", c.Adapter.Type, adapterTypes)

	if c.Workers < 0 {
		problems = append(problems, fmt.Sprintf("workers: must be >= 0, got %d", c.Workers))
	}
	if c.Lock.Wait != "" {
		if _, err := lock.ParseWait(c.Lock.Wait); err != nil {
			problems = append(problems, fmt.Sprintf("lock.wait: %v", err))
		}
	}
	if c.Lock.MaxAge.Duration < 0 {
		problems = append(problems, "lock.max_age: must not be negative")
	}
	if c.Analyzer.Retries != nil && *c.Analyzer.Retries < 0 {
		problems = append(problems, "analyzer.retries: must be >= 0")
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		problems = append(problems, "adapter.retries: must be >= 0")
	}

	if len(problems) == 0 {
		return nil
	}
	slices.Sort(problems)
	return fmt.Errorf("invalid config:\n  %s", strings.Join(problems, "\n  "))
}
