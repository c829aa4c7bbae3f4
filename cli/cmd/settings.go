package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tollgate/cli/config"
	"github.com/pithecene-io/tollgate/lock"
)

// loadConfig reads --config, or ./tollgate.yaml when it exists. A missing
// default file yields an empty config; a missing explicit file is an error.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, _, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveString returns the flag when set on the command line, else the
// config value when non-empty, else the flag default.
func resolveString(c *cli.Context, name, fromConfig string) string {
	if c.IsSet(name) || fromConfig == "" {
		return c.String(name)
	}
	return fromConfig
}

func resolveInt(c *cli.Context, name string, fromConfig int) int {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Int(name)
	}
	return fromConfig
}

func resolveBool(c *cli.Context, name string, fromConfig bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return fromConfig || c.Bool(name)
}

func resolveDuration(c *cli.Context, name string, fromConfig time.Duration) time.Duration {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Duration(name)
	}
	return fromConfig
}

func resolveStrings(c *cli.Context, name string, fromConfig []string) []string {
	if c.IsSet(name) || len(fromConfig) == 0 {
		return c.StringSlice(name)
	}
	return fromConfig
}

// resolveRetries prefers the flag, then the config pointer, then def.
func resolveRetries(c *cli.Context, name string, fromConfig *int, def int) int {
	switch {
	case c.IsSet(name):
		return c.Int(name)
	case fromConfig != nil:
		return *fromConfig
	default:
		return def
	}
}

// newLocker builds a locker for the read-only lock commands.
func newLocker(c *cli.Context, cfg *config.Config) (*lock.Locker, error) {
	dir := resolveString(c, "lock-dir", cfg.Lock.Dir)
	return lock.New(lock.Config{
		Dir:    dir,
		MaxAge: cfg.Lock.MaxAge.Duration,
	})
}

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func configError(err error) error {
	return cli.Exit(fmt.Sprintf("config: %v", err), 1)
}
