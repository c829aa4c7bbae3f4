package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tollgate/cli/render"
	"github.com/pithecene-io/tollgate/lock"
	"github.com/pithecene-io/tollgate/pipeline"
)

// LockCommand returns the lock command with subcommands.
// Lock commands read marker state; only clean removes anything, and only
// markers that are already stale.
func LockCommand() *cli.Command {
	return &cli.Command{
		Name:  "lock",
		Usage: "Inspect invocation locks",
		Subcommands: []*cli.Command{
			lockStatusCommand(),
			lockListCommand(),
			lockCleanCommand(),
		},
	}
}

func lockStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show whether a resource key is locked",
		Flags: lockFlags(
			&cli.StringFlag{
				Name:  "key",
				Usage: "Resource key (default <pipeline>_<project>)",
			},
			&cli.StringFlag{
				Name:  "pipeline",
				Usage: "Pipeline name used to derive the key",
			},
			&cli.StringFlag{
				Name:  "project",
				Usage: "Project used to derive the key",
			},
			&cli.BoolFlag{
				Name:  "check",
				Usage: "Exit 2 when the key is held, 0 otherwise",
			},
		),
		Action: lockStatusAction,
	}
}

func lockStatusAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for lock status", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return configError(err)
	}
	key := resolveString(c, "key", cfg.Key)
	if key == "" {
		if name := resolveString(c, "pipeline", cfg.Pipeline); name != "" {
			key = pipeline.DefaultResourceKey(name, resolveString(c, "project", cfg.Project))
		}
	}
	if key == "" {
		return cli.Exit("--key or --pipeline is required", 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	locker, err := newLocker(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), pipeline.ExitLockIO)
	}
	st, err := locker.Inspect(key)
	if err != nil {
		return cli.Exit(err.Error(), pipeline.ExitLockIO)
	}

	if r.Format() == render.FormatTable {
		err = r.Render(lockRows{*st})
	} else {
		err = r.Render(st)
	}
	if err != nil {
		return err
	}
	if c.Bool("check") && st.Held {
		return cli.Exit("", pipeline.ExitLockBusy)
	}
	return nil
}

func lockListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List lock markers",
		Flags: lockFlags(&cli.BoolFlag{
			Name:  "stale",
			Usage: "Only show markers that could be reclaimed",
		}),
		Action: func(c *cli.Context) error {
			if c.Bool("tui") {
				return cli.Exit("--tui is not supported for lock list", 1)
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return configError(err)
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			locker, err := newLocker(c, cfg)
			if err != nil {
				return cli.Exit(err.Error(), pipeline.ExitLockIO)
			}
			all, err := locker.List()
			if err != nil {
				return cli.Exit(err.Error(), pipeline.ExitLockIO)
			}

			rows := lockRows{}
			for _, st := range all {
				if c.Bool("stale") && !st.Stale {
					continue
				}
				rows = append(rows, st)
			}
			return renderLockRows(r, rows)
		},
	}
}

func lockCleanCommand() *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "Remove stale markers left by crashed invocations",
		Flags: lockFlags(&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Show what would be removed without removing it",
		}),
		Action: func(c *cli.Context) error {
			if c.Bool("tui") {
				return cli.Exit("--tui is not supported for lock clean", 1)
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return configError(err)
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			locker, err := newLocker(c, cfg)
			if err != nil {
				return cli.Exit(err.Error(), pipeline.ExitLockIO)
			}

			rows := lockRows{}
			if c.Bool("dry-run") {
				all, err := locker.List()
				if err != nil {
					return cli.Exit(err.Error(), pipeline.ExitLockIO)
				}
				for _, st := range all {
					if st.Stale {
						rows = append(rows, st)
					}
				}
			} else {
				removed, err := locker.Clean()
				if err != nil {
					return cli.Exit(err.Error(), pipeline.ExitLockIO)
				}
				rows = append(rows, removed...)
			}
			return renderLockRows(r, rows)
		},
	}
}

func renderLockRows(r *render.Renderer, rows lockRows) error {
	if r.Format() == render.FormatTable {
		return r.Render(rows)
	}
	return r.Render([]lock.Status(rows))
}

// lockRows renders marker states as a table.
type lockRows []lock.Status

// Table implements render.Tabler.
func (rows lockRows) Table() ([]string, [][]string) {
	headers := []string{"KEY", "HELD", "OWNER", "ACQUIRED", "AGE", "STALE"}
	out := make([][]string, 0, len(rows))
	for _, st := range rows {
		key, owner, acquired := st.Key, "-", "-"
		if st.Corrupt {
			key = st.Path
			owner = "(corrupt)"
		}
		if m := st.Marker; m != nil {
			owner = fmt.Sprintf("%d@%s", m.PID, m.Host)
			if at, ok := m.Acquired(); ok {
				acquired = at.Local().Format(time.DateTime)
			}
		}
		stale := "no"
		if st.Stale {
			stale = "yes"
			if st.StaleReason != "" {
				stale += " (" + st.StaleReason + ")"
			}
		}
		age := "-"
		if st.Held {
			age = st.Age.Round(time.Second).String()
		}
		out = append(out, []string{key, strconv.FormatBool(st.Held), owner, acquired, age, stale})
	}
	return headers, out
}
