package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tollgate/cli/render"
	"github.com/pithecene-io/tollgate/cli/tui"
	"github.com/pithecene-io/tollgate/history"
	"github.com/pithecene-io/tollgate/types"
)

// historyWarningThreshold is the limit above which we suggest narrowing.
const historyWarningThreshold = 100

// HistoryCommand returns the history command.
// History reads the local run ledger; --prune-older-than is its only write.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recent review runs from the local ledger",
		Flags: append(ReadOnlyFlags(),
			ConfigFlag,
			&cli.StringFlag{
				Name:  "history-path",
				Usage: "SQLite run ledger (default user cache dir)",
			},
			&cli.StringFlag{
				Name:  "pipeline",
				Usage: "Only show runs of this pipeline",
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Only show runs with this status (completed, partial, lock_busy, ...)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum runs to show",
				Value: history.DefaultLimit,
			},
			&cli.StringFlag{
				Name:  "run",
				Usage: "Show one run with its per-file details",
			},
			&cli.DurationFlag{
				Name:  "prune-older-than",
				Usage: "Delete runs started more than this long ago, then exit",
			},
		),
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return configError(err)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	store, err := history.Open(orDefault(resolveString(c, "history-path", cfg.History.Path), history.DefaultPath()))
	if err != nil {
		return cli.Exit(fmt.Sprintf("history: %v", err), 1)
	}
	defer func() { _ = store.Close() }()

	if age := c.Duration("prune-older-than"); age > 0 {
		n, err := store.Prune(c.Context, time.Now().Add(-age))
		if err != nil {
			return cli.Exit(fmt.Sprintf("history: %v", err), 1)
		}
		fmt.Fprintf(c.App.Writer, "pruned %d runs\n", n)
		return nil
	}

	if id := c.String("run"); id != "" {
		report, err := store.Run(c.Context, id)
		if errors.Is(err, history.ErrNotFound) {
			return cli.Exit(fmt.Sprintf("run %q not found", id), 1)
		}
		if err != nil {
			return cli.Exit(fmt.Sprintf("history: %v", err), 1)
		}
		if c.Bool("tui") {
			return r.RenderTUI(tui.ViewReport, report)
		}
		if r.Format() == render.FormatTable {
			return r.Render(fileRows(report.Files))
		}
		return r.Render(report)
	}

	limit := c.Int("limit")
	if limit > historyWarningThreshold && isStderrTTY() {
		fmt.Fprintf(c.App.ErrWriter, "Warning: showing up to %d runs; narrow with --pipeline or --status\n", limit)
	}
	runs, err := store.Recent(c.Context, history.Filter{
		Pipeline: resolveString(c, "pipeline", ""),
		Status:   types.OutcomeStatus(c.String("status")),
		Limit:    limit,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("history: %v", err), 1)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewHistory, runs)
	}
	if r.Format() == render.FormatTable {
		return r.Render(runRows(runs))
	}
	return r.Render(runs)
}

// runRows renders run summaries as a table.
type runRows []types.RunSummary

// Table implements render.Tabler.
func (rows runRows) Table() ([]string, [][]string) {
	headers := []string{"RUN ID", "PIPELINE", "STARTED", "STATUS", "FILES", "FAILED", "FINDINGS", "DURATION"}
	out := make([][]string, 0, len(rows))
	for _, s := range rows {
		out = append(out, []string{
			s.RunID,
			s.Pipeline,
			s.StartedAt.Local().Format(time.DateTime),
			string(s.Status),
			strconv.Itoa(s.Items),
			strconv.Itoa(s.Failed),
			strconv.Itoa(s.Findings),
			s.Duration().Round(time.Millisecond).String(),
		})
	}
	return headers, out
}
