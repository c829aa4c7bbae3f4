package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	lodelib "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tollgate/cli/render"
	"github.com/pithecene-io/tollgate/cli/tui"
	"github.com/pithecene-io/tollgate/lode"
	"github.com/pithecene-io/tollgate/types"
)

// ReportCommand returns the report command.
// It reads the latest stored batch report from the storage dataset.
func ReportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Show the latest stored review report",
		Flags: append(ReadOnlyFlags(),
			ConfigFlag,
			&cli.StringFlag{
				Name:  "pipeline",
				Usage: "Only consider reports from this pipeline",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Show this run instead of the latest",
			},
			&cli.StringFlag{
				Name:  "storage-backend",
				Usage: "Report storage backend: fs or s3",
				Value: "fs",
			},
			&cli.StringFlag{
				Name:  "storage-path",
				Usage: "Report storage path (fs: directory, s3: bucket/prefix)",
			},
			&cli.StringFlag{
				Name:  "dataset",
				Usage: "Dataset ID",
				Value: lode.DefaultDataset,
			},
			&cli.StringFlag{
				Name:  "s3-region",
				Usage: "AWS region for the s3 backend",
			},
			&cli.StringFlag{
				Name:  "s3-endpoint",
				Usage: "Custom S3 endpoint",
			},
			&cli.BoolFlag{
				Name:  "s3-path-style",
				Usage: "Force path-style S3 addressing",
			},
			&cli.BoolFlag{
				Name:  "findings",
				Usage: "List findings instead of files (table format)",
			},
		),
		Action: reportAction,
	}
}

func reportAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return configError(err)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	st := resolveStorage(c, cfg)
	if st.path == "" {
		return cli.Exit("--storage-path is required (flag or storage.path in config)", 1)
	}
	if st.backend == "fs" {
		if _, err := os.Stat(st.path); errors.Is(err, fs.ErrNotExist) {
			return cli.Exit(fmt.Sprintf("no stored report matches: %s does not exist", st.path), 1)
		}
	}
	ds, err := openDataset(c.Context, st)
	if err != nil {
		return cli.Exit(fmt.Sprintf("storage: %v", err), 1)
	}

	stored, err := lode.QueryLatestReport(c.Context, ds,
		resolveString(c, "pipeline", cfg.Pipeline), c.String("run-id"))
	if errors.Is(err, lode.ErrNoSummaryFound) {
		return cli.Exit("no stored report matches", 1)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("storage: %v", err), 1)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewReport, &stored.Report)
	}
	if r.Format() == render.FormatTable {
		if c.Bool("findings") {
			return r.Render(findingRows(stored.Report.Findings))
		}
		return r.Render(fileRows(stored.Report.Files))
	}
	return r.Render(stored)
}

func openDataset(ctx context.Context, st storageSettings) (lodelib.Dataset, error) {
	switch st.backend {
	case "fs":
		return lode.NewDatasetFS(st.dataset, st.path)
	case "s3":
		return lode.NewDatasetS3(ctx, st.dataset, st.s3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (must be fs or s3)", st.backend)
	}
}

// fileRows renders per-file analysis details as a table.
type fileRows []types.FileDetail

// Table implements render.Tabler.
func (rows fileRows) Table() ([]string, [][]string) {
	headers := []string{"PATH", "CHANGE", "DIFF", "FINDINGS", "DURATION", "RESULT"}
	out := make([][]string, 0, len(rows))
	for _, f := range rows {
		result := "ok"
		if !f.Success {
			result = "failed: " + f.Error
		}
		out = append(out, []string{
			f.Path,
			f.ChangeType,
			strconv.Itoa(f.DiffSize),
			strconv.Itoa(f.Findings),
			fmt.Sprintf("%dms", f.DurationMS),
			result,
		})
	}
	return headers, out
}

type findingRows []types.Finding

// Table implements render.Tabler.
func (rows findingRows) Table() ([]string, [][]string) {
	headers := []string{"SEVERITY", "FILE", "LINE", "TITLE"}
	out := make([][]string, 0, len(rows))
	for _, f := range rows {
		line := "-"
		if f.Line != nil {
			line = strconv.Itoa(*f.Line)
		}
		out = append(out, []string{string(f.Severity), f.FilePath, line, f.Title})
	}
	return headers, out
}
