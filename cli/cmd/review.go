package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tollgate/adapter"
	"github.com/pithecene-io/tollgate/adapter/redis"
	"github.com/pithecene-io/tollgate/adapter/webhook"
	"github.com/pithecene-io/tollgate/analyzer"
	execanalyzer "github.com/pithecene-io/tollgate/analyzer/exec"
	"github.com/pithecene-io/tollgate/analyzer/ollama"
	"github.com/pithecene-io/tollgate/cli/config"
	"github.com/pithecene-io/tollgate/cli/tui"
	"github.com/pithecene-io/tollgate/history"
	"github.com/pithecene-io/tollgate/lock"
	"github.com/pithecene-io/tollgate/lode"
	"github.com/pithecene-io/tollgate/pipeline"
	"github.com/pithecene-io/tollgate/source"
	"github.com/pithecene-io/tollgate/types"
)

// ReviewCommand returns the review command, the only command that runs work.
func ReviewCommand() *cli.Command {
	return &cli.Command{
		Name:  "review",
		Usage: "Analyze changed files under the pipeline's invocation lock",
		Flags: []cli.Flag{
			ConfigFlag,
			// Invocation flags
			&cli.StringFlag{
				Name:  "pipeline",
				Usage: "Pipeline name (required, flag or config)",
			},
			&cli.StringFlag{
				Name:  "project",
				Usage: "Project the pipeline acts on; scopes the default lock key",
			},
			&cli.StringFlag{
				Name:  "key",
				Usage: "Resource key to lock (default <pipeline>_<project>)",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Run ID (generated when empty)",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Concurrent analyses (default 3)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
				Value: "info",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress the result summary",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Take the lock and list changed files without analyzing, storing or notifying",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write the full report as JSON to this path (- for stdout)",
			},
			// Lock flags
			&cli.StringFlag{
				Name:  "wait",
				Usage: `Lock wait policy: "none", a duration (e.g. 30s), or "forever"`,
				Value: "none",
			},
			LockDirFlag,
			&cli.DurationFlag{
				Name:  "lock-max-age",
				Usage: "Force-reclaim markers older than this even if the owner looks alive (0 disables)",
			},
			// Source flags
			&cli.StringFlag{
				Name:  "source",
				Usage: "Change source: git or manifest",
				Value: "git",
			},
			&cli.StringFlag{
				Name:  "repo",
				Usage: "Repository path for the git source",
			},
			&cli.StringFlag{
				Name:  "base",
				Usage: "Base revision for the git source",
				Value: source.DefaultBase,
			},
			&cli.StringFlag{
				Name:  "head",
				Usage: "Head revision for the git source",
				Value: source.DefaultHead,
			},
			&cli.StringFlag{
				Name:  "manifest",
				Usage: "Manifest file, one path per line (- for stdin)",
			},
			&cli.StringFlag{
				Name:  "root",
				Usage: "Directory that relative manifest entries resolve against",
			},
			&cli.StringSliceFlag{
				Name:  "include",
				Usage: "Glob patterns; only matching paths are analyzed (repeatable)",
			},
			&cli.IntFlag{
				Name:  "max-diff-bytes",
				Usage: "Truncate each file's diff to this many bytes (0 disables)",
			},
			// Analyzer flags
			&cli.StringFlag{
				Name:  "analyzer",
				Usage: "Analyzer: exec or ollama",
				Value: "exec",
			},
			&cli.StringFlag{
				Name:  "analyzer-command",
				Usage: "Command run once per file (exec analyzer)",
			},
			&cli.StringSliceFlag{
				Name:  "analyzer-arg",
				Usage: "Argument passed to the analyzer command (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "analyzer-timeout",
				Usage: "Per-file analysis timeout",
			},
			&cli.IntFlag{
				Name:  "analyzer-retries",
				Usage: "Retry attempts per request (ollama analyzer)",
				Value: ollama.DefaultRetries,
			},
			&cli.StringFlag{
				Name:  "ollama-url",
				Usage: "Ollama server URL",
				Value: ollama.DefaultURL,
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "Model name (ollama analyzer)",
			},
			// Storage flags
			&cli.StringFlag{
				Name:  "storage-backend",
				Usage: "Report storage backend: fs or s3",
				Value: "fs",
			},
			&cli.StringFlag{
				Name:  "storage-path",
				Usage: "Report storage path (fs: directory, s3: bucket/prefix); empty disables",
			},
			&cli.StringFlag{
				Name:  "dataset",
				Usage: "Dataset ID",
				Value: lode.DefaultDataset,
			},
			&cli.StringFlag{
				Name:  "s3-region",
				Usage: "AWS region for the s3 backend (default chain when empty)",
			},
			&cli.StringFlag{
				Name:  "s3-endpoint",
				Usage: "Custom S3 endpoint for S3-compatible providers",
			},
			&cli.BoolFlag{
				Name:  "s3-path-style",
				Usage: "Force path-style S3 addressing",
			},
			// History flags
			&cli.StringFlag{
				Name:  "history-path",
				Usage: "SQLite run ledger (default user cache dir)",
			},
			&cli.BoolFlag{
				Name:  "no-history",
				Usage: "Do not record this run in the ledger",
			},
			// Adapter flags
			&cli.StringFlag{
				Name:  "adapter",
				Usage: "Notification adapter: webhook or redis",
			},
			&cli.StringFlag{
				Name:  "adapter-url",
				Usage: "Webhook endpoint or redis:// URL",
			},
			&cli.StringFlag{
				Name:  "adapter-channel",
				Usage: "Redis pub/sub channel",
			},
			&cli.StringSliceFlag{
				Name:  "adapter-header",
				Usage: "Webhook header as key=value (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "adapter-timeout",
				Usage: "Per-publish timeout",
			},
			&cli.IntFlag{
				Name:  "adapter-retries",
				Usage: "Publish retry attempts",
				Value: webhook.DefaultRetries,
			},
		},
		Action: reviewAction,
	}
}

func reviewAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return configError(err)
	}

	name := resolveString(c, "pipeline", cfg.Pipeline)
	if name == "" {
		return cli.Exit("--pipeline is required (flag or pipeline: in config)", pipeline.ExitError)
	}
	wait, err := lock.ParseWait(resolveString(c, "wait", cfg.Lock.Wait))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid --wait: %v", err), pipeline.ExitError)
	}

	src, err := buildSource(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), pipeline.ExitError)
	}
	dryRun := c.Bool("dry-run")
	var an analyzer.Analyzer = analyzer.Static{Label: "dry-run"}
	if !dryRun {
		if an, err = buildAnalyzer(c, cfg); err != nil {
			return cli.Exit(err.Error(), pipeline.ExitError)
		}
	}

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	runID := resolveString(c, "run-id", "")
	if runID == "" {
		runID = uuid.NewString()
	}
	startTime := time.Now()

	store := &storage{backend: "none"}
	var adapters []adapter.Adapter
	if !dryRun {
		if store, err = buildStorage(ctx, c, cfg, name, runID, startTime); err != nil {
			return cli.Exit(fmt.Sprintf("storage: %v", err), pipeline.ExitError)
		}
		if adapters, err = buildAdapters(c, cfg); err != nil {
			store.close()
			return cli.Exit(fmt.Sprintf("adapter: %v", err), pipeline.ExitError)
		}
	}
	defer store.close()
	defer func() {
		for _, a := range adapters {
			_ = a.Close()
		}
	}()

	pcfg := pipeline.Config{
		Pipeline:    name,
		Project:     resolveString(c, "project", cfg.Project),
		ResourceKey: resolveString(c, "key", cfg.Key),
		RunID:       runID,
		Workers:     resolveInt(c, "workers", cfg.Workers),
		Lock: lock.Config{
			Dir:    resolveString(c, "lock-dir", cfg.Lock.Dir),
			MaxAge: resolveDuration(c, "lock-max-age", cfg.Lock.MaxAge.Duration),
		},
		Wait:           wait,
		Source:         src,
		Analyzer:       an,
		Sinks:          store.sinks,
		StorageBackend: store.backend,
		StoragePath:    store.location,
		Adapters:       adapters,
		LogOutput:      c.App.ErrWriter,
		LogLevel:       resolveString(c, "log-level", cfg.LogLevel),
	}

	if !dryRun && !c.Bool("no-history") && !cfg.History.Disabled {
		ledger, err := history.Open(orDefault(resolveString(c, "history-path", cfg.History.Path), history.DefaultPath()))
		if err != nil {
			fmt.Fprintf(c.App.ErrWriter, "Warning: run history disabled: %v\n", err)
		} else {
			defer func() { _ = ledger.Close() }()
			pcfg.Ledger = ledger
		}
	}

	res, runErr := pipeline.Run(ctx, pcfg)
	if res != nil {
		if path := c.String("report"); path != "" {
			if err := writeReport(c.App.Writer, path, res.Report); err != nil {
				fmt.Fprintf(c.App.ErrWriter, "Warning: could not write report: %v\n", err)
			}
		}
		if !c.Bool("quiet") {
			printSummary(c.App.Writer, res.Report, store.location)
			if dryRun {
				printFiles(c.App.Writer, res.Report.Files)
			}
		}
	}

	if runErr != nil {
		return cli.Exit(runErr.Error(), pipeline.ExitCode(runErr))
	}
	return nil
}

func buildSource(c *cli.Context, cfg *config.Config) (source.ChangeSource, error) {
	maxDiff := resolveInt(c, "max-diff-bytes", cfg.Source.MaxDiffBytes)

	var src source.ChangeSource
	switch typ := resolveString(c, "source", cfg.Source.Type); typ {
	case "git":
		src = &source.Git{
			Repo:         resolveString(c, "repo", cfg.Source.Repo),
			Base:         resolveString(c, "base", cfg.Source.Base),
			Head:         resolveString(c, "head", cfg.Source.Head),
			MaxDiffBytes: maxDiff,
		}
	case "manifest":
		path := resolveString(c, "manifest", cfg.Source.Manifest)
		if path == "" {
			return nil, errors.New("--manifest is required for the manifest source")
		}
		src = &source.Manifest{
			Path:         path,
			Root:         resolveString(c, "root", cfg.Source.Root),
			Input:        c.App.Reader,
			MaxDiffBytes: maxDiff,
		}
	default:
		return nil, fmt.Errorf("unknown source %q (must be git or manifest)", typ)
	}

	if include := resolveStrings(c, "include", cfg.Source.Include); len(include) > 0 {
		src = source.Filtered{Source: src, Patterns: include}
	}
	return src, nil
}

func buildAnalyzer(c *cli.Context, cfg *config.Config) (analyzer.Analyzer, error) {
	timeout := resolveDuration(c, "analyzer-timeout", cfg.Analyzer.Timeout.Duration)

	switch typ := resolveString(c, "analyzer", cfg.Analyzer.Type); typ {
	case "exec":
		command := resolveString(c, "analyzer-command", cfg.Analyzer.Command)
		if command == "" {
			return nil, errors.New("--analyzer-command is required for the exec analyzer")
		}
		return execanalyzer.New(execanalyzer.Config{
			Command: command,
			Args:    resolveStrings(c, "analyzer-arg", cfg.Analyzer.Args),
			Env:     cfg.Analyzer.Env,
			Dir:     cfg.Analyzer.Dir,
			Timeout: timeout,
		})
	case "ollama":
		model := resolveString(c, "model", cfg.Analyzer.Model)
		if model == "" {
			return nil, errors.New("--model is required for the ollama analyzer")
		}
		return ollama.New(ollama.Config{
			URL:     resolveString(c, "ollama-url", cfg.Analyzer.URL),
			Model:   model,
			Prompt:  cfg.Analyzer.Prompt,
			Timeout: timeout,
			Retries: resolveRetries(c, "analyzer-retries", cfg.Analyzer.Retries, ollama.DefaultRetries),
		})
	default:
		return nil, fmt.Errorf("unknown analyzer %q (must be exec or ollama)", typ)
	}
}

// storage is the resolved report destination for one run.
type storage struct {
	sinks    []lode.ReportWriter
	backend  string
	location string
}

func (s *storage) close() {
	for _, sink := range s.sinks {
		_ = sink.Close()
	}
}

// storageSettings is the storage flag/config resolution shared by review and
// report.
type storageSettings struct {
	backend string
	path    string
	dataset string
	s3      lode.S3Config
}

func resolveStorage(c *cli.Context, cfg *config.Config) storageSettings {
	st := storageSettings{
		backend: resolveString(c, "storage-backend", cfg.Storage.Backend),
		path:    resolveString(c, "storage-path", cfg.Storage.Path),
		dataset: resolveString(c, "dataset", cfg.Storage.Dataset),
	}
	if st.backend == "s3" {
		bucket, prefix := lode.ParseS3Path(st.path)
		st.s3 = lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       resolveString(c, "s3-region", cfg.Storage.Region),
			Endpoint:     resolveString(c, "s3-endpoint", cfg.Storage.Endpoint),
			UsePathStyle: resolveBool(c, "s3-path-style", cfg.Storage.S3PathStyle),
		}
	}
	return st
}

// storageLocation is the human-readable report location sent to adapters.
func storageLocation(backend, path string) (string, error) {
	switch backend {
	case "fs":
		return path, nil
	case "s3":
		return "s3://" + strings.TrimPrefix(path, "s3://"), nil
	default:
		return "", fmt.Errorf("unknown storage backend %q (must be fs or s3)", backend)
	}
}

func buildStorage(ctx context.Context, c *cli.Context, cfg *config.Config, name, runID string, start time.Time) (*storage, error) {
	st := resolveStorage(c, cfg)
	if st.path == "" {
		return &storage{backend: "none"}, nil
	}
	location, err := storageLocation(st.backend, st.path)
	if err != nil {
		return nil, err
	}

	lcfg := lode.Config{
		Dataset:  st.dataset,
		Pipeline: name,
		Day:      lode.DeriveDay(start),
		RunID:    runID,
	}
	var client lode.Client
	switch st.backend {
	case "s3":
		client, err = lode.NewLodeS3Client(ctx, lcfg, st.s3)
	default:
		client, err = lode.NewLodeClient(lcfg, st.path)
	}
	if err != nil {
		return nil, err
	}

	return &storage{
		sinks:    []lode.ReportWriter{lode.NewSink(lcfg, client)},
		backend:  st.backend,
		location: location,
	}, nil
}

func buildAdapters(c *cli.Context, cfg *config.Config) ([]adapter.Adapter, error) {
	typ := resolveString(c, "adapter", cfg.Adapter.Type)
	if typ == "" {
		return nil, nil
	}
	url := resolveString(c, "adapter-url", cfg.Adapter.URL)
	timeout := resolveDuration(c, "adapter-timeout", cfg.Adapter.Timeout.Duration)

	switch typ {
	case "webhook":
		headers, err := parseHeaders(cfg.Adapter.Headers, c.StringSlice("adapter-header"))
		if err != nil {
			return nil, err
		}
		a, err := webhook.New(webhook.Config{
			URL:     url,
			Headers: headers,
			Timeout: timeout,
			Retries: resolveRetries(c, "adapter-retries", cfg.Adapter.Retries, webhook.DefaultRetries),
		})
		if err != nil {
			return nil, err
		}
		return []adapter.Adapter{a}, nil
	case "redis":
		a, err := redis.New(redis.Config{
			URL:        url,
			Channel:    resolveString(c, "adapter-channel", cfg.Adapter.Channel),
			HistoryKey: cfg.Adapter.HistoryKey,
			Timeout:    timeout,
			Retries:    resolveRetries(c, "adapter-retries", cfg.Adapter.Retries, redis.DefaultRetries),
		})
		if err != nil {
			return nil, err
		}
		return []adapter.Adapter{a}, nil
	default:
		return nil, fmt.Errorf("unknown adapter %q (must be webhook or redis)", typ)
	}
}

// parseHeaders merges key=value flags over config headers.
func parseHeaders(base map[string]string, values []string) (map[string]string, error) {
	headers := make(map[string]string, len(base)+len(values))
	for k, v := range base {
		headers[k] = v
	}
	for _, kv := range values {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("malformed header %q (want key=value)", kv)
		}
		headers[strings.TrimSpace(k)] = v
	}
	return headers, nil
}

func writeReport(stdout io.Writer, path string, report *types.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func printSummary(w io.Writer, report *types.Report, location string) {
	sum := report.Summary
	status := string(sum.Status)
	if isStderrTTY() && w == os.Stdout {
		status = tui.StatusStyle(sum.Status).Render(status)
	}

	fmt.Fprintf(w, "\n=== Review Result ===\n")
	fmt.Fprintf(w, "Run ID:       %s\n", sum.RunID)
	fmt.Fprintf(w, "Pipeline:     %s\n", sum.Pipeline)
	fmt.Fprintf(w, "Resource:     %s\n", sum.ResourceKey)
	fmt.Fprintf(w, "Status:       %s\n", status)
	if sum.Message != "" {
		fmt.Fprintf(w, "Message:      %s\n", sum.Message)
	}
	fmt.Fprintf(w, "Duration:     %s\n", sum.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "Lock wait:    %dms\n", sum.LockWaitMS)

	if !sum.Status.Ran() {
		return
	}
	fmt.Fprintf(w, "Files:        %d (%d succeeded, %d failed)\n", sum.Items, sum.Succeeded, sum.Failed)
	fmt.Fprintf(w, "Findings:     %d%s\n", sum.Findings, severityBreakdown(sum.BySeverity))
	if location != "" {
		fmt.Fprintf(w, "Stored at:    %s\n", location)
	}

	if len(sum.FailedFiles) > 0 {
		fmt.Fprintf(w, "\n=== Failed Files ===\n")
		for _, f := range report.Files {
			if !f.Success {
				fmt.Fprintf(w, "  - %s: %s\n", f.Path, f.Error)
			}
		}
	}
}

func printFiles(w io.Writer, files []types.FileDetail) {
	if len(files) == 0 {
		return
	}
	fmt.Fprintf(w, "\n=== Files ===\n")
	for _, f := range files {
		fmt.Fprintf(w, "  %-8s %s\n", orDefault(f.ChangeType, "-"), f.Path)
	}
}

func severityBreakdown(counts map[types.Severity]int) string {
	if len(counts) == 0 {
		return ""
	}
	sevs := make([]types.Severity, 0, len(counts))
	for s := range counts {
		sevs = append(sevs, s)
	}
	slices.SortFunc(sevs, func(a, b types.Severity) int { return a.Rank() - b.Rank() })

	parts := make([]string, 0, len(sevs))
	for _, s := range sevs {
		parts = append(parts, fmt.Sprintf("%s=%d", s, counts[s]))
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
