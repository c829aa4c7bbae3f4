// Package pipeline runs one review invocation end to end.
//
// An invocation acquires the resource lock, enumerates changed files,
// analyzes them with the worker pool and persists the report, all while
// holding the lock. The lock is released before the run is recorded in
// the ledger and before any adapter is notified, so slow notification
// targets never extend the critical section.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/tollgate/adapter"
	"github.com/pithecene-io/tollgate/analyzer"
	"github.com/pithecene-io/tollgate/lock"
	"github.com/pithecene-io/tollgate/lode"
	"github.com/pithecene-io/tollgate/log"
	"github.com/pithecene-io/tollgate/metrics"
	"github.com/pithecene-io/tollgate/pool"
	"github.com/pithecene-io/tollgate/source"
	"github.com/pithecene-io/tollgate/types"
)

// DefaultNotifyTimeout bounds each adapter publish.
const DefaultNotifyTimeout = 10 * time.Second

// DefaultResourceKey is the lock key for a pipeline acting on a project:
// "<pipeline>_<project>", or just the pipeline when project is empty.
func DefaultResourceKey(pipeline, project string) string {
	if project == "" {
		return pipeline
	}
	return pipeline + "_" + project
}

// Config configures one invocation.
type Config struct {
	// Pipeline names the pipeline (required).
	Pipeline string
	// Project scopes the default resource key.
	Project string
	// ResourceKey overrides DefaultResourceKey(Pipeline, Project).
	ResourceKey string
	// RunID identifies the invocation. Generated when empty.
	RunID string

	// Workers is the pool size (default pool.DefaultWorkers).
	Workers int
	// Lock configures the locker. Logger and Metrics are filled in.
	Lock lock.Config
	// Wait is the lock wait policy.
	Wait lock.WaitPolicy

	// Source enumerates the batch (required).
	Source source.ChangeSource
	// Analyzer reviews each file (required).
	Analyzer analyzer.Analyzer

	// Sinks persist the report while the lock is held.
	Sinks []lode.ReportWriter
	// StorageBackend labels metrics ("fs", "s3", "memory").
	StorageBackend string
	// StoragePath is reported to adapters as where the report lives.
	StoragePath string
	// Ledger records every invocation, including ones that never got the
	// lock. Written after release.
	Ledger lode.ReportWriter

	// Adapters are notified after release. Failures are logged only.
	Adapters []adapter.Adapter
	// NotifyTimeout bounds each publish (default 10s).
	NotifyTimeout time.Duration

	// LogOutput receives JSON logs (default os.Stderr).
	LogOutput io.Writer
	// LogLevel is the minimum log level (default "info").
	LogLevel string
}

// Result is what an invocation produced.
type Result struct {
	// Report is always set, even when the batch never ran.
	Report *types.Report
	// Metrics is the final metrics snapshot.
	Metrics metrics.Snapshot
	// Batch is the raw pool result, nil when the batch never ran.
	Batch *pool.BatchResult
}

func (c *Config) validate() error {
	switch {
	case c.Pipeline == "":
		return fmt.Errorf("%w: pipeline name is required", ErrInvalidConfig)
	case c.Source == nil:
		return fmt.Errorf("%w: change source is required", ErrInvalidConfig)
	case c.Analyzer == nil:
		return fmt.Errorf("%w: analyzer is required", ErrInvalidConfig)
	}
	return nil
}

// Run executes one invocation.
//
// A nil error means the batch ran (possibly with item failures, see
// Report.Summary.Status). Otherwise the error classifies the failure for
// ExitCode: *lock.BusyError, *lock.IOError, *pool.StartupError,
// *SourceError, or ErrStorage. Result is non-nil whenever the config is valid.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	r := newRunner(cfg)
	return r.run(ctx)
}

type runner struct {
	cfg     Config
	key     string
	logger  *log.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

func newRunner(cfg Config) *runner {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	key := cfg.ResourceKey
	if key == "" {
		key = DefaultResourceKey(cfg.Pipeline, cfg.Project)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = pool.DefaultWorkers
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	out := cfg.LogOutput
	if out == nil {
		out = os.Stderr
	}
	level := cfg.LogLevel
	if level == "" {
		level = "info"
	}

	return &runner{
		cfg: cfg,
		key: key,
		logger: log.NewLoggerWithLevel(log.RunContext{
			RunID:       cfg.RunID,
			Pipeline:    cfg.Pipeline,
			ResourceKey: key,
		}, out, level),
		metrics: metrics.NewCollector(cfg.Pipeline, cfg.Analyzer.Name(), cfg.StorageBackend, cfg.RunID),
		now:     time.Now,
	}
}

func (r *runner) run(ctx context.Context) (*Result, error) {
	defer func() { _ = r.logger.Sync() }()

	started := r.now()
	report := &types.Report{
		Summary: types.RunSummary{
			RunID:       r.cfg.RunID,
			Pipeline:    r.cfg.Pipeline,
			ResourceKey: r.key,
			StartedAt:   started,
		},
		Files:    []types.FileDetail{},
		Findings: []types.Finding{},
	}
	res := &Result{Report: report}

	lockCfg := r.cfg.Lock
	lockCfg.Logger = r.logger
	lockCfg.Metrics = r.metrics
	locker, err := lock.New(lockCfg)
	if err != nil {
		return r.finish(ctx, res, err, false)
	}

	acquired := false
	var batchErr error
	lockErr := locker.WithLock(ctx, r.key, r.cfg.Wait, func(ctx context.Context, h *lock.Handle) error {
		acquired = true
		report.Summary.LockWaitMS = h.AcquiredAt.Sub(started).Milliseconds()
		batchErr = r.critical(ctx, res)
		return nil
	})

	switch {
	case !acquired:
		report.Summary.LockWaitMS = r.now().Sub(started).Milliseconds()
		return r.finish(ctx, res, lockErr, false)
	case lockErr != nil:
		// The batch finished but its marker may be left behind.
		r.logger.Error("lock release failed", map[string]any{"error": lockErr.Error()})
		return r.finish(ctx, res, errors.Join(batchErr, lockErr), true)
	default:
		return r.finish(ctx, res, batchErr, true)
	}
}

// critical runs everything that must happen under the lock.
func (r *runner) critical(ctx context.Context, res *Result) error {
	files, err := r.cfg.Source.Changes(ctx)
	if err != nil {
		return &SourceError{Err: err}
	}
	r.logger.Info("changes enumerated", map[string]any{"files": len(files)})

	batch, err := pool.Run(ctx, files, pool.Config[types.ChangedFile]{
		Workers: r.cfg.Workers,
		Key:     analyzer.Key,
		Analyze: analyzer.Func(r.cfg.Analyzer),
		Logger:  r.logger,
		Metrics: r.metrics,
	})
	if err != nil {
		return err
	}
	res.Batch = batch
	fillReport(res.Report, files, batch)

	// Status must be final before sinks see the summary.
	res.Report.Summary.Status = statusFor(batch)
	res.Report.Summary.FinishedAt = r.now()
	return r.persist(ctx, res.Report)
}

func (r *runner) persist(ctx context.Context, report *types.Report) error {
	var errs []error
	for _, sink := range r.cfg.Sinks {
		sink = lode.NewInstrumentedSink(sink, r.metrics)
		if err := sink.WriteReport(ctx, report, r.metrics.Snapshot()); err != nil {
			r.logger.Error("report write failed", map[string]any{"error": err.Error()})
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrStorage, errors.Join(errs...))
	}
	return nil
}

// finish settles the summary, records the ledger entry, notifies adapters
// and returns the classified error.
func (r *runner) finish(ctx context.Context, res *Result, err error, ran bool) (*Result, error) {
	sum := &res.Report.Summary
	if sum.FinishedAt.IsZero() {
		sum.FinishedAt = r.now()
	}
	if err != nil {
		sum.Status = statusForError(err, ran && res.Batch != nil)
		sum.Message = err.Error()
	}
	if sum.Status == "" {
		sum.Status = types.OutcomeError
	}

	level := r.logger.Info
	if err != nil {
		level = r.logger.Warn
	}
	level("invocation finished", map[string]any{
		"status":       string(sum.Status),
		"items":        sum.Items,
		"failed":       sum.Failed,
		"findings":     sum.Findings,
		"lock_wait_ms": sum.LockWaitMS,
		"duration_ms":  sum.Duration().Milliseconds(),
	})

	res.Metrics = r.metrics.Snapshot()

	if r.cfg.Ledger != nil {
		if lerr := r.cfg.Ledger.WriteReport(context.WithoutCancel(ctx), res.Report, res.Metrics); lerr != nil {
			r.logger.Warn("history ledger write failed", map[string]any{"error": lerr.Error()})
		}
	}
	r.notify(ctx, sum)
	return res, err
}

// notify publishes the completion event to every adapter. It runs after
// the lock is released and never changes the outcome.
func (r *runner) notify(ctx context.Context, sum *types.RunSummary) {
	if len(r.cfg.Adapters) == 0 {
		return
	}
	storagePath := ""
	if sum.Status.Ran() {
		storagePath = r.cfg.StoragePath
	}
	event := adapter.NewBatchCompletedEvent(sum, storagePath)
	base := context.WithoutCancel(ctx)
	for i, a := range r.cfg.Adapters {
		pctx, cancel := context.WithTimeout(base, r.cfg.NotifyTimeout)
		err := a.Publish(pctx, event)
		cancel()
		if err != nil {
			r.logger.Warn("adapter publish failed", map[string]any{
				"adapter": i,
				"error":   err.Error(),
			})
			continue
		}
		r.logger.Debug("adapter notified", map[string]any{"adapter": i})
	}
}

func fillReport(report *types.Report, files []types.ChangedFile, batch *pool.BatchResult) {
	sum := &report.Summary
	sum.Items = len(batch.Outcomes)
	sum.Succeeded = batch.Succeeded
	sum.Failed = batch.Failed
	sum.Findings = len(batch.Findings)
	sum.BySeverity = types.CountBySeverity(batch.Findings)
	sum.FailedFiles = batch.FailedKeys()

	report.Findings = batch.Findings
	report.Files = make([]types.FileDetail, len(batch.Outcomes))
	for i, o := range batch.Outcomes {
		f := files[o.Index]
		report.Files[i] = types.FileDetail{
			Path:       o.Key,
			ChangeType: string(f.ChangeType),
			DiffSize:   len(f.Diff),
			Findings:   len(o.Findings),
			DurationMS: o.Duration.Milliseconds(),
			Success:    o.OK,
			Error:      o.Error,
		}
	}
}

func statusFor(batch *pool.BatchResult) types.OutcomeStatus {
	if batch.Failed > 0 {
		return types.OutcomePartial
	}
	return types.OutcomeCompleted
}

// statusForError classifies err. When the batch itself ran, a later
// storage or release failure is reported as a generic error.
func statusForError(err error, batchRan bool) types.OutcomeStatus {
	switch ExitCode(err) {
	case ExitLockBusy:
		return types.OutcomeLockBusy
	case ExitLockIO:
		if batchRan {
			return types.OutcomeError
		}
		return types.OutcomeLockIO
	case ExitStartup:
		return types.OutcomeStartupError
	case ExitSource:
		return types.OutcomeSourceError
	default:
		return types.OutcomeError
	}
}
