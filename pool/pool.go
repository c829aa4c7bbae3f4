// Package pool runs a bounded set of goroutines over a batch of work items.
//
// Every item is attempted exactly once. A failing or panicking item turns
// into a failed Outcome and never aborts its siblings. Outcomes come back
// in submission order regardless of completion order.
package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pithecene-io/tollgate/log"
	"github.com/pithecene-io/tollgate/metrics"
	"github.com/pithecene-io/tollgate/types"
)

// DefaultWorkers is the worker count used by pipelines when none is configured.
const DefaultWorkers = 3

// AnalyzeFunc analyzes one item. index is zero-based, total is the batch size.
type AnalyzeFunc[T any] func(ctx context.Context, item T, index, total int) ([]types.Finding, error)

// KeyFunc returns a stable display key for an item.
type KeyFunc[T any] func(item T) string

// Config configures one batch.
type Config[T any] struct {
	// Workers is the maximum concurrency. Clamped to [1, len(items)].
	Workers int
	// Key names items in outcomes and logs. Required.
	Key KeyFunc[T]
	// Analyze is invoked once per item. Required.
	Analyze AnalyzeFunc[T]
	// Logger is optional.
	Logger *log.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
}

// EffectiveWorkers returns the number of goroutines Run starts for n items.
func EffectiveWorkers(configured, n int) int {
	if n <= 0 {
		return 0
	}
	w := max(configured, 1)
	return min(w, n)
}

// Run analyzes items concurrently and blocks until each item has an outcome.
//
// The only error Run returns is a *StartupError, for configurations that
// cannot start any worker. ctx is handed to Analyze; Run itself never
// stops a batch early.
func Run[T any](ctx context.Context, items []T, cfg Config[T]) (*BatchResult, error) {
	if cfg.Analyze == nil {
		return nil, &StartupError{Reason: "analyze func is nil"}
	}
	if cfg.Key == nil {
		return nil, &StartupError{Reason: "key func is nil"}
	}

	total := len(items)
	if total == 0 {
		return newBatchResult([]Outcome{}), nil
	}

	workers := EffectiveWorkers(cfg.Workers, total)
	cfg.Logger.Info("batch started", map[string]any{
		"items":   total,
		"workers": workers,
	})
	start := time.Now()

	// Indexes are queued up front; the channel is closed so workers exit
	// once it drains.
	queue := make(chan int, total)
	for i := range total {
		queue <- i
	}
	close(queue)

	outcomes := make([]Outcome, total)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := range workers {
		go func(worker int) {
			defer wg.Done()
			for idx := range queue {
				outcomes[idx] = runOne(ctx, cfg, worker, items[idx], idx, total)
			}
		}(w)
	}
	wg.Wait()

	res := newBatchResult(outcomes)
	cfg.Logger.Info("batch completed", map[string]any{
		"items":       total,
		"succeeded":   res.Succeeded,
		"failed":      res.Failed,
		"findings":    len(res.Findings),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return res, nil
}

// runOne analyzes a single item, converting errors and panics into a failed outcome.
func runOne[T any](ctx context.Context, cfg Config[T], worker int, item T, index, total int) (out Outcome) {
	key := safeKey(cfg.Key, item, index)
	out = Outcome{Key: key, Index: index, Total: total}

	cfg.Metrics.IncItemStarted()
	cfg.Logger.Debug("item started", map[string]any{
		"key":    key,
		"index":  index,
		"total":  total,
		"worker": worker,
	})

	start := time.Now()
	defer func() {
		out.Duration = time.Since(start)
		if r := recover(); r != nil {
			out.OK = false
			out.Findings = nil
			out.Panicked = true
			out.Error = fmt.Sprintf("panic: %v", r)
			cfg.Metrics.IncItemPanicked()
			cfg.Logger.Error("item panicked", map[string]any{
				"key":   key,
				"index": index,
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
		}
	}()

	findings, err := cfg.Analyze(ctx, item, index, total)
	if err != nil {
		out.Error = err.Error()
		cfg.Metrics.IncItemFailed()
		cfg.Logger.Warn("item failed", map[string]any{
			"key":   key,
			"index": index,
			"error": err.Error(),
		})
		return out
	}

	if findings == nil {
		findings = []types.Finding{}
	}
	out.OK = true
	out.Findings = findings
	cfg.Metrics.IncItemSucceeded(len(findings))
	return out
}

// safeKey falls back to "item-<index>" when fn panics.
func safeKey[T any](fn KeyFunc[T], item T, index int) (key string) {
	defer func() {
		if r := recover(); r != nil {
			key = fmt.Sprintf("item-%d", index)
		}
	}()
	return fn(item)
}
