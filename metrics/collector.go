// Package metrics provides per-invocation metrics collection.
//
// The Collector accumulates counters for one pipeline invocation: the
// worker pool records item outcomes, the locker records acquisition
// results. It is a leaf package with no internal dependencies.
package metrics

import (
	"sync"
	"time"
)

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Worker pool
	ItemsStarted   int64 `json:"items_started"`
	ItemsSucceeded int64 `json:"items_succeeded"`
	ItemsFailed    int64 `json:"items_failed"`
	ItemsPanicked  int64 `json:"items_panicked"`
	Findings       int64 `json:"findings"`

	// Invocation lock
	LockAcquired       int64         `json:"lock_acquired"`
	LockBusy           int64         `json:"lock_busy"`
	LockStaleReclaimed int64         `json:"lock_stale_reclaimed"`
	LockIOErrors       int64         `json:"lock_io_errors"`
	LockWait           time.Duration `json:"lock_wait_ns"`

	// Storage
	StorageWriteSuccess int64 `json:"storage_write_success"`
	StorageWriteFailure int64 `json:"storage_write_failure"`

	// Dimensions (informational, set at construction)
	Pipeline       string `json:"pipeline"`
	Analyzer       string `json:"analyzer"`
	StorageBackend string `json:"storage_backend"`
	RunID          string `json:"run_id"`
}

// Collector accumulates metrics during a single invocation.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	itemsStarted   int64
	itemsSucceeded int64
	itemsFailed    int64
	itemsPanicked  int64
	findings       int64

	lockAcquired       int64
	lockBusy           int64
	lockStaleReclaimed int64
	lockIOErrors       int64
	lockWait           time.Duration

	storageWriteSuccess int64
	storageWriteFailure int64

	pipeline       string
	analyzer       string
	storageBackend string
	runID          string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(pipeline, analyzer, storageBackend, runID string) *Collector {
	return &Collector{
		pipeline:       pipeline,
		analyzer:       analyzer,
		storageBackend: storageBackend,
		runID:          runID,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Worker pool ---

// IncItemStarted records an item picked up by a worker.
func (c *Collector) IncItemStarted() {
	if c == nil {
		return
	}
	c.add(&c.itemsStarted, 1)
}

// IncItemSucceeded records a successful item and the findings it produced.
func (c *Collector) IncItemSucceeded(findings int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.itemsSucceeded++
	c.findings += int64(findings)
	c.mu.Unlock()
}

// IncItemFailed records an item whose analysis returned an error.
func (c *Collector) IncItemFailed() {
	if c == nil {
		return
	}
	c.add(&c.itemsFailed, 1)
}

// IncItemPanicked records an item whose analysis panicked.
// Panicked items are also counted as failed.
func (c *Collector) IncItemPanicked() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.itemsPanicked++
	c.itemsFailed++
	c.mu.Unlock()
}

// --- Invocation lock ---

// ObserveLockAcquired records a successful acquisition and the time spent waiting.
func (c *Collector) ObserveLockAcquired(wait time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lockAcquired++
	c.lockWait += wait
	c.mu.Unlock()
}

// ObserveLockBusy records an acquisition that gave up and the time spent waiting.
func (c *Collector) ObserveLockBusy(wait time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lockBusy++
	c.lockWait += wait
	c.mu.Unlock()
}

// IncLockStaleReclaimed records removal of a stale marker.
func (c *Collector) IncLockStaleReclaimed() {
	if c == nil {
		return
	}
	c.add(&c.lockStaleReclaimed, 1)
}

// IncLockIOError records a lock filesystem failure.
func (c *Collector) IncLockIOError() {
	if c == nil {
		return
	}
	c.add(&c.lockIOErrors, 1)
}

// --- Storage ---
// Storage counters are per-call, not per-record.

// IncStorageWriteSuccess records a successful dataset write.
func (c *Collector) IncStorageWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.storageWriteSuccess, 1)
}

// IncStorageWriteFailure records a failed dataset write.
func (c *Collector) IncStorageWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.storageWriteFailure, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		ItemsStarted:   c.itemsStarted,
		ItemsSucceeded: c.itemsSucceeded,
		ItemsFailed:    c.itemsFailed,
		ItemsPanicked:  c.itemsPanicked,
		Findings:       c.findings,

		LockAcquired:       c.lockAcquired,
		LockBusy:           c.lockBusy,
		LockStaleReclaimed: c.lockStaleReclaimed,
		LockIOErrors:       c.lockIOErrors,
		LockWait:           c.lockWait,

		StorageWriteSuccess: c.storageWriteSuccess,
		StorageWriteFailure: c.storageWriteFailure,

		Pipeline:       c.pipeline,
		Analyzer:       c.analyzer,
		StorageBackend: c.storageBackend,
		RunID:          c.runID,
	}
}
