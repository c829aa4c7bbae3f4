// Package adapter defines the notification boundary.
//
// Adapters publish batch completion notifications to downstream systems
// after the resource lock has been released. A failed notification never
// changes the outcome of the batch.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/tollgate/types"
)

// EventTypeBatchCompleted is the event_type of every published event.
const EventTypeBatchCompleted = "batch_completed"

// BatchCompletedEvent is the payload published when a pipeline invocation ends.
type BatchCompletedEvent struct {
	Version     string         `json:"version"`
	EventType   string         `json:"event_type"`
	RunID       string         `json:"run_id"`
	Pipeline    string         `json:"pipeline"`
	ResourceKey string         `json:"resource_key"`
	Outcome     string         `json:"outcome"`
	Message     string         `json:"message,omitempty"`
	Items       int            `json:"items"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	Findings    int            `json:"findings"`
	BySeverity  map[string]int `json:"by_severity,omitempty"`
	FailedFiles []string       `json:"failed_files,omitempty"`
	StoragePath string         `json:"storage_path,omitempty"`
	Timestamp   string         `json:"timestamp"` // RFC 3339
	DurationMs  int64          `json:"duration_ms"`
	LockWaitMs  int64          `json:"lock_wait_ms"`
}

// NewBatchCompletedEvent builds the event for summary.
// storagePath is where the report was persisted, empty if nowhere.
func NewBatchCompletedEvent(summary *types.RunSummary, storagePath string) *BatchCompletedEvent {
	bySeverity := make(map[string]int, len(summary.BySeverity))
	for sev, n := range summary.BySeverity {
		bySeverity[string(sev)] = n
	}
	finished := summary.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	return &BatchCompletedEvent{
		Version:     types.Version,
		EventType:   EventTypeBatchCompleted,
		RunID:       summary.RunID,
		Pipeline:    summary.Pipeline,
		ResourceKey: summary.ResourceKey,
		Outcome:     string(summary.Status),
		Message:     summary.Message,
		Items:       summary.Items,
		Succeeded:   summary.Succeeded,
		Failed:      summary.Failed,
		Findings:    summary.Findings,
		BySeverity:  bySeverity,
		FailedFiles: summary.FailedFiles,
		StoragePath: storagePath,
		Timestamp:   finished.UTC().Format(time.RFC3339),
		DurationMs:  summary.Duration().Milliseconds(),
		LockWaitMs:  summary.LockWaitMS,
	}
}

// Adapter publishes batch completion events to a downstream system.
type Adapter interface {
	// Publish sends the event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *BatchCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
