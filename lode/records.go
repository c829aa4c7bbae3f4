package lode

import (
	"encoding/json"
	"time"

	"github.com/pithecene-io/tollgate/metrics"
	"github.com/pithecene-io/tollgate/types"
)

// RecordKind discriminator values. Each kind lands in its own
// record_kind=<kind> partition.
const (
	RecordKindFinding = "finding"
	RecordKindFile    = "file"
	RecordKindSummary = "summary"
	RecordKindMetrics = "metrics"
)

// partitionFields returns the fields every record carries for the Hive layout.
func (c Config) partitionFields(kind string) map[string]any {
	return map[string]any{
		"record_kind": kind,
		"pipeline":    c.Pipeline,
		"day":         c.Day,
		"run_id":      c.RunID,
	}
}

func toFindingRecordMap(f types.Finding, seq int, cfg Config) map[string]any {
	m := cfg.partitionFields(RecordKindFinding)
	m["seq"] = seq
	m["severity"] = string(f.Severity)
	m["category"] = f.Category
	m["title"] = f.Title
	m["description"] = f.Description
	m["file_path"] = f.FilePath
	m["suggestion"] = f.Suggestion
	m["source"] = f.Source
	if f.Line != nil {
		m["line"] = *f.Line
	}
	return m
}

func toFileRecordMap(d types.FileDetail, seq int, cfg Config) map[string]any {
	m := cfg.partitionFields(RecordKindFile)
	m["seq"] = seq
	m["path"] = d.Path
	m["change_type"] = d.ChangeType
	m["diff_size"] = d.DiffSize
	m["findings"] = d.Findings
	m["duration_ms"] = d.DurationMS
	m["success"] = d.Success
	if d.Error != "" {
		m["error"] = d.Error
	}
	return m
}

func toSummaryRecordMap(s types.RunSummary, cfg Config) map[string]any {
	m := cfg.partitionFields(RecordKindSummary)
	bySeverity := make(map[string]any, len(s.BySeverity))
	for sev, n := range s.BySeverity {
		bySeverity[string(sev)] = n
	}
	failed := make([]any, 0, len(s.FailedFiles))
	for _, f := range s.FailedFiles {
		failed = append(failed, f)
	}
	m["resource_key"] = s.ResourceKey
	m["status"] = string(s.Status)
	m["message"] = s.Message
	m["started_at"] = s.StartedAt.UTC().Format(time.RFC3339Nano)
	m["finished_at"] = s.FinishedAt.UTC().Format(time.RFC3339Nano)
	m["lock_wait_ms"] = s.LockWaitMS
	m["items"] = s.Items
	m["succeeded"] = s.Succeeded
	m["failed"] = s.Failed
	m["findings"] = s.Findings
	m["by_severity"] = bySeverity
	m["failed_files"] = failed
	return m
}

func toMetricsRecordMap(snap metrics.Snapshot, cfg Config) map[string]any {
	m := cfg.partitionFields(RecordKindMetrics)
	m["items_started_total"] = snap.ItemsStarted
	m["items_succeeded_total"] = snap.ItemsSucceeded
	m["items_failed_total"] = snap.ItemsFailed
	m["items_panicked_total"] = snap.ItemsPanicked
	m["findings_total"] = snap.Findings
	m["lock_acquired_total"] = snap.LockAcquired
	m["lock_busy_total"] = snap.LockBusy
	m["lock_stale_reclaimed_total"] = snap.LockStaleReclaimed
	m["lock_io_errors_total"] = snap.LockIOErrors
	m["lock_wait_ms"] = snap.LockWait.Milliseconds()
	m["storage_write_success_total"] = snap.StorageWriteSuccess
	m["storage_write_failure_total"] = snap.StorageWriteFailure
	m["analyzer"] = snap.Analyzer
	m["storage_backend"] = snap.StorageBackend
	return m
}

// summaryFromRecord rebuilds a RunSummary from a decoded summary record.
// Missing or mistyped fields are left zero.
func summaryFromRecord(r map[string]any) types.RunSummary {
	s := types.RunSummary{
		RunID:       toString(r["run_id"]),
		Pipeline:    toString(r["pipeline"]),
		ResourceKey: toString(r["resource_key"]),
		Status:      types.OutcomeStatus(toString(r["status"])),
		Message:     toString(r["message"]),
		LockWaitMS:  toInt64(r["lock_wait_ms"]),
		Items:       int(toInt64(r["items"])),
		Succeeded:   int(toInt64(r["succeeded"])),
		Failed:      int(toInt64(r["failed"])),
		Findings:    int(toInt64(r["findings"])),
	}
	s.StartedAt, _ = time.Parse(time.RFC3339Nano, toString(r["started_at"]))
	s.FinishedAt, _ = time.Parse(time.RFC3339Nano, toString(r["finished_at"]))
	if sev, ok := r["by_severity"].(map[string]any); ok {
		s.BySeverity = make(map[types.Severity]int, len(sev))
		for k, v := range sev {
			s.BySeverity[types.Severity(k)] = int(toInt64(v))
		}
	}
	if failed, ok := r["failed_files"].([]any); ok {
		for _, f := range failed {
			s.FailedFiles = append(s.FailedFiles, toString(f))
		}
	}
	return s
}

func fileFromRecord(r map[string]any) types.FileDetail {
	return types.FileDetail{
		Path:       toString(r["path"]),
		ChangeType: toString(r["change_type"]),
		DiffSize:   int(toInt64(r["diff_size"])),
		Findings:   int(toInt64(r["findings"])),
		DurationMS: toInt64(r["duration_ms"]),
		Success:    r["success"] == true,
		Error:      toString(r["error"]),
	}
}

func findingFromRecord(r map[string]any) types.Finding {
	f := types.Finding{
		Severity:    types.Severity(toString(r["severity"])),
		Category:    toString(r["category"]),
		Title:       toString(r["title"]),
		Description: toString(r["description"]),
		FilePath:    toString(r["file_path"]),
		Suggestion:  toString(r["suggestion"]),
		Source:      toString(r["source"]),
	}
	if _, ok := r["line"]; ok {
		line := int(toInt64(r["line"]))
		f.Line = &line
	}
	return f
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// toInt64 accepts the numeric types a JSON round trip can produce.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case int32:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}
