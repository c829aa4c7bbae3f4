package types

import "time"

// OutcomeStatus is the final status of a pipeline invocation.
type OutcomeStatus string

const (
	// OutcomeCompleted indicates every item was analyzed successfully.
	OutcomeCompleted OutcomeStatus = "completed"
	// OutcomePartial indicates the batch ran but some items failed.
	OutcomePartial OutcomeStatus = "partial"
	// OutcomeLockBusy indicates another invocation held the resource lock.
	OutcomeLockBusy OutcomeStatus = "lock_busy"
	// OutcomeLockIO indicates the lock marker could not be managed.
	OutcomeLockIO OutcomeStatus = "lock_io_error"
	// OutcomeStartupError indicates the batch could not start.
	OutcomeStartupError OutcomeStatus = "startup_error"
	// OutcomeSourceError indicates changed files could not be enumerated.
	OutcomeSourceError OutcomeStatus = "source_error"
	// OutcomeError indicates any other failure.
	OutcomeError OutcomeStatus = "error"
)

// Ran reports whether the batch was attempted.
func (s OutcomeStatus) Ran() bool {
	return s == OutcomeCompleted || s == OutcomePartial
}

// RunSummary is the aggregate record of one invocation.
type RunSummary struct {
	RunID       string        `json:"run_id" yaml:"run_id"`
	Pipeline    string        `json:"pipeline" yaml:"pipeline"`
	ResourceKey string        `json:"resource_key" yaml:"resource_key"`
	Status      OutcomeStatus `json:"status" yaml:"status"`
	Message     string        `json:"message,omitempty" yaml:"message,omitempty"`
	StartedAt   time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time     `json:"finished_at" yaml:"finished_at"`
	// LockWaitMS is the time spent acquiring the resource lock.
	LockWaitMS int64 `json:"lock_wait_ms" yaml:"lock_wait_ms"`
	Items      int   `json:"items" yaml:"items"`
	Succeeded  int   `json:"succeeded" yaml:"succeeded"`
	Failed     int   `json:"failed" yaml:"failed"`
	Findings   int   `json:"findings" yaml:"findings"`
	// BySeverity counts findings per severity.
	BySeverity map[Severity]int `json:"by_severity,omitempty" yaml:"by_severity,omitempty"`
	// FailedFiles lists failed item keys in submission order.
	FailedFiles []string `json:"failed_files,omitempty" yaml:"failed_files,omitempty"`
}

// Duration returns FinishedAt - StartedAt.
func (s *RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// FileDetail is the per-file analysis record.
type FileDetail struct {
	Path       string `json:"path" yaml:"path"`
	ChangeType string `json:"change_type,omitempty" yaml:"change_type,omitempty"`
	DiffSize   int    `json:"diff_size" yaml:"diff_size"`
	Findings   int    `json:"findings" yaml:"findings"`
	DurationMS int64  `json:"duration_ms" yaml:"duration_ms"`
	Success    bool   `json:"success" yaml:"success"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is everything one invocation produced.
type Report struct {
	Summary  RunSummary   `json:"summary" yaml:"summary"`
	Files    []FileDetail `json:"files" yaml:"files"`
	Findings []Finding    `json:"findings" yaml:"findings"`
}

// CountBySeverity tallies findings per severity.
func CountBySeverity(findings []Finding) map[Severity]int {
	out := make(map[Severity]int)
	for _, f := range findings {
		out[f.Severity]++
	}
	return out
}
