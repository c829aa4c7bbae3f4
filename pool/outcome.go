package pool

import (
	"time"

	"github.com/pithecene-io/tollgate/types"
)

// Outcome is the result of analyzing one item.
// Created once per item by the pool and not modified afterwards.
type Outcome struct {
	// Key is the caller-supplied display key (usually a file path).
	Key string `json:"key"`
	// OK is true when Analyze returned without error or panic.
	OK bool `json:"ok"`
	// Findings holds the findings for this item. Empty when OK is false.
	Findings []types.Finding `json:"findings,omitempty"`
	// Error is the failure message when OK is false.
	Error string `json:"error,omitempty"`
	// Panicked is true when the failure was a recovered panic.
	Panicked bool `json:"panicked,omitempty"`
	// Duration is the wall time spent in Analyze.
	Duration time.Duration `json:"duration_ns"`
	// Index is the zero-based submission position.
	Index int `json:"index"`
	// Total is the number of items in the batch.
	Total int `json:"total"`
}

// BatchResult aggregates the outcomes of one batch.
type BatchResult struct {
	// Findings is every finding, flattened in submission order.
	Findings []types.Finding `json:"findings"`
	// Outcomes holds exactly one outcome per item, in submission order.
	Outcomes []Outcome `json:"outcomes"`
	// Succeeded is the number of outcomes with OK set.
	Succeeded int `json:"succeeded"`
	// Failed is the number of outcomes without OK set.
	Failed int `json:"failed"`
}

// Partial reports whether some but not all items failed.
func (r *BatchResult) Partial() bool {
	return r != nil && r.Failed > 0 && r.Succeeded > 0
}

// FailedKeys returns the keys of failed items in submission order.
func (r *BatchResult) FailedKeys() []string {
	if r == nil {
		return nil
	}
	var keys []string
	for _, o := range r.Outcomes {
		if !o.OK {
			keys = append(keys, o.Key)
		}
	}
	return keys
}

// newBatchResult flattens outcomes into a BatchResult.
func newBatchResult(outcomes []Outcome) *BatchResult {
	res := &BatchResult{
		Findings: []types.Finding{},
		Outcomes: outcomes,
	}
	for _, o := range outcomes {
		if o.OK {
			res.Succeeded++
			res.Findings = append(res.Findings, o.Findings...)
		} else {
			res.Failed++
		}
	}
	return res
}
