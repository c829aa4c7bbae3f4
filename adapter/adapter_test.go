package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pithecene-io/tollgate/types"
)

func TestNewBatchCompletedEvent(t *testing.T) {
	start := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)
	s := &types.RunSummary{
		RunID:       "run-001",
		Pipeline:    "mr_review",
		ResourceKey: "mr_review_proj",
		Status:      types.OutcomePartial,
		StartedAt:   start,
		FinishedAt:  start.Add(1500 * time.Millisecond),
		LockWaitMS:  30,
		Items:       4,
		Succeeded:   3,
		Failed:      1,
		Findings:    5,
		BySeverity:  map[types.Severity]int{types.SeverityMajor: 5},
		FailedFiles: []string{"a.go"},
	}

	e := NewBatchCompletedEvent(s, "file:///data/tollgate")
	if e.EventType != EventTypeBatchCompleted || e.Version != types.Version {
		t.Errorf("EventType/Version = %q/%q", e.EventType, e.Version)
	}
	if e.Outcome != "partial" || e.Items != 4 || e.Failed != 1 || e.Findings != 5 {
		t.Errorf("event = %+v", e)
	}
	if e.DurationMs != 1500 || e.LockWaitMs != 30 {
		t.Errorf("DurationMs/LockWaitMs = %d/%d", e.DurationMs, e.LockWaitMs)
	}
	if e.Timestamp != "2026-02-07T12:00:01Z" {
		t.Errorf("Timestamp = %q", e.Timestamp)
	}
	if e.BySeverity["major"] != 5 {
		t.Errorf("BySeverity = %v", e.BySeverity)
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(t.Context(), 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d, want nil/3", err, calls)
	}
}

func TestRetry_Exhausts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Retry(t.Context(), 2, time.Millisecond, func(context.Context) error {
		calls++
		return boom
	}, nil)
	if !errors.Is(err, boom) || calls != 3 {
		t.Fatalf("err=%v calls=%d, want boom/3", err, calls)
	}
}

func TestRetry_PermanentStopsEarly(t *testing.T) {
	calls := 0
	bad := errors.New("bad request")
	err := Retry(t.Context(), 5, time.Millisecond, func(context.Context) error {
		calls++
		return bad
	}, func(err error) bool { return errors.Is(err, bad) })
	if !errors.Is(err, bad) || calls != 1 {
		t.Fatalf("err=%v calls=%d, want bad/1", err, calls)
	}
}

func TestRetry_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	err := Retry(ctx, 5, time.Second, func(context.Context) error {
		return errors.New("transient")
	}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}
