package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pithecene-io/tollgate/metrics"
	"github.com/pithecene-io/tollgate/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testReport(runID, pipeline string, status types.OutcomeStatus, started time.Time) *types.Report {
	return &types.Report{
		Summary: types.RunSummary{
			RunID:       runID,
			Pipeline:    pipeline,
			ResourceKey: pipeline + "_proj",
			Status:      status,
			StartedAt:   started,
			FinishedAt:  started.Add(2 * time.Second),
			LockWaitMS:  15,
			Items:       2,
			Succeeded:   1,
			Failed:      1,
			Findings:    3,
			BySeverity:  map[types.Severity]int{types.SeverityMajor: 2, types.SeverityMinor: 1},
		},
		Files: []types.FileDetail{
			{Path: "a.go", ChangeType: "modified_file", DiffSize: 120, Findings: 3, DurationMS: 40, Success: true},
			{Path: "b.go", ChangeType: "new_file", DiffSize: 10, DurationMS: 5, Error: "boom"},
		},
	}
}

func TestWriteReportAndRun(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.WriteReport(ctx, testReport("run-1", "mr-review", types.OutcomePartial, started), metrics.Snapshot{LockStaleReclaimed: 1}); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}

	rep, err := s.Run(ctx, "run-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Summary.Status != types.OutcomePartial {
		t.Errorf("Status = %q, want partial", rep.Summary.Status)
	}
	if !rep.Summary.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", rep.Summary.StartedAt, started)
	}
	if rep.Summary.Duration() != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", rep.Summary.Duration())
	}
	if rep.Summary.BySeverity[types.SeverityMajor] != 2 {
		t.Errorf("BySeverity = %v", rep.Summary.BySeverity)
	}
	if len(rep.Files) != 2 || rep.Files[0].Path != "a.go" || rep.Files[1].Path != "b.go" {
		t.Fatalf("Files = %+v", rep.Files)
	}
	if rep.Files[1].Success || rep.Files[1].Error != "boom" {
		t.Errorf("Files[1] = %+v, want failed with boom", rep.Files[1])
	}
	if len(rep.Summary.FailedFiles) != 1 || rep.Summary.FailedFiles[0] != "b.go" {
		t.Errorf("FailedFiles = %v, want [b.go]", rep.Summary.FailedFiles)
	}
}

func TestWriteReportReplacesRun(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.WriteReport(ctx, testReport("run-1", "p", types.OutcomePartial, started), metrics.Snapshot{}); err != nil {
		t.Fatal(err)
	}
	rep := testReport("run-1", "p", types.OutcomeCompleted, started)
	rep.Files = rep.Files[:1]
	if err := s.WriteReport(ctx, rep, metrics.Snapshot{}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Run(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary.Status != types.OutcomeCompleted || len(got.Files) != 1 {
		t.Errorf("got status %q with %d files, want completed with 1", got.Summary.Status, len(got.Files))
	}
}

func TestRunNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Run(t.Context(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	reports := []*types.Report{
		testReport("r1", "mr-review", types.OutcomeCompleted, base),
		testReport("r2", "mr-review", types.OutcomeLockBusy, base.Add(time.Minute)),
		testReport("r3", "sql-scan", types.OutcomeCompleted, base.Add(2*time.Minute)),
		testReport("r4", "mr-review", types.OutcomePartial, base.Add(3*time.Minute)),
	}
	for _, r := range reports {
		if err := s.WriteReport(ctx, r, metrics.Snapshot{}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all newest first", Filter{}, []string{"r4", "r3", "r2", "r1"}},
		{"pipeline", Filter{Pipeline: "mr-review"}, []string{"r4", "r2", "r1"}},
		{"status", Filter{Status: types.OutcomeLockBusy}, []string{"r2"}},
		{"limit", Filter{Limit: 2}, []string{"r4", "r3"}},
		{"no match", Filter{Pipeline: "nope"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Recent(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d runs, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].RunID != id {
					t.Errorf("got[%d] = %s, want %s", i, got[i].RunID, id)
				}
			}
		})
	}
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "new"} {
		if err := s.WriteReport(ctx, testReport(id, "p", types.OutcomeCompleted, base.Add(time.Duration(i)*24*time.Hour)), metrics.Snapshot{}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.Prune(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if _, err := s.Run(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old run still present: %v", err)
	}
	if _, err := s.Run(ctx, "new"); err != nil {
		t.Errorf("new run missing: %v", err)
	}
}

func TestWriteReportNil(t *testing.T) {
	s := openTestStore(t)
	if err := s.WriteReport(t.Context(), nil, metrics.Snapshot{}); err == nil {
		t.Fatal("expected error for nil report")
	}
}
