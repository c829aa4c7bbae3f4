package lode

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/tollgate/types"
)

// ErrNoSummaryFound is returned when no summary records exist in the dataset.
var ErrNoSummaryFound = errors.New("no summary records found")

// StoredReport is a report read back from the dataset.
type StoredReport struct {
	Report types.Report `json:"report" yaml:"report"`
	// Metrics is the raw metrics record, nil if none was stored.
	Metrics map[string]any `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// QueryLatestReport finds the most recent summary record and returns it
// together with the findings and file details written in the same snapshot.
// Filters by pipeline and runID if non-empty.
func QueryLatestReport(ctx context.Context, ds lode.Dataset, pipeline, runID string) (*StoredReport, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, fmt.Sprintf("%s/snapshots", ds.ID()))
	}

	// Latest first.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]

		if !snapshotMatchesFilter(snap, "record_kind", RecordKindSummary) {
			continue
		}
		if !snapshotMatchesFilter(snap, "pipeline", pipeline) {
			continue
		}
		if !snapshotMatchesFilter(snap, "run_id", runID) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}

		// Manifest paths are a coarse filter; record fields are authoritative.
		if out := assembleReport(data, pipeline, runID); out != nil {
			return out, nil
		}
	}

	return nil, ErrNoSummaryFound
}

// assembleReport builds a report from one snapshot's records. Returns nil
// if no matching summary is present.
func assembleReport(data []any, pipeline, runID string) *StoredReport {
	var summary map[string]any
	for _, item := range data {
		r, ok := item.(map[string]any)
		if !ok || r["record_kind"] != RecordKindSummary {
			continue
		}
		if pipeline != "" && toString(r["pipeline"]) != pipeline {
			continue
		}
		if runID != "" && toString(r["run_id"]) != runID {
			continue
		}
		summary = r
	}
	if summary == nil {
		return nil
	}

	out := &StoredReport{Report: types.Report{Summary: summaryFromRecord(summary)}}
	wantRun := out.Report.Summary.RunID

	type seqFile struct {
		seq int64
		d   types.FileDetail
	}
	type seqFinding struct {
		seq int64
		f   types.Finding
	}
	var files []seqFile
	var findings []seqFinding

	for _, item := range data {
		r, ok := item.(map[string]any)
		if !ok || toString(r["run_id"]) != wantRun {
			continue
		}
		switch r["record_kind"] {
		case RecordKindFile:
			files = append(files, seqFile{toInt64(r["seq"]), fileFromRecord(r)})
		case RecordKindFinding:
			findings = append(findings, seqFinding{toInt64(r["seq"]), findingFromRecord(r)})
		case RecordKindMetrics:
			out.Metrics = r
		}
	}

	sort.SliceStable(files, func(i, j int) bool { return files[i].seq < files[j].seq })
	sort.SliceStable(findings, func(i, j int) bool { return findings[i].seq < findings[j].seq })
	out.Report.Files = make([]types.FileDetail, len(files))
	for i, f := range files {
		out.Report.Files[i] = f.d
	}
	out.Report.Findings = make([]types.Finding, len(findings))
	for i, f := range findings {
		out.Report.Findings[i] = f.f
	}
	return out
}
