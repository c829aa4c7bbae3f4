// Package lode persists review batches to a Lode dataset.
//
// One invocation is written as a single snapshot holding finding, file,
// summary and metrics records, Hive-partitioned by
// pipeline/day/run_id/record_kind. The rendered report is stored as a
// sidecar file next to those partitions.
package lode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/tollgate/metrics"
	"github.com/pithecene-io/tollgate/types"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "tollgate"

// ReportFilename is the sidecar file holding the full JSON report.
const ReportFilename = "report.json"

// DeriveDay computes the partition day from the run start time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(startTime time.Time) string {
	return startTime.UTC().Format("2006-01-02")
}

// Config holds sink configuration. All partition keys are required.
type Config struct {
	// Dataset is the Lode dataset ID.
	Dataset string
	// Pipeline is the partition key for the pipeline name.
	Pipeline string
	// Day is the partition key derived from run start (YYYY-MM-DD UTC).
	Day string
	// RunID is the partition key for the invocation.
	RunID string
}

// Validate checks that every partition key is set.
func (c Config) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"dataset":  c.Dataset,
		"pipeline": c.Pipeline,
		"day":      c.Day,
		"run_id":   c.RunID,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("lode config missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// ReportWriter persists one invocation's report.
type ReportWriter interface {
	WriteReport(ctx context.Context, report *types.Report, snap metrics.Snapshot) error
	Close() error
}

// Sink writes reports through a Client.
type Sink struct {
	config Config
	client Client
}

// NewSink creates a new Lode sink.
func NewSink(config Config, client Client) *Sink {
	return &Sink{config: config, client: client}
}

// WriteReport writes findings, file details, the summary and metrics as one
// snapshot, then stores the full report as a sidecar file.
func (s *Sink) WriteReport(ctx context.Context, report *types.Report, snap metrics.Snapshot) error {
	if report == nil {
		return errors.New("lode sink: nil report")
	}

	records := make([]any, 0, len(report.Findings)+len(report.Files)+2)
	for i, f := range report.Findings {
		records = append(records, toFindingRecordMap(f, i, s.config))
	}
	for i, d := range report.Files {
		records = append(records, toFileRecordMap(d, i, s.config))
	}
	records = append(records,
		toSummaryRecordMap(report.Summary, s.config),
		toMetricsRecordMap(snap, s.config),
	)
	if err := s.client.WriteRecords(ctx, records); err != nil {
		return err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return s.client.PutFile(ctx, ReportFilename, data)
}

// Close implements ReportWriter.
func (s *Sink) Close() error {
	return s.client.Close()
}

var _ ReportWriter = (*Sink)(nil)

// StubClient records writes without persisting. Safe for concurrent use.
type StubClient struct {
	mu      sync.Mutex
	Records [][]any
	Files   map[string][]byte
	Closed  bool
	// WriteErr, when set, fails WriteRecords.
	WriteErr error
}

// NewStubClient creates a new stub client.
func NewStubClient() *StubClient {
	return &StubClient{Files: make(map[string][]byte)}
}

// WriteRecords implements Client.
func (c *StubClient) WriteRecords(_ context.Context, records []any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WriteErr != nil {
		return c.WriteErr
	}
	c.Records = append(c.Records, records)
	return nil
}

// PutFile implements Client.
func (c *StubClient) PutFile(_ context.Context, filename string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Files[filename] = data
	return nil
}

// Close implements Client.
func (c *StubClient) Close() error {
	c.mu.Lock()
	c.Closed = true
	c.mu.Unlock()
	return nil
}

var _ Client = (*StubClient)(nil)

func validateFilename(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid sidecar filename %q", name)
	}
	return nil
}
