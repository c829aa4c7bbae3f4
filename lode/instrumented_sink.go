package lode

import (
	"context"

	"github.com/pithecene-io/tollgate/metrics"
	"github.com/pithecene-io/tollgate/types"
)

// InstrumentedSink wraps a ReportWriter and counts write outcomes.
// Each WriteReport call increments storage_write_success or
// storage_write_failure on the collector.
type InstrumentedSink struct {
	inner     ReportWriter
	collector *metrics.Collector
}

// NewInstrumentedSink wraps a writer with metrics instrumentation.
func NewInstrumentedSink(inner ReportWriter, collector *metrics.Collector) *InstrumentedSink {
	return &InstrumentedSink{inner: inner, collector: collector}
}

// WriteReport delegates to the inner writer and records success or failure.
// The snapshot passed through is taken before this write is counted.
func (s *InstrumentedSink) WriteReport(ctx context.Context, report *types.Report, snap metrics.Snapshot) error {
	err := s.inner.WriteReport(ctx, report, snap)
	if err != nil {
		s.collector.IncStorageWriteFailure()
	} else {
		s.collector.IncStorageWriteSuccess()
	}
	return err
}

// Close delegates to the inner writer.
func (s *InstrumentedSink) Close() error {
	return s.inner.Close()
}

var _ ReportWriter = (*InstrumentedSink)(nil)
