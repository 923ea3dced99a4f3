// Package audit records a privacy-preserving summary of every pipeline run.
//
// Records carry the verdict, the risk score and per-type entity counts. Entity
// values, spans and source text never reach a sink: the Recorder receives
// entities but only counts them.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/polisai/polis-dlp/pkg/domain"
)

// Sink appends audit records. Implementations must be safe for concurrent use
// and must never interleave two records.
type Sink interface {
	Append(ctx context.Context, record domain.AuditRecord) error
	Close() error
}

// BuildRecord summarises a run.
func BuildRecord(now time.Time, verdict domain.Verdict, riskScore float64, entities []domain.Entity) domain.AuditRecord {
	counts := make(map[string]int, len(entities))
	for _, e := range entities {
		counts[e.Type]++
	}
	return domain.AuditRecord{
		Timestamp:    now.UTC(),
		Verdict:      verdict,
		RiskScore:    riskScore,
		EntityCount:  len(entities),
		CountsByType: counts,
	}
}

// Recorder builds records and hands them to a sink.
type Recorder struct {
	sink Sink
	now  func() time.Time
}

// NewRecorder wraps sink. A nil sink discards records.
func NewRecorder(sink Sink) *Recorder {
	if sink == nil {
		sink = Discard{}
	}
	return &Recorder{sink: sink, now: time.Now}
}

// Record appends one summary for a completed run.
func (r *Recorder) Record(ctx context.Context, verdict domain.Verdict, riskScore float64, entities []domain.Entity) error {
	return r.sink.Append(ctx, BuildRecord(r.now(), verdict, riskScore, entities))
}

// Close releases the underlying sink.
func (r *Recorder) Close() error {
	return r.sink.Close()
}

// Discard drops every record.
type Discard struct{}

// Append implements Sink.
func (Discard) Append(context.Context, domain.AuditRecord) error { return nil }

// Close implements Sink.
func (Discard) Close() error { return nil }

// MultiSink fans a record out to several sinks. Every sink is attempted; the
// returned error joins individual failures.
type MultiSink []Sink

// Append implements Sink.
func (m MultiSink) Append(ctx context.Context, record domain.AuditRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
