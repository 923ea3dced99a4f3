package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce              sync.Once
	metricsInitErr           error
	runCounter               metric.Int64Counter
	runLatencyHistogram      metric.Float64Histogram
	entityCounter            metric.Int64Counter
	providerCallCounter      metric.Int64Counter
	providerFailureCounter   metric.Int64Counter
	providerLatencyHistogram metric.Float64Histogram
	rejectedSpanCounter      metric.Int64Counter
)

// RunMetrics describes one completed pipeline run.
type RunMetrics struct {
	Verdict      string
	Duration     time.Duration
	CountsByType map[string]int
}

// RecordRunMetrics emits run counters, latency and per-type entity counts.
func RecordRunMetrics(ctx context.Context, m RunMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	verdict := metric.WithAttributes(attribute.String("dlp.verdict", m.Verdict))
	runCounter.Add(ctx, 1, verdict)
	if m.Duration > 0 {
		runLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), verdict)
	}
	for entityType, n := range m.CountsByType {
		entityCounter.Add(ctx, int64(n), metric.WithAttributes(attribute.String("dlp.entity.type", entityType)))
	}
}

// ProviderMetrics describes one detector provider call within a run.
type ProviderMetrics struct {
	Provider      string
	Status        string
	Duration      time.Duration
	RejectedSpans int
}

// RecordProviderMetrics emits provider call outcome, latency and rejected spans.
func RecordProviderMetrics(ctx context.Context, m ProviderMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("dlp.provider", m.Provider),
		attribute.String("dlp.provider.status", m.Status),
	)
	providerCallCounter.Add(ctx, 1, attrs)
	if m.Status != "ok" {
		providerFailureCounter.Add(ctx, 1, attrs)
	}
	if m.Duration > 0 {
		providerLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}
	if m.RejectedSpans > 0 {
		rejectedSpanCounter.Add(ctx, int64(m.RejectedSpans),
			metric.WithAttributes(attribute.String("dlp.provider", m.Provider)))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("dlp.pipeline")

		runCounter, metricsInitErr = meter.Int64Counter(
			"dlp.pipeline.runs_total",
			metric.WithDescription("Pipeline runs partitioned by verdict"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		runLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"dlp.pipeline.duration_ms",
			metric.WithDescription("End to end pipeline run latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		entityCounter, metricsInitErr = meter.Int64Counter(
			"dlp.entities.detected_total",
			metric.WithDescription("Fused entities partitioned by type"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		providerCallCounter, metricsInitErr = meter.Int64Counter(
			"dlp.provider.calls_total",
			metric.WithDescription("Detector provider calls partitioned by status"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		providerFailureCounter, metricsInitErr = meter.Int64Counter(
			"dlp.provider.failures_total",
			metric.WithDescription("Detector provider calls that contributed nothing"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		providerLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"dlp.provider.duration_ms",
			metric.WithDescription("Observed detector provider latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		rejectedSpanCounter, metricsInitErr = meter.Int64Counter(
			"dlp.provider.rejected_spans_total",
			metric.WithDescription("Provider proposals dropped for invalid offsets"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}

// RecordDecision annotates span with the outcome of a run. Only the verdict,
// score and counts are attached.
func RecordDecision(span trace.Span, verdict string, riskScore float64, countsByType map[string]int) {
	if span == nil || !span.IsRecording() {
		return
	}

	total := 0
	for _, n := range countsByType {
		total += n
	}
	span.SetAttributes(
		attribute.String("dlp.verdict", verdict),
		attribute.Float64("dlp.risk_score", riskScore),
		attribute.Int("dlp.entities.count", total),
	)
	for entityType, n := range countsByType {
		span.SetAttributes(attribute.Int("dlp.entities."+entityType, n))
	}

	if verdict == "BLOCK" {
		span.AddEvent("dlp.blocked", trace.WithAttributes(attribute.Float64("dlp.risk_score", riskScore)))
	}
}
