// Package pipeline sequences detection, fusion, scoring, decision, masking
// and audit for one request.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/polisai/polis-dlp/internal/governance"
	"github.com/polisai/polis-dlp/pkg/audit"
	"github.com/polisai/polis-dlp/pkg/detector"
	"github.com/polisai/polis-dlp/pkg/domain"
	"github.com/polisai/polis-dlp/pkg/fusion"
	"github.com/polisai/polis-dlp/pkg/masking"
	"github.com/polisai/polis-dlp/pkg/policy"
	"github.com/polisai/polis-dlp/pkg/policy/dlp"
	"github.com/polisai/polis-dlp/pkg/risk"
	"github.com/polisai/polis-dlp/pkg/telemetry"
)

// Metadata keys owned by the pipeline. Callers cannot override them.
const (
	MetaRunID         = "run_id"
	MetaProviders     = "providers"
	MetaPolicyVersion = "policy_version"
	MetaSourceType    = "source_type"
	MetaSize          = "size"
	MetaCharCount     = "char_count"
	MetaAudit         = "audit"
	MetaError         = "error"
)

var reservedKeys = map[string]struct{}{
	MetaRunID:         {},
	MetaProviders:     {},
	MetaPolicyVersion: {},
	MetaAudit:         {},
	MetaError:         {},
}

// Options tunes an Orchestrator. Zero values select defaults.
type Options struct {
	// ProviderTimeout bounds every provider call.
	ProviderTimeout time.Duration
	// MaxConcurrency bounds detector goroutines per run.
	MaxConcurrency int
	// Breakers supplies one circuit breaker per provider name.
	Breakers *governance.BreakerSet
	// Recorder receives the audit summary of every run.
	Recorder *audit.Recorder
	Logger   *slog.Logger
}

// Orchestrator runs the sanitization pipeline. It is safe for concurrent use;
// the only shared mutable state is the policy store.
type Orchestrator struct {
	store           *policy.Store
	providers       []detector.Capability
	breakers        *governance.BreakerSet
	recorder        *audit.Recorder
	logger          *slog.Logger
	tracer          trace.Tracer
	providerTimeout time.Duration
	maxConcurrency  int
	newRunID        func() string
}

// New builds an orchestrator over store and the given probabilistic providers.
// Provider names must be unique.
func New(store *policy.Store, providers []detector.Capability, opts Options) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("pipeline: policy store is required")
	}

	seen := make(map[string]struct{}, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("pipeline: nil provider")
		}
		if _, dup := seen[p.Name()]; dup {
			return nil, fmt.Errorf("pipeline: duplicate provider %q", p.Name())
		}
		seen[p.Name()] = struct{}{}
	}

	o := &Orchestrator{
		store:           store,
		providers:       providers,
		breakers:        opts.Breakers,
		recorder:        opts.Recorder,
		logger:          opts.Logger,
		tracer:          otel.Tracer("polis-dlp/pipeline"),
		providerTimeout: opts.ProviderTimeout,
		maxConcurrency:  opts.MaxConcurrency,
		newRunID:        func() string { return uuid.NewString() },
	}
	if o.breakers == nil {
		o.breakers = governance.NewBreakerSet(governance.DefaultBreakerConfig())
	}
	if o.recorder == nil {
		o.recorder = audit.NewRecorder(nil)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.providerTimeout <= 0 {
		o.providerTimeout = 2 * time.Second
	}
	if o.maxConcurrency <= 0 {
		o.maxConcurrency = 8
	}
	return o, nil
}

// Providers lists the configured provider names in call order.
func (o *Orchestrator) Providers() []string {
	names := make([]string, 0, len(o.providers))
	for _, p := range o.providers {
		names = append(names, p.Name())
	}
	return names
}

// Breakers exposes the provider circuit breakers for health reporting.
func (o *Orchestrator) Breakers() *governance.BreakerSet {
	return o.breakers
}

// Run sanitizes raw and always returns a result. When no policy is loaded the
// run fails closed with a Block verdict.
func (o *Orchestrator) Run(ctx context.Context, raw string, sourceMetadata map[string]any) domain.SanitizeResult {
	start := time.Now()
	runID := o.newRunID()

	ctx, span := o.tracer.Start(ctx, "dlp.run", trace.WithAttributes(attribute.String("dlp.run_id", runID)))
	defer span.End()

	text := domain.NewText(raw)
	metadata := ingestionMetadata(raw, text, sourceMetadata)
	metadata[MetaRunID] = runID

	snap, err := o.store.Snapshot()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "policy unavailable")
		o.logger.Error("pipeline run without policy", "run_id", runID, "error", err)
		metadata[MetaError] = err.Error()
		return domain.SanitizeResult{
			SanitizedText: masking.DefaultBlockMessage,
			Verdict:       domain.VerdictBlock,
			RiskScore:     1,
			Entities:      []domain.Entity{},
			Metadata:      metadata,
		}
	}
	metadata[MetaPolicyVersion] = snap.Version
	span.SetAttributes(attribute.Int64("dlp.policy.version", int64(snap.Version)))

	trusted, contributions := o.detect(ctx, text, snap)

	var probabilistic []domain.Entity
	reports := make(map[string]ProviderReport, len(contributions))
	for _, c := range contributions {
		probabilistic = append(probabilistic, c.entities...)
	}

	entities := fusion.Fuse(trusted, probabilistic)
	accepted := make(map[string]int, len(contributions))
	for _, e := range entities[len(trusted):] {
		accepted[e.Detector]++
	}
	for _, c := range contributions {
		c.report.Accepted = accepted[c.name]
		reports[c.name] = c.report
		telemetry.RecordProviderMetrics(ctx, telemetry.ProviderMetrics{
			Provider:      c.name,
			Status:        c.report.Status,
			Duration:      time.Duration(c.report.DurationMS * float64(time.Millisecond)),
			RejectedSpans: c.report.RejectedSpans,
		})
	}
	metadata[MetaProviders] = reports

	riskScore := risk.Score(entities, snap)
	verdict := risk.Decide(riskScore, snap)
	sanitized := masking.Mask(text, entities, verdict, masking.Options{
		TokenFormat:  snap.TokenFormat,
		BlockMessage: snap.BlockMessage,
	})

	// The audit trail must survive a client that disconnects mid-run.
	auditCtx := context.WithoutCancel(ctx)
	if err := o.recorder.Record(auditCtx, verdict, riskScore, entities); err != nil {
		o.logger.Warn("audit append failed", "run_id", runID, "error", err)
		metadata[MetaAudit] = "failed"
	} else {
		metadata[MetaAudit] = "ok"
	}

	counts := risk.CountsByType(entities)
	telemetry.RecordDecision(span, string(verdict), riskScore, counts)
	telemetry.RecordRunMetrics(ctx, telemetry.RunMetrics{
		Verdict:      string(verdict),
		Duration:     time.Since(start),
		CountsByType: counts,
	})

	o.logger.Info("pipeline run completed",
		"run_id", runID,
		"verdict", verdict,
		"risk_score", riskScore,
		"entity_count", len(entities),
		"policy_version", snap.Version,
		"duration", time.Since(start))

	return domain.SanitizeResult{
		SanitizedText: sanitized,
		Verdict:       verdict,
		RiskScore:     riskScore,
		Entities:      entities,
		Metadata:      metadata,
	}
}

// Close releases provider resources and the audit sink.
func (o *Orchestrator) Close() error {
	var errs []error
	for _, p := range o.providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close provider %s: %w", p.Name(), err))
			}
		}
	}
	if err := o.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close audit sink: %w", err))
	}
	return errors.Join(errs...)
}

type contribution struct {
	name     string
	entities []domain.Entity
	report   ProviderReport
}

// detect runs the pattern detector and every provider concurrently. Provider
// failures are contained in their contribution and never fail the run.
func (o *Orchestrator) detect(ctx context.Context, text domain.Text, snap *policy.Snapshot) ([]domain.Entity, []contribution) {
	var g errgroup.Group
	g.SetLimit(o.maxConcurrency)

	var trusted []domain.Entity
	g.Go(func() error {
		trusted = dlp.Detect(text, snap.Patterns())
		return nil
	})

	contributions := make([]contribution, len(o.providers))
	for i, p := range o.providers {
		g.Go(func() error {
			contributions[i] = o.callProvider(ctx, p, text, snap)
			return nil
		})
	}

	_ = g.Wait()
	return trusted, contributions
}

func (o *Orchestrator) callProvider(ctx context.Context, p detector.Capability, text domain.Text, snap *policy.Snapshot) contribution {
	name := p.Name()
	start := time.Now()

	ctx, span := o.tracer.Start(ctx, "dlp.provider", trace.WithAttributes(attribute.String("dlp.provider", name)))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, o.providerTimeout)
	defer cancel()

	var proposals []detector.Proposal
	err := o.breakers.Get(name).Execute(callCtx, func(callCtx context.Context) error {
		type result struct {
			proposals []detector.Proposal
			err       error
		}
		done := make(chan result, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- result{err: fmt.Errorf("%w: panic: %v", domain.ErrProviderFailed, r)}
				}
			}()
			props, err := p.Propose(callCtx, text.String())
			done <- result{proposals: props, err: err}
		}()

		select {
		case r := <-done:
			proposals = r.proposals
			return r.err
		case <-callCtx.Done():
			return callCtx.Err()
		}
	})

	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", domain.ErrProviderTimeout, o.providerTimeout, err)
	}

	report := ProviderReport{Status: StatusOK}
	c := contribution{name: name}
	if err != nil {
		report.Status = statusFor(err)
		report.Error = errorMessage(report.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, report.Status)
		o.logger.Warn("detector provider contributed nothing",
			"provider", name,
			"status", report.Status,
			"error", err)
	} else {
		report.Proposals = len(proposals)
		c.entities, report.RejectedSpans, report.ValueMismatches = toEntities(name, proposals, text, snap.DefaultConfidence)
		if report.RejectedSpans > 0 {
			o.logger.Warn("detector provider returned invalid spans",
				"provider", name,
				"rejected_spans", report.RejectedSpans)
		}
	}
	report.DurationMS = float64(time.Since(start).Microseconds()) / 1000
	c.report = report
	return c
}

// toEntities validates proposals against text and tags the survivors as
// probabilistic. Values are always taken from the text itself.
func toEntities(name string, proposals []detector.Proposal, text domain.Text, defaultConfidence float64) ([]domain.Entity, int, int) {
	entities := make([]domain.Entity, 0, len(proposals))
	rejected, mismatches := 0, 0

	for _, p := range proposals {
		span := domain.Span{Start: p.Start, End: p.End}
		if p.Type == "" || span.Validate(text.Len()) != nil {
			rejected++
			continue
		}

		confidence := p.Confidence
		if confidence == detector.NoConfidence {
			confidence = defaultConfidence
		}
		if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
			rejected++
			continue
		}

		value := text.Slice(span)
		if p.Value != "" && p.Value != value {
			mismatches++
		}

		entities = append(entities, domain.Entity{
			Type:       p.Type,
			Value:      value,
			Span:       span,
			Confidence: confidence,
			Provenance: domain.ProvenanceProbabilistic,
			Detector:   name,
		})
	}
	return entities, rejected, mismatches
}

func ingestionMetadata(raw string, text domain.Text, source map[string]any) map[string]any {
	metadata := map[string]any{
		MetaSourceType: "text",
		MetaSize:       len(raw),
		MetaCharCount:  text.Len(),
	}
	for k, v := range source {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		metadata[k] = v
	}
	return metadata
}
