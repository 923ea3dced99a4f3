package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-dlp/pkg/config"
	"github.com/polisai/polis-dlp/pkg/domain"
)

const maxResponseBytes = 8 << 20

// HTTPProvider calls a model sidecar that accepts {"text": ...} and answers
// with a list of spans. Transient failures are retried with Fibonacci backoff
// inside the call; the caller's deadline bounds the whole exchange.
type HTTPProvider struct {
	name    string
	url     string
	offsets string
	retries uint64
	backoff time.Duration
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

// HTTPOption customises an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(p *HTTPProvider) { p.client = client }
}

// WithBackoff sets the base delay of the retry sequence.
func WithBackoff(base time.Duration) HTTPOption {
	return func(p *HTTPProvider) { p.backoff = base }
}

// WithLogger sets the provider logger.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(p *HTTPProvider) { p.logger = logger }
}

// NewHTTPProvider builds a provider from its configuration.
func NewHTTPProvider(cfg config.DetectorConfig, opts ...HTTPOption) (*HTTPProvider, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, ErrEmptyName
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("detector %s: url is required", cfg.Name)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	p := &HTTPProvider{
		name:    cfg.Name,
		url:     cfg.URL,
		offsets: cfg.Offsets,
		retries: cfg.Retries,
		backoff: 50 * time.Millisecond,
		headers: cfg.Headers,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: slog.Default(),
	}
	if p.offsets == "" {
		p.offsets = config.OffsetsRunes
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p, nil
}

type proposeRequest struct {
	Text string `json:"text"`
}

type proposeResponse struct {
	Spans    []wireSpan `json:"spans"`
	Entities []wireSpan `json:"entities"`
}

// wireSpan accepts the field names common NER services use.
type wireSpan struct {
	Type       string   `json:"type"`
	Label      string   `json:"label"`
	Group      string   `json:"entity_group"`
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Confidence *float64 `json:"confidence"`
	Score      *float64 `json:"score"`
	Value      string   `json:"value"`
	Text       string   `json:"text"`
	Word       string   `json:"word"`
}

// Name implements Capability.
func (p *HTTPProvider) Name() string { return p.name }

// Propose implements Capability.
func (p *HTTPProvider) Propose(ctx context.Context, text string) ([]Proposal, error) {
	body, err := json.Marshal(proposeRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("detector %s: marshal: %w", p.name, err)
	}

	var decoded proposeResponse
	b := retry.WithMaxRetries(p.retries, retry.NewFibonacci(p.backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		resp, err := p.call(ctx, body)
		if err != nil {
			return err
		}
		decoded = resp
		return nil
	})
	if err != nil {
		return nil, err
	}

	spans := decoded.Spans
	if len(spans) == 0 {
		spans = decoded.Entities
	}
	return p.toProposals(text, spans), nil
}

func (p *HTTPProvider) call(ctx context.Context, body []byte) (proposeResponse, error) {
	var out proposeResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("detector %s: request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		p.logger.Warn("detector unreachable, will retry", "provider", p.name, "error", err)
		return out, retry.RetryableError(fmt.Errorf("detector %s: %w", p.name, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		statusErr := fmt.Errorf("detector %s: unexpected status %d", p.name, resp.StatusCode)
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return out, retry.RetryableError(statusErr)
		}
		return out, statusErr
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return out, fmt.Errorf("detector %s: decode: %w", p.name, err)
	}
	return out, nil
}

func (p *HTTPProvider) toProposals(text string, spans []wireSpan) []Proposal {
	var indexed domain.Text
	if p.offsets == config.OffsetsBytes {
		indexed = domain.NewText(text)
	}

	proposals := make([]Proposal, 0, len(spans))
	for _, s := range spans {
		start, end := s.Start, s.End
		if p.offsets == config.OffsetsBytes {
			// Offsets that split a code point become an invalid span the
			// pipeline rejects.
			var okStart, okEnd bool
			start, okStart = indexed.RuneIndex(s.Start)
			end, okEnd = indexed.RuneIndex(s.End)
			if !okStart || !okEnd {
				start, end = -1, -1
			}
		}

		confidence := NoConfidence
		switch {
		case s.Confidence != nil:
			confidence = *s.Confidence
		case s.Score != nil:
			confidence = *s.Score
		}

		proposals = append(proposals, Proposal{
			Type:       NormalizeLabel(firstNonEmpty(s.Type, s.Label, s.Group)),
			Value:      firstNonEmpty(s.Value, s.Text, s.Word),
			Start:      start,
			End:        end,
			Confidence: confidence,
		})
	}
	return proposals
}

// Close releases idle connections held by the provider.
func (p *HTTPProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
