package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/polisai/polis-dlp/pkg/config"
	"github.com/polisai/polis-dlp/pkg/domain"
	"github.com/polisai/polis-dlp/pkg/masking"
	"github.com/polisai/polis-dlp/pkg/policy/dlp"
)

// ErrNotLoaded is returned when the store is read before any policy was loaded.
var ErrNotLoaded = errors.New("policy: no policy loaded")

// Store publishes the active policy snapshot.
type Store struct {
	current  atomic.Pointer[Snapshot]
	mu       sync.Mutex // serialises writers
	version  uint64
	registry *dlp.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithRegistry resolves pattern entries without a regex against registry
// instead of the builtin catalog.
func WithRegistry(registry *dlp.Registry) Option {
	return func(s *Store) { s.registry = registry }
}

// WithLogger sets the logger used for load and update events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore constructs an empty store. Load must succeed before Snapshot is usable.
func NewStore(opts ...Option) *Store {
	s := &Store{
		registry: dlp.BuiltinRegistry(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Snapshot returns the active policy. The result must be treated as read-only.
func (s *Store) Snapshot() (*Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, ErrNotLoaded
	}
	return snap, nil
}

// LoadFile parses, validates and publishes the policy document at path.
func (s *Store) LoadFile(path string) (*Snapshot, error) {
	doc, err := config.LoadPolicyDocument(path)
	if err != nil {
		return nil, err
	}
	return s.Load(doc, path)
}

// ReloadFile is LoadFile shaped for file watchers. On error the previous
// snapshot stays active.
func (s *Store) ReloadFile(path string) error {
	_, err := s.LoadFile(path)
	return err
}

// Load compiles doc into a snapshot and publishes it atomically.
func (s *Store) Load(doc *config.PolicyDocument, source string) (*Snapshot, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil policy document", domain.ErrConfigInvalid)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	patterns, err := dlp.Compile(doc.RulesEngine.Patterns, s.registry)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
	}

	digest, err := documentDigest(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
	}

	mask, block := doc.Thresholds()
	snap := &Snapshot{
		Digest:            digest,
		Source:            source,
		DefaultWeight:     *doc.RiskEngine.DefaultWeight,
		MaskThreshold:     mask,
		BlockThreshold:    block,
		Normalization:     DefaultNormalization,
		DefaultConfidence: DefaultConfidence,
		TokenFormat:       masking.DefaultTokenFormat,
		BlockMessage:      masking.DefaultBlockMessage,
		patterns:          patterns,
		weights:           maps.Clone(doc.RiskEngine.Weights),
	}
	if snap.weights == nil {
		snap.weights = map[string]float64{}
	}
	if n := doc.RiskEngine.Normalization; n != nil {
		snap.Normalization = *n
	}
	if c := doc.MLEngine.DefaultConfidence; c != nil {
		snap.DefaultConfidence = *c
	}
	if f := doc.Masking.TokenFormat; f != "" {
		snap.TokenFormat = f
	}
	if m := doc.Masking.BlockMessage; m != "" {
		snap.BlockMessage = m
	}

	s.mu.Lock()
	s.version++
	snap.Version = s.version
	snap.LoadedAt = s.now()
	s.current.Store(snap)
	s.mu.Unlock()

	s.logger.Info("policy loaded",
		"source", source,
		"version", snap.Version,
		"digest", snap.Digest,
		"patterns", len(patterns),
		"weights", len(snap.weights))
	return snap, nil
}

// UpdateWeights replaces the whole weight table. Keys absent from weights fall
// back to the default weight afterwards; unknown types are accepted. A
// rejected table leaves the active snapshot unchanged.
func (s *Store) UpdateWeights(weights map[string]float64) (*Snapshot, error) {
	if err := ValidateWeights(weights); err != nil {
		return nil, err
	}
	table := maps.Clone(weights)

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.current.Load()
	if current == nil {
		return nil, ErrNotLoaded
	}
	s.version++
	next := current.withWeights(table, s.version, s.now())
	s.current.Store(next)

	s.logger.Info("risk weights updated", "version", next.Version, "weights", len(table))
	return next, nil
}

// ValidateWeights checks a weight table and reports every offending key.
func ValidateWeights(weights map[string]float64) error {
	if weights == nil {
		return weightsError("weight table is required", nil)
	}
	var invalid []string
	for k, w := range weights {
		if strings.TrimSpace(k) == "" || math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			invalid = append(invalid, k)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return weightsError("weights must be finite non-negative numbers keyed by entity type", invalid)
	}
	return nil
}

// ParseWeights converts a decoded JSON object into a weight table, rejecting
// non-numeric values.
func ParseWeights(raw map[string]any) (map[string]float64, error) {
	if raw == nil {
		return nil, weightsError("weight table is required", nil)
	}

	weights := make(map[string]float64, len(raw))
	var invalid []string
	for k, v := range raw {
		switch n := v.(type) {
		case float64:
			weights[k] = n
		case float32:
			weights[k] = float64(n)
		case int:
			weights[k] = float64(n)
		case int64:
			weights[k] = float64(n)
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				invalid = append(invalid, k)
				continue
			}
			weights[k] = f
		default:
			invalid = append(invalid, k)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, weightsError("weights must be numbers", invalid)
	}
	if err := ValidateWeights(weights); err != nil {
		return nil, err
	}
	return weights, nil
}

func weightsError(message string, keys []string) error {
	details := map[string]any{}
	if len(keys) > 0 {
		details["invalid_keys"] = keys
	}
	return &domain.DomainError{
		Err:     domain.ErrInvalidWeights,
		Code:    domain.CodeInvalidWeights,
		Message: message,
		Details: details,
	}
}

func documentDigest(doc *config.PolicyDocument) (string, error) {
	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("digest policy document: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
