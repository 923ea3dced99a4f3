package policy

import (
	"maps"
	"sort"
	"time"

	"github.com/polisai/polis-dlp/pkg/policy/dlp"
)

// Defaults applied when the policy document leaves optional values unset.
const (
	DefaultNormalization = 10.0
	DefaultConfidence    = 0.85
)

// Snapshot is an immutable, fully validated policy. Maps and slices are kept
// private and exposed through copying accessors.
type Snapshot struct {
	Version  uint64
	Digest   string
	Source   string
	LoadedAt time.Time

	DefaultWeight     float64
	MaskThreshold     float64
	BlockThreshold    float64
	Normalization     float64
	DefaultConfidence float64
	TokenFormat       string
	BlockMessage      string

	patterns []dlp.Pattern
	weights  map[string]float64
}

// Weight returns the configured weight for entityType, or the default weight.
func (s *Snapshot) Weight(entityType string) float64 {
	if w, ok := s.weights[entityType]; ok {
		return w
	}
	return s.DefaultWeight
}

// Patterns returns the compiled patterns in configuration order.
func (s *Snapshot) Patterns() []dlp.Pattern {
	return s.patterns
}

// Weights returns a copy of the weight table.
func (s *Snapshot) Weights() map[string]float64 {
	return maps.Clone(s.weights)
}

// withWeights derives a new snapshot sharing everything but the weight table.
func (s *Snapshot) withWeights(weights map[string]float64, version uint64, now time.Time) *Snapshot {
	next := *s
	next.weights = weights
	next.Version = version
	next.LoadedAt = now
	return &next
}

// Summary is the non-sensitive view of a snapshot exposed to operators.
type Summary struct {
	Version           uint64             `json:"version"`
	Digest            string             `json:"digest"`
	Source            string             `json:"source"`
	LoadedAt          time.Time          `json:"loaded_at"`
	PatternTypes      []string           `json:"pattern_types"`
	Weights           map[string]float64 `json:"weights"`
	DefaultWeight     float64            `json:"default_weight"`
	MaskThreshold     float64            `json:"mask_threshold"`
	BlockThreshold    float64            `json:"block_threshold"`
	Normalization     float64            `json:"normalization"`
	DefaultConfidence float64            `json:"default_confidence"`
}

// Summary reports the snapshot without regex sources.
func (s *Snapshot) Summary() Summary {
	types := make([]string, 0, len(s.patterns))
	seen := make(map[string]struct{}, len(s.patterns))
	for _, p := range s.patterns {
		if _, ok := seen[p.Type]; ok {
			continue
		}
		seen[p.Type] = struct{}{}
		types = append(types, p.Type)
	}
	sort.Strings(types)

	return Summary{
		Version:           s.Version,
		Digest:            s.Digest,
		Source:            s.Source,
		LoadedAt:          s.LoadedAt,
		PatternTypes:      types,
		Weights:           s.Weights(),
		DefaultWeight:     s.DefaultWeight,
		MaskThreshold:     s.MaskThreshold,
		BlockThreshold:    s.BlockThreshold,
		Normalization:     s.Normalization,
		DefaultConfidence: s.DefaultConfidence,
	}
}
