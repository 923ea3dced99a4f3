// Package detector defines the boundary to probabilistic detectors: model
// services that propose candidate spans the pipeline treats as untrusted.
package detector

import (
	"context"
	"errors"
)

// NoConfidence marks a proposal whose provider did not score it. The
// pipeline substitutes the policy's default confidence.
const NoConfidence = -1.0

// Proposal is a candidate span as reported by a provider, in code point
// offsets over the text the provider received.
type Proposal struct {
	Type       string  `json:"type"`
	Value      string  `json:"value,omitempty"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Capability proposes candidate entities for a text. Implementations must be
// safe for concurrent use and should honour ctx cancellation; a call that
// outlives its deadline is discarded by the caller anyway.
type Capability interface {
	Name() string
	Propose(ctx context.Context, text string) ([]Proposal, error)
}

// ErrEmptyName is returned when a capability is built without a name.
var ErrEmptyName = errors.New("detector: name is required")

// Func adapts a plain function to Capability. In-process models and tests use
// it.
type Func struct {
	name string
	fn   func(ctx context.Context, text string) ([]Proposal, error)
}

// NewFunc wraps fn under name.
func NewFunc(name string, fn func(ctx context.Context, text string) ([]Proposal, error)) (*Func, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if fn == nil {
		return nil, errors.New("detector: nil function")
	}
	return &Func{name: name, fn: fn}, nil
}

// Name implements Capability.
func (f *Func) Name() string { return f.name }

// Propose implements Capability.
func (f *Func) Propose(ctx context.Context, text string) ([]Proposal, error) {
	return f.fn(ctx, text)
}

// Label normalisation for common NER tag sets.
var labelAliases = map[string]string{
	"PER": "PERSON",
	"ORG": "ORGANIZATION",
	"LOC": "LOCATION",
}

// NormalizeLabel maps short NER labels onto entity types. Unknown labels pass
// through unchanged.
func NormalizeLabel(label string) string {
	if alias, ok := labelAliases[label]; ok {
		return alias
	}
	return label
}
