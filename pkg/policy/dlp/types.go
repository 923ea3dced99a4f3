package dlp

import (
	"errors"
	"regexp"
)

// TrustedConfidence is the fixed confidence attached to every pattern match.
const TrustedConfidence = 0.99

// DetectorName identifies pattern matches in entity provenance metadata.
const DetectorName = "rules"

// PatternSpec declares one detection pattern as it appears in the policy document.
// An empty Regex resolves the pattern from the builtin registry by Type.
type PatternSpec struct {
	Type  string `yaml:"type" json:"type"`
	Regex string `yaml:"regex,omitempty" json:"regex,omitempty"`
}

// Pattern is a compiled, validated PatternSpec. Patterns are immutable and
// safe for concurrent use.
type Pattern struct {
	Type   string
	Source string
	expr   *regexp.Regexp
}

var (
	// ErrEmptyMatch is returned for patterns that can match the empty string.
	ErrEmptyMatch = errors.New("dlp: pattern matches the empty string")
	// ErrUnknownBuiltin is returned when a pattern has no regex and no builtin exists for its type.
	ErrUnknownBuiltin = errors.New("dlp: no builtin pattern for type")
)
