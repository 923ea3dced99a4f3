package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-dlp/pkg/domain"
	"github.com/polisai/polis-dlp/pkg/policy/dlp"
)

// Threshold keys in risk_engine.thresholds.
const (
	ThresholdMask  = "MASK"
	ThresholdBlock = "BLOCK"
)

// PolicyDocument is the on-disk policy: detection patterns, the risk model
// and masking presentation. Numbers that must be supplied are pointers so a
// missing key is distinguishable from zero.
type PolicyDocument struct {
	RulesEngine RulesEngineSection `yaml:"rules_engine" json:"rules_engine"`
	RiskEngine  RiskEngineSection  `yaml:"risk_engine" json:"risk_engine"`
	MLEngine    MLEngineSection    `yaml:"ml_engine" json:"ml_engine"`
	Masking     MaskingSection     `yaml:"masking" json:"masking"`
}

// RulesEngineSection lists the ordered detection patterns.
type RulesEngineSection struct {
	Patterns []dlp.PatternSpec `yaml:"patterns" json:"patterns"`
}

// RiskEngineSection holds weights and decision thresholds.
type RiskEngineSection struct {
	Weights       map[string]float64 `yaml:"weights" json:"weights"`
	DefaultWeight *float64           `yaml:"default_weight" json:"default_weight"`
	Thresholds    map[string]float64 `yaml:"thresholds" json:"thresholds"`
	Normalization *float64           `yaml:"normalization,omitempty" json:"normalization,omitempty"`
}

// MLEngineSection configures probabilistic detectors.
type MLEngineSection struct {
	DefaultConfidence *float64 `yaml:"default_confidence" json:"default_confidence"`
}

// MaskingSection overrides the replacement token and the block message.
type MaskingSection struct {
	TokenFormat  string `yaml:"token_format,omitempty" json:"token_format,omitempty"`
	BlockMessage string `yaml:"block_message,omitempty" json:"block_message,omitempty"`
}

// LoadPolicyDocument reads and parses the policy file at path.
func LoadPolicyDocument(path string) (*PolicyDocument, error) {
	// #nosec G304 -- File path is configured at startup
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read policy %s: %w", domain.ErrConfigInvalid, path, err)
	}
	doc, err := ParsePolicyDocument(data)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return doc, nil
}

// ParsePolicyDocument decodes a YAML or JSON policy and validates its shape.
func ParsePolicyDocument(data []byte) (*PolicyDocument, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%w: policy document is empty", domain.ErrConfigInvalid)
	}

	var doc PolicyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		doc = PolicyDocument{}
		if jsonErr := json.Unmarshal(data, &doc); jsonErr != nil {
			return nil, fmt.Errorf("%w: parse policy document: %w", domain.ErrConfigInvalid, err)
		}
	}

	doc.normalize()
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *PolicyDocument) normalize() {
	if len(d.RiskEngine.Thresholds) == 0 {
		return
	}
	upper := make(map[string]float64, len(d.RiskEngine.Thresholds))
	for k, v := range d.RiskEngine.Thresholds {
		upper[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	d.RiskEngine.Thresholds = upper
}

// Validate checks the document structure. Pattern syntax is checked when the
// patterns are compiled.
func (d *PolicyDocument) Validate() error {
	var problems []string

	risk := d.RiskEngine
	if risk.DefaultWeight == nil {
		problems = append(problems, "risk_engine.default_weight is required")
	} else if !validWeight(*risk.DefaultWeight) {
		problems = append(problems, "risk_engine.default_weight must be a finite non-negative number")
	}
	for t, w := range risk.Weights {
		if strings.TrimSpace(t) == "" {
			problems = append(problems, "risk_engine.weights has an empty type")
		} else if !validWeight(w) {
			problems = append(problems, fmt.Sprintf("risk_engine.weights[%s] must be a finite non-negative number", t))
		}
	}

	mask, hasMask := risk.Thresholds[ThresholdMask]
	block, hasBlock := risk.Thresholds[ThresholdBlock]
	before := len(problems)
	switch {
	case !hasMask || !hasBlock:
		problems = append(problems, "risk_engine.thresholds requires MASK and BLOCK")
	case !unitInterval(mask) || !unitInterval(block):
		problems = append(problems, "risk_engine.thresholds must be within [0,1]")
	case mask > block:
		problems = append(problems, fmt.Sprintf("risk_engine.thresholds MASK (%g) exceeds BLOCK (%g)", mask, block))
	}
	badThresholds := len(problems) > before

	if n := risk.Normalization; n != nil && (math.IsNaN(*n) || math.IsInf(*n, 0) || *n <= 0) {
		problems = append(problems, "risk_engine.normalization must be a positive number")
	}

	if c := d.MLEngine.DefaultConfidence; c != nil && !unitInterval(*c) {
		problems = append(problems, "ml_engine.default_confidence must be within [0,1]")
	}

	if f := d.Masking.TokenFormat; f != "" && !strings.Contains(f, "{type}") {
		problems = append(problems, "masking.token_format must contain {type}")
	}

	switch {
	case badThresholds:
		return fmt.Errorf("%w: %w: %s", domain.ErrConfigInvalid, domain.ErrInvalidThreshold, strings.Join(problems, "; "))
	case len(problems) > 0:
		return fmt.Errorf("%w: %s", domain.ErrConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Thresholds returns the MASK and BLOCK thresholds.
func (d *PolicyDocument) Thresholds() (mask, block float64) {
	return d.RiskEngine.Thresholds[ThresholdMask], d.RiskEngine.Thresholds[ThresholdBlock]
}

func validWeight(w float64) bool {
	return !math.IsNaN(w) && !math.IsInf(w, 0) && w >= 0
}

func unitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
