// Package risk turns a fused entity set into a risk score and a verdict.
package risk

import (
	"math"

	"github.com/polisai/polis-dlp/pkg/domain"
	"github.com/polisai/polis-dlp/pkg/policy"
)

// Score sums the weight of every entity type occurrence and normalises the
// total into [0,1]. The snapshot supplies weights, the default weight and the
// normalisation constant.
func Score(entities []domain.Entity, snap *policy.Snapshot) float64 {
	if len(entities) == 0 {
		return 0
	}

	var raw float64
	for _, e := range entities {
		raw += snap.Weight(e.Type)
	}

	normalization := snap.Normalization
	if normalization <= 0 {
		normalization = policy.DefaultNormalization
	}
	return math.Min(raw/normalization, 1.0)
}

// Decide maps a risk score onto a verdict. Thresholds are inclusive on the
// lower bound: a score equal to the block threshold blocks.
func Decide(risk float64, snap *policy.Snapshot) domain.Verdict {
	switch {
	case risk >= snap.BlockThreshold:
		return domain.VerdictBlock
	case risk >= snap.MaskThreshold:
		return domain.VerdictMask
	default:
		return domain.VerdictAllow
	}
}

// CountsByType tallies entities per type.
func CountsByType(entities []domain.Entity) map[string]int {
	counts := make(map[string]int, len(entities))
	for _, e := range entities {
		counts[e.Type]++
	}
	return counts
}
