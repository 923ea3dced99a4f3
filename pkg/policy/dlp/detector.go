package dlp

import "github.com/polisai/polis-dlp/pkg/domain"

// Detect applies every pattern, in configuration order, to text and returns
// one trusted entity per match. Matches of a single pattern are leftmost and
// non-overlapping; matches of different patterns may overlap and are kept.
// The result depends on text and patterns only.
func Detect(text domain.Text, patterns []Pattern) []domain.Entity {
	if len(patterns) == 0 || text.Len() == 0 {
		return nil
	}

	raw := text.String()
	var entities []domain.Entity
	for _, pattern := range patterns {
		for _, match := range pattern.expr.FindAllStringIndex(raw, -1) {
			span := domain.Span{
				Start: text.RuneOffset(match[0]),
				End:   text.RuneOffset(match[1]),
			}
			if span.Validate(text.Len()) != nil {
				continue
			}
			entities = append(entities, domain.Entity{
				Type:       pattern.Type,
				Value:      text.Slice(span),
				Span:       span,
				Confidence: TrustedConfidence,
				Provenance: domain.ProvenanceTrusted,
				Detector:   DetectorName,
			})
		}
	}

	return entities
}
