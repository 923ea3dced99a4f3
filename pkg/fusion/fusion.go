// Package fusion merges detections from sources of different trust levels.
package fusion

import "github.com/polisai/polis-dlp/pkg/domain"

// Fuse returns every trusted entity, in order, followed by the probabilistic
// entities that overlap none of them, in order. Probabilistic entities are not
// compared with each other, so two overlapping model detections both survive.
func Fuse(trusted, probabilistic []domain.Entity) []domain.Entity {
	fused := make([]domain.Entity, 0, len(trusted)+len(probabilistic))
	fused = append(fused, trusted...)

	for _, candidate := range probabilistic {
		if overlapsAny(candidate.Span, trusted) {
			continue
		}
		fused = append(fused, candidate)
	}
	return fused
}

func overlapsAny(span domain.Span, entities []domain.Entity) bool {
	for _, e := range entities {
		if span.Overlaps(e.Span) {
			return true
		}
	}
	return false
}
