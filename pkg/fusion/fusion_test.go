package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/polis-dlp/pkg/domain"
)

func trusted(typ string, start, end int) domain.Entity {
	return domain.Entity{Type: typ, Span: domain.Span{Start: start, End: end}, Confidence: 0.99, Provenance: domain.ProvenanceTrusted}
}

func probable(typ string, start, end int) domain.Entity {
	return domain.Entity{Type: typ, Span: domain.Span{Start: start, End: end}, Confidence: 0.85, Provenance: domain.ProvenanceProbabilistic}
}

func TestFuse_TrustedWinsOverlaps(t *testing.T) {
	tr := []domain.Entity{trusted("EMAIL", 10, 25)}
	pr := []domain.Entity{
		probable("PERSON", 0, 5),
		probable("ORG", 20, 30), // overlaps the e-mail
		probable("LOC", 25, 31), // adjacent, kept
	}

	fused := Fuse(tr, pr)
	require.Len(t, fused, 3)
	assert.Equal(t, "EMAIL", fused[0].Type)
	assert.Equal(t, "PERSON", fused[1].Type)
	assert.Equal(t, "LOC", fused[2].Type)
}

func TestFuse_KeepsOverlappingProbabilisticPairs(t *testing.T) {
	pr := []domain.Entity{probable("PERSON", 0, 10), probable("ORG", 5, 15)}
	fused := Fuse(nil, pr)
	assert.Equal(t, pr, fused)
}

func TestFuse_KeepsOverlappingTrustedPairs(t *testing.T) {
	tr := []domain.Entity{trusted("A", 0, 3), trusted("B", 1, 4)}
	assert.Equal(t, tr, Fuse(tr, nil))
}

func TestFuse_EmptyInputs(t *testing.T) {
	assert.Empty(t, Fuse(nil, nil))
}

func genEntity(provenance domain.Provenance) *rapid.Generator[domain.Entity] {
	return rapid.Custom(func(t *rapid.T) domain.Entity {
		start := rapid.IntRange(0, 100).Draw(t, "start")
		end := rapid.IntRange(start+1, 110).Draw(t, "end")
		return domain.Entity{
			Type:       rapid.SampledFrom([]string{"EMAIL", "IBAN", "PERSON", "ORG"}).Draw(t, "type"),
			Span:       domain.Span{Start: start, End: end},
			Provenance: provenance,
		}
	})
}

func TestFuse_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tr := rapid.SliceOf(genEntity(domain.ProvenanceTrusted)).Draw(t, "trusted")
		pr := rapid.SliceOf(genEntity(domain.ProvenanceProbabilistic)).Draw(t, "probabilistic")

		fused := Fuse(tr, pr)

		// Trusted entities form an unchanged prefix.
		require.GreaterOrEqual(t, len(fused), len(tr))
		for i := range tr {
			assert.Equal(t, tr[i], fused[i])
		}

		// No surviving probabilistic entity overlaps a trusted one.
		for _, p := range fused[len(tr):] {
			for _, e := range tr {
				assert.False(t, p.Overlaps(e.Span))
			}
		}

		// Every probabilistic entity clear of the trusted set survives.
		free := 0
		for _, p := range pr {
			if !overlapsAny(p.Span, tr) {
				free++
			}
		}
		assert.Equal(t, free, len(fused)-len(tr))
	})
}
