// Package masking rewrites text according to a verdict.
package masking

import (
	"sort"
	"strings"

	"github.com/polisai/polis-dlp/pkg/domain"
)

// Defaults used when Options leaves a field empty.
const (
	DefaultTokenFormat  = "<{type}_MASKED>"
	DefaultBlockMessage = "Texte trop sensible pour être envoyé tel quel."
)

// Options controls the rendered replacement.
type Options struct {
	// TokenFormat is the replacement for one entity; "{type}" expands to
	// the entity type.
	TokenFormat  string
	BlockMessage string
}

func (o Options) token(entityType string) string {
	format := o.TokenFormat
	if format == "" {
		format = DefaultTokenFormat
	}
	return strings.ReplaceAll(format, "{type}", entityType)
}

func (o Options) blockMessage() string {
	if o.BlockMessage == "" {
		return DefaultBlockMessage
	}
	return o.BlockMessage
}

// Mask applies verdict to text. Allow returns text unchanged. Block, and any
// verdict Mask does not know, returns the block message without looking at
// entities. Mask replaces every entity
// span with its type token, working from the end of the text towards the
// start so earlier offsets stay valid. Spans must be valid for text.
//
// Entities are expected not to overlap. If some do, each overlapping cluster
// is replaced once, as a whole, with the token of its earliest entity, so no
// byte of a detected span survives.
func Mask(text domain.Text, entities []domain.Entity, verdict domain.Verdict, opts Options) string {
	switch verdict {
	case domain.VerdictAllow:
		return text.String()
	case domain.VerdictMask:
	default:
		return opts.blockMessage()
	}

	if len(entities) == 0 {
		return text.String()
	}

	regions := plan(entities)
	out := text.String()
	for i := len(regions) - 1; i >= 0; i-- {
		r := regions[i]
		from, to := text.ByteRange(r.span)
		out = out[:from] + opts.token(r.entityType) + out[to:]
	}
	return out
}

type region struct {
	span       domain.Span
	entityType string
}

// plan orders entities by start, ties broken by detection order, and merges
// overlapping spans into single regions.
func plan(entities []domain.Entity) []region {
	ordered := make([]domain.Entity, len(entities))
	copy(ordered, entities)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start < ordered[j].Start
	})

	regions := make([]region, 0, len(ordered))
	for _, e := range ordered {
		if n := len(regions); n > 0 && e.Start < regions[n-1].span.End {
			if e.End > regions[n-1].span.End {
				regions[n-1].span.End = e.End
			}
			continue
		}
		regions = append(regions, region{span: e.Span, entityType: e.Type})
	}
	return regions
}
