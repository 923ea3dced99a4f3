package domain

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

// Provenance is the trust tier of the detector that produced an entity.
type Provenance string

const (
	// ProvenanceTrusted marks exact-match detections (pattern rules).
	ProvenanceTrusted Provenance = "trusted"
	// ProvenanceProbabilistic marks model-based detections.
	ProvenanceProbabilistic Provenance = "probabilistic"
)

// Span is a half-open interval [Start, End) over the original input text,
// measured in Unicode code points rather than bytes.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of code points covered by the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// Overlaps reports whether two half-open spans share at least one position.
func (s Span) Overlaps(other Span) bool {
	return !(s.End <= other.Start || s.Start >= other.End)
}

// Validate checks 0 <= Start < End <= length.
func (s Span) Validate(length int) error {
	if s.Start < 0 || s.End > length || s.Start >= s.End {
		return fmt.Errorf("%w: [%d,%d) outside text of length %d", ErrInvalidSpan, s.Start, s.End, length)
	}
	return nil
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Start, s.End)
}

// Entity is a single sensitive-data occurrence. Value always equals the
// original text sliced by Span at the time the entity was created.
type Entity struct {
	Type       string     `json:"type"`
	Value      string     `json:"value"`
	Span                  // flattened into start/end
	Confidence float64    `json:"confidence"`
	Provenance Provenance `json:"provenance"`
	// Detector names the provider that proposed the entity.
	Detector string `json:"detector,omitempty"`
}

// Text is an input document indexed by code point so spans can be resolved
// to byte ranges without re-decoding UTF-8 on every lookup. Each invalid
// UTF-8 byte counts as one code point, matching utf8.RuneCountInString.
type Text struct {
	raw    string
	starts []int // byte offset of every code point, plus len(raw)
}

// NewText indexes s.
func NewText(s string) Text {
	starts := make([]int, 0, len(s)+1)
	for i := 0; i < len(s); {
		starts = append(starts, i)
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	starts = append(starts, len(s))
	return Text{raw: s, starts: starts}
}

// String returns the original text.
func (t Text) String() string {
	return t.raw
}

// Len returns the length of the text in code points.
func (t Text) Len() int {
	if len(t.starts) == 0 {
		return 0
	}
	return len(t.starts) - 1
}

// ByteRange converts a valid code point span into byte offsets.
func (t Text) ByteRange(span Span) (int, int) {
	return t.starts[span.Start], t.starts[span.End]
}

// Slice returns the exact original bytes covered by span. The span must be valid.
func (t Text) Slice(span Span) string {
	from, to := t.ByteRange(span)
	return t.raw[from:to]
}

// RuneOffset converts a byte offset to a code point offset. Offsets inside a
// multi-byte sequence resolve to the code point containing them.
func (t Text) RuneOffset(byteOffset int) int {
	if byteOffset <= 0 {
		return 0
	}
	i := sort.SearchInts(t.starts, byteOffset)
	if i < len(t.starts) && t.starts[i] == byteOffset {
		return i
	}
	return i - 1
}

// RuneCount returns the length of s in the units spans are measured in.
func RuneCount(s string) int {
	return utf8.RuneCountInString(s)
}

// RuneIndex converts a byte offset that falls exactly on a code point
// boundary (or the end of the text) into a code point offset.
func (t Text) RuneIndex(byteOffset int) (int, bool) {
	i := sort.SearchInts(t.starts, byteOffset)
	if i < len(t.starts) && t.starts[i] == byteOffset {
		return i, true
	}
	return 0, false
}
