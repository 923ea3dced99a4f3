package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSpan_Overlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Span
		want bool
	}{
		{name: "disjoint", a: Span{0, 3}, b: Span{5, 8}, want: false},
		{name: "adjacent", a: Span{0, 3}, b: Span{3, 6}, want: false},
		{name: "nested", a: Span{0, 10}, b: Span{2, 4}, want: true},
		{name: "partial", a: Span{0, 5}, b: Span{4, 9}, want: true},
		{name: "identical", a: Span{2, 4}, b: Span{2, 4}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a))
		})
	}
}

func TestSpan_Validate(t *testing.T) {
	assert.NoError(t, Span{0, 5}.Validate(5))
	assert.ErrorIs(t, Span{-1, 2}.Validate(5), ErrInvalidSpan)
	assert.ErrorIs(t, Span{2, 6}.Validate(5), ErrInvalidSpan)
	assert.ErrorIs(t, Span{3, 3}.Validate(5), ErrInvalidSpan)
	assert.ErrorIs(t, Span{4, 3}.Validate(5), ErrInvalidSpan)
}

func TestText_SliceAndOffsets(t *testing.T) {
	text := NewText("Né à Zürich")
	assert.Equal(t, 11, text.Len())
	assert.Equal(t, "Zürich", text.Slice(Span{5, 11}))

	from, to := text.ByteRange(Span{5, 11})
	assert.Equal(t, "Zürich", text.String()[from:to])
	assert.Equal(t, 5, text.RuneOffset(from))
	assert.Equal(t, 11, text.RuneOffset(to))
	// Offset inside the two-byte "é" resolves to that code point.
	assert.Equal(t, 1, text.RuneOffset(2))
}

func TestText_InvalidUTF8CountsBytes(t *testing.T) {
	raw := "a\xffb"
	text := NewText(raw)
	assert.Equal(t, RuneCount(raw), text.Len())
	assert.Equal(t, "\xff", text.Slice(Span{1, 2}))
}

func TestText_RoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := rapid.String().Draw(rt, "s")
		text := NewText(s)
		n := text.Len()
		if n == 0 {
			return
		}
		start := rapid.IntRange(0, n-1).Draw(rt, "start")
		end := rapid.IntRange(start+1, n).Draw(rt, "end")
		span := Span{Start: start, End: end}

		from, to := text.ByteRange(span)
		assert.Equal(rt, start, text.RuneOffset(from))
		assert.Equal(rt, end, text.RuneOffset(to))
		assert.Equal(rt, end-start, RuneCount(text.Slice(span)))
	})
}

func TestEntity_JSONFlattensSpan(t *testing.T) {
	e := Entity{Type: "EMAIL", Value: "a@b.c", Span: Span{3, 8}, Confidence: 0.99, Provenance: ProvenanceTrusted}
	out, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"EMAIL","value":"a@b.c","start":3,"end":8,"confidence":0.99,"provenance":"trusted"}`, string(out))
}

func TestVerdict_Ordering(t *testing.T) {
	assert.Less(t, VerdictAllow.Severity(), VerdictMask.Severity())
	assert.Less(t, VerdictMask.Severity(), VerdictBlock.Severity())

	v, err := ParseVerdict(" mask ")
	require.NoError(t, err)
	assert.Equal(t, VerdictMask, v)

	_, err = ParseVerdict("QUARANTINE")
	assert.Error(t, err)
}
