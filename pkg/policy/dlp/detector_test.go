package dlp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-dlp/pkg/domain"
)

func TestDetect_ReturnsTrustedEntitiesInPatternOrder(t *testing.T) {
	patterns := MustCompile(
		PatternSpec{Type: "EMAIL", Regex: `[a-z]+@[a-z]+\.com`},
		PatternSpec{Type: "DIGITS", Regex: `[0-9]{4}`},
	)

	text := domain.NewText("1234 mail bob@corp.com then 5678")
	entities := Detect(text, patterns)
	require.Len(t, entities, 3)

	assert.Equal(t, "EMAIL", entities[0].Type)
	assert.Equal(t, "bob@corp.com", entities[0].Value)
	assert.Equal(t, domain.Span{Start: 10, End: 22}, entities[0].Span)

	assert.Equal(t, "DIGITS", entities[1].Type)
	assert.Equal(t, domain.Span{Start: 0, End: 4}, entities[1].Span)
	assert.Equal(t, "DIGITS", entities[2].Type)
	assert.Equal(t, "5678", entities[2].Value)

	for _, e := range entities {
		assert.Equal(t, domain.ProvenanceTrusted, e.Provenance)
		assert.Equal(t, TrustedConfidence, e.Confidence)
		assert.Equal(t, e.Value, text.Slice(e.Span))
	}
}

func TestDetect_KeepsOverlapsAcrossPatterns(t *testing.T) {
	patterns := MustCompile(
		PatternSpec{Type: "A", Regex: `abc`},
		PatternSpec{Type: "B", Regex: `bcd`},
	)

	entities := Detect(domain.NewText("abcd"), patterns)
	require.Len(t, entities, 2)
	assert.True(t, entities[0].Span.Overlaps(entities[1].Span))
}

func TestDetect_UsesCodePointOffsets(t *testing.T) {
	patterns := MustCompile(PatternSpec{Type: "EMAIL", Regex: `\pL+@[a-z]+\.fr`})

	text := domain.NewText("Écrire à élodie zoé@exemple.fr")
	entities := Detect(text, patterns)
	require.Len(t, entities, 1)

	// "Écrire à élodie " is 16 code points but 19 bytes.
	assert.Equal(t, 16, entities[0].Start)
	assert.Equal(t, "zoé@exemple.fr", entities[0].Value)
	assert.Equal(t, 16+domain.RuneCount("zoé@exemple.fr"), entities[0].End)
}

func TestDetect_EmptyInputs(t *testing.T) {
	assert.Empty(t, Detect(domain.NewText(""), MustCompile(PatternSpec{Type: "X", Regex: "x"})))
	assert.Empty(t, Detect(domain.NewText("x"), nil))
}

func TestCompile_FailsFast(t *testing.T) {
	tests := []struct {
		name    string
		specs   []PatternSpec
		wantErr error
	}{
		{name: "missing type", specs: []PatternSpec{{Regex: "x"}}, wantErr: domain.ErrInvalidPattern},
		{name: "bad syntax", specs: []PatternSpec{{Type: "X", Regex: "(unclosed"}}, wantErr: domain.ErrInvalidPattern},
		{name: "empty match", specs: []PatternSpec{{Type: "X", Regex: "a*"}}, wantErr: ErrEmptyMatch},
		{name: "unknown builtin", specs: []PatternSpec{{Type: "NOPE"}}, wantErr: ErrUnknownBuiltin},
		{
			name:    "one bad pattern rejects the set",
			specs:   []PatternSpec{{Type: "OK", Regex: "ok"}, {Type: "BAD", Regex: "[z-a]"}},
			wantErr: domain.ErrInvalidPattern,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patterns, err := Compile(tt.specs, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Nil(t, patterns)
		})
	}
}

func TestCompile_ResolvesBuiltins(t *testing.T) {
	patterns, err := Compile([]PatternSpec{{Type: "email"}, {Type: "IBAN"}}, nil)
	require.NoError(t, err)
	require.Len(t, patterns, 2)

	entities := Detect(domain.NewText("iban FR7630006000011234567890189 mail a.b@example.org"), patterns)

	types := map[string]string{}
	for _, e := range entities {
		types[e.Type] = e.Value
	}
	assert.Equal(t, "a.b@example.org", types["email"])
	assert.Equal(t, "FR7630006000011234567890189", types["IBAN"])
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.Register(Builtin{Regex: "x"}))
	require.Error(t, r.Register(Builtin{Type: "X"}))
	require.NoError(t, r.Register(Builtin{Type: "badge", Regex: `B-[0-9]{6}`}))

	b, ok := r.Resolve("BADGE")
	require.True(t, ok)
	assert.Equal(t, `B-[0-9]{6}`, b.Regex)
	assert.Equal(t, []string{"BADGE"}, r.Types())

	_, ok = r.Resolve("")
	assert.False(t, ok)
}
