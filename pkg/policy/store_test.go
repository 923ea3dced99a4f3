package policy

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/polis-dlp/pkg/config"
	"github.com/polisai/polis-dlp/pkg/domain"
	"github.com/polisai/polis-dlp/pkg/masking"
)

const testPolicy = `
rules_engine:
  patterns:
    - type: IBAN
      regex: 'FR\d{2}(?: ?\d{4}){2}'
    - type: EMAIL
risk_engine:
  weights: {IBAN: 5, EMAIL: 1}
  default_weight: 0.5
  thresholds: {MASK: 0.3, BLOCK: 0.7}
`

func loadedStore(t *testing.T) *Store {
	t.Helper()
	doc, err := config.ParsePolicyDocument([]byte(testPolicy))
	require.NoError(t, err)
	store := NewStore()
	_, err = store.Load(doc, "inline")
	require.NoError(t, err)
	return store
}

func TestStore_SnapshotBeforeLoad(t *testing.T) {
	_, err := NewStore().Snapshot()
	assert.ErrorIs(t, err, ErrNotLoaded)

	_, err = NewStore().UpdateWeights(map[string]float64{"X": 1})
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestStore_LoadAppliesDefaults(t *testing.T) {
	snap, err := loadedStore(t).Snapshot()
	require.NoError(t, err)

	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, "inline", snap.Source)
	assert.Len(t, snap.Digest, 64)
	assert.Len(t, snap.Patterns(), 2)
	assert.Equal(t, 5.0, snap.Weight("IBAN"))
	assert.Equal(t, 0.5, snap.Weight("PHONE"))
	assert.Equal(t, 0.3, snap.MaskThreshold)
	assert.Equal(t, 0.7, snap.BlockThreshold)
	assert.Equal(t, DefaultNormalization, snap.Normalization)
	assert.Equal(t, DefaultConfidence, snap.DefaultConfidence)
	assert.Equal(t, masking.DefaultTokenFormat, snap.TokenFormat)
	assert.Equal(t, masking.DefaultBlockMessage, snap.BlockMessage)
}

func TestStore_LoadRejectsBadPatternAndKeepsPrevious(t *testing.T) {
	store := loadedStore(t)
	before, _ := store.Snapshot()

	doc, err := config.ParsePolicyDocument([]byte(`
rules_engine:
  patterns:
    - type: BROKEN
      regex: '(unclosed'
risk_engine:
  default_weight: 1
  thresholds: {MASK: 0.1, BLOCK: 0.2}
`))
	require.NoError(t, err)

	_, err = store.Load(doc, "broken")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
	assert.ErrorIs(t, err, domain.ErrInvalidPattern)

	after, _ := store.Snapshot()
	assert.Same(t, before, after)
}

func TestStore_ReloadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPolicy), 0o600))

	store := NewStore()
	require.NoError(t, store.ReloadFile(path))

	require.NoError(t, os.WriteFile(path, []byte("risk_engine: {"), 0o600))
	require.Error(t, store.ReloadFile(path))

	snap, err := store.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, path, snap.Source)
	assert.Equal(t, uint64(1), snap.Version)

	require.Error(t, NewStore().ReloadFile(filepath.Join(dir, "missing.yaml")))
}

func TestStore_UpdateWeightsReplacesTable(t *testing.T) {
	store := loadedStore(t)

	snap, err := store.UpdateWeights(map[string]float64{"PERSON": 2})
	require.NoError(t, err)

	assert.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, 2.0, snap.Weight("PERSON"))
	// IBAN was not resubmitted and falls back to the default weight.
	assert.Equal(t, 0.5, snap.Weight("IBAN"))
	assert.Equal(t, map[string]float64{"PERSON": 2}, snap.Weights())
	assert.Len(t, snap.Patterns(), 2)
}

func TestStore_UpdateWeightsRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		weights map[string]float64
	}{
		{name: "nil table", weights: nil},
		{name: "negative", weights: map[string]float64{"IBAN": -1}},
		{name: "nan", weights: map[string]float64{"IBAN": math.NaN()}},
		{name: "inf", weights: map[string]float64{"IBAN": math.Inf(1)}},
		{name: "empty key", weights: map[string]float64{"": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := loadedStore(t)
			before, _ := store.Snapshot()

			_, err := store.UpdateWeights(tt.weights)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidWeights)

			var derr *domain.DomainError
			require.True(t, errors.As(err, &derr))
			assert.Equal(t, domain.CodeInvalidWeights, derr.Code)

			after, _ := store.Snapshot()
			assert.Same(t, before, after)
		})
	}
}

func TestParseWeights(t *testing.T) {
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"IBAN": 4, "EMAIL": 0.5}`), &raw))

	weights, err := ParseWeights(raw)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"IBAN": 4, "EMAIL": 0.5}, weights)

	_, err = ParseWeights(map[string]any{"IBAN": "high", "EMAIL": 1.0, "PHONE": nil})
	var derr *domain.DomainError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, []string{"IBAN", "PHONE"}, derr.Details["invalid_keys"])

	_, err = ParseWeights(nil)
	assert.ErrorIs(t, err, domain.ErrInvalidWeights)
}

func TestSnapshot_SummaryOmitsPatternSources(t *testing.T) {
	snap, _ := loadedStore(t).Snapshot()
	summary := snap.Summary()

	assert.Equal(t, []string{"EMAIL", "IBAN"}, summary.PatternTypes)
	encoded, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), `FR\\d{2}`)
}

// Every reader observes a weight table that was published as a whole, never a
// mix of two updates.
func TestStore_ConcurrentUpdatesPublishWholeTables(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		doc, err := config.ParsePolicyDocument([]byte(testPolicy))
		require.NoError(rt, err)
		store := NewStore()
		_, err = store.Load(doc, "inline")
		require.NoError(rt, err)

		tables := rapid.SliceOfN(rapid.Float64Range(0, 100), 1, 8).Draw(rt, "tables")

		var wg sync.WaitGroup
		for _, v := range tables {
			wg.Add(1)
			go func(v float64) {
				defer wg.Done()
				_, _ = store.UpdateWeights(map[string]float64{"IBAN": v, "EMAIL": v})
			}(v)
		}

		for i := 0; i < 50; i++ {
			snap, err := store.Snapshot()
			require.NoError(rt, err)
			if snap.Weight("IBAN") != snap.Weight("EMAIL") {
				rt.Fatalf("torn snapshot version %d: IBAN=%v EMAIL=%v", snap.Version, snap.Weight("IBAN"), snap.Weight("EMAIL"))
			}
		}
		wg.Wait()

		final, err := store.Snapshot()
		require.NoError(rt, err)
		assert.Equal(rt, uint64(len(tables)+1), final.Version)
	})
}
