package detector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-dlp/pkg/config"
)

func newProvider(t *testing.T, url string, mutate func(*config.DetectorConfig)) *HTTPProvider {
	t.Helper()
	cfg := config.DetectorConfig{Name: "ner", URL: url, Timeout: time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewHTTPProvider(cfg, WithBackoff(time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestHTTPProvider_DecodesSpans(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))

		var req proposeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Jean Dupont habite Lyon", req.Text)

		_, _ = io.WriteString(w, `{"spans": [
			{"label": "PER", "start": 0, "end": 11, "text": "Jean Dupont", "score": 0.93},
			{"type": "LOCATION", "start": 19, "end": 23}
		]}`)
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL, func(c *config.DetectorConfig) {
		c.Headers = map[string]string{"X-Api-Key": "secret"}
	})
	assert.Equal(t, "ner", p.Name())

	proposals, err := p.Propose(context.Background(), "Jean Dupont habite Lyon")
	require.NoError(t, err)
	require.Len(t, proposals, 2)

	assert.Equal(t, Proposal{Type: "PERSON", Value: "Jean Dupont", Start: 0, End: 11, Confidence: 0.93}, proposals[0])
	assert.Equal(t, "LOCATION", proposals[1].Type)
	assert.Equal(t, NoConfidence, proposals[1].Confidence)
}

func TestHTTPProvider_EntitiesKeyAndByteOffsets(t *testing.T) {
	// "Élise" is 5 code points and 6 bytes.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"entities": [
			{"entity_group": "PER", "start": 0, "end": 6, "word": "Élise", "confidence": 0.8},
			{"entity_group": "PER", "start": 1, "end": 6}
		]}`)
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL, func(c *config.DetectorConfig) { c.Offsets = config.OffsetsBytes })

	proposals, err := p.Propose(context.Background(), "Élise part")
	require.NoError(t, err)
	require.Len(t, proposals, 2)

	assert.Equal(t, 0, proposals[0].Start)
	assert.Equal(t, 5, proposals[0].End)
	// Byte 1 is inside "É".
	assert.Equal(t, -1, proposals[1].Start)
}

func TestHTTPProvider_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"spans": []}`)
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL, func(c *config.DetectorConfig) { c.Retries = 3 })

	proposals, err := p.Propose(context.Background(), "text")
	require.NoError(t, err)
	assert.Empty(t, proposals)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPProvider_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL, func(c *config.DetectorConfig) { c.Retries = 3 })

	_, err := p.Propose(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPProvider_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL, func(c *config.DetectorConfig) { c.Retries = 2 })

	_, err := p.Propose(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPProvider_HonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := newProvider(t, srv.URL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Propose(ctx, "text")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestNewHTTPProvider_Validation(t *testing.T) {
	_, err := NewHTTPProvider(config.DetectorConfig{URL: "http://x"})
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = NewHTTPProvider(config.DetectorConfig{Name: "ner"})
	assert.Error(t, err)
}

func TestFunc(t *testing.T) {
	f, err := NewFunc("static", func(ctx context.Context, text string) ([]Proposal, error) {
		return []Proposal{{Type: "PERSON", Start: 0, End: len(text), Confidence: 0.7}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "static", f.Name())

	proposals, err := f.Propose(context.Background(), "Ana")
	require.NoError(t, err)
	assert.Equal(t, 3, proposals[0].End)

	_, err = NewFunc("", nil)
	assert.ErrorIs(t, err, ErrEmptyName)
	_, err = NewFunc("x", nil)
	assert.Error(t, err)
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "PERSON", NormalizeLabel("PER"))
	assert.Equal(t, "ORGANIZATION", NormalizeLabel("ORG"))
	assert.Equal(t, "LOCATION", NormalizeLabel("LOC"))
	assert.Equal(t, "MISC", NormalizeLabel("MISC"))
}
