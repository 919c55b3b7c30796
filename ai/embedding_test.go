package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
	texts []string
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (e *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	e.texts = append(e.texts, texts...)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (e *countingEmbedder) Dimensions() int { return 1 }

type lookupRecorder struct {
	mu         sync.Mutex
	hit, miss  int
	cacheNames map[string]bool
}

func (r *lookupRecorder) RecordCacheLookup(name string, hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cacheNames == nil {
		r.cacheNames = map[string]bool{}
	}
	r.cacheNames[name] = true
	if hit {
		r.hit++
	} else {
		r.miss++
	}
}

func TestCachedEmbeddingService(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	obs := &lookupRecorder{}
	svc := NewCachedEmbeddingService(inner, 16, obs)

	v1, err := svc.Embed(ctx, "sushi")
	require.NoError(t, err)
	v2, err := svc.Embed(ctx, "sushi")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.calls)

	vs, err := svc.EmbedBatch(ctx, []string{"sushi", "ramen", "udon"})
	require.NoError(t, err)
	require.Len(t, vs, 3)
	assert.Equal(t, []float32{5}, vs[1])
	assert.Equal(t, []string{"sushi", "ramen", "udon"}, inner.texts, "only misses reach the provider")

	assert.Equal(t, 2, obs.hit)
	assert.Equal(t, 3, obs.miss)
	assert.True(t, obs.cacheNames["embedding"])
}

func TestCachedEmbeddingService_ErrorsNotCached(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{err: errors.New("boom")}
	svc := NewCachedEmbeddingService(inner, 16, nil)

	_, err := svc.Embed(ctx, "x")
	require.Error(t, err)
	inner.err = nil
	_, err = svc.Embed(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedEmbeddingService_BoundedSize(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	svc := NewCachedEmbeddingService(inner, 2, nil)

	for _, text := range []string{"a", "b", "c", "a"} {
		_, err := svc.Embed(ctx, text)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, inner.calls, "oldest entry is evicted once the cache is full")
}

func TestCachedEmbeddingService_Disabled(t *testing.T) {
	inner := &countingEmbedder{}
	assert.Same(t, inner, NewCachedEmbeddingService(inner, 0, nil).(*countingEmbedder))
}

func TestEmbeddingService_Hosted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		data := make([]map[string]any, len(req.Input))
		// Answer out of order; the client must place vectors by index.
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			data[i] = map[string]any{"object": "embedding", "index": j, "embedding": []float32{float32(j), 1}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "model": req.Model, "data": data})
	}))
	t.Cleanup(srv.Close)

	svc, err := NewEmbeddingService(&EmbeddingConfig{Model: "text-embedding-3-small", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	vs, err := svc.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, vs[0])
	assert.Equal(t, []float32{2, 1}, vs[2])
}

func TestNewEmbeddingService_RequiresModel(t *testing.T) {
	_, err := NewEmbeddingService(&EmbeddingConfig{})
	assert.Error(t, err)
}
