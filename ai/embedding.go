package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sashabaranov/go-openai"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/core/llm"
)

// EmbeddingService is the vector embedding service interface.
type EmbeddingService interface {
	// Embed generates vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension, or 0 when the provider decides.
	Dimensions() int
}

// LookupObserver is notified of embedding cache lookups.
type LookupObserver interface {
	RecordCacheLookup(name string, hit bool)
}

type embeddingService struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewEmbeddingService creates an EmbeddingService for any OpenAI-compatible provider.
func NewEmbeddingService(cfg *EmbeddingConfig) (EmbeddingService, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = llm.NewHTTPClient()

	return &embeddingService{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (s *embeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *embeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(s.model),
		Dimensions: s.dimensions,
	}

	resp, err := s.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create embeddings failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("embedding response index %d out of range", data.Index)
		}
		vectors[data.Index] = data.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("empty embedding for input %d", i)
		}
	}
	return vectors, nil
}

func (s *embeddingService) Dimensions() int {
	return s.dimensions
}

// embeddingTTL bounds how long a vector is reused after it was fetched.
const embeddingTTL = 30 * time.Minute

// cachedEmbeddingService memoizes vectors by text. Errors are never cached.
type cachedEmbeddingService struct {
	inner    EmbeddingService
	cache    *expirable.LRU[string, []float32]
	observer LookupObserver
}

// NewCachedEmbeddingService wraps inner with an LRU of size entries.
// A non-positive size disables caching and returns inner unchanged.
func NewCachedEmbeddingService(inner EmbeddingService, size int, observer LookupObserver) EmbeddingService {
	if size <= 0 {
		return inner
	}
	return &cachedEmbeddingService{
		inner:    inner,
		cache:    expirable.NewLRU[string, []float32](size, nil, embeddingTTL),
		observer: observer,
	}
}

func (s *cachedEmbeddingService) lookup(text string) ([]float32, bool) {
	v, ok := s.cache.Get(text)
	if s.observer != nil {
		s.observer.RecordCacheLookup("embedding", ok)
	}
	return v, ok
}

func (s *cachedEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := s.lookup(text); ok {
		return v, nil
	}
	v, err := s.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	s.cache.Add(text, v)
	return v, nil
}

func (s *cachedEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if v, ok := s.lookup(text); ok {
			out[i] = v
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := s.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(vectors), len(missing))
	}
	for j, v := range vectors {
		out[missingIdx[j]] = v
		s.cache.Add(missing[j], v)
	}
	return out, nil
}

func (s *cachedEmbeddingService) Dimensions() int {
	return s.inner.Dimensions()
}
