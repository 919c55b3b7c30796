package relevance

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/memory/dedup"
)

// LocalDimensions matches the size of common small sentence-embedding models.
const LocalDimensions = 384

// trigramWeight scales character trigrams relative to whole tokens.
const trigramWeight = 0.5

// LocalEmbedder is a deterministic feature-hashing embedder. Each token of
// the normalized text and each character trigram is hashed with FNV-1a into
// one signed bucket, and the vector is L2-normalized. It needs no network and
// never fails, which makes it the fallback for the hosted embedder.
type LocalEmbedder struct {
	dimensions int
}

// NewLocalEmbedder creates a LocalEmbedder with LocalDimensions buckets.
func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{dimensions: LocalDimensions}
}

// Embed returns the vector for text. Empty text yields the zero vector.
func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

// EmbedBatch embeds texts in order.
func (e *LocalEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

// Dimensions returns the embedding size.
func (e *LocalEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *LocalEmbedder) vector(text string) []float32 {
	acc := make([]float64, e.dimensions)
	canon := dedup.Normalize(text)
	if canon == "" {
		return make([]float32, e.dimensions)
	}

	for _, tok := range strings.Fields(canon) {
		e.add(acc, "w:"+tok, 1)
	}
	runes := []rune(" " + canon + " ")
	for i := 0; i+3 <= len(runes); i++ {
		e.add(acc, "c:"+string(runes[i:i+3]), trigramWeight)
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	out := make([]float32, e.dimensions)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}

func (e *LocalEmbedder) add(acc []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dimensions))
	if sum>>63 == 1 {
		weight = -weight
	}
	acc[idx] += weight
}
