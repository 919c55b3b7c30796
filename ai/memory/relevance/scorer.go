package relevance

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/memory/dedup"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store"
)

// DefaultTopK is the number of recent memories the fallback scorer compares against.
const DefaultTopK = 5

// Scorer rates how well a candidate fits the user's history, in [0,1].
type Scorer interface {
	Score(ctx context.Context, candidate string, history []*store.MemoryItem) (float64, error)
}

// EmbeddingScorer returns the best cosine similarity between the candidate
// and the topK most recently accessed history items.
type EmbeddingScorer struct {
	embedder dedup.Embedder
	topK     int
}

// NewEmbeddingScorer creates an EmbeddingScorer. A nil embedder uses the
// LocalEmbedder.
func NewEmbeddingScorer(embedder dedup.Embedder, topK int) *EmbeddingScorer {
	if embedder == nil {
		embedder = NewLocalEmbedder()
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &EmbeddingScorer{embedder: embedder, topK: topK}
}

// Score implements Scorer. Empty history scores 0.
func (s *EmbeddingScorer) Score(ctx context.Context, candidate string, history []*store.MemoryItem) (float64, error) {
	recent := mostRecent(history, s.topK)
	if len(recent) == 0 {
		return 0, nil
	}

	texts := make([]string, 0, len(recent)+1)
	texts = append(texts, candidate)
	for _, item := range recent {
		texts = append(texts, item.Text)
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, errors.Wrap(err, "embed history")
	}
	if len(vectors) != len(texts) {
		return 0, errors.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	var best float64
	for _, v := range vectors[1:] {
		best = max(best, dedup.CosineSimilarity(vectors[0], v))
	}
	return min(best, 1), nil
}

// mostRecent returns up to k items ordered by last access, newest first.
func mostRecent(items []*store.MemoryItem, k int) []*store.MemoryItem {
	sorted := append([]*store.MemoryItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].LastAccessedAt.Equal(sorted[j].LastAccessedAt) {
			return sorted[i].LastAccessedAt.After(sorted[j].LastAccessedAt)
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}
