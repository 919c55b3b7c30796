package relevance

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/configloader"
	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/memory/dedup"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store"
)

func TestLocalEmbedder(t *testing.T) {
	e := NewLocalEmbedder()
	ctx := context.Background()

	a, err := e.Embed(ctx, "I really love sushi")
	require.NoError(t, err)
	require.Len(t, a, LocalDimensions)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	again, _ := e.Embed(ctx, "  i REALLY love sushi!! ")
	assert.InDelta(t, 1.0, dedup.CosineSimilarity(a, again), 1e-6, "same canonical form")

	near, _ := e.Embed(ctx, "I really love sushi rolls")
	far, _ := e.Embed(ctx, "The quarterly tax report is due")
	assert.Greater(t, dedup.CosineSimilarity(a, near), dedup.CosineSimilarity(a, far))

	empty, _ := e.Embed(ctx, "!!!")
	assert.Equal(t, 0.0, dedup.CosineSimilarity(a, empty))

	batch, err := e.EmbedBatch(ctx, []string{"I really love sushi", "x"})
	require.NoError(t, err)
	assert.Equal(t, a, batch[0])
}

type recordingEmbedder struct {
	*LocalEmbedder
	texts []string
}

func (r *recordingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	r.texts = texts
	return r.LocalEmbedder.EmbedBatch(ctx, texts)
}

func TestEmbeddingScorer_UsesMostRecentTopK(t *testing.T) {
	emb := &recordingEmbedder{LocalEmbedder: NewLocalEmbedder()}
	s := NewEmbeddingScorer(emb, 2)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := []*store.MemoryItem{
		{Text: "I really love sushi", LastAccessedAt: base},
		{Text: "I have a dog", LastAccessedAt: base.Add(2 * time.Hour)},
		{Text: "I live in Hamburg", LastAccessedAt: base.Add(time.Hour)},
	}
	score, err := s.Score(context.Background(), "I really love sushi", h)
	require.NoError(t, err)
	assert.Equal(t, []string{"I really love sushi", "I have a dog", "I live in Hamburg"}, emb.texts)
	assert.Less(t, score, 0.99, "the exact match is outside the top 2")

	s = NewEmbeddingScorer(nil, 5)
	score, err = s.Score(context.Background(), "I really love sushi", h)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-6)

	score, err = s.Score(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Zero(t, score)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	loader := configloader.NewLoader(dir)

	prompts, err := LoadPrompts(loader)
	require.NoError(t, err)
	assert.Equal(t, DefaultPrompts(), prompts)
	deny, err := LoadDenylist(loader)
	require.NoError(t, err)
	_, matched := deny.Match("moin moin")
	assert.False(t, matched)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "memory"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, PromptsFile), []byte("judge: custom judge\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FiltersFile),
		[]byte("filler_words: [moin]\nblock_patterns: ['^tell me a joke$']\n"), 0o644))

	prompts, err = LoadPrompts(loader)
	require.NoError(t, err)
	assert.Equal(t, "custom judge", prompts.Judge)
	assert.Equal(t, defaultExtractPrompt, prompts.Extract)

	deny, err = LoadDenylist(loader)
	require.NoError(t, err)
	rule, matched := deny.Match("moin moin")
	assert.True(t, matched)
	assert.Equal(t, "filler", rule)
	_, matched = deny.Match("Tell me a joke")
	assert.True(t, matched)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FiltersFile), []byte("block_patterns: ['(']\n"), 0o644))
	_, err = LoadDenylist(loader)
	assert.Error(t, err)
}

func TestContentBar_Defaults(t *testing.T) {
	bar := ContentBar{MinChars: DefaultMinChars, MinTokens: DefaultMinTokens}
	_, ok := bar.Check("I really love sushi")
	assert.True(t, ok)
	rule, ok := bar.Check("   tiny   ")
	assert.False(t, ok)
	assert.Equal(t, RuleMinChars, rule)
}
