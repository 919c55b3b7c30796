// Package dedup decides whether a candidate memory repeats one the user
// already has. Semantic similarity from an embedding provider is preferred;
// when the provider is missing or fails, a lexical ratio is used instead.
package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/filter"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store"
)

// Comparison methods reported in Result.Method.
const (
	MethodSemantic    = "semantic"
	MethodLevenshtein = "levenshtein"
)

// Default thresholds.
const (
	DefaultDupCosine = 0.92
	DefaultDupLev    = 0.90
)

// batchSize caps the number of texts sent in one embedding request.
const batchSize = 128

// Embedder is the semantic similarity capability of a provider.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// TextSimilarity scores two canonical texts in [0,1].
type TextSimilarity func(a, b string) float64

// Config configures a Detector.
type Config struct {
	DupCosine float64
	DupLev    float64
	// Timeout bounds the embedding call; on expiry the lexical path is used.
	// It bounds the lexical pass too, which then fails instead of guessing.
	Timeout time.Duration
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{
		DupCosine: DefaultDupCosine,
		DupLev:    DefaultDupLev,
		Timeout:   8 * time.Second,
	}
}

// Result is the outcome of a duplicate check.
type Result struct {
	Duplicate bool
	// Score is the best similarity found by Method.
	Score   float64
	MatchID string
	Method  string
	// Fallback is set when an embedder was configured but could not be used.
	Fallback bool
}

// Detector runs duplicate checks. It is safe for concurrent use.
type Detector struct {
	config   Config
	embedder Embedder
	lexical  TextSimilarity
	now      func() time.Time
}

// Option customizes a Detector.
type Option func(*Detector)

// WithTextSimilarity replaces the lexical fallback scorer.
func WithTextSimilarity(fn TextSimilarity) Option {
	return func(d *Detector) { d.lexical = fn }
}

// WithClock overrides the clock used to skip expired items.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// NewDetector creates a Detector. embedder may be nil, in which case every
// check takes the lexical path without reporting a fallback.
func NewDetector(config Config, embedder Embedder, opts ...Option) *Detector {
	defaults := DefaultConfig()
	if config.DupCosine <= 0 {
		config.DupCosine = defaults.DupCosine
	}
	if config.DupLev <= 0 {
		config.DupLev = defaults.DupLev
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	d := &Detector{
		config:   config,
		embedder: embedder,
		lexical:  LevenshteinRatio,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Check compares candidate against every non-expired item in existing.
// It fails only when the lexical pass runs out of time or ctx is done.
func (d *Detector) Check(ctx context.Context, candidate string, existing []*store.MemoryItem) (Result, error) {
	now := d.now()
	live := make([]*store.MemoryItem, 0, len(existing))
	for _, item := range existing {
		if !item.IsExpired(now) {
			live = append(live, item)
		}
	}

	canon := Normalize(candidate)
	if len(live) == 0 {
		return Result{Method: d.primaryMethod()}, nil
	}

	if d.embedder != nil {
		res, err := d.semantic(ctx, canon, live)
		if err == nil {
			return res, nil
		}
		slog.Warn("semantic dedup unavailable, using levenshtein", "error", filter.Redact(err.Error()))
	}

	res, err := d.lexicalCheck(ctx, canon, live)
	if err != nil {
		return Result{}, err
	}
	res.Fallback = d.embedder != nil
	return res, nil
}

func (d *Detector) primaryMethod() string {
	if d.embedder != nil {
		return MethodSemantic
	}
	return MethodLevenshtein
}

func (d *Detector) semantic(ctx context.Context, canon string, live []*store.MemoryItem) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	texts := make([]string, 0, len(live)+1)
	texts = append(texts, canon)
	for _, item := range live {
		texts = append(texts, Normalize(item.Text))
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		batch, err := d.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return Result{}, err
		}
		vectors = append(vectors, batch...)
	}
	if len(vectors) != len(texts) {
		return Result{}, errors.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	res := Result{Method: MethodSemantic}
	for i, item := range live {
		score := CosineSimilarity(vectors[0], vectors[i+1])
		if score > res.Score || res.MatchID == "" {
			res.Score, res.MatchID = score, item.ID
		}
	}
	res.Duplicate = res.Score >= d.config.DupCosine
	return res, nil
}

func (d *Detector) lexicalCheck(ctx context.Context, canon string, live []*store.MemoryItem) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	res := Result{Method: MethodLevenshtein}
	for _, item := range live {
		if err := ctx.Err(); err != nil {
			return Result{}, errors.Wrap(err, "lexical duplicate check interrupted")
		}
		score := d.lexical(canon, Normalize(item.Text))
		if score > res.Score || res.MatchID == "" {
			res.Score, res.MatchID = score, item.ID
		}
	}
	res.Duplicate = res.Score >= d.config.DupLev
	return res, nil
}
