// Package relevance decides whether a non-duplicate candidate memory is worth
// keeping. A hosted judge is asked first; when it is missing or unavailable
// the candidate is scored locally against the user's recent history.
package relevance

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/filter"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store"
)

// Rejection reasons reported in Decision.Reason.
const (
	ReasonFiltered     = "filtered"
	ReasonLowRelevance = "low_relevance"
)

// DefaultMinRelevance is the inclusive fallback acceptance threshold.
const DefaultMinRelevance = 0.45

// defaultScore is the importance given to items no provider scored.
const defaultScore = 0.5

// FallbackNotice is returned to callers when the local scorer replaced the judge.
const FallbackNotice = "relevance provider unavailable: local fallback scoring was used"

// StageRelevance labels relevance fallbacks for observers.
const StageRelevance = "relevance"

// FallbackObserver is notified whenever a provider stage falls back.
type FallbackObserver interface {
	RecordFallback(stage string)
}

// Config configures a Gate.
type Config struct {
	MinChars     int
	MinTokens    int
	MinRelevance float64
	// Timeout bounds each judge call.
	Timeout  time.Duration
	Denylist *filter.Denylist
}

// DefaultConfig returns the default gate configuration.
func DefaultConfig() Config {
	return Config{
		MinChars:     DefaultMinChars,
		MinTokens:    DefaultMinTokens,
		MinRelevance: DefaultMinRelevance,
		Timeout:      8 * time.Second,
	}
}

// Candidate is a memory under evaluation.
type Candidate struct {
	Text string
	// Bank is the caller's choice; empty lets the judge pick one.
	Bank store.Bank
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Accepted bool
	Reason   string
	// Rule names the content bar rule for filtered candidates.
	Rule string
	// Text is the text to store, possibly generalized by the judge.
	Text  string
	Bank  store.Bank
	Score float64
	// Fallback is set when a configured judge could not be used.
	Fallback bool
	Notice   string
}

// Rewritten reports whether the judge changed the candidate text.
func (d Decision) Rewritten(original string) bool {
	return d.Accepted && d.Text != original
}

// Gate evaluates candidates. It is safe for concurrent use.
type Gate struct {
	config   Config
	bar      ContentBar
	judge    Judge
	scorer   Scorer
	observer FallbackObserver
	now      func() time.Time
}

// GateOption customizes a Gate.
type GateOption func(*Gate)

// WithJudge installs the primary judge. Without one every candidate takes
// the local path and no fallback is reported.
func WithJudge(j Judge) GateOption {
	return func(g *Gate) { g.judge = j }
}

// WithScorer replaces the local fallback scorer.
func WithScorer(s Scorer) GateOption {
	return func(g *Gate) { g.scorer = s }
}

// WithObserver reports fallbacks to o.
func WithObserver(o FallbackObserver) GateOption {
	return func(g *Gate) { g.observer = o }
}

// WithGateClock overrides the clock used to skip expired history.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a Gate. Negative content bars and a non-positive timeout
// take their defaults; a MinRelevance of zero accepts everything.
func NewGate(config Config, opts ...GateOption) *Gate {
	defaults := DefaultConfig()
	if config.MinChars < 0 {
		config.MinChars = defaults.MinChars
	}
	if config.MinTokens < 0 {
		config.MinTokens = defaults.MinTokens
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	g := &Gate{
		config: config,
		bar: ContentBar{
			MinChars:  config.MinChars,
			MinTokens: config.MinTokens,
			Denylist:  config.Denylist,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.scorer == nil {
		g.scorer = NewEmbeddingScorer(NewLocalEmbedder(), DefaultTopK)
	}
	return g
}

// Screen applies only the content bar. It returns a rejection, or nil when
// text clears the bar.
func (g *Gate) Screen(text string) *Decision {
	rule, ok := g.bar.Check(text)
	if ok {
		return nil
	}
	return &Decision{Reason: ReasonFiltered, Rule: rule}
}

// Evaluate runs the content bar, then the judge, then the local fallback.
// An error is returned only when the fallback itself fails.
//
// Secrets candidates never reach the judge, and Secrets history is never
// sent to it.
func (g *Gate) Evaluate(ctx context.Context, c Candidate, history []*store.MemoryItem) (Decision, error) {
	if d := g.Screen(c.Text); d != nil {
		return *d, nil
	}

	now := g.now()
	live := make([]*store.MemoryItem, 0, len(history))
	for _, item := range history {
		if !item.IsExpired(now) {
			live = append(live, item)
		}
	}

	fallback := false
	if g.judge != nil && c.Bank != store.BankSecrets {
		d, err := g.askJudge(ctx, c, live)
		if err == nil {
			return d, nil
		}
		slog.Warn("relevance judge unavailable, using local scorer", "error", filter.Redact(err.Error()))
		fallback = true
		if g.observer != nil {
			g.observer.RecordFallback(StageRelevance)
		}
	}

	d, err := g.scoreLocally(ctx, c, live)
	if err != nil {
		return Decision{}, err
	}
	if fallback {
		d.Fallback = true
		d.Notice = FallbackNotice
	}
	return d, nil
}

func (g *Gate) askJudge(ctx context.Context, c Candidate, live []*store.MemoryItem) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	req := JudgeRequest{Candidate: c.Text}
	for _, item := range mostRecent(live, maxPromptHistory) {
		if item.Bank != store.BankSecrets {
			req.History = append(req.History, item.Text)
		}
	}
	v, err := g.judge.Judge(ctx, req)
	if err != nil {
		return Decision{}, err
	}
	if v == nil {
		return Decision{}, errors.New("judge returned no verdict")
	}

	if !v.Keep {
		return Decision{Reason: ReasonLowRelevance, Score: v.Score}, nil
	}
	d := Decision{
		Accepted: true,
		Text:     c.Text,
		Bank:     c.Bank,
		Score:    v.Score,
	}
	if v.Fact != "" && v.Fact != c.Text {
		if rejected := g.Screen(v.Fact); rejected != nil {
			return *rejected, nil
		}
		d.Text = v.Fact
	}
	if d.Bank == "" {
		bank, err := store.ParseBank(v.Bank)
		if err != nil {
			bank = store.BankGeneral
		}
		d.Bank = bank
	}
	if d.Score == 0 {
		d.Score = defaultScore
	}
	return d, nil
}

func (g *Gate) scoreLocally(ctx context.Context, c Candidate, live []*store.MemoryItem) (Decision, error) {
	bank := c.Bank
	if bank == "" {
		bank = store.BankGeneral
	}
	if len(live) == 0 {
		return Decision{Accepted: true, Text: c.Text, Bank: bank, Score: defaultScore}, nil
	}

	score, err := g.scorer.Score(ctx, c.Text, live)
	if err != nil {
		return Decision{}, errors.Wrap(err, "local relevance scoring")
	}
	if score >= g.config.MinRelevance {
		return Decision{Accepted: true, Text: c.Text, Bank: bank, Score: score}, nil
	}
	return Decision{Reason: ReasonLowRelevance, Score: score}, nil
}
