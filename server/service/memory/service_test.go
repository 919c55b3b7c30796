package memory

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/memory/dedup"
	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/memory/relevance"
	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/errcode"
	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/profile"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store/cache"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store/db/file"
)

// env assembles a Service over a file store in dir.
type env struct {
	dir      string
	detector *dedup.Detector
	gate     *relevance.Gate
	config   Config
	opts     []Option
	wrap     func(*store.Store) cache.Persister
}

func newEnv(t *testing.T) *env {
	return &env{
		dir:      t.TempDir(),
		detector: dedup.NewDetector(dedup.DefaultConfig(), nil),
		gate:     relevance.NewGate(relevance.DefaultConfig()),
	}
}

func (e *env) build(t *testing.T) *Service {
	t.Helper()
	p := &profile.Profile{Data: e.dir}
	driver, err := file.NewDB(p)
	require.NoError(t, err)
	st, err := store.New(driver, p)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))

	var persister cache.Persister = st
	if e.wrap != nil {
		persister = e.wrap(st)
	}
	mgr := cache.NewManager(persister, cache.DefaultConfig())
	return NewService(e.config, mgr, st, e.detector, e.gate, e.opts...)
}

type downEmbedder struct{}

func (downEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("503 service unavailable")
}

type recordingEmbedder struct {
	mu    sync.Mutex
	inner *relevance.LocalEmbedder
	texts []string
}

func (r *recordingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	r.mu.Lock()
	r.texts = append(r.texts, texts...)
	r.mu.Unlock()
	return r.inner.EmbedBatch(ctx, texts)
}

type fixedScorer struct{ score float64 }

func (s fixedScorer) Score(context.Context, string, []*store.MemoryItem) (float64, error) {
	return s.score, nil
}

type stubJudge struct {
	mu      sync.Mutex
	calls   int
	err     error
	rewrite map[string]string
}

func (j *stubJudge) Judge(_ context.Context, req relevance.JudgeRequest) (*relevance.Verdict, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls++
	if j.err != nil {
		return nil, j.err
	}
	return &relevance.Verdict{Keep: true, Fact: j.rewrite[req.Candidate], Score: 0.8}, nil
}

type failingPersister struct {
	*store.Store
	fail atomic.Bool
}

func (p *failingPersister) SaveUserMemories(ctx context.Context, userID string, items []*store.MemoryItem) error {
	if p.fail.Load() {
		return errors.New("disk full")
	}
	return p.Store.SaveUserMemories(ctx, userID, items)
}

type metricsRecorder struct {
	mu        sync.Mutex
	outcomes  []string
	fallbacks []string
}

func (m *metricsRecorder) RecordOutcome(accepted bool, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if accepted {
		reason = "accepted"
	}
	m.outcomes = append(m.outcomes, reason)
}

func (m *metricsRecorder) RecordFallback(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks = append(m.fallbacks, stage)
}

func add(t *testing.T, s *Service, userID, text string) Outcome {
	t.Helper()
	out, err := s.AddMemory(context.Background(), &AddRequest{UserID: userID, Text: text})
	require.NoError(t, err)
	return out
}

func get(t *testing.T, s *Service, userID string) []*store.MemoryItem {
	t.Helper()
	items, err := s.GetMemories(context.Background(), &store.FindMemoryItem{UserID: userID})
	require.NoError(t, err)
	return items
}

func TestAddMemory_SushiScenario(t *testing.T) {
	e := newEnv(t)
	// Primary embedder down; the fallback scorer rates every pair at 0.95.
	e.detector = dedup.NewDetector(dedup.DefaultConfig(), downEmbedder{},
		dedup.WithTextSimilarity(func(string, string) float64 { return 0.95 }))
	rec := &metricsRecorder{}
	e.opts = append(e.opts, WithMetrics(rec))
	s := e.build(t)

	first := add(t, s, "u1", "I really love sushi")
	require.True(t, first.Accepted)

	second := add(t, s, "u1", "sushi is my favorite food")
	assert.False(t, second.Accepted)
	assert.Equal(t, ReasonDuplicate, second.Reason)
	assert.True(t, second.Fallback)
	assert.Equal(t, DedupFallbackNotice, second.Notice)

	items := get(t, s, "u1")
	require.Len(t, items, 1)
	assert.Equal(t, first.ID, items[0].ID)
	assert.Equal(t, "I really love sushi", items[0].Text)
	assert.Equal(t, store.BankGeneral, items[0].Bank)

	assert.Equal(t, []string{"accepted", "duplicate"}, rec.outcomes)
	assert.Equal(t, []string{StageDedup}, rec.fallbacks)
}

func TestAddMemory_DedupIsIdempotent(t *testing.T) {
	s := newEnv(t).build(t)

	require.True(t, add(t, s, "u1", "I really love sushi").Accepted)
	for _, again := range []string{"I really love sushi", "  i really LOVE sushi!  ", "I really loved sushi"} {
		out := add(t, s, "u1", again)
		assert.Equal(t, ReasonDuplicate, out.Reason, again)
		assert.False(t, out.Fallback, "no primary embedder is not a fallback")
	}
	assert.Len(t, get(t, s, "u1"), 1)
}

func TestAddMemory_ConcurrentDuplicatesStoreOnce(t *testing.T) {
	s := newEnv(t).build(t)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.AddMemory(context.Background(), &AddRequest{UserID: "u1", Text: "I really love sushi"})
			if err == nil && out.Accepted {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted.Load())
	assert.Len(t, get(t, s, "u1"), 1)
}

func TestAddMemory_PerUserIsolation(t *testing.T) {
	s := newEnv(t).build(t)

	require.True(t, add(t, s, "alice", "I really love sushi").Accepted)
	assert.Empty(t, get(t, s, "bob"))
	require.True(t, add(t, s, "bob", "I really love sushi").Accepted, "dedup is per user")
	assert.Len(t, get(t, s, "alice"), 1)
}

func TestAddMemory_ColdStartUnderFallback(t *testing.T) {
	e := newEnv(t)
	e.gate = relevance.NewGate(relevance.DefaultConfig(), relevance.WithJudge(&stubJudge{err: errors.New("timeout")}))
	s := e.build(t)

	out := add(t, s, "new-user", "My cat is called Mochi")
	assert.True(t, out.Accepted)
	assert.True(t, out.Fallback)
	assert.Equal(t, relevance.FallbackNotice, out.Notice)
}

func TestAddMemory_RelevanceThresholdBoundary(t *testing.T) {
	cfg := relevance.DefaultConfig()
	cfg.MinRelevance = 0.45

	e := newEnv(t)
	e.gate = relevance.NewGate(cfg, relevance.WithScorer(fixedScorer{score: 0.45}))
	s := e.build(t)
	require.True(t, add(t, s, "u1", "I really love sushi").Accepted)
	assert.True(t, add(t, s, "u1", "My cat is called Mochi").Accepted)

	e = newEnv(t)
	e.gate = relevance.NewGate(cfg, relevance.WithScorer(fixedScorer{score: math.Nextafter(0.45, 0)}))
	s = e.build(t)
	require.True(t, add(t, s, "u1", "I really love sushi").Accepted)
	out := add(t, s, "u1", "My cat is called Mochi")
	assert.False(t, out.Accepted)
	assert.Equal(t, ReasonLowRelevance, out.Reason)
}

func TestAddMemory_Filtered(t *testing.T) {
	s := newEnv(t).build(t)
	out := add(t, s, "u1", "ok thanks")
	assert.Equal(t, ReasonFiltered, out.Reason)
	assert.Empty(t, get(t, s, "u1"))
}

func TestAddMemory_RewrittenFactIsCheckedAgain(t *testing.T) {
	e := newEnv(t)
	judge := &stubJudge{rewrite: map[string]string{
		"I ate pizza yesterday":    "User likes pizza",
		"Pizza was my lunch today": "User likes pizza",
	}}
	e.gate = relevance.NewGate(relevance.DefaultConfig(), relevance.WithJudge(judge))
	s := e.build(t)

	first := add(t, s, "u1", "I ate pizza yesterday")
	require.True(t, first.Accepted)
	assert.Equal(t, "User likes pizza", first.Text)

	second := add(t, s, "u1", "Pizza was my lunch today")
	assert.Equal(t, ReasonDuplicate, second.Reason)

	items := get(t, s, "u1")
	require.Len(t, items, 1)
	assert.Equal(t, "User likes pizza", items[0].Text)
	assert.Equal(t, 0.8, items[0].Score)
}

func TestAddMemory_WriteThroughSurvivesRestart(t *testing.T) {
	e := newEnv(t)
	s := e.build(t)
	out, err := s.AddMemory(context.Background(), &AddRequest{
		UserID: "u1",
		Text:   "I really love sushi",
		Bank:   "personal",
		Meta:   map[string]string{"source": "voice"},
	})
	require.NoError(t, err)
	require.True(t, out.Accepted)

	restarted := e.build(t)
	items := get(t, restarted, "u1")
	require.Len(t, items, 1)
	assert.Equal(t, out.ID, items[0].ID)
	assert.Equal(t, store.BankPersonal, items[0].Bank)
	assert.Equal(t, "voice", items[0].Meta["source"])
}

func TestDeleteUserMemories_HotAndCold(t *testing.T) {
	e := newEnv(t)
	s := e.build(t)
	require.True(t, add(t, s, "hot", "I really love sushi").Accepted)
	require.True(t, add(t, s, "cold", "I really love sushi").Accepted)

	n, err := s.DeleteUserMemories(context.Background(), "hot")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, get(t, s, "hot"))

	restarted := e.build(t)
	n, err = restarted.DeleteUserMemories(context.Background(), "cold")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, get(t, restarted, "cold"))
	assert.Empty(t, get(t, e.build(t), "cold"))
}

func TestAddMemory_StorageErrors(t *testing.T) {
	e := newEnv(t)
	var fp *failingPersister
	e.wrap = func(st *store.Store) cache.Persister {
		fp = &failingPersister{Store: st}
		return fp
	}
	s := e.build(t)
	fp.fail.Store(true)

	_, err := s.AddMemory(context.Background(), &AddRequest{UserID: "u1", Text: "I really love sushi"})
	require.Error(t, err)
	assert.True(t, errcode.IsCode(err, errcode.CodeStorage))
	assert.Empty(t, get(t, s, "u1"), "no partial write")

	outcomes, err := s.AddMemories(context.Background(), "u1", []string{"I really love sushi", "ok"}, "")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, ReasonStorageError, outcomes[0].Reason)
	assert.Equal(t, ReasonFiltered, outcomes[1].Reason)
}

func TestAddMemories_EvaluatesInOrder(t *testing.T) {
	e := newEnv(t)
	e.gate = relevance.NewGate(relevance.DefaultConfig(), relevance.WithScorer(fixedScorer{score: 1}))
	s := e.build(t)

	outcomes, err := s.AddMemories(context.Background(), "u1", []string{
		"I really love sushi",
		"I really love sushi!",
		"hi",
		"My cat is called Mochi",
	}, "Work")
	require.NoError(t, err)
	require.Len(t, outcomes, 4)
	assert.True(t, outcomes[0].Accepted)
	assert.Equal(t, ReasonDuplicate, outcomes[1].Reason)
	assert.Equal(t, ReasonFiltered, outcomes[2].Reason)
	assert.True(t, outcomes[3].Accepted)
	assert.Equal(t, store.BankWork, outcomes[3].Bank)
}

func TestAddMemory_TrimsToCap(t *testing.T) {
	e := newEnv(t)
	e.config.MaxItems = 2
	e.gate = relevance.NewGate(relevance.DefaultConfig(), relevance.WithScorer(fixedScorer{score: 1}))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	e.opts = append(e.opts, WithClock(func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	}))
	s := e.build(t)

	require.True(t, add(t, s, "u1", "I really love sushi").Accepted)
	require.True(t, add(t, s, "u1", "My cat is called Mochi").Accepted)
	require.True(t, add(t, s, "u1", "I work as a nurse in Hamburg").Accepted)

	items, err := s.cache.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	texts := []string{items[0].Text, items[1].Text}
	assert.NotContains(t, texts, "I really love sushi")
}

func TestStatsAndPrune(t *testing.T) {
	e := newEnv(t)
	s := e.build(t)
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	seed := []*store.MemoryItem{
		{ID: "expired", UserID: "u1", Text: "old news", Bank: store.BankGeneral, CreatedAt: now.Add(-3 * time.Hour), ExpiresAt: &past},
		{ID: "a", UserID: "u1", Text: "fact a", Bank: store.BankGeneral, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "b", UserID: "u1", Text: "fact b", Bank: store.BankWork, CreatedAt: now.Add(-time.Hour)},
		{ID: "c", UserID: "u1", Text: "fact c", Bank: store.BankWork, CreatedAt: now},
	}
	require.NoError(t, s.cache.Update(ctx, "u1", func([]*store.MemoryItem) ([]*store.MemoryItem, bool, error) {
		return seed, true, nil
	}))

	stats, err := s.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 5000, stats.MaxRAM)
	assert.Equal(t, 1, stats.Banks[store.BankGeneral])
	assert.Equal(t, 2, stats.Banks[store.BankWork])
	assert.Equal(t, 0, stats.Banks[store.BankSecrets])
	assert.True(t, strings.HasSuffix(stats.File, "u1_memory.json"), stats.File)
	assert.True(t, stats.Cached)

	stats, err = s.Stats(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, stats.Cached, "a cold user is loaded by the call")
	assert.Zero(t, stats.Total)

	res, err := s.Prune(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, &PruneResult{Pruned: 2, Left: 2}, res)

	items := get(t, s, "u1")
	require.Len(t, items, 2)
	assert.ElementsMatch(t, []string{"b", "c"}, []string{items[0].ID, items[1].ID})

	res, err = s.Prune(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, &PruneResult{Pruned: 2, Left: 0}, res)

	_, err = s.Prune(ctx, "u1", -1)
	assert.True(t, errcode.IsCode(err, errcode.CodeInvalidArgument))
}

func TestSecretsStayLocal(t *testing.T) {
	e := newEnv(t)
	emb := &recordingEmbedder{inner: relevance.NewLocalEmbedder()}
	judge := &stubJudge{}
	e.detector = dedup.NewDetector(dedup.DefaultConfig(), emb)
	e.gate = relevance.NewGate(relevance.DefaultConfig(), relevance.WithJudge(judge), relevance.WithScorer(fixedScorer{score: 1}))
	s := e.build(t)
	ctx := context.Background()

	require.True(t, add(t, s, "u1", "I really love sushi").Accepted)
	assert.Equal(t, 1, judge.calls)

	out, err := s.AddMemory(ctx, &AddRequest{UserID: "u1", Text: "my pin code is 4711", Bank: "Secrets"})
	require.NoError(t, err)
	require.True(t, out.Accepted)
	assert.Equal(t, 1, judge.calls, "secrets never reach the judge")

	require.True(t, add(t, s, "u1", "My cat is called Mochi").Accepted)
	assert.NotEmpty(t, emb.texts)
	for _, text := range emb.texts {
		assert.NotContains(t, text, "pin code")
	}

	dup, err := s.AddMemory(ctx, &AddRequest{UserID: "u1", Text: "My pin code is 4711!", Bank: "Secrets"})
	require.NoError(t, err)
	assert.Equal(t, ReasonDuplicate, dup.Reason)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "4711")
}

type stubExtractor struct {
	facts []relevance.Fact
	err   error
}

func (x stubExtractor) Extract(context.Context, string) ([]relevance.Fact, error) {
	return x.facts, x.err
}

func TestExtractMemories(t *testing.T) {
	e := newEnv(t)
	e.opts = append(e.opts, WithExtractor(stubExtractor{facts: []relevance.Fact{
		{Content: "User likes sushi", Bank: "General", Tags: []string{"preference"}},
		{Content: "ok"},
	}}))
	s := e.build(t)

	res, err := s.ExtractMemories(context.Background(), "u1", "ok, I love sushi")
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	require.Len(t, res.Results, 2)
	assert.True(t, res.Results[0].Accepted)
	assert.Equal(t, ReasonFiltered, res.Results[1].Reason)
	assert.Equal(t, "ok", res.Results[1].Text)

	items := get(t, s, "u1")
	require.Len(t, items, 1)
	assert.Equal(t, []string{"preference"}, items[0].Tags)
	assert.Equal(t, "extraction", items[0].Meta["source"])
}

func TestExtractMemories_Fallback(t *testing.T) {
	e := newEnv(t)
	rec := &metricsRecorder{}
	e.opts = append(e.opts, WithExtractor(stubExtractor{err: errors.New("502")}), WithMetrics(rec))
	s := e.build(t)

	res, err := s.ExtractMemories(context.Background(), "u1", "I really love sushi")
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, ExtractFallbackNotice, res.Notice)
	require.Len(t, res.Results, 1)
	assert.True(t, res.Results[0].Accepted)
	assert.Equal(t, "I really love sushi", res.Results[0].Text)
	assert.Equal(t, []string{StageExtraction}, rec.fallbacks)
}

func TestValidation(t *testing.T) {
	s := newEnv(t).build(t)
	ctx := context.Background()

	for _, req := range []*AddRequest{
		{UserID: "", Text: "I really love sushi"},
		{UserID: "../etc", Text: "I really love sushi"},
		{UserID: "u1", Text: "   "},
		{UserID: "u1", Text: "I really love sushi", Bank: "Nope"},
	} {
		_, err := s.AddMemory(ctx, req)
		assert.True(t, errcode.IsCode(err, errcode.CodeInvalidArgument), "%+v", req)
	}

	_, err := s.AddMemories(ctx, "u1", nil, "")
	assert.True(t, errcode.IsCode(err, errcode.CodeInvalidArgument))
	_, err = s.GetMemories(ctx, &store.FindMemoryItem{UserID: "u1", Limit: -1})
	assert.True(t, errcode.IsCode(err, errcode.CodeInvalidArgument))
	_, err = s.ExtractMemories(ctx, "u1", "")
	assert.True(t, errcode.IsCode(err, errcode.CodeInvalidArgument))
}

func TestTextLengthCap(t *testing.T) {
	e := newEnv(t)
	e.config.MaxTextChars = 20
	s := e.build(t)
	ctx := context.Background()

	_, err := s.AddMemory(ctx, &AddRequest{UserID: "u1", Text: strings.Repeat("ü", 20)})
	assert.False(t, errcode.IsCode(err, errcode.CodeInvalidArgument), "the cap counts runes")

	_, err = s.AddMemory(ctx, &AddRequest{UserID: "u1", Text: strings.Repeat("a", 21)})
	assert.True(t, errcode.IsCode(err, errcode.CodeInvalidArgument))

	_, err = s.AddMemories(ctx, "u2", []string{"I really love sushi", strings.Repeat("a", 21)}, "")
	assert.True(t, errcode.IsCode(err, errcode.CodeInvalidArgument))
	assert.Empty(t, get(t, s, "u2"), "an oversized item rejects the whole batch")

	_, err = s.ExtractMemories(ctx, "u2", strings.Repeat("a", 21))
	assert.True(t, errcode.IsCode(err, errcode.CodeInvalidArgument))
}

func TestAddMemory_SlowDuplicateCheckTimesOut(t *testing.T) {
	var slow atomic.Bool
	similarity := func(a, b string) float64 {
		if slow.Load() {
			time.Sleep(40 * time.Millisecond)
		}
		return dedup.LevenshteinRatio(a, b)
	}
	e := newEnv(t)
	e.detector = dedup.NewDetector(dedup.Config{Timeout: 10 * time.Millisecond}, nil, dedup.WithTextSimilarity(similarity))
	s := e.build(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.store.SaveUserMemories(ctx, "u1", []*store.MemoryItem{
		{ID: store.NewMemoryID(), UserID: "u1", Text: "I really love sushi", Bank: store.BankGeneral, CreatedAt: now, LastAccessedAt: now},
		{ID: store.NewMemoryID(), UserID: "u1", Text: "My cat is called Mochi", Bank: store.BankGeneral, CreatedAt: now, LastAccessedAt: now},
		{ID: store.NewMemoryID(), UserID: "u1", Text: "I work as a nurse", Bank: store.BankGeneral, CreatedAt: now, LastAccessedAt: now},
	}))

	slow.Store(true)
	_, err := s.AddMemory(ctx, &AddRequest{UserID: "u1", Text: "I am learning to play the piano"})
	assert.True(t, errcode.IsCode(err, errcode.CodeTimeout), "%v", err)

	slow.Store(false)
	_, err = s.AddMemory(ctx, &AddRequest{UserID: "u1", Text: "I am learning to play the piano"})
	require.NoError(t, err, "the user's lock was released")
}

func TestOutcomeJSON(t *testing.T) {
	raw, err := json.Marshal(Accepted(&store.MemoryItem{ID: "mem_1", Text: "I really love sushi", Bank: store.BankGeneral}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"accepted":true,"id":"mem_1","text":"I really love sushi","bank":"General","fallback":false}`, string(raw))

	raw, err = json.Marshal(Rejected(ReasonDuplicate))
	require.NoError(t, err)
	assert.JSONEq(t, `{"accepted":false,"reason":"duplicate"}`, string(raw))

	out := Rejected(ReasonLowRelevance)
	out.Fallback, out.Notice = true, relevance.FallbackNotice
	raw, err = json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"accepted":false,"reason":"low_relevance","fallback":true,"notice":"`+relevance.FallbackNotice+`"}`, string(raw))
}
