// Package memory is the ingestion pipeline and the read, delete, prune and
// stats operations of the memory service.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/memory/dedup"
	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/memory/relevance"
	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/observability/logging"
	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/errcode"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store/cache"
)

// Fallback stages reported to Metrics.
const (
	StageDedup      = "dedup"
	StageExtraction = "extraction"
)

// DedupFallbackNotice is returned when the duplicate check used text similarity.
const DedupFallbackNotice = "semantic provider unavailable: duplicate check used text similarity"

// ExtractFallbackNotice is returned when the whole message became one candidate.
const ExtractFallbackNotice = "extraction provider unavailable: the whole message was evaluated"

// Metrics receives pipeline events.
type Metrics interface {
	RecordOutcome(accepted bool, reason string)
	RecordFallback(stage string)
}

// Config holds the pipeline settings.
type Config struct {
	// MaxItems caps a user's set; the oldest items are trimmed on write.
	MaxItems int
	// ExtractTimeout bounds each extraction call.
	ExtractTimeout time.Duration
	// MaxTextChars caps candidate texts and extraction messages, in runes.
	MaxTextChars int
}

// DefaultMaxTextChars is used when Config.MaxTextChars is not positive.
const DefaultMaxTextChars = 2000

// Service runs the memory operations on top of the cache manager.
type Service struct {
	config    Config
	cache     *cache.Manager
	store     *store.Store
	dedup     *dedup.Detector
	local     *dedup.Detector
	gate      *relevance.Gate
	extractor relevance.Extractor
	metrics   Metrics
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithExtractor installs the hosted extractor used by ExtractMemories.
func WithExtractor(x relevance.Extractor) Option {
	return func(s *Service) { s.extractor = x }
}

// WithMetrics reports outcomes and fallbacks to m.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLocalDetector replaces the detector used for Secrets, which must never
// reach a hosted provider.
func WithLocalDetector(d *dedup.Detector) Option {
	return func(s *Service) { s.local = d }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(config Config, cacheManager *cache.Manager, st *store.Store, detector *dedup.Detector, gate *relevance.Gate, opts ...Option) *Service {
	if config.MaxItems <= 0 {
		config.MaxItems = 5000
	}
	if config.ExtractTimeout <= 0 {
		config.ExtractTimeout = 8 * time.Second
	}
	if config.MaxTextChars <= 0 {
		config.MaxTextChars = DefaultMaxTextChars
	}
	s := &Service{
		config: config,
		cache:  cacheManager,
		store:  st,
		dedup:  detector,
		gate:   gate,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.local == nil {
		s.local = dedup.NewDetector(dedup.DefaultConfig(), nil)
	}
	return s
}

// AddRequest is a single candidate memory.
type AddRequest struct {
	UserID    string
	Text      string
	Bank      string
	Meta      map[string]string
	Tags      []string
	ExpiresAt *time.Time
}

// AddMemory runs one candidate through dedup and relevance and stores it
// when accepted. Soft rejections come back as outcomes; only validation,
// storage and total provider failures are errors.
func (s *Service) AddMemory(ctx context.Context, req *AddRequest) (Outcome, error) {
	bank, err := s.validateAdd(req)
	if err != nil {
		return Outcome{}, err
	}
	out, err := s.add(ctx, req, bank)
	if err != nil {
		return Outcome{}, err
	}
	s.record(out)
	return out, nil
}

// AddMemories evaluates texts independently and in order. A storage failure
// becomes a storage_error outcome for that item.
func (s *Service) AddMemories(ctx context.Context, userID string, texts []string, bank string) ([]Outcome, error) {
	if err := store.ValidateUserID(userID); err != nil {
		return nil, errcode.InvalidArgument("%v", err)
	}
	if len(texts) == 0 {
		return nil, errcode.InvalidArgument("items must not be empty")
	}
	b, err := store.ParseBank(bank)
	if err != nil {
		return nil, errcode.InvalidArgument("%v", err)
	}
	for i, text := range texts {
		if err := s.checkLength("items[%d]", i, text); err != nil {
			return nil, err
		}
	}

	outcomes := make([]Outcome, 0, len(texts))
	for _, text := range texts {
		out, err := s.add(ctx, &AddRequest{UserID: userID, Text: text}, requestedBank(bank, b))
		if errcode.IsCode(err, errcode.CodeStorage) {
			out = Rejected(ReasonStorageError)
		} else if err != nil {
			return nil, err
		}
		s.record(out)
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// ExtractResult is the response of ExtractMemories.
type ExtractResult struct {
	Fallback bool      `json:"fallback"`
	Notice   string    `json:"notice,omitempty"`
	Results  []Outcome `json:"results"`
}

// ExtractMemories asks the extractor for the facts in message and offers each
// of them like AddMemory. Without a usable extractor the whole message is one
// candidate.
func (s *Service) ExtractMemories(ctx context.Context, userID, message string) (*ExtractResult, error) {
	if err := store.ValidateUserID(userID); err != nil {
		return nil, errcode.InvalidArgument("%v", err)
	}
	if strings.TrimSpace(message) == "" {
		return nil, errcode.InvalidArgument("message must not be empty")
	}
	if err := s.checkLength("message", -1, message); err != nil {
		return nil, err
	}

	facts, fallback := relevance.ExtractFacts(ctx, s.extractor, message, s.config.ExtractTimeout)
	result := &ExtractResult{Fallback: fallback, Results: make([]Outcome, 0, len(facts))}
	if fallback {
		result.Notice = ExtractFallbackNotice
		s.fallback(StageExtraction)
	}

	for _, fact := range facts {
		// The extractor never assigns Secrets; unknown banks are left to the judge.
		bank, err := store.ParseBank(fact.Bank)
		if err != nil || fact.Bank == "" || bank == store.BankSecrets {
			bank = ""
		}
		req := &AddRequest{UserID: userID, Text: fact.Content, Tags: fact.Tags, Meta: map[string]string{"source": "extraction"}}
		out, err := s.add(ctx, req, bank)
		if errcode.IsCode(err, errcode.CodeStorage) {
			out = Rejected(ReasonStorageError)
		} else if err != nil {
			return nil, err
		}
		if !out.Accepted {
			out.Text = fact.Content
		}
		s.record(out)
		result.Results = append(result.Results, out)
	}
	return result, nil
}

func (s *Service) validateAdd(req *AddRequest) (store.Bank, error) {
	if err := store.ValidateUserID(req.UserID); err != nil {
		return "", errcode.InvalidArgument("%v", err)
	}
	if strings.TrimSpace(req.Text) == "" {
		return "", errcode.InvalidArgument("text must not be empty")
	}
	if err := s.checkLength("text", -1, req.Text); err != nil {
		return "", err
	}
	bank, err := store.ParseBank(req.Bank)
	if err != nil {
		return "", errcode.InvalidArgument("%v", err)
	}
	return requestedBank(req.Bank, bank), nil
}

// checkLength rejects text longer than MaxTextChars. index is -1 for
// fields that are not list elements.
func (s *Service) checkLength(field string, index int, text string) error {
	if utf8.RuneCountInString(text) <= s.config.MaxTextChars {
		return nil
	}
	if index >= 0 {
		field = fmt.Sprintf(field, index)
	}
	return errcode.InvalidArgument("%s exceeds %d characters", field, s.config.MaxTextChars)
}

// requestedBank keeps an unspecified bank empty so the judge may choose one.
func requestedBank(raw string, parsed store.Bank) store.Bank {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	return parsed
}

// add is the pipeline shared by every ingestion operation. bank may be empty.
func (s *Service) add(ctx context.Context, req *AddRequest, bank store.Bank) (Outcome, error) {
	text := strings.TrimSpace(req.Text)
	if d := s.gate.Screen(text); d != nil {
		return Rejected(ReasonFiltered), nil
	}

	log := logging.FromContext(ctx).WithField(logging.KeyUserID, req.UserID)
	var out Outcome
	err := s.cache.Update(ctx, req.UserID, func(items []*store.MemoryItem) ([]*store.MemoryItem, bool, error) {
		now := s.now().UTC()
		live := liveItems(items, now)

		dup, dupFallback, err := s.isDuplicate(ctx, text, bank, live)
		if err != nil {
			return nil, false, err
		}
		notice := ""
		if dupFallback {
			notice = DedupFallbackNotice
		}
		if dup {
			out = Rejected(ReasonDuplicate)
			out.Fallback, out.Notice = dupFallback, notice
			return nil, false, nil
		}

		decision, err := s.gate.Evaluate(ctx, relevance.Candidate{Text: text, Bank: bank}, live)
		if err != nil {
			return nil, false, errcode.ProviderUnavailable("relevance", err)
		}
		fallback := dupFallback || decision.Fallback
		if decision.Notice != "" {
			notice = decision.Notice
		}
		if !decision.Accepted {
			out = Rejected(Reason(decision.Reason))
			out.Fallback, out.Notice = fallback, notice
			return nil, false, nil
		}

		if decision.Rewritten(text) {
			again, againFallback, err := s.isDuplicate(ctx, decision.Text, decision.Bank, live)
			if err != nil {
				return nil, false, err
			}
			fallback = fallback || againFallback
			if again {
				out = Rejected(ReasonDuplicate)
				out.Fallback, out.Notice = fallback, notice
				return nil, false, nil
			}
		}

		item := &store.MemoryItem{
			ID:             store.NewMemoryID(),
			UserID:         req.UserID,
			Text:           decision.Text,
			Bank:           decision.Bank,
			CreatedAt:      now,
			LastAccessedAt: now,
			Score:          decision.Score,
			ExpiresAt:      req.ExpiresAt,
			Meta:           req.Meta,
			Tags:           req.Tags,
		}
		next := trimOldest(append(live, item), s.config.MaxItems)
		out = Accepted(item)
		out.Fallback, out.Notice = fallback, notice
		return next, true, nil
	})
	if err != nil {
		if errcode.IsCode(err, errcode.CodeProviderUnavailable) || errcode.IsCode(err, errcode.CodeTimeout) {
			return Outcome{}, err
		}
		log.Error("failed to store memory", "error", err)
		return Outcome{}, errcode.Storage("failed to store memory", err)
	}

	if out.Accepted {
		log.Info("memory stored", "id", out.ID, "bank", out.Bank, "fallback", out.Fallback)
	} else {
		log.Debug("memory rejected", "reason", out.Reason, "fallback", out.Fallback)
	}
	return out, nil
}

// isDuplicate checks text against live items. Secrets are only compared
// locally; everything else goes through the primary detector.
func (s *Service) isDuplicate(ctx context.Context, text string, bank store.Bank, live []*store.MemoryItem) (dup, fallback bool, err error) {
	var public, secret []*store.MemoryItem
	for _, item := range live {
		if item.Bank == store.BankSecrets || bank == store.BankSecrets {
			secret = append(secret, item)
		} else {
			public = append(public, item)
		}
	}

	if len(public) > 0 {
		res, err := s.dedup.Check(ctx, text, public)
		if err != nil {
			return false, false, errcode.Timeout("duplicate check did not finish", err)
		}
		if res.Fallback {
			fallback = true
			s.fallback(StageDedup)
		}
		if res.Duplicate {
			return true, fallback, nil
		}
	}
	if len(secret) > 0 {
		res, err := s.local.Check(ctx, text, secret)
		if err != nil {
			return false, false, errcode.Timeout("duplicate check did not finish", err)
		}
		if res.Duplicate {
			return true, fallback, nil
		}
	}
	return false, fallback, nil
}

func (s *Service) record(out Outcome) {
	if s.metrics != nil {
		s.metrics.RecordOutcome(out.Accepted, string(out.Reason))
	}
}

func (s *Service) fallback(stage string) {
	if s.metrics != nil {
		s.metrics.RecordFallback(stage)
	}
}

func liveItems(items []*store.MemoryItem, now time.Time) []*store.MemoryItem {
	live := make([]*store.MemoryItem, 0, len(items))
	for _, item := range items {
		if !item.IsExpired(now) {
			live = append(live, item)
		}
	}
	return live
}

// trimOldest drops the oldest items by creation time until at most limit remain.
func trimOldest(items []*store.MemoryItem, limit int) []*store.MemoryItem {
	if len(items) <= limit {
		return items
	}
	sorted := append([]*store.MemoryItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted[len(sorted)-limit:]
}
