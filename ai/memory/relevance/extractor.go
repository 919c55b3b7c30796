package relevance

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/core/llm"
	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/filter"
)

// Fact tags the extractor may assign.
var allowedTags = []string{"identity", "behavior", "preference", "goal", "relationship", "possession"}

// Fact is a candidate memory extracted from a chat message.
type Fact struct {
	Content string   `json:"content"`
	Bank    string   `json:"bank,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Extractor turns a free-form message into candidate facts.
type Extractor interface {
	Extract(ctx context.Context, message string) ([]Fact, error)
}

// HostedExtractor asks an LLM to list the facts in a message.
type HostedExtractor struct {
	llm    llm.Service
	prompt string
}

// NewHostedExtractor creates an extractor backed by svc. A nil prompts uses the defaults.
func NewHostedExtractor(svc llm.Service, prompts *Prompts) *HostedExtractor {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &HostedExtractor{llm: svc, prompt: prompts.Extract}
}

// Extract implements Extractor. The reply may be {"memories": [...]} or a bare array.
func (x *HostedExtractor) Extract(ctx context.Context, message string) ([]Fact, error) {
	reply, _, err := x.llm.ChatJSON(ctx, []llm.Message{
		llm.SystemPrompt(x.prompt),
		llm.UserMessage(strings.TrimSpace(message)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "extract call")
	}

	var facts []Fact
	if strings.HasPrefix(strings.TrimSpace(reply), "[") {
		err = decodeJSONReply(reply, &facts)
	} else {
		var wrapped struct {
			Memories []Fact `json:"memories"`
		}
		err = decodeJSONReply(reply, &wrapped)
		facts = wrapped.Memories
	}
	if err != nil {
		return nil, errors.Wrap(err, "parse facts")
	}

	out := facts[:0]
	for _, f := range facts {
		f.Content = strings.TrimSpace(f.Content)
		if f.Content == "" {
			continue
		}
		f.Tags = slices.DeleteFunc(f.Tags, func(tag string) bool {
			return !slices.Contains(allowedTags, tag)
		})
		out = append(out, f)
	}
	return out, nil
}

// ExtractFacts runs x with a timeout. When x is nil, fails or times out, the
// whole message becomes the single candidate; fallback reports whether a
// configured extractor could not be used.
func ExtractFacts(ctx context.Context, x Extractor, message string, timeout time.Duration) (facts []Fact, fallback bool) {
	whole := []Fact{{Content: strings.TrimSpace(message)}}
	if x == nil {
		return whole, false
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	facts, err := x.Extract(ctx, message)
	if err != nil {
		slog.Warn("fact extraction unavailable, keeping whole message", "error", filter.Redact(err.Error()))
		return whole, true
	}
	return facts, false
}
