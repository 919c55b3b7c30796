package relevance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/core/llm"
)

// Prompt budget for the history sent along with a candidate.
const (
	maxPromptHistory   = 10
	maxPromptItemRunes = 200
)

// JudgeRequest is a candidate together with the context the judge may use.
type JudgeRequest struct {
	Candidate string
	// History holds recent facts about the user, newest first.
	History []string
}

// Verdict is the judge's answer.
type Verdict struct {
	Keep bool `json:"keep"`
	// Fact is the durable form of the candidate; empty means unchanged.
	Fact   string  `json:"fact"`
	Bank   string  `json:"bank"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Judge decides whether a candidate is worth remembering. Any error means
// the judge is unavailable and the caller should use its fallback.
type Judge interface {
	Judge(ctx context.Context, req JudgeRequest) (*Verdict, error)
}

// HostedJudge asks an LLM for a strict JSON verdict.
type HostedJudge struct {
	llm    llm.Service
	prompt string
}

// NewHostedJudge creates a judge backed by svc. A nil prompts uses the defaults.
func NewHostedJudge(svc llm.Service, prompts *Prompts) *HostedJudge {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &HostedJudge{llm: svc, prompt: prompts.Judge}
}

// Judge implements Judge. A reply that is not a valid verdict is an error.
func (j *HostedJudge) Judge(ctx context.Context, req JudgeRequest) (*Verdict, error) {
	messages := []llm.Message{
		llm.SystemPrompt(j.prompt),
		llm.UserMessage(buildJudgeInput(req)),
	}
	reply, _, err := j.llm.ChatJSON(ctx, messages)
	if err != nil {
		return nil, errors.Wrap(err, "judge call")
	}

	var v Verdict
	if err := decodeJSONReply(reply, &v); err != nil {
		return nil, errors.Wrap(err, "parse verdict")
	}
	if v.Score < 0 || v.Score > 1 {
		return nil, errors.Errorf("verdict score %v out of range", v.Score)
	}
	v.Fact = strings.TrimSpace(v.Fact)
	return &v, nil
}

func buildJudgeInput(req JudgeRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Statement: %s\n", strings.TrimSpace(req.Candidate))
	if len(req.History) == 0 {
		sb.WriteString("Known facts: none\n")
		return sb.String()
	}
	sb.WriteString("Known facts:\n")
	for i, h := range req.History {
		if i == maxPromptHistory {
			break
		}
		fmt.Fprintf(&sb, "- %s\n", clip(h, maxPromptItemRunes))
	}
	return sb.String()
}

// clip cuts s to at most n runes and marks the cut.
func clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	for i := range s {
		if n == 0 {
			return s[:i] + "..."
		}
		n--
	}
	return s
}

// decodeJSONReply strips an optional markdown fence and decodes reply into v.
func decodeJSONReply(reply string, v any) error {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return errors.New("empty reply")
	}
	return json.Unmarshal([]byte(reply), v)
}
