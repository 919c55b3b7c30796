package relevance

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/configloader"
	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/filter"
)

// Override files, relative to the configuration directory.
const (
	PromptsFile = "memory/prompts.yaml"
	FiltersFile = "memory/filters.yaml"
)

// Prompts holds the system prompts sent to the hosted provider.
type Prompts struct {
	Judge   string `yaml:"judge"`
	Extract string `yaml:"extract"`
}

// Filters extends the built-in denylist.
type Filters struct {
	FillerWords   []string `yaml:"filler_words"`
	BlockPatterns []string `yaml:"block_patterns"`
}

const defaultJudgePrompt = `You decide whether a statement about a user is worth remembering long term.

Keep only durable facts about the user: identity, preferences, goals, relationships, possessions, habits.
Reject greetings, questions, small talk, statements about the assistant and anything only true for a moment.
When the statement describes a one-off event that reveals a lasting trait, generalize it into that trait
("I ate pizza yesterday" becomes "User likes pizza"). Never record the one-off event itself.

Choose a bank: General, Personal or Work.
Score how valuable the fact is from 0.0 to 1.0.

Answer with one JSON object and nothing else:
{"keep": true|false, "fact": "<durable fact or empty>", "bank": "General|Personal|Work", "score": 0.0, "reason": "<short reason>"}`

const defaultExtractPrompt = `You extract facts about the user from a single chat message.

Extract only durable facts: identity, behavior, preferences, goals, relationships, possessions.
Ignore questions, greetings, requests for information and general knowledge.
Rewrite each fact as a short standalone statement about the user. Extract nothing when there is nothing to keep.

Allowed tags: identity, behavior, preference, goal, relationship, possession.
Allowed banks: General, Personal, Work.

Answer with one JSON object and nothing else:
{"memories": [{"content": "<fact>", "bank": "General", "tags": ["preference"]}]}`

// DefaultPrompts returns the built-in prompts.
func DefaultPrompts() *Prompts {
	return &Prompts{
		Judge:   defaultJudgePrompt,
		Extract: defaultExtractPrompt,
	}
}

// LoadPrompts returns the built-in prompts with any non-empty entries from
// PromptsFile applied on top.
func LoadPrompts(loader *configloader.Loader) (*Prompts, error) {
	prompts := DefaultPrompts()
	if loader == nil {
		return prompts, nil
	}
	var override Prompts
	if _, err := loader.LoadOptional(PromptsFile, &override); err != nil {
		return nil, err
	}
	if s := strings.TrimSpace(override.Judge); s != "" {
		prompts.Judge = s
	}
	if s := strings.TrimSpace(override.Extract); s != "" {
		prompts.Extract = s
	}
	return prompts, nil
}

// LoadDenylist builds the denylist from the defaults plus FiltersFile.
func LoadDenylist(loader *configloader.Loader) (*filter.Denylist, error) {
	if loader == nil {
		return filter.DefaultDenylist(), nil
	}
	var f Filters
	found, err := loader.LoadOptional(FiltersFile, &f)
	if err != nil {
		return nil, err
	}
	if !found {
		return filter.DefaultDenylist(), nil
	}
	deny, err := filter.NewDenylist(f.FillerWords, f.BlockPatterns)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", FiltersFile)
	}
	return deny, nil
}
