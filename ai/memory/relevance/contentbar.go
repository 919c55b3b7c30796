package relevance

import (
	"strings"
	"unicode/utf8"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/filter"
)

// Content bar rules, in the order they are checked. Denylist rules use the
// names from the filter package.
const (
	RuleMinChars  = "min_chars"
	RuleMinTokens = "min_tokens"
)

// Default content bar.
const (
	DefaultMinChars  = 8
	DefaultMinTokens = 2
)

// ContentBar is the cheap pre-check run before any provider call.
type ContentBar struct {
	MinChars  int
	MinTokens int
	Denylist  *filter.Denylist
}

// Check returns the violated rule, or ok when text clears the bar.
func (b ContentBar) Check(text string) (rule string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < b.MinChars {
		return RuleMinChars, false
	}
	if len(strings.Fields(trimmed)) < b.MinTokens {
		return RuleMinTokens, false
	}
	deny := b.Denylist
	if deny == nil {
		deny = filter.DefaultDenylist()
	}
	if rule, matched := deny.Match(trimmed); matched {
		return rule, false
	}
	return "", true
}
