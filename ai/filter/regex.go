// Package filter provides precompiled patterns that reject chit-chat and
// noise before any provider is asked about a candidate memory.
package filter

import (
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/pkg/errors"
)

// Rule names reported by Denylist.Match.
const (
	RuleURL     = "url"
	RuleSymbols = "symbols_only"
	RuleFiller  = "filler"
	RuleBlocked = "blocked_pattern"
)

var (
	// urlPattern matches a message that is nothing but a link.
	urlPattern = sync.OnceValue(func() *regexp.Regexp {
		return regexp.MustCompile(`(?i)^(?:https?://|www\.)\S+$`)
	})

	// defaultBlockPatterns are questions and greetings that carry no fact.
	defaultBlockPatterns = []string{
		`^\s*(was\s+ist\s+mein\s+name\??)\s*$`,
		`^\s*(wie\s+heiße\s+ich\??)\s*$`,
		`^\s*what'?s\s+my\s+name\??\s*$`,
		`^\s*h+i+(\s+there)?\s*!?\s*$`,
		`^\s*(wie\s+geht'?s|how\s+are\s+you)\b.*$`,
	}

	compiledDefaultBlocks = sync.OnceValue(func() []*regexp.Regexp {
		out := make([]*regexp.Regexp, len(defaultBlockPatterns))
		for i, p := range defaultBlockPatterns {
			out[i] = regexp.MustCompile("(?i)" + p)
		}
		return out
	})
)

// DefaultFillerWords is the built-in filler vocabulary.
var DefaultFillerWords = []string{
	"ok", "okay", "hi", "hii", "hiii", "hey", "hallo", "lol",
	"thanks", "danke", "ja", "nein", "yes", "no",
}

// Denylist matches messages that are never worth remembering.
type Denylist struct {
	filler map[string]struct{}
	blocks []*regexp.Regexp
}

// NewDenylist builds a denylist from the defaults plus extra filler words and
// extra block patterns. Extra patterns are matched case-insensitively.
func NewDenylist(extraFiller, extraPatterns []string) (*Denylist, error) {
	d := &Denylist{
		filler: make(map[string]struct{}, len(DefaultFillerWords)+len(extraFiller)),
		blocks: append([]*regexp.Regexp(nil), compiledDefaultBlocks()...),
	}
	for _, w := range DefaultFillerWords {
		d.filler[w] = struct{}{}
	}
	for _, w := range extraFiller {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			d.filler[w] = struct{}{}
		}
	}
	for _, p := range extraPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid block pattern %q", p)
		}
		d.blocks = append(d.blocks, re)
	}
	return d, nil
}

// DefaultDenylist returns the denylist with only the built-in rules.
var DefaultDenylist = sync.OnceValue(func() *Denylist {
	d, _ := NewDenylist(nil, nil)
	return d
})

// Match reports the first rule text violates.
func (d *Denylist) Match(text string) (rule string, matched bool) {
	trimmed := strings.TrimSpace(text)
	switch {
	case urlPattern().MatchString(trimmed):
		return RuleURL, true
	case IsSymbolsOnly(trimmed):
		return RuleSymbols, true
	case d.isFiller(trimmed):
		return RuleFiller, true
	}
	for _, re := range d.blocks {
		if re.MatchString(trimmed) {
			return RuleBlocked, true
		}
	}
	return "", false
}

// isFiller reports whether every token of text is a filler word.
func (d *Denylist) isFiller(text string) bool {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		tok = strings.TrimFunc(tok, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if _, ok := d.filler[tok]; !ok {
			return false
		}
	}
	return true
}

// IsSymbolsOnly reports whether text has no letters or digits, which covers
// emoji-only and punctuation-only messages.
func IsSymbolsOnly(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
