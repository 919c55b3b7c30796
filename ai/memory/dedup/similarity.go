package dedup

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// numToken replaces purely numeric tokens in the canonical form.
const numToken = "<num>"

// Normalize returns the canonical comparison form of text: lowercased,
// trimmed, whitespace collapsed, enclosing punctuation stripped from the
// whole string and from every token, and pure numbers masked.
// The result is only used for comparison and is never stored.
func Normalize(text string) string {
	text = trimEnclosing(strings.ToLower(strings.TrimSpace(text)))
	fields := strings.Fields(text)
	out := fields[:0]
	for _, f := range fields {
		f = trimEnclosing(f)
		if f == "" {
			continue
		}
		if isNumeric(f) {
			f = numToken
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

func trimEnclosing(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}

// isNumeric reports whether s is a number such as 42, 3.5 or 1,000.
func isNumeric(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '.' || r == ',':
		default:
			return false
		}
	}
	return digits > 0
}

// Levenshtein returns the rune-level edit distance between a and b.
func Levenshtein(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

// LevenshteinRatio returns 1 - distance/max(len) over runes, in [0,1].
// Two empty strings are identical.
func LevenshteinRatio(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(a, b))/float64(longest)
}

// CosineSimilarity calculates cosine similarity between two vectors.
// Mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
