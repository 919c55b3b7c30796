package filter

import (
	"regexp"
	"sync"
)

var (
	emailPattern = sync.OnceValue(func() *regexp.Regexp {
		return regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
	})

	// phonePattern matches international and local phone numbers with
	// optional separators, at least eight digits long.
	phonePattern = sync.OnceValue(func() *regexp.Regexp {
		return regexp.MustCompile(`\+?\d[\d\s().-]{6,}\d`)
	})

	ipv4Pattern = sync.OnceValue(func() *regexp.Regexp {
		return regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d\d?)\.){3}(?:25[0-5]|2[0-4]\d|1?\d\d?)\b`)
	})
)

// Redact masks emails, IPv4 addresses and phone-like digit runs. Provider
// errors pass through it before they are logged.
func Redact(text string) string {
	text = emailPattern().ReplaceAllString(text, "[email]")
	text = ipv4Pattern().ReplaceAllString(text, "[ip]")
	text = phonePattern().ReplaceAllString(text, "[number]")
	return text
}
