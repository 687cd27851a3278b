package store

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// FallbackName is used when sanitization strips a title down to nothing.
const FallbackName = "download"

// SafeName turns an arbitrary title into a filename-safe stem: NFKD
// normalize, drop everything outside word characters / whitespace / hyphens,
// collapse whitespace runs to a single underscore, trim leading and trailing
// underscores. Deterministic and idempotent; never empty.
func SafeName(title string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
		// everything else (punctuation, combining marks, control) is dropped
	}
	out := strings.Join(strings.Fields(b.String()), "_")
	out = strings.Trim(out, "_")
	if out == "" {
		return FallbackName
	}
	return out
}
