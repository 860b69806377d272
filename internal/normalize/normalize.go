// Package normalize canonicalizes code fragments for comparison. The
// normal form erases the parts of a fragment that vary between otherwise
// identical steps (literals, bound names, spacing) so that structural
// duplicates collapse onto the same text.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// StringPlaceholder replaces every quoted string literal. It is itself
	// a valid single-quoted literal, which keeps Normalize idempotent.
	StringPlaceholder = "'STR'"
	// NumberPlaceholder replaces standalone numerals.
	NumberPlaceholder = "NUM"
	// IdentPlaceholder replaces the identifier bound by a declaration.
	IdentPlaceholder = "VAR"
)

var (
	singleQuoted = regexp.MustCompile(`'[^']*'`)
	doubleQuoted = regexp.MustCompile(`"[^"]*"`)
	backQuoted   = regexp.MustCompile("`[^`]*`")
	numeral      = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
	// The declaration keyword is retained so declaration shape survives
	// normalization; only the bound name is erased.
	declaration = regexp.MustCompile(`\b(const|let|var)\s+[A-Za-z_$][A-Za-z0-9_$]*`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Normalize returns the canonical form of a code fragment: string literals
// and numerals become fixed placeholders, declared identifiers become VAR,
// and whitespace runs collapse to single spaces. Normalize is idempotent.
func Normalize(code string) string {
	s := singleQuoted.ReplaceAllString(code, StringPlaceholder)
	s = doubleQuoted.ReplaceAllString(s, StringPlaceholder)
	s = backQuoted.ReplaceAllString(s, StringPlaceholder)
	s = numeral.ReplaceAllString(s, NumberPlaceholder)
	s = declaration.ReplaceAllString(s, "$1 "+IdentPlaceholder)
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// CollapseWhitespace folds whitespace runs without touching literals or
// identifiers. Used for whitespace-insensitive identity checks where full
// placeholder normalization would be too aggressive.
func CollapseWhitespace(code string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(code, " "))
}

// isWordRune reports whether r belongs to a word token. Everything else
// (quotes, selector sigils, operators) is punctuation and becomes a
// single-rune token of its own.
func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_':
		return true
	}
	return false
}

// Tokenize splits a fragment into its comparison set: word tokens split on
// whitespace and punctuation, with each punctuation rune kept as its own
// single-rune token. Duplicates collapse because the result is a set.
func Tokenize(code string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			tokens[word.String()] = struct{}{}
			word.Reset()
		}
	}
	for _, r := range code {
		switch {
		case isWordRune(r):
			word.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			flush()
			tokens[string(r)] = struct{}{}
		}
	}
	flush()
	return tokens
}

// CountLines returns the number of newline-delimited segments in code,
// or 0 for empty input.
func CountLines(code string) int {
	if code == "" {
		return 0
	}
	return strings.Count(code, "\n") + 1
}

// HashCode returns a 32-bit rolling multiplicative hash of text as a hex
// string. It is a bucketing aid only: collisions are possible and must be
// resolved by a subsequent similarity check, never treated as identity.
func HashCode(text string) string {
	var h uint32
	for _, r := range text {
		h = h*31 + uint32(r)
	}
	return strconv.FormatUint(uint64(h), 16)
}
