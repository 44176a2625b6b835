// Package sanitize normalizes free-form agent input before it reaches the
// graph. All text fields pass through here exactly once, at the tool-call
// boundary.
package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Field length caps in runes, applied after normalization.
const (
	MaxStatement = 400
	MaxEvidence  = 800
	MaxFilePath  = 240
	MaxGeneric   = 2000
)

// Text normalizes s to NFC, strips control characters except tab and
// newline, collapses CR/LF pairs to bare newlines, and truncates to max
// runes. Truncation never splits a rune.
func Text(s string, max int) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\r':
			// dropped; a following \n survives on its own
		case r == '\t' || r == '\n':
			b.WriteRune(r)
		case unicode.IsControl(r):
			// dropped
		case r == utf8.RuneError:
			// dropped; invalid byte sequences do not round-trip
		default:
			b.WriteRune(r)
		}
	}
	return Truncate(b.String(), max)
}

// Statement applies the statement cap.
func Statement(s string) string { return Text(s, MaxStatement) }

// Evidence applies the evidence cap.
func Evidence(s string) string { return Text(s, MaxEvidence) }

// FilePath normalizes a path field. Paths additionally lose interior
// whitespace runs, which never appear in legitimate repo paths.
func FilePath(s string) string {
	s = Text(s, MaxFilePath)
	return strings.Join(strings.Fields(s), "_")
}

// Generic applies the default cap for fields without a dedicated one.
func Generic(s string) string { return Text(s, MaxGeneric) }

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// NormalizeStatement produces the grouping key used when clustering
// decisions into patterns: lowercase with whitespace runs collapsed to a
// single space.
func NormalizeStatement(s string) string {
	s = strings.ToLower(norm.NFC.String(s))
	return strings.Join(strings.Fields(s), " ")
}

// StringSlice sanitizes every element and drops empties.
func StringSlice(in []string, max int) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(Text(s, max)); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// CypherString escapes a literal for direct embedding inside single quotes
// in a Cypher query. Parameters are preferred; this exists for the few
// places that build label or property fragments dynamically.
func CypherString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", ``)
	return s
}
