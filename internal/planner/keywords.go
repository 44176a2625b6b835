package planner

import "strings"

// stopwords are dropped before keyword extraction and overlap checks. The
// list targets planning prose, not general English.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "this": {},
	"that": {}, "then": {}, "than": {}, "use": {}, "using": {}, "into": {},
	"when": {}, "where": {}, "will": {}, "should": {}, "would": {}, "could": {},
	"have": {}, "has": {}, "been": {}, "be": {}, "is": {}, "are": {}, "was": {},
	"were": {}, "not": {}, "our": {}, "their": {}, "your": {}, "they": {},
	"them": {}, "its": {}, "about": {}, "after": {}, "before": {}, "over": {},
	"under": {}, "each": {}, "every": {}, "some": {}, "more": {}, "most": {},
	"very": {}, "just": {}, "also": {}, "only": {}, "what": {}, "which": {},
	"while": {}, "during": {}, "there": {}, "here": {}, "make": {}, "made": {},
	"add": {}, "new": {}, "all": {}, "any": {},
}

// normalize lowercases and collapses whitespace for statement grouping.
func normalize(statement string) string {
	return strings.Join(strings.Fields(strings.ToLower(statement)), " ")
}

// contentWords lowercases text and keeps deduplicated non-stopwords of at
// least three characters, in first-seen order. Three-letter terms stay in
// because short technology names (jwt, orm, tls) carry the meaning of a step.
func contentWords(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?()[]{}\"'`")
		if len(word) < 3 {
			continue
		}
		if _, stop := stopwords[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		out = append(out, word)
	}
	return out
}

// ExtractKeywords picks up to max content words from a plan step for failure
// lookups. Lookups hit the graph per keyword, so only words longer than three
// characters qualify here.
func ExtractKeywords(step string, max int) []string {
	var words []string
	for _, w := range contentWords(step) {
		if len(w) <= 3 {
			continue
		}
		words = append(words, w)
	}
	if len(words) > max {
		words = words[:max]
	}
	return words
}

// overlapCount counts how many content words the two texts share.
func overlapCount(a, b string) int {
	words := make(map[string]struct{})
	for _, w := range contentWords(a) {
		words[w] = struct{}{}
	}
	n := 0
	for _, w := range contentWords(b) {
		if _, ok := words[w]; ok {
			n++
		}
	}
	return n
}
