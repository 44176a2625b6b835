package webhook

import "regexp"

// decisionPatterns are tried in order; the first capture wins. Explicit
// markers outrank a bare id so annotated text beats incidental mentions.
var decisionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`Membria Decision:\s*(dec_[A-Za-z0-9_]+)`),
	regexp.MustCompile(`Decision:\s*(dec_[A-Za-z0-9_]+)`),
	regexp.MustCompile(`\[(dec_[A-Za-z0-9_]+)\]`),
	regexp.MustCompile(`(dec_[A-Za-z0-9_]+)`),
}

// ExtractDecisionID pulls a decision id out of free text such as a commit
// message or PR body. Empty string when nothing matches.
func ExtractDecisionID(text string) string {
	for _, pattern := range decisionPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}
