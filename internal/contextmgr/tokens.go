package contextmgr

import (
	"strings"

	"membria/internal/observability"
)

// DefaultMaxTokens applies when the caller does not supply a budget.
const DefaultMaxTokens = 2000

// EstimateTokens approximates the token cost of rendered text. The canonical
// conversion everywhere in this codebase is four characters per token.
func EstimateTokens(s string) int {
	return len(s) / 4
}

// SectionInfo records one section admitted into an assembled payload.
type SectionInfo struct {
	Name   string `json:"name"`
	Tokens int    `json:"tokens"`
}

// Result is an assembled context payload. TotalTokens is the sum of the
// admitted section costs; the blank lines joining sections are not charged.
type Result struct {
	CompactContext   string        `json:"compact_context"`
	TotalTokens      int           `json:"total_tokens"`
	Truncated        bool          `json:"truncated"`
	SectionsIncluded []SectionInfo `json:"sections_included"`
}

// budget admits rendered sections in priority order until the token cap.
// A section that does not fit is dropped and marks the result truncated;
// later, smaller sections may still be admitted.
type budget struct {
	max       int
	total     int
	truncated bool
	parts     []string
	sections  []SectionInfo
	metrics   *observability.ContextMetrics
}

func newBudget(maxTokens int, metrics *observability.ContextMetrics) *budget {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &budget{max: maxTokens, metrics: metrics}
}

// add appends a rendered section when it fits. Empty renders are skipped
// without charging the budget or flagging truncation.
func (b *budget) add(name, text string) bool {
	if strings.TrimSpace(text) == "" {
		b.metrics.RecordEmptySection(name)
		return false
	}
	tokens := EstimateTokens(text)
	if b.total+tokens > b.max {
		b.truncated = true
		b.metrics.RecordTruncation(name)
		return false
	}
	b.total += tokens
	b.parts = append(b.parts, text)
	b.sections = append(b.sections, SectionInfo{Name: name, Tokens: tokens})
	b.metrics.RecordTokensBySection(name, tokens)
	return true
}

func (b *budget) result() Result {
	if b.truncated {
		b.metrics.RecordBudgetOverflow()
	}
	return Result{
		CompactContext:   strings.Join(b.parts, "\n\n"),
		TotalTokens:      b.total,
		Truncated:        b.truncated,
		SectionsIncluded: append([]SectionInfo(nil), b.sections...),
	}
}
