// Package skills mines recurring decision patterns per domain and compiles
// them into versioned markdown playbooks backed by calibration evidence.
package skills

import (
	"context"
	"math"
	"sort"
	"strings"
)

// DefaultMinSampleSize is the smallest group that counts as a pattern.
const DefaultMinSampleSize = 3

// DefaultRecentLimit bounds how many recent decisions feed extraction.
const DefaultRecentLimit = 100

// Pattern is one recurring decision statement with its observed track record.
type Pattern struct {
	Statement           string   `json:"statement"`
	SuccessRate         float64  `json:"success_rate"`
	SampleSize          int      `json:"sample_size"`
	SupportingDecisions []string `json:"supporting_decisions"`
}

// NormalizeStatement lowercases and collapses whitespace so reworded copies
// of the same decision group together.
func NormalizeStatement(statement string) string {
	return strings.Join(strings.Fields(strings.ToLower(statement)), " ")
}

// ExtractPatterns groups resolved decisions by normalized statement and keeps
// groups of at least minSampleSize. Pending decisions carry no evidence and
// are skipped. Ordering: success rate descending, then sample size, then
// statement for determinism.
func (g *Generator) ExtractPatterns(ctx context.Context, domain string, limit, minSampleSize int) ([]Pattern, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if minSampleSize <= 0 {
		minSampleSize = DefaultMinSampleSize
	}

	decisions, err := g.graph.RecentDecisionsByDomain(ctx, domain, limit)
	if err != nil {
		return nil, err
	}

	type group struct {
		statement string
		successes int
		total     int
		ids       []string
	}
	groups := make(map[string]*group)
	for _, d := range decisions {
		if !resolved(d.Outcome) {
			continue
		}
		key := NormalizeStatement(d.Statement)
		if key == "" {
			continue
		}
		grp, ok := groups[key]
		if !ok {
			grp = &group{statement: key}
			groups[key] = grp
		}
		grp.total++
		if d.Outcome == "success" {
			grp.successes++
		}
		grp.ids = append(grp.ids, d.ID)
	}

	patterns := make([]Pattern, 0, len(groups))
	for _, grp := range groups {
		if grp.total < minSampleSize {
			continue
		}
		patterns = append(patterns, Pattern{
			Statement:           grp.statement,
			SuccessRate:         float64(grp.successes) / float64(grp.total),
			SampleSize:          grp.total,
			SupportingDecisions: grp.ids,
		})
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].SuccessRate != patterns[j].SuccessRate {
			return patterns[i].SuccessRate > patterns[j].SuccessRate
		}
		if patterns[i].SampleSize != patterns[j].SampleSize {
			return patterns[i].SampleSize > patterns[j].SampleSize
		}
		return patterns[i].Statement < patterns[j].Statement
	})
	return patterns, nil
}

func resolved(outcome string) bool {
	switch outcome {
	case "success", "failure", "partial":
		return true
	}
	return false
}

// QualityScore implements the skill quality invariant: evidence-discounted
// success rate once the sample is large enough to mean anything.
func QualityScore(successRate float64, sampleSize int) float64 {
	if sampleSize < 3 {
		return 0.5
	}
	return successRate * (1 - 1/math.Sqrt(float64(sampleSize)))
}
