package skills

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"membria/internal/calibration"
	"membria/internal/logging"
	"membria/internal/model"
)

// Zone boundaries for pattern partitioning.
const (
	greenFloor  = 0.75 // exclusive
	yellowFloor = 0.50 // inclusive
)

// Skill lifecycle defaults.
const (
	skillTTLDays    = 720
	reviewAfterDays = 90
)

// GraphReader is the slice of the graph layer skill mining reads and writes.
type GraphReader interface {
	RecentDecisionsByDomain(ctx context.Context, domain string, limit int) ([]model.Decision, error)
	ListNegativeKnowledge(ctx context.Context, domain string, limit int) ([]model.NegativeKnowledge, error)
	LatestSkillVersion(ctx context.Context, domain string) (int, error)
	AddSkill(ctx context.Context, sk model.Skill) (model.Skill, error)
}

// CalibrationReader answers domain posteriors for skill eligibility.
type CalibrationReader interface {
	Profile(ctx context.Context, domain string) (calibration.Profile, bool, error)
	Profiles(ctx context.Context) ([]calibration.Profile, error)
}

// Generator mines patterns and compiles them into Skill nodes.
type Generator struct {
	graph  GraphReader
	cal    CalibrationReader
	logger logging.Logger

	now func() time.Time
}

// NewGenerator wires skill mining to the graph and calibration store.
func NewGenerator(graph GraphReader, cal CalibrationReader, logger logging.Logger) *Generator {
	if logging.IsNil(logger) {
		logger = logging.Nop()
	}
	return &Generator{graph: graph, cal: cal, logger: logger, now: time.Now}
}

// Generate compiles one domain into a new Skill version. The second return
// is false when the domain is not yet eligible (fewer than three patterns or
// no calibration profile); that is not an error.
func (g *Generator) Generate(ctx context.Context, domain string) (model.Skill, bool, error) {
	patterns, err := g.ExtractPatterns(ctx, domain, DefaultRecentLimit, DefaultMinSampleSize)
	if err != nil {
		return model.Skill{}, false, fmt.Errorf("extract patterns: %w", err)
	}
	if len(patterns) < 3 {
		g.logger.Debug("domain %s has %d patterns, skill needs 3", domain, len(patterns))
		return model.Skill{}, false, nil
	}

	profile, ok, err := g.cal.Profile(ctx, domain)
	if err != nil {
		return model.Skill{}, false, fmt.Errorf("load calibration: %w", err)
	}
	if !ok {
		g.logger.Debug("domain %s has no calibration profile yet", domain)
		return model.Skill{}, false, nil
	}

	green, yellow, red := partition(patterns)
	nk, err := g.graph.ListNegativeKnowledge(ctx, domain, 5)
	if err != nil {
		return model.Skill{}, false, fmt.Errorf("load negative knowledge: %w", err)
	}

	version, err := g.graph.LatestSkillVersion(ctx, domain)
	if err != nil {
		return model.Skill{}, false, fmt.Errorf("latest skill version: %w", err)
	}
	version++

	successes, total, decisionIDs := tally(patterns)
	successRate := float64(successes) / float64(total)

	now := g.now().Unix()
	sk := model.Skill{
		ID:                     model.SkillID(domain, version),
		Domain:                 domain,
		Name:                   fmt.Sprintf("%s playbook v%d", domain, version),
		Version:                version,
		SuccessRate:            successRate,
		Confidence:             profile.MeanSuccessRate,
		SampleSize:             total,
		Procedure:              renderProcedure(domain, version, profile, green, yellow, red, nk, total, successRate),
		GreenZone:              statements(green),
		YellowZone:             statements(yellow),
		RedZone:                statements(red),
		QualityScore:           QualityScore(successRate, total),
		GeneratedFromDecisions: decisionIDs,
		CreatedAt:              now,
		LastUpdated:            now,
		NextReview:             now + reviewAfterDays*86400,
		TTLDays:                skillTTLDays,
		IsActive:               true,
	}

	stored, err := g.graph.AddSkill(ctx, sk)
	if err != nil {
		return model.Skill{}, false, fmt.Errorf("persist skill: %w", err)
	}
	g.logger.Info("generated skill %s (quality %.2f, %d patterns)", stored.ID, stored.QualityScore, len(patterns))
	return stored, true, nil
}

// GenerateAll runs Generate for every domain with a calibration profile and
// returns the skills that were actually produced.
func (g *Generator) GenerateAll(ctx context.Context) ([]model.Skill, error) {
	profiles, err := g.cal.Profiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list calibration profiles: %w", err)
	}
	var out []model.Skill
	for _, p := range profiles {
		sk, generated, err := g.Generate(ctx, p.Domain)
		if err != nil {
			g.logger.Warn("skill generation for %s failed: %v", p.Domain, err)
			continue
		}
		if generated {
			out = append(out, sk)
		}
	}
	return out, nil
}

func partition(patterns []Pattern) (green, yellow, red []Pattern) {
	for _, p := range patterns {
		switch {
		case p.SuccessRate > greenFloor:
			green = append(green, p)
		case p.SuccessRate >= yellowFloor:
			yellow = append(yellow, p)
		default:
			red = append(red, p)
		}
	}
	return green, yellow, red
}

func tally(patterns []Pattern) (successes, total int, decisionIDs []string) {
	for _, p := range patterns {
		total += p.SampleSize
		successes += int(math.Round(p.SuccessRate * float64(p.SampleSize)))
		decisionIDs = append(decisionIDs, p.SupportingDecisions...)
	}
	return successes, total, decisionIDs
}

func statements(patterns []Pattern) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, p.Statement)
	}
	return out
}

func renderProcedure(domain string, version int, profile calibration.Profile, green, yellow, red []Pattern, nk []model.NegativeKnowledge, total int, successRate float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s playbook v%d\n\n", domain, version)

	fmt.Fprintf(&b, "## Team Experience\n")
	fmt.Fprintf(&b, "- Outcomes observed: %d\n", total)
	fmt.Fprintf(&b, "- Success rate: %.0f%%\n", successRate*100)
	fmt.Fprintf(&b, "- Calibrated mean: %.0f%% over %d samples\n", profile.MeanSuccessRate*100, profile.SampleSize)
	fmt.Fprintf(&b, "- Trend: %s\n", profile.Trend)

	writeZone(&b, "Strongly Recommend", green)
	writeZone(&b, "Consider Carefully", yellow)
	writeZone(&b, "Avoid", red)

	if len(nk) > 0 {
		b.WriteString("\n## Known Failures\n")
		for _, entry := range nk {
			if entry.Recommendation != "" {
				fmt.Fprintf(&b, "- %s. Instead: %s\n", entry.Hypothesis, entry.Recommendation)
			} else {
				fmt.Fprintf(&b, "- %s\n", entry.Hypothesis)
			}
		}
	}
	return b.String()
}

func writeZone(b *strings.Builder, heading string, patterns []Pattern) {
	if len(patterns) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n", heading)
	for _, p := range patterns {
		fmt.Fprintf(b, "- %s (%.0f%% across %d)\n", p.Statement, p.SuccessRate*100, p.SampleSize)
	}
}
