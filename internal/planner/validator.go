package planner

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"membria/internal/logging"
	"membria/internal/model"
)

// Warning sources.
const (
	SourceNegativeKnowledge = "negative_knowledge"
	SourceAntiPattern       = "antipattern"
	SourcePastFailure       = "past_failure"
	SourceCalibration       = "calibration"
)

// Warning flags one plan step against one piece of evidence. StepIndex -1
// marks a plan-level warning.
type Warning struct {
	StepIndex  int    `json:"step_index"`
	Step       string `json:"step,omitempty"`
	Source     string `json:"source"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Report is the validate_plan result.
type Report struct {
	TotalSteps     int       `json:"total_steps"`
	WarningsCount  int       `json:"warnings_count"`
	HighSeverity   int       `json:"high_severity"`
	MediumSeverity int       `json:"medium_severity"`
	LowSeverity    int       `json:"low_severity"`
	Warnings       []Warning `json:"warnings"`
	CanProceed     bool      `json:"can_proceed"`
	Timestamp      int64     `json:"timestamp"`
}

// Validator screens drafted plan steps.
type Validator struct {
	graph  GraphReader
	cal    CalibrationReader
	logger logging.Logger

	now func() time.Time
}

// NewValidator wires a plan validator.
func NewValidator(graphReader GraphReader, cal CalibrationReader, logger logging.Logger) *Validator {
	if logging.IsNil(logger) {
		logger = logging.Nop()
	}
	return &Validator{graph: graphReader, cal: cal, logger: logger, now: time.Now}
}

// Validate screens each step against negative knowledge, anti-patterns, and
// past failures, plus one plan-level calibration check. Evidence sources that
// fail to load degrade to fewer checks, never to a failed validation.
func (v *Validator) Validate(ctx context.Context, steps []string, domain string) (Report, error) {
	report := Report{
		TotalSteps: len(steps),
		Timestamp:  v.now().Unix(),
	}

	nk, err := v.graph.ListNegativeKnowledge(ctx, domain, 20)
	if err != nil {
		v.logger.Warn("negative knowledge unavailable: %v", err)
	}
	aps, err := v.graph.TopAntiPatterns(ctx, 20)
	if err != nil {
		v.logger.Warn("anti-patterns unavailable: %v", err)
	}
	compiled := compilePatterns(aps)

	for i, step := range steps {
		report.Warnings = append(report.Warnings, v.checkNegativeKnowledge(i, step, nk)...)
		report.Warnings = append(report.Warnings, checkAntiPatterns(i, step, aps, compiled)...)
		report.Warnings = append(report.Warnings, v.checkPastFailures(ctx, i, step)...)
	}
	if w := v.checkOverconfidence(ctx, domain); w != nil {
		report.Warnings = append(report.Warnings, *w)
	}

	sort.SliceStable(report.Warnings, func(i, j int) bool {
		return model.Severity(report.Warnings[i].Severity).Rank() < model.Severity(report.Warnings[j].Severity).Rank()
	})
	for _, w := range report.Warnings {
		switch w.Severity {
		case string(model.SeverityHigh):
			report.HighSeverity++
		case string(model.SeverityMedium):
			report.MediumSeverity++
		case string(model.SeverityLow):
			report.LowSeverity++
		}
	}
	report.WarningsCount = len(report.Warnings)
	report.CanProceed = report.HighSeverity == 0
	return report, nil
}

// checkNegativeKnowledge flags steps sharing at least two content words with
// a known-bad hypothesis.
func (v *Validator) checkNegativeKnowledge(idx int, step string, nk []model.NegativeKnowledge) []Warning {
	var out []Warning
	for _, entry := range nk {
		if overlapCount(step, entry.Hypothesis) < 2 {
			continue
		}
		out = append(out, Warning{
			StepIndex:  idx,
			Step:       step,
			Source:     SourceNegativeKnowledge,
			Severity:   capSeverity(entry.Severity),
			Message:    fmt.Sprintf("step resembles known failure: %s", entry.Hypothesis),
			Suggestion: entry.Recommendation,
		})
	}
	return out
}

func compilePatterns(aps []model.AntiPattern) map[string]*regexp.Regexp {
	compiled := make(map[string]*regexp.Regexp, len(aps))
	for _, ap := range aps {
		if ap.RegexPattern == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + ap.RegexPattern)
		if err != nil {
			continue
		}
		compiled[ap.Name] = re
	}
	return compiled
}

func checkAntiPatterns(idx int, step string, aps []model.AntiPattern, compiled map[string]*regexp.Regexp) []Warning {
	var out []Warning
	for _, ap := range aps {
		re, ok := compiled[ap.Name]
		if !ok || !re.MatchString(step) {
			continue
		}
		severity := model.SeverityLow
		switch {
		case ap.RemovalRate > 0.70:
			severity = model.SeverityHigh
		case ap.RemovalRate > 0.50:
			severity = model.SeverityMedium
		}
		out = append(out, Warning{
			StepIndex:  idx,
			Step:       step,
			Source:     SourceAntiPattern,
			Severity:   string(severity),
			Message:    fmt.Sprintf("matches anti-pattern %q (removed in %.0f%% of repos)", ap.Name, ap.RemovalRate*100),
			Suggestion: ap.Recommendation,
		})
	}
	return out
}

// checkPastFailures looks up failed decisions for up to three step keywords.
func (v *Validator) checkPastFailures(ctx context.Context, idx int, step string) []Warning {
	var out []Warning
	for _, keyword := range ExtractKeywords(step, 3) {
		failed, err := v.graph.FailedDecisionsByKeyword(ctx, keyword, 5)
		if err != nil {
			v.logger.Warn("failed decision lookup for %q: %v", keyword, err)
			continue
		}
		if len(failed) == 0 {
			continue
		}
		out = append(out, Warning{
			StepIndex:  idx,
			Step:       step,
			Source:     SourcePastFailure,
			Severity:   string(model.SeverityMedium),
			Message:    fmt.Sprintf("%d past failure(s) mention %q, e.g. %q", len(failed), keyword, failed[0].Statement),
			Suggestion: "review the failed decisions before committing to this step",
		})
	}
	return out
}

// checkOverconfidence emits one plan-level warning when the domain's claimed
// confidence runs well ahead of observed success.
func (v *Validator) checkOverconfidence(ctx context.Context, domain string) *Warning {
	if domain == "" {
		return nil
	}
	profile, ok, err := v.cal.Profile(ctx, domain)
	if err != nil || !ok {
		return nil
	}
	decisions, err := v.graph.RecentDecisionsByDomain(ctx, domain, 200)
	if err != nil {
		return nil
	}
	var claimed float64
	var n int
	for _, d := range decisions {
		switch d.Outcome {
		case "success", "failure", "partial":
			claimed += d.Confidence
			n++
		}
	}
	if n == 0 {
		return nil
	}
	gap := claimed/float64(n) - profile.MeanSuccessRate
	if gap <= 0.15 {
		return nil
	}
	return &Warning{
		StepIndex:  -1,
		Source:     SourceCalibration,
		Severity:   string(model.SeverityLow),
		Message:    fmt.Sprintf("confidence in %s runs %.0f%% above observed success; plan margins accordingly", domain, gap*100),
		Suggestion: fmt.Sprintf("treat estimates as %.0f%% optimistic", gap*100),
	}
}

// capSeverity keeps critical NK visible while staying within the report's
// three severity buckets.
func capSeverity(s model.Severity) string {
	if s == model.SeverityCritical {
		return string(model.SeverityHigh)
	}
	if s == "" {
		return string(model.SeverityMedium)
	}
	return string(s)
}
