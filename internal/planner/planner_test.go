package planner

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"membria/internal/calibration"
	"membria/internal/graph"
	"membria/internal/logging"
	"membria/internal/model"
)

type fakeGraph struct {
	plans           []graph.PlanStats
	decisions       []model.Decision
	nk              []model.NegativeKnowledge
	aps             []model.AntiPattern
	failedByKeyword map[string][]model.Decision
}

func (f *fakeGraph) EngramPlanStats(_ context.Context, _ string, _ int) ([]graph.PlanStats, error) {
	return f.plans, nil
}

func (f *fakeGraph) RecentDecisionsByDomain(_ context.Context, domain string, _ int) ([]model.Decision, error) {
	var out []model.Decision
	for _, d := range f.decisions {
		if d.Module == domain {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeGraph) ListNegativeKnowledge(_ context.Context, _ string, limit int) ([]model.NegativeKnowledge, error) {
	if len(f.nk) > limit {
		return f.nk[:limit], nil
	}
	return f.nk, nil
}

func (f *fakeGraph) TopAntiPatterns(_ context.Context, _ int) ([]model.AntiPattern, error) {
	return f.aps, nil
}

func (f *fakeGraph) FailedDecisionsByKeyword(_ context.Context, keyword string, _ int) ([]model.Decision, error) {
	return f.failedByKeyword[keyword], nil
}

type fakeCal struct {
	profiles map[string]calibration.Profile
}

func (f *fakeCal) Profile(_ context.Context, domain string) (calibration.Profile, bool, error) {
	p, ok := f.profiles[domain]
	return p, ok, nil
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Unix(1700000000, 0) }
}

func TestContentWordExtraction(t *testing.T) {
	got := ExtractKeywords("Use the Redis cluster for all WebSocket sessions, use REDIS again", 3)
	want := []string{"redis", "cluster", "websocket"}
	if len(got) != 3 {
		t.Fatalf("keywords = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keywords = %v, want %v", got, want)
		}
	}
}

func TestOverlapCount(t *testing.T) {
	n := overlapCount("use redis cluster for sessions", "redis cluster failover loses writes")
	if n != 2 {
		t.Fatalf("overlap = %d, want 2", n)
	}
	if overlapCount("migrate the auth table", "rewrite frontend assets") != 0 {
		t.Fatal("disjoint texts reported overlap")
	}
}

func TestBuildAssemblesSections(t *testing.T) {
	fg := &fakeGraph{
		plans: []graph.PlanStats{{EngramID: "eng_1", Decisions: 4, Successes: 3, Failures: 1}},
	}
	for i := 0; i < 4; i++ {
		fg.decisions = append(fg.decisions, model.Decision{
			ID: "f" + string(rune('a'+i)), Module: "caching", Statement: "use mongo for everything",
			Outcome: "failure", Confidence: 0.9,
		})
	}
	for i := 0; i < 2; i++ {
		fg.decisions = append(fg.decisions, model.Decision{
			ID: "s" + string(rune('a'+i)), Module: "caching", Statement: "Use  Postgres",
			Outcome: "success", Confidence: 0.8,
		})
	}
	cal := &fakeCal{profiles: map[string]calibration.Profile{
		"caching": {Domain: "caching", MeanSuccessRate: 0.5, SampleSize: 6, Trend: calibration.TrendStable},
	}}

	b := NewBuilder(fg, cal, []string{"no schema changes on Fridays"}, logging.Nop())
	b.now = fixedClock()
	pc, err := b.Build(context.Background(), "caching", "sprint-12")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if len(pc.PastPlans) != 1 || pc.PastPlans[0].EngramID != "eng_1" {
		t.Fatalf("past plans = %+v", pc.PastPlans)
	}
	if len(pc.FailedApproaches) != 1 || pc.FailedApproaches[0].Statement != "use mongo for everything" || pc.FailedApproaches[0].Count != 4 {
		t.Fatalf("failed approaches = %+v", pc.FailedApproaches)
	}
	if len(pc.SuccessfulPatterns) != 1 || pc.SuccessfulPatterns[0].Statement != "use postgres" {
		t.Fatalf("successful patterns = %+v", pc.SuccessfulPatterns)
	}
	if pc.Calibration == nil {
		t.Fatal("calibration note missing")
	}
	wantGap := (0.9*4+0.8*2)/6 - 0.5
	if math.Abs(pc.Calibration.ConfidenceGap-wantGap) > 1e-9 {
		t.Fatalf("gap = %v, want %v", pc.Calibration.ConfidenceGap, wantGap)
	}
	if !strings.Contains(pc.Calibration.Note, "hot") {
		t.Fatalf("note = %q, want overconfidence wording", pc.Calibration.Note)
	}
	if len(pc.Constraints) != 1 {
		t.Fatalf("constraints = %v", pc.Constraints)
	}

	var padRec, avoidRec bool
	for _, rec := range pc.Recommendations {
		if strings.Contains(rec, "Pad effort estimates") {
			padRec = true
		}
		if strings.Contains(rec, "use mongo for everything") {
			avoidRec = true
		}
	}
	if !padRec || !avoidRec {
		t.Fatalf("recommendations = %v", pc.Recommendations)
	}
}

func TestBuildWithoutProfileOmitsCalibration(t *testing.T) {
	fg := &fakeGraph{}
	b := NewBuilder(fg, &fakeCal{profiles: map[string]calibration.Profile{}}, nil, logging.Nop())
	b.now = fixedClock()
	pc, err := b.Build(context.Background(), "fresh", "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if pc.Calibration != nil {
		t.Fatalf("calibration = %+v, want nil for unseen domain", pc.Calibration)
	}
}

func newTestValidator(fg *fakeGraph, cal CalibrationReader) *Validator {
	v := NewValidator(fg, cal, logging.Nop())
	v.now = fixedClock()
	return v
}

func TestValidateFlagsNegativeKnowledgeOverlap(t *testing.T) {
	fg := &fakeGraph{
		nk: []model.NegativeKnowledge{{
			Hypothesis:     "redis cluster failover loses writes",
			Severity:       model.SeverityHigh,
			Recommendation: "use a single primary with replicas",
		}},
		failedByKeyword: map[string][]model.Decision{},
	}
	v := newTestValidator(fg, &fakeCal{})

	report, err := v.Validate(context.Background(), []string{"use redis cluster for sessions"}, "caching")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.WarningsCount != 1 {
		t.Fatalf("warnings = %+v", report.Warnings)
	}
	w := report.Warnings[0]
	if w.Source != SourceNegativeKnowledge || w.Severity != "high" || w.StepIndex != 0 {
		t.Fatalf("warning = %+v", w)
	}
	if w.Suggestion != "use a single primary with replicas" {
		t.Fatalf("suggestion = %q", w.Suggestion)
	}
	if report.CanProceed {
		t.Fatal("high severity must block the plan")
	}
}

func TestValidateShortTermOverlapBlocksPlan(t *testing.T) {
	fg := &fakeGraph{
		nk: []model.NegativeKnowledge{{
			Hypothesis:     "custom JWT implementation",
			Severity:       model.SeverityHigh,
			Recommendation: "use established library",
		}},
		failedByKeyword: map[string][]model.Decision{},
	}
	v := newTestValidator(fg, &fakeCal{})

	report, err := v.Validate(context.Background(), []string{"Implement custom JWT library", "Add login form"}, "auth")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.HighSeverity != 1 || report.WarningsCount != 1 {
		t.Fatalf("report = %+v, want one high warning on the jwt step", report)
	}
	w := report.Warnings[0]
	if w.StepIndex != 0 || w.Source != SourceNegativeKnowledge || w.Severity != "high" {
		t.Fatalf("warning = %+v", w)
	}
	if report.CanProceed {
		t.Fatal("high severity must block the plan")
	}
}

func TestValidateSingleWordOverlapIsQuiet(t *testing.T) {
	fg := &fakeGraph{
		nk:              []model.NegativeKnowledge{{Hypothesis: "redis snapshots stall under load", Severity: model.SeverityHigh}},
		failedByKeyword: map[string][]model.Decision{},
	}
	v := newTestValidator(fg, &fakeCal{})
	report, err := v.Validate(context.Background(), []string{"document redis usage"}, "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.WarningsCount != 0 {
		t.Fatalf("warnings = %+v, want none for one shared word", report.Warnings)
	}
}

func TestValidateAntiPatternSeverityBands(t *testing.T) {
	fg := &fakeGraph{
		aps: []model.AntiPattern{
			{Name: "global-singleton", RegexPattern: `global\s+singleton`, RemovalRate: 0.8},
			{Name: "shared-mutable", RegexPattern: `shared\s+mutable`, RemovalRate: 0.6},
			{Name: "long-method", RegexPattern: `god\s+function`, RemovalRate: 0.3},
		},
		failedByKeyword: map[string][]model.Decision{},
	}
	v := newTestValidator(fg, &fakeCal{})

	steps := []string{
		"introduce a Global Singleton registry",
		"keep shared MUTABLE counters",
		"collect logic in one god function",
	}
	report, err := v.Validate(context.Background(), steps, "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.HighSeverity != 1 || report.MediumSeverity != 1 || report.LowSeverity != 1 {
		t.Fatalf("severity counts = %d/%d/%d, warnings %+v",
			report.HighSeverity, report.MediumSeverity, report.LowSeverity, report.Warnings)
	}
	if report.Warnings[0].Severity != "high" || report.Warnings[2].Severity != "low" {
		t.Fatalf("warnings unsorted: %+v", report.Warnings)
	}
	if report.CanProceed {
		t.Fatal("high severity must block")
	}
}

func TestValidatePastFailureKeywords(t *testing.T) {
	fg := &fakeGraph{
		failedByKeyword: map[string][]model.Decision{
			"websocket": {{Statement: "stream everything over one websocket"}},
		},
	}
	v := newTestValidator(fg, &fakeCal{})

	report, err := v.Validate(context.Background(), []string{"migrate websocket gateway"}, "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.MediumSeverity != 1 || report.WarningsCount != 1 {
		t.Fatalf("report = %+v", report)
	}
	w := report.Warnings[0]
	if w.Source != SourcePastFailure || !strings.Contains(w.Message, "websocket") {
		t.Fatalf("warning = %+v", w)
	}
	if !report.CanProceed {
		t.Fatal("medium severity alone must not block")
	}
}

func TestValidateOverconfidenceIsPlanLevel(t *testing.T) {
	fg := &fakeGraph{failedByKeyword: map[string][]model.Decision{}}
	for i := 0; i < 5; i++ {
		fg.decisions = append(fg.decisions, model.Decision{
			ID: "d" + string(rune('a'+i)), Module: "auth", Statement: "short", Outcome: "failure", Confidence: 0.9,
		})
	}
	cal := &fakeCal{profiles: map[string]calibration.Profile{
		"auth": {Domain: "auth", MeanSuccessRate: 0.3, SampleSize: 5},
	}}
	v := newTestValidator(fg, cal)

	report, err := v.Validate(context.Background(), []string{"ship it"}, "auth")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.LowSeverity != 1 || report.WarningsCount != 1 {
		t.Fatalf("report = %+v", report)
	}
	if report.Warnings[0].StepIndex != -1 || report.Warnings[0].Source != SourceCalibration {
		t.Fatalf("warning = %+v", report.Warnings[0])
	}
}

func TestValidateCriticalSeverityCapsToHigh(t *testing.T) {
	fg := &fakeGraph{
		nk: []model.NegativeKnowledge{{
			Hypothesis: "dropping foreign keys corrupts billing data",
			Severity:   model.SeverityCritical,
		}},
		failedByKeyword: map[string][]model.Decision{},
	}
	v := newTestValidator(fg, &fakeCal{})

	report, err := v.Validate(context.Background(), []string{"dropping foreign keys from billing"}, "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.HighSeverity != 1 {
		t.Fatalf("report = %+v, want critical counted as high", report)
	}
}

func TestValidateCleanPlan(t *testing.T) {
	fg := &fakeGraph{failedByKeyword: map[string][]model.Decision{}}
	v := newTestValidator(fg, &fakeCal{})

	report, err := v.Validate(context.Background(), []string{"write the design note", "review with team"}, "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.TotalSteps != 2 || report.WarningsCount != 0 || !report.CanProceed {
		t.Fatalf("report = %+v", report)
	}
	if report.Timestamp != 1700000000 {
		t.Fatalf("timestamp = %d", report.Timestamp)
	}
}
