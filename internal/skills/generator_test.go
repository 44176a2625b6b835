package skills

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"membria/internal/calibration"
	"membria/internal/logging"
	"membria/internal/model"
)

type fakeGraph struct {
	decisions []model.Decision
	nk        []model.NegativeKnowledge
	latest    map[string]int
	added     []model.Skill
}

func (f *fakeGraph) RecentDecisionsByDomain(_ context.Context, domain string, limit int) ([]model.Decision, error) {
	var out []model.Decision
	for _, d := range f.decisions {
		if d.Module == domain {
			out = append(out, d)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeGraph) ListNegativeKnowledge(_ context.Context, domain string, limit int) ([]model.NegativeKnowledge, error) {
	var out []model.NegativeKnowledge
	for _, entry := range f.nk {
		if entry.Domain == domain && len(out) < limit {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeGraph) LatestSkillVersion(_ context.Context, domain string) (int, error) {
	return f.latest[domain], nil
}

func (f *fakeGraph) AddSkill(_ context.Context, sk model.Skill) (model.Skill, error) {
	f.added = append(f.added, sk)
	return sk, nil
}

type fakeCal struct {
	profiles map[string]calibration.Profile
}

func (f *fakeCal) Profile(_ context.Context, domain string) (calibration.Profile, bool, error) {
	p, ok := f.profiles[domain]
	return p, ok, nil
}

func (f *fakeCal) Profiles(_ context.Context) ([]calibration.Profile, error) {
	out := make([]calibration.Profile, 0, len(f.profiles))
	for _, p := range f.profiles {
		out = append(out, p)
	}
	return out, nil
}

func decisionRun(domain, statement string, successes, failures int) []model.Decision {
	var out []model.Decision
	for i := 0; i < successes; i++ {
		out = append(out, model.Decision{ID: statement + "-s" + string(rune('a'+i)), Module: domain, Statement: statement, Outcome: "success"})
	}
	for i := 0; i < failures; i++ {
		out = append(out, model.Decision{ID: statement + "-f" + string(rune('a'+i)), Module: domain, Statement: statement, Outcome: "failure"})
	}
	return out
}

func newTestGenerator(g *fakeGraph, cal CalibrationReader) *Generator {
	gen := NewGenerator(g, cal, logging.Nop())
	gen.now = func() time.Time { return time.Unix(1700000000, 0) }
	return gen
}

func TestNormalizeStatement(t *testing.T) {
	if got := NormalizeStatement("  Use   REDIS\tcache "); got != "use redis cache" {
		t.Fatalf("normalized = %q", got)
	}
}

func TestExtractPatternsGroupsAndOrders(t *testing.T) {
	fg := &fakeGraph{latest: map[string]int{}}
	fg.decisions = append(fg.decisions, decisionRun("caching", "use redis", 3, 1)...)
	fg.decisions = append(fg.decisions, decisionRun("caching", "Use  POSTGRES", 3, 0)...)
	fg.decisions = append(fg.decisions, decisionRun("caching", "use mongo", 2, 0)...) // below min sample
	fg.decisions = append(fg.decisions, model.Decision{ID: "p1", Module: "caching", Statement: "use redis", Outcome: "pending"})

	gen := newTestGenerator(fg, &fakeCal{})
	patterns, err := gen.ExtractPatterns(context.Background(), "caching", 0, 0)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("patterns = %+v, want 2", patterns)
	}
	if patterns[0].Statement != "use postgres" || patterns[0].SuccessRate != 1 || patterns[0].SampleSize != 3 {
		t.Fatalf("first = %+v, want postgres at 100%%", patterns[0])
	}
	if patterns[1].Statement != "use redis" || patterns[1].SuccessRate != 0.75 || patterns[1].SampleSize != 4 {
		t.Fatalf("second = %+v, want redis at 75%% of 4 (pending excluded)", patterns[1])
	}
	if len(patterns[1].SupportingDecisions) != 4 {
		t.Fatalf("supporting = %v", patterns[1].SupportingDecisions)
	}
}

func TestExtractPatternsTieBreaksBySampleSize(t *testing.T) {
	fg := &fakeGraph{latest: map[string]int{}}
	fg.decisions = append(fg.decisions, decisionRun("auth", "rotate keys weekly", 3, 3)...)
	fg.decisions = append(fg.decisions, decisionRun("auth", "pin jwt libraries", 2, 2)...)

	gen := newTestGenerator(fg, &fakeCal{})
	patterns, err := gen.ExtractPatterns(context.Background(), "auth", 0, 3)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(patterns) != 2 || patterns[0].Statement != "rotate keys weekly" {
		t.Fatalf("patterns = %+v, want larger sample first on equal rate", patterns)
	}
}

func TestQualityScoreInvariant(t *testing.T) {
	if got := QualityScore(0.9, 9); math.Abs(got-0.6) > 1e-9 {
		t.Fatalf("quality(0.9, 9) = %v, want 0.6", got)
	}
	if got := QualityScore(0.9, 2); got != 0.5 {
		t.Fatalf("quality below sample floor = %v, want 0.5", got)
	}
	rate, n := 6.0/11.0, 11
	want := rate * (1 - 1/math.Sqrt(float64(n)))
	if got := QualityScore(rate, n); math.Abs(got-want) > 1e-9 {
		t.Fatalf("quality = %v, want %v", got, want)
	}
}

func TestGenerateRequiresThreePatterns(t *testing.T) {
	fg := &fakeGraph{latest: map[string]int{}}
	fg.decisions = append(fg.decisions, decisionRun("caching", "use redis", 3, 0)...)
	fg.decisions = append(fg.decisions, decisionRun("caching", "use postgres", 3, 0)...)
	cal := &fakeCal{profiles: map[string]calibration.Profile{"caching": {Domain: "caching", MeanSuccessRate: 0.8, SampleSize: 6}}}

	gen := newTestGenerator(fg, cal)
	_, generated, err := gen.Generate(context.Background(), "caching")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if generated || len(fg.added) != 0 {
		t.Fatal("skill generated from two patterns")
	}
}

func TestGenerateRequiresCalibrationProfile(t *testing.T) {
	fg := &fakeGraph{latest: map[string]int{}}
	for _, stmt := range []string{"a b c", "d e f", "g h i"} {
		fg.decisions = append(fg.decisions, decisionRun("caching", stmt, 3, 0)...)
	}

	gen := newTestGenerator(fg, &fakeCal{profiles: map[string]calibration.Profile{}})
	_, generated, err := gen.Generate(context.Background(), "caching")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if generated {
		t.Fatal("skill generated without calibration profile")
	}
}

func TestGenerateComposesSkill(t *testing.T) {
	fg := &fakeGraph{latest: map[string]int{"database": 2}}
	fg.decisions = append(fg.decisions, decisionRun("database", "use postgres for relational data", 4, 0)...)
	fg.decisions = append(fg.decisions, decisionRun("database", "use redis for hot cache", 2, 2)...)
	fg.decisions = append(fg.decisions, decisionRun("database", "use mongo for everything", 0, 3)...)
	fg.nk = []model.NegativeKnowledge{{
		Domain:         "database",
		Hypothesis:     "schemaless user tables drift",
		Recommendation: "define migrations up front",
	}}
	cal := &fakeCal{profiles: map[string]calibration.Profile{
		"database": {Domain: "database", MeanSuccessRate: 0.6, SampleSize: 11, Trend: calibration.TrendStable},
	}}

	gen := newTestGenerator(fg, cal)
	sk, generated, err := gen.Generate(context.Background(), "database")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !generated {
		t.Fatal("skill not generated")
	}

	if sk.ID != "sk-database-v3" || sk.Version != 3 {
		t.Fatalf("id/version = %s/%d, want sk-database-v3", sk.ID, sk.Version)
	}
	if len(sk.GreenZone) != 1 || sk.GreenZone[0] != "use postgres for relational data" {
		t.Fatalf("green = %v", sk.GreenZone)
	}
	if len(sk.YellowZone) != 1 || sk.YellowZone[0] != "use redis for hot cache" {
		t.Fatalf("yellow = %v", sk.YellowZone)
	}
	if len(sk.RedZone) != 1 || sk.RedZone[0] != "use mongo for everything" {
		t.Fatalf("red = %v", sk.RedZone)
	}

	if sk.SampleSize != 11 {
		t.Fatalf("sample size = %d, want 11", sk.SampleSize)
	}
	wantRate := 6.0 / 11.0
	if math.Abs(sk.SuccessRate-wantRate) > 1e-9 {
		t.Fatalf("success rate = %v, want %v", sk.SuccessRate, wantRate)
	}
	wantQuality := wantRate * (1 - 1/math.Sqrt(11))
	if math.Abs(sk.QualityScore-wantQuality) > 1e-9 {
		t.Fatalf("quality = %v, want %v", sk.QualityScore, wantQuality)
	}
	if len(sk.GeneratedFromDecisions) != 11 {
		t.Fatalf("generated_from = %d ids, want 11", len(sk.GeneratedFromDecisions))
	}

	if sk.TTLDays != skillTTLDays {
		t.Fatalf("ttl = %d, want %d", sk.TTLDays, skillTTLDays)
	}
	if sk.NextReview != sk.CreatedAt+reviewAfterDays*86400 {
		t.Fatalf("next review = %d, created = %d", sk.NextReview, sk.CreatedAt)
	}

	for _, heading := range []string{"## Team Experience", "## Strongly Recommend", "## Consider Carefully", "## Avoid", "## Known Failures"} {
		if !strings.Contains(sk.Procedure, heading) {
			t.Fatalf("procedure missing %q:\n%s", heading, sk.Procedure)
		}
	}
	if !strings.Contains(sk.Procedure, "schemaless user tables drift") {
		t.Fatalf("procedure missing NK entry:\n%s", sk.Procedure)
	}
	if len(fg.added) != 1 {
		t.Fatalf("persisted %d skills, want 1", len(fg.added))
	}
}

func TestGenerateAllSkipsIneligibleDomains(t *testing.T) {
	fg := &fakeGraph{latest: map[string]int{}}
	for _, stmt := range []string{"a b c", "d e f", "g h i"} {
		fg.decisions = append(fg.decisions, decisionRun("ready", stmt, 3, 0)...)
	}
	fg.decisions = append(fg.decisions, decisionRun("sparse", "only one pattern", 3, 0)...)
	cal := &fakeCal{profiles: map[string]calibration.Profile{
		"ready":  {Domain: "ready", MeanSuccessRate: 0.9, SampleSize: 9},
		"sparse": {Domain: "sparse", MeanSuccessRate: 0.5, SampleSize: 3},
	}}

	gen := newTestGenerator(fg, cal)
	generated, err := gen.GenerateAll(context.Background())
	if err != nil {
		t.Fatalf("generate all: %v", err)
	}
	if len(generated) != 1 || generated[0].Domain != "ready" {
		t.Fatalf("generated = %+v, want only the ready domain", generated)
	}
}
