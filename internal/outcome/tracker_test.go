package outcome

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"membria/internal/calibration"
	"membria/internal/graph"
	"membria/internal/logging"
	"membria/internal/model"
)

type fakeGraph struct {
	outcomes   map[string]*model.Outcome
	byDecision map[string]string
	changes    []model.CodeChange
	rels       []string
	verdicts   map[string]string
	seq        int
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		outcomes:   make(map[string]*model.Outcome),
		byDecision: make(map[string]string),
		verdicts:   make(map[string]string),
	}
}

func (g *fakeGraph) CreateOutcome(_ context.Context, o model.Outcome) (model.Outcome, bool, error) {
	if id, ok := g.byDecision[o.DecisionID]; ok {
		return *g.outcomes[id], false, nil
	}
	g.seq++
	o.ID = fmt.Sprintf("out_%d", g.seq)
	o.Status = model.OutcomePending
	o.IsActive = true
	g.outcomes[o.ID] = &o
	g.byDecision[o.DecisionID] = o.ID
	return o, true, nil
}

func (g *fakeGraph) GetOutcome(_ context.Context, id string) (model.Outcome, error) {
	o, ok := g.outcomes[id]
	if !ok {
		return model.Outcome{}, graph.ErrNotFound
	}
	return *o, nil
}

func (g *fakeGraph) GetOutcomeByDecision(_ context.Context, decisionID string) (model.Outcome, error) {
	id, ok := g.byDecision[decisionID]
	if !ok {
		return model.Outcome{}, graph.ErrNotFound
	}
	return *g.outcomes[id], nil
}

func (g *fakeGraph) SaveOutcome(_ context.Context, o model.Outcome) error {
	if _, ok := g.outcomes[o.ID]; !ok {
		return graph.ErrNotFound
	}
	g.outcomes[o.ID] = &o
	return nil
}

func (g *fakeGraph) UpdateDecisionOutcome(_ context.Context, id, outcome string, _ float64, _ int64) error {
	g.verdicts[id] = outcome
	return nil
}

func (g *fakeGraph) AddCodeChange(_ context.Context, cc model.CodeChange) (model.CodeChange, error) {
	for _, existing := range g.changes {
		if existing.CommitSHA == cc.CommitSHA {
			return existing, nil
		}
	}
	cc.ID = fmt.Sprintf("cc_%d", len(g.changes)+1)
	g.changes = append(g.changes, cc)
	return cc, nil
}

func (g *fakeGraph) CreateRelationship(_ context.Context, fromLabel, fromID, relType, toLabel, toID string, _ map[string]any) error {
	g.rels = append(g.rels, fmt.Sprintf("%s:%s-%s->%s:%s", fromLabel, fromID, relType, toLabel, toID))
	return nil
}

type fakeCalibrator struct {
	domains   []string
	successes []bool
}

func (c *fakeCalibrator) Record(_ context.Context, domain string, success bool) (calibration.Profile, error) {
	c.domains = append(c.domains, domain)
	c.successes = append(c.successes, success)
	return calibration.Profile{Domain: domain, MeanSuccessRate: 2.0 / 3.0, SampleSize: 1, Trend: calibration.TrendUnknown}, nil
}

func newTestTracker(g *fakeGraph, cal Calibrator) *Tracker {
	tr := NewTracker(g, cal, logging.Nop())
	ts := int64(1700000000)
	tr.now = func() time.Time { return time.Unix(ts, 0) }
	return tr
}

func TestRecordPRCreatedAdvancesToSubmitted(t *testing.T) {
	g := newFakeGraph()
	tr := newTestTracker(g, nil)

	o, err := tr.RecordPRCreated(context.Background(), "dec_1", 42, "https://git.test/pr/42", "feature/cache")
	if err != nil {
		t.Fatalf("record pr created: %v", err)
	}
	if o.Status != model.OutcomeSubmitted {
		t.Fatalf("status = %s, want submitted", o.Status)
	}
	if o.PRNumber != 42 || o.SubmittedAt == 0 {
		t.Fatalf("pr fields not stamped: %+v", o)
	}
	if len(o.Signals) != 1 || o.Signals[0].Type != model.SignalPRCreated {
		t.Fatalf("signals = %+v, want one PR_CREATED", o.Signals)
	}
	if o.Signals[0].Valence != model.ValencePositive {
		t.Fatalf("valence = %s, want positive", o.Signals[0].Valence)
	}
}

func TestRecordPRCreatedIsIdempotent(t *testing.T) {
	g := newFakeGraph()
	tr := newTestTracker(g, nil)
	ctx := context.Background()

	first, err := tr.RecordPRCreated(ctx, "dec_1", 42, "", "")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := tr.RecordPRCreated(ctx, "dec_1", 43, "", "")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.SubmittedAt != first.SubmittedAt || second.PRNumber != 42 {
		t.Fatalf("second delivery mutated the outcome: %+v", second)
	}
	if len(second.Signals) != 1 {
		t.Fatalf("signals = %d, want 1", len(second.Signals))
	}
}

func TestRecordPRMergedTwiceKeepsFirstMergedAt(t *testing.T) {
	g := newFakeGraph()
	tr := newTestTracker(g, nil)
	ctx := context.Background()

	if _, err := tr.RecordPRCreated(ctx, "dec_1", 42, "", ""); err != nil {
		t.Fatalf("pr created: %v", err)
	}
	first, err := tr.RecordPRMerged(ctx, "dec_1", 42)
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}

	tr.now = func() time.Time { return time.Unix(1700009999, 0) }
	second, err := tr.RecordPRMerged(ctx, "dec_1", 42)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if second.MergedAt != first.MergedAt {
		t.Fatalf("merged_at moved from %d to %d", first.MergedAt, second.MergedAt)
	}
	if got := countSignals(second, model.SignalPRMerged); got != 1 {
		t.Fatalf("PR_MERGED signals = %d, want 1", got)
	}
}

func TestRecordCIResultValence(t *testing.T) {
	g := newFakeGraph()
	tr := newTestTracker(g, nil)
	ctx := context.Background()

	o, err := tr.RecordCIResult(ctx, "dec_1", false, "unit tests failed")
	if err != nil {
		t.Fatalf("ci result: %v", err)
	}
	if o.Status != model.OutcomePending {
		t.Fatalf("status = %s, signals must not move the state machine", o.Status)
	}
	if o.Signals[0].Type != model.SignalCIFailed || o.Signals[0].Valence != model.ValenceNegative {
		t.Fatalf("signal = %+v, want negative CI_FAILED", o.Signals[0])
	}

	o, err = tr.RecordCIResult(ctx, "dec_1", true, "retry passed")
	if err != nil {
		t.Fatalf("ci result: %v", err)
	}
	if o.Signals[1].Type != model.SignalCIPassed || o.Signals[1].Valence != model.ValencePositive {
		t.Fatalf("signal = %+v, want positive CI_PASSED", o.Signals[1])
	}
}

func TestClassifyPerformance(t *testing.T) {
	cases := []struct {
		name    string
		metrics map[string]any
		want    string
	}{
		{"fast and busy", map[string]any{"avg_latency_ms": 50.0, "throughput_rps": 2000.0}, model.SignalPerformanceOK},
		{"fast but idle", map[string]any{"avg_latency_ms": 50.0, "throughput_rps": 100.0}, model.SignalPerformancePoor},
		{"slow", map[string]any{"avg_latency_ms": 250.0, "throughput_rps": 2000.0}, model.SignalPerformancePoor},
		{"missing metrics", map[string]any{}, model.SignalPerformancePoor},
		{"integer metrics", map[string]any{"avg_latency_ms": 50, "throughput_rps": 2000}, model.SignalPerformanceOK},
	}
	for _, tc := range cases {
		if got, _ := ClassifyPerformance(tc.metrics); got != tc.want {
			t.Fatalf("%s: classified %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestRecordCommitLinksChangeOnce(t *testing.T) {
	g := newFakeGraph()
	tr := newTestTracker(g, nil)
	ctx := context.Background()

	o, err := tr.RecordCommit(ctx, "dec_1", "abc123d", "Implement decision dec_1", []string{"cache.go"})
	if err != nil {
		t.Fatalf("record commit: %v", err)
	}
	if o.CodeChangeID == "" {
		t.Fatal("outcome not linked to code change")
	}
	if len(g.changes) != 1 || g.changes[0].CommitSHA != "abc123d" {
		t.Fatalf("changes = %+v, want one for abc123d", g.changes)
	}
	if len(g.rels) != 1 || g.rels[0] != "CodeChange:cc_1-RESULTED_IN->Outcome:out_1" {
		t.Fatalf("rels = %v", g.rels)
	}

	// Same sha again: no new change, no new signal.
	o, err = tr.RecordCommit(ctx, "dec_1", "abc123d", "Implement decision dec_1", nil)
	if err != nil {
		t.Fatalf("repeat commit: %v", err)
	}
	if len(g.changes) != 1 || countSignals(o, model.SignalCommit) != 1 {
		t.Fatalf("repeat delivery duplicated the commit: changes=%d signals=%d",
			len(g.changes), countSignals(o, model.SignalCommit))
	}
}

func TestFinalizeWritesVerdictAndCalibrates(t *testing.T) {
	g := newFakeGraph()
	cal := &fakeCalibrator{}
	tr := newTestTracker(g, cal)
	ctx := context.Background()

	if _, _, err := tr.EnsureOutcome(ctx, "dec_1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	o, impact, err := tr.Finalize(ctx, "dec_1", FinalSuccess, 0.9, "worked first try", "database")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if o.Status != model.OutcomeCompleted || o.FinalStatus != FinalSuccess || o.CompletedAt == 0 {
		t.Fatalf("outcome not completed: %+v", o)
	}
	if g.verdicts["dec_1"] != FinalSuccess {
		t.Fatalf("decision verdict = %q, want success", g.verdicts["dec_1"])
	}
	if impact == nil || impact.Domain != "database" || impact.SampleSize != 1 {
		t.Fatalf("impact = %+v", impact)
	}
	if len(cal.domains) != 1 || !cal.successes[0] {
		t.Fatalf("calibrator calls = %v %v", cal.domains, cal.successes)
	}
}

func TestFinalizeTwiceIsIdempotent(t *testing.T) {
	g := newFakeGraph()
	cal := &fakeCalibrator{}
	tr := newTestTracker(g, cal)
	ctx := context.Background()

	if _, _, err := tr.EnsureOutcome(ctx, "dec_1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, _, err := tr.Finalize(ctx, "dec_1", FinalFailure, 0.2, "", "auth"); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	o, impact, err := tr.Finalize(ctx, "dec_1", FinalSuccess, 0.9, "", "auth")
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if o.FinalStatus != FinalFailure {
		t.Fatalf("second finalize rewrote verdict to %q", o.FinalStatus)
	}
	if impact != nil || len(cal.domains) != 1 {
		t.Fatalf("second finalize touched calibration: impact=%+v calls=%d", impact, len(cal.domains))
	}
}

func TestFinalizeRejectsUnknownStatus(t *testing.T) {
	tr := newTestTracker(newFakeGraph(), nil)
	if _, _, err := tr.Finalize(context.Background(), "dec_1", "sorta-worked", 0.5, "", ""); err == nil {
		t.Fatal("expected invalid status error")
	}
}

func TestUpdateOutcomeMissingIsNotFound(t *testing.T) {
	tr := newTestTracker(newFakeGraph(), nil)
	_, err := tr.UpdateOutcome(context.Background(), "out_missing", OutcomePatch{})
	if !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestUpdateOutcomeRejectsBackwardStatus(t *testing.T) {
	g := newFakeGraph()
	tr := newTestTracker(g, nil)
	ctx := context.Background()

	if _, err := tr.RecordPRMerged(ctx, "dec_1", 7); err != nil {
		t.Fatalf("merge: %v", err)
	}
	status := string(model.OutcomeSubmitted)
	if _, err := tr.UpdateOutcome(ctx, g.byDecision["dec_1"], OutcomePatch{Status: &status}); err == nil {
		t.Fatal("expected forward-only violation")
	}
}

func TestUpdateOutcomePatchesFields(t *testing.T) {
	g := newFakeGraph()
	tr := newTestTracker(g, nil)
	ctx := context.Background()

	created, _, err := tr.EnsureOutcome(ctx, "dec_1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	evidence := "latency charts attached"
	impactVal := -0.2
	o, err := tr.UpdateOutcome(ctx, created.ID, OutcomePatch{Evidence: &evidence, PerformanceImpact: &impactVal})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if o.Evidence != evidence || o.PerformanceImpact != impactVal || o.MeasuredAt == 0 {
		t.Fatalf("patch not applied: %+v", o)
	}
}

func TestEstimateSuccess(t *testing.T) {
	mk := func(valences ...string) model.Outcome {
		var o model.Outcome
		for _, v := range valences {
			o.Signals = append(o.Signals, model.Signal{Valence: v})
		}
		return o
	}
	pos, neg, neu := model.ValencePositive, model.ValenceNegative, model.ValenceNeutral

	cases := []struct {
		name string
		o    model.Outcome
		want float64
	}{
		{"no signals", mk(), 0.5},
		{"two up one down", mk(pos, pos, neg), 0.6},
		{"neutral ignored", mk(neu, neu, pos), 0.6},
		{"clamped low", mk(neg, neg, neg, neg, neg, neg, neg), 0},
		{"clamped high", mk(pos, pos, pos, pos, pos, pos, pos), 1},
	}
	for _, tc := range cases {
		if got := EstimateSuccess(tc.o); !floatClose(got, tc.want) {
			t.Fatalf("%s: estimate = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCheckSuccessCriteria(t *testing.T) {
	g := newFakeGraph()
	tr := newTestTracker(g, nil)
	ctx := context.Background()

	// Three positives and one negative: estimate 0.7, still flagged.
	if _, err := tr.RecordPRCreated(ctx, "dec_1", 1, "", ""); err != nil {
		t.Fatalf("pr: %v", err)
	}
	if _, err := tr.RecordPRMerged(ctx, "dec_1", 1); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if _, err := tr.RecordCIResult(ctx, "dec_1", true, ""); err != nil {
		t.Fatalf("ci: %v", err)
	}
	if _, err := tr.RecordIncident(ctx, "dec_1", "pager fired", "high"); err != nil {
		t.Fatalf("incident: %v", err)
	}

	report, err := tr.CheckSuccessCriteria(ctx, "dec_1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.PositiveSignals != 3 || report.NegativeSignals != 1 {
		t.Fatalf("counts = +%d/-%d, want +3/-1", report.PositiveSignals, report.NegativeSignals)
	}
	if !floatClose(report.EstimatedSuccess, 0.7) {
		t.Fatalf("estimate = %v, want 0.7", report.EstimatedSuccess)
	}
	if !report.NeedsAttention {
		t.Fatal("any negative signal must flag attention")
	}

	// A clean outcome does not need attention.
	if _, err := tr.RecordPRCreated(ctx, "dec_2", 2, "", ""); err != nil {
		t.Fatalf("pr: %v", err)
	}
	report, err = tr.CheckSuccessCriteria(ctx, "dec_2")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.NeedsAttention {
		t.Fatalf("clean outcome flagged: %+v", report)
	}
}

func TestSignalTimestampsAreMonotonic(t *testing.T) {
	g := newFakeGraph()
	tr := newTestTracker(g, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := tr.RecordCIResult(ctx, "dec_1", true, ""); err != nil {
			t.Fatalf("ci %d: %v", i, err)
		}
	}
	o, err := tr.graph.GetOutcomeByDecision(ctx, "dec_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for i := 1; i < len(o.Signals); i++ {
		if o.Signals[i].Timestamp <= o.Signals[i-1].Timestamp {
			t.Fatalf("timestamps not increasing: %d then %d", o.Signals[i-1].Timestamp, o.Signals[i].Timestamp)
		}
	}
}

func countSignals(o model.Outcome, sigType string) int {
	n := 0
	for _, sig := range o.Signals {
		if sig.Type == sigType {
			n++
		}
	}
	return n
}

func floatClose(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
