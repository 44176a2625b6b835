// Package outcome drives the per-decision outcome state machine: it appends
// webhook-derived signals, advances pending → submitted → merged → completed,
// estimates success from signal valence, and feeds finalized outcomes into
// calibration.
package outcome

import (
	"context"
	"fmt"
	"time"

	"membria/internal/calibration"
	"membria/internal/logging"
	"membria/internal/model"
)

// signalWeight is the per-signal nudge applied to the 0.5 baseline estimate.
const signalWeight = 0.1

// GraphStore is the slice of the graph layer the tracker writes through.
type GraphStore interface {
	CreateOutcome(ctx context.Context, o model.Outcome) (model.Outcome, bool, error)
	GetOutcome(ctx context.Context, id string) (model.Outcome, error)
	GetOutcomeByDecision(ctx context.Context, decisionID string) (model.Outcome, error)
	SaveOutcome(ctx context.Context, o model.Outcome) error
	UpdateDecisionOutcome(ctx context.Context, id, outcome string, successRate float64, resolvedAt int64) error
	AddCodeChange(ctx context.Context, cc model.CodeChange) (model.CodeChange, error)
	CreateRelationship(ctx context.Context, fromLabel, fromID, relType, toLabel, toID string, props map[string]any) error
}

// Calibrator folds finalized outcomes into per-domain posteriors.
type Calibrator interface {
	Record(ctx context.Context, domain string, success bool) (calibration.Profile, error)
}

// CalibrationImpact summarizes the posterior after a finalize touched it.
type CalibrationImpact struct {
	Domain          string  `json:"domain"`
	Alpha           float64 `json:"alpha"`
	Beta            float64 `json:"beta"`
	MeanSuccessRate float64 `json:"mean_success_rate"`
	SampleSize      int     `json:"sample_size"`
	Trend           string  `json:"trend"`
}

// Tracker mediates all outcome mutations. Decisions only learn their final
// outcome through Finalize.
type Tracker struct {
	graph  GraphStore
	cal    Calibrator
	logger logging.Logger

	now func() time.Time
}

// NewTracker wires the tracker to the graph and an optional calibrator.
func NewTracker(graph GraphStore, cal Calibrator, logger logging.Logger) *Tracker {
	if logging.IsNil(logger) {
		logger = logging.Nop()
	}
	return &Tracker{graph: graph, cal: cal, logger: logger, now: time.Now}
}

// EnsureOutcome returns the live outcome for a decision, creating a pending
// one when none exists. Repeated webhook deliveries for the same decision
// converge on one outcome.
func (t *Tracker) EnsureOutcome(ctx context.Context, decisionID string) (model.Outcome, bool, error) {
	return t.graph.CreateOutcome(ctx, model.Outcome{DecisionID: decisionID})
}

// RecordPRCreated advances pending → submitted and appends a PR_CREATED
// signal. A second delivery for an already submitted outcome is a no-op.
func (t *Tracker) RecordPRCreated(ctx context.Context, decisionID string, prNumber int, prURL, branchRef string) (model.Outcome, error) {
	o, _, err := t.EnsureOutcome(ctx, decisionID)
	if err != nil {
		return model.Outcome{}, err
	}
	if o.SubmittedAt != 0 {
		t.logger.Debug("outcome %s already submitted, ignoring pr_created", o.ID)
		return o, nil
	}
	if o.Status.CanAdvanceTo(model.OutcomeSubmitted) {
		o.Status = model.OutcomeSubmitted
	}
	o.SubmittedAt = t.now().Unix()
	o.PRNumber = prNumber
	o.PRURL = prURL
	o.BranchRef = branchRef
	t.appendSignal(&o, model.Signal{
		Type:        model.SignalPRCreated,
		Valence:     model.ValencePositive,
		Description: fmt.Sprintf("PR #%d opened", prNumber),
	})
	if err := t.graph.SaveOutcome(ctx, o); err != nil {
		return model.Outcome{}, err
	}
	return o, nil
}

// RecordPRMerged advances to merged and appends a PR_MERGED signal. A second
// delivery keeps the first merged_at.
func (t *Tracker) RecordPRMerged(ctx context.Context, decisionID string, prNumber int) (model.Outcome, error) {
	o, _, err := t.EnsureOutcome(ctx, decisionID)
	if err != nil {
		return model.Outcome{}, err
	}
	if o.MergedAt != 0 {
		t.logger.Debug("outcome %s already merged, ignoring pr_merged", o.ID)
		return o, nil
	}
	if o.Status.CanAdvanceTo(model.OutcomeMerged) {
		o.Status = model.OutcomeMerged
	}
	o.MergedAt = t.now().Unix()
	if o.PRNumber == 0 {
		o.PRNumber = prNumber
	}
	t.appendSignal(&o, model.Signal{
		Type:        model.SignalPRMerged,
		Valence:     model.ValencePositive,
		Description: fmt.Sprintf("PR #%d merged", prNumber),
	})
	if err := t.graph.SaveOutcome(ctx, o); err != nil {
		return model.Outcome{}, err
	}
	return o, nil
}

// RecordCIResult appends a CI_PASSED or CI_FAILED signal without moving the
// state machine.
func (t *Tracker) RecordCIResult(ctx context.Context, decisionID string, passed bool, description string) (model.Outcome, error) {
	o, _, err := t.EnsureOutcome(ctx, decisionID)
	if err != nil {
		return model.Outcome{}, err
	}
	sig := model.Signal{Type: model.SignalCIPassed, Valence: model.ValencePositive, Description: description}
	if !passed {
		sig.Type = model.SignalCIFailed
		sig.Valence = model.ValenceNegative
	}
	t.appendSignal(&o, sig)
	if err := t.graph.SaveOutcome(ctx, o); err != nil {
		return model.Outcome{}, err
	}
	return o, nil
}

// RecordIncident appends a negative INCIDENT signal.
func (t *Tracker) RecordIncident(ctx context.Context, decisionID, description, severity string) (model.Outcome, error) {
	o, _, err := t.EnsureOutcome(ctx, decisionID)
	if err != nil {
		return model.Outcome{}, err
	}
	t.appendSignal(&o, model.Signal{
		Type:        model.SignalIncident,
		Valence:     model.ValenceNegative,
		Description: description,
		Severity:    severity,
	})
	if err := t.graph.SaveOutcome(ctx, o); err != nil {
		return model.Outcome{}, err
	}
	return o, nil
}

// RecordPerformance classifies measured metrics and appends PERFORMANCE_OK or
// PERFORMANCE_POOR.
func (t *Tracker) RecordPerformance(ctx context.Context, decisionID string, metrics map[string]any) (model.Outcome, error) {
	o, _, err := t.EnsureOutcome(ctx, decisionID)
	if err != nil {
		return model.Outcome{}, err
	}
	sigType, valence := ClassifyPerformance(metrics)
	t.appendSignal(&o, model.Signal{
		Type:    sigType,
		Valence: valence,
		Metrics: metrics,
	})
	if err := t.graph.SaveOutcome(ctx, o); err != nil {
		return model.Outcome{}, err
	}
	return o, nil
}

// ClassifyPerformance labels metrics positive only when both latency and
// throughput clear their bars.
func ClassifyPerformance(metrics map[string]any) (sigType, valence string) {
	latency, hasLatency := metricFloat(metrics, "avg_latency_ms")
	throughput, hasThroughput := metricFloat(metrics, "throughput_rps")
	if hasLatency && hasThroughput && latency < 100 && throughput > 1000 {
		return model.SignalPerformanceOK, model.ValencePositive
	}
	return model.SignalPerformancePoor, model.ValenceNegative
}

func metricFloat(metrics map[string]any, key string) (float64, bool) {
	v, ok := metrics[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// RecordCommit appends a neutral COMMIT signal, persists the code change, and
// links it to the outcome. The same commit sha is recorded once.
func (t *Tracker) RecordCommit(ctx context.Context, decisionID, sha, message string, filesChanged []string) (model.Outcome, error) {
	o, _, err := t.EnsureOutcome(ctx, decisionID)
	if err != nil {
		return model.Outcome{}, err
	}
	for _, sig := range o.Signals {
		if sig.Type == model.SignalCommit && sig.Metrics != nil && sig.Metrics["commit_sha"] == sha {
			t.logger.Debug("outcome %s already carries commit %s", o.ID, sha)
			return o, nil
		}
	}

	cc, err := t.graph.AddCodeChange(ctx, model.CodeChange{
		CommitSHA:    sha,
		DecisionID:   decisionID,
		FilesChanged: filesChanged,
		Timestamp:    t.now().Unix(),
	})
	if err != nil {
		return model.Outcome{}, err
	}

	t.appendSignal(&o, model.Signal{
		Type:        model.SignalCommit,
		Valence:     model.ValenceNeutral,
		Description: message,
		Metrics:     map[string]any{"commit_sha": sha},
	})
	o.CodeChangeID = cc.ID
	if err := t.graph.SaveOutcome(ctx, o); err != nil {
		return model.Outcome{}, err
	}
	if err := t.graph.CreateRelationship(ctx, model.LabelCodeChange, cc.ID, model.RelResultedIn, model.LabelOutcome, o.ID, nil); err != nil {
		t.logger.Warn("link code change %s to outcome %s: %v", cc.ID, o.ID, err)
	}
	return o, nil
}

// FinalStatuses accepted by Finalize.
const (
	FinalSuccess = "success"
	FinalFailure = "failure"
	FinalPartial = "partial"
)

// Finalize moves any non-terminal outcome to completed, writes the verdict
// back onto the decision, and updates calibration when a domain is supplied.
// A second finalize returns the already completed outcome untouched.
func (t *Tracker) Finalize(ctx context.Context, decisionID, finalStatus string, finalScore float64, lessonsLearned, domain string) (model.Outcome, *CalibrationImpact, error) {
	switch finalStatus {
	case FinalSuccess, FinalFailure, FinalPartial:
	default:
		return model.Outcome{}, nil, fmt.Errorf("invalid final status %q", finalStatus)
	}

	o, err := t.graph.GetOutcomeByDecision(ctx, decisionID)
	if err != nil {
		return model.Outcome{}, nil, err
	}
	if o.Status == model.OutcomeCompleted {
		t.logger.Warn("outcome %s already completed, ignoring finalize", o.ID)
		return o, nil, nil
	}

	now := t.now().Unix()
	o.Status = model.OutcomeCompleted
	o.CompletedAt = now
	o.FinalStatus = finalStatus
	o.FinalScore = finalScore
	o.LessonsLearned = lessonsLearned
	o.MeasuredAt = now
	if err := t.graph.SaveOutcome(ctx, o); err != nil {
		return model.Outcome{}, nil, err
	}
	if err := t.graph.UpdateDecisionOutcome(ctx, decisionID, finalStatus, finalScore, now); err != nil {
		return model.Outcome{}, nil, err
	}

	var impact *CalibrationImpact
	if domain != "" && t.cal != nil {
		profile, err := t.cal.Record(ctx, domain, finalStatus == FinalSuccess)
		if err != nil {
			t.logger.Warn("calibration update for domain %s failed: %v", domain, err)
		} else {
			impact = &CalibrationImpact{
				Domain:          profile.Domain,
				Alpha:           profile.Alpha,
				Beta:            profile.Beta,
				MeanSuccessRate: profile.MeanSuccessRate,
				SampleSize:      profile.SampleSize,
				Trend:           profile.Trend,
			}
		}
	}
	t.logger.Info("outcome %s finalized as %s (decision %s)", o.ID, finalStatus, decisionID)
	return o, impact, nil
}

// OutcomePatch carries optional field updates for an existing outcome.
type OutcomePatch struct {
	Status            *string
	Evidence          *string
	PerformanceImpact *float64
	Reliability       *float64
	MaintenanceCost   *float64
	TTLDays           *int
}

// UpdateOutcome patches an outcome addressed by id. A missing outcome is an
// error, never an implicit create. Status moves are forward-only.
func (t *Tracker) UpdateOutcome(ctx context.Context, outcomeID string, patch OutcomePatch) (model.Outcome, error) {
	o, err := t.graph.GetOutcome(ctx, outcomeID)
	if err != nil {
		return model.Outcome{}, err
	}
	if patch.Status != nil {
		next := model.OutcomeStatus(*patch.Status)
		if !o.Status.CanAdvanceTo(next) {
			return model.Outcome{}, fmt.Errorf("cannot move outcome %s from %s to %s", outcomeID, o.Status, next)
		}
		o.Status = next
		switch next {
		case model.OutcomeSubmitted:
			o.SubmittedAt = t.now().Unix()
		case model.OutcomeMerged:
			o.MergedAt = t.now().Unix()
		case model.OutcomeCompleted:
			o.CompletedAt = t.now().Unix()
		}
	}
	if patch.Evidence != nil {
		o.Evidence = *patch.Evidence
	}
	if patch.PerformanceImpact != nil {
		o.PerformanceImpact = *patch.PerformanceImpact
		o.MeasuredAt = t.now().Unix()
	}
	if patch.Reliability != nil {
		o.Reliability = *patch.Reliability
	}
	if patch.MaintenanceCost != nil {
		o.MaintenanceCost = *patch.MaintenanceCost
	}
	if patch.TTLDays != nil {
		o.TTLDays = *patch.TTLDays
	}
	if err := t.graph.SaveOutcome(ctx, o); err != nil {
		return model.Outcome{}, err
	}
	return o, nil
}

// EstimateSuccess scores an outcome from its signals: 0.5 baseline, one
// weight step per positive or negative signal, clamped to [0, 1].
func EstimateSuccess(o model.Outcome) float64 {
	estimate := 0.5
	for _, sig := range o.Signals {
		switch sig.Valence {
		case model.ValencePositive:
			estimate += signalWeight
		case model.ValenceNegative:
			estimate -= signalWeight
		}
	}
	if estimate < 0 {
		return 0
	}
	if estimate > 1 {
		return 1
	}
	return estimate
}

// CriteriaReport is the check_success_criteria result.
type CriteriaReport struct {
	OutcomeID        string  `json:"outcome_id"`
	DecisionID       string  `json:"decision_id"`
	Status           string  `json:"status"`
	EstimatedSuccess float64 `json:"estimated_success"`
	PositiveSignals  int     `json:"positive_signals"`
	NegativeSignals  int     `json:"negative_signals"`
	NeedsAttention   bool    `json:"needs_attention"`
}

// CheckSuccessCriteria flags outcomes that carry any negative signal or whose
// estimate dropped below the baseline.
func (t *Tracker) CheckSuccessCriteria(ctx context.Context, decisionID string) (CriteriaReport, error) {
	o, err := t.graph.GetOutcomeByDecision(ctx, decisionID)
	if err != nil {
		return CriteriaReport{}, err
	}
	report := CriteriaReport{
		OutcomeID:  o.ID,
		DecisionID: o.DecisionID,
		Status:     string(o.Status),
	}
	for _, sig := range o.Signals {
		switch sig.Valence {
		case model.ValencePositive:
			report.PositiveSignals++
		case model.ValenceNegative:
			report.NegativeSignals++
		}
	}
	report.EstimatedSuccess = EstimateSuccess(o)
	report.NeedsAttention = report.NegativeSignals > 0 || report.EstimatedSuccess < 0.5
	return report, nil
}

// appendSignal stamps a monotonic timestamp so arrival order survives
// second-granularity clocks.
func (t *Tracker) appendSignal(o *model.Outcome, sig model.Signal) {
	sig.Timestamp = t.now().Unix()
	if n := len(o.Signals); n > 0 && sig.Timestamp <= o.Signals[n-1].Timestamp {
		sig.Timestamp = o.Signals[n-1].Timestamp + 1
	}
	o.Signals = append(o.Signals, sig)
}
