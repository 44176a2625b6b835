package graph

import (
	"context"
)

// Analytics templates are fixed read-only Cypher, exposed to other internal
// components rather than to external callers.

// ModuleSuccessRate is one row of the success-by-module rollup.
type ModuleSuccessRate struct {
	Module      string  `json:"module"`
	Total       int     `json:"total"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// SuccessRateByModule aggregates resolved decisions per module.
func (s *Store) SuccessRateByModule(ctx context.Context) ([]ModuleSuccessRate, error) {
	rs, err := s.client.ROQuery(ctx, `MATCH (d:Decision) WHERE `+nsFilter("d")+`
		AND d.outcome IN ["success", "failure", "partial"]
		WITH d.module AS module, count(d) AS total,
			sum(CASE WHEN d.outcome = "success" THEN 1 ELSE 0 END) AS successes
		RETURN module, total, successes ORDER BY total DESC`, s.params())
	if err != nil {
		return nil, err
	}
	out := make([]ModuleSuccessRate, 0, len(rs.Records))
	for _, rec := range rs.Records {
		row := ModuleSuccessRate{
			Module:    rec.String("module"),
			Total:     int(rec.Int("total")),
			Successes: int(rec.Int("successes")),
		}
		if row.Total > 0 {
			row.SuccessRate = float64(row.Successes) / float64(row.Total)
		}
		out = append(out, row)
	}
	return out, nil
}

// ConfidenceBucket is one 0.1-wide confidence band with its observed rate.
type ConfidenceBucket struct {
	Bucket      float64 `json:"bucket"` // lower bound, 0.0 .. 0.9
	Total       int     `json:"total"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// SuccessRateByConfidence buckets resolved decisions by claimed confidence so
// calibration drift shows up as a diagonal mismatch.
func (s *Store) SuccessRateByConfidence(ctx context.Context) ([]ConfidenceBucket, error) {
	rs, err := s.client.ROQuery(ctx, `MATCH (d:Decision) WHERE `+nsFilter("d")+`
		AND d.outcome IN ["success", "failure", "partial"]
		WITH floor(d.confidence * 10) / 10.0 AS bucket, count(d) AS total,
			sum(CASE WHEN d.outcome = "success" THEN 1 ELSE 0 END) AS successes
		RETURN bucket, total, successes ORDER BY bucket ASC`, s.params())
	if err != nil {
		return nil, err
	}
	out := make([]ConfidenceBucket, 0, len(rs.Records))
	for _, rec := range rs.Records {
		row := ConfidenceBucket{
			Bucket:    rec.Float("bucket"),
			Total:     int(rec.Int("total")),
			Successes: int(rec.Int("successes")),
		}
		if row.Total > 0 {
			row.SuccessRate = float64(row.Successes) / float64(row.Total)
		}
		out = append(out, row)
	}
	return out, nil
}

// ReworkRow counts corrective changes hanging off a decision.
type ReworkRow struct {
	DecisionID  string  `json:"decision_id"`
	Statement   string  `json:"statement"`
	Confidence  float64 `json:"confidence"`
	ReworkCount int     `json:"rework_count"`
}

// DecisionsByReworkCount lists decisions with the most corrective churn.
func (s *Store) DecisionsByReworkCount(ctx context.Context, limit int) ([]ReworkRow, error) {
	if limit <= 0 {
		limit = 10
	}
	p := s.params()
	p["limit"] = int64(limit)
	rs, err := s.client.ROQuery(ctx, `MATCH (d:Decision)-[:REWORKED_BY]->(c:CodeChange)
		WHERE `+nsFilter("d")+`
		WITH d, count(c) AS rework_count
		RETURN d.id AS id, d.statement AS statement, d.confidence AS confidence, rework_count
		ORDER BY rework_count DESC LIMIT $limit`, p)
	if err != nil {
		return nil, err
	}
	out := make([]ReworkRow, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, ReworkRow{
			DecisionID:  rec.String("id"),
			Statement:   rec.String("statement"),
			Confidence:  rec.Float("confidence"),
			ReworkCount: int(rec.Int("rework_count")),
		})
	}
	return out, nil
}

// LowConfidenceReworkRate reports how often low-confidence decisions (< 0.5)
// ended up reworked, against the rework rate of the rest.
func (s *Store) LowConfidenceReworkRate(ctx context.Context) (lowRate, highRate float64, err error) {
	rs, err := s.client.ROQuery(ctx, `MATCH (d:Decision) WHERE `+nsFilter("d")+`
		OPTIONAL MATCH (d)-[:REWORKED_BY]->(c:CodeChange)
		WITH d, count(c) AS reworks
		WITH d.confidence < 0.5 AS low, count(d) AS total,
			sum(CASE WHEN reworks > 0 THEN 1 ELSE 0 END) AS reworked
		RETURN low, total, reworked`, s.params())
	if err != nil {
		return 0, 0, err
	}
	for _, rec := range rs.Records {
		total := rec.Int("total")
		if total == 0 {
			continue
		}
		rate := float64(rec.Int("reworked")) / float64(total)
		if rec.Bool("low") {
			lowRate = rate
		} else {
			highRate = rate
		}
	}
	return lowRate, highRate, nil
}

// PreventionStats measures how much negative knowledge is actually used.
type PreventionStats struct {
	TotalNK        int     `json:"total_nk"`
	WithPrevention int     `json:"with_prevention"`
	Preventions    int     `json:"preventions"`
	PreventionRate float64 `json:"prevention_rate"`
}

// NegativeKnowledgePreventionRate counts PREVENTED edges per live NK entry.
func (s *Store) NegativeKnowledgePreventionRate(ctx context.Context) (PreventionStats, error) {
	rs, err := s.client.ROQuery(ctx, `MATCH (nk:NegativeKnowledge) WHERE `+nsFilter("nk")+`
		AND `+activeFilter("nk")+`
		OPTIONAL MATCH (nk)-[:PREVENTED]->(d:Decision)
		WITH nk, count(d) AS prevented
		RETURN count(nk) AS total,
			sum(CASE WHEN prevented > 0 THEN 1 ELSE 0 END) AS with_prevention,
			sum(prevented) AS preventions`, s.params())
	if err != nil {
		return PreventionStats{}, err
	}
	if rs.Empty() {
		return PreventionStats{}, nil
	}
	rec := rs.First()
	stats := PreventionStats{
		TotalNK:        int(rec.Int("total")),
		WithPrevention: int(rec.Int("with_prevention")),
		Preventions:    int(rec.Int("preventions")),
	}
	if stats.TotalNK > 0 {
		stats.PreventionRate = float64(stats.WithPrevention) / float64(stats.TotalNK)
	}
	return stats, nil
}

// DomainFailures is the failure count for one domain.
type DomainFailures struct {
	Domain   string `json:"domain"`
	Failures int    `json:"failures"`
}

// FailuresByDomain counts failed decisions per module.
func (s *Store) FailuresByDomain(ctx context.Context, limit int) ([]DomainFailures, error) {
	if limit <= 0 {
		limit = 10
	}
	p := s.params()
	p["limit"] = int64(limit)
	rs, err := s.client.ROQuery(ctx, `MATCH (d:Decision {outcome: "failure"}) WHERE `+nsFilter("d")+`
		WITH d.module AS domain, count(d) AS failures
		RETURN domain, failures ORDER BY failures DESC LIMIT $limit`, p)
	if err != nil {
		return nil, err
	}
	out := make([]DomainFailures, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, DomainFailures{
			Domain:   rec.String("domain"),
			Failures: int(rec.Int("failures")),
		})
	}
	return out, nil
}

// TriggeredAntiPattern is an antipattern with its observed trigger count.
type TriggeredAntiPattern struct {
	PatternID string `json:"pattern_id"`
	Name      string `json:"name"`
	Triggers  int    `json:"triggers"`
}

// AntiPatternTriggers counts TRIGGERED edges from code changes per pattern.
func (s *Store) AntiPatternTriggers(ctx context.Context, limit int) ([]TriggeredAntiPattern, error) {
	if limit <= 0 {
		limit = 10
	}
	p := s.params()
	p["limit"] = int64(limit)
	rs, err := s.client.ROQuery(ctx, `MATCH (c:CodeChange)-[:TRIGGERED]->(ap:AntiPattern)
		WHERE `+nsFilter("ap")+`
		WITH ap, count(c) AS triggers
		RETURN ap.id AS id, ap.name AS name, triggers
		ORDER BY triggers DESC LIMIT $limit`, p)
	if err != nil {
		return nil, err
	}
	out := make([]TriggeredAntiPattern, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, TriggeredAntiPattern{
			PatternID: rec.String("id"),
			Name:      rec.String("name"),
			Triggers:  int(rec.Int("triggers")),
		})
	}
	return out, nil
}

// CausalChainRow is one hop of the decision → implementation → outcome flow.
type CausalChainRow struct {
	DecisionID string `json:"decision_id"`
	Statement  string `json:"statement"`
	CommitSHA  string `json:"commit_sha,omitempty"`
	OutcomeID  string `json:"outcome_id,omitempty"`
	Status     string `json:"status,omitempty"`
}

// CausalChain walks from a decision through its code changes to outcomes.
func (s *Store) CausalChain(ctx context.Context, decisionID string) ([]CausalChainRow, error) {
	p := s.params()
	p["id"] = decisionID
	rs, err := s.client.ROQuery(ctx, `MATCH (d:Decision {id: $id}) WHERE `+nsFilter("d")+`
		OPTIONAL MATCH (d)-[:IMPLEMENTED_IN]->(c:CodeChange)
		OPTIONAL MATCH (c)-[:RESULTED_IN]->(o:Outcome)
		RETURN d.id AS id, d.statement AS statement, c.commit_sha AS commit_sha,
			o.id AS outcome_id, o.status AS status`, p)
	if err != nil {
		return nil, err
	}
	out := make([]CausalChainRow, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, CausalChainRow{
			DecisionID: rec.String("id"),
			Statement:  rec.String("statement"),
			CommitSHA:  rec.String("commit_sha"),
			OutcomeID:  rec.String("outcome_id"),
			Status:     rec.String("status"),
		})
	}
	return out, nil
}

// ReworkTimelineRow is one corrective change with its latency.
type ReworkTimelineRow struct {
	DecisionID   string  `json:"decision_id"`
	Statement    string  `json:"statement"`
	CommitSHA    string  `json:"commit_sha"`
	DaysToRevert float64 `json:"days_to_revert"`
	Reason       string  `json:"reason,omitempty"`
}

// ReworkTimeline lists rework events newest first.
func (s *Store) ReworkTimeline(ctx context.Context, limit int) ([]ReworkTimelineRow, error) {
	if limit <= 0 {
		limit = 20
	}
	p := s.params()
	p["limit"] = int64(limit)
	rs, err := s.client.ROQuery(ctx, `MATCH (d:Decision)-[r:REWORKED_BY]->(c:CodeChange)
		WHERE `+nsFilter("d")+`
		RETURN d.id AS id, d.statement AS statement, c.commit_sha AS commit_sha,
			r.days_to_revert AS days_to_revert, r.reason AS reason, c.timestamp AS ts
		ORDER BY ts DESC LIMIT $limit`, p)
	if err != nil {
		return nil, err
	}
	out := make([]ReworkTimelineRow, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, ReworkTimelineRow{
			DecisionID:   rec.String("id"),
			Statement:    rec.String("statement"),
			CommitSHA:    rec.String("commit_sha"),
			DaysToRevert: rec.Float("days_to_revert"),
			Reason:       rec.String("reason"),
		})
	}
	return out, nil
}

// PlanStats rolls up one engram's decisions within a domain.
type PlanStats struct {
	EngramID  string `json:"engram_id"`
	SessionID string `json:"session_id"`
	CreatedAt int64  `json:"created_at"`
	Decisions int    `json:"decisions"`
	Successes int    `json:"successes"`
	Failures  int    `json:"failures"`
}

// EngramPlanStats returns the most recent engrams whose decisions touched a
// domain, with per-engram success and failure counts.
func (s *Store) EngramPlanStats(ctx context.Context, domain string, limit int) ([]PlanStats, error) {
	if limit <= 0 {
		limit = 10
	}
	p := s.params()
	p["domain"] = domain
	p["limit"] = int64(limit)
	rs, err := s.client.ROQuery(ctx, `MATCH (d:Decision)-[:MADE_IN]->(e:Engram)
		WHERE `+nsFilter("e")+` AND d.module = $domain
		WITH e, count(d) AS decisions,
			sum(CASE WHEN d.outcome = "success" THEN 1 ELSE 0 END) AS successes,
			sum(CASE WHEN d.outcome = "failure" THEN 1 ELSE 0 END) AS failures
		RETURN e.id AS id, e.session_id AS session_id, e.created_at AS created_at,
			decisions, successes, failures
		ORDER BY created_at DESC LIMIT $limit`, p)
	if err != nil {
		return nil, err
	}
	out := make([]PlanStats, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, PlanStats{
			EngramID:  rec.String("id"),
			SessionID: rec.String("session_id"),
			CreatedAt: rec.Int("created_at"),
			Decisions: int(rec.Int("decisions")),
			Successes: int(rec.Int("successes")),
			Failures:  int(rec.Int("failures")),
		})
	}
	return out, nil
}

// SessionDecisionCount rolls up decision volume per session.
type SessionDecisionCount struct {
	EngramID  string  `json:"engram_id"`
	SessionID string  `json:"session_id"`
	Decisions int     `json:"decisions"`
	Failures  int     `json:"failures"`
	RiskScore float64 `json:"risk_score"`
}

// DecisionCountsBySession counts decisions captured per session snapshot.
func (s *Store) DecisionCountsBySession(ctx context.Context, limit int) ([]SessionDecisionCount, error) {
	if limit <= 0 {
		limit = 20
	}
	p := s.params()
	p["limit"] = int64(limit)
	rs, err := s.client.ROQuery(ctx, `MATCH (d:Decision)-[:MADE_IN]->(e:Engram)
		WHERE `+nsFilter("e")+`
		WITH e, count(d) AS decisions,
			sum(CASE WHEN d.outcome = "failure" THEN 1 ELSE 0 END) AS failures
		RETURN e.id AS id, e.session_id AS session_id, decisions, failures
		ORDER BY decisions DESC LIMIT $limit`, p)
	if err != nil {
		return nil, err
	}
	out := make([]SessionDecisionCount, 0, len(rs.Records))
	for _, rec := range rs.Records {
		row := SessionDecisionCount{
			EngramID:  rec.String("id"),
			SessionID: rec.String("session_id"),
			Decisions: int(rec.Int("decisions")),
			Failures:  int(rec.Int("failures")),
		}
		if row.Decisions > 0 {
			row.RiskScore = float64(row.Failures) / float64(row.Decisions)
		}
		out = append(out, row)
	}
	return out, nil
}

// HighRiskSessions returns sessions whose failure share crosses the threshold.
func (s *Store) HighRiskSessions(ctx context.Context, minFailureShare float64, limit int) ([]SessionDecisionCount, error) {
	rows, err := s.DecisionCountsBySession(ctx, 0)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	out := make([]SessionDecisionCount, 0, limit)
	for _, row := range rows {
		if row.Decisions >= 2 && row.RiskScore >= minFailureShare {
			out = append(out, row)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// TrendPoint is one 7-day window of observed success and confidence.
type TrendPoint struct {
	WindowStart   int64   `json:"window_start"`
	Total         int     `json:"total"`
	SuccessRate   float64 `json:"success_rate"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// WeeklyTrends buckets resolved decisions into 7-day windows, oldest first.
func (s *Store) WeeklyTrends(ctx context.Context, windows int) ([]TrendPoint, error) {
	if windows <= 0 {
		windows = 8
	}
	p := s.params()
	p["since"] = s.now().Unix() - int64(windows)*7*86400
	rs, err := s.client.ROQuery(ctx, `MATCH (d:Decision) WHERE `+nsFilter("d")+`
		AND d.outcome IN ["success", "failure", "partial"] AND d.created_at >= $since
		WITH (d.created_at / 604800) * 604800 AS window_start, count(d) AS total,
			sum(CASE WHEN d.outcome = "success" THEN 1 ELSE 0 END) AS successes,
			avg(d.confidence) AS avg_confidence
		RETURN window_start, total, successes, avg_confidence
		ORDER BY window_start ASC`, p)
	if err != nil {
		return nil, err
	}
	out := make([]TrendPoint, 0, len(rs.Records))
	for _, rec := range rs.Records {
		pt := TrendPoint{
			WindowStart:   rec.Int("window_start"),
			Total:         int(rec.Int("total")),
			AvgConfidence: rec.Float("avg_confidence"),
		}
		if pt.Total > 0 {
			pt.SuccessRate = rec.Float("successes") / float64(pt.Total)
		}
		out = append(out, pt)
	}
	return out, nil
}

// GraphStatistics is the per-label node census plus relationship total.
type GraphStatistics struct {
	Nodes         map[string]int `json:"nodes"`
	Relationships int            `json:"relationships"`
}

// Statistics counts nodes per label and edges in this namespace.
func (s *Store) Statistics(ctx context.Context) (GraphStatistics, error) {
	stats := GraphStatistics{Nodes: make(map[string]int)}
	for label := range validLabels {
		rs, err := s.client.ROQuery(ctx, `MATCH (n:`+label+`) WHERE `+nsFilter("n")+
			` RETURN count(n) AS total`, s.params())
		if err != nil {
			return GraphStatistics{}, err
		}
		if !rs.Empty() {
			if n := int(rs.First().Int("total")); n > 0 {
				stats.Nodes[label] = n
			}
		}
	}
	rs, err := s.client.ROQuery(ctx, `MATCH (a)-[r]->() WHERE `+nsFilter("a")+
		` RETURN count(r) AS total`, s.params())
	if err != nil {
		return GraphStatistics{}, err
	}
	if !rs.Empty() {
		stats.Relationships = int(rs.First().Int("total"))
	}
	return stats, nil
}
