package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"membria/internal/logging"
	"membria/internal/model"
	"membria/internal/sanitize"
)

// Store provides the typed accessors over the client. Every write stamps the
// namespace triple and retention defaults; every read filters by namespace
// and, unless stated otherwise, by is_active.
type Store struct {
	client *Client
	ns     model.Namespace
	logger logging.Logger
	now    func() time.Time
}

// NewStore wraps client with namespace-scoped accessors.
func NewStore(client *Client, ns model.Namespace, logger logging.Logger) *Store {
	return &Store{
		client: client,
		ns:     ns,
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

// Namespace returns the triple this store writes under.
func (s *Store) Namespace() model.Namespace { return s.ns }

// Client exposes the underlying connection for health checks.
func (s *Store) Client() *Client { return s.client }

// nsProps is the property fragment stamped into every CREATE map.
const nsProps = "tenant_id: $tenant_id, team_id: $team_id, project_id: $project_id"

// nsFilter builds the namespace guard for the given node alias.
func nsFilter(alias string) string {
	return fmt.Sprintf("%s.tenant_id = $tenant_id AND %s.team_id = $team_id AND %s.project_id = $project_id", alias, alias, alias)
}

// activeFilter matches rows that are live or predate the is_active flag.
func activeFilter(alias string) string {
	return fmt.Sprintf("(%s.is_active IS NULL OR %s.is_active = true)", alias, alias)
}

// params returns a parameter map pre-loaded with the namespace triple.
func (s *Store) params() map[string]any {
	return map[string]any{
		"tenant_id":  s.ns.TenantID,
		"team_id":    s.ns.TeamID,
		"project_id": s.ns.ProjectID,
	}
}

// ---- Decisions ----

// AddDecision persists a decision node. A zero ID is assigned; sanitization
// is applied again here as defense in depth. When d.EngramID is set the
// session link is created in the same round trip.
func (s *Store) AddDecision(ctx context.Context, d model.Decision, embedding Vector) (model.Decision, error) {
	if d.ID == "" {
		d.ID = model.NewDecisionID()
	}
	if d.CreatedAt == 0 {
		d.CreatedAt = s.now().Unix()
	}
	if d.Module == "" {
		d.Module = "general"
	}
	if d.Outcome == "" {
		d.Outcome = "pending"
	}
	if d.TTLDays <= 0 {
		d.TTLDays = model.DefaultTTLDays("decision")
	}
	if d.MemoryType == "" {
		d.MemoryType = "episodic"
	}
	d.Statement = sanitize.Statement(d.Statement)
	d.Alternatives = sanitize.StringSlice(d.Alternatives, sanitize.MaxStatement)
	d.IsActive = true

	p := s.params()
	p["id"] = d.ID
	p["statement"] = d.Statement
	p["alternatives"] = append([]string{}, d.Alternatives...)
	p["confidence"] = d.Confidence
	p["module"] = sanitize.Generic(d.Module)
	p["created_at"] = d.CreatedAt
	p["created_by"] = sanitize.Generic(d.CreatedBy)
	p["outcome"] = d.Outcome
	p["engram_id"] = d.EngramID
	p["commit_sha"] = sanitize.Generic(d.CommitSHA)
	p["memory_type"] = d.MemoryType
	p["memory_subject"] = sanitize.Generic(d.MemorySubject)
	p["ttl_days"] = int64(d.TTLDays)
	p["source"] = sanitize.Generic(d.Source)
	p["role_id"] = d.RoleID
	p["assignment_id"] = d.AssignmentID

	query := `CREATE (d:Decision {id: $id, statement: $statement, alternatives: $alternatives,
		confidence: $confidence, module: $module, created_at: $created_at, created_by: $created_by,
		outcome: $outcome, engram_id: $engram_id, commit_sha: $commit_sha,
		memory_type: $memory_type, memory_subject: $memory_subject,
		ttl_days: $ttl_days, last_verified_at: $created_at, is_active: true,
		source: $source, role_id: $role_id, assignment_id: $assignment_id, ` + nsProps + `})`
	if len(embedding) > 0 {
		p["embedding"] = embedding
		query += ` SET d.embedding = $embedding`
	}
	query += ` RETURN d.id AS id`

	if _, err := s.client.Query(ctx, query, p); err != nil {
		return model.Decision{}, err
	}

	if d.EngramID != "" {
		link := s.params()
		link["decision_id"] = d.ID
		link["engram_id"] = d.EngramID
		link["confidence"] = d.Confidence
		_, err := s.client.Query(ctx, `MATCH (d:Decision {id: $decision_id}), (e:Engram {id: $engram_id})
			WHERE `+nsFilter("d")+` AND `+nsFilter("e")+`
			MERGE (d)-[r:MADE_IN]->(e) SET r.confidence_given = $confidence`, link)
		if err != nil {
			s.logger.Warn("decision %s saved but engram link failed: %v", d.ID, err)
		}
	}
	return d, nil
}

const decisionColumns = `d.id AS id, d.statement AS statement, d.alternatives AS alternatives,
	d.confidence AS confidence, d.module AS module, d.created_at AS created_at,
	d.created_by AS created_by, d.outcome AS outcome, d.resolved_at AS resolved_at,
	d.actual_success_rate AS actual_success_rate, d.engram_id AS engram_id,
	d.commit_sha AS commit_sha, d.memory_type AS memory_type, d.memory_subject AS memory_subject,
	d.ttl_days AS ttl_days, d.last_verified_at AS last_verified_at, d.is_active AS is_active,
	d.deprecated_reason AS deprecated_reason, d.source AS source,
	d.role_id AS role_id, d.assignment_id AS assignment_id`

func decisionFromRecord(rec Record) model.Decision {
	return model.Decision{
		ID:                rec.String("id"),
		Statement:         rec.String("statement"),
		Alternatives:      rec.StringSlice("alternatives"),
		Confidence:        rec.Float("confidence"),
		Module:            rec.String("module"),
		CreatedAt:         rec.Int("created_at"),
		CreatedBy:         rec.String("created_by"),
		Outcome:           rec.String("outcome"),
		ResolvedAt:        rec.Int("resolved_at"),
		ActualSuccessRate: rec.Float("actual_success_rate"),
		EngramID:          rec.String("engram_id"),
		CommitSHA:         rec.String("commit_sha"),
		MemoryType:        rec.String("memory_type"),
		MemorySubject:     rec.String("memory_subject"),
		TTLDays:           int(rec.Int("ttl_days")),
		LastVerifiedAt:    rec.Int("last_verified_at"),
		IsActive:          !rec.Has("is_active") || rec.Bool("is_active"),
		DeprecatedReason:  rec.String("deprecated_reason"),
		Source:            rec.String("source"),
		RoleID:            rec.String("role_id"),
		AssignmentID:      rec.String("assignment_id"),
	}
}

// GetDecision loads one decision by id.
func (s *Store) GetDecision(ctx context.Context, id string) (model.Decision, error) {
	p := s.params()
	p["id"] = id
	rs, err := s.client.ROQuery(ctx, `MATCH (d:Decision {id: $id}) WHERE `+nsFilter("d")+
		` RETURN `+decisionColumns, p)
	if err != nil {
		return model.Decision{}, err
	}
	if rs.Empty() {
		return model.Decision{}, fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	return decisionFromRecord(rs.First()), nil
}

// UpdateDecisionOutcome records the resolved outcome back onto the decision.
func (s *Store) UpdateDecisionOutcome(ctx context.Context, id, outcome string, successRate float64, resolvedAt int64) error {
	p := s.params()
	p["id"] = id
	p["outcome"] = outcome
	p["rate"] = successRate
	p["resolved_at"] = resolvedAt
	rs, err := s.client.Query(ctx, `MATCH (d:Decision {id: $id}) WHERE `+nsFilter("d")+`
		SET d.outcome = $outcome, d.actual_success_rate = $rate, d.resolved_at = $resolved_at
		RETURN d.id AS id`, p)
	if err != nil {
		return err
	}
	if rs.Empty() {
		return fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	return nil
}

// FindSimilarDecisions retrieves past decisions near the statement. With an
// embedding it orders by vector distance; otherwise it falls back to module
// and keyword matches, so absent embeddings degrade rather than fail.
func (s *Store) FindSimilarDecisions(ctx context.Context, statement, module string, embedding Vector, limit int) ([]model.Decision, error) {
	if limit <= 0 {
		limit = 5
	}
	p := s.params()
	p["limit"] = int64(limit)

	var query string
	if len(embedding) > 0 {
		p["embedding"] = embedding
		query = `MATCH (d:Decision) WHERE ` + nsFilter("d") + ` AND ` + activeFilter("d") + `
			AND d.embedding IS NOT NULL
			RETURN ` + decisionColumns + `,
				vec.euclideanDistance(d.embedding, $embedding) AS distance
			ORDER BY distance ASC LIMIT $limit`
	} else {
		p["module"] = module
		p["needle"] = sanitize.NormalizeStatement(statement)
		query = `MATCH (d:Decision) WHERE ` + nsFilter("d") + ` AND ` + activeFilter("d") + `
			AND (d.module = $module OR toLower(d.statement) CONTAINS $needle)
			RETURN ` + decisionColumns + `
			ORDER BY d.created_at DESC LIMIT $limit`
	}

	rs, err := s.client.ROQuery(ctx, query, p)
	if err != nil {
		return nil, err
	}
	out := make([]model.Decision, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, decisionFromRecord(rec))
	}
	return out, nil
}

// RecentDecisionsByDomain returns the newest decisions in a module, bounded.
func (s *Store) RecentDecisionsByDomain(ctx context.Context, domain string, limit int) ([]model.Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	p := s.params()
	p["module"] = domain
	p["limit"] = int64(limit)
	rs, err := s.client.ROQuery(ctx, `MATCH (d:Decision {module: $module}) WHERE `+nsFilter("d")+
		` AND `+activeFilter("d")+` RETURN `+decisionColumns+` ORDER BY d.created_at DESC LIMIT $limit`, p)
	if err != nil {
		return nil, err
	}
	out := make([]model.Decision, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, decisionFromRecord(rec))
	}
	return out, nil
}

// FailedDecisionsByKeyword finds failures whose statement contains the
// keyword, for the plan validator's past-failure check.
func (s *Store) FailedDecisionsByKeyword(ctx context.Context, keyword string, limit int) ([]model.Decision, error) {
	if limit <= 0 {
		limit = 5
	}
	p := s.params()
	p["needle"] = sanitize.NormalizeStatement(keyword)
	p["limit"] = int64(limit)
	rs, err := s.client.ROQuery(ctx, `MATCH (d:Decision {outcome: "failure"}) WHERE `+nsFilter("d")+
		` AND toLower(d.statement) CONTAINS $needle
		RETURN `+decisionColumns+` ORDER BY d.created_at DESC LIMIT $limit`, p)
	if err != nil {
		return nil, err
	}
	out := make([]model.Decision, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, decisionFromRecord(rec))
	}
	return out, nil
}

// ---- Engrams ----

// AddEngram persists a session snapshot.
func (s *Store) AddEngram(ctx context.Context, e model.Engram) (model.Engram, error) {
	if e.ID == "" {
		e.ID = model.NewEngramID()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = s.now().Unix()
	}
	p := s.params()
	p["id"] = e.ID
	p["session_id"] = sanitize.Generic(e.SessionID)
	p["commit_sha"] = sanitize.Generic(e.CommitSHA)
	p["branch"] = sanitize.Generic(e.Branch)
	p["created_at"] = e.CreatedAt
	p["agent_type"] = sanitize.Generic(e.AgentType)
	p["agent_model"] = sanitize.Generic(e.AgentModel)
	p["duration"] = e.SessionDurationSec
	p["tokens"] = e.TotalTokens
	p["decisions"] = int64(e.DecisionsExtracted)
	p["files"] = int64(e.FilesChanged)

	_, err := s.client.Query(ctx, `MERGE (e:Engram {id: $id})
		ON CREATE SET e.session_id = $session_id, e.commit_sha = $commit_sha, e.branch = $branch,
			e.created_at = $created_at, e.agent_type = $agent_type, e.agent_model = $agent_model,
			e.session_duration_sec = $duration, e.total_tokens = $tokens,
			e.decisions_extracted = $decisions, e.files_changed = $files, `+nsProps+`
		ON MATCH SET e.decisions_extracted = $decisions, e.files_changed = $files`, p)
	if err != nil {
		return model.Engram{}, err
	}
	return e, nil
}

// RecentEngrams lists the newest session snapshots.
func (s *Store) RecentEngrams(ctx context.Context, limit int) ([]model.Engram, error) {
	if limit <= 0 {
		limit = 10
	}
	p := s.params()
	p["limit"] = int64(limit)
	rs, err := s.client.ROQuery(ctx, `MATCH (e:Engram) WHERE `+nsFilter("e")+`
		RETURN e.id AS id, e.session_id AS session_id, e.commit_sha AS commit_sha,
			e.branch AS branch, e.created_at AS created_at, e.agent_type AS agent_type,
			e.agent_model AS agent_model, e.session_duration_sec AS duration,
			e.total_tokens AS tokens, e.decisions_extracted AS decisions, e.files_changed AS files
		ORDER BY e.created_at DESC LIMIT $limit`, p)
	if err != nil {
		return nil, err
	}
	out := make([]model.Engram, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, model.Engram{
			ID:                 rec.String("id"),
			SessionID:          rec.String("session_id"),
			CommitSHA:          rec.String("commit_sha"),
			Branch:             rec.String("branch"),
			CreatedAt:          rec.Int("created_at"),
			AgentType:          rec.String("agent_type"),
			AgentModel:         rec.String("agent_model"),
			SessionDurationSec: rec.Int("duration"),
			TotalTokens:        rec.Int("tokens"),
			DecisionsExtracted: int(rec.Int("decisions")),
			FilesChanged:       int(rec.Int("files")),
		})
	}
	return out, nil
}

// ---- Code changes ----

// AddCodeChange records one observed commit; when DecisionID is set the
// IMPLEMENTED_IN edge is created too.
func (s *Store) AddCodeChange(ctx context.Context, cc model.CodeChange) (model.CodeChange, error) {
	if cc.ID == "" {
		cc.ID = model.NewChangeID()
	}
	if cc.Timestamp == 0 {
		cc.Timestamp = s.now().Unix()
	}
	p := s.params()
	p["id"] = cc.ID
	p["commit_sha"] = sanitize.Generic(cc.CommitSHA)
	p["files_changed"] = sanitize.StringSlice(cc.FilesChanged, sanitize.MaxFilePath)
	p["timestamp"] = cc.Timestamp
	p["author"] = sanitize.Generic(cc.Author)
	p["outcome"] = cc.Outcome
	p["lines_added"] = int64(cc.LinesAdded)
	p["lines_removed"] = int64(cc.LinesRemoved)

	_, err := s.client.Query(ctx, `MERGE (c:CodeChange {commit_sha: $commit_sha, `+nsProps+`})
		ON CREATE SET c.id = $id, c.files_changed = $files_changed, c.timestamp = $timestamp,
			c.author = $author, c.outcome = $outcome,
			c.lines_added = $lines_added, c.lines_removed = $lines_removed`, p)
	if err != nil {
		return model.CodeChange{}, err
	}

	if cc.DecisionID != "" {
		link := s.params()
		link["decision_id"] = cc.DecisionID
		link["commit_sha"] = cc.CommitSHA
		link["implemented_at"] = cc.Timestamp
		if _, err := s.client.Query(ctx, `MATCH (d:Decision {id: $decision_id}), (c:CodeChange {commit_sha: $commit_sha})
			WHERE `+nsFilter("d")+` AND `+nsFilter("c")+`
			MERGE (d)-[r:IMPLEMENTED_IN]->(c) SET r.implemented_at = $implemented_at`, link); err != nil {
			s.logger.Warn("code change %s saved but decision link failed: %v", cc.CommitSHA, err)
		}
	}
	return cc, nil
}

// MarkReworked records that a later change undid the decision's work. The
// original change keeps reverted_by and days_to_revert for churn analytics.
func (s *Store) MarkReworked(ctx context.Context, decisionID, reworkSHA, reason string, daysToRevert float64) error {
	p := s.params()
	p["decision_id"] = decisionID
	p["rework"] = reworkSHA
	p["days"] = daysToRevert
	p["reason"] = sanitize.Generic(reason)
	_, err := s.client.Query(ctx, `MATCH (d:Decision {id: $decision_id}), (b:CodeChange {commit_sha: $rework})
		WHERE `+nsFilter("d")+` AND `+nsFilter("b")+`
		MERGE (d)-[r:REWORKED_BY]->(b)
		SET r.days_to_revert = $days, r.reason = $reason
		WITH d, b
		OPTIONAL MATCH (d)-[:IMPLEMENTED_IN]->(orig:CodeChange)
		SET orig.reverted_by = b.id, orig.days_to_revert = $days`, p)
	return err
}

// ---- Outcomes ----

const outcomeColumns = `o.id AS id, o.decision_id AS decision_id, o.status AS status,
	o.evidence AS evidence, o.measured_at AS measured_at,
	o.code_change_id AS code_change_id, o.pr_number AS pr_number, o.pr_url AS pr_url,
	o.branch_ref AS branch_ref, o.submitted_at AS submitted_at, o.merged_at AS merged_at,
	o.completed_at AS completed_at, o.final_status AS final_status, o.final_score AS final_score,
	o.lessons_learned AS lessons_learned, o.signals_json AS signals_json,
	o.created_at AS created_at, o.ttl_days AS ttl_days, o.is_active AS is_active`

func outcomeFromRecord(rec Record) model.Outcome {
	o := model.Outcome{
		ID:             rec.String("id"),
		DecisionID:     rec.String("decision_id"),
		Status:         model.OutcomeStatus(rec.String("status")),
		Evidence:       rec.String("evidence"),
		MeasuredAt:     rec.Int("measured_at"),
		CodeChangeID:   rec.String("code_change_id"),
		PRNumber:       int(rec.Int("pr_number")),
		PRURL:          rec.String("pr_url"),
		BranchRef:      rec.String("branch_ref"),
		SubmittedAt:    rec.Int("submitted_at"),
		MergedAt:       rec.Int("merged_at"),
		CompletedAt:    rec.Int("completed_at"),
		FinalStatus:    rec.String("final_status"),
		FinalScore:     rec.Float("final_score"),
		LessonsLearned: rec.String("lessons_learned"),
		CreatedAt:      rec.Int("created_at"),
		TTLDays:        int(rec.Int("ttl_days")),
		IsActive:       !rec.Has("is_active") || rec.Bool("is_active"),
	}
	if raw := rec.String("signals_json"); raw != "" {
		var signals []model.Signal
		if err := json.Unmarshal([]byte(raw), &signals); err == nil {
			o.Signals = signals
		}
	}
	return o
}

// CreateOutcome creates an outcome for a decision, unless a live one already
// exists; repeated webhook deliveries for the same commit then converge on
// the one record. Returns the outcome and whether it was created now.
func (s *Store) CreateOutcome(ctx context.Context, o model.Outcome) (model.Outcome, bool, error) {
	if existing, err := s.GetOutcomeByDecision(ctx, o.DecisionID); err == nil {
		return existing, false, nil
	} else if err != nil && !isNotFound(err) {
		return model.Outcome{}, false, err
	}

	if o.ID == "" {
		o.ID = model.NewOutcomeID()
	}
	if o.CreatedAt == 0 {
		o.CreatedAt = s.now().Unix()
	}
	if o.Status == "" {
		o.Status = model.OutcomePending
	}
	if o.TTLDays <= 0 {
		o.TTLDays = model.DefaultTTLDays("outcome")
	}
	o.IsActive = true

	signalsJSON, err := json.Marshal(o.Signals)
	if err != nil {
		return model.Outcome{}, false, fmt.Errorf("%w: signals: %v", ErrSerializationFailed, err)
	}

	p := s.params()
	p["id"] = o.ID
	p["decision_id"] = o.DecisionID
	p["status"] = string(o.Status)
	p["evidence"] = sanitize.Evidence(o.Evidence)
	p["created_at"] = o.CreatedAt
	p["ttl_days"] = int64(o.TTLDays)
	p["signals_json"] = string(signalsJSON)
	p["code_change_id"] = o.CodeChangeID

	rs, err := s.client.Query(ctx, `MATCH (d:Decision {id: $decision_id}) WHERE `+nsFilter("d")+`
		CREATE (o:Outcome {id: $id, decision_id: $decision_id, status: $status, evidence: $evidence,
			signals_json: $signals_json, code_change_id: $code_change_id,
			created_at: $created_at, ttl_days: $ttl_days, is_active: true, `+nsProps+`})
		RETURN o.id AS id`, p)
	if err != nil {
		return model.Outcome{}, false, err
	}
	if rs.Empty() {
		return model.Outcome{}, false, fmt.Errorf("decision %s: %w", o.DecisionID, ErrNotFound)
	}

	if o.CodeChangeID != "" {
		link := s.params()
		link["change_id"] = o.CodeChangeID
		link["outcome_id"] = o.ID
		if _, err := s.client.Query(ctx, `MATCH (c:CodeChange {id: $change_id}), (o:Outcome {id: $outcome_id})
			WHERE `+nsFilter("c")+` AND `+nsFilter("o")+`
			MERGE (c)-[:RESULTED_IN]->(o)`, link); err != nil {
			s.logger.Warn("outcome %s saved but code change link failed: %v", o.ID, err)
		}
	}
	return o, true, nil
}

// GetOutcome loads one outcome by id.
func (s *Store) GetOutcome(ctx context.Context, id string) (model.Outcome, error) {
	p := s.params()
	p["id"] = id
	rs, err := s.client.ROQuery(ctx, `MATCH (o:Outcome {id: $id}) WHERE `+nsFilter("o")+
		` RETURN `+outcomeColumns, p)
	if err != nil {
		return model.Outcome{}, err
	}
	if rs.Empty() {
		return model.Outcome{}, fmt.Errorf("outcome %s: %w", id, ErrNotFound)
	}
	return outcomeFromRecord(rs.First()), nil
}

// GetOutcomeByDecision returns the newest live outcome for a decision.
func (s *Store) GetOutcomeByDecision(ctx context.Context, decisionID string) (model.Outcome, error) {
	p := s.params()
	p["decision_id"] = decisionID
	rs, err := s.client.ROQuery(ctx, `MATCH (o:Outcome {decision_id: $decision_id}) WHERE `+nsFilter("o")+
		` AND `+activeFilter("o")+` RETURN `+outcomeColumns+` ORDER BY o.created_at DESC LIMIT 1`, p)
	if err != nil {
		return model.Outcome{}, err
	}
	if rs.Empty() {
		return model.Outcome{}, fmt.Errorf("outcome for decision %s: %w", decisionID, ErrNotFound)
	}
	return outcomeFromRecord(rs.First()), nil
}

// SaveOutcome writes the full mutable state of an outcome back.
func (s *Store) SaveOutcome(ctx context.Context, o model.Outcome) error {
	signalsJSON, err := json.Marshal(o.Signals)
	if err != nil {
		return fmt.Errorf("%w: signals: %v", ErrSerializationFailed, err)
	}

	p := s.params()
	p["id"] = o.ID
	p["status"] = string(o.Status)
	p["evidence"] = sanitize.Evidence(o.Evidence)
	p["measured_at"] = o.MeasuredAt
	p["pr_number"] = int64(o.PRNumber)
	p["pr_url"] = sanitize.Generic(o.PRURL)
	p["branch_ref"] = sanitize.Generic(o.BranchRef)
	p["submitted_at"] = o.SubmittedAt
	p["merged_at"] = o.MergedAt
	p["completed_at"] = o.CompletedAt
	p["final_status"] = o.FinalStatus
	p["final_score"] = o.FinalScore
	p["lessons_learned"] = sanitize.Generic(o.LessonsLearned)
	p["signals_json"] = string(signalsJSON)
	p["code_change_id"] = o.CodeChangeID

	rs, err := s.client.Query(ctx, `MATCH (o:Outcome {id: $id}) WHERE `+nsFilter("o")+`
		SET o.status = $status, o.evidence = $evidence, o.measured_at = $measured_at,
			o.pr_number = $pr_number, o.pr_url = $pr_url, o.branch_ref = $branch_ref,
			o.submitted_at = $submitted_at, o.merged_at = $merged_at, o.completed_at = $completed_at,
			o.final_status = $final_status, o.final_score = $final_score,
			o.lessons_learned = $lessons_learned, o.signals_json = $signals_json,
			o.code_change_id = $code_change_id
		RETURN o.id AS id`, p)
	if err != nil {
		return err
	}
	if rs.Empty() {
		return fmt.Errorf("outcome %s: %w", o.ID, ErrNotFound)
	}
	return nil
}

// ListOutcomes returns outcomes filtered by status ("" for all).
func (s *Store) ListOutcomes(ctx context.Context, status string, limit int) ([]model.Outcome, error) {
	if limit <= 0 {
		limit = 20
	}
	p := s.params()
	p["limit"] = int64(limit)
	query := `MATCH (o:Outcome) WHERE ` + nsFilter("o") + ` AND ` + activeFilter("o")
	if status != "" {
		p["status"] = status
		query += ` AND o.status = $status`
	}
	query += ` RETURN ` + outcomeColumns + ` ORDER BY o.created_at DESC LIMIT $limit`

	rs, err := s.client.ROQuery(ctx, query, p)
	if err != nil {
		return nil, err
	}
	out := make([]model.Outcome, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, outcomeFromRecord(rec))
	}
	return out, nil
}

// ---- Negative knowledge ----

// AddNegativeKnowledge persists an NK entry; causedByOutcome links it back
// to the outcome that taught the lesson.
func (s *Store) AddNegativeKnowledge(ctx context.Context, nk model.NegativeKnowledge, causedByOutcome string) (model.NegativeKnowledge, error) {
	if nk.ID == "" {
		nk.ID = model.NewNegativeID()
	}
	if nk.DiscoveredAt == 0 {
		nk.DiscoveredAt = s.now().Unix()
	}
	if nk.Domain == "" {
		nk.Domain = "general"
	}
	if nk.Severity == "" {
		nk.Severity = model.SeverityMedium
	}
	if nk.TTLDays <= 0 {
		nk.TTLDays = model.DefaultTTLDays("negative_knowledge")
	}
	if nk.ExpiresAt == 0 {
		nk.ExpiresAt = nk.DiscoveredAt + int64(nk.TTLDays)*86400
	}
	nk.IsActive = true

	p := s.params()
	p["id"] = nk.ID
	p["hypothesis"] = sanitize.Statement(nk.Hypothesis)
	p["conclusion"] = sanitize.Generic(nk.Conclusion)
	p["evidence"] = sanitize.Evidence(nk.Evidence)
	p["domain"] = sanitize.Generic(nk.Domain)
	p["severity"] = string(nk.Severity)
	p["discovered_at"] = nk.DiscoveredAt
	p["expires_at"] = nk.ExpiresAt
	p["blocks_pattern"] = sanitize.Generic(nk.BlocksPattern)
	p["recommendation"] = sanitize.Generic(nk.Recommendation)
	p["source"] = sanitize.Generic(nk.Source)
	p["memory_type"] = nk.MemoryType
	p["memory_subject"] = sanitize.Generic(nk.MemorySubject)
	p["ttl_days"] = int64(nk.TTLDays)

	_, err := s.client.Query(ctx, `CREATE (nk:NegativeKnowledge {id: $id, hypothesis: $hypothesis,
		conclusion: $conclusion, evidence: $evidence, domain: $domain, severity: $severity,
		discovered_at: $discovered_at, expires_at: $expires_at, blocks_pattern: $blocks_pattern,
		recommendation: $recommendation, source: $source, memory_type: $memory_type,
		memory_subject: $memory_subject, ttl_days: $ttl_days, last_verified_at: $discovered_at,
		is_active: true, `+nsProps+`})`, p)
	if err != nil {
		return model.NegativeKnowledge{}, err
	}

	if causedByOutcome != "" {
		link := s.params()
		link["outcome_id"] = causedByOutcome
		link["nk_id"] = nk.ID
		if _, err := s.client.Query(ctx, `MATCH (o:Outcome {id: $outcome_id}), (nk:NegativeKnowledge {id: $nk_id})
			WHERE `+nsFilter("o")+` AND `+nsFilter("nk")+`
			MERGE (o)-[:CAUSED]->(nk)`, link); err != nil {
			s.logger.Warn("negative knowledge %s saved but cause link failed: %v", nk.ID, err)
		}
	}
	return nk, nil
}

const nkColumns = `nk.id AS id, nk.hypothesis AS hypothesis, nk.conclusion AS conclusion,
	nk.evidence AS evidence, nk.domain AS domain, nk.severity AS severity,
	nk.discovered_at AS discovered_at, nk.expires_at AS expires_at,
	nk.blocks_pattern AS blocks_pattern, nk.recommendation AS recommendation,
	nk.source AS source, nk.ttl_days AS ttl_days, nk.is_active AS is_active`

func nkFromRecord(rec Record) model.NegativeKnowledge {
	return model.NegativeKnowledge{
		ID:             rec.String("id"),
		Hypothesis:     rec.String("hypothesis"),
		Conclusion:     rec.String("conclusion"),
		Evidence:       rec.String("evidence"),
		Domain:         rec.String("domain"),
		Severity:       model.Severity(rec.String("severity")),
		DiscoveredAt:   rec.Int("discovered_at"),
		ExpiresAt:      rec.Int("expires_at"),
		BlocksPattern:  rec.String("blocks_pattern"),
		Recommendation: rec.String("recommendation"),
		Source:         rec.String("source"),
		TTLDays:        int(rec.Int("ttl_days")),
		IsActive:       !rec.Has("is_active") || rec.Bool("is_active"),
	}
}

// ListNegativeKnowledge returns live NK entries, optionally filtered by
// domain, newest first.
func (s *Store) ListNegativeKnowledge(ctx context.Context, domain string, limit int) ([]model.NegativeKnowledge, error) {
	if limit <= 0 {
		limit = 20
	}
	p := s.params()
	p["limit"] = int64(limit)
	query := `MATCH (nk:NegativeKnowledge) WHERE ` + nsFilter("nk") + ` AND ` + activeFilter("nk")
	if domain != "" {
		p["domain"] = domain
		query += ` AND nk.domain = $domain`
	}
	query += ` RETURN ` + nkColumns + ` ORDER BY nk.discovered_at DESC LIMIT $limit`

	rs, err := s.client.ROQuery(ctx, query, p)
	if err != nil {
		return nil, err
	}
	out := make([]model.NegativeKnowledge, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, nkFromRecord(rec))
	}
	return out, nil
}

// SearchNegativeKnowledge finds live NK entries whose hypothesis mentions
// any of the keywords.
func (s *Store) SearchNegativeKnowledge(ctx context.Context, keywords []string, limit int) ([]model.NegativeKnowledge, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	needles := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if n := sanitize.NormalizeStatement(k); n != "" {
			needles = append(needles, n)
		}
	}
	if len(needles) == 0 {
		return nil, nil
	}

	p := s.params()
	p["needles"] = needles
	p["limit"] = int64(limit)
	rs, err := s.client.ROQuery(ctx, `MATCH (nk:NegativeKnowledge) WHERE `+nsFilter("nk")+` AND `+activeFilter("nk")+`
		AND any(needle IN $needles WHERE toLower(nk.hypothesis) CONTAINS needle)
		RETURN `+nkColumns+` ORDER BY nk.discovered_at DESC LIMIT $limit`, p)
	if err != nil {
		return nil, err
	}
	out := make([]model.NegativeKnowledge, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, nkFromRecord(rec))
	}
	return out, nil
}

// ---- Anti-patterns ----

// AddAntiPattern persists a detection rule.
func (s *Store) AddAntiPattern(ctx context.Context, ap model.AntiPattern) (model.AntiPattern, error) {
	if ap.ID == "" {
		ap.ID = model.NewPatternID()
	}
	if ap.FirstSeen == 0 {
		ap.FirstSeen = s.now().Unix()
	}
	if ap.Severity == "" {
		ap.Severity = model.SeverityMedium
	}

	p := s.params()
	p["id"] = ap.ID
	p["name"] = sanitize.Statement(ap.Name)
	p["category"] = sanitize.Generic(ap.Category)
	p["severity"] = string(ap.Severity)
	p["repos_affected"] = sanitize.StringSlice(ap.ReposAffected, sanitize.MaxFilePath)
	p["occurrence_count"] = int64(ap.OccurrenceCount)
	p["removal_rate"] = ap.RemovalRate
	p["avg_days_to_removal"] = ap.AvgDaysToRemoval
	p["keywords"] = sanitize.StringSlice(ap.Keywords, sanitize.MaxStatement)
	p["regex_pattern"] = ap.RegexPattern
	p["example_bad"] = sanitize.Generic(ap.ExampleBad)
	p["example_good"] = sanitize.Generic(ap.ExampleGood)
	p["first_seen"] = ap.FirstSeen
	p["recommendation"] = sanitize.Generic(ap.Recommendation)

	_, err := s.client.Query(ctx, `MERGE (ap:AntiPattern {name: $name, `+nsProps+`})
		ON CREATE SET ap.id = $id, ap.category = $category, ap.severity = $severity,
			ap.repos_affected = $repos_affected, ap.occurrence_count = $occurrence_count,
			ap.removal_rate = $removal_rate, ap.avg_days_to_removal = $avg_days_to_removal,
			ap.keywords = $keywords, ap.regex_pattern = $regex_pattern,
			ap.example_bad = $example_bad, ap.example_good = $example_good,
			ap.first_seen = $first_seen, ap.recommendation = $recommendation
		ON MATCH SET ap.occurrence_count = $occurrence_count, ap.removal_rate = $removal_rate,
			ap.avg_days_to_removal = $avg_days_to_removal`, p)
	if err != nil {
		return model.AntiPattern{}, err
	}
	return ap, nil
}

// TopAntiPatterns returns patterns ordered by removal rate, worst first.
func (s *Store) TopAntiPatterns(ctx context.Context, limit int) ([]model.AntiPattern, error) {
	if limit <= 0 {
		limit = 10
	}
	p := s.params()
	p["limit"] = int64(limit)
	rs, err := s.client.ROQuery(ctx, `MATCH (ap:AntiPattern) WHERE `+nsFilter("ap")+`
		RETURN ap.id AS id, ap.name AS name, ap.category AS category, ap.severity AS severity,
			ap.occurrence_count AS occurrence_count, ap.removal_rate AS removal_rate,
			ap.avg_days_to_removal AS avg_days_to_removal, ap.keywords AS keywords,
			ap.regex_pattern AS regex_pattern, ap.recommendation AS recommendation,
			ap.first_seen AS first_seen
		ORDER BY ap.removal_rate DESC LIMIT $limit`, p)
	if err != nil {
		return nil, err
	}
	out := make([]model.AntiPattern, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, model.AntiPattern{
			ID:               rec.String("id"),
			Name:             rec.String("name"),
			Category:         rec.String("category"),
			Severity:         model.Severity(rec.String("severity")),
			OccurrenceCount:  int(rec.Int("occurrence_count")),
			RemovalRate:      rec.Float("removal_rate"),
			AvgDaysToRemoval: rec.Float("avg_days_to_removal"),
			Keywords:         rec.StringSlice("keywords"),
			RegexPattern:     rec.String("regex_pattern"),
			Recommendation:   rec.String("recommendation"),
			FirstSeen:        rec.Int("first_seen"),
		})
	}
	return out, nil
}

// ---- Relationships and raw access ----

var validLabels = map[string]bool{
	model.LabelDecision: true, model.LabelCodeChange: true, model.LabelOutcome: true,
	model.LabelNegativeKnowledge: true, model.LabelAntiPattern: true, model.LabelEngram: true,
	model.LabelSkill: true, model.LabelDocument: true, model.LabelDocShot: true,
	model.LabelSessionContext: true, model.LabelRole: true, model.LabelProfile: true,
	model.LabelSquad: true, model.LabelAssignment: true,
	model.LabelWorkspace: true, model.LabelProject: true,
}

var validRels = map[string]bool{
	model.RelMadeIn: true, model.RelImplementedIn: true, model.RelReworkedBy: true,
	model.RelResultedIn: true, model.RelCaused: true, model.RelPrevented: true,
	model.RelTriggered: true, model.RelSimilarTo: true, model.RelUsesDocShot: true,
	model.RelIncludes: true, model.RelDocuments: true, model.RelAssigns: true,
	model.RelPlaysRole: true, model.RelUsesProfile: true, model.RelRoleUsesSkill: true,
	model.RelRoleUsesShot: true, model.RelRoleUsesNK: true, model.RelGeneratedFrom: true,
}

// CreateRelationship links two existing nodes. Labels and relationship types
// cannot be bound parameters, so they are validated against the fixed sets.
func (s *Store) CreateRelationship(ctx context.Context, fromLabel, fromID, relType, toLabel, toID string, props map[string]any) error {
	if !validLabels[fromLabel] || !validLabels[toLabel] {
		return fmt.Errorf("%w: unknown label", ErrSerializationFailed)
	}
	if !validRels[relType] {
		return fmt.Errorf("%w: unknown relationship type %q", ErrSerializationFailed, relType)
	}

	p := s.params()
	p["from_id"] = fromID
	p["to_id"] = toID

	setClause := ""
	if len(props) > 0 {
		p["props"] = props
		setClause = " SET r += $props"
	}

	query := fmt.Sprintf(`MATCH (a:%s {id: $from_id}), (b:%s {id: $to_id})
		WHERE %s AND %s MERGE (a)-[r:%s]->(b)%s RETURN a.id AS id`,
		fromLabel, toLabel, nsFilter("a"), nsFilter("b"), relType, setClause)

	rs, err := s.client.Query(ctx, query, p)
	if err != nil {
		return err
	}
	if rs.Empty() {
		return fmt.Errorf("relationship endpoints %s/%s: %w", fromID, toID, ErrNotFound)
	}
	return nil
}

// RawQuery runs an arbitrary write statement with namespace params merged in.
func (s *Store) RawQuery(ctx context.Context, query string, params map[string]any) (*ResultSet, error) {
	p := s.params()
	for k, v := range params {
		p[k] = v
	}
	return s.client.Query(ctx, query, p)
}

// RawROQuery runs an arbitrary read statement with namespace params merged in.
func (s *Store) RawROQuery(ctx context.Context, query string, params map[string]any) (*ResultSet, error) {
	p := s.params()
	for k, v := range params {
		p[k] = v
	}
	return s.client.ROQuery(ctx, query, p)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
