package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"membria/internal/calibration"
	"membria/internal/contextmgr"
	"membria/internal/docs"
	"membria/internal/federation"
	"membria/internal/graph"
	"membria/internal/model"
	"membria/internal/outcome"
	"membria/internal/planner"
	"membria/internal/skills"
	"membria/internal/squad"
)

// The production types must keep satisfying the interfaces the server is
// wired against, and the fake must keep satisfying every service that runs
// over it in these tests.
var (
	_ GraphStore   = (*graph.Store)(nil)
	_ HealthSource = (*graph.Client)(nil)
	_ Federation   = (*federation.Client)(nil)

	_ GraphStore             = (*fakeGraph)(nil)
	_ outcome.GraphStore     = (*fakeGraph)(nil)
	_ contextmgr.GraphReader = (*fakeGraph)(nil)
	_ planner.GraphReader    = (*fakeGraph)(nil)
	_ skills.GraphReader     = (*fakeGraph)(nil)
	_ docs.GraphStore        = (*fakeGraph)(nil)
	_ squad.GraphStore       = (*fakeGraph)(nil)
)

// fakeGraph is an in-memory graph store shared by every service under test.
// Write paths apply the same defaults as the real store so handler assertions
// hold against either implementation.
type fakeGraph struct {
	seq int

	decisions   map[string]model.Decision
	outcomes    map[string]model.Outcome
	negatives   map[string]model.NegativeKnowledge
	sessions    map[string]model.SessionContext
	engrams     map[string]model.Engram
	documents   map[string]model.Document
	docShots    map[string]model.DocShot
	codeChanges map[string]model.CodeChange
	workspaces  map[string]model.Workspace
	projects    map[string]model.Project
	profiles    map[string]model.Profile
	roles       map[string]model.Role
	squads      map[string]model.Squad
	assignments map[string]model.Assignment
	roleLinks   map[string][]string
	relations   []string

	skills       []model.Skill
	antiPatterns []model.AntiPattern
	planStats    []graph.PlanStats
	similar      []model.Decision
	chains       map[string][]graph.CausalChainRow
	roleSkills   map[string][]model.Skill
	roleNK       map[string][]model.NegativeKnowledge
	migration    graph.MigrationStatus
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		decisions:   map[string]model.Decision{},
		outcomes:    map[string]model.Outcome{},
		negatives:   map[string]model.NegativeKnowledge{},
		sessions:    map[string]model.SessionContext{},
		engrams:     map[string]model.Engram{},
		documents:   map[string]model.Document{},
		docShots:    map[string]model.DocShot{},
		codeChanges: map[string]model.CodeChange{},
		workspaces:  map[string]model.Workspace{},
		projects:    map[string]model.Project{},
		profiles:    map[string]model.Profile{},
		roles:       map[string]model.Role{},
		squads:      map[string]model.Squad{},
		assignments: map[string]model.Assignment{},
		roleLinks:   map[string][]string{},
		chains:      map[string][]graph.CausalChainRow{},
		roleSkills:  map[string][]model.Skill{},
		roleNK:      map[string][]model.NegativeKnowledge{},
		migration: graph.MigrationStatus{
			Current: 2,
			Latest:  2,
			Applied: []string{"0001_constraints", "0002_vector_index"},
		},
	}
}

func (g *fakeGraph) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%04d", prefix, g.seq)
}

func linkKey(roleID, kind string) string { return roleID + "/" + kind }

// --- decisions and engrams ---

func (g *fakeGraph) AddDecision(_ context.Context, d model.Decision, _ graph.Vector) (model.Decision, error) {
	if d.ID == "" {
		d.ID = g.nextID("dec")
	}
	if d.CreatedAt == 0 {
		d.CreatedAt = time.Now().Unix()
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
	if d.LastVerifiedAt == 0 {
		d.LastVerifiedAt = d.CreatedAt
	}
	d.IsActive = true
	g.decisions[d.ID] = d
	return d, nil
}

func (g *fakeGraph) GetDecision(_ context.Context, id string) (model.Decision, error) {
	d, ok := g.decisions[id]
	if !ok {
		return model.Decision{}, fmt.Errorf("decision %s: %w", id, graph.ErrNotFound)
	}
	return d, nil
}

func (g *fakeGraph) AddEngram(_ context.Context, e model.Engram) (model.Engram, error) {
	if e.ID == "" {
		e.ID = g.nextID("eng")
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}
	g.engrams[e.ID] = e
	return e, nil
}

// --- outcomes ---

func (g *fakeGraph) CreateOutcome(_ context.Context, o model.Outcome) (model.Outcome, bool, error) {
	for _, existing := range g.outcomes {
		if existing.DecisionID == o.DecisionID && existing.IsActive {
			return existing, false, nil
		}
	}
	if _, ok := g.decisions[o.DecisionID]; !ok {
		return model.Outcome{}, false, fmt.Errorf("decision %s: %w", o.DecisionID, graph.ErrNotFound)
	}
	if o.ID == "" {
		o.ID = g.nextID("out")
	}
	if o.CreatedAt == 0 {
		o.CreatedAt = time.Now().Unix()
	}
	if o.Status == "" {
		o.Status = model.OutcomePending
	}
	if o.TTLDays <= 0 {
		o.TTLDays = model.DefaultTTLDays("outcome")
	}
	o.IsActive = true
	g.outcomes[o.ID] = o
	return o, true, nil
}

func (g *fakeGraph) GetOutcome(_ context.Context, id string) (model.Outcome, error) {
	o, ok := g.outcomes[id]
	if !ok {
		return model.Outcome{}, fmt.Errorf("outcome %s: %w", id, graph.ErrNotFound)
	}
	return o, nil
}

func (g *fakeGraph) GetOutcomeByDecision(_ context.Context, decisionID string) (model.Outcome, error) {
	for _, o := range g.outcomes {
		if o.DecisionID == decisionID && o.IsActive {
			return o, nil
		}
	}
	return model.Outcome{}, fmt.Errorf("outcome for decision %s: %w", decisionID, graph.ErrNotFound)
}

func (g *fakeGraph) SaveOutcome(_ context.Context, o model.Outcome) error {
	if _, ok := g.outcomes[o.ID]; !ok {
		return fmt.Errorf("outcome %s: %w", o.ID, graph.ErrNotFound)
	}
	g.outcomes[o.ID] = o
	return nil
}

func (g *fakeGraph) UpdateDecisionOutcome(_ context.Context, id, outcomeStatus string, successRate float64, resolvedAt int64) error {
	d, ok := g.decisions[id]
	if !ok {
		return fmt.Errorf("decision %s: %w", id, graph.ErrNotFound)
	}
	d.Outcome = outcomeStatus
	d.ActualSuccessRate = successRate
	d.ResolvedAt = resolvedAt
	g.decisions[id] = d
	return nil
}

func (g *fakeGraph) ListOutcomes(_ context.Context, status string, limit int) ([]model.Outcome, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []model.Outcome
	for _, o := range g.outcomes {
		if !o.IsActive {
			continue
		}
		if status != "" && string(o.Status) != status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *fakeGraph) AddCodeChange(_ context.Context, cc model.CodeChange) (model.CodeChange, error) {
	if cc.ID == "" {
		cc.ID = g.nextID("chg")
	}
	if cc.Timestamp == 0 {
		cc.Timestamp = time.Now().Unix()
	}
	g.codeChanges[cc.ID] = cc
	return cc, nil
}

func (g *fakeGraph) CreateRelationship(_ context.Context, fromLabel, fromID, relType, toLabel, toID string, _ map[string]any) error {
	g.relations = append(g.relations, fmt.Sprintf("%s:%s-[%s]->%s:%s", fromLabel, fromID, relType, toLabel, toID))
	return nil
}

// --- knowledge ---

func (g *fakeGraph) AddNegativeKnowledge(_ context.Context, nk model.NegativeKnowledge, _ string) (model.NegativeKnowledge, error) {
	if nk.ID == "" {
		nk.ID = g.nextID("nk")
	}
	if nk.DiscoveredAt == 0 {
		nk.DiscoveredAt = time.Now().Unix()
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
	g.negatives[nk.ID] = nk
	return nk, nil
}

func (g *fakeGraph) ListNegativeKnowledge(_ context.Context, domain string, limit int) ([]model.NegativeKnowledge, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []model.NegativeKnowledge
	for _, nk := range g.negatives {
		if !nk.IsActive {
			continue
		}
		if domain != "" && nk.Domain != domain {
			continue
		}
		out = append(out, nk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *fakeGraph) SearchNegativeKnowledge(_ context.Context, keywords []string, limit int) ([]model.NegativeKnowledge, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []model.NegativeKnowledge
	for _, nk := range g.negatives {
		if !nk.IsActive {
			continue
		}
		hyp := strings.ToLower(nk.Hypothesis)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(hyp, strings.ToLower(kw)) {
				out = append(out, nk)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *fakeGraph) NegativeKnowledgeForRole(_ context.Context, roleID string, _ int) ([]model.NegativeKnowledge, error) {
	return g.roleNK[roleID], nil
}

func (g *fakeGraph) TopAntiPatterns(_ context.Context, limit int) ([]model.AntiPattern, error) {
	if limit > 0 && len(g.antiPatterns) > limit {
		return g.antiPatterns[:limit], nil
	}
	return g.antiPatterns, nil
}

func (g *fakeGraph) ListSkills(_ context.Context, domain string, limit int) ([]model.Skill, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []model.Skill
	for _, sk := range g.skills {
		if domain != "" && sk.Domain != domain {
			continue
		}
		out = append(out, sk)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *fakeGraph) SkillsForRole(_ context.Context, roleID string, _ int) ([]model.Skill, error) {
	return g.roleSkills[roleID], nil
}

func (g *fakeGraph) LatestSkillVersion(_ context.Context, domain string) (int, error) {
	latest := 0
	for _, sk := range g.skills {
		if sk.Domain == domain && sk.Version > latest {
			latest = sk.Version
		}
	}
	return latest, nil
}

func (g *fakeGraph) AddSkill(_ context.Context, sk model.Skill) (model.Skill, error) {
	if sk.ID == "" {
		sk.ID = model.SkillID(sk.Domain, sk.Version)
	}
	g.skills = append(g.skills, sk)
	return sk, nil
}

// --- memory ---

func (g *fakeGraph) ListMemories(_ context.Context, memoryType, subject string, limit int) ([]model.Decision, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []model.Decision
	for _, d := range g.decisions {
		if !d.IsActive {
			continue
		}
		if memoryType != "" && d.MemoryType != memoryType {
			continue
		}
		if subject != "" && d.MemorySubject != subject {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *fakeGraph) UpdateDecisionMemory(_ context.Context, id string, patch graph.MemoryPatch) error {
	d, ok := g.decisions[id]
	if !ok {
		return fmt.Errorf("decision %s: %w", id, graph.ErrNotFound)
	}
	if patch.Statement != nil {
		d.Statement = *patch.Statement
	}
	if patch.Confidence != nil {
		d.Confidence = *patch.Confidence
	}
	if patch.Subject != nil {
		d.MemorySubject = *patch.Subject
	}
	if patch.TTLDays != nil {
		d.TTLDays = *patch.TTLDays
	}
	d.LastVerifiedAt = time.Now().Unix()
	g.decisions[id] = d
	return nil
}

func (g *fakeGraph) UpdateNegativeKnowledgeMemory(_ context.Context, id string, hypothesis, recommendation *string, ttlDays *int) error {
	nk, ok := g.negatives[id]
	if !ok {
		return fmt.Errorf("negative knowledge %s: %w", id, graph.ErrNotFound)
	}
	if hypothesis != nil {
		nk.Hypothesis = *hypothesis
	}
	if recommendation != nil {
		nk.Recommendation = *recommendation
	}
	if ttlDays != nil {
		nk.TTLDays = *ttlDays
	}
	nk.LastVerifiedAt = time.Now().Unix()
	g.negatives[id] = nk
	return nil
}

func (g *fakeGraph) DeactivateMemory(_ context.Context, label, id, reason string) error {
	if reason == "" {
		reason = "manual_delete"
	}
	switch label {
	case model.LabelDecision:
		d, ok := g.decisions[id]
		if !ok {
			return fmt.Errorf("decision %s: %w", id, graph.ErrNotFound)
		}
		d.IsActive = false
		d.DeprecatedReason = reason
		g.decisions[id] = d
	case model.LabelNegativeKnowledge:
		nk, ok := g.negatives[id]
		if !ok {
			return fmt.Errorf("negative knowledge %s: %w", id, graph.ErrNotFound)
		}
		nk.IsActive = false
		g.negatives[id] = nk
	default:
		return fmt.Errorf("%w: label %s is not a memory label", graph.ErrSerializationFailed, label)
	}
	return nil
}

// --- session context ---

func (g *fakeGraph) UpsertSessionContext(_ context.Context, sc model.SessionContext) (model.SessionContext, error) {
	if sc.SessionID == "" {
		return model.SessionContext{}, fmt.Errorf("%w: session_id required", graph.ErrSerializationFailed)
	}
	if sc.CreatedAt == 0 {
		sc.CreatedAt = time.Now().Unix()
	}
	if sc.TTLDays <= 0 {
		sc.TTLDays = model.DefaultTTLDays("session_context")
	}
	sc.ExpiresAt = sc.CreatedAt + int64(sc.TTLDays)*86400
	sc.IsActive = true
	g.sessions[sc.SessionID] = sc
	return sc, nil
}

func (g *fakeGraph) GetSessionContext(_ context.Context, sessionID string) (model.SessionContext, error) {
	sc, ok := g.sessions[sessionID]
	if !ok || !sc.IsActive {
		return model.SessionContext{}, fmt.Errorf("session %s: %w", sessionID, graph.ErrNotFound)
	}
	return sc, nil
}

func (g *fakeGraph) DeactivateSessionContext(_ context.Context, sessionID, _ string) error {
	sc, ok := g.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, graph.ErrNotFound)
	}
	sc.IsActive = false
	g.sessions[sessionID] = sc
	return nil
}

// --- analytics ---

func (g *fakeGraph) FindSimilarDecisions(_ context.Context, _, _ string, _ graph.Vector, limit int) ([]model.Decision, error) {
	if limit > 0 && len(g.similar) > limit {
		return g.similar[:limit], nil
	}
	return g.similar, nil
}

func (g *fakeGraph) CausalChain(_ context.Context, decisionID string) ([]graph.CausalChainRow, error) {
	return g.chains[decisionID], nil
}

func (g *fakeGraph) EngramPlanStats(_ context.Context, _ string, limit int) ([]graph.PlanStats, error) {
	if limit > 0 && len(g.planStats) > limit {
		return g.planStats[:limit], nil
	}
	return g.planStats, nil
}

func (g *fakeGraph) RecentDecisionsByDomain(_ context.Context, domain string, limit int) ([]model.Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.Decision
	for _, d := range g.decisions {
		if d.IsActive && d.Module == domain {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *fakeGraph) FailedDecisionsByKeyword(_ context.Context, keyword string, limit int) ([]model.Decision, error) {
	if limit <= 0 {
		limit = 5
	}
	kw := strings.ToLower(keyword)
	var out []model.Decision
	for _, d := range g.decisions {
		if d.Outcome != "failure" {
			continue
		}
		if strings.Contains(strings.ToLower(d.Statement), kw) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *fakeGraph) Status(_ context.Context) (graph.MigrationStatus, error) {
	return g.migration, nil
}

// --- documents ---

func (g *fakeGraph) AddDocument(_ context.Context, d model.Document) (model.Document, error) {
	if d.ID == "" {
		d.ID = g.nextID("doc")
	}
	now := time.Now().Unix()
	if d.CreatedAt == 0 {
		d.CreatedAt = now
	}
	if d.UpdatedAt == 0 {
		d.UpdatedAt = now
	}
	if d.ContentHash == "" && d.Content != "" {
		d.ContentHash = model.HashContent(d.Content)
	}
	d.IsActive = true
	g.documents[d.ID] = d
	return d, nil
}

func (g *fakeGraph) GetDocument(_ context.Context, id string) (model.Document, error) {
	d, ok := g.documents[id]
	if !ok || !d.IsActive {
		return model.Document{}, fmt.Errorf("document %s: %w", id, graph.ErrNotFound)
	}
	return d, nil
}

func (g *fakeGraph) GetDocuments(_ context.Context, ids []string) ([]model.Document, error) {
	var out []model.Document
	for _, id := range ids {
		if d, ok := g.documents[id]; ok && d.IsActive {
			out = append(out, d)
		}
	}
	return out, nil
}

func (g *fakeGraph) ListDocuments(_ context.Context, docType string, limit int) ([]model.Document, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []model.Document
	for _, d := range g.documents {
		if !d.IsActive {
			continue
		}
		if docType != "" && d.DocType != docType {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *fakeGraph) CreateDocShot(_ context.Context, members []model.Document, label string) (model.DocShot, error) {
	ids := make([]string, 0, len(members))
	for _, d := range members {
		ids = append(ids, d.ID)
	}
	shot := model.DocShot{
		ID:        model.DocShotID(members),
		DocIDs:    ids,
		CreatedAt: time.Now().Unix(),
		Label:     label,
	}
	g.docShots[shot.ID] = shot
	return shot, nil
}

func (g *fakeGraph) GetDocShot(_ context.Context, id string) (model.DocShot, error) {
	shot, ok := g.docShots[id]
	if !ok {
		return model.DocShot{}, fmt.Errorf("docshot %s: %w", id, graph.ErrNotFound)
	}
	return shot, nil
}

func (g *fakeGraph) LinkDecisionDocs(_ context.Context, decisionID string, shot model.DocShot, docs []model.Document) error {
	if _, ok := g.decisions[decisionID]; !ok {
		return fmt.Errorf("decision %s: %w", decisionID, graph.ErrNotFound)
	}
	g.relations = append(g.relations, fmt.Sprintf("%s:%s-[%s]->%s:%s",
		model.LabelDecision, decisionID, model.RelUsesDocShot, model.LabelDocShot, shot.ID))
	for _, doc := range docs {
		g.relations = append(g.relations, fmt.Sprintf("%s:%s-[%s]->%s:%s",
			model.LabelDecision, decisionID, model.RelDocuments, model.LabelDocument, doc.ID))
	}
	return nil
}

// --- squads ---

func (g *fakeGraph) UpsertWorkspace(_ context.Context, w model.Workspace) (model.Workspace, error) {
	for id, existing := range g.workspaces {
		if existing.Name == w.Name {
			w.ID = id
			w.CreatedAt = existing.CreatedAt
			g.workspaces[id] = w
			return w, nil
		}
	}
	if w.ID == "" {
		w.ID = g.nextID("ws")
	}
	if w.CreatedAt == 0 {
		w.CreatedAt = time.Now().Unix()
	}
	g.workspaces[w.ID] = w
	return w, nil
}

func (g *fakeGraph) UpsertProject(_ context.Context, pr model.Project) (model.Project, error) {
	for id, existing := range g.projects {
		if existing.Name == pr.Name {
			pr.ID = id
			pr.CreatedAt = existing.CreatedAt
			g.projects[id] = pr
			return pr, nil
		}
	}
	if pr.ID == "" {
		pr.ID = g.nextID("proj")
	}
	if pr.CreatedAt == 0 {
		pr.CreatedAt = time.Now().Unix()
	}
	g.projects[pr.ID] = pr
	return pr, nil
}

func (g *fakeGraph) UpsertProfile(_ context.Context, pf model.Profile) (model.Profile, error) {
	for id, existing := range g.profiles {
		if existing.Name == pf.Name {
			pf.ID = id
			pf.CreatedAt = existing.CreatedAt
			g.profiles[id] = pf
			return pf, nil
		}
	}
	if pf.ID == "" {
		pf.ID = g.nextID("prof")
	}
	if pf.CreatedAt == 0 {
		pf.CreatedAt = time.Now().Unix()
	}
	g.profiles[pf.ID] = pf
	return pf, nil
}

func (g *fakeGraph) UpsertRole(_ context.Context, r model.Role) (model.Role, error) {
	for id, existing := range g.roles {
		if existing.Name == r.Name {
			r.ID = id
			r.CreatedAt = existing.CreatedAt
			r.UpdatedAt = time.Now().Unix()
			r.IsActive = true
			g.roles[id] = r
			return r, nil
		}
	}
	if r.ID == "" {
		r.ID = g.nextID("role")
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().Unix()
	}
	r.IsActive = true
	g.roles[r.ID] = r
	return r, nil
}

func (g *fakeGraph) GetRole(_ context.Context, id string) (model.Role, error) {
	r, ok := g.roles[id]
	if !ok || !r.IsActive {
		return model.Role{}, fmt.Errorf("role %s: %w", id, graph.ErrNotFound)
	}
	return r, nil
}

func (g *fakeGraph) RoleLinkedIDs(_ context.Context, roleID, kind string) ([]string, error) {
	return g.roleLinks[linkKey(roleID, kind)], nil
}

func (g *fakeGraph) LinkRole(_ context.Context, roleID, kind, targetID string) error {
	if _, ok := g.roles[roleID]; !ok {
		return fmt.Errorf("role %s: %w", roleID, graph.ErrNotFound)
	}
	key := linkKey(roleID, kind)
	for _, existing := range g.roleLinks[key] {
		if existing == targetID {
			return nil
		}
	}
	g.roleLinks[key] = append(g.roleLinks[key], targetID)
	return nil
}

func (g *fakeGraph) UnlinkRole(_ context.Context, roleID, kind, targetID string) error {
	key := linkKey(roleID, kind)
	ids := g.roleLinks[key]
	for i, existing := range ids {
		if existing == targetID {
			g.roleLinks[key] = append(ids[:i:i], ids[i+1:]...)
			return nil
		}
	}
	return nil
}

func (g *fakeGraph) CreateSquad(_ context.Context, sq model.Squad) (model.Squad, error) {
	if !model.ValidStrategy(sq.Strategy) {
		return model.Squad{}, fmt.Errorf("%w: strategy %q", graph.ErrSerializationFailed, sq.Strategy)
	}
	if sq.ID == "" {
		sq.ID = g.nextID("squad")
	}
	if sq.CreatedAt == 0 {
		sq.CreatedAt = time.Now().Unix()
	}
	sq.IsActive = true
	g.squads[sq.ID] = sq
	return sq, nil
}

func (g *fakeGraph) ListSquads(_ context.Context, projectID string, limit int) ([]model.Squad, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []model.Squad
	for _, sq := range g.squads {
		if !sq.IsActive {
			continue
		}
		if projectID != "" && sq.ProjectID != projectID {
			continue
		}
		out = append(out, sq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *fakeGraph) AddAssignment(_ context.Context, a model.Assignment) (model.Assignment, error) {
	if _, ok := g.squads[a.SquadID]; !ok {
		return model.Assignment{}, fmt.Errorf("squad %s: %w", a.SquadID, graph.ErrNotFound)
	}
	if _, ok := g.roles[a.RoleID]; !ok {
		return model.Assignment{}, fmt.Errorf("role %s: %w", a.RoleID, graph.ErrNotFound)
	}
	if a.ID == "" {
		a.ID = g.nextID("asg")
	}
	if a.Status == "" {
		a.Status = model.AssignmentOpen
	}
	if a.AssignedAt == 0 {
		a.AssignedAt = time.Now().Unix()
	}
	g.assignments[a.ID] = a
	return a, nil
}

func (g *fakeGraph) ListAssignments(_ context.Context, squadID string) ([]model.Assignment, error) {
	var out []model.Assignment
	for _, a := range g.assignments {
		if a.SquadID == squadID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].AssignedAt < out[j].AssignedAt
	})
	return out, nil
}

func (g *fakeGraph) UpdateAssignmentStatus(_ context.Context, id, status, resultNote string) error {
	a, ok := g.assignments[id]
	if !ok {
		return fmt.Errorf("assignment %s: %w", id, graph.ErrNotFound)
	}
	switch status {
	case model.AssignmentOpen, model.AssignmentInProgress, model.AssignmentDone, model.AssignmentAbandoned:
	default:
		return fmt.Errorf("%w: status %q", graph.ErrSerializationFailed, status)
	}
	a.Status = status
	if resultNote != "" {
		a.ResultNote = resultNote
	}
	if status == model.AssignmentDone || status == model.AssignmentAbandoned {
		a.CompletedAt = time.Now().Unix()
	}
	g.assignments[id] = a
	return nil
}

// --- fakes for the non-graph dependencies ---

type fakeHealth struct {
	connected bool
	healthErr error
	breaker   string
}

func (f *fakeHealth) Connected() bool               { return f.connected }
func (f *fakeHealth) Healthy(context.Context) error { return f.healthErr }

func (f *fakeHealth) BreakerState() string {
	if f.breaker == "" {
		return "closed"
	}
	return f.breaker
}

type fakeFederation struct {
	tools  []federation.RemoteTool
	calls  []string
	result json.RawMessage
	err    error
}

func (f *fakeFederation) Enabled() bool                  { return len(f.tools) > 0 }
func (f *fakeFederation) Tools() []federation.RemoteTool { return f.tools }

func (f *fakeFederation) Handles(name string) bool {
	for _, t := range f.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func (f *fakeFederation) Call(_ context.Context, name string, _ json.RawMessage) (json.RawMessage, error) {
	f.calls = append(f.calls, name)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return json.RawMessage(`{"ok":true}`), nil
}

// newTestDeps wires the real services over the in-memory graph, the way the
// daemon wires them over FalkorDB.
func newTestDeps(t *testing.T) (Deps, *fakeGraph) {
	t.Helper()
	g := newFakeGraph()
	ns := model.Namespace{TenantID: "t1", TeamID: "core", ProjectID: "membria"}
	cal := calibration.NewStore(t.TempDir(), ns, nil)
	deps := Deps{
		Graph:         g,
		GraphHealth:   &fakeHealth{connected: true},
		Tracker:       outcome.NewTracker(g, cal, nil),
		Calibration:   cal,
		Context:       contextmgr.NewManager(g, cal, nil),
		PlanBuilder:   planner.NewBuilder(g, cal, nil, nil),
		PlanValidator: planner.NewValidator(g, cal, nil),
		Skills:        skills.NewGenerator(g, cal, nil),
		Docs:          docs.NewService(g, nil, nil),
		Squads:        squad.NewService(g, nil),
		MemoryTools:   true,
	}
	return deps, g
}

// newTestServer compiles the catalogue and returns a server whose invoke path
// enforces the same schema validation as the wire.
func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	c, err := NewCatalog(deps)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return NewServer(c, Options{In: strings.NewReader(""), Out: io.Discard})
}

// callTool runs one tool through the full invoke path and decodes the result
// object out of the content envelope.
func callTool(t *testing.T, srv *Server, name, args string) map[string]any {
	t.Helper()
	res, rpcErr := srv.invoke(context.Background(), name, json.RawMessage(args))
	if rpcErr != nil {
		t.Fatalf("%s: rpc error %d: %s", name, rpcErr.Code, rpcErr.Message)
	}
	call, ok := res.(CallResult)
	if !ok {
		t.Fatalf("%s: result has type %T, want CallResult", name, res)
	}
	if len(call.Content) != 1 || call.Content[0].Type != "text" {
		t.Fatalf("%s: unexpected content envelope %+v", name, call.Content)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(call.Content[0].Text), &out); err != nil {
		t.Fatalf("%s: decode result: %v", name, err)
	}
	return out
}

// callToolErr runs one tool expecting a wire-level error.
func callToolErr(t *testing.T, srv *Server, name, args string) *RPCError {
	t.Helper()
	res, rpcErr := srv.invoke(context.Background(), name, json.RawMessage(args))
	if rpcErr == nil {
		t.Fatalf("%s: expected rpc error, got result %v", name, res)
	}
	return rpcErr
}

var allToolNames = []string{
	"capture_decision", "record_outcome", "update_outcome", "check_success_criteria",
	"outcomes_list", "get_calibration", "get_decision_context",
	"get_plan_context", "validate_plan", "record_plan",
	"session_context_store", "session_context_retrieve", "session_context_delete",
	"docs_add", "docs_get", "docs_list", "fetch_docs", "docshot_link", "md_xtract",
	"squad_create", "assignment_add", "squad_list", "squad_assignments",
	"role_upsert", "role_get", "role_link", "role_unlink",
	"skills_list", "skill_generate", "antipatterns_list", "negative_knowledge_add",
	"health", "migrations_status", "logs_tail",
	"memory_store", "memory_retrieve", "memory_list", "memory_update", "memory_delete",
}

func TestNewCatalogRegistersEveryTool(t *testing.T) {
	deps, _ := newTestDeps(t)
	c, err := NewCatalog(deps)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if got, want := len(c.order), len(allToolNames); got != want {
		t.Errorf("catalogue has %d tools, want %d", got, want)
	}
	for _, name := range allToolNames {
		if _, ok := c.lookup(name); !ok {
			t.Errorf("tool %s is not registered", name)
		}
	}
}

func TestNewCatalogMemoryToolsAreOptional(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.MemoryTools = false
	c, err := NewCatalog(deps)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	for _, name := range []string{"memory_store", "memory_retrieve", "memory_list", "memory_update", "memory_delete"} {
		if _, ok := c.lookup(name); ok {
			t.Errorf("tool %s registered despite the memory flag being off", name)
		}
	}
	// Session context is core, not part of the optional memory surface.
	if _, ok := c.lookup("session_context_store"); !ok {
		t.Error("session_context_store missing")
	}
	if got, want := len(c.order), len(allToolNames)-5; got != want {
		t.Errorf("catalogue has %d tools, want %d", got, want)
	}
}

func TestNewCatalogValidatesDeps(t *testing.T) {
	if _, err := NewCatalog(Deps{}); err == nil {
		t.Fatal("expected an error for empty deps")
	}
	deps, _ := newTestDeps(t)
	deps.Squads = nil
	if _, err := NewCatalog(deps); err == nil {
		t.Fatal("expected an error when the squad service is missing")
	}
	deps, _ = newTestDeps(t)
	deps.Tracker = nil
	if _, err := NewCatalog(deps); err == nil {
		t.Fatal("expected an error when the tracker is missing")
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	c := newCatalog()
	spec := toolSpec{
		name:   "dup",
		input:  obj(map[string]any{}),
		output: obj(map[string]any{}),
		handler: func(context.Context, json.RawMessage) (any, error) {
			return map[string]any{}, nil
		},
	}
	if err := c.registerAll([]toolSpec{spec}); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := c.registerAll([]toolSpec{spec}); err == nil {
		t.Fatal("expected an error on duplicate registration")
	}
}

func TestDefinitionsKeepRegistrationOrder(t *testing.T) {
	deps, _ := newTestDeps(t)
	c, err := NewCatalog(deps)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	defs := c.definitions()
	if len(defs) != len(c.order) {
		t.Fatalf("definitions has %d entries, want %d", len(defs), len(c.order))
	}
	if defs[0].Name != "capture_decision" {
		t.Errorf("first definition is %s, want capture_decision", defs[0].Name)
	}
	for _, def := range defs {
		if def.Description == "" {
			t.Errorf("tool %s has no description", def.Name)
		}
		if def.InputSchema == nil {
			t.Errorf("tool %s has no input schema", def.Name)
		}
	}
}
