// Package contextmgr assembles compact markdown payloads for agents about to
// make or plan a decision. Sections are rendered independently, priced at
// four characters per token, and admitted in a fixed priority order until the
// caller's budget runs out. A section whose backing query fails is skipped;
// the assembler never fails the caller.
package contextmgr

import (
	"context"
	"errors"

	"membria/internal/calibration"
	"membria/internal/graph"
	"membria/internal/logging"
	"membria/internal/model"
	"membria/internal/observability"
	"membria/internal/planner"
)

// Section names reported in Result.SectionsIncluded.
const (
	SectionCalibration       = "calibration"
	SectionNegativeKnowledge = "negative_knowledge"
	SectionRoleSkills        = "role_skills"
	SectionSimilarDecisions  = "similar_decisions"
	SectionSession           = "session_context"
	SectionDocShot           = "doc_shot"
	SectionFailedApproaches  = "failed_approaches"
	SectionSuccessPatterns   = "successful_patterns"
	SectionRecommendations   = "recommendations"
	SectionConstraints       = "constraints"
)

const (
	negativeKnowledgeLimit = 5
	roleSkillLimit         = 3
	similarDecisionLimit   = 5
	chainDecisionLimit     = 3
)

// GraphReader is the slice of the graph layer the assembler queries.
type GraphReader interface {
	SearchNegativeKnowledge(ctx context.Context, keywords []string, limit int) ([]model.NegativeKnowledge, error)
	NegativeKnowledgeForRole(ctx context.Context, roleID string, limit int) ([]model.NegativeKnowledge, error)
	SkillsForRole(ctx context.Context, roleID string, limit int) ([]model.Skill, error)
	FindSimilarDecisions(ctx context.Context, statement, module string, embedding graph.Vector, limit int) ([]model.Decision, error)
	CausalChain(ctx context.Context, decisionID string) ([]graph.CausalChainRow, error)
	GetSessionContext(ctx context.Context, sessionID string) (model.SessionContext, error)
	GetDocShot(ctx context.Context, id string) (model.DocShot, error)
}

// CalibrationReader scores a claimed confidence against the domain posterior.
type CalibrationReader interface {
	Guidance(ctx context.Context, domain string, confidence float64) (calibration.Guidance, error)
}

// Manager renders decision and plan context payloads.
type Manager struct {
	graph   GraphReader
	cal     CalibrationReader
	logger  logging.Logger
	metrics *observability.ContextMetrics
}

// NewManager wires the assembler to the graph and calibration layers.
func NewManager(graph GraphReader, cal CalibrationReader, logger logging.Logger) *Manager {
	if logging.IsNil(logger) {
		logger = logging.Nop()
	}
	return &Manager{graph: graph, cal: cal, logger: logger}
}

// SetMetrics attaches an assembly health recorder. A nil recorder is fine;
// every record call tolerates it.
func (m *Manager) SetMetrics(metrics *observability.ContextMetrics) {
	m.metrics = metrics
}

// queryFailed logs a backing query failure and counts it toward the
// assembly error metric. The section is skipped, never the whole build.
func (m *Manager) queryFailed(format string, args ...any) {
	m.logger.Warn(format, args...)
	m.metrics.RecordAssemblyError()
}

// DecisionContextRequest describes one decision about to be made. Optional
// fields widen the payload: a role pulls its linked skills and negative
// knowledge, a session pulls its summary, a DocShot pins documentation, and
// an embedding upgrades similar-decision lookup from keywords to vectors.
type DecisionContextRequest struct {
	Statement     string
	Module        string
	Confidence    float64
	MaxTokens     int
	IncludeChains bool
	RoleID        string
	SessionID     string
	DocShotID     string
	Embedding     graph.Vector
}

// BuildDecisionContext assembles the pre-decision payload. Sections are
// tried in priority order: calibration guidance, negative-knowledge alerts,
// role skills, similar past decisions, session summary, DocShot reference.
func (m *Manager) BuildDecisionContext(ctx context.Context, req DecisionContextRequest) Result {
	b := newBudget(req.MaxTokens, m.metrics)

	if guidance, err := m.cal.Guidance(ctx, req.Module, req.Confidence); err != nil {
		m.queryFailed("decision context: calibration guidance: %v", err)
	} else {
		b.add(SectionCalibration, renderCalibration(guidance))
	}

	b.add(SectionNegativeKnowledge, renderNegativeKnowledge(m.negativeKnowledgeFor(ctx, req)))

	if req.RoleID != "" {
		skills, err := m.graph.SkillsForRole(ctx, req.RoleID, roleSkillLimit)
		if err != nil {
			m.queryFailed("decision context: role skills for %s: %v", req.RoleID, err)
		} else {
			b.add(SectionRoleSkills, renderRoleSkills(skills))
		}
	}

	b.add(SectionSimilarDecisions, m.renderSimilar(ctx, req))

	if req.SessionID != "" {
		sc, err := m.graph.GetSessionContext(ctx, req.SessionID)
		switch {
		case errors.Is(err, graph.ErrNotFound):
			m.logger.Debug("decision context: session %s not found", req.SessionID)
		case err != nil:
			m.queryFailed("decision context: session %s: %v", req.SessionID, err)
		default:
			b.add(SectionSession, renderSession(sc))
		}
	}

	if req.DocShotID != "" {
		b.add(SectionDocShot, m.renderDocShot(ctx, req.DocShotID))
	}

	return b.result()
}

// negativeKnowledgeFor merges keyword hits on the statement with the role's
// linked entries, deduplicated by id with keyword hits first.
func (m *Manager) negativeKnowledgeFor(ctx context.Context, req DecisionContextRequest) []model.NegativeKnowledge {
	var out []model.NegativeKnowledge
	seen := map[string]bool{}

	if keywords := planner.ExtractKeywords(req.Statement, 5); len(keywords) > 0 {
		entries, err := m.graph.SearchNegativeKnowledge(ctx, keywords, negativeKnowledgeLimit)
		if err != nil {
			m.queryFailed("decision context: negative knowledge search: %v", err)
		}
		for _, nk := range entries {
			if !seen[nk.ID] {
				seen[nk.ID] = true
				out = append(out, nk)
			}
		}
	}

	if req.RoleID != "" {
		entries, err := m.graph.NegativeKnowledgeForRole(ctx, req.RoleID, negativeKnowledgeLimit)
		if err != nil {
			m.queryFailed("decision context: negative knowledge for role %s: %v", req.RoleID, err)
		}
		for _, nk := range entries {
			if !seen[nk.ID] {
				seen[nk.ID] = true
				out = append(out, nk)
			}
		}
	}

	return out
}

func (m *Manager) renderSimilar(ctx context.Context, req DecisionContextRequest) string {
	decisions, err := m.graph.FindSimilarDecisions(ctx, req.Statement, req.Module, req.Embedding, similarDecisionLimit)
	if err != nil {
		m.queryFailed("decision context: similar decisions: %v", err)
		return ""
	}

	var chains map[string][]graph.CausalChainRow
	if req.IncludeChains {
		chains = map[string][]graph.CausalChainRow{}
		for i, d := range decisions {
			if i == chainDecisionLimit {
				break
			}
			rows, err := m.graph.CausalChain(ctx, d.ID)
			if err != nil {
				m.queryFailed("decision context: causal chain for %s: %v", d.ID, err)
				continue
			}
			chains[d.ID] = rows
		}
	}

	return renderSimilarDecisions(decisions, chains)
}

func (m *Manager) renderDocShot(ctx context.Context, id string) string {
	shot, err := m.graph.GetDocShot(ctx, id)
	switch {
	case errors.Is(err, graph.ErrNotFound):
		m.logger.Debug("decision context: docshot %s not found", id)
		m.metrics.RecordDocShot(false)
		return ""
	case err != nil:
		m.queryFailed("decision context: docshot %s: %v", id, err)
		return ""
	}
	m.metrics.RecordDocShot(true)
	return renderDocShot(shot)
}
