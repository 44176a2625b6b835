package toolserver

import (
	"context"
	"encoding/json"
	"fmt"

	"membria/internal/calibration"
	"membria/internal/contextmgr"
	"membria/internal/docs"
	"membria/internal/engram"
	"membria/internal/federation"
	"membria/internal/graph"
	"membria/internal/logging"
	"membria/internal/model"
	"membria/internal/observability"
	"membria/internal/outcome"
	"membria/internal/planner"
	"membria/internal/scheduler"
	"membria/internal/skills"
	"membria/internal/squad"
)

// GraphStore is the slice of the graph layer the tool handlers drive
// directly. Everything else reaches the graph through its own service.
type GraphStore interface {
	AddDecision(ctx context.Context, d model.Decision, embedding graph.Vector) (model.Decision, error)
	GetDecision(ctx context.Context, id string) (model.Decision, error)
	AddEngram(ctx context.Context, e model.Engram) (model.Engram, error)
	ListOutcomes(ctx context.Context, status string, limit int) ([]model.Outcome, error)
	ListSkills(ctx context.Context, domain string, limit int) ([]model.Skill, error)
	TopAntiPatterns(ctx context.Context, limit int) ([]model.AntiPattern, error)
	AddNegativeKnowledge(ctx context.Context, nk model.NegativeKnowledge, causedByOutcome string) (model.NegativeKnowledge, error)
	ListNegativeKnowledge(ctx context.Context, domain string, limit int) ([]model.NegativeKnowledge, error)
	SearchNegativeKnowledge(ctx context.Context, keywords []string, limit int) ([]model.NegativeKnowledge, error)

	ListMemories(ctx context.Context, memoryType, subject string, limit int) ([]model.Decision, error)
	UpdateDecisionMemory(ctx context.Context, id string, patch graph.MemoryPatch) error
	UpdateNegativeKnowledgeMemory(ctx context.Context, id string, hypothesis, recommendation *string, ttlDays *int) error
	DeactivateMemory(ctx context.Context, label, id, reason string) error

	UpsertSessionContext(ctx context.Context, sc model.SessionContext) (model.SessionContext, error)
	GetSessionContext(ctx context.Context, sessionID string) (model.SessionContext, error)
	DeactivateSessionContext(ctx context.Context, sessionID, reason string) error

	Status(ctx context.Context) (graph.MigrationStatus, error)
}

// HealthSource reports graph-engine connectivity for the health tool.
type HealthSource interface {
	Connected() bool
	Healthy(ctx context.Context) error
	BreakerState() string
}

// Federation merges allowlisted remote tools into the catalogue and carries
// their calls. Remote schemas pass through unvalidated.
type Federation interface {
	Enabled() bool
	Tools() []federation.RemoteTool
	Handles(name string) bool
	Call(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// Deps wires the tool handlers to the engine. Graph through Squads are
// mandatory; the rest degrade the affected tools when absent.
type Deps struct {
	Graph         GraphStore
	GraphHealth   HealthSource
	Tracker       *outcome.Tracker
	Calibration   *calibration.Store
	Context       *contextmgr.Manager
	PlanBuilder   *planner.Builder
	PlanValidator *planner.Validator
	Skills        *skills.Generator
	Docs          *docs.Service
	Squads        *squad.Service
	Queue         *engram.Queue
	Jobs          *scheduler.Scheduler
	Federation    Federation
	Ring          *observability.RingWriter

	MemoryTools      bool
	DefaultMaxTokens int
	Logger           logging.Logger
}

func (d Deps) validate() error {
	switch {
	case d.Graph == nil:
		return fmt.Errorf("toolserver: graph store is required")
	case d.Tracker == nil:
		return fmt.Errorf("toolserver: outcome tracker is required")
	case d.Calibration == nil:
		return fmt.Errorf("toolserver: calibration store is required")
	case d.Context == nil:
		return fmt.Errorf("toolserver: context manager is required")
	case d.PlanBuilder == nil || d.PlanValidator == nil:
		return fmt.Errorf("toolserver: planner is required")
	case d.Skills == nil:
		return fmt.Errorf("toolserver: skill generator is required")
	case d.Docs == nil:
		return fmt.Errorf("toolserver: docs service is required")
	case d.Squads == nil:
		return fmt.Errorf("toolserver: squad service is required")
	}
	return nil
}

// handlers binds the catalogue implementations to their dependencies.
type handlers struct {
	deps   Deps
	logger logging.Logger
}

// NewCatalog compiles the full tool table. A schema that fails to compile or
// a missing mandatory dependency aborts startup.
func NewCatalog(deps Deps) (*Catalog, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.DefaultMaxTokens <= 0 {
		deps.DefaultMaxTokens = 2000
	}
	h := &handlers{deps: deps, logger: logging.OrNop(deps.Logger)}

	c := newCatalog()
	steps := []func(*Catalog) error{
		h.registerDecisionTools,
		h.registerPlanTools,
		h.registerSessionTools,
		h.registerDocsTools,
		h.registerSquadTools,
		h.registerKnowledgeTools,
		h.registerOpsTools,
	}
	if deps.MemoryTools {
		steps = append(steps, h.registerMemoryTools)
	}
	for _, step := range steps {
		if err := step(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// decodeArgs unmarshals schema-validated arguments into the handler's typed
// view. Failures here mean the schema and the struct disagree.
func decodeArgs(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return invalidArgs("decode arguments: %v", err)
	}
	return nil
}
