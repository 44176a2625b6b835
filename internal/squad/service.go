// Package squad coordinates multi-agent work: squads grouping ordered
// assignments under a project, roles carrying prompts and linked artifacts,
// and profiles binding roles to concrete agent configurations.
package squad

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"membria/internal/logging"
	"membria/internal/model"
)

// ErrDuplicateName rejects a squad whose name is already taken within its
// project. Squad names are the handle agents coordinate by, so they stay
// unique per project even though the graph itself would accept a second node.
var ErrDuplicateName = errors.New("name already in use")

// duplicateScanLimit bounds the existing-squad scan on create.
const duplicateScanLimit = 200

// GraphStore is the slice of the graph layer squad coordination needs.
type GraphStore interface {
	UpsertWorkspace(ctx context.Context, w model.Workspace) (model.Workspace, error)
	UpsertProject(ctx context.Context, pr model.Project) (model.Project, error)
	UpsertProfile(ctx context.Context, pf model.Profile) (model.Profile, error)
	UpsertRole(ctx context.Context, r model.Role) (model.Role, error)
	GetRole(ctx context.Context, id string) (model.Role, error)
	RoleLinkedIDs(ctx context.Context, roleID, kind string) ([]string, error)
	LinkRole(ctx context.Context, roleID, kind, targetID string) error
	UnlinkRole(ctx context.Context, roleID, kind, targetID string) error
	CreateSquad(ctx context.Context, sq model.Squad) (model.Squad, error)
	ListSquads(ctx context.Context, projectID string, limit int) ([]model.Squad, error)
	AddAssignment(ctx context.Context, a model.Assignment) (model.Assignment, error)
	ListAssignments(ctx context.Context, squadID string) ([]model.Assignment, error)
	UpdateAssignmentStatus(ctx context.Context, id, status, resultNote string) error
}

// Service owns squad semantics above the raw graph writes.
type Service struct {
	graph  GraphStore
	logger logging.Logger
}

func NewService(graph GraphStore, logger logging.Logger) *Service {
	return &Service{graph: graph, logger: logging.OrNop(logger)}
}

// EnsureNamespace materializes the workspace and project nodes the process
// namespace writes under, so squads always have a project to hang off. Safe
// to call on every startup; both upserts merge on name.
func (s *Service) EnsureNamespace(ctx context.Context, workspace model.Workspace, project model.Project) (model.Workspace, model.Project, error) {
	w, err := s.graph.UpsertWorkspace(ctx, workspace)
	if err != nil {
		return model.Workspace{}, model.Project{}, fmt.Errorf("ensure workspace: %w", err)
	}
	if project.WorkspaceID == "" {
		project.WorkspaceID = w.ID
	}
	p, err := s.graph.UpsertProject(ctx, project)
	if err != nil {
		return model.Workspace{}, model.Project{}, fmt.Errorf("ensure project: %w", err)
	}
	return w, p, nil
}

// CreateSquad registers a squad after checking its name is free within the
// project. The scan and create are not atomic; the last writer wins on a
// race, which is acceptable for a single-dispatcher tool server.
func (s *Service) CreateSquad(ctx context.Context, sq model.Squad) (model.Squad, error) {
	existing, err := s.graph.ListSquads(ctx, sq.ProjectID, duplicateScanLimit)
	if err != nil {
		return model.Squad{}, err
	}
	for _, e := range existing {
		if strings.EqualFold(e.Name, sq.Name) {
			return model.Squad{}, fmt.Errorf("squad %q: %w", sq.Name, ErrDuplicateName)
		}
	}
	return s.graph.CreateSquad(ctx, sq)
}

// ListSquads returns live squads, optionally restricted to one project.
func (s *Service) ListSquads(ctx context.Context, projectID string, limit int) ([]model.Squad, error) {
	return s.graph.ListSquads(ctx, projectID, limit)
}

// AddAssignment binds a role into a squad at the given order position.
func (s *Service) AddAssignment(ctx context.Context, a model.Assignment) (model.Assignment, error) {
	return s.graph.AddAssignment(ctx, a)
}

// ListAssignments returns a squad's assignments in order.
func (s *Service) ListAssignments(ctx context.Context, squadID string) ([]model.Assignment, error) {
	return s.graph.ListAssignments(ctx, squadID)
}

// StartAssignment moves an open assignment to in_progress.
func (s *Service) StartAssignment(ctx context.Context, id string) error {
	return s.graph.UpdateAssignmentStatus(ctx, id, model.AssignmentInProgress, "")
}

// CompleteAssignment closes an assignment with its result note.
func (s *Service) CompleteAssignment(ctx context.Context, id, resultNote string) error {
	return s.graph.UpdateAssignmentStatus(ctx, id, model.AssignmentDone, resultNote)
}

// AbandonAssignment closes an assignment without a result.
func (s *Service) AbandonAssignment(ctx context.Context, id, reason string) error {
	return s.graph.UpdateAssignmentStatus(ctx, id, model.AssignmentAbandoned, reason)
}

// UpsertRole creates or refreshes a role, merging on name.
func (s *Service) UpsertRole(ctx context.Context, r model.Role) (model.Role, error) {
	return s.graph.UpsertRole(ctx, r)
}

// UpsertProfile creates or refreshes an agent configuration, merging on name.
func (s *Service) UpsertProfile(ctx context.Context, pf model.Profile) (model.Profile, error) {
	return s.graph.UpsertProfile(ctx, pf)
}

// LinkRole attaches a docshot, skill or negative-knowledge entry to a role.
func (s *Service) LinkRole(ctx context.Context, roleID, kind, targetID string) error {
	return s.graph.LinkRole(ctx, roleID, kind, targetID)
}

// UnlinkRole removes one role artifact edge.
func (s *Service) UnlinkRole(ctx context.Context, roleID, kind, targetID string) error {
	return s.graph.UnlinkRole(ctx, roleID, kind, targetID)
}

// RoleView is a role plus the artifact ids it links to.
type RoleView struct {
	Role              model.Role `json:"role"`
	DocShots          []string   `json:"docshots"`
	Skills            []string   `json:"skills"`
	NegativeKnowledge []string   `json:"negative_knowledge"`
}

// RoleView loads a role and its linked artifact ids. Link lookups are
// best-effort; a failed edge query logs a warning and leaves that list empty
// rather than failing the whole read.
func (s *Service) RoleView(ctx context.Context, roleID string) (RoleView, error) {
	role, err := s.graph.GetRole(ctx, roleID)
	if err != nil {
		return RoleView{}, err
	}
	view := RoleView{
		Role:              role,
		DocShots:          []string{},
		Skills:            []string{},
		NegativeKnowledge: []string{},
	}
	for _, link := range []struct {
		kind string
		dst  *[]string
	}{
		{"docshot", &view.DocShots},
		{"skill", &view.Skills},
		{"negative_knowledge", &view.NegativeKnowledge},
	} {
		ids, err := s.graph.RoleLinkedIDs(ctx, roleID, link.kind)
		if err != nil {
			s.logger.Warn("role %s: load %s links: %v", roleID, link.kind, err)
			continue
		}
		if ids != nil {
			*link.dst = ids
		}
	}
	return view, nil
}
