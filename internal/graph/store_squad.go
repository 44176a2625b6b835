package graph

import (
	"context"
	"fmt"

	"membria/internal/model"
	"membria/internal/sanitize"
)

// UpsertWorkspace creates or refreshes a workspace node, merging on name.
func (s *Store) UpsertWorkspace(ctx context.Context, w model.Workspace) (model.Workspace, error) {
	if w.ID == "" {
		w.ID = model.NewWorkspaceID()
	}
	if w.CreatedAt == 0 {
		w.CreatedAt = s.now().Unix()
	}
	p := s.params()
	p["id"] = w.ID
	p["name"] = sanitize.Generic(w.Name)
	p["root_path"] = sanitize.FilePath(w.RootPath)
	p["created_at"] = w.CreatedAt

	rs, err := s.client.Query(ctx, `MERGE (w:Workspace {name: $name, `+nsProps+`})
		ON CREATE SET w.id = $id, w.created_at = $created_at
		SET w.root_path = $root_path
		RETURN w.id AS id`, p)
	if err != nil {
		return model.Workspace{}, err
	}
	if !rs.Empty() {
		w.ID = rs.First().String("id")
	}
	return w, nil
}

// UpsertProject creates or refreshes a project node, merging on name.
func (s *Store) UpsertProject(ctx context.Context, pr model.Project) (model.Project, error) {
	if pr.ID == "" {
		pr.ID = model.NewProjectID()
	}
	if pr.CreatedAt == 0 {
		pr.CreatedAt = s.now().Unix()
	}
	p := s.params()
	p["id"] = pr.ID
	p["workspace_id"] = pr.WorkspaceID
	p["name"] = sanitize.Generic(pr.Name)
	p["repo_url"] = sanitize.Generic(pr.RepoURL)
	p["created_at"] = pr.CreatedAt

	rs, err := s.client.Query(ctx, `MERGE (p:Project {name: $name, `+nsProps+`})
		ON CREATE SET p.id = $id, p.created_at = $created_at
		SET p.workspace_id = $workspace_id, p.repo_url = $repo_url
		RETURN p.id AS id`, p)
	if err != nil {
		return model.Project{}, err
	}
	if !rs.Empty() {
		pr.ID = rs.First().String("id")
	}
	return pr, nil
}

// UpsertProfile creates or refreshes an agent configuration, merging on name.
func (s *Store) UpsertProfile(ctx context.Context, pf model.Profile) (model.Profile, error) {
	if pf.ID == "" {
		pf.ID = model.NewProfileID()
	}
	if pf.CreatedAt == 0 {
		pf.CreatedAt = s.now().Unix()
	}
	p := s.params()
	p["id"] = pf.ID
	p["name"] = sanitize.Generic(pf.Name)
	p["config_path"] = sanitize.FilePath(pf.ConfigPath)
	p["model"] = sanitize.Generic(pf.Model)
	p["temperature"] = pf.Temperature
	p["max_tokens"] = int64(pf.MaxTokens)
	p["system_notes"] = sanitize.Generic(pf.SystemNotes)
	p["created_at"] = pf.CreatedAt

	rs, err := s.client.Query(ctx, `MERGE (pf:Profile {name: $name, `+nsProps+`})
		ON CREATE SET pf.id = $id, pf.created_at = $created_at
		SET pf.config_path = $config_path, pf.model = $model, pf.temperature = $temperature,
			pf.max_tokens = $max_tokens, pf.system_notes = $system_notes
		RETURN pf.id AS id`, p)
	if err != nil {
		return model.Profile{}, err
	}
	if !rs.Empty() {
		pf.ID = rs.First().String("id")
	}
	return pf, nil
}

// UpsertRole creates or refreshes a role, merging on name.
func (s *Store) UpsertRole(ctx context.Context, r model.Role) (model.Role, error) {
	if r.ID == "" {
		r.ID = model.NewRoleID()
	}
	now := s.now().Unix()
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.IsActive = true

	p := s.params()
	p["id"] = r.ID
	p["name"] = sanitize.Generic(r.Name)
	p["mission"] = sanitize.Generic(r.Mission)
	p["prompt_path"] = sanitize.FilePath(r.PromptPath)
	p["prompt_fragment"] = sanitize.Text(r.PromptFragment, sanitize.MaxGeneric)
	p["capabilities"] = sanitize.StringSlice(r.Capabilities, sanitize.MaxStatement)
	p["constraints"] = sanitize.StringSlice(r.Constraints, sanitize.MaxStatement)
	p["created_at"] = r.CreatedAt
	p["updated_at"] = r.UpdatedAt

	rs, err := s.client.Query(ctx, `MERGE (r:Role {name: $name, `+nsProps+`})
		ON CREATE SET r.id = $id, r.created_at = $created_at
		SET r.mission = $mission, r.prompt_path = $prompt_path,
			r.prompt_fragment = $prompt_fragment, r.capabilities = $capabilities,
			r.constraints = $constraints, r.updated_at = $updated_at, r.is_active = true
		RETURN r.id AS id`, p)
	if err != nil {
		return model.Role{}, err
	}
	if !rs.Empty() {
		r.ID = rs.First().String("id")
	}
	return r, nil
}

// GetRole loads one role by id.
func (s *Store) GetRole(ctx context.Context, id string) (model.Role, error) {
	p := s.params()
	p["id"] = id
	rs, err := s.client.ROQuery(ctx, `MATCH (r:Role {id: $id}) WHERE `+nsFilter("r")+`
		RETURN r.id AS id, r.name AS name, r.mission AS mission, r.prompt_path AS prompt_path,
			r.prompt_fragment AS prompt_fragment, r.capabilities AS capabilities,
			r.constraints AS constraints, r.created_at AS created_at,
			r.updated_at AS updated_at, r.is_active AS is_active`, p)
	if err != nil {
		return model.Role{}, err
	}
	if rs.Empty() {
		return model.Role{}, fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	rec := rs.First()
	return model.Role{
		ID:             rec.String("id"),
		Name:           rec.String("name"),
		Mission:        rec.String("mission"),
		PromptPath:     rec.String("prompt_path"),
		PromptFragment: rec.String("prompt_fragment"),
		Capabilities:   rec.StringSlice("capabilities"),
		Constraints:    rec.StringSlice("constraints"),
		CreatedAt:      rec.Int("created_at"),
		UpdatedAt:      rec.Int("updated_at"),
		IsActive:       !rec.Has("is_active") || rec.Bool("is_active"),
	}, nil
}

// RoleLinkedIDs returns the ids a role links to over one ROLE_USES_* edge
// kind ("docshot", "skill" or "negative_knowledge").
func (s *Store) RoleLinkedIDs(ctx context.Context, roleID, kind string) ([]string, error) {
	rel, label, ok := model.RoleLinkRel(kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role link kind %q", ErrSerializationFailed, kind)
	}
	p := s.params()
	p["role_id"] = roleID
	rs, err := s.client.ROQuery(ctx, fmt.Sprintf(`MATCH (r:Role {id: $role_id})-[:%s]->(t:%s)
		WHERE %s RETURN t.id AS id`, rel, label, nsFilter("r")), p)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rs.Records))
	for _, rec := range rs.Records {
		ids = append(ids, rec.String("id"))
	}
	return ids, nil
}

// NegativeKnowledgeForRole returns the live NK entries a role links to.
func (s *Store) NegativeKnowledgeForRole(ctx context.Context, roleID string, limit int) ([]model.NegativeKnowledge, error) {
	if limit <= 0 {
		limit = 10
	}
	p := s.params()
	p["role_id"] = roleID
	p["limit"] = int64(limit)
	rs, err := s.client.ROQuery(ctx, `MATCH (r:Role {id: $role_id})-[:ROLE_USES_NK]->(nk:NegativeKnowledge)
		WHERE `+nsFilter("r")+` AND `+activeFilter("nk")+`
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

// LinkRole attaches a docshot, skill or NK entry to a role.
func (s *Store) LinkRole(ctx context.Context, roleID, kind, targetID string) error {
	rel, label, ok := model.RoleLinkRel(kind)
	if !ok {
		return fmt.Errorf("%w: unknown role link kind %q", ErrSerializationFailed, kind)
	}
	p := s.params()
	p["role_id"] = roleID
	p["target_id"] = targetID
	rs, err := s.client.Query(ctx, fmt.Sprintf(`MATCH (r:Role {id: $role_id}), (t:%s {id: $target_id})
		WHERE %s AND %s MERGE (r)-[:%s]->(t) RETURN r.id AS id`, label, nsFilter("r"), nsFilter("t"), rel), p)
	if err != nil {
		return err
	}
	if rs.Empty() {
		return fmt.Errorf("role %s or %s %s: %w", roleID, kind, targetID, ErrNotFound)
	}
	return nil
}

// UnlinkRole removes a ROLE_USES_* edge.
func (s *Store) UnlinkRole(ctx context.Context, roleID, kind, targetID string) error {
	rel, label, ok := model.RoleLinkRel(kind)
	if !ok {
		return fmt.Errorf("%w: unknown role link kind %q", ErrSerializationFailed, kind)
	}
	p := s.params()
	p["role_id"] = roleID
	p["target_id"] = targetID
	_, err := s.client.Query(ctx, fmt.Sprintf(`MATCH (r:Role {id: $role_id})-[e:%s]->(t:%s {id: $target_id})
		WHERE %s DELETE e`, rel, label, nsFilter("r")), p)
	return err
}

// CreateSquad registers a squad under a project with a coordination strategy.
func (s *Store) CreateSquad(ctx context.Context, sq model.Squad) (model.Squad, error) {
	if !model.ValidStrategy(sq.Strategy) {
		return model.Squad{}, fmt.Errorf("%w: unknown strategy %q", ErrSerializationFailed, sq.Strategy)
	}
	if sq.ID == "" {
		sq.ID = model.NewSquadID()
	}
	if sq.CreatedAt == 0 {
		sq.CreatedAt = s.now().Unix()
	}
	sq.IsActive = true

	p := s.params()
	p["id"] = sq.ID
	p["project_id"] = sq.ProjectID
	p["name"] = sanitize.Generic(sq.Name)
	p["strategy"] = sq.Strategy
	p["description"] = sanitize.Generic(sq.Description)
	p["created_at"] = sq.CreatedAt

	_, err := s.client.Query(ctx, `CREATE (sq:Squad {id: $id, project_id: $project_id, name: $name,
		strategy: $strategy, description: $description, created_at: $created_at,
		is_active: true, `+nsProps+`})`, p)
	if err != nil {
		return model.Squad{}, err
	}
	return sq, nil
}

// ListSquads returns live squads, optionally restricted to one project.
func (s *Store) ListSquads(ctx context.Context, projectID string, limit int) ([]model.Squad, error) {
	if limit <= 0 {
		limit = 20
	}
	p := s.params()
	p["limit"] = int64(limit)
	query := `MATCH (sq:Squad) WHERE ` + nsFilter("sq") + ` AND ` + activeFilter("sq")
	if projectID != "" {
		p["project_id"] = projectID
		query += ` AND sq.project_id = $project_id`
	}
	query += ` RETURN sq.id AS id, sq.project_id AS project_id, sq.name AS name,
		sq.strategy AS strategy, sq.description AS description, sq.created_at AS created_at,
		sq.is_active AS is_active ORDER BY sq.created_at DESC LIMIT $limit`

	rs, err := s.client.ROQuery(ctx, query, p)
	if err != nil {
		return nil, err
	}
	out := make([]model.Squad, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, model.Squad{
			ID:          rec.String("id"),
			ProjectID:   rec.String("project_id"),
			Name:        rec.String("name"),
			Strategy:    rec.String("strategy"),
			Description: rec.String("description"),
			CreatedAt:   rec.Int("created_at"),
			IsActive:    !rec.Has("is_active") || rec.Bool("is_active"),
		})
	}
	return out, nil
}

// AddAssignment binds a role (and optionally a profile) into a squad at the
// given order position, wiring the ASSIGNS, PLAYS_ROLE and USES_PROFILE edges.
func (s *Store) AddAssignment(ctx context.Context, a model.Assignment) (model.Assignment, error) {
	if a.ID == "" {
		a.ID = model.NewAssignmentID()
	}
	if a.AssignedAt == 0 {
		a.AssignedAt = s.now().Unix()
	}
	if a.Status == "" {
		a.Status = model.AssignmentOpen
	}

	p := s.params()
	p["id"] = a.ID
	p["squad_id"] = a.SquadID
	p["role_id"] = a.RoleID
	p["profile_id"] = a.ProfileID
	p["order"] = int64(a.Order)
	p["task"] = sanitize.Generic(a.Task)
	p["status"] = a.Status
	p["assigned_at"] = a.AssignedAt

	rs, err := s.client.Query(ctx, `MATCH (sq:Squad {id: $squad_id}), (r:Role {id: $role_id})
		WHERE `+nsFilter("sq")+` AND `+nsFilter("r")+`
		CREATE (a:Assignment {id: $id, squad_id: $squad_id, role_id: $role_id,
			profile_id: $profile_id, ord: $order, task: $task, status: $status,
			assigned_at: $assigned_at, `+nsProps+`})
		CREATE (sq)-[:ASSIGNS]->(a)
		CREATE (a)-[:PLAYS_ROLE]->(r)
		RETURN a.id AS id`, p)
	if err != nil {
		return model.Assignment{}, err
	}
	if rs.Empty() {
		return model.Assignment{}, fmt.Errorf("squad %s or role %s: %w", a.SquadID, a.RoleID, ErrNotFound)
	}

	if a.ProfileID != "" {
		link := s.params()
		link["id"] = a.ID
		link["profile_id"] = a.ProfileID
		if _, err := s.client.Query(ctx, `MATCH (a:Assignment {id: $id}), (pf:Profile {id: $profile_id})
			WHERE `+nsFilter("a")+` AND `+nsFilter("pf")+`
			MERGE (a)-[:USES_PROFILE]->(pf)`, link); err != nil {
			s.logger.Warn("assignment %s saved but profile link failed: %v", a.ID, err)
		}
	}
	return a, nil
}

// ListAssignments returns a squad's assignments in order.
func (s *Store) ListAssignments(ctx context.Context, squadID string) ([]model.Assignment, error) {
	p := s.params()
	p["squad_id"] = squadID
	rs, err := s.client.ROQuery(ctx, `MATCH (a:Assignment {squad_id: $squad_id}) WHERE `+nsFilter("a")+`
		RETURN a.id AS id, a.squad_id AS squad_id, a.role_id AS role_id,
			a.profile_id AS profile_id, a.ord AS ord, a.task AS task, a.status AS status,
			a.assigned_at AS assigned_at, a.completed_at AS completed_at,
			a.result_note AS result_note
		ORDER BY a.ord ASC, a.assigned_at ASC`, p)
	if err != nil {
		return nil, err
	}
	out := make([]model.Assignment, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, model.Assignment{
			ID:          rec.String("id"),
			SquadID:     rec.String("squad_id"),
			RoleID:      rec.String("role_id"),
			ProfileID:   rec.String("profile_id"),
			Order:       int(rec.Int("ord")),
			Task:        rec.String("task"),
			Status:      rec.String("status"),
			AssignedAt:  rec.Int("assigned_at"),
			CompletedAt: rec.Int("completed_at"),
			ResultNote:  rec.String("result_note"),
		})
	}
	return out, nil
}

// UpdateAssignmentStatus moves an assignment through its lifecycle.
func (s *Store) UpdateAssignmentStatus(ctx context.Context, id, status, resultNote string) error {
	switch status {
	case model.AssignmentOpen, model.AssignmentInProgress, model.AssignmentDone, model.AssignmentAbandoned:
	default:
		return fmt.Errorf("%w: unknown assignment status %q", ErrSerializationFailed, status)
	}
	p := s.params()
	p["id"] = id
	p["status"] = status
	p["result_note"] = sanitize.Generic(resultNote)
	p["completed_at"] = int64(0)
	if status == model.AssignmentDone || status == model.AssignmentAbandoned {
		p["completed_at"] = s.now().Unix()
	}

	rs, err := s.client.Query(ctx, `MATCH (a:Assignment {id: $id}) WHERE `+nsFilter("a")+`
		SET a.status = $status, a.result_note = $result_note, a.completed_at = $completed_at
		RETURN a.id AS id`, p)
	if err != nil {
		return err
	}
	if rs.Empty() {
		return fmt.Errorf("assignment %s: %w", id, ErrNotFound)
	}
	return nil
}
