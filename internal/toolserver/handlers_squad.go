package toolserver

import (
	"context"
	"encoding/json"

	"membria/internal/model"
)

func (h *handlers) registerSquadTools(c *Catalog) error {
	roleLinkKindArg := strEnum("artifact family the link targets", "docshot", "skill", "negative_knowledge")

	return c.registerAll([]toolSpec{
		{
			name:        "squad_create",
			description: "Create a squad under a project with a coordination strategy.",
			input: obj(map[string]any{
				"name": strNonEmpty("squad name, unique within the project"),
				"strategy": strEnum("coordination strategy",
					model.StrategyLeadReview, model.StrategyParallelArbiter, model.StrategyRedTeam, model.StrategySingle),
				"project_id":  str("project the squad works on"),
				"description": str("what the squad is for"),
			}, "name", "strategy"),
			output:  squadResult(),
			handler: h.squadCreate,
		},
		{
			name:        "assignment_add",
			description: "Bind a role, and optionally an agent profile, into a squad at an order position.",
			input: obj(map[string]any{
				"squad_id":   strNonEmpty("squad receiving the assignment"),
				"role_id":    strNonEmpty("role being assigned"),
				"profile_id": str("agent profile to run the role with"),
				"order":      intAny("position within the squad, lowest first"),
				"task":       str("what this assignment covers"),
			}, "squad_id", "role_id"),
			output:  assignmentResult(),
			handler: h.assignmentAdd,
		},
		{
			name:        "squad_list",
			description: "List live squads, optionally for one project.",
			input: obj(map[string]any{
				"project_id": str("restrict to one project"),
				"limit":      limitArg(),
			}),
			output: obj(map[string]any{
				"squads": array("", squadResult()),
				"count":  intAny(""),
			}, "squads", "count"),
			handler: h.squadList,
		},
		{
			name:        "squad_assignments",
			description: "List a squad's assignments in order.",
			input: obj(map[string]any{
				"squad_id": strNonEmpty("squad to inspect"),
			}, "squad_id"),
			output: obj(map[string]any{
				"assignments": array("", assignmentResult()),
				"count":       intAny(""),
			}, "assignments", "count"),
			handler: h.squadAssignments,
		},
		{
			name:        "role_upsert",
			description: "Create or refresh a role by name, with its mission, prompt and limits.",
			input: obj(map[string]any{
				"name":            strNonEmpty("role name, the merge key"),
				"mission":         str("what the role is responsible for"),
				"prompt_path":     str("path to the role's prompt file"),
				"prompt_fragment": str("inline prompt fragment"),
				"capabilities":    stringArray("what the role may do"),
				"constraints":     stringArray("what the role must not do"),
			}, "name"),
			output:  roleResult(),
			handler: h.roleUpsert,
		},
		{
			name:        "role_get",
			description: "Load a role with the docshots, skills and negative knowledge it links to.",
			input: obj(map[string]any{
				"role_id": strNonEmpty("role to load"),
			}, "role_id"),
			output: obj(map[string]any{
				"role":               roleResult(),
				"docshots":           stringArray(""),
				"skills":             stringArray(""),
				"negative_knowledge": stringArray(""),
			}, "role", "docshots", "skills", "negative_knowledge"),
			handler: h.roleGet,
		},
		{
			name:        "role_link",
			description: "Attach a docshot, skill or negative-knowledge entry to a role.",
			input: obj(map[string]any{
				"role_id":   strNonEmpty("role to link from"),
				"kind":      roleLinkKindArg,
				"target_id": strNonEmpty("artifact to link to"),
			}, "role_id", "kind", "target_id"),
			output: obj(map[string]any{
				"role_id":   str(""),
				"kind":      str(""),
				"target_id": str(""),
				"linked":    boolean(""),
			}, "role_id", "kind", "target_id", "linked"),
			handler: h.roleLink,
		},
		{
			name:        "role_unlink",
			description: "Remove a role's link to a docshot, skill or negative-knowledge entry.",
			input: obj(map[string]any{
				"role_id":   strNonEmpty("role to unlink from"),
				"kind":      roleLinkKindArg,
				"target_id": strNonEmpty("artifact to unlink"),
			}, "role_id", "kind", "target_id"),
			output: obj(map[string]any{
				"role_id":   str(""),
				"kind":      str(""),
				"target_id": str(""),
				"unlinked":  boolean(""),
			}, "role_id", "kind", "target_id", "unlinked"),
			handler: h.roleUnlink,
		},
	})
}

func (h *handlers) squadCreate(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Name        string `json:"name"`
		Strategy    string `json:"strategy"`
		ProjectID   string `json:"project_id"`
		Description string `json:"description"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	sq, err := h.deps.Squads.CreateSquad(ctx, model.Squad{
		Name:        args.Name,
		Strategy:    args.Strategy,
		ProjectID:   args.ProjectID,
		Description: args.Description,
	})
	if err != nil {
		return nil, err
	}
	return sq, nil
}

func (h *handlers) assignmentAdd(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		SquadID   string `json:"squad_id"`
		RoleID    string `json:"role_id"`
		ProfileID string `json:"profile_id"`
		Order     int    `json:"order"`
		Task      string `json:"task"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	a, err := h.deps.Squads.AddAssignment(ctx, model.Assignment{
		SquadID:   args.SquadID,
		RoleID:    args.RoleID,
		ProfileID: args.ProfileID,
		Order:     args.Order,
		Task:      args.Task,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (h *handlers) squadList(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		ProjectID string `json:"project_id"`
		Limit     int    `json:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	squads, err := h.deps.Squads.ListSquads(ctx, args.ProjectID, args.Limit)
	if err != nil {
		return nil, err
	}
	if squads == nil {
		squads = []model.Squad{}
	}
	return map[string]any{"squads": squads, "count": len(squads)}, nil
}

func (h *handlers) squadAssignments(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		SquadID string `json:"squad_id"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	assignments, err := h.deps.Squads.ListAssignments(ctx, args.SquadID)
	if err != nil {
		return nil, err
	}
	if assignments == nil {
		assignments = []model.Assignment{}
	}
	return map[string]any{"assignments": assignments, "count": len(assignments)}, nil
}

func (h *handlers) roleUpsert(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Name           string   `json:"name"`
		Mission        string   `json:"mission"`
		PromptPath     string   `json:"prompt_path"`
		PromptFragment string   `json:"prompt_fragment"`
		Capabilities   []string `json:"capabilities"`
		Constraints    []string `json:"constraints"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	role, err := h.deps.Squads.UpsertRole(ctx, model.Role{
		Name:           args.Name,
		Mission:        args.Mission,
		PromptPath:     args.PromptPath,
		PromptFragment: args.PromptFragment,
		Capabilities:   args.Capabilities,
		Constraints:    args.Constraints,
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

func (h *handlers) roleGet(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		RoleID string `json:"role_id"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	view, err := h.deps.Squads.RoleView(ctx, args.RoleID)
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (h *handlers) roleLink(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		RoleID   string `json:"role_id"`
		Kind     string `json:"kind"`
		TargetID string `json:"target_id"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := h.deps.Squads.LinkRole(ctx, args.RoleID, args.Kind, args.TargetID); err != nil {
		return nil, err
	}
	return map[string]any{"role_id": args.RoleID, "kind": args.Kind, "target_id": args.TargetID, "linked": true}, nil
}

func (h *handlers) roleUnlink(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		RoleID   string `json:"role_id"`
		Kind     string `json:"kind"`
		TargetID string `json:"target_id"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := h.deps.Squads.UnlinkRole(ctx, args.RoleID, args.Kind, args.TargetID); err != nil {
		return nil, err
	}
	return map[string]any{"role_id": args.RoleID, "kind": args.Kind, "target_id": args.TargetID, "unlinked": true}, nil
}
