package toolserver

import (
	"fmt"
	"strings"
	"testing"
)

func createTestSquad(t *testing.T, srv *Server, name, projectID string) string {
	t.Helper()
	res := callTool(t, srv, "squad_create",
		fmt.Sprintf(`{"name":%q,"strategy":"lead_review","project_id":%q}`, name, projectID))
	return res["id"].(string)
}

func upsertTestRole(t *testing.T, srv *Server, name string) string {
	t.Helper()
	res := callTool(t, srv, "role_upsert", fmt.Sprintf(`{"name":%q}`, name))
	return res["id"].(string)
}

func TestSquadCreateRejectsDuplicateNames(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := newTestServer(t, deps)

	res := callTool(t, srv, "squad_create",
		`{"name":"reviewers","strategy":"red_team","project_id":"proj_a","description":"adversarial review"}`)
	if !strings.HasPrefix(res["id"].(string), "squad_") {
		t.Errorf("id = %v", res["id"])
	}
	if res["strategy"] != "red_team" || res["is_active"] != true {
		t.Errorf("squad = %v", res)
	}

	// Name uniqueness is case-insensitive within a project.
	rpcErr := callToolErr(t, srv, "squad_create",
		`{"name":"Reviewers","strategy":"single","project_id":"proj_a"}`)
	if rpcErr.Code != CodeInternalError || !strings.Contains(rpcErr.Message, "already in use") {
		t.Errorf("duplicate error = %+v", rpcErr)
	}

	// The same name is free under another project.
	callTool(t, srv, "squad_create",
		`{"name":"reviewers","strategy":"single","project_id":"proj_b"}`)

	rpcErr = callToolErr(t, srv, "squad_create",
		`{"name":"chaotic","strategy":"anarchy","project_id":"proj_a"}`)
	if rpcErr.Code != CodeInvalidParams {
		t.Errorf("unknown strategy error = %+v", rpcErr)
	}
}

func TestAssignmentAddDefaults(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := newTestServer(t, deps)
	sq := createTestSquad(t, srv, "builders", "proj_a")
	role := upsertTestRole(t, srv, "coder")

	res := callTool(t, srv, "assignment_add",
		fmt.Sprintf(`{"squad_id":%q,"role_id":%q,"order":1,"task":"implement the parser"}`, sq, role))

	if !strings.HasPrefix(res["id"].(string), "asg_") {
		t.Errorf("id = %v", res["id"])
	}
	if res["status"] != "open" {
		t.Errorf("status = %v, want open", res["status"])
	}
	if res["assigned_at"].(float64) <= 0 {
		t.Errorf("assigned_at = %v", res["assigned_at"])
	}
	if res["order"].(float64) != 1 || res["task"] != "implement the parser" {
		t.Errorf("assignment = %v", res)
	}

	rpcErr := callToolErr(t, srv, "assignment_add",
		fmt.Sprintf(`{"squad_id":"squad_ghost","role_id":%q}`, role))
	if rpcErr.Code != CodeInternalError || !strings.Contains(rpcErr.Message, "not found") {
		t.Errorf("missing squad error = %+v", rpcErr)
	}
	rpcErr = callToolErr(t, srv, "assignment_add",
		fmt.Sprintf(`{"squad_id":%q,"role_id":"role_ghost"}`, sq))
	if rpcErr.Code != CodeInternalError || !strings.Contains(rpcErr.Message, "not found") {
		t.Errorf("missing role error = %+v", rpcErr)
	}
}

func TestSquadListFiltersByProject(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := newTestServer(t, deps)
	createTestSquad(t, srv, "alpha", "proj_a")
	createTestSquad(t, srv, "beta", "proj_a")
	createTestSquad(t, srv, "gamma", "proj_b")

	res := callTool(t, srv, "squad_list", `{}`)
	if res["count"].(float64) != 3 {
		t.Errorf("count = %v, want 3", res["count"])
	}

	res = callTool(t, srv, "squad_list", `{"project_id":"proj_a"}`)
	if res["count"].(float64) != 2 {
		t.Errorf("proj_a count = %v, want 2", res["count"])
	}

	res = callTool(t, srv, "squad_list", `{"limit":1}`)
	if res["count"].(float64) != 1 {
		t.Errorf("limited count = %v, want 1", res["count"])
	}
}

func TestSquadAssignmentsReturnInOrder(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := newTestServer(t, deps)
	sq := createTestSquad(t, srv, "pipeline", "proj_a")
	reviewer := upsertTestRole(t, srv, "reviewer")
	coder := upsertTestRole(t, srv, "coder")

	callTool(t, srv, "assignment_add",
		fmt.Sprintf(`{"squad_id":%q,"role_id":%q,"order":2}`, sq, reviewer))
	callTool(t, srv, "assignment_add",
		fmt.Sprintf(`{"squad_id":%q,"role_id":%q,"order":1}`, sq, coder))

	res := callTool(t, srv, "squad_assignments", fmt.Sprintf(`{"squad_id":%q}`, sq))
	if res["count"].(float64) != 2 {
		t.Fatalf("count = %v, want 2", res["count"])
	}
	assignments := res["assignments"].([]any)
	first := assignments[0].(map[string]any)
	if first["role_id"] != coder {
		t.Errorf("first assignment role = %v, want %s (lowest order first)", first["role_id"], coder)
	}
}

func TestRoleUpsertMergesOnName(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := newTestServer(t, deps)

	res := callTool(t, srv, "role_upsert",
		`{"name":"reviewer","mission":"review code"}`)
	id := res["id"].(string)
	if !strings.HasPrefix(id, "role_") || res["is_active"] != true {
		t.Errorf("role = %v", res)
	}

	res = callTool(t, srv, "role_upsert",
		`{"name":"reviewer","mission":"review code and tests","capabilities":["read"]}`)
	if res["id"] != id {
		t.Errorf("id = %v, want %s (merge on name)", res["id"], id)
	}
	if res["mission"] != "review code and tests" {
		t.Errorf("mission = %v", res["mission"])
	}
	if res["updated_at"].(float64) <= 0 {
		t.Errorf("updated_at = %v", res["updated_at"])
	}
}

func TestRoleViewCarriesLinkedArtifacts(t *testing.T) {
	deps, _ := newTestDeps(t)
	srv := newTestServer(t, deps)
	role := upsertTestRole(t, srv, "researcher")

	res := callTool(t, srv, "role_link",
		fmt.Sprintf(`{"role_id":%q,"kind":"docshot","target_id":"docshot_abc"}`, role))
	if res["linked"] != true {
		t.Errorf("role_link = %v", res)
	}
	// Relinking the same target stays a single edge.
	callTool(t, srv, "role_link",
		fmt.Sprintf(`{"role_id":%q,"kind":"docshot","target_id":"docshot_abc"}`, role))
	callTool(t, srv, "role_link",
		fmt.Sprintf(`{"role_id":%q,"kind":"skill","target_id":"skill_x"}`, role))

	view := callTool(t, srv, "role_get", fmt.Sprintf(`{"role_id":%q}`, role))
	roleObj := view["role"].(map[string]any)
	if roleObj["id"] != role {
		t.Errorf("role.id = %v", roleObj["id"])
	}
	shots := view["docshots"].([]any)
	if len(shots) != 1 || shots[0] != "docshot_abc" {
		t.Errorf("docshots = %v", shots)
	}
	if skills := view["skills"].([]any); len(skills) != 1 || skills[0] != "skill_x" {
		t.Errorf("skills = %v", skills)
	}
	if nk, ok := view["negative_knowledge"].([]any); !ok || len(nk) != 0 {
		t.Errorf("negative_knowledge = %v, want empty array", view["negative_knowledge"])
	}

	res = callTool(t, srv, "role_unlink",
		fmt.Sprintf(`{"role_id":%q,"kind":"docshot","target_id":"docshot_abc"}`, role))
	if res["unlinked"] != true {
		t.Errorf("role_unlink = %v", res)
	}
	view = callTool(t, srv, "role_get", fmt.Sprintf(`{"role_id":%q}`, role))
	if shots, ok := view["docshots"].([]any); !ok || len(shots) != 0 {
		t.Errorf("docshots after unlink = %v", view["docshots"])
	}

	rpcErr := callToolErr(t, srv, "role_get", `{"role_id":"role_ghost"}`)
	if rpcErr.Code != CodeInternalError || !strings.Contains(rpcErr.Message, "not found") {
		t.Errorf("missing role error = %+v", rpcErr)
	}
	rpcErr = callToolErr(t, srv, "role_link",
		fmt.Sprintf(`{"role_id":%q,"kind":"potion","target_id":"x"}`, role))
	if rpcErr.Code != CodeInvalidParams {
		t.Errorf("bad kind error = %+v", rpcErr)
	}
}
