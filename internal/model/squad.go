package model

// Workspace is the top of the orchestration hierarchy, usually one checkout
// root on the agent host.
type Workspace struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	RootPath  string `json:"root_path,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Project is one repository or deliverable inside a workspace. Squads hang
// off projects by id reference.
type Project struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	Name        string `json:"name"`
	RepoURL     string `json:"repo_url,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// Role is a named unit of work responsibility inside a squad. Roles carry
// their own prompt and link out to the docshots, skills and negative
// knowledge the role is allowed to use.
type Role struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Mission        string   `json:"mission,omitempty"`
	PromptPath     string   `json:"prompt_path,omitempty"`
	PromptFragment string   `json:"prompt_fragment,omitempty"`
	Capabilities   []string `json:"capabilities,omitempty"`
	Constraints    []string `json:"constraints,omitempty"`
	CreatedAt      int64    `json:"created_at"`
	UpdatedAt      int64    `json:"updated_at,omitempty"`
	IsActive       bool     `json:"is_active"`
}

// Profile is a stored agent configuration an assignment can bind a role to.
type Profile struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	ConfigPath  string  `json:"config_path,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	SystemNotes string  `json:"system_notes,omitempty"`
	CreatedAt   int64   `json:"created_at"`
}

// Squad is a named group of assignments working one project under a
// coordination strategy.
type Squad struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id,omitempty"`
	Name        string `json:"name"`
	Strategy    string `json:"strategy"` // lead_review|parallel_arbiter|red_team|single
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	IsActive    bool   `json:"is_active"`
}

// Squad strategies.
const (
	StrategyLeadReview      = "lead_review"
	StrategyParallelArbiter = "parallel_arbiter"
	StrategyRedTeam         = "red_team"
	StrategySingle          = "single"
)

// ValidStrategy reports whether s is a known coordination strategy.
func ValidStrategy(s string) bool {
	switch s {
	case StrategyLeadReview, StrategyParallelArbiter, StrategyRedTeam, StrategySingle:
		return true
	}
	return false
}

// Assignment binds one role to one profile for a concrete task, ordered
// within its squad.
type Assignment struct {
	ID          string `json:"id"`
	SquadID     string `json:"squad_id"`
	RoleID      string `json:"role_id"`
	ProfileID   string `json:"profile_id,omitempty"`
	Order       int    `json:"order"`
	Task        string `json:"task,omitempty"`
	Status      string `json:"status"` // open|in_progress|done|abandoned
	AssignedAt  int64  `json:"assigned_at"`
	CompletedAt int64  `json:"completed_at,omitempty"`
	ResultNote  string `json:"result_note,omitempty"`
}

// Assignment statuses.
const (
	AssignmentOpen       = "open"
	AssignmentInProgress = "in_progress"
	AssignmentDone       = "done"
	AssignmentAbandoned  = "abandoned"
)
