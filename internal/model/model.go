// Package model defines the entities and relationship types of the Membria
// causal memory graph. Every persistent entity carries the namespace triple
// and is addressed by an opaque prefixed id; cycles between entities are
// traversed through graph queries, never through in-memory references.
package model

import "time"

// Namespace is the mandatory tenancy triple stamped on every node and edge.
type Namespace struct {
	TenantID  string `json:"tenant_id"`
	TeamID    string `json:"team_id"`
	ProjectID string `json:"project_id"`
}

// IsZero reports whether no namespace component is set.
func (n Namespace) IsZero() bool {
	return n.TenantID == "" && n.TeamID == "" && n.ProjectID == ""
}

// Key returns a filesystem-safe identifier for the triple.
func (n Namespace) Key() string {
	return n.TenantID + "__" + n.TeamID + "__" + n.ProjectID
}

// OutcomeStatus is the outcome state machine position.
type OutcomeStatus string

const (
	OutcomePending   OutcomeStatus = "pending"
	OutcomeSubmitted OutcomeStatus = "submitted"
	OutcomeMerged    OutcomeStatus = "merged"
	OutcomeCompleted OutcomeStatus = "completed"
)

// rank orders statuses for the forward-only transition check.
func (s OutcomeStatus) rank() int {
	switch s {
	case OutcomePending:
		return 0
	case OutcomeSubmitted:
		return 1
	case OutcomeMerged:
		return 2
	case OutcomeCompleted:
		return 3
	}
	return -1
}

// CanAdvanceTo reports whether moving from s to next is a legal forward step.
func (s OutcomeStatus) CanAdvanceTo(next OutcomeStatus) bool {
	from, to := s.rank(), next.rank()
	return from >= 0 && to >= 0 && to > from
}

// Severity grades negative knowledge and validation warnings.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for warning sorting; lower sorts first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	}
	return 4
}

// Decision records a choice an agent made among alternatives, along with the
// confidence it claimed at the time. Outcome fields stay empty until the
// outcome tracker resolves them.
type Decision struct {
	ID                string   `json:"id"`
	Statement         string   `json:"statement"`
	Alternatives      []string `json:"alternatives"`
	Confidence        float64  `json:"confidence"`
	Module            string   `json:"module"`
	CreatedAt         int64    `json:"created_at"`
	CreatedBy         string   `json:"created_by,omitempty"`
	Outcome           string   `json:"outcome,omitempty"` // success|failure|partial|pending
	ResolvedAt        int64    `json:"resolved_at,omitempty"`
	ActualSuccessRate float64  `json:"actual_success_rate,omitempty"`
	EngramID          string   `json:"engram_id,omitempty"`
	CommitSHA         string   `json:"commit_sha,omitempty"`
	MemoryType        string   `json:"memory_type,omitempty"`
	MemorySubject     string   `json:"memory_subject,omitempty"`
	TTLDays           int      `json:"ttl_days,omitempty"`
	LastVerifiedAt    int64    `json:"last_verified_at,omitempty"`
	IsActive          bool     `json:"is_active"`
	DeprecatedReason  string   `json:"deprecated_reason,omitempty"`
	Source            string   `json:"source,omitempty"`
	RoleID            string   `json:"role_id,omitempty"`
	AssignmentID      string   `json:"assignment_id,omitempty"`
}

// CodeChange is one observed commit, optionally tied back to a decision.
type CodeChange struct {
	ID           string   `json:"id"`
	CommitSHA    string   `json:"commit_sha"`
	FilesChanged []string `json:"files_changed,omitempty"`
	Timestamp    int64    `json:"timestamp"`
	Author       string   `json:"author,omitempty"`
	DecisionID   string   `json:"decision_id,omitempty"`
	Outcome      string   `json:"outcome,omitempty"`
	RevertedBy   string   `json:"reverted_by,omitempty"`
	DaysToRevert float64  `json:"days_to_revert,omitempty"`
	LinesAdded   int      `json:"lines_added,omitempty"`
	LinesRemoved int      `json:"lines_removed,omitempty"`
}

// Signal is one tagged event contributing to an outcome. Signals live inside
// the outcome record; they are not separate graph nodes.
type Signal struct {
	Type        string         `json:"signal_type"`
	Valence     string         `json:"valence"` // positive|negative|neutral
	Timestamp   int64          `json:"timestamp"`
	Description string         `json:"description,omitempty"`
	Severity    string         `json:"severity,omitempty"`
	Metrics     map[string]any `json:"metrics,omitempty"`
}

// Signal type tags.
const (
	SignalPRCreated       = "PR_CREATED"
	SignalPRMerged        = "PR_MERGED"
	SignalCIPassed        = "CI_PASSED"
	SignalCIFailed        = "CI_FAILED"
	SignalIncident        = "INCIDENT"
	SignalPerformanceOK   = "PERFORMANCE_OK"
	SignalPerformancePoor = "PERFORMANCE_POOR"
	SignalCommit          = "COMMIT"
)

// Signal valences.
const (
	ValencePositive = "positive"
	ValenceNegative = "negative"
	ValenceNeutral  = "neutral"
)

// Outcome tracks the downstream consequence of one decision through the
// pending → submitted → merged → completed state machine.
type Outcome struct {
	ID                string        `json:"id"`
	DecisionID        string        `json:"decision_id"`
	Status            OutcomeStatus `json:"status"`
	Evidence          string        `json:"evidence,omitempty"`
	MeasuredAt        int64         `json:"measured_at,omitempty"`
	PerformanceImpact float64       `json:"performance_impact,omitempty"`
	Reliability       float64       `json:"reliability,omitempty"`
	MaintenanceCost   float64       `json:"maintenance_cost,omitempty"`
	CodeChangeID      string        `json:"code_change_id,omitempty"`
	PRNumber          int           `json:"pr_number,omitempty"`
	PRURL             string        `json:"pr_url,omitempty"`
	BranchRef         string        `json:"branch_ref,omitempty"`
	SubmittedAt       int64         `json:"submitted_at,omitempty"`
	MergedAt          int64         `json:"merged_at,omitempty"`
	CompletedAt       int64         `json:"completed_at,omitempty"`
	FinalStatus       string        `json:"final_status,omitempty"`
	FinalScore        float64       `json:"final_score,omitempty"`
	LessonsLearned    string        `json:"lessons_learned,omitempty"`
	Signals           []Signal      `json:"signals,omitempty"`
	CreatedAt         int64         `json:"created_at"`
	TTLDays           int           `json:"ttl_days,omitempty"`
	IsActive          bool          `json:"is_active"`
	DeprecatedReason  string        `json:"deprecated_reason,omitempty"`
}

// NegativeKnowledge is a learned-not-to-do entry with an expiry and severity.
type NegativeKnowledge struct {
	ID             string   `json:"id"`
	Hypothesis     string   `json:"hypothesis"`
	Conclusion     string   `json:"conclusion,omitempty"`
	Evidence       string   `json:"evidence,omitempty"`
	Domain         string   `json:"domain"`
	Severity       Severity `json:"severity"`
	DiscoveredAt   int64    `json:"discovered_at"`
	ExpiresAt      int64    `json:"expires_at,omitempty"`
	BlocksPattern  string   `json:"blocks_pattern,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	Source         string   `json:"source,omitempty"`
	MemoryType     string   `json:"memory_type,omitempty"`
	MemorySubject  string   `json:"memory_subject,omitempty"`
	TTLDays        int      `json:"ttl_days,omitempty"`
	LastVerifiedAt int64    `json:"last_verified_at,omitempty"`
	IsActive       bool     `json:"is_active"`
}

// AntiPattern is a reusable detection rule mined from historical churn.
type AntiPattern struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Category         string   `json:"category,omitempty"`
	Severity         Severity `json:"severity"`
	ReposAffected    []string `json:"repos_affected,omitempty"`
	OccurrenceCount  int      `json:"occurrence_count,omitempty"`
	RemovalRate      float64  `json:"removal_rate"`
	AvgDaysToRemoval float64  `json:"avg_days_to_removal,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	RegexPattern     string   `json:"regex_pattern,omitempty"`
	ExampleBad       string   `json:"example_bad,omitempty"`
	ExampleGood      string   `json:"example_good,omitempty"`
	FirstSeen        int64    `json:"first_seen,omitempty"`
	Recommendation   string   `json:"recommendation,omitempty"`
}

// Engram is a snapshot of one agent session.
type Engram struct {
	ID                 string `json:"id"`
	SessionID          string `json:"session_id"`
	CommitSHA          string `json:"commit_sha,omitempty"`
	Branch             string `json:"branch,omitempty"`
	CreatedAt          int64  `json:"created_at"`
	AgentType          string `json:"agent_type,omitempty"`
	AgentModel         string `json:"agent_model,omitempty"`
	SessionDurationSec int64  `json:"session_duration_sec,omitempty"`
	TotalTokens        int64  `json:"total_tokens,omitempty"`
	DecisionsExtracted int    `json:"decisions_extracted,omitempty"`
	FilesChanged       int    `json:"files_changed,omitempty"`
}

// Skill is a generated, versioned procedure for one domain.
type Skill struct {
	ID                     string   `json:"id"` // sk-<domain>-v<n>
	Domain                 string   `json:"domain"`
	Name                   string   `json:"name"`
	Version                int      `json:"version"`
	SuccessRate            float64  `json:"success_rate"`
	Confidence             float64  `json:"confidence"`
	SampleSize             int      `json:"sample_size"`
	Procedure              string   `json:"procedure"`
	GreenZone              []string `json:"green_zone,omitempty"`
	YellowZone             []string `json:"yellow_zone,omitempty"`
	RedZone                []string `json:"red_zone,omitempty"`
	QualityScore           float64  `json:"quality_score"`
	GeneratedFromDecisions []string `json:"generated_from_decisions,omitempty"`
	CreatedAt              int64    `json:"created_at"`
	LastUpdated            int64    `json:"last_updated,omitempty"`
	NextReview             int64    `json:"next_review,omitempty"`
	TTLDays                int      `json:"ttl_days,omitempty"`
	IsActive               bool     `json:"is_active"`
}

// SessionContext is short-lived working memory keyed by session id.
type SessionContext struct {
	SessionID   string   `json:"session_id"`
	Task        string   `json:"task,omitempty"`
	Focus       string   `json:"focus,omitempty"`
	CurrentPlan string   `json:"current_plan,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
	DocShotID   string   `json:"doc_shot_id,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	ExpiresAt   int64    `json:"expires_at"`
	TTLDays     int      `json:"ttl_days,omitempty"`
	IsActive    bool     `json:"is_active"`
}

// DefaultTTLDays returns the retention default for a record kind when the
// caller does not supply ttl_days.
func DefaultTTLDays(kind string) int {
	switch kind {
	case "decision":
		return 365
	case "negative_knowledge":
		return 540
	case "session_context":
		return 7
	case "skill":
		return 720
	case "outcome":
		return 365
	}
	return 365
}

// ExpiresAtFor computes the soft-deletion deadline from an origin timestamp.
func ExpiresAtFor(createdAt time.Time, ttlDays int) int64 {
	return createdAt.Unix() + int64(ttlDays)*86400
}
