package model

// Relationship types of the causal graph. Edge direction reads left to
// right: (CodeChange)-[:RESULTED_IN]->(Outcome).
const (
	RelMadeIn         = "MADE_IN"         // Decision   -> Engram      (confidence_given)
	RelImplementedIn  = "IMPLEMENTED_IN"  // Decision   -> CodeChange  (implemented_at)
	RelReworkedBy     = "REWORKED_BY"     // Decision   -> CodeChange  (days_to_revert, reason)
	RelResultedIn     = "RESULTED_IN"     // CodeChange -> Outcome     (days_to_outcome)
	RelCaused         = "CAUSED"          // Outcome    -> NegativeKnowledge
	RelPrevented      = "PREVENTED"       // NegativeKnowledge -> Decision (blocked_at)
	RelTriggered      = "TRIGGERED"       // CodeChange -> AntiPattern
	RelSimilarTo      = "SIMILAR_TO"      // Decision   -> Decision    (similarity_score)
	RelUsesDocShot    = "USES_DOCSHOT"    // Decision   -> DocShot     (fetched_at, doc_count)
	RelIncludes       = "INCLUDES"        // DocShot    -> Document
	RelDocuments      = "DOCUMENTS"       // Decision   -> Document    (doc_shot_id, doc_updated_at)
	RelAssigns        = "ASSIGNS"         // Squad      -> Assignment
	RelPlaysRole      = "PLAYS_ROLE"      // Assignment -> Role
	RelUsesProfile    = "USES_PROFILE"    // Assignment -> Profile
	RelRoleUsesShot   = "ROLE_USES_DOCSHOT"
	RelRoleUsesSkill  = "ROLE_USES_SKILL"
	RelRoleUsesNK     = "ROLE_USES_NK"
	RelGeneratedFrom  = "GENERATED_FROM" // Skill -> Decision
)

// Node labels.
const (
	LabelWorkspace         = "Workspace"
	LabelProject           = "Project"
	LabelDecision          = "Decision"
	LabelCodeChange        = "CodeChange"
	LabelOutcome           = "Outcome"
	LabelNegativeKnowledge = "NegativeKnowledge"
	LabelAntiPattern       = "AntiPattern"
	LabelEngram            = "Engram"
	LabelSkill             = "Skill"
	LabelDocument          = "Document"
	LabelDocShot           = "DocShot"
	LabelSessionContext    = "SessionContext"
	LabelRole              = "Role"
	LabelProfile           = "Profile"
	LabelSquad             = "Squad"
	LabelAssignment        = "Assignment"
)

// RoleLinkRel maps a link kind accepted by role_link to its edge type and
// the target label.
func RoleLinkRel(kind string) (rel, label string, ok bool) {
	switch kind {
	case "docshot":
		return RelRoleUsesShot, LabelDocShot, true
	case "skill":
		return RelRoleUsesSkill, LabelSkill, true
	case "negative_knowledge", "nk":
		return RelRoleUsesNK, LabelNegativeKnowledge, true
	}
	return "", "", false
}
