package model

import (
	"fmt"
	"strings"

	"github.com/segmentio/ksuid"
)

// Prefixed ids keep the entity kind readable in logs and graph dumps while
// staying k-sortable underneath.

func NewDecisionID() string   { return "dec_" + ksuid.New().String() }
func NewOutcomeID() string    { return "out_" + ksuid.New().String() }
func NewEngramID() string     { return "eng_" + ksuid.New().String() }
func NewSessionID() string    { return "sess_" + ksuid.New().String() }
func NewNegativeID() string   { return "nk_" + ksuid.New().String() }
func NewChangeID() string     { return "chg_" + ksuid.New().String() }
func NewDocumentID() string   { return "doc_" + ksuid.New().String() }
func NewRoleID() string       { return "role_" + ksuid.New().String() }
func NewProfileID() string    { return "prof_" + ksuid.New().String() }
func NewSquadID() string      { return "squad_" + ksuid.New().String() }
func NewAssignmentID() string { return "asg_" + ksuid.New().String() }
func NewPatternID() string    { return "ap_" + ksuid.New().String() }
func NewWorkspaceID() string  { return "ws_" + ksuid.New().String() }
func NewProjectID() string    { return "proj_" + ksuid.New().String() }

// SkillID builds the versioned skill identifier for a domain.
func SkillID(domain string, version int) string {
	return fmt.Sprintf("sk-%s-v%d", SlugDomain(domain), version)
}

// SlugDomain lowercases a domain and squeezes it into the id-safe alphabet.
func SlugDomain(domain string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(domain)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '_', r == '-', r == '/', r == '.':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	for strings.Contains(out, "--") {
		out = strings.ReplaceAll(out, "--", "-")
	}
	if out == "" {
		return "general"
	}
	return out
}

// IsDecisionID reports whether s carries the decision id prefix.
func IsDecisionID(s string) bool { return strings.HasPrefix(s, "dec_") && len(s) > 4 }
