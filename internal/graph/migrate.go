package graph

import (
	"context"
	"strings"

	"membria/internal/model"
)

// Migration is one numbered schema step. Steps are idempotent: index
// creation against an already indexed attribute is tolerated.
type Migration struct {
	Version int
	Name    string
	Queries []string
}

func indexQuery(label, property string) string {
	return "CREATE INDEX FOR (n:" + label + ") ON (n." + property + ")"
}

// migrations is the ordered schema ledger. Append only; never renumber.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "entity id indexes",
		Queries: []string{
			indexQuery(model.LabelDecision, "id"),
			indexQuery(model.LabelCodeChange, "id"),
			indexQuery(model.LabelOutcome, "id"),
			indexQuery(model.LabelNegativeKnowledge, "id"),
			indexQuery(model.LabelAntiPattern, "id"),
			indexQuery(model.LabelEngram, "id"),
			indexQuery(model.LabelSkill, "id"),
			indexQuery(model.LabelDocument, "id"),
			indexQuery(model.LabelDocShot, "id"),
		},
	},
	{
		Version: 2,
		Name:    "lookup key indexes",
		Queries: []string{
			indexQuery(model.LabelSessionContext, "session_id"),
			indexQuery(model.LabelCodeChange, "commit_sha"),
			indexQuery(model.LabelOutcome, "decision_id"),
		},
	},
	{
		Version: 3,
		Name:    "domain filter indexes",
		Queries: []string{
			indexQuery(model.LabelDecision, "module"),
			indexQuery(model.LabelNegativeKnowledge, "domain"),
			indexQuery(model.LabelSkill, "domain"),
		},
	},
	{
		Version: 4,
		Name:    "orchestration indexes",
		Queries: []string{
			indexQuery(model.LabelRole, "id"),
			indexQuery(model.LabelProfile, "id"),
			indexQuery(model.LabelSquad, "id"),
			indexQuery(model.LabelAssignment, "id"),
			indexQuery(model.LabelWorkspace, "id"),
			indexQuery(model.LabelProject, "id"),
		},
	},
}

// MigrationStatus reports where the schema stands for this graph.
type MigrationStatus struct {
	Current int      `json:"current"`
	Latest  int      `json:"latest"`
	Applied []string `json:"applied,omitempty"`
	Pending []string `json:"pending,omitempty"`
}

// appliedVersion reads the highest recorded migration version.
func (s *Store) appliedVersion(ctx context.Context) (int, error) {
	rs, err := s.client.ROQuery(ctx, `MATCH (m:SchemaMigration) RETURN max(m.version) AS version`, nil)
	if err != nil {
		return 0, err
	}
	if rs.Empty() {
		return 0, nil
	}
	return int(rs.First().Int("version")), nil
}

// Migrate applies all pending schema steps in order and records each in the
// ledger. It is safe to call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	current, err := s.appliedVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		for _, q := range m.Queries {
			if _, err := s.client.Query(ctx, q, nil); err != nil {
				if isAlreadyIndexed(err) {
					continue
				}
				return err
			}
		}
		record := map[string]any{
			"version":    int64(m.Version),
			"name":       m.Name,
			"applied_at": s.now().Unix(),
		}
		if _, err := s.client.Query(ctx, `MERGE (m:SchemaMigration {version: $version})
			ON CREATE SET m.name = $name, m.applied_at = $applied_at`, record); err != nil {
			return err
		}
		s.logger.Info("applied schema migration %d (%s)", m.Version, m.Name)
	}
	return nil
}

// Status summarizes applied and pending migrations.
func (s *Store) Status(ctx context.Context) (MigrationStatus, error) {
	current, err := s.appliedVersion(ctx)
	if err != nil {
		return MigrationStatus{}, err
	}
	st := MigrationStatus{Current: current}
	for _, m := range migrations {
		st.Latest = m.Version
		if m.Version <= current {
			st.Applied = append(st.Applied, m.Name)
		} else {
			st.Pending = append(st.Pending, m.Name)
		}
	}
	return st, nil
}

// isAlreadyIndexed spots the engine's duplicate-index complaint.
func isAlreadyIndexed(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already indexed") || strings.Contains(msg, "index already exists")
}
