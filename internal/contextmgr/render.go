package contextmgr

import (
	"fmt"
	"strings"

	"membria/internal/calibration"
	"membria/internal/graph"
	"membria/internal/model"
	"membria/internal/planner"
)

func renderCalibration(g calibration.Guidance) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Calibration (%s)\n", g.Domain)
	fmt.Fprintf(&b, "Observed success rate %.0f%% over %d outcomes (trend: %s).\n",
		g.MeanSuccessRate*100, g.SampleSize, g.Trend)
	fmt.Fprintf(&b, "Confidence gap %+.2f; suggested adjustment %+.2f.\n",
		g.ConfidenceGap, g.Adjustment)
	fmt.Fprintf(&b, "95%% credible interval [%.2f, %.2f].\n",
		g.CredibleInterval95[0], g.CredibleInterval95[1])
	b.WriteString(g.Recommendation)
	return b.String()
}

func renderNegativeKnowledge(entries []model.NegativeKnowledge) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Known Failure Modes")
	for _, nk := range entries {
		fmt.Fprintf(&b, "\n- [%s] %s", nk.Severity, nk.Hypothesis)
		if advice := nkAdvice(nk); advice != "" {
			fmt.Fprintf(&b, ": %s", advice)
		}
	}
	return b.String()
}

func nkAdvice(nk model.NegativeKnowledge) string {
	if nk.Recommendation != "" {
		return nk.Recommendation
	}
	return nk.Conclusion
}

func renderRoleSkills(skills []model.Skill) string {
	if len(skills) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Role Playbook")
	for _, sk := range skills {
		fmt.Fprintf(&b, "\n- %s (v%d): success %.0f%% over %d samples",
			sk.Name, sk.Version, sk.SuccessRate*100, sk.SampleSize)
		if len(sk.GreenZone) > 0 {
			fmt.Fprintf(&b, "; works: %s", sk.GreenZone[0])
		}
	}
	return b.String()
}

func renderSimilarDecisions(decisions []model.Decision, chains map[string][]graph.CausalChainRow) string {
	if len(decisions) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Similar Past Decisions")
	for _, d := range decisions {
		status := d.Outcome
		if status == "" {
			status = "pending"
		}
		fmt.Fprintf(&b, "\n- [%s] %s (confidence %.2f)", status, d.Statement, d.Confidence)
		for _, row := range chains[d.ID] {
			if row.CommitSHA == "" && row.OutcomeID == "" {
				continue
			}
			fmt.Fprintf(&b, "\n  commit %s, outcome %s", orDash(row.CommitSHA), orDash(row.Status))
		}
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func renderSession(sc model.SessionContext) string {
	var lines []string
	if sc.Task != "" {
		lines = append(lines, "Task: "+sc.Task)
	}
	if sc.Focus != "" {
		lines = append(lines, "Focus: "+sc.Focus)
	}
	if sc.CurrentPlan != "" {
		lines = append(lines, "Plan: "+sc.CurrentPlan)
	}
	if len(sc.Constraints) > 0 {
		lines = append(lines, "Constraints: "+strings.Join(sc.Constraints, "; "))
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Active Session\n" + strings.Join(lines, "\n")
}

func renderDocShot(shot model.DocShot) string {
	label := shot.Label
	if label == "" {
		label = "pinned docs"
	}
	return fmt.Sprintf("## Docs Snapshot\n%s (%s): %d documents", shot.ID, label, len(shot.DocIDs))
}

func renderPlanCalibration(n *planner.CalibrationNote) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Calibration Warning (%s)\n", n.Domain)
	fmt.Fprintf(&b, "Observed success rate %.0f%% over %d decisions (trend: %s). Confidence gap %+.2f.",
		n.MeanSuccessRate*100, n.SampleSize, n.Trend, n.ConfidenceGap)
	if n.Note != "" {
		b.WriteString("\n" + n.Note)
	}
	return b.String()
}

func renderApproaches(title string, items []planner.ApproachCount) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## " + title)
	for _, it := range items {
		fmt.Fprintf(&b, "\n- %s (x%d)", it.Statement, it.Count)
	}
	return b.String()
}

func renderList(title string, items []string) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## " + title)
	for _, it := range items {
		b.WriteString("\n- " + it)
	}
	return b.String()
}
