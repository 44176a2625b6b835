package toolserver

// Schema vocabulary helpers. Tool contracts are declared as plain JSON
// documents built from these; every object is closed with
// additionalProperties false so unknown argument names fail fast instead of
// being silently dropped.

// Shared numeric bounds applied across the catalogue.
const (
	minContextTokens = 256
	maxContextTokens = 8000
	maxListLimit     = 200
	maxTTLDays       = 3650
	maxLogLines      = 500
)

func obj(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// openObj admits arbitrary members, for free-form payloads such as metrics.
func openObj(desc string) map[string]any {
	return map[string]any{"type": "object", "description": desc}
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func strNonEmpty(desc string) map[string]any {
	return map[string]any{"type": "string", "minLength": 1, "description": desc}
}

func strEnum(desc string, values ...string) map[string]any {
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return map[string]any{"type": "string", "enum": enum, "description": desc}
}

func number(desc string, min, max float64) map[string]any {
	return map[string]any{"type": "number", "minimum": min, "maximum": max, "description": desc}
}

func numberAny(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func integer(desc string, min, max int) map[string]any {
	return map[string]any{"type": "integer", "minimum": min, "maximum": max, "description": desc}
}

func intAny(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func boolean(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func array(desc string, items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items, "description": desc}
}

func arrayNonEmpty(desc string, items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items, "minItems": 1, "description": desc}
}

func stringArray(desc string) map[string]any {
	return array(desc, map[string]any{"type": "string"})
}

func stringMap(desc string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"description":          desc,
		"additionalProperties": map[string]any{"type": "string"},
	}
}

// nullable widens a result fragment so a nil Go slice, which marshals as JSON
// null, still satisfies the contract.
func nullable(s map[string]any) map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = v
	}
	if t, ok := out["type"].(string); ok {
		out["type"] = []any{t, "null"}
	}
	return out
}

// Argument fragments shared by several tools.

func confidenceArg() map[string]any {
	return number("claimed confidence in [0,1]", 0, 1)
}

func maxTokensArg() map[string]any {
	return integer("token budget for the assembled payload", minContextTokens, maxContextTokens)
}

func limitArg() map[string]any {
	return integer("maximum records to return", 1, maxListLimit)
}

func ttlDaysArg() map[string]any {
	return integer("retention in days before the TTL sweep deactivates the record", 1, maxTTLDays)
}

func severityArg() map[string]any {
	return strEnum("severity grade", "low", "medium", "high", "critical")
}

// Result fragments mirroring the persistent entities. Objects are closed so a
// drifting result shape surfaces as a server bug instead of passing silently.

func signalResult() map[string]any {
	return obj(map[string]any{
		"signal_type": str(""),
		"valence":     str(""),
		"timestamp":   intAny(""),
		"description": str(""),
		"severity":    str(""),
		"metrics":     openObj(""),
	}, "signal_type", "valence", "timestamp")
}

func outcomeResult() map[string]any {
	return obj(map[string]any{
		"id":                 str(""),
		"decision_id":        str(""),
		"status":             str(""),
		"evidence":           str(""),
		"measured_at":        intAny(""),
		"performance_impact": numberAny(""),
		"reliability":        numberAny(""),
		"maintenance_cost":   numberAny(""),
		"code_change_id":     str(""),
		"pr_number":          intAny(""),
		"pr_url":             str(""),
		"branch_ref":         str(""),
		"submitted_at":       intAny(""),
		"merged_at":          intAny(""),
		"completed_at":       intAny(""),
		"final_status":       str(""),
		"final_score":        numberAny(""),
		"lessons_learned":    str(""),
		"signals":            array("", signalResult()),
		"created_at":         intAny(""),
		"ttl_days":           intAny(""),
		"is_active":          boolean(""),
		"deprecated_reason":  str(""),
	}, "id", "decision_id", "status", "created_at", "is_active")
}

func decisionResult() map[string]any {
	return obj(map[string]any{
		"id":                  str(""),
		"statement":           str(""),
		"alternatives":        nullable(stringArray("")),
		"confidence":          numberAny(""),
		"module":              str(""),
		"created_at":          intAny(""),
		"created_by":          str(""),
		"outcome":             str(""),
		"resolved_at":         intAny(""),
		"actual_success_rate": numberAny(""),
		"engram_id":           str(""),
		"commit_sha":          str(""),
		"memory_type":         str(""),
		"memory_subject":      str(""),
		"ttl_days":            intAny(""),
		"last_verified_at":    intAny(""),
		"is_active":           boolean(""),
		"deprecated_reason":   str(""),
		"source":              str(""),
		"role_id":             str(""),
		"assignment_id":       str(""),
	}, "id", "statement", "alternatives", "confidence", "module", "created_at", "is_active")
}

func negativeKnowledgeResult() map[string]any {
	return obj(map[string]any{
		"id":               str(""),
		"hypothesis":       str(""),
		"conclusion":       str(""),
		"evidence":         str(""),
		"domain":           str(""),
		"severity":         str(""),
		"discovered_at":    intAny(""),
		"expires_at":       intAny(""),
		"blocks_pattern":   str(""),
		"recommendation":   str(""),
		"source":           str(""),
		"memory_type":      str(""),
		"memory_subject":   str(""),
		"ttl_days":         intAny(""),
		"last_verified_at": intAny(""),
		"is_active":        boolean(""),
	}, "id", "hypothesis", "domain", "severity", "discovered_at", "is_active")
}

func antiPatternResult() map[string]any {
	return obj(map[string]any{
		"id":                  str(""),
		"name":                str(""),
		"category":            str(""),
		"severity":            str(""),
		"repos_affected":      stringArray(""),
		"occurrence_count":    intAny(""),
		"removal_rate":        numberAny(""),
		"avg_days_to_removal": numberAny(""),
		"keywords":            stringArray(""),
		"regex_pattern":       str(""),
		"example_bad":         str(""),
		"example_good":        str(""),
		"first_seen":          intAny(""),
		"recommendation":      str(""),
	}, "id", "name", "severity", "removal_rate")
}

func skillResult() map[string]any {
	return obj(map[string]any{
		"id":                       str(""),
		"domain":                   str(""),
		"name":                     str(""),
		"version":                  intAny(""),
		"success_rate":             numberAny(""),
		"confidence":               numberAny(""),
		"sample_size":              intAny(""),
		"procedure":                str(""),
		"green_zone":               stringArray(""),
		"yellow_zone":              stringArray(""),
		"red_zone":                 stringArray(""),
		"quality_score":            numberAny(""),
		"generated_from_decisions": stringArray(""),
		"created_at":               intAny(""),
		"last_updated":             intAny(""),
		"next_review":              intAny(""),
		"ttl_days":                 intAny(""),
		"is_active":                boolean(""),
	}, "id", "domain", "name", "version", "success_rate", "confidence", "sample_size", "procedure", "quality_score", "created_at", "is_active")
}

func sessionContextResult() map[string]any {
	return obj(map[string]any{
		"session_id":   str(""),
		"task":         str(""),
		"focus":        str(""),
		"current_plan": str(""),
		"constraints":  stringArray(""),
		"doc_shot_id":  str(""),
		"created_at":   intAny(""),
		"expires_at":   intAny(""),
		"ttl_days":     intAny(""),
		"is_active":    boolean(""),
	}, "session_id", "created_at", "expires_at", "is_active")
}

func documentResult() map[string]any {
	return obj(map[string]any{
		"id":           str(""),
		"title":        str(""),
		"file_path":    str(""),
		"source_url":   str(""),
		"doc_type":     str(""),
		"content":      str(""),
		"content_hash": str(""),
		"metadata":     openObj(""),
		"tags":         stringArray(""),
		"token_count":  intAny(""),
		"fetched_at":   intAny(""),
		"updated_at":   intAny(""),
		"created_at":   intAny(""),
		"ttl_days":     intAny(""),
		"is_active":    boolean(""),
	}, "id", "title", "updated_at", "created_at", "is_active")
}

func docShotResult() map[string]any {
	return obj(map[string]any{
		"id":         str(""),
		"doc_ids":    nullable(stringArray("")),
		"label":      str(""),
		"created_at": intAny(""),
	}, "id", "doc_ids", "created_at")
}

func squadResult() map[string]any {
	return obj(map[string]any{
		"id":          str(""),
		"project_id":  str(""),
		"name":        str(""),
		"strategy":    str(""),
		"description": str(""),
		"created_at":  intAny(""),
		"is_active":   boolean(""),
	}, "id", "name", "strategy", "created_at", "is_active")
}

func assignmentResult() map[string]any {
	return obj(map[string]any{
		"id":           str(""),
		"squad_id":     str(""),
		"role_id":      str(""),
		"profile_id":   str(""),
		"order":        intAny(""),
		"task":         str(""),
		"status":       str(""),
		"assigned_at":  intAny(""),
		"completed_at": intAny(""),
		"result_note":  str(""),
	}, "id", "squad_id", "role_id", "status", "assigned_at")
}

func roleResult() map[string]any {
	return obj(map[string]any{
		"id":              str(""),
		"name":            str(""),
		"mission":         str(""),
		"prompt_path":     str(""),
		"prompt_fragment": str(""),
		"capabilities":    stringArray(""),
		"constraints":     stringArray(""),
		"created_at":      intAny(""),
		"updated_at":      intAny(""),
		"is_active":       boolean(""),
	}, "id", "name", "created_at", "is_active")
}

func sectionInfoResult() map[string]any {
	return obj(map[string]any{
		"name":   str(""),
		"tokens": intAny(""),
	}, "name", "tokens")
}

func contextResultProps() map[string]any {
	return map[string]any{
		"compact_context":   str(""),
		"total_tokens":      intAny(""),
		"truncated":         boolean(""),
		"sections_included": nullable(array("", sectionInfoResult())),
	}
}

func warningResult() map[string]any {
	return obj(map[string]any{
		"step_index": intAny(""),
		"step":       str(""),
		"source":     str(""),
		"severity":   str(""),
		"message":    str(""),
		"suggestion": str(""),
	}, "step_index", "source", "severity", "message")
}

func guidanceResult() map[string]any {
	return obj(map[string]any{
		"domain":               str(""),
		"mean_success_rate":    numberAny(""),
		"variance":             numberAny(""),
		"sample_size":          intAny(""),
		"trend":                str(""),
		"confidence_gap":       numberAny(""),
		"adjustment":           numberAny(""),
		"credible_interval_95": array("", numberAny("")),
		"recommendation":       str(""),
		"last_updated":         intAny(""),
	}, "domain", "mean_success_rate", "sample_size", "trend", "recommendation")
}

func approachCountResult() map[string]any {
	return obj(map[string]any{
		"statement":    str(""),
		"count":        intAny(""),
		"decision_ids": stringArray(""),
	}, "statement", "count")
}

func planStatsResult() map[string]any {
	return obj(map[string]any{
		"engram_id":  str(""),
		"session_id": str(""),
		"created_at": intAny(""),
		"decisions":  intAny(""),
		"successes":  intAny(""),
		"failures":   intAny(""),
	}, "engram_id", "decisions")
}

func calibrationNoteResult() map[string]any {
	return obj(map[string]any{
		"domain":            str(""),
		"mean_success_rate": numberAny(""),
		"sample_size":       intAny(""),
		"trend":             str(""),
		"confidence_gap":    numberAny(""),
		"note":              str(""),
	}, "domain", "mean_success_rate", "sample_size", "trend")
}

func planContextResult() map[string]any {
	return obj(map[string]any{
		"domain":              str(""),
		"scope":               str(""),
		"past_plans":          nullable(array("", planStatsResult())),
		"failed_approaches":   nullable(array("", approachCountResult())),
		"successful_patterns": nullable(array("", approachCountResult())),
		"calibration":         calibrationNoteResult(),
		"constraints":         stringArray(""),
		"recommendations":     nullable(stringArray("")),
		"generated_at":        intAny(""),
	}, "domain", "recommendations", "generated_at")
}
