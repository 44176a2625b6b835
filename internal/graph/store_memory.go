package graph

import (
	"context"
	"fmt"

	"membria/internal/model"
	"membria/internal/sanitize"
)

// Typed memory lives on Decision and NegativeKnowledge nodes through the
// memory_type and memory_subject properties. Updates bump last_verified_at so
// TTL reasoning can prefer recently confirmed entries.

// MemoryPatch carries the mutable memory fields; nil pointers are left as-is.
type MemoryPatch struct {
	Statement  *string
	Confidence *float64
	Subject    *string
	TTLDays    *int
}

// UpdateDecisionMemory patches a decision's memory fields and bumps
// last_verified_at.
func (s *Store) UpdateDecisionMemory(ctx context.Context, id string, patch MemoryPatch) error {
	p := s.params()
	p["id"] = id
	p["now"] = s.now().Unix()

	set := "d.last_verified_at = $now"
	if patch.Statement != nil {
		p["statement"] = sanitize.Statement(*patch.Statement)
		set += ", d.statement = $statement"
	}
	if patch.Confidence != nil {
		p["confidence"] = *patch.Confidence
		set += ", d.confidence = $confidence"
	}
	if patch.Subject != nil {
		p["subject"] = sanitize.Generic(*patch.Subject)
		set += ", d.memory_subject = $subject"
	}
	if patch.TTLDays != nil {
		p["ttl_days"] = int64(*patch.TTLDays)
		set += ", d.ttl_days = $ttl_days"
	}

	rs, err := s.client.Query(ctx, `MATCH (d:Decision {id: $id}) WHERE `+nsFilter("d")+
		` SET `+set+` RETURN d.id AS id`, p)
	if err != nil {
		return err
	}
	if rs.Empty() {
		return fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateNegativeKnowledgeMemory patches an NK entry's memory fields and bumps
// last_verified_at.
func (s *Store) UpdateNegativeKnowledgeMemory(ctx context.Context, id string, hypothesis, recommendation *string, ttlDays *int) error {
	p := s.params()
	p["id"] = id
	p["now"] = s.now().Unix()

	set := "nk.last_verified_at = $now"
	if hypothesis != nil {
		p["hypothesis"] = sanitize.Statement(*hypothesis)
		set += ", nk.hypothesis = $hypothesis"
	}
	if recommendation != nil {
		p["recommendation"] = sanitize.Generic(*recommendation)
		set += ", nk.recommendation = $recommendation"
	}
	if ttlDays != nil {
		p["ttl_days"] = int64(*ttlDays)
		set += ", nk.ttl_days = $ttl_days"
	}

	rs, err := s.client.Query(ctx, `MATCH (nk:NegativeKnowledge {id: $id}) WHERE `+nsFilter("nk")+
		` SET `+set+` RETURN nk.id AS id`, p)
	if err != nil {
		return err
	}
	if rs.Empty() {
		return fmt.Errorf("negative knowledge %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeactivateMemory soft-deletes a memory-bearing node with a reason.
func (s *Store) DeactivateMemory(ctx context.Context, label, id, reason string) error {
	if label != model.LabelDecision && label != model.LabelNegativeKnowledge {
		return fmt.Errorf("%w: label %q does not hold memory", ErrSerializationFailed, label)
	}
	if reason == "" {
		reason = "manual_delete"
	}
	p := s.params()
	p["id"] = id
	p["reason"] = sanitize.Generic(reason)

	rs, err := s.client.Query(ctx, fmt.Sprintf(`MATCH (n:%s {id: $id}) WHERE %s
		SET n.is_active = false, n.deprecated_reason = $reason RETURN n.id AS id`,
		label, nsFilter("n")), p)
	if err != nil {
		return err
	}
	if rs.Empty() {
		return fmt.Errorf("%s %s: %w", label, id, ErrNotFound)
	}
	return nil
}

// ListMemories returns live memory-bearing decisions filtered by type and
// subject ("" matches all), most recently verified first.
func (s *Store) ListMemories(ctx context.Context, memoryType, subject string, limit int) ([]model.Decision, error) {
	if limit <= 0 {
		limit = 20
	}
	p := s.params()
	p["limit"] = int64(limit)

	query := `MATCH (d:Decision) WHERE ` + nsFilter("d") + ` AND ` + activeFilter("d")
	if memoryType != "" {
		p["memory_type"] = memoryType
		query += ` AND d.memory_type = $memory_type`
	}
	if subject != "" {
		p["subject"] = subject
		query += ` AND d.memory_subject = $subject`
	}
	query += ` RETURN ` + decisionColumns + ` ORDER BY d.last_verified_at DESC LIMIT $limit`

	rs, err := s.client.ROQuery(ctx, query, p)
	if err != nil {
		return nil, err
	}
	out := make([]model.Decision, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, decisionFromRecord(rec))
	}
	return out, nil
}
