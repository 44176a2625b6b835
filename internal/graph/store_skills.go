package graph

import (
	"context"
	"fmt"

	"membria/internal/model"
	"membria/internal/sanitize"
)

const skillColumns = `sk.id AS id, sk.domain AS domain, sk.name AS name, sk.version AS version,
	sk.success_rate AS success_rate, sk.confidence AS confidence, sk.sample_size AS sample_size,
	sk.procedure AS procedure, sk.green_zone AS green_zone, sk.yellow_zone AS yellow_zone,
	sk.red_zone AS red_zone, sk.quality_score AS quality_score,
	sk.generated_from_decisions AS generated_from_decisions, sk.created_at AS created_at,
	sk.last_updated AS last_updated, sk.next_review AS next_review,
	sk.ttl_days AS ttl_days, sk.is_active AS is_active`

func skillFromRecord(rec Record) model.Skill {
	return model.Skill{
		ID:                     rec.String("id"),
		Domain:                 rec.String("domain"),
		Name:                   rec.String("name"),
		Version:                int(rec.Int("version")),
		SuccessRate:            rec.Float("success_rate"),
		Confidence:             rec.Float("confidence"),
		SampleSize:             int(rec.Int("sample_size")),
		Procedure:              rec.String("procedure"),
		GreenZone:              rec.StringSlice("green_zone"),
		YellowZone:             rec.StringSlice("yellow_zone"),
		RedZone:                rec.StringSlice("red_zone"),
		QualityScore:           rec.Float("quality_score"),
		GeneratedFromDecisions: rec.StringSlice("generated_from_decisions"),
		CreatedAt:              rec.Int("created_at"),
		LastUpdated:            rec.Int("last_updated"),
		NextReview:             rec.Int("next_review"),
		TTLDays:                int(rec.Int("ttl_days")),
		IsActive:               !rec.Has("is_active") || rec.Bool("is_active"),
	}
}

// AddSkill persists a generated procedure and links it to the decisions it was
// mined from.
func (s *Store) AddSkill(ctx context.Context, sk model.Skill) (model.Skill, error) {
	if sk.ID == "" {
		sk.ID = model.SkillID(sk.Domain, sk.Version)
	}
	now := s.now().Unix()
	if sk.CreatedAt == 0 {
		sk.CreatedAt = now
	}
	sk.LastUpdated = now
	if sk.TTLDays <= 0 {
		sk.TTLDays = model.DefaultTTLDays("skill")
	}
	sk.IsActive = true

	p := s.params()
	p["id"] = sk.ID
	p["domain"] = sanitize.Generic(sk.Domain)
	p["name"] = sanitize.Generic(sk.Name)
	p["version"] = int64(sk.Version)
	p["success_rate"] = sk.SuccessRate
	p["confidence"] = sk.Confidence
	p["sample_size"] = int64(sk.SampleSize)
	p["procedure"] = sanitize.Text(sk.Procedure, 0)
	p["green_zone"] = sanitize.StringSlice(sk.GreenZone, sanitize.MaxStatement)
	p["yellow_zone"] = sanitize.StringSlice(sk.YellowZone, sanitize.MaxStatement)
	p["red_zone"] = sanitize.StringSlice(sk.RedZone, sanitize.MaxStatement)
	p["quality_score"] = sk.QualityScore
	p["generated_from"] = append([]string{}, sk.GeneratedFromDecisions...)
	p["created_at"] = sk.CreatedAt
	p["last_updated"] = sk.LastUpdated
	p["next_review"] = sk.NextReview
	p["ttl_days"] = int64(sk.TTLDays)

	_, err := s.client.Query(ctx, `MERGE (sk:Skill {id: $id, `+nsProps+`})
		ON CREATE SET sk.created_at = $created_at
		SET sk.domain = $domain, sk.name = $name, sk.version = $version,
			sk.success_rate = $success_rate, sk.confidence = $confidence,
			sk.sample_size = $sample_size, sk.procedure = $procedure,
			sk.green_zone = $green_zone, sk.yellow_zone = $yellow_zone, sk.red_zone = $red_zone,
			sk.quality_score = $quality_score, sk.generated_from_decisions = $generated_from,
			sk.last_updated = $last_updated, sk.next_review = $next_review,
			sk.ttl_days = $ttl_days, sk.is_active = true`, p)
	if err != nil {
		return model.Skill{}, err
	}

	if len(sk.GeneratedFromDecisions) > 0 {
		link := s.params()
		link["id"] = sk.ID
		link["decision_ids"] = append([]string{}, sk.GeneratedFromDecisions...)
		if _, err := s.client.Query(ctx, `MATCH (sk:Skill {id: $id}), (d:Decision)
			WHERE `+nsFilter("sk")+` AND `+nsFilter("d")+` AND d.id IN $decision_ids
			MERGE (sk)-[:GENERATED_FROM]->(d)`, link); err != nil {
			s.logger.Warn("skill %s saved but provenance links failed: %v", sk.ID, err)
		}
	}
	return sk, nil
}

// LatestSkillVersion returns the highest version stored for a domain, 0 when
// none exists.
func (s *Store) LatestSkillVersion(ctx context.Context, domain string) (int, error) {
	p := s.params()
	p["domain"] = domain
	rs, err := s.client.ROQuery(ctx, `MATCH (sk:Skill {domain: $domain}) WHERE `+nsFilter("sk")+`
		RETURN max(sk.version) AS version`, p)
	if err != nil {
		return 0, err
	}
	if rs.Empty() {
		return 0, nil
	}
	return int(rs.First().Int("version")), nil
}

// GetSkill loads one skill by id.
func (s *Store) GetSkill(ctx context.Context, id string) (model.Skill, error) {
	p := s.params()
	p["id"] = id
	rs, err := s.client.ROQuery(ctx, `MATCH (sk:Skill {id: $id}) WHERE `+nsFilter("sk")+
		` RETURN `+skillColumns, p)
	if err != nil {
		return model.Skill{}, err
	}
	if rs.Empty() {
		return model.Skill{}, fmt.Errorf("skill %s: %w", id, ErrNotFound)
	}
	return skillFromRecord(rs.First()), nil
}

// ListSkills returns live skills, optionally filtered by domain, newest
// version first.
func (s *Store) ListSkills(ctx context.Context, domain string, limit int) ([]model.Skill, error) {
	if limit <= 0 {
		limit = 20
	}
	p := s.params()
	p["limit"] = int64(limit)
	query := `MATCH (sk:Skill) WHERE ` + nsFilter("sk") + ` AND ` + activeFilter("sk")
	if domain != "" {
		p["domain"] = domain
		query += ` AND sk.domain = $domain`
	}
	query += ` RETURN ` + skillColumns + ` ORDER BY sk.domain ASC, sk.version DESC LIMIT $limit`

	rs, err := s.client.ROQuery(ctx, query, p)
	if err != nil {
		return nil, err
	}
	out := make([]model.Skill, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, skillFromRecord(rec))
	}
	return out, nil
}

// SkillsForRole returns the live skills a role links to.
func (s *Store) SkillsForRole(ctx context.Context, roleID string, limit int) ([]model.Skill, error) {
	if limit <= 0 {
		limit = 10
	}
	p := s.params()
	p["role_id"] = roleID
	p["limit"] = int64(limit)
	rs, err := s.client.ROQuery(ctx, `MATCH (r:Role {id: $role_id})-[:ROLE_USES_SKILL]->(sk:Skill)
		WHERE `+nsFilter("r")+` AND `+activeFilter("sk")+`
		RETURN `+skillColumns+` ORDER BY sk.version DESC LIMIT $limit`, p)
	if err != nil {
		return nil, err
	}
	out := make([]model.Skill, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, skillFromRecord(rec))
	}
	return out, nil
}
