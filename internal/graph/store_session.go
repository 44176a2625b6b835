package graph

import (
	"context"
	"fmt"

	"membria/internal/model"
	"membria/internal/sanitize"
)

const sessionColumns = `sc.session_id AS session_id, sc.task AS task, sc.focus AS focus,
	sc.current_plan AS current_plan, sc.constraints AS constraints,
	sc.doc_shot_id AS doc_shot_id, sc.created_at AS created_at, sc.expires_at AS expires_at,
	sc.ttl_days AS ttl_days, sc.is_active AS is_active`

func sessionFromRecord(rec Record) model.SessionContext {
	return model.SessionContext{
		SessionID:   rec.String("session_id"),
		Task:        rec.String("task"),
		Focus:       rec.String("focus"),
		CurrentPlan: rec.String("current_plan"),
		Constraints: rec.StringSlice("constraints"),
		DocShotID:   rec.String("doc_shot_id"),
		CreatedAt:   rec.Int("created_at"),
		ExpiresAt:   rec.Int("expires_at"),
		TTLDays:     int(rec.Int("ttl_days")),
		IsActive:    !rec.Has("is_active") || rec.Bool("is_active"),
	}
}

// UpsertSessionContext creates or refreshes the working memory for a session.
// session_id is the merge key; each upsert resets created_at and expires_at so
// an active session keeps its context alive.
func (s *Store) UpsertSessionContext(ctx context.Context, sc model.SessionContext) (model.SessionContext, error) {
	if sc.SessionID == "" {
		return model.SessionContext{}, fmt.Errorf("%w: session_id required", ErrSerializationFailed)
	}
	if sc.CreatedAt == 0 {
		sc.CreatedAt = s.now().Unix()
	}
	if sc.TTLDays <= 0 {
		sc.TTLDays = model.DefaultTTLDays("session_context")
	}
	sc.ExpiresAt = sc.CreatedAt + int64(sc.TTLDays)*86400
	sc.IsActive = true

	p := s.params()
	p["session_id"] = sanitize.Generic(sc.SessionID)
	p["task"] = sanitize.Generic(sc.Task)
	p["focus"] = sanitize.Generic(sc.Focus)
	p["current_plan"] = sanitize.Generic(sc.CurrentPlan)
	p["constraints"] = sanitize.StringSlice(sc.Constraints, sanitize.MaxStatement)
	p["doc_shot_id"] = sc.DocShotID
	p["created_at"] = sc.CreatedAt
	p["expires_at"] = sc.ExpiresAt
	p["ttl_days"] = int64(sc.TTLDays)

	_, err := s.client.Query(ctx, `MERGE (sc:SessionContext {session_id: $session_id, `+nsProps+`})
		SET sc.task = $task, sc.focus = $focus, sc.current_plan = $current_plan,
			sc.constraints = $constraints, sc.doc_shot_id = $doc_shot_id,
			sc.created_at = $created_at, sc.expires_at = $expires_at,
			sc.ttl_days = $ttl_days, sc.is_active = true, sc.deprecated_reason = ""`, p)
	if err != nil {
		return model.SessionContext{}, err
	}
	return sc, nil
}

// GetSessionContext loads the live working memory for one session.
func (s *Store) GetSessionContext(ctx context.Context, sessionID string) (model.SessionContext, error) {
	p := s.params()
	p["session_id"] = sessionID
	rs, err := s.client.ROQuery(ctx, `MATCH (sc:SessionContext {session_id: $session_id})
		WHERE `+nsFilter("sc")+` AND `+activeFilter("sc")+`
		RETURN `+sessionColumns+` LIMIT 1`, p)
	if err != nil {
		return model.SessionContext{}, err
	}
	if rs.Empty() {
		return model.SessionContext{}, fmt.Errorf("session context %s: %w", sessionID, ErrNotFound)
	}
	return sessionFromRecord(rs.First()), nil
}

// ListSessionContexts returns live session contexts, newest first.
func (s *Store) ListSessionContexts(ctx context.Context, limit int) ([]model.SessionContext, error) {
	if limit <= 0 {
		limit = 20
	}
	p := s.params()
	p["limit"] = int64(limit)
	rs, err := s.client.ROQuery(ctx, `MATCH (sc:SessionContext) WHERE `+nsFilter("sc")+
		` AND `+activeFilter("sc")+` RETURN `+sessionColumns+` ORDER BY sc.created_at DESC LIMIT $limit`, p)
	if err != nil {
		return nil, err
	}
	out := make([]model.SessionContext, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, sessionFromRecord(rec))
	}
	return out, nil
}

// DeactivateSessionContext retires one session's working memory.
func (s *Store) DeactivateSessionContext(ctx context.Context, sessionID, reason string) error {
	if reason == "" {
		reason = "session_closed"
	}
	p := s.params()
	p["session_id"] = sessionID
	p["reason"] = sanitize.Generic(reason)
	rs, err := s.client.Query(ctx, `MATCH (sc:SessionContext {session_id: $session_id})
		WHERE `+nsFilter("sc")+`
		SET sc.is_active = false, sc.deprecated_reason = $reason
		RETURN sc.session_id AS session_id`, p)
	if err != nil {
		return err
	}
	if rs.Empty() {
		return fmt.Errorf("session context %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// LinkEngramSessionContext ties a session snapshot to the working memory it
// ran under.
func (s *Store) LinkEngramSessionContext(ctx context.Context, engramID, sessionID string) error {
	p := s.params()
	p["engram_id"] = engramID
	p["session_id"] = sessionID
	rs, err := s.client.Query(ctx, `MATCH (e:Engram {id: $engram_id}), (sc:SessionContext {session_id: $session_id})
		WHERE `+nsFilter("e")+` AND `+nsFilter("sc")+`
		MERGE (e)-[:MADE_IN]->(sc)
		RETURN e.id AS id`, p)
	if err != nil {
		return err
	}
	if rs.Empty() {
		return fmt.Errorf("engram %s or session %s: %w", engramID, sessionID, ErrNotFound)
	}
	return nil
}
