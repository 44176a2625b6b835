package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"membria/internal/model"
	"membria/internal/sanitize"
)

const documentColumns = `doc.id AS id, doc.title AS title, doc.file_path AS file_path,
	doc.source_url AS source_url, doc.doc_type AS doc_type, doc.content AS content,
	doc.content_hash AS content_hash, doc.metadata_json AS metadata_json, doc.tags AS tags,
	doc.token_count AS token_count, doc.fetched_at AS fetched_at, doc.updated_at AS updated_at,
	doc.created_at AS created_at, doc.is_active AS is_active`

func documentFromRecord(rec Record) model.Document {
	d := model.Document{
		ID:          rec.String("id"),
		Title:       rec.String("title"),
		FilePath:    rec.String("file_path"),
		SourceURL:   rec.String("source_url"),
		DocType:     rec.String("doc_type"),
		Content:     rec.String("content"),
		ContentHash: rec.String("content_hash"),
		Tags:        rec.StringSlice("tags"),
		TokenCount:  int(rec.Int("token_count")),
		FetchedAt:   rec.Int("fetched_at"),
		UpdatedAt:   rec.Int("updated_at"),
		CreatedAt:   rec.Int("created_at"),
		IsActive:    !rec.Has("is_active") || rec.Bool("is_active"),
	}
	if raw := rec.String("metadata_json"); raw != "" {
		var md map[string]string
		if err := json.Unmarshal([]byte(raw), &md); err == nil {
			d.Metadata = md
		}
	}
	return d
}

// AddDocument stores or refreshes a document. Documents with a file path
// merge on it so re-fetches update in place; others merge on id.
func (s *Store) AddDocument(ctx context.Context, d model.Document) (model.Document, error) {
	if d.ID == "" {
		d.ID = model.NewDocumentID()
	}
	now := s.now().Unix()
	if d.CreatedAt == 0 {
		d.CreatedAt = now
	}
	if d.UpdatedAt == 0 {
		d.UpdatedAt = now
	}
	if d.ContentHash == "" && d.Content != "" {
		d.ContentHash = model.HashContent(d.Content)
	}
	d.IsActive = true

	metadataJSON := ""
	if len(d.Metadata) > 0 {
		raw, err := json.Marshal(d.Metadata)
		if err != nil {
			return model.Document{}, fmt.Errorf("%w: metadata: %v", ErrSerializationFailed, err)
		}
		metadataJSON = string(raw)
	}

	p := s.params()
	p["id"] = d.ID
	p["title"] = sanitize.Statement(d.Title)
	p["file_path"] = sanitize.FilePath(d.FilePath)
	p["source_url"] = sanitize.Generic(d.SourceURL)
	p["doc_type"] = sanitize.Generic(d.DocType)
	p["content"] = sanitize.Text(d.Content, 0)
	p["content_hash"] = d.ContentHash
	p["metadata_json"] = metadataJSON
	p["tags"] = sanitize.StringSlice(d.Tags, sanitize.MaxStatement)
	p["token_count"] = int64(d.TokenCount)
	p["fetched_at"] = d.FetchedAt
	p["updated_at"] = d.UpdatedAt
	p["created_at"] = d.CreatedAt

	mergeKey := `id: $id`
	if d.FilePath != "" {
		mergeKey = `file_path: $file_path`
	}
	_, err := s.client.Query(ctx, `MERGE (doc:Document {`+mergeKey+`, `+nsProps+`})
		ON CREATE SET doc.id = $id, doc.created_at = $created_at
		SET doc.title = $title, doc.file_path = $file_path, doc.source_url = $source_url,
			doc.doc_type = $doc_type, doc.content = $content, doc.content_hash = $content_hash,
			doc.metadata_json = $metadata_json, doc.tags = $tags, doc.token_count = $token_count,
			doc.fetched_at = $fetched_at, doc.updated_at = $updated_at, doc.is_active = true`, p)
	if err != nil {
		return model.Document{}, err
	}
	return d, nil
}

// GetDocument loads one document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (model.Document, error) {
	p := s.params()
	p["id"] = id
	rs, err := s.client.ROQuery(ctx, `MATCH (doc:Document {id: $id}) WHERE `+nsFilter("doc")+
		` RETURN `+documentColumns, p)
	if err != nil {
		return model.Document{}, err
	}
	if rs.Empty() {
		return model.Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return documentFromRecord(rs.First()), nil
}

// GetDocuments loads several documents by id, skipping ids that resolve to
// nothing.
func (s *Store) GetDocuments(ctx context.Context, ids []string) ([]model.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	p := s.params()
	p["ids"] = ids
	rs, err := s.client.ROQuery(ctx, `MATCH (doc:Document) WHERE `+nsFilter("doc")+
		` AND doc.id IN $ids RETURN `+documentColumns, p)
	if err != nil {
		return nil, err
	}
	out := make([]model.Document, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, documentFromRecord(rec))
	}
	return out, nil
}

// ListDocuments returns live documents, optionally filtered by doc type.
func (s *Store) ListDocuments(ctx context.Context, docType string, limit int) ([]model.Document, error) {
	if limit <= 0 {
		limit = 20
	}
	p := s.params()
	p["limit"] = int64(limit)
	query := `MATCH (doc:Document) WHERE ` + nsFilter("doc") + ` AND ` + activeFilter("doc")
	if docType != "" {
		p["doc_type"] = docType
		query += ` AND doc.doc_type = $doc_type`
	}
	query += ` RETURN ` + documentColumns + ` ORDER BY doc.updated_at DESC LIMIT $limit`

	rs, err := s.client.ROQuery(ctx, query, p)
	if err != nil {
		return nil, err
	}
	out := make([]model.Document, 0, len(rs.Records))
	for _, rec := range rs.Records {
		out = append(out, documentFromRecord(rec))
	}
	return out, nil
}

// CreateDocShot pins the current versions of the given documents under a
// content-addressed id. Creating the same set twice converges on one node.
func (s *Store) CreateDocShot(ctx context.Context, docs []model.Document, label string) (model.DocShot, error) {
	if len(docs) == 0 {
		return model.DocShot{}, fmt.Errorf("%w: docshot needs at least one document", ErrSerializationFailed)
	}
	shot := model.DocShot{
		ID:        model.DocShotID(docs),
		CreatedAt: s.now().Unix(),
		Label:     sanitize.Generic(label),
	}
	for _, d := range docs {
		shot.DocIDs = append(shot.DocIDs, d.ID)
	}

	p := s.params()
	p["id"] = shot.ID
	p["created_at"] = shot.CreatedAt
	p["label"] = shot.Label
	p["doc_ids"] = shot.DocIDs
	_, err := s.client.Query(ctx, `MERGE (ds:DocShot {id: $id, `+nsProps+`})
		ON CREATE SET ds.created_at = $created_at, ds.label = $label, ds.doc_ids = $doc_ids`, p)
	if err != nil {
		return model.DocShot{}, err
	}

	link := s.params()
	link["id"] = shot.ID
	link["doc_ids"] = shot.DocIDs
	if _, err := s.client.Query(ctx, `MATCH (ds:DocShot {id: $id}), (doc:Document)
		WHERE `+nsFilter("ds")+` AND `+nsFilter("doc")+` AND doc.id IN $doc_ids
		MERGE (ds)-[:INCLUDES]->(doc)`, link); err != nil {
		return model.DocShot{}, err
	}
	return shot, nil
}

// GetDocShot loads a pinned snapshot and its member ids.
func (s *Store) GetDocShot(ctx context.Context, id string) (model.DocShot, error) {
	p := s.params()
	p["id"] = id
	rs, err := s.client.ROQuery(ctx, `MATCH (ds:DocShot {id: $id}) WHERE `+nsFilter("ds")+`
		RETURN ds.id AS id, ds.created_at AS created_at, ds.label AS label, ds.doc_ids AS doc_ids`, p)
	if err != nil {
		return model.DocShot{}, err
	}
	if rs.Empty() {
		return model.DocShot{}, fmt.Errorf("docshot %s: %w", id, ErrNotFound)
	}
	rec := rs.First()
	return model.DocShot{
		ID:        rec.String("id"),
		CreatedAt: rec.Int("created_at"),
		Label:     rec.String("label"),
		DocIDs:    rec.StringSlice("doc_ids"),
	}, nil
}

// LinkDecisionDocs ties a decision to the docshot it consulted and to each
// member document, pinning the versions seen at decision time.
func (s *Store) LinkDecisionDocs(ctx context.Context, decisionID string, shot model.DocShot, docs []model.Document) error {
	p := s.params()
	p["decision_id"] = decisionID
	p["shot_id"] = shot.ID
	p["fetched_at"] = s.now().Unix()
	p["doc_count"] = int64(len(docs))

	rs, err := s.client.Query(ctx, `MATCH (d:Decision {id: $decision_id}), (ds:DocShot {id: $shot_id})
		WHERE `+nsFilter("d")+` AND `+nsFilter("ds")+`
		MERGE (d)-[r:USES_DOCSHOT]->(ds)
		SET r.fetched_at = $fetched_at, r.doc_count = $doc_count
		RETURN d.id AS id`, p)
	if err != nil {
		return err
	}
	if rs.Empty() {
		return fmt.Errorf("decision %s or docshot %s: %w", decisionID, shot.ID, ErrNotFound)
	}

	for _, doc := range docs {
		dl := s.params()
		dl["decision_id"] = decisionID
		dl["doc_id"] = doc.ID
		dl["shot_id"] = shot.ID
		dl["doc_updated_at"] = doc.UpdatedAt
		if _, err := s.client.Query(ctx, `MATCH (d:Decision {id: $decision_id}), (doc:Document {id: $doc_id})
			WHERE `+nsFilter("d")+` AND `+nsFilter("doc")+`
			MERGE (d)-[r:DOCUMENTS]->(doc)
			SET r.doc_shot_id = $shot_id, r.doc_updated_at = $doc_updated_at`, dl); err != nil {
			s.logger.Warn("decision %s docshot linked but document %s link failed: %v", decisionID, doc.ID, err)
		}
	}
	return nil
}
