// Package docs manages stored documents and docshots: direct adds, remote
// fetches reduced to markdown, content-addressed snapshots, and the links
// that pin a decision to the document versions it consulted.
package docs

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"membria/internal/contextmgr"
	"membria/internal/logging"
	"membria/internal/model"
)

// GraphStore is the slice of the graph layer the docs service needs.
type GraphStore interface {
	AddDocument(ctx context.Context, d model.Document) (model.Document, error)
	GetDocument(ctx context.Context, id string) (model.Document, error)
	GetDocuments(ctx context.Context, ids []string) ([]model.Document, error)
	ListDocuments(ctx context.Context, docType string, limit int) ([]model.Document, error)
	CreateDocShot(ctx context.Context, docs []model.Document, label string) (model.DocShot, error)
	GetDocShot(ctx context.Context, id string) (model.DocShot, error)
	LinkDecisionDocs(ctx context.Context, decisionID string, shot model.DocShot, docs []model.Document) error
}

// Service backs the docs tools: store, fetch, pin, link.
type Service struct {
	graph   GraphStore
	fetcher *Fetcher
	logger  logging.Logger
}

func NewService(graph GraphStore, fetcher *Fetcher, logger logging.Logger) *Service {
	return &Service{graph: graph, fetcher: fetcher, logger: logging.OrNop(logger)}
}

// AddInput carries one document supplied directly by the caller.
type AddInput struct {
	Title    string
	FilePath string
	DocType  string
	Content  string
	Metadata map[string]string
	Tags     []string
	TTLDays  int
}

// Add stores a caller-supplied document. The token count uses the shared
// estimate so docshot sizing matches context-budget math.
func (s *Service) Add(ctx context.Context, in AddInput) (model.Document, error) {
	if strings.TrimSpace(in.Content) == "" {
		return model.Document{}, fmt.Errorf("document content is required")
	}
	doc := model.Document{
		Title:      in.Title,
		FilePath:   in.FilePath,
		DocType:    in.DocType,
		Content:    in.Content,
		Metadata:   in.Metadata,
		Tags:       in.Tags,
		TokenCount: contextmgr.EstimateTokens(in.Content),
		TTLDays:    in.TTLDays,
	}
	if doc.DocType == "" {
		doc.DocType = "note"
	}
	if doc.Title == "" {
		doc.Title = titleFrom(in.Content)
	}
	return s.graph.AddDocument(ctx, doc)
}

func (s *Service) Get(ctx context.Context, id string) (model.Document, error) {
	return s.graph.GetDocument(ctx, id)
}

func (s *Service) List(ctx context.Context, docType string, limit int) ([]model.Document, error) {
	return s.graph.ListDocuments(ctx, docType, limit)
}

// FetchAndStore pulls a remote page and stores the extraction. The request
// URL doubles as the file path so a re-fetch refreshes the same node.
func (s *Service) FetchAndStore(ctx context.Context, rawURL, docType string, tags []string) (model.Document, error) {
	if s.fetcher == nil {
		return model.Document{}, fmt.Errorf("docs fetcher is not configured")
	}
	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return model.Document{}, err
	}
	if page.Content == "" {
		return model.Document{}, fmt.Errorf("fetch %s: no extractable text", rawURL)
	}
	if docType == "" {
		docType = "web"
	}
	doc := model.Document{
		Title:      page.Title,
		FilePath:   page.URL,
		SourceURL:  page.FinalURL,
		DocType:    docType,
		Content:    page.Content,
		Tags:       tags,
		TokenCount: contextmgr.EstimateTokens(page.Content),
		FetchedAt:  page.FetchedAt.Unix(),
	}
	stored, err := s.graph.AddDocument(ctx, doc)
	if err != nil {
		return model.Document{}, err
	}
	s.logger.Info("fetched %s into %s (%d tokens)", rawURL, stored.ID, stored.TokenCount)
	return stored, nil
}

// Extract runs the markdown extractor over inline HTML, or over a fetched
// page when a URL is given instead.
func (s *Service) Extract(ctx context.Context, rawURL, content string) (Extracted, error) {
	switch {
	case strings.TrimSpace(content) != "":
		return ExtractMarkdown(content)
	case strings.TrimSpace(rawURL) != "":
		if s.fetcher == nil {
			return Extracted{}, fmt.Errorf("docs fetcher is not configured")
		}
		page, err := s.fetcher.Fetch(ctx, rawURL)
		if err != nil {
			return Extracted{}, err
		}
		return Extracted{Title: page.Title, Markdown: page.Content}, nil
	default:
		return Extracted{}, fmt.Errorf("either url or content is required")
	}
}

// PinShot snapshots the current versions of the given documents. Every id
// must resolve; a partial snapshot would silently change the content address.
func (s *Service) PinShot(ctx context.Context, docIDs []string, label string) (model.DocShot, error) {
	docIDs = dedupe(docIDs)
	if len(docIDs) == 0 {
		return model.DocShot{}, fmt.Errorf("docshot needs at least one document id")
	}
	found, err := s.graph.GetDocuments(ctx, docIDs)
	if err != nil {
		return model.DocShot{}, err
	}
	if missing := missingIDs(docIDs, found); len(missing) > 0 {
		return model.DocShot{}, fmt.Errorf("documents not found: %s", strings.Join(missing, ", "))
	}
	return s.graph.CreateDocShot(ctx, found, label)
}

// LinkDecision ties a decision to an existing docshot, pinning the document
// versions the shot recorded.
func (s *Service) LinkDecision(ctx context.Context, decisionID, shotID string) (model.DocShot, error) {
	shot, err := s.graph.GetDocShot(ctx, shotID)
	if err != nil {
		return model.DocShot{}, err
	}
	members, err := s.graph.GetDocuments(ctx, shot.DocIDs)
	if err != nil {
		return model.DocShot{}, err
	}
	if err := s.graph.LinkDecisionDocs(ctx, decisionID, shot, members); err != nil {
		return model.DocShot{}, err
	}
	return shot, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func missingIDs(want []string, got []model.Document) []string {
	have := make(map[string]bool, len(got))
	for _, d := range got {
		have[d.ID] = true
	}
	var missing []string
	for _, id := range want {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing
}

// titleFrom falls back to the first content line when the caller names none.
func titleFrom(content string) string {
	line := strings.TrimSpace(content)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(strings.TrimLeft(line, "# "))
	if len(line) > 80 {
		line = strings.TrimSpace(line[:80])
	}
	if line == "" {
		return "untitled"
	}
	return line
}
