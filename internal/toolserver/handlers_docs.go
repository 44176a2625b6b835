package toolserver

import (
	"context"
	"encoding/json"

	"membria/internal/docs"
	"membria/internal/model"
)

func (h *handlers) registerDocsTools(c *Catalog) error {
	return c.registerAll([]toolSpec{
		{
			name:        "docs_add",
			description: "Store a document so later decisions can pin the exact version they were made against.",
			input: obj(map[string]any{
				"content":   strNonEmpty("document body"),
				"title":     str("document title, derived from content when absent"),
				"doc_type":  str("document kind such as api, guide, adr or note"),
				"file_path": str("workspace path the document came from"),
				"tags":      stringArray("free-form tags"),
				"metadata":  stringMap("string key/value metadata"),
				"ttl_days":  ttlDaysArg(),
			}, "content"),
			output:  documentResult(),
			handler: h.docsAdd,
		},
		{
			name:        "docs_get",
			description: "Load a stored document by id, including its content.",
			input: obj(map[string]any{
				"doc_id": strNonEmpty("document id"),
			}, "doc_id"),
			output:  documentResult(),
			handler: h.docsGet,
		},
		{
			name:        "docs_list",
			description: "List live documents, newest first, without their bodies.",
			input: obj(map[string]any{
				"doc_type": str("filter by document kind"),
				"limit":    limitArg(),
			}),
			output: obj(map[string]any{
				"documents": array("", documentResult()),
				"count":     intAny(""),
			}, "documents", "count"),
			handler: h.docsList,
		},
		{
			name:        "fetch_docs",
			description: "Fetch a URL, convert it to markdown and store it as a document.",
			input: obj(map[string]any{
				"url":      strNonEmpty("http or https URL to fetch"),
				"doc_type": str("document kind, defaults to fetched"),
				"tags":     stringArray("free-form tags"),
			}, "url"),
			output:  documentResult(),
			handler: h.fetchDocs,
		},
		{
			name:        "docshot_link",
			description: "Pin a decision to the exact document versions it consulted.",
			input: obj(map[string]any{
				"decision_id": strNonEmpty("decision to pin"),
				"doc_shot_id": str("existing docshot to link"),
				"doc_ids":     stringArray("documents to pin into a new docshot"),
				"label":       str("label for a newly pinned docshot"),
			}, "decision_id"),
			output: obj(map[string]any{
				"decision_id": str(""),
				"doc_shot":    docShotResult(),
			}, "decision_id", "doc_shot"),
			handler: h.docshotLink,
		},
		{
			name:        "md_xtract",
			description: "Convert HTML to markdown, from a URL or inline content, without storing anything.",
			input: obj(map[string]any{
				"url":     str("page to fetch and convert"),
				"content": str("raw HTML to convert"),
			}),
			output: obj(map[string]any{
				"title":    str(""),
				"markdown": str(""),
			}, "title", "markdown"),
			handler: h.mdXtract,
		},
	})
}

func (h *handlers) docsAdd(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Content  string            `json:"content"`
		Title    string            `json:"title"`
		DocType  string            `json:"doc_type"`
		FilePath string            `json:"file_path"`
		Tags     []string          `json:"tags"`
		Metadata map[string]string `json:"metadata"`
		TTLDays  int               `json:"ttl_days"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	doc, err := h.deps.Docs.Add(ctx, docs.AddInput{
		Title:    args.Title,
		FilePath: args.FilePath,
		DocType:  args.DocType,
		Content:  args.Content,
		Metadata: args.Metadata,
		Tags:     args.Tags,
		TTLDays:  args.TTLDays,
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (h *handlers) docsGet(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		DocID string `json:"doc_id"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	doc, err := h.deps.Docs.Get(ctx, args.DocID)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (h *handlers) docsList(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		DocType string `json:"doc_type"`
		Limit   int    `json:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	list, err := h.deps.Docs.List(ctx, args.DocType, args.Limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.Document{}
	}
	return map[string]any{"documents": list, "count": len(list)}, nil
}

func (h *handlers) fetchDocs(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		URL     string   `json:"url"`
		DocType string   `json:"doc_type"`
		Tags    []string `json:"tags"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	doc, err := h.deps.Docs.FetchAndStore(ctx, args.URL, args.DocType, args.Tags)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (h *handlers) docshotLink(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		DecisionID string   `json:"decision_id"`
		DocShotID  string   `json:"doc_shot_id"`
		DocIDs     []string `json:"doc_ids"`
		Label      string   `json:"label"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	shotID := args.DocShotID
	if shotID == "" {
		if len(args.DocIDs) == 0 {
			return nil, invalidArgs("either doc_shot_id or doc_ids is required")
		}
		shot, err := h.deps.Docs.PinShot(ctx, args.DocIDs, args.Label)
		if err != nil {
			return nil, err
		}
		shotID = shot.ID
	}

	shot, err := h.deps.Docs.LinkDecision(ctx, args.DecisionID, shotID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"decision_id": args.DecisionID, "doc_shot": shot}, nil
}

func (h *handlers) mdXtract(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		URL     string `json:"url"`
		Content string `json:"content"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.URL == "" && args.Content == "" {
		return nil, invalidArgs("either url or content is required")
	}
	extracted, err := h.deps.Docs.Extract(ctx, args.URL, args.Content)
	if err != nil {
		return nil, err
	}
	return extracted, nil
}
