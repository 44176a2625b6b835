package model

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Document is a stored reference document (fetched page, extracted markdown,
// pasted snippet) addressable from decisions and sessions.
type Document struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	FilePath    string            `json:"file_path,omitempty"`
	SourceURL   string            `json:"source_url,omitempty"`
	DocType     string            `json:"doc_type,omitempty"`
	Content     string            `json:"content,omitempty"`
	ContentHash string            `json:"content_hash,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	TokenCount  int               `json:"token_count,omitempty"`
	FetchedAt   int64             `json:"fetched_at,omitempty"`
	UpdatedAt   int64             `json:"updated_at"`
	CreatedAt   int64             `json:"created_at"`
	TTLDays     int               `json:"ttl_days,omitempty"`
	IsActive    bool              `json:"is_active"`
}

// DocShot pins an immutable set of document versions so that later reads see
// exactly what the agent saw when it decided.
type DocShot struct {
	ID        string   `json:"id"`
	DocIDs    []string `json:"doc_ids"`
	CreatedAt int64    `json:"created_at"`
	Label     string   `json:"label,omitempty"`
}

// DocShotID derives the content-addressed id for a set of document versions.
// The id depends only on the set, not on the order the caller supplies it in.
func DocShotID(docs []Document) string {
	pairs := make([]string, 0, len(docs))
	for _, d := range docs {
		pairs = append(pairs, fmt.Sprintf("%s:%d", d.ID, d.UpdatedAt))
	}
	sort.Strings(pairs)
	sum := sha1.Sum([]byte(strings.Join(pairs, ",")))
	return "docshot_" + hex.EncodeToString(sum[:])[:16]
}

// HashContent fingerprints document markdown for change detection.
func HashContent(md string) string {
	sum := sha1.Sum([]byte(md))
	return hex.EncodeToString(sum[:])
}
