package docs

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"membria/internal/httpclient"
	"membria/internal/logging"
)

const (
	// DefaultMaxFetchBytes caps how much of a remote document gets read.
	DefaultMaxFetchBytes = 2 << 20

	fetchTimeout = 30 * time.Second
	userAgent    = "membria-docs/1.0"
)

// Page is one fetched remote document, reduced to markdown when the source
// was HTML.
type Page struct {
	URL         string
	FinalURL    string
	Title       string
	Content     string
	ContentType string
	FetchedAt   time.Time
}

// Fetcher pulls remote docs over a breaker-guarded client. Local and private
// targets are refused unless the policy allows them.
type Fetcher struct {
	client   *http.Client
	policy   httpclient.URLPolicy
	maxBytes int64
	logger   logging.Logger
	now      func() time.Time
}

func NewFetcher(policy httpclient.URLPolicy, logger logging.Logger) *Fetcher {
	logger = logging.OrNop(logger)
	return &Fetcher{
		client:   httpclient.NewWithBreaker(fetchTimeout, "docs_fetch", logger),
		policy:   policy,
		maxBytes: DefaultMaxFetchBytes,
		logger:   logger,
		now:      time.Now,
	}
}

// Tune overrides the fetch timeout and the per-document byte cap. Zero
// values keep the defaults; call before the fetcher is shared.
func (f *Fetcher) Tune(timeout time.Duration, maxBytes int64) {
	if timeout > 0 {
		f.client.Timeout = timeout
	}
	if maxBytes > 0 {
		f.maxBytes = maxBytes
	}
}

// Fetch GETs the URL and extracts markdown from HTML responses. Non-HTML
// bodies come back as-is.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	parsed, err := httpclient.ValidateURL(rawURL, f.policy)
	if err != nil {
		return Page{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html, text/markdown;q=0.9, text/plain;q=0.8, */*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", parsed.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetch %s: unexpected status %d", parsed.Host, resp.StatusCode)
	}

	body, err := httpclient.ReadAllLimited(resp.Body, f.maxBytes)
	if err != nil {
		return Page{}, fmt.Errorf("read %s: %w", parsed.Host, err)
	}

	page := Page{
		URL:         parsed.String(),
		FinalURL:    resp.Request.URL.String(),
		ContentType: mediaType(resp.Header.Get("Content-Type")),
		FetchedAt:   f.now().UTC(),
	}
	if strings.Contains(page.ContentType, "html") {
		extracted, err := ExtractMarkdown(string(body))
		if err != nil {
			return Page{}, fmt.Errorf("extract %s: %w", parsed.Host, err)
		}
		page.Title = extracted.Title
		page.Content = extracted.Markdown
	} else {
		page.Content = strings.TrimSpace(string(body))
	}
	if page.Title == "" {
		page.Title = parsed.Host + parsed.Path
	}
	return page, nil
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return mt
}
