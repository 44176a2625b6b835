package docs

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extracted is the markdown rendering of one HTML page.
type Extracted struct {
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
}

// ExtractMarkdown reduces an HTML page to compact markdown: headings keep
// their level, paragraphs and list items keep document order, code blocks
// come out fenced. Script, style, and page chrome are dropped.
func ExtractMarkdown(html string) (Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Extracted{}, err
	}
	doc.Find("script, style, nav, header, footer, aside, iframe, noscript, form").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	var b strings.Builder
	lastWasItem := false
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		// List items and quotes already carry their inner blocks.
		if name != "li" && s.ParentsFiltered("li, blockquote").Length() > 0 {
			return
		}
		var chunk string
		switch name {
		case "pre":
			if text := strings.Trim(s.Text(), "\n"); text != "" {
				chunk = "```\n" + text + "\n```\n\n"
			}
		case "li":
			// Nested lists render their own items.
			own := s.Clone()
			own.Find("ul, ol").Remove()
			if text := collapse(own.Text()); text != "" {
				chunk = "- " + text + "\n"
			}
		case "p":
			if text := collapse(s.Text()); text != "" {
				chunk = text + "\n\n"
			}
		case "blockquote":
			if text := collapse(s.Text()); text != "" {
				chunk = "> " + text + "\n\n"
			}
		default:
			if text := collapse(s.Text()); text != "" {
				level := int(name[1] - '0')
				chunk = strings.Repeat("#", level) + " " + text + "\n\n"
			}
		}
		if chunk == "" {
			return
		}
		if lastWasItem && name != "li" {
			b.WriteString("\n")
		}
		b.WriteString(chunk)
		lastWasItem = name == "li"
	})

	return Extracted{Title: title, Markdown: strings.TrimSpace(b.String())}, nil
}

// collapse squeezes whitespace runs so wrapped HTML source reads as one line.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
