// Package extract turns raw page HTML into sanitized HTML, readable
// markdown, and the OG/meta fields stored on Content rows.
package extract

import (
	"fmt"
	"strings"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// Result carries everything the extraction pipeline persists for a page.
type Result struct {
	Title         string
	Markdown      string
	SanitizedHTML string
	Description   string
	Language      string
	OGTitle       string
	OGImage       string
}

// Extractor is the primary (local) readability path. It is stateless and
// safe for concurrent use.
type Extractor struct {
	sanitizer *bluemonday.Policy
}

// New builds an Extractor with a UGC sanitization policy.
func New() *Extractor {
	return &Extractor{sanitizer: bluemonday.UGCPolicy()}
}

// Extract parses the page, pulls the meta fields, sanitizes the HTML and
// renders the readable portion as markdown. An empty Markdown field means
// the page had no readable content; the caller decides whether to fall
// back to a secondary provider.
func (e *Extractor) Extract(rawHTML []byte) (Result, error) {
	trimmed := strings.TrimSpace(string(rawHTML))
	if trimmed == "" {
		return Result{}, fmt.Errorf("empty document")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}

	res := Result{
		Title:         pageTitle(doc),
		Description:   metaContent(doc, "meta[name='description']", "meta[property='og:description']"),
		Language:      pageLanguage(doc),
		OGTitle:       metaContent(doc, "meta[property='og:title']"),
		OGImage:       metaContent(doc, "meta[property='og:image']"),
		SanitizedHTML: e.sanitizer.Sanitize(trimmed),
	}

	res.Markdown = e.readableMarkdown(trimmed)
	return res, nil
}

// readableMarkdown runs readability over a cleaned copy of the document
// and renders the article body as markdown. It returns "" when nothing
// readable survives.
func (e *Extractor) readableMarkdown(rawHTML string) string {
	cleaned := rawHTML
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML)); err == nil {
		// Strip non-content elements before readability scores the tree.
		doc.Find("script, style, noscript, aside, nav, header, footer, iframe, form").Remove()
		if html, err := doc.Html(); err == nil && html != "" {
			cleaned = html
		}
	}

	article, err := readability.FromReader(strings.NewReader(cleaned), nil)
	if err != nil {
		return ""
	}

	var htmlBuf strings.Builder
	if err := article.RenderHTML(&htmlBuf); err != nil {
		return ""
	}
	md := renderMarkdown(htmlBuf.String())
	if strings.TrimSpace(md) != "" {
		return md
	}

	var textBuf strings.Builder
	if err := article.RenderText(&textBuf); err != nil {
		return ""
	}
	return strings.TrimSpace(textBuf.String())
}

func pageTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if og := metaContent(doc, "meta[property='og:title']"); og != "" {
		return og
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func pageLanguage(doc *goquery.Document) string {
	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		return strings.TrimSpace(lang)
	}
	return metaContent(doc, "meta[property='og:locale']")
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if c := strings.TrimSpace(content); c != "" {
				return c
			}
		}
	}
	return ""
}
