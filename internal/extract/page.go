// Package extract turns fetched HTML into analyzable text and page metadata.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Page is the readable form of an HTML document
type Page struct {
	Title    string
	Markdown string
	Metadata map[string]any
}

// Extractor converts HTML into a Page using per-site profiles
type Extractor struct {
	sites *Sites
}

// NewExtractor creates an extractor with the built-in site profiles
func NewExtractor() *Extractor {
	return &Extractor{sites: NewSites()}
}

// Extract parses HTML from sourceURL and returns its text and metadata
func (e *Extractor) Extract(htmlContent string, sourceURL string) (*Page, error) {
	root, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	host := ""
	if u, err := url.Parse(sourceURL); err == nil {
		host = u.Hostname()
	}
	site := e.sites.For(host)

	meta := metadata(doc, sourceURL)
	meta["extractor"] = site.Name

	drop := make([]string, 0, len(commonDrop)+len(site.Drop))
	drop = append(drop, commonDrop...)
	drop = append(drop, site.Drop...)
	for _, sel := range drop {
		doc.Find(sel).Remove()
	}

	content := doc.Find(site.Content).First()
	if content.Length() == 0 || strings.TrimSpace(content.Text()) == "" {
		content = doc.Find("body")
	}

	var w mdWriter
	for _, n := range content.Nodes {
		w.walk(n)
	}

	title, _ := meta["title"].(string)
	return &Page{
		Title:    title,
		Markdown: w.String(),
		Metadata: meta,
	}, nil
}

func metadata(doc *goquery.Document, sourceURL string) map[string]any {
	meta := map[string]any{"sourceURL": sourceURL}

	if title := strings.TrimSpace(doc.Find("head title").First().Text()); title != "" {
		meta["title"] = title
	}
	if lang, ok := doc.Find("html").Attr("lang"); ok && lang != "" {
		meta["language"] = lang
	}
	if href, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok && href != "" {
		meta["canonical"] = href
	}

	tags := map[string]string{
		"description":            "description",
		"og:title":               "ogTitle",
		"og:description":         "ogDescription",
		"og:site_name":           "siteName",
		"author":                 "author",
		"article:published_time": "publishedTime",
	}
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("name", s.AttrOr("property", ""))
		key, ok := tags[strings.ToLower(name)]
		if !ok {
			return
		}
		if v := strings.TrimSpace(s.AttrOr("content", "")); v != "" {
			meta[key] = v
		}
	})

	if _, ok := meta["title"]; !ok {
		if og, ok := meta["ogTitle"]; ok {
			meta["title"] = og
		}
	}
	return meta
}

// mdWriter renders a node tree as lightweight markdown: headings, paragraphs
// and list items separated by blank lines.
type mdWriter struct {
	out  strings.Builder
	line strings.Builder
}

func (w *mdWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.ElementNode:
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			w.walk(c)
		}
		return
	}

	switch n.Data {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		w.flush()
		w.line.WriteString(strings.Repeat("#", int(n.Data[1]-'0')) + " ")
		w.children(n)
		w.flush()
	case "p", "div", "section", "article", "blockquote", "table", "tr", "header":
		w.flush()
		w.children(n)
		w.flush()
	case "li":
		w.flush()
		w.line.WriteString("- ")
		w.children(n)
		w.flush()
	case "br":
		w.flush()
	case "td", "th":
		w.children(n)
		w.text(" ")
	default:
		w.children(n)
	}
}

func (w *mdWriter) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *mdWriter) text(s string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		if s != "" && w.line.Len() > 0 {
			w.line.WriteByte(' ')
		}
		return
	}
	cur := w.line.String()
	if len(cur) > 0 && !strings.HasSuffix(cur, " ") && startsWithSpace(s) {
		w.line.WriteByte(' ')
	}
	w.line.WriteString(strings.Join(fields, " "))
	if endsWithSpace(s) {
		w.line.WriteByte(' ')
	}
}

func (w *mdWriter) flush() {
	line := strings.TrimSpace(w.line.String())
	w.line.Reset()
	if line == "" || line == "-" || strings.Trim(line, "# ") == "" {
		return
	}
	if w.out.Len() > 0 {
		w.out.WriteString("\n\n")
	}
	w.out.WriteString(line)
}

func (w *mdWriter) String() string {
	w.flush()
	return w.out.String()
}

func startsWithSpace(s string) bool {
	return s != "" && strings.ContainsRune(" \t\n\r", rune(s[0]))
}

func endsWithSpace(s string) bool {
	return s != "" && strings.ContainsRune(" \t\n\r", rune(s[len(s)-1]))
}
