package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// renderMarkdown walks the HTML tree and emits a plain markdown rendition.
// It covers the structural elements readability keeps (headings, lists,
// links, emphasis, code, quotes); anything else renders as its text.
func renderMarkdown(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	var b strings.Builder
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body.Each(func(_ int, s *goquery.Selection) {
		for _, node := range s.Nodes {
			writeNode(&b, node)
		}
	})
	return tidyMarkdown(b.String())
}

func writeNode(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(collapseSpace(n.Data))
		return
	case html.ElementNode:
	default:
		return
	}

	switch n.Data {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(n.Data[1] - '0')
		b.WriteString("\n\n")
		b.WriteString(strings.Repeat("#", level))
		b.WriteString(" ")
		writeChildren(b, n)
		b.WriteString("\n\n")
	case "p", "div", "section", "article":
		b.WriteString("\n\n")
		writeChildren(b, n)
		b.WriteString("\n\n")
	case "br":
		b.WriteString("\n")
	case "hr":
		b.WriteString("\n\n---\n\n")
	case "strong", "b":
		b.WriteString("**")
		writeChildren(b, n)
		b.WriteString("**")
	case "em", "i":
		b.WriteString("*")
		writeChildren(b, n)
		b.WriteString("*")
	case "code":
		b.WriteString("`")
		writeChildren(b, n)
		b.WriteString("`")
	case "pre":
		b.WriteString("\n\n```\n")
		b.WriteString(strings.TrimSpace(nodeText(n)))
		b.WriteString("\n```\n\n")
	case "blockquote":
		inner := strings.TrimSpace(nodeText(n))
		b.WriteString("\n\n")
		for _, line := range strings.Split(inner, "\n") {
			b.WriteString("> ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	case "a":
		href := attr(n, "href")
		text := collapseSpace(nodeText(n))
		if href == "" || text == "" {
			writeChildren(b, n)
			return
		}
		fmt.Fprintf(b, "[%s](%s)", text, href)
	case "img":
		if src := attr(n, "src"); src != "" {
			fmt.Fprintf(b, "![%s](%s)", attr(n, "alt"), src)
		}
	case "ul", "ol":
		b.WriteString("\n\n")
		writeList(b, n, n.Data == "ol")
		b.WriteString("\n")
	case "script", "style", "noscript":
		// skipped
	default:
		writeChildren(b, n)
	}
}

func writeList(b *strings.Builder, list *html.Node, ordered bool) {
	index := 1
	for c := list.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != "li" {
			continue
		}
		if ordered {
			fmt.Fprintf(b, "%d. ", index)
			index++
		} else {
			b.WriteString("- ")
		}
		var item strings.Builder
		writeChildren(&item, c)
		b.WriteString(strings.TrimSpace(item.String()))
		b.WriteString("\n")
	}
}

func writeChildren(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNode(b, c)
	}
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// tidyMarkdown collapses runs of blank lines left behind by nested block
// elements.
func tidyMarkdown(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := true
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
