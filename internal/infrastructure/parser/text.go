package parser

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"TenderScanner/internal/textutil"
)

// noiseSelectors are stripped before reading page text.
const noiseSelectors = "script, style, noscript, iframe, nav, footer, aside, form, svg"

var blockTags = map[string]bool{
	"address": true, "article": true, "blockquote": true, "br": true, "dd": true,
	"div": true, "dl": true, "dt": true, "fieldset": true, "figcaption": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "ol": true, "p": true,
	"pre": true, "section": true, "table": true, "tbody": true, "thead": true,
	"tr": true, "ul": true,
}

// cellTags keep label and value of a table row on one line.
var cellTags = map[string]bool{"td": true, "th": true}

// documentExt matches links to attachments rather than pages.
var documentExt = regexp.MustCompile(`(?i)\.(pdf|docx?|odt|xlsx?|ods|zip|rar|7z)$`)

// lines flattens a selection into trimmed, non-empty text lines following
// the block structure of the markup.
func lines(sel *goquery.Selection) []string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		writeText(&b, n)
	}

	raw := strings.Split(b.String(), "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = textutil.Squash(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" || n.Data == "noscript" {
			return
		}
	}

	block := n.Type == html.ElementNode && blockTags[n.Data]
	cell := n.Type == html.ElementNode && cellTags[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	switch {
	case block:
		b.WriteByte('\n')
	case cell:
		b.WriteByte(' ')
	}
}

// contentRoot picks the main content container of a detail page, with the
// noise stripped from a clone so the original document stays intact.
func contentRoot(doc *goquery.Document, selector string) *goquery.Selection {
	candidates := []string{"main", "article", "#content", ".content", "#conteudo", ".conteudo", "#main"}
	if selector != "" {
		candidates = append([]string{selector}, candidates...)
	}

	root := doc.Find("body").First()
	for _, c := range candidates {
		sel := doc.Find(c).First()
		if sel.Length() > 0 && len(strings.TrimSpace(sel.Text())) >= 80 {
			root = sel
			break
		}
	}
	if root.Length() == 0 {
		root = doc.Selection
	}

	clone := root.Clone()
	clone.Find(noiseSelectors).Remove()
	return clone
}

// resolve turns an href into an absolute URL, or "" when it is not navigable.
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	ref.Fragment = ""
	return ref.String()
}

func isDocument(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return documentExt.MatchString(path.Base(u.Path))
}

// documents collects attachment links under sel, absolute and de-duplicated.
func documents(sel *goquery.Selection, base *url.URL) []string {
	var (
		out  []string
		seen = map[string]bool{}
	)
	sel.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		link := resolve(base, href)
		if link == "" || seen[link] {
			return
		}
		text := textutil.Fold(a.Text())
		if !isDocument(link) && !strings.Contains(text, "download") && !strings.Contains(text, "anexo") {
			return
		}
		seen[link] = true
		out = append(out, link)
	})
	return out
}
