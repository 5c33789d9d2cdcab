package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"TenderScanner/internal/textutil"
)

// RawObjectReadability marks an object recovered by the readability pass.
const RawObjectReadability = "object_readability"

const maxExcerptRunes = 600

// readabilityExcerpt runs a readability pass over the whole page and returns
// its excerpt, or the opening of the main text when no excerpt is produced.
// Used only when no labelled object was found.
func readabilityExcerpt(doc *goquery.Document, pageURL *url.URL) string {
	documentHTML, err := doc.Html()
	if err != nil || strings.TrimSpace(documentHTML) == "" {
		return ""
	}

	article, err := readability.FromReader(strings.NewReader(documentHTML), pageURL)
	if err != nil {
		return ""
	}

	excerpt := textutil.Squash(article.Excerpt)
	if excerpt == "" {
		excerpt = textutil.Squash(article.TextContent)
	}
	return textutil.Truncate(excerpt, maxExcerptRunes)
}
