package parser

import (
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"TenderScanner/internal/domain"
	"TenderScanner/internal/scanner"
	"TenderScanner/internal/textutil"
)

const defaultItemSelector = "table tr, li, article, .item, .card"

// InlineStrategy reads notices straight off listing pages that print every
// record as a table row or list item.
type InlineStrategy struct {
	fallback *DefaultStrategy
	location *time.Location
	logger   *slog.Logger
}

var _ scanner.Strategy = (*InlineStrategy)(nil)

// NewInlineStrategy builds the inline strategy; detail pages, if any are
// ever handed to it, go through the default extraction.
func NewInlineStrategy(loc *time.Location, log *slog.Logger) *InlineStrategy {
	if loc == nil {
		loc = time.UTC
	}
	return &InlineStrategy{
		fallback: NewDefaultStrategy(loc, log),
		location: loc,
		logger:   log,
	}
}

// Name identifies the strategy inside the registry.
func (s *InlineStrategy) Name() string {
	return "inline"
}

// Listing turns every keyword-bearing item block into a candidate.
func (s *InlineStrategy) Listing(page scanner.Page) scanner.Listing {
	selector := page.Site.Option(OptionItemSelector, defaultItemSelector)

	var out scanner.Listing
	page.Doc.Find(selector).Each(func(i int, item *goquery.Selection) {
		// Prefer the innermost block when items nest.
		if item.Find(selector).Length() > 0 {
			return
		}
		if goquery.NodeName(item) == "tr" && item.Find("td").Length() == 0 {
			return
		}

		itemLines := lines(item)
		if len(itemLines) == 0 {
			return
		}
		if !tenderLink.MatchString(textutil.Fold(strings.Join(itemLines, " "))) {
			return
		}

		c := extractFields(itemLines, s.location)
		if domain.IsNotInformed(c.Object) {
			c.Object = longestLine(itemLines)
			c.Raw[domain.RawObject] = c.Object
		}

		c.SourceCode = page.Site.Code
		c.DetailURL = page.URL.String()
		c.Documents = documents(item, page.URL)
		if href, ok := item.Find("a[href]").First().Attr("href"); ok {
			if link := resolve(page.URL, href); link != "" && !isDocument(link) {
				c.DetailURL = link
			}
		}
		out.Inline = append(out.Inline, c)
	})

	if s.logger != nil {
		s.logger.Debug("inline listing parsed", "site", page.Site.Code, "items", len(out.Inline))
	}
	return out
}

// Detail delegates to the generic detail extraction.
func (s *InlineStrategy) Detail(page scanner.Page) (domain.CandidateRecord, bool) {
	return s.fallback.Detail(page)
}

func longestLine(ls []string) string {
	best := ""
	for _, l := range ls {
		if len([]rune(l)) > len([]rune(best)) {
			best = l
		}
	}
	return textutil.Truncate(best, maxObjectRunes)
}
