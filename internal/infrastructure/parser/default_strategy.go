package parser

import (
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"TenderScanner/internal/domain"
	"TenderScanner/internal/scanner"
	"TenderScanner/internal/textutil"
)

// tenderLink matches accent-folded link text or paths that point at notices.
var tenderLink = regexp.MustCompile(`\b(edital|editais|licitac|licitaco|pregao|pregoes|aviso|avisos|contratac|concorrencia|tomada de preco|tomada-de-preco|dispensa|inexigibilidade|chamada publica|chamada-publica|chamamento|cotacao|processo licitatorio|carta convite|leilao|rdc)`)

// blockSelector finds the element that carries the context of an inline document link.
const blockSelector = "tr, li, article, p, dd, div"

// Strategy option keys.
const (
	OptionContentSelector = "contentSelector"
	OptionLinkSelector    = "linkSelector"
	OptionItemSelector    = "itemSelector"
	OptionAllowExternal   = "allowExternal"
)

// DefaultStrategy handles the common "listing page links to detail pages" layout.
type DefaultStrategy struct {
	location *time.Location
	logger   *slog.Logger
}

var _ scanner.Strategy = (*DefaultStrategy)(nil)

// NewDefaultStrategy builds the generic strategy; dates are read in loc.
func NewDefaultStrategy(loc *time.Location, log *slog.Logger) *DefaultStrategy {
	if loc == nil {
		loc = time.UTC
	}
	return &DefaultStrategy{location: loc, logger: log}
}

// Name identifies the strategy inside the registry.
func (d *DefaultStrategy) Name() string {
	return "default"
}

// Listing keeps every link whose text or path looks like a procurement
// notice. Links to attachments become inline candidates because there is no
// HTML detail page behind them.
func (d *DefaultStrategy) Listing(page scanner.Page) scanner.Listing {
	var (
		out  scanner.Listing
		seen = map[string]bool{}
	)

	allowExternal, _ := strconv.ParseBool(page.Site.Option(OptionAllowExternal, "false"))
	selector := page.Site.Option(OptionLinkSelector, "a[href]")

	page.Doc.Find(selector).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		link := resolve(page.URL, href)
		if link == "" || seen[link] || link == page.URL.String() {
			return
		}
		if !allowExternal && !sameSite(page, link) {
			return
		}

		text := textutil.Squash(a.Text())
		if title, ok := a.Attr("title"); ok && text == "" {
			text = textutil.Squash(title)
		}
		if !IsTenderLink(text, link) {
			return
		}
		seen[link] = true

		if isDocument(link) {
			out.Inline = append(out.Inline, d.documentCandidate(page, a, link, text))
			return
		}
		out.Links = append(out.Links, scanner.Link{URL: link, Text: text})
	})

	d.debug("listing parsed", "site", page.Site.Code, "links", len(out.Links), "inline", len(out.Inline))
	return out
}

// Detail extracts one candidate from a detail page. It reports false only
// when the page carries no text at all.
func (d *DefaultStrategy) Detail(page scanner.Page) (domain.CandidateRecord, bool) {
	root := contentRoot(page.Doc, page.Site.Option(OptionContentSelector, ""))
	pageLines := lines(root)
	if len(pageLines) == 0 {
		return domain.CandidateRecord{}, false
	}

	c := extractFields(pageLines, d.location)
	if domain.IsNotInformed(c.Object) {
		if excerpt := readabilityExcerpt(page.Doc, page.URL); excerpt != "" {
			c.Object = textutil.Truncate(excerpt, maxObjectRunes)
			c.Raw[RawObjectReadability] = excerpt
		}
	}

	c.SourceCode = page.Site.Code
	c.DetailURL = page.URL.String()
	c.Documents = documents(root, page.URL)
	return c, true
}

func (d *DefaultStrategy) documentCandidate(page scanner.Page, a *goquery.Selection, link, text string) domain.CandidateRecord {
	block := a.Closest(blockSelector)
	if block.Length() == 0 {
		block = a.Parent()
	}

	c := extractFields(lines(block), d.location)
	if domain.IsNotInformed(c.Object) && len([]rune(text)) >= 10 {
		c.Object = text
		c.Raw[domain.RawObject] = text
	}

	c.SourceCode = page.Site.Code
	c.DetailURL = link
	c.Documents = []string{link}
	return c
}

func (d *DefaultStrategy) debug(msg string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}

// IsTenderLink reports whether a link's text or path matches the tender keywords.
func IsTenderLink(text, link string) bool {
	if tenderLink.MatchString(textutil.Fold(text)) {
		return true
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	p, err := url.PathUnescape(u.Path)
	if err != nil {
		p = u.Path
	}
	p = strings.NewReplacer("_", " ", "/", " ", ".", " ").Replace(p)
	return tenderLink.MatchString(textutil.Fold(p + " " + u.RawQuery))
}

func sameSite(page scanner.Page, link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == strings.TrimPrefix(strings.ToLower(page.URL.Hostname()), "www.") {
		return true
	}
	if base, err := url.Parse(page.Site.BaseURL); err == nil {
		return host == strings.TrimPrefix(strings.ToLower(base.Hostname()), "www.")
	}
	return false
}
