package scanner

import (
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"TenderScanner/internal/domain"
)

// Link is an outbound reference found on a listing page.
type Link struct {
	URL  string
	Text string
}

// Listing is what a strategy reads off one listing page: detail pages to
// visit and any records the page already carries inline.
type Listing struct {
	Links  []Link
	Inline []domain.CandidateRecord
}

// Page bundles a parsed document with the site it belongs to.
type Page struct {
	Site domain.SourceSite
	URL  *url.URL
	Doc  *goquery.Document
}

// Strategy captures one extraction approach (generic link-to-detail, inline tables, etc.).
type Strategy interface {
	Name() string
	Listing(page Page) Listing
	Detail(page Page) (domain.CandidateRecord, bool)
}

// Registry keeps a mapping from strategy tags to their implementations.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds a registry with the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: map[string]Strategy{}}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a strategy implementation.
func (r *Registry) Register(strategy Strategy) {
	if r.strategies == nil {
		r.strategies = map[string]Strategy{}
	}
	r.strategies[strategy.Name()] = strategy
}

// Resolve returns a strategy by tag or an error if it is absent.
func (r *Registry) Resolve(name string) (Strategy, error) {
	if strategy, ok := r.strategies[name]; ok {
		return strategy, nil
	}
	return nil, fmt.Errorf("extraction strategy %s is not registered", name)
}
