// Package sources holds the catalog of procurement sites to harvest.
package sources

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"TenderScanner/internal/config"
	"TenderScanner/internal/domain"
)

// ErrUnknownSource is returned when a caller selects a code the catalog does not know.
var ErrUnknownSource = errors.New("unknown source")

const defaultStrategy = "default"

// Registry is an immutable, ordered catalog of source sites.
type Registry struct {
	sites []domain.SourceSite
	index map[string]int
}

// NewRegistry builds the catalog from configuration, resolving listing URLs
// against each site's base URL.
func NewRegistry(cfg []config.SiteConfig) (*Registry, error) {
	r := &Registry{index: make(map[string]int, len(cfg))}

	for _, sc := range cfg {
		code := strings.TrimSpace(sc.Code)
		if code == "" {
			return nil, fmt.Errorf("site %q has no code", sc.Name)
		}
		if _, dup := r.index[code]; dup {
			return nil, fmt.Errorf("duplicate site code %s", code)
		}

		listings, err := resolveListings(sc.BaseURL, sc.ListingURLs)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", code, err)
		}

		strategy := strings.TrimSpace(sc.Strategy)
		if strategy == "" {
			strategy = defaultStrategy
		}

		r.index[code] = len(r.sites)
		r.sites = append(r.sites, domain.SourceSite{
			Code:        code,
			Name:        sc.Name,
			BaseURL:     sc.BaseURL,
			ListingURLs: listings,
			Strategy:    strategy,
			Active:      sc.IsActive(),
			Options:     sc.Options,
		})
	}

	return r, nil
}

// All returns every active site in catalog order.
func (r *Registry) All() []domain.SourceSite {
	out := make([]domain.SourceSite, 0, len(r.sites))
	for _, s := range r.sites {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

// Get looks a site up by code, active or not.
func (r *Registry) Get(code string) (domain.SourceSite, bool) {
	i, ok := r.index[code]
	if !ok {
		return domain.SourceSite{}, false
	}
	return r.sites[i], true
}

// Select resolves the requested codes, keeping catalog order. No codes means
// all active sites. Explicitly requested inactive sites are honored.
func (r *Registry) Select(codes []string) ([]domain.SourceSite, error) {
	if len(codes) == 0 {
		return r.All(), nil
	}

	wanted := make(map[string]bool, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := r.index[c]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, c)
		}
		wanted[c] = true
	}

	out := make([]domain.SourceSite, 0, len(wanted))
	for _, s := range r.sites {
		if wanted[s.Code] {
			out = append(out, s)
		}
	}
	return out, nil
}

func resolveListings(base string, listings []string) ([]string, error) {
	if len(listings) == 0 {
		listings = []string{""}
	}

	var baseURL *url.URL
	if base != "" {
		parsed, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid base url %s: %w", base, err)
		}
		baseURL = parsed
	}

	out := make([]string, 0, len(listings))
	for _, l := range listings {
		ref, err := url.Parse(strings.TrimSpace(l))
		if err != nil {
			return nil, fmt.Errorf("invalid listing url %s: %w", l, err)
		}
		if baseURL != nil {
			ref = baseURL.ResolveReference(ref)
		}
		if !ref.IsAbs() {
			return nil, fmt.Errorf("listing url %q is not absolute and no base url is set", l)
		}
		out = append(out, ref.String())
	}
	return out, nil
}
