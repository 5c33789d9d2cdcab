package domain

// SourceSite describes one government site and its URL quirks.
type SourceSite struct {
	Code        string            `json:"code"`
	Name        string            `json:"name"`
	BaseURL     string            `json:"base_url"`
	ListingURLs []string          `json:"listing_urls"`
	Strategy    string            `json:"strategy"`
	Active      bool              `json:"active"`
	Options     map[string]string `json:"options,omitempty"`
}

// Option returns a strategy option or fallback when unset.
func (s SourceSite) Option(key, fallback string) string {
	if v, ok := s.Options[key]; ok && v != "" {
		return v
	}
	return fallback
}
