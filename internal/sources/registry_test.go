package sources

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TenderScanner/internal/config"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()

	inactive := false
	reg, err := NewRegistry([]config.SiteConfig{
		{Code: "a", Name: "A", BaseURL: "https://a.example.gov.br/portal/", ListingURLs: []string{"licitacoes", "/editais?ano=2024"}},
		{Code: "b", Name: "B", BaseURL: "https://b.example.gov.br", Strategy: "inline"},
		{Code: "c", Name: "C", BaseURL: "https://c.example.gov.br", Active: &inactive},
	})
	require.NoError(t, err)
	return reg
}

func TestRegistryResolvesListingURLs(t *testing.T) {
	reg := testRegistry(t)

	site, ok := reg.Get("a")
	require.True(t, ok)
	assert.Equal(t, []string{
		"https://a.example.gov.br/portal/licitacoes",
		"https://a.example.gov.br/editais?ano=2024",
	}, site.ListingURLs)
	assert.Equal(t, "default", site.Strategy)

	b, _ := reg.Get("b")
	assert.Equal(t, []string{"https://b.example.gov.br"}, b.ListingURLs)
}

func TestRegistrySelect(t *testing.T) {
	reg := testRegistry(t)

	all, err := reg.Select(nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Code)
	assert.Equal(t, "b", all[1].Code)

	picked, err := reg.Select([]string{"c", "a"})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "a", picked[0].Code, "catalog order is preserved")

	_, err = reg.Select([]string{"zzz"})
	assert.True(t, errors.Is(err, ErrUnknownSource))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]config.SiteConfig{
		{Code: "a", BaseURL: "https://a.example"},
		{Code: "a", BaseURL: "https://b.example"},
	})
	assert.Error(t, err)
}
