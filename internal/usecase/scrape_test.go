package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TenderScanner/internal/domain"
	"TenderScanner/internal/infrastructure/parser"
	"TenderScanner/internal/infrastructure/storage"
	"TenderScanner/internal/logging"
	"TenderScanner/internal/scanner"
	"TenderScanner/internal/sessionlog"
	"TenderScanner/internal/validation"
)

const listingHTML = `<html><body>
<nav><a href="/">Início</a><a href="/contato">Fale conosco</a></nav>
<ul>
  <li><a href="/licitacoes/1">Pregão Eletrônico 1/2024</a></li>
  <li><a href="/licitacoes/2">Pregão Eletrônico 2/2024</a></li>
  <li><a href="/licitacoes/3">Edital de Concorrência 3/2024</a></li>
</ul>
</body></html>`

func detailHTML(n int, object string) string {
	return fmt.Sprintf(`<html><body><main>
<h1>Pregão Eletrônico nº %d/2024</h1>
<p>Objeto: %s</p>
<p>Data de publicação: 02/05/2024</p>
<p>Abertura: 20/05/2024 às 09h00</p>
</main></body></html>`, n, object)
}

func site(code, base string, listings ...string) domain.SourceSite {
	urls := make([]string, 0, len(listings))
	for _, l := range listings {
		urls = append(urls, base+l)
	}
	return domain.SourceSite{Code: code, Name: code, BaseURL: base, ListingURLs: urls, Strategy: "default", Active: true}
}

type harness struct {
	orchestrator *ScrapeOrchestrator
	repo         *storage.MemoryRepository
	sessions     *sessionlog.MemoryStore
	fetcher      *fakeFetcher
}

func newHarness(t *testing.T, sites []domain.SourceSite, pages map[string]string) *harness {
	t.Helper()

	log := logging.Discard()
	h := &harness{
		repo:     storage.NewMemoryRepository(),
		sessions: sessionlog.NewMemoryStore(time.Hour, log),
		fetcher:  &fakeFetcher{pages: pages},
	}
	strategies := scanner.NewRegistry(
		parser.NewDefaultStrategy(time.UTC, log),
		parser.NewInlineStrategy(time.UTC, log),
	)
	ref := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	h.orchestrator = NewScrapeOrchestrator(ScrapeDeps{
		Sources:    fakeCatalog{sites: sites},
		Strategies: strategies,
		Fetcher:    h.fetcher,
		Validator:  validation.NewWithClock(func() time.Time { return ref }),
		Repository: h.repo,
		Sessions:   h.sessions,
		Logger:     log,
	}, ScrapeConfig{MaxDetailPages: 50})
	return h
}

func schoolPages(base string) map[string]string {
	return map[string]string{
		base + "/licitacoes":   listingHTML,
		base + "/licitacoes/1": detailHTML(1, "Aquisição de merenda escolar para a rede municipal"),
		base + "/licitacoes/2": detailHTML(2, "Aquisição de uniformes escolares para alunos"),
		base + "/licitacoes/3": detailHTML(3, "Reforma da Escola Municipal Monteiro Lobato"),
	}
}

func TestScrapeEndToEndAndIdempotentRerun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := "https://educacao.exemplo.gov.br"
	h := newHarness(t, []domain.SourceSite{site("sme", base, "/licitacoes")}, schoolPages(base))

	id, err := h.sessions.Create(ctx, domain.SessionScrape)
	require.NoError(t, err)

	run, err := h.orchestrator.Run(ctx, id, nil, nil)
	require.NoError(t, err)
	require.Len(t, run.Results, 1)
	assert.True(t, run.Results[0].Success)
	assert.Equal(t, 3, run.ValidRecords)
	assert.Equal(t, 3, run.CreatedRecords)
	assert.Equal(t, 4, run.Results[0].URLsVisited)

	tenders, err := h.repo.All(ctx, 0)
	require.NoError(t, err)
	require.Len(t, tenders, 3)
	for _, tender := range tenders {
		assert.Equal(t, "sme", tender.SourceCode)
		assert.NotEqual(t, domain.NotInformed, tender.TenderNumber)
	}

	again, err := h.orchestrator.Run(ctx, id, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, again.ValidRecords)
	assert.Zero(t, again.CreatedRecords)

	n, err := h.repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entries, err := h.sessions.Entries(ctx, id, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, domain.LogPending, entries[0].Status)
	assert.Equal(t, domain.LogDone, entries[len(entries)-1].Status)
}

func TestScrapeContainsSourceFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := "https://a.gov.br"
	c := "https://c.gov.br"
	pages := schoolPages(a)
	for k, v := range schoolPages(c) {
		pages[k] = v
	}

	sites := []domain.SourceSite{
		site("a", a, "/licitacoes"),
		site("b", "https://b.gov.br", "/licitacoes"),
		site("c", c, "/licitacoes"),
		{Code: "d", Name: "d", BaseURL: "https://d.gov.br", ListingURLs: []string{"https://d.gov.br/x"}, Strategy: "unknown"},
	}
	h := newHarness(t, sites, pages)

	run, err := h.orchestrator.Run(ctx, "", nil, nil)
	require.NoError(t, err)

	require.Len(t, run.Results, 4)
	assert.Equal(t, 4, run.Attempted)
	assert.Equal(t, 2, run.Succeeded)
	assert.Equal(t, 2, run.Failed)

	codes := []string{}
	for _, r := range run.Results {
		codes = append(codes, r.Source)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, codes)
	assert.False(t, run.Results[1].Success)
	assert.NotEmpty(t, run.Results[1].Error)
	assert.False(t, run.Results[3].Success)
	assert.Equal(t, 6, run.CreatedRecords)
}

func TestScrapeSkipsBrokenDetailPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := "https://educacao.exemplo.gov.br"
	pages := schoolPages(base)
	delete(pages, base+"/licitacoes/2")

	h := newHarness(t, []domain.SourceSite{site("sme", base, "/licitacoes")}, pages)

	run, err := h.orchestrator.Run(ctx, "", nil, nil)
	require.NoError(t, err)
	assert.True(t, run.Results[0].Success)
	assert.Equal(t, 2, run.CreatedRecords)
}

func TestScrapeUnionsListingPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := "https://educacao.exemplo.gov.br"
	pages := schoolPages(base)
	pages[base+"/editais"] = listingHTML

	h := newHarness(t, []domain.SourceSite{site("sme", base, "/licitacoes", "/editais")}, pages)

	run, err := h.orchestrator.Run(ctx, "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, run.ValidRecords)
	assert.Equal(t, 5, run.Results[0].URLsVisited)
}

func TestScrapeHaltedRunStartsNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := "https://educacao.exemplo.gov.br"
	h := newHarness(t, []domain.SourceSite{site("sme", base, "/licitacoes"), site("pm", base, "/licitacoes")}, schoolPages(base))

	run, err := h.orchestrator.Run(ctx, "", nil, haltFlag(true))
	require.NoError(t, err)
	require.Len(t, run.Results, 2)
	assert.Equal(t, 2, run.Failed)
	assert.Equal(t, errRunStopped.Error(), run.Results[0].Error)
	assert.Empty(t, h.fetcher.calls)
}

func TestScrapePlanErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := "https://educacao.exemplo.gov.br"
	h := newHarness(t, []domain.SourceSite{site("sme", base, "/licitacoes")}, schoolPages(base))

	_, err := h.orchestrator.Run(ctx, "", []string{"nope"}, nil)
	assert.Error(t, err)

	h.orchestrator.repository = downRepo{h.repo}
	_, err = h.orchestrator.Run(ctx, "", nil, nil)
	assert.True(t, errors.Is(err, ErrRepositoryUnavailable))
	assert.Empty(t, h.fetcher.calls)
}

func TestScrapeInlineSource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := "https://www.exemplo.gov.br"
	inline := site("pm", base, "/transparencia/licitacoes")
	inline.Strategy = "inline"
	inline.Options = map[string]string{parser.OptionItemSelector: "table tr"}

	pages := map[string]string{
		base + "/transparencia/licitacoes": `<html><body><table>
<tr><th>Número</th><th>Objeto</th></tr>
<tr><td>Pregão 15/2024</td><td>Aquisição de gêneros alimentícios para merenda escolar</td></tr>
<tr><td>Dispensa 4/2024</td><td>Manutenção de ar condicionado da escola</td></tr>
</table></body></html>`,
	}
	h := newHarness(t, []domain.SourceSite{inline}, pages)

	run, err := h.orchestrator.Run(ctx, "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, run.CreatedRecords)
	assert.Equal(t, 1, run.Results[0].URLsVisited)
}
