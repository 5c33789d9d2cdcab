package parser

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"TenderScanner/internal/domain"
	"TenderScanner/internal/scanner"
)

func newPage(t *testing.T, site domain.SourceSite, rawURL, body string) scanner.Page {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	doc.Url = u
	return scanner.Page{Site: site, URL: u, Doc: doc}
}

var testSite = domain.SourceSite{
	Code:    "sme-teste",
	Name:    "Secretaria de Educação",
	BaseURL: "https://educacao.exemplo.gov.br",
	Active:  true,
}

func TestDefaultListingKeepsOnlyTenderLinks(t *testing.T) {
	t.Parallel()

	body := `<html><body>
	<nav><a href="/">Início</a><a href="/contato">Contato</a></nav>
	<ul>
	  <li><a href="/licitacoes/pregao-12-2024">Pregão Eletrônico 12/2024</a></li>
	  <li><a href="/processos/detalhe?id=2">Edital de Concorrência 3/2024</a></li>
	  <li><a href="https://educacao.exemplo.gov.br/avisos/5">Aviso de licitação</a></li>
	  <li><a href="/licitacoes/pregao-12-2024#anexos">Pregão Eletrônico 12/2024 (anexos)</a></li>
	  <li><a href="#topo">Licitações</a></li>
	  <li><a href="https://outro.gov.br/editais">Editais de outro órgão</a></li>
	</ul>
	</body></html>`

	page := newPage(t, testSite, "https://educacao.exemplo.gov.br/licitacoes", body)
	listing := NewDefaultStrategy(time.UTC, nil).Listing(page)

	if len(listing.Links) != 3 {
		t.Fatalf("expected 3 links, got %d: %+v", len(listing.Links), listing.Links)
	}
	want := []string{
		"https://educacao.exemplo.gov.br/licitacoes/pregao-12-2024",
		"https://educacao.exemplo.gov.br/processos/detalhe?id=2",
		"https://educacao.exemplo.gov.br/avisos/5",
	}
	for i, w := range want {
		if listing.Links[i].URL != w {
			t.Fatalf("link %d: expected %s, got %s", i, w, listing.Links[i].URL)
		}
	}
	if len(listing.Inline) != 0 {
		t.Fatalf("expected no inline records, got %d", len(listing.Inline))
	}
}

func TestDefaultListingTurnsDocumentLinksIntoCandidates(t *testing.T) {
	t.Parallel()

	body := `<html><body><table>
	  <tr><td>Pregão 7/2024 - Aquisição de uniformes escolares</td><td><a href="/files/edital-7.pdf">Baixar edital</a></td></tr>
	</table></body></html>`

	page := newPage(t, testSite, "https://educacao.exemplo.gov.br/licitacoes", body)
	listing := NewDefaultStrategy(time.UTC, nil).Listing(page)

	if len(listing.Links) != 0 {
		t.Fatalf("expected document link not to be followed, got %+v", listing.Links)
	}
	if len(listing.Inline) != 1 {
		t.Fatalf("expected 1 inline candidate, got %d", len(listing.Inline))
	}

	c := listing.Inline[0]
	pdf := "https://educacao.exemplo.gov.br/files/edital-7.pdf"
	if c.TenderNumber != "7/2024" {
		t.Fatalf("unexpected number: %q", c.TenderNumber)
	}
	if c.DetailURL != pdf {
		t.Fatalf("unexpected detail url: %s", c.DetailURL)
	}
	if len(c.Documents) != 1 || c.Documents[0] != pdf {
		t.Fatalf("unexpected documents: %v", c.Documents)
	}
	if c.SourceCode != testSite.Code {
		t.Fatalf("unexpected source: %s", c.SourceCode)
	}
}

func TestDefaultDetailExtractsNotice(t *testing.T) {
	t.Parallel()

	body := `<html><body>
	<nav><a href="/">Início</a> Edital 99/2020</nav>
	<main>
	  <h1>Edital nº 045/2024</h1>
	  <dl>
	    <dt>Objeto</dt>
	    <dd>Contratação de empresa para reforma da Escola Municipal Monteiro Lobato</dd>
	    <dt>Modalidade:</dt>
	    <dd>Tomada de Preços</dd>
	  </dl>
	  <p>Abertura das propostas: 10/04/2024 às 14:00</p>
	  <p><a href="/anexos/termo-de-referencia.pdf">Termo de referência</a></p>
	  <script>var edital = "000/1999";</script>
	</main>
	<footer>Prefeitura Municipal</footer>
	</body></html>`

	page := newPage(t, testSite, "https://educacao.exemplo.gov.br/licitacoes/45", body)
	c, ok := NewDefaultStrategy(time.UTC, nil).Detail(page)
	if !ok {
		t.Fatalf("expected a candidate")
	}

	if c.TenderNumber != "045/2024" {
		t.Fatalf("unexpected number: %q", c.TenderNumber)
	}
	if c.Object != "Contratação de empresa para reforma da Escola Municipal Monteiro Lobato" {
		t.Fatalf("unexpected object: %q", c.Object)
	}
	if c.Modality != "Tomada de Preços" {
		t.Fatalf("unexpected modality: %q", c.Modality)
	}
	if c.OpeningDate == nil || !c.OpeningDate.Equal(time.Date(2024, 4, 10, 14, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected opening date: %v", c.OpeningDate)
	}
	if c.DetailURL != "https://educacao.exemplo.gov.br/licitacoes/45" {
		t.Fatalf("unexpected detail url: %s", c.DetailURL)
	}
	if len(c.Documents) != 1 || c.Documents[0] != "https://educacao.exemplo.gov.br/anexos/termo-de-referencia.pdf" {
		t.Fatalf("unexpected documents: %v", c.Documents)
	}
}

func TestDefaultDetailEmptyPage(t *testing.T) {
	t.Parallel()

	page := newPage(t, testSite, "https://educacao.exemplo.gov.br/licitacoes/1", `<html><body><script>1</script></body></html>`)
	if _, ok := NewDefaultStrategy(time.UTC, nil).Detail(page); ok {
		t.Fatalf("expected no candidate for an empty page")
	}
}

func TestDefaultDetailFallsBackToReadability(t *testing.T) {
	t.Parallel()

	paragraph := strings.Repeat("A Secretaria Municipal de Educação torna público que realizará a aquisição de mobiliário escolar para as unidades da rede municipal de ensino, conforme condições descritas no termo de referência e nos anexos disponíveis. ", 4)
	body := `<html><head><title>Aquisição de mobiliário</title></head><body>
	<article><h1>Aquisição de mobiliário escolar</h1><p>` + paragraph + `</p><p>` + paragraph + `</p></article>
	</body></html>`

	page := newPage(t, testSite, "https://educacao.exemplo.gov.br/noticias/mobiliario", body)
	c, ok := NewDefaultStrategy(time.UTC, nil).Detail(page)
	if !ok {
		t.Fatalf("expected a candidate")
	}
	if c.Object == domain.NotInformed || c.Raw[RawObjectReadability] == "" {
		t.Fatalf("expected readability object, got %q (raw %v)", c.Object, c.Raw)
	}
}

func TestInlineListingReadsTableRows(t *testing.T) {
	t.Parallel()

	site := testSite
	site.Options = map[string]string{OptionItemSelector: "table tr"}

	body := `<html><body><table>
	  <tr><th>Número</th><th>Descrição</th><th>Abertura</th><th></th></tr>
	  <tr><td>Pregão 15/2024</td><td>Aquisição de gêneros alimentícios para merenda escolar</td><td>12/05/2024</td><td><a href="/docs/pe15.pdf">Edital</a></td></tr>
	  <tr><td>Concorrência 2/2024</td><td>Reforma da quadra poliesportiva</td><td>01/06/2024</td><td><a href="/licitacao/2">Detalhes</a></td></tr>
	  <tr><td>Ata de reunião</td><td>Conselho escolar</td><td>01/02/2024</td><td></td></tr>
	</table></body></html>`

	pageURL := "https://educacao.exemplo.gov.br/transparencia/licitacoes"
	page := newPage(t, site, pageURL, body)
	listing := NewInlineStrategy(time.UTC, nil).Listing(page)

	if len(listing.Links) != 0 {
		t.Fatalf("inline strategy must not return links, got %+v", listing.Links)
	}
	if len(listing.Inline) != 2 {
		t.Fatalf("expected 2 inline candidates, got %d", len(listing.Inline))
	}

	first := listing.Inline[0]
	if first.TenderNumber != "15/2024" {
		t.Fatalf("unexpected number: %q", first.TenderNumber)
	}
	if !strings.Contains(first.Object, "gêneros alimentícios") {
		t.Fatalf("unexpected object: %q", first.Object)
	}
	if first.Modality != "Pregão" {
		t.Fatalf("unexpected modality: %q", first.Modality)
	}
	if first.PublicationDate == nil || !first.PublicationDate.Equal(time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected publication date: %v", first.PublicationDate)
	}
	if first.DetailURL != pageURL {
		t.Fatalf("expected page url as detail url, got %s", first.DetailURL)
	}
	if len(first.Documents) != 1 || first.Documents[0] != "https://educacao.exemplo.gov.br/docs/pe15.pdf" {
		t.Fatalf("unexpected documents: %v", first.Documents)
	}

	second := listing.Inline[1]
	if second.DetailURL != "https://educacao.exemplo.gov.br/licitacao/2" {
		t.Fatalf("unexpected detail url: %s", second.DetailURL)
	}
	if second.Modality != "Concorrência" {
		t.Fatalf("unexpected modality: %q", second.Modality)
	}
}

func TestIsTenderLink(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text, link string
		want       bool
	}{
		{"Licitações abertas", "https://x.gov.br/a", true},
		{"Ver mais", "https://x.gov.br/pregao_eletronico/15", true},
		{"Contato", "https://x.gov.br/contato", false},
		{"Notícias", "https://x.gov.br/noticias?id=3", false},
	}
	for _, tc := range cases {
		if got := IsTenderLink(tc.text, tc.link); got != tc.want {
			t.Fatalf("IsTenderLink(%q, %q) = %v, want %v", tc.text, tc.link, got, tc.want)
		}
	}
}
