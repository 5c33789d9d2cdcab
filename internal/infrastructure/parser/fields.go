package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"TenderScanner/internal/domain"
	"TenderScanner/internal/textutil"
)

const maxObjectRunes = 2000

// matcher finds one field value in page lines; raw is the substring it came from.
type matcher interface {
	match(lines []string) (value, raw string, ok bool)
}

// inline matches "label: value" style text on a single line; group 1 is the value.
type inline struct {
	re     *regexp.Regexp
	accept func(line string, loc []int) bool
}

func (m inline) match(lines []string) (string, string, bool) {
	for _, line := range lines {
		for _, loc := range m.re.FindAllStringSubmatchIndex(line, -1) {
			if len(loc) < 4 || loc[2] < 0 {
				continue
			}
			if m.accept != nil && !m.accept(line, loc) {
				continue
			}
			return strings.TrimSpace(line[loc[2]:loc[3]]), line[loc[0]:loc[1]], true
		}
	}
	return "", "", false
}

// nextLine matches a bare label whose value sits on the following line
// (definition lists, stacked form layouts).
type nextLine struct {
	label *regexp.Regexp
}

func (m nextLine) match(lines []string) (string, string, bool) {
	for i := 0; i+1 < len(lines); i++ {
		if m.label.MatchString(lines[i]) {
			return strings.TrimSpace(lines[i+1]), lines[i] + "\n" + lines[i+1], true
		}
	}
	return "", "", false
}

// notDate rejects number matches that are really a piece of a dd/mm/yyyy date.
func notDate(line string, loc []int) bool {
	start, end := loc[2], loc[3]
	if start >= 1 && line[start-1] == '/' {
		return false
	}
	return end >= len(line) || line[end] != '/'
}

const modalityWords = `preg[aã]o\s+eletr[oô]nico|preg[aã]o\s+presencial|preg[aã]o|concorr[eê]ncia(?:\s+p[uú]blica|\s+eletr[oô]nica)?|tomada\s+de\s+pre[cç]os|carta\s+convite|convite|dispensa(?:\s+de\s+licita[cç][aã]o|\s+eletr[oô]nica)?|inexigibilidade|chamada\s+p[uú]blica|chamamento\s+p[uú]blico|leil[aã]o|credenciamento|concurso|rdc`

var (
	numberMatchers = []matcher{
		inline{re: regexp.MustCompile(`(?i)\b(?:edital|processo(?:\s+licitat[oó]rio|\s+administrativo)?|` + modalityWords + `|licita[cç][aã]o|aviso(?:\s+de\s+licita[cç][aã]o)?)\s*(?:n[º°o]\.?|n\.?\s*[º°]|n[uú]mero|nr\.?)?\s*[:\-–]?\s*(\d{1,6}\s*[/\-.]\s*\d{2,4})`), accept: notDate},
		inline{re: regexp.MustCompile(`(?i)(?:^|\s)(?:n[º°o]\.?|n[uú]mero|nr\.?)\s*[:\-–]?\s*(\d{1,6}\s*/\s*\d{2,4})`), accept: notDate},
		inline{re: regexp.MustCompile(`(?i)^\s*(?:n[uú]mero|c[oó]digo|refer[eê]ncia)\s*[:\-–]\s*([\w./\-]{1,30})`)},
		inline{re: regexp.MustCompile(`\b(\d{1,6}/(?:19|20)\d{2})\b`), accept: notDate},
	}

	objectMatchers = []matcher{
		inline{re: regexp.MustCompile(`(?i)^\s*(?:objeto(?:\s+da\s+licita[cç][aã]o|\s+resumido)?)\s*[:\-–]\s*(.{3,})$`)},
		inline{re: regexp.MustCompile(`(?i)^\s*(?:descri[cç][aã]o(?:\s+do\s+objeto)?|finalidade|assunto|resumo)\s*[:\-–]\s*(.{3,})$`)},
		nextLine{label: regexp.MustCompile(`(?i)^\s*(?:objeto|descri[cç][aã]o(?:\s+do\s+objeto)?|finalidade|assunto)\s*[:\-–]?\s*$`)},
		inline{re: regexp.MustCompile(`(?i)\bobjeto\s*[:\-–]\s*(.{10,})$`)},
	}

	modalityMatchers = []matcher{
		inline{re: regexp.MustCompile(`(?i)^\s*modalidade\s*[:\-–]\s*(.+)$`)},
		nextLine{label: regexp.MustCompile(`(?i)^\s*modalidade\s*:?\s*$`)},
		inline{re: regexp.MustCompile(`(?i)\b(` + modalityWords + `)\b`)},
	}

	publicationMatchers = []matcher{
		inline{re: regexp.MustCompile(`(?i)(?:data\s+(?:de\s+|da\s+)?publica[cç][aã]o|publicad[oa]\s+em|publica[cç][aã]o|divulga[cç][aã]o|postado\s+em)\s*[:\-–]?\s*(?:em\s+)?(\d{1,2}/\d{1,2}/\d{4})`)},
		inline{re: regexp.MustCompile(`(?i)(?:^|\s)data\s*[:\-–]\s*(\d{1,2}/\d{1,2}/\d{4})`)},
	}

	openingMatchers = []matcher{
		inline{re: regexp.MustCompile(`(?i)(?:data\s+(?:de\s+|da\s+)?abertura|abertura(?:\s+das\s+propostas|\s+da\s+sess[aã]o|\s+dos\s+envelopes)?|sess[aã]o\s+p[uú]blica|data\s+(?:da\s+)?sess[aã]o|data\s+(?:de\s+)?realiza[cç][aã]o|data\s+da\s+disputa)\s*[:\-–]?\s*(?:dia\s+|em\s+)?(\d{1,2}/\d{1,2}/\d{4}(?:\s*(?:[àa]s|-|,)?\s*\d{1,2}(?::|h)\d{2})?)`)},
	}

	anyDate = inline{re: regexp.MustCompile(`(?:^|\D)(\d{1,2}/\d{1,2}/\d{4})(?:\D|$)`)}

	valueMatchers = []matcher{
		inline{re: regexp.MustCompile(`(?i)valor\s*(?:total\s+|global\s+)?(?:estimado|global|m[aá]ximo|de\s+refer[eê]ncia|or[cç]ado|previsto|total)?(?:\s+da\s+contrata[cç][aã]o)?\s*[:\-–]?\s*(R\$\s*[\d.]+(?:,\d{1,2})?)`)},
		inline{re: regexp.MustCompile(`(R\$\s*\d{1,3}(?:\.\d{3})*(?:,\d{2})?)`)},
	}

	statusMatchers = []matcher{
		inline{re: regexp.MustCompile(`(?i)^\s*(?:situa[cç][aã]o|status|fase)\s*[:\-–]\s*(.+)$`)},
		nextLine{label: regexp.MustCompile(`(?i)^\s*(?:situa[cç][aã]o|status)\s*:?\s*$`)},
		inline{re: regexp.MustCompile(`(?i)\b(aberto|aberta|em\s+andamento|publicado|encerrad[oa]|suspens[oa]|revogad[oa]|anulad[oa]|homologad[oa]|adjudicad[oa]|desert[oa]|fracassad[oa]|cancelad[oa]|conclu[ií]d[oa])\b`)},
	}

	timeExpr = regexp.MustCompile(`(\d{1,2})(?::|h)(\d{2})`)
)

// canonicalModalities maps folded modality names to their display form.
var canonicalModalities = []struct {
	prefix string
	name   string
}{
	{"pregao eletronico", "Pregão Eletrônico"},
	{"pregao presencial", "Pregão Presencial"},
	{"pregao", "Pregão"},
	{"concorrencia eletronica", "Concorrência Eletrônica"},
	{"concorrencia", "Concorrência"},
	{"tomada de precos", "Tomada de Preços"},
	{"carta convite", "Convite"},
	{"convite", "Convite"},
	{"dispensa", "Dispensa"},
	{"inexigibilidade", "Inexigibilidade"},
	{"chamada publica", "Chamada Pública"},
	{"chamamento publico", "Chamada Pública"},
	{"leilao", "Leilão"},
	{"credenciamento", "Credenciamento"},
	{"concurso", "Concurso"},
	{"rdc", "RDC"},
}

// first runs matchers in order and returns the first hit.
func first(ms []matcher, lines []string) (string, string, bool) {
	for _, m := range ms {
		if v, raw, ok := m.match(lines); ok && v != "" {
			return v, raw, true
		}
	}
	return "", "", false
}

// extractFields applies the ordered pattern lists to page lines. Fields
// that match nothing keep the sentinel; every match lands in Raw.
func extractFields(lines []string, loc *time.Location) domain.CandidateRecord {
	c := domain.CandidateRecord{
		TenderNumber: domain.NotInformed,
		Object:       domain.NotInformed,
		Modality:     domain.NotInformed,
		Status:       domain.NotInformed,
		Raw:          map[string]string{},
	}

	if v, raw, ok := first(numberMatchers, lines); ok {
		c.TenderNumber = normalizeNumber(v)
		c.Raw[domain.RawTenderNumber] = raw
	}
	if v, raw, ok := first(objectMatchers, lines); ok {
		c.Object = textutil.Truncate(v, maxObjectRunes)
		c.Raw[domain.RawObject] = raw
	}
	if v, raw, ok := first(modalityMatchers, lines); ok {
		c.Modality = canonicalModality(v)
		c.Raw[domain.RawModality] = raw
	}
	if v, raw, ok := first(openingMatchers, lines); ok {
		if t, ok := parseDate(v, loc); ok {
			c.OpeningDate = &t
			c.Raw[domain.RawOpeningDate] = raw
		}
	}
	if v, raw, ok := first(publicationMatchers, lines); ok {
		if t, ok := parseDate(v, loc); ok {
			c.PublicationDate = &t
			c.Raw[domain.RawPublicationDate] = raw
		}
	} else if c.OpeningDate == nil {
		if v, raw, ok := anyDate.match(lines); ok {
			if t, ok := parseDate(v, loc); ok {
				c.PublicationDate = &t
				c.Raw[domain.RawPublicationDate] = raw
			}
		}
	}
	if v, raw, ok := first(valueMatchers, lines); ok {
		if f, ok := parseMoney(v); ok {
			c.EstimatedValue = &f
			c.Raw[domain.RawEstimatedValue] = raw
		}
	}
	if v, raw, ok := first(statusMatchers, lines); ok {
		c.Status = textutil.Truncate(v, 120)
		c.Raw[domain.RawStatus] = raw
	}

	return c
}

func normalizeNumber(v string) string {
	v = textutil.Squash(v)
	v = strings.ReplaceAll(v, " / ", "/")
	v = strings.ReplaceAll(v, " /", "/")
	return strings.ReplaceAll(v, "/ ", "/")
}

func canonicalModality(v string) string {
	folded := textutil.Fold(v)
	for _, m := range canonicalModalities {
		if strings.HasPrefix(folded, m.prefix) || strings.Contains(folded, " "+m.prefix) {
			return m.name
		}
	}
	return textutil.Truncate(textutil.Squash(v), 80)
}

// parseDate reads dd/mm/yyyy with an optional hh:mm or hhhmm suffix.
func parseDate(v string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	v = strings.TrimSpace(v)
	datePart := v
	if i := strings.IndexFunc(v, func(r rune) bool { return r == ' ' || r == ',' || r == '-' }); i > 0 {
		datePart = v[:i]
	}

	t, err := time.ParseInLocation("2/1/2006", datePart, loc)
	if err != nil {
		return time.Time{}, false
	}

	if m := timeExpr.FindStringSubmatch(v[len(datePart):]); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if h < 24 && mm < 60 {
			t = time.Date(t.Year(), t.Month(), t.Day(), h, mm, 0, 0, loc)
		}
	}
	return t, true
}

// parseMoney converts "R$ 1.234.567,89" into 1234567.89.
func parseMoney(v string) (float64, bool) {
	v = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "R$"))
	v = strings.ReplaceAll(v, ".", "")
	v = strings.ReplaceAll(v, ",", ".")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}
