package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"TenderScanner/internal/domain"
)

func TestKeyStableAcrossFormatting(t *testing.T) {
	a := domain.CandidateRecord{SourceCode: "sme", TenderNumber: "012/2024", Object: "Aquisição de merenda escolar"}
	b := domain.CandidateRecord{SourceCode: "SME", TenderNumber: "012 / 2024", Object: "aquisicao  de MERENDA escolar"}

	assert.Equal(t, Key(a), Key(b))
}

func TestKeyDiffersBySource(t *testing.T) {
	a := domain.CandidateRecord{SourceCode: "sme", TenderNumber: "1/2024", Object: "Reforma da escola"}
	b := a
	b.SourceCode = "seduc"

	assert.NotEqual(t, Key(a), Key(b))
}

func TestKeyFallbackForMissingNumber(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	other := day.AddDate(0, 0, 1)

	base := domain.CandidateRecord{
		SourceCode:      "sme",
		TenderNumber:    domain.NotInformed,
		Object:          "Aquisição de uniformes",
		PublicationDate: &day,
		DetailURL:       "https://example.gov/a",
	}
	same := base
	differentDay := base
	differentDay.PublicationDate = &other
	differentPage := base
	differentPage.DetailURL = "https://example.gov/b"

	assert.Equal(t, Key(base), Key(same))
	assert.NotEqual(t, Key(base), Key(differentDay))
	assert.NotEqual(t, Key(base), Key(differentPage))
	assert.Len(t, Key(base), 64)
}
